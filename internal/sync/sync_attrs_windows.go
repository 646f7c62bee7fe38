//go:build windows

package sync

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/windows"
)

const carriedAttributes = windows.FILE_ATTRIBUTE_READONLY |
	windows.FILE_ATTRIBUTE_HIDDEN |
	windows.FILE_ATTRIBUTE_SYSTEM

// applyAttributes copies the readonly, hidden and system flags of src onto dst.
func applyAttributes(dst string, src fs.FileInfo) error {
	data, ok := src.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return nil
	}

	p, err := windows.UTF16PtrFromString(dst)
	if err != nil {
		return err
	}
	current, err := windows.GetFileAttributes(p)
	if err != nil {
		return err
	}

	want := current&^uint32(carriedAttributes) | data.FileAttributes&uint32(carriedAttributes)
	if want == current {
		return nil
	}
	return windows.SetFileAttributes(p, want)
}
