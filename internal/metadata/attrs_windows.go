//go:build windows

package metadata

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/windows"
)

// AttributesFromInfo captures the readonly, hidden and system flags.
func AttributesFromInfo(info fs.FileInfo) Attributes {
	data, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		readonly := info.Mode().Perm()&0o200 == 0
		return Attributes{WindowsReadonly: &readonly}
	}

	readonly := data.FileAttributes&windows.FILE_ATTRIBUTE_READONLY != 0
	hidden := data.FileAttributes&windows.FILE_ATTRIBUTE_HIDDEN != 0
	system := data.FileAttributes&windows.FILE_ATTRIBUTE_SYSTEM != 0
	return Attributes{
		WindowsReadonly: &readonly,
		WindowsHidden:   &hidden,
		WindowsSystem:   &system,
	}
}
