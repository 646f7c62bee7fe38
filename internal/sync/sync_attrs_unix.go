//go:build unix

package sync

import (
	"errors"
	"io/fs"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// applyAttributes copies the permission bits of src onto dst. Ownership is
// only carried over when running as root.
func applyAttributes(dst string, src fs.FileInfo) error {
	var errs []error
	if err := os.Chmod(dst, src.Mode().Perm()); err != nil {
		errs = append(errs, err)
	}

	if st, ok := src.Sys().(*syscall.Stat_t); ok && unix.Geteuid() == 0 {
		if err := unix.Lchown(dst, int(st.Uid), int(st.Gid)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
