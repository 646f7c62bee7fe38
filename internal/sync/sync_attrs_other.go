//go:build !unix && !windows

package sync

import (
	"io/fs"
	"os"
)

func applyAttributes(dst string, src fs.FileInfo) error {
	return os.Chmod(dst, src.Mode().Perm())
}
