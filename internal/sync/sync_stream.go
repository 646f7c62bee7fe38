package sync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/openmined/twinsync/internal/utils"
)

// streamToFile writes r into a temp file under tmpDir and renames it onto
// dst once it is complete. If want is not negative the written size must
// match it. It returns the bytes written and their digest.
func streamToFile(r io.Reader, dst, tmpDir string, perm os.FileMode, want int64) (int64, string, error) {
	if tmpDir == "" {
		tmpDir = filepath.Dir(dst)
	}
	if err := utils.EnsureDir(tmpDir); err != nil {
		return 0, "", err
	}

	tmp, err := os.CreateTemp(tmpDir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return 0, "", err
	}

	ok := false
	defer func() {
		if !ok {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	h := utils.NewHasher()
	buf := make([]byte, utils.CopyBufferSize)
	n, err := io.CopyBuffer(io.MultiWriter(tmp, h), r, buf)
	if err != nil {
		return n, "", err
	}
	if want >= 0 && n != want {
		return n, "", fmt.Errorf("%w: wrote %d of %d bytes", ErrSizeMismatch, n, want)
	}
	if err := tmp.Sync(); err != nil {
		return n, "", err
	}
	if err := tmp.Close(); err != nil {
		return n, "", err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return n, "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return n, "", err
	}

	ok = true
	return n, utils.FormatHash(h), nil
}
