package sync

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/openmined/twinsync/internal/utils"
)

const stampLayout = "20060102T150405.000000000Z"

// stampedPath returns `<dir>/<relDir>/<name>.<stamp>`, adding a numeric
// suffix if that name is already taken.
func stampedPath(dir, relPath string, at time.Time) string {
	rel := utils.NormalizeRelPath(relPath)
	base := filepath.Join(dir, filepath.FromSlash(path.Dir(rel)), path.Base(rel)+"."+at.UTC().Format(stampLayout))

	candidate := base
	for n := 1; ; n++ {
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = fmt.Sprintf("%s.%d", base, n)
	}
}

// backupFile copies the current content of absPath into the backup tree and
// keeps only the newest versions.
func backupFile(backupDir, absPath, relPath string, versions int, at time.Time) (string, error) {
	dst := stampedPath(backupDir, relPath, at)
	if err := utils.EnsureParent(dst); err != nil {
		return "", err
	}

	src, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	if _, _, err := streamToFile(src, dst, "", info.Mode().Perm(), info.Size()); err != nil {
		return "", fmt.Errorf("backup %s: %w", relPath, err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		slog.Debug("backup chtimes", "path", dst, "error", err)
	}

	if err := rotateBackups(filepath.Dir(dst), path.Base(utils.NormalizeRelPath(relPath)), versions); err != nil {
		slog.Warn("rotate backups", "path", relPath, "error", err)
	}
	return dst, nil
}

// rotateBackups removes all but the newest keep backups of name in dir.
func rotateBackups(dir, name string, keep int) error {
	if keep <= 0 {
		return nil
	}

	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(name) + `\.(\d{8}T\d{6}\.\d{9}Z)(?:\.(\d+))?$`)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type version struct {
		name  string
		stamp string
		seq   int
	}
	var found []version
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := pattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v := version{name: e.Name(), stamp: m[1]}
		if m[2] != "" {
			fmt.Sscanf(m[2], "%d", &v.seq)
		}
		found = append(found, v)
	}
	if len(found) <= keep {
		return nil
	}

	// newest first
	sort.Slice(found, func(i, j int) bool {
		if found[i].stamp != found[j].stamp {
			return found[i].stamp > found[j].stamp
		}
		return found[i].seq > found[j].seq
	})

	var errs []error
	for _, v := range found[keep:] {
		if err := os.Remove(filepath.Join(dir, v.name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// moveToTrash moves absPath into the trash tree and returns its new location.
func moveToTrash(trashDir, absPath, relPath string, at time.Time) (string, error) {
	dst := stampedPath(trashDir, relPath, at)
	if err := utils.EnsureParent(dst); err != nil {
		return "", err
	}
	if err := os.Rename(absPath, dst); err != nil {
		return "", err
	}
	return dst, nil
}
