package runlog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/twinsync/internal/utils"
)

const (
	// DefaultKeep is how many run logs each side retains.
	DefaultKeep = 50

	fileTimeFormat = "20060102-150405"
	fileExt        = ".log"
)

// RunLog is the log of a single run, written to every given directory.
type RunLog struct {
	Paths  []string
	files  []*os.File
	logger *slog.Logger
}

// Open creates `<timestamp>_<runID>.log` in each directory and prunes all
// but the newest keep logs there.
func Open(runID string, startedAt time.Time, keep int, dirs ...string) (*RunLog, error) {
	name := fmt.Sprintf("%s_%s%s", startedAt.UTC().Format(fileTimeFormat), runID, fileExt)

	rl := &RunLog{}
	writers := make([]io.Writer, 0, len(dirs))
	for _, dir := range dirs {
		if err := utils.EnsureDir(dir); err != nil {
			rl.Close()
			return nil, fmt.Errorf("create log dir %s: %w", dir, err)
		}

		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			rl.Close()
			return nil, fmt.Errorf("open run log %s: %w", path, err)
		}
		rl.files = append(rl.files, f)
		rl.Paths = append(rl.Paths, path)
		writers = append(writers, f)

		if err := prune(dir, keep); err != nil {
			slog.Warn("prune run logs", "dir", dir, "error", err)
		}
	}

	rl.logger = slog.New(NewHandler(io.MultiWriter(writers...), slog.LevelDebug))
	return rl, nil
}

func (rl *RunLog) Logger() *slog.Logger {
	return rl.logger
}

func (rl *RunLog) Close() error {
	var errs []error
	for _, f := range rl.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rl.files = nil
	return errors.Join(errs...)
}

// Copy logs a completed copy, e.g. `COPY L->R docs/a.txt (1.2 kB)`.
func Copy(l *slog.Logger, direction, path string, size int64) {
	l.Info(fmt.Sprintf("COPY %s %s (%s)", direction, path, humanize.Bytes(uint64(size))))
}

// Delete logs a completed delete, e.g. `DELETE R old.txt (3 B) [trash]`.
func Delete(l *slog.Logger, side, path string, size int64, trashed bool) {
	msg := fmt.Sprintf("DELETE %s %s (%s)", side, path, humanize.Bytes(uint64(size)))
	if trashed {
		msg += " [trash]"
	}
	l.Info(msg)
}

func prune(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var logs []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), fileExt) {
			logs = append(logs, e.Name())
		}
	}
	if len(logs) <= keep {
		return nil
	}

	// names start with a sortable timestamp
	sort.Strings(logs)
	var errs []error
	for _, name := range logs[:len(logs)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
