package sidecar

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/openmined/twinsync/internal/utils"
)

const (
	// DirName is the hidden per-side directory. It is never synchronized.
	DirName = ".twinsync"

	// The state file name carries its layout version. An incompatible layout
	// gets a new name and starts fresh instead of migrating.
	stateFileName   = "state.v1.json"
	historyFileName = "history.db"
	lockFileName    = "twinsync.lock"
	backupDirName   = "backups"
	trashDirName    = "trash"
	logsDirName     = "logs"
	tmpDirName      = "tmp"
)

var ErrSessionLocked = errors.New("folder is locked by another sync session")

// Sidecar resolves the storage locations of one side of a pair.
type Sidecar struct {
	Root        string
	Dir         string
	StatePath   string
	HistoryPath string
	BackupDir   string
	TrashDir    string
	LogsDir     string
	TmpDir      string

	flock *flock.Flock
}

func Open(root string) (*Sidecar, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve path %s: %w", root, err)
	}

	dir := filepath.Join(root, DirName)
	return &Sidecar{
		Root:        root,
		Dir:         dir,
		StatePath:   filepath.Join(dir, stateFileName),
		HistoryPath: filepath.Join(dir, historyFileName),
		BackupDir:   filepath.Join(dir, backupDirName),
		TrashDir:    filepath.Join(dir, trashDirName),
		LogsDir:     filepath.Join(dir, logsDirName),
		TmpDir:      filepath.Join(dir, tmpDirName),
		flock:       flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// Setup creates the sidecar directories.
func (s *Sidecar) Setup() error {
	for _, dir := range []string{s.Dir, s.BackupDir, s.TrashDir, s.LogsDir, s.TmpDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Exists reports whether this side has been synchronized before.
func (s *Sidecar) Exists() bool {
	return utils.DirExists(s.Dir)
}

// Lock takes a non-blocking advisory lock so two sessions cannot work on the
// same folder at once.
func (s *Sidecar) Lock() error {
	if err := utils.EnsureDir(s.Dir); err != nil {
		return fmt.Errorf("create directory %s: %w", s.Dir, err)
	}

	locked, err := s.flock.TryLock()
	if err != nil {
		return fmt.Errorf("lock %s: %w", s.Root, err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrSessionLocked, s.Root)
	}
	return nil
}

func (s *Sidecar) Unlock() error {
	if !s.flock.Locked() {
		return nil
	}

	if err := s.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", s.Root, err)
	}
	if err := os.Remove(s.flock.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// AbsPath maps a forward-slash relative sync path into this side's tree.
func (s *Sidecar) AbsPath(relPath string) string {
	return filepath.Join(s.Root, filepath.FromSlash(relPath))
}

// IsSidecarPath reports whether a relative path points at or into the sidecar.
func IsSidecarPath(relPath string) bool {
	p := utils.NormalizeRelPath(relPath)
	first, _, _ := strings.Cut(p, "/")
	return strings.EqualFold(first, DirName)
}
