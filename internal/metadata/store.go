package metadata

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/twinsync/internal/utils"
)

// Store persists one side's SyncMetadata as a JSON state file.
type Store struct {
	path      string
	retention time.Duration
	now       func() time.Time
}

type StoreOption func(*Store)

// WithRetention sets how long deletion records survive. Defaults to 90 days.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) {
		s.retention = d
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{
		path:      path,
		retention: DefaultRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Path() string {
	return s.path
}

// Load returns empty metadata when no state file exists yet. A file that
// exists but cannot be decoded is reported as ErrCorrupt, never reset.
func (s *Store) Load() (*SyncMetadata, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	} else if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", s.path, err)
	}

	var sf stateFile
	if err := jsonUnmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if sf.Version != stateVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, s.path, sf.Version)
	}

	m, err := fromStateFile(sf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}

	if n := m.Prune(s.now(), s.retention); n > 0 {
		slog.Debug("metadata pruned expired deletions", "path", s.path, "count", n)
	}
	return m, nil
}

// Save replaces the state file atomically.
func (s *Store) Save(m *SyncMetadata) error {
	data, err := jsonMarshalIndent(m.toStateFile())
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("save metadata %s: %w", s.path, err)
	}
	return nil
}

// writeFileAtomic writes to a temp file next to path, fsyncs it and renames
// it into place so readers never see a partial file.
func writeFileAtomic(path string, data []byte) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	success = true
	return nil
}
