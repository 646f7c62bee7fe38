package metadata

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/openmined/twinsync/internal/utils"
)

const DefaultRetention = 90 * 24 * time.Hour

var (
	ErrCorrupt            = errors.New("metadata file is corrupted")
	ErrConflictingRecords = errors.New("path is tracked as both present and deleted")
)

// SyncMetadata is one side's last known synchronized state. Paths are matched
// case-insensitively; the stored records keep their original casing.
type SyncMetadata struct {
	LastSync time.Time

	files   map[string]FileState
	deleted map[string]DeletedRecord
}

func New() *SyncMetadata {
	return &SyncMetadata{
		files:   make(map[string]FileState),
		deleted: make(map[string]DeletedRecord),
	}
}

func (m *SyncMetadata) File(path string) (FileState, bool) {
	fs, ok := m.files[utils.PathKey(path)]
	return fs, ok
}

func (m *SyncMetadata) Deleted(path string) (DeletedRecord, bool) {
	rec, ok := m.deleted[utils.PathKey(path)]
	return rec, ok
}

// Upsert records path as present and clears any deletion record for it.
func (m *SyncMetadata) Upsert(fs FileState) {
	key := utils.PathKey(fs.Path)
	fs.ModTime = fs.ModTime.UTC()
	fs.LastSynced = fs.LastSynced.UTC()
	delete(m.deleted, key)
	m.files[key] = fs
}

// MarkDeleted records path as deleted and stops tracking it as present.
func (m *SyncMetadata) MarkDeleted(rec DeletedRecord) {
	key := utils.PathKey(rec.Path)
	rec.ModTime = rec.ModTime.UTC()
	rec.DeletedAt = rec.DeletedAt.UTC()
	delete(m.files, key)
	m.deleted[key] = rec
}

// Forget drops every record of path.
func (m *SyncMetadata) Forget(path string) {
	key := utils.PathKey(path)
	delete(m.files, key)
	delete(m.deleted, key)
}

// Prune drops deletion records older than retention and returns how many
// were removed.
func (m *SyncMetadata) Prune(now time.Time, retention time.Duration) int {
	if retention <= 0 {
		return 0
	}
	cutoff := now.Add(-retention)
	removed := 0
	for key, rec := range m.deleted {
		if rec.DeletedAt.Before(cutoff) {
			delete(m.deleted, key)
			removed++
		}
	}
	return removed
}

// Files returns the tracked files sorted by path.
func (m *SyncMetadata) Files() []FileState {
	out := make([]FileState, 0, len(m.files))
	for _, fs := range m.files {
		out = append(out, fs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// DeletedRecords returns the deletion registry sorted by path.
func (m *SyncMetadata) DeletedRecords() []DeletedRecord {
	out := make([]DeletedRecord, 0, len(m.deleted))
	for _, rec := range m.deleted {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (m *SyncMetadata) FileCount() int {
	return len(m.files)
}

func (m *SyncMetadata) DeletedCount() int {
	return len(m.deleted)
}

func (m *SyncMetadata) toStateFile() stateFile {
	sf := stateFile{
		Version: stateVersion,
		Files:   m.Files(),
		Deleted: m.DeletedRecords(),
	}
	if !m.LastSync.IsZero() {
		ts := m.LastSync.UTC()
		sf.LastSync = &ts
	}
	return sf
}

// fromStateFile rebuilds the indexes and rejects inconsistent records
// instead of picking a winner.
func fromStateFile(sf stateFile) (*SyncMetadata, error) {
	m := New()
	if sf.LastSync != nil {
		m.LastSync = sf.LastSync.UTC()
	}

	for _, fs := range sf.Files {
		if fs.Path == "" || fs.Size < 0 {
			return nil, fmt.Errorf("%w: invalid file record %q", ErrCorrupt, fs.Path)
		}
		key := utils.PathKey(fs.Path)
		if prev, dup := m.files[key]; dup {
			return nil, fmt.Errorf("%w: %q and %q collide", ErrConflictingRecords, prev.Path, fs.Path)
		}
		m.files[key] = fs
	}

	for _, rec := range sf.Deleted {
		if rec.Path == "" {
			return nil, fmt.Errorf("%w: deletion record without a path", ErrCorrupt)
		}
		key := utils.PathKey(rec.Path)
		if _, tracked := m.files[key]; tracked {
			return nil, fmt.Errorf("%w: %q", ErrConflictingRecords, rec.Path)
		}
		if prev, dup := m.deleted[key]; dup {
			return nil, fmt.Errorf("%w: deletion records %q and %q collide", ErrConflictingRecords, prev.Path, rec.Path)
		}
		m.deleted[key] = rec
	}

	return m, nil
}
