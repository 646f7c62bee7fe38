package metadata

import (
	"time"
)

// Attributes are platform file attributes. Each field is optional since
// not every attribute exists on every filesystem.
type Attributes struct {
	UnixMode        *uint32 `json:"unix_mode,omitempty"`
	UnixUID         *uint32 `json:"unix_uid,omitempty"`
	UnixGID         *uint32 `json:"unix_gid,omitempty"`
	WindowsReadonly *bool   `json:"windows_readonly,omitempty"`
	WindowsHidden   *bool   `json:"windows_hidden,omitempty"`
	WindowsSystem   *bool   `json:"windows_system,omitempty"`
}

func (a Attributes) IsZero() bool {
	return a.UnixMode == nil && a.UnixUID == nil && a.UnixGID == nil &&
		a.WindowsReadonly == nil && a.WindowsHidden == nil && a.WindowsSystem == nil
}

// FileState is the last synchronized state of one file on one side.
type FileState struct {
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	ModTime    time.Time  `json:"mtime"`
	Hash       string     `json:"hash,omitempty"`
	Attributes Attributes `json:"attributes"`
	LastSynced time.Time  `json:"last_synced"`
}

// DeletedRecord remembers a file that was removed from one side.
type DeletedRecord struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mtime"`
	Hash      string    `json:"hash,omitempty"`
	DeletedAt time.Time `json:"deleted_at"`
}

// Tombstone turns a tracked file into the record kept after its deletion.
func (fs FileState) Tombstone(deletedAt time.Time) DeletedRecord {
	return DeletedRecord{
		Path:      fs.Path,
		Size:      fs.Size,
		ModTime:   fs.ModTime,
		Hash:      fs.Hash,
		DeletedAt: deletedAt.UTC(),
	}
}

// stateFile is the on-disk layout.
type stateFile struct {
	Version  int             `json:"version"`
	LastSync *time.Time      `json:"last_sync,omitempty"`
	Files    []FileState     `json:"files"`
	Deleted  []DeletedRecord `json:"deleted"`
}

const stateVersion = 1
