package sync

import (
	"errors"
	"io/fs"
)

// ErrorKind classifies why an action failed.
type ErrorKind string

const (
	ErrKindLocked       ErrorKind = "locked"
	ErrKindPermission   ErrorKind = "permission denied"
	ErrKindDiskFull     ErrorKind = "disk full"
	ErrKindNotFound     ErrorKind = "not found"
	ErrKindPathTooLong  ErrorKind = "path too long"
	ErrKindSizeMismatch ErrorKind = "size mismatch"
	ErrKindKindMismatch ErrorKind = "kind mismatch"
	ErrKindIO           ErrorKind = "io error"
)

var (
	ErrInsufficientSpace = errors.New("insufficient disk space")
	ErrSizeMismatch      = errors.New("copied size does not match source")
	ErrKindMismatch      = errors.New("file and directory collide at destination")
)

// Classify maps an error from a file operation to its kind.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientSpace), isDiskFull(err):
		return ErrKindDiskFull
	case errors.Is(err, ErrSizeMismatch):
		return ErrKindSizeMismatch
	case errors.Is(err, ErrKindMismatch):
		return ErrKindKindMismatch
	case isLocked(err):
		return ErrKindLocked
	case isPathTooLong(err):
		return ErrKindPathTooLong
	case errors.Is(err, fs.ErrPermission):
		return ErrKindPermission
	case errors.Is(err, fs.ErrNotExist):
		return ErrKindNotFound
	default:
		return ErrKindIO
	}
}
