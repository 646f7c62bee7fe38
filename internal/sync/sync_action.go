package sync

import (
	"errors"
	"fmt"
	"time"
)

type ActionKind string

const (
	KindCopyToRight    ActionKind = "CopyToRight"
	KindCopyToLeft     ActionKind = "CopyToLeft"
	KindDeleteLeft     ActionKind = "DeleteLeft"
	KindDeleteRight    ActionKind = "DeleteRight"
	KindCreateDirLeft  ActionKind = "CreateDirLeft"
	KindCreateDirRight ActionKind = "CreateDirRight"
	KindConflict       ActionKind = "Conflict"
	KindSkip           ActionKind = "Skip"
)

type Side int

const (
	SideLeft Side = iota
	SideRight
)

func (s Side) String() string {
	if s == SideLeft {
		return "left"
	}
	return "right"
}

// Short is the one letter form used in log lines.
func (s Side) Short() string {
	if s == SideLeft {
		return "L"
	}
	return "R"
}

func (s Side) Other() Side {
	if s == SideLeft {
		return SideRight
	}
	return SideLeft
}

// FileInfo is a snapshot of one side's file taken during analysis.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	Hash    string
	IsDir   bool
}

// captured reports whether the snapshot holds values to verify against.
func (fi FileInfo) captured() bool {
	return !fi.ModTime.IsZero()
}

type ConflictReason string

const (
	ConflictBothModified       ConflictReason = "both modified"
	ConflictModifiedAndDeleted ConflictReason = "modified and deleted"
	ConflictNoBaseline         ConflictReason = "differs on both sides without sync history"
	ConflictKindMismatch       ConflictReason = "file on one side, directory on the other"
)

// Action is a closed set: only the types in this file implement it, so a type
// switch over the cases below is exhaustive.
type Action interface {
	Kind() ActionKind
	RelPath() string
	sealed()
}

// CopyToRight copies Path from left to right. DestPath is set when the right
// side already has the file under a different casing.
type CopyToRight struct {
	Path     string
	DestPath string
	Source   FileInfo
}

type CopyToLeft struct {
	Path     string
	DestPath string
	Source   FileInfo
}

type DeleteLeft struct {
	Path   string
	Target FileInfo
}

type DeleteRight struct {
	Path   string
	Target FileInfo
}

type CreateDirLeft struct {
	Path string
}

type CreateDirRight struct {
	Path string
}

// Conflict never touches the disk. Left/Right are nil when the path is
// absent on that side.
type Conflict struct {
	Path   string
	Reason ConflictReason
	Left   *FileInfo
	Right  *FileInfo
}

type Skip struct {
	Path   string
	Reason string
}

func (a CopyToRight) Kind() ActionKind    { return KindCopyToRight }
func (a CopyToLeft) Kind() ActionKind     { return KindCopyToLeft }
func (a DeleteLeft) Kind() ActionKind     { return KindDeleteLeft }
func (a DeleteRight) Kind() ActionKind    { return KindDeleteRight }
func (a CreateDirLeft) Kind() ActionKind  { return KindCreateDirLeft }
func (a CreateDirRight) Kind() ActionKind { return KindCreateDirRight }
func (a Conflict) Kind() ActionKind       { return KindConflict }
func (a Skip) Kind() ActionKind           { return KindSkip }

func (a CopyToRight) RelPath() string    { return a.Path }
func (a CopyToLeft) RelPath() string     { return a.Path }
func (a DeleteLeft) RelPath() string     { return a.Path }
func (a DeleteRight) RelPath() string    { return a.Path }
func (a CreateDirLeft) RelPath() string  { return a.Path }
func (a CreateDirRight) RelPath() string { return a.Path }
func (a Conflict) RelPath() string       { return a.Path }
func (a Skip) RelPath() string           { return a.Path }

func (CopyToRight) sealed()    {}
func (CopyToLeft) sealed()     {}
func (DeleteLeft) sealed()     {}
func (DeleteRight) sealed()    {}
func (CreateDirLeft) sealed()  {}
func (CreateDirRight) sealed() {}
func (Conflict) sealed()       {}
func (Skip) sealed()           {}

func (a CopyToRight) target() string { return destOr(a.DestPath, a.Path) }
func (a CopyToLeft) target() string  { return destOr(a.DestPath, a.Path) }

func destOr(dest, path string) string {
	if dest != "" {
		return dest
	}
	return path
}

// Mutates reports whether executing a would change the disk.
func Mutates(a Action) bool {
	switch a.(type) {
	case Conflict, Skip:
		return false
	default:
		return true
	}
}

var ErrUnresolvable = errors.New("conflict cannot be resolved by picking a side")

// Resolve turns a conflict into the action that makes keep's version win:
// a copy when keep has the file, a delete when it does not.
func (a Conflict) Resolve(keep Side) (Action, error) {
	if a.Reason == ConflictKindMismatch {
		return nil, fmt.Errorf("%w: %s: %s", ErrUnresolvable, a.Path, a.Reason)
	}

	kept, other := a.Left, a.Right
	if keep == SideRight {
		kept, other = a.Right, a.Left
	}

	switch {
	case kept != nil && keep == SideLeft:
		act := CopyToRight{Path: kept.Path, Source: *kept}
		if other != nil && other.Path != kept.Path {
			act.DestPath = other.Path
		}
		return act, nil
	case kept != nil:
		act := CopyToLeft{Path: kept.Path, Source: *kept}
		if other != nil && other.Path != kept.Path {
			act.DestPath = other.Path
		}
		return act, nil
	case other != nil && keep == SideLeft:
		return DeleteRight{Path: other.Path, Target: *other}, nil
	case other != nil:
		return DeleteLeft{Path: other.Path, Target: *other}, nil
	default:
		return nil, fmt.Errorf("%w: %s: absent on both sides", ErrUnresolvable, a.Path)
	}
}

// Describe renders an action for logs and summaries.
func Describe(a Action) string {
	switch a := a.(type) {
	case CopyToRight:
		return fmt.Sprintf("copy L->R %s", a.Path)
	case CopyToLeft:
		return fmt.Sprintf("copy R->L %s", a.Path)
	case DeleteLeft:
		return fmt.Sprintf("delete L %s", a.Path)
	case DeleteRight:
		return fmt.Sprintf("delete R %s", a.Path)
	case CreateDirLeft:
		return fmt.Sprintf("mkdir L %s", a.Path)
	case CreateDirRight:
		return fmt.Sprintf("mkdir R %s", a.Path)
	case Conflict:
		return fmt.Sprintf("conflict %s (%s)", a.Path, a.Reason)
	case Skip:
		return fmt.Sprintf("skip %s (%s)", a.Path, a.Reason)
	default:
		return fmt.Sprintf("unknown %T", a)
	}
}
