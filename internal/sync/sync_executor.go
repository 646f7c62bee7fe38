package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/openmined/twinsync/internal/config"
	"github.com/openmined/twinsync/internal/runlog"
	"github.com/openmined/twinsync/internal/sidecar"
	"github.com/openmined/twinsync/internal/utils"
)

const (
	ReasonChangedDuringSync = "changed during sync"
	ReasonCancelled         = "cancelled"
)

type ExecutorConfig struct {
	BackupEnabled    bool
	BackupVersions   int
	SoftDelete       bool
	CheckDiskSpace   bool
	ProgressInterval time.Duration
	ProgressEvery    int
}

func ExecutorConfigFromSettings(s config.Settings) ExecutorConfig {
	return ExecutorConfig{
		BackupEnabled:    s.BackupEnabled,
		BackupVersions:   s.BackupVersions,
		SoftDelete:       s.SoftDelete,
		CheckDiskSpace:   s.CheckDiskSpace,
		ProgressInterval: s.ProgressInterval(),
		ProgressEvery:    s.ProgressEvery,
	}
}

// Completed is an action that took effect. Hash and Source are set for
// copies; TrashPath for deletes that went to the trash.
type Completed struct {
	Action    Action
	Bytes     int64
	Hash      string
	TrashPath string
	// Source is the stat of the copied file that was checked against the
	// plan before streaming.
	Source fs.FileInfo
}

type Failed struct {
	Action Action
	Kind   ErrorKind
	Err    error
}

func (f Failed) Error() string {
	return fmt.Sprintf("%s: %s: %v", Describe(f.Action), f.Kind, f.Err)
}

type Skipped struct {
	Action Action
	Reason string
}

type ExecutionResult struct {
	Completed   []Completed
	Failed      []Failed
	Skipped     []Skipped
	Cancelled   bool
	BytesCopied int64
	// RemovedDirs are directories emptied by deletes and then removed,
	// as side-prefixed relative paths.
	RemovedDirs []string
}

func (r *ExecutionResult) complete(c Completed) {
	r.Completed = append(r.Completed, c)
	switch c.Action.(type) {
	case CopyToRight, CopyToLeft:
		r.BytesCopied += c.Bytes
	}
}

func (r *ExecutionResult) fail(a Action, err error) {
	r.Failed = append(r.Failed, Failed{Action: a, Kind: Classify(err), Err: err})
}

func (r *ExecutionResult) skip(a Action, reason string) {
	r.Skipped = append(r.Skipped, Skipped{Action: a, Reason: reason})
}

type ExecutorOption func(*Executor)

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// WithFreeSpace replaces the free disk space lookup.
func WithFreeSpace(fn FreeSpaceFunc) ExecutorOption {
	return func(e *Executor) {
		e.freeSpace = fn
	}
}

// WithLogger sets where per-action outcomes are logged.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.log = l
	}
}

// Executor applies a plan to both trees.
type Executor struct {
	left, right *sidecar.Sidecar
	cfg         ExecutorConfig
	now         func() time.Time
	freeSpace   FreeSpaceFunc
	log         *slog.Logger
}

func NewExecutor(left, right *sidecar.Sidecar, cfg ExecutorConfig, opts ...ExecutorOption) *Executor {
	e := &Executor{
		left:      left,
		right:     right,
		cfg:       cfg,
		now:       time.Now,
		freeSpace: diskFree,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Executor) side(s Side) *sidecar.Sidecar {
	if s == SideLeft {
		return e.left
	}
	return e.right
}

// Execute runs the plan in phases: directories shallow first, then copies,
// then deletes deepest first, then removal of directories the deletes left
// empty. Conflicts and skips are reported but never touch the disk. The
// context is checked between actions; once it is done every remaining
// action is skipped as cancelled.
func (e *Executor) Execute(ctx context.Context, actions []Action, onProgress ProgressFunc) *ExecutionResult {
	res := &ExecutionResult{}

	var dirs, copies, deletes []Action
	for _, a := range actions {
		switch a := a.(type) {
		case CreateDirLeft, CreateDirRight:
			dirs = append(dirs, a)
		case CopyToRight, CopyToLeft:
			copies = append(copies, a)
		case DeleteLeft, DeleteRight:
			deletes = append(deletes, a)
		case Conflict:
			res.skip(a, "unresolved conflict: "+string(a.Reason))
		case Skip:
			res.skip(a, a.Reason)
		}
	}

	sort.SliceStable(dirs, func(i, j int) bool {
		return utils.PathDepth(dirs[i].RelPath()) < utils.PathDepth(dirs[j].RelPath())
	})
	sort.SliceStable(copies, func(i, j int) bool {
		return copies[i].RelPath() < copies[j].RelPath()
	})
	sort.SliceStable(deletes, func(i, j int) bool {
		di, dj := utils.PathDepth(deletes[i].RelPath()), utils.PathDepth(deletes[j].RelPath())
		if di != dj {
			return di > dj
		}
		return deletes[i].RelPath() < deletes[j].RelPath()
	})

	progress := newProgressReporter(onProgress, len(dirs)+len(copies)+len(deletes),
		e.cfg.ProgressInterval, e.cfg.ProgressEvery, e.now)

	phases := []struct {
		phase   Phase
		actions []Action
	}{
		{PhaseCreateDirs, dirs},
		{PhaseCopy, copies},
		{PhaseDelete, deletes},
	}

	emptied := map[Side]map[string]struct{}{SideLeft: {}, SideRight: {}}
	for _, ph := range phases {
		for _, a := range ph.actions {
			if !res.Cancelled && ctx.Err() != nil {
				res.Cancelled = true
				e.log.Warn("sync cancelled", "remaining", Describe(a))
			}
			if res.Cancelled {
				res.skip(a, ReasonCancelled)
				continue
			}

			e.run(a, res, emptied)
			progress.step(ph.phase, a.RelPath())
		}
	}

	if !res.Cancelled {
		for _, s := range []Side{SideLeft, SideRight} {
			res.RemovedDirs = append(res.RemovedDirs, e.cleanup(s, emptied[s])...)
		}
		if len(res.RemovedDirs) > 0 && onProgress != nil {
			onProgress(Progress{Phase: PhaseCleanup, Current: progress.current, Total: progress.total})
		}
	}
	return res
}

func (e *Executor) run(a Action, res *ExecutionResult, emptied map[Side]map[string]struct{}) {
	switch a := a.(type) {
	case CreateDirLeft:
		e.mkdir(SideLeft, a, a.Path, res)
	case CreateDirRight:
		e.mkdir(SideRight, a, a.Path, res)
	case CopyToRight:
		e.copy(SideLeft, a, a.Path, a.target(), a.Source, res)
	case CopyToLeft:
		e.copy(SideRight, a, a.Path, a.target(), a.Source, res)
	case DeleteLeft:
		if e.delete(SideLeft, a, a.Path, a.Target, res) {
			markEmptied(emptied, a.Path)
		}
	case DeleteRight:
		if e.delete(SideRight, a, a.Path, a.Target, res) {
			markEmptied(emptied, a.Path)
		}
	}
}

// markEmptied queues the parent of a deleted path on both sides. The side
// the deletion came from may be left holding the same empty directory.
func markEmptied(emptied map[Side]map[string]struct{}, rel string) {
	parent := path.Dir(utils.NormalizeRelPath(rel))
	emptied[SideLeft][parent] = struct{}{}
	emptied[SideRight][parent] = struct{}{}
}

func (e *Executor) mkdir(on Side, a Action, rel string, res *ExecutionResult) {
	abs := e.side(on).AbsPath(rel)
	if info, err := os.Lstat(abs); err == nil && !info.IsDir() {
		e.failed(res, a, ErrKindMismatch)
		return
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		e.failed(res, a, err)
		return
	}
	e.log.Info(fmt.Sprintf("MKDIR %s %s", on.Short(), rel))
	res.complete(Completed{Action: a})
}

func (e *Executor) copy(from Side, a Action, rel, destRel string, snap FileInfo, res *ExecutionResult) {
	src := e.side(from).AbsPath(rel)
	dstSide := e.side(from.Other())
	dst := dstSide.AbsPath(destRel)

	info, err := os.Stat(src)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && (info.IsDir() || changedSince(info, snap))) {
		e.skipped(res, a, ReasonChangedDuringSync)
		return
	}
	if err != nil {
		e.failed(res, a, err)
		return
	}

	dstInfo, err := os.Lstat(dst)
	exists := err == nil
	if exists && dstInfo.IsDir() {
		e.failed(res, a, ErrKindMismatch)
		return
	}

	if e.cfg.CheckDiskSpace {
		if free, err := e.freeSpace(dstSide.Root); err != nil {
			e.log.Debug("disk space check", "root", dstSide.Root, "error", err)
		} else if uint64(info.Size()) > free {
			e.failed(res, a, fmt.Errorf("%w: need %d bytes, %d free", ErrInsufficientSpace, info.Size(), free))
			return
		}
	}

	if err := utils.EnsureParent(dst); err != nil {
		e.failed(res, a, err)
		return
	}

	if exists && e.cfg.BackupEnabled {
		if _, err := backupFile(dstSide.BackupDir, dst, destRel, e.cfg.BackupVersions, e.now()); err != nil {
			e.failed(res, a, err)
			return
		}
	}

	f, err := os.Open(src)
	if err != nil {
		e.failed(res, a, err)
		return
	}
	n, sum, err := streamToFile(f, dst, dstSide.TmpDir, info.Mode().Perm(), info.Size())
	f.Close()
	if err != nil {
		e.failed(res, a, err)
		return
	}

	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		e.failed(res, a, fmt.Errorf("set mtime: %w", err))
		return
	}
	if err := applyAttributes(dst, info); err != nil {
		e.log.Debug("apply attributes", "path", destRel, "error", err)
	}

	runlog.Copy(e.log, from.Short()+"->"+from.Other().Short(), rel, n)
	res.complete(Completed{Action: a, Bytes: n, Hash: sum, Source: info})
}

// delete reports whether the path is gone afterwards.
func (e *Executor) delete(on Side, a Action, rel string, snap FileInfo, res *ExecutionResult) bool {
	sc := e.side(on)
	abs := sc.AbsPath(rel)

	info, err := os.Lstat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		res.complete(Completed{Action: a})
		return true
	}
	if err != nil {
		e.failed(res, a, err)
		return false
	}

	if info.IsDir() {
		entries, err := os.ReadDir(abs)
		if err != nil {
			e.failed(res, a, err)
			return false
		}
		if len(entries) > 0 {
			e.skipped(res, a, ReasonChangedDuringSync)
			return false
		}
		if err := os.Remove(abs); err != nil {
			e.failed(res, a, err)
			return false
		}
		res.complete(Completed{Action: a})
		return true
	}

	if changedSince(info, snap) {
		e.skipped(res, a, ReasonChangedDuringSync)
		return false
	}

	var trashPath string
	if e.cfg.SoftDelete {
		trashPath, err = moveToTrash(sc.TrashDir, abs, rel, e.now())
		if err != nil {
			e.failed(res, a, err)
			return false
		}
	} else {
		if e.cfg.BackupEnabled {
			if _, err := backupFile(sc.BackupDir, abs, rel, e.cfg.BackupVersions, e.now()); err != nil {
				e.failed(res, a, err)
				return false
			}
		}
		if err := os.Remove(abs); err != nil {
			e.failed(res, a, err)
			return false
		}
	}

	runlog.Delete(e.log, on.Short(), rel, info.Size(), trashPath != "")
	res.complete(Completed{Action: a, Bytes: info.Size(), TrashPath: trashPath})
	return true
}

// cleanup removes directories that are empty after deletes, walking up
// towards the root but never removing it. Directories that still hold
// anything, or do not exist on this side, are left alone.
func (e *Executor) cleanup(on Side, dirs map[string]struct{}) []string {
	candidates := make(map[string]struct{})
	for d := range dirs {
		for ; d != "." && d != "/" && d != ""; d = path.Dir(d) {
			candidates[d] = struct{}{}
		}
	}

	ordered := make([]string, 0, len(candidates))
	for d := range candidates {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := utils.PathDepth(ordered[i]), utils.PathDepth(ordered[j])
		if di != dj {
			return di > dj
		}
		return ordered[i] < ordered[j]
	})

	sc := e.side(on)
	var removed []string
	for _, d := range ordered {
		if sidecar.IsSidecarPath(d) {
			continue
		}
		abs := sc.AbsPath(d)
		entries, err := os.ReadDir(abs)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(abs); err != nil {
			e.log.Debug("remove empty dir", "path", filepath.ToSlash(d), "error", err)
			continue
		}
		e.log.Info(fmt.Sprintf("RMDIR %s %s", on.Short(), d))
		removed = append(removed, on.Short()+":"+d)
	}
	return removed
}

func (e *Executor) failed(res *ExecutionResult, a Action, err error) {
	res.fail(a, err)
	e.log.Error(fmt.Sprintf("FAILED %s", Describe(a)), "kind", string(Classify(err)), "error", err)
}

func (e *Executor) skipped(res *ExecutionResult, a Action, reason string) {
	res.skip(a, reason)
	e.log.Warn(fmt.Sprintf("SKIPPED %s", Describe(a)), "reason", reason)
}

// changedSince compares a fresh stat with the snapshot taken during analysis.
func changedSince(info fs.FileInfo, snap FileInfo) bool {
	if !snap.captured() {
		return false
	}
	return info.Size() != snap.Size || !info.ModTime().Equal(snap.ModTime)
}
