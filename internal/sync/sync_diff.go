package sync

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/twinsync/internal/metadata"
	"github.com/openmined/twinsync/internal/scanner"
	"github.com/openmined/twinsync/internal/utils"
)

const DefaultTolerance = 2 * time.Second

const (
	ReasonIdentical       = "identical"
	ReasonUnchanged       = "unchanged since last sync"
	ReasonCaseConflict    = "names differ only in case"
	ReasonDirRemovedLeft  = "directory removed on left"
	ReasonDirRemovedRight = "directory removed on right"
	ReasonNotScanned      = "not scanned"
)

type DiffOptions struct {
	// Tolerance is the largest mtime difference still treated as equal.
	Tolerance time.Duration

	// VerifyHash confirms suspected changes by content before acting on them.
	VerifyHash bool

	// Hasher is used for content checks. A private one is created when nil.
	Hasher *scanner.Hasher
}

// PathPair is the same file as it is spelled on each side.
type PathPair struct {
	Left  string
	Right string
}

type DiffResult struct {
	Actions []Action

	FilesToCopy     int
	FilesToDelete   int
	DirsToCreate    int
	Conflicts       int
	Skipped         int
	BytesToTransfer int64

	Warnings []string

	// InSync lists files already equal on both sides; their baseline can be
	// refreshed after a run.
	InSync []PathPair

	// Gone lists tracked paths that have disappeared from both sides.
	Gone []string
}

// add appends an action and updates the totals.
func (r *DiffResult) add(a Action) {
	r.Actions = append(r.Actions, a)
	switch a := a.(type) {
	case CopyToRight:
		r.FilesToCopy++
		r.BytesToTransfer += a.Source.Size
	case CopyToLeft:
		r.FilesToCopy++
		r.BytesToTransfer += a.Source.Size
	case DeleteLeft, DeleteRight:
		r.FilesToDelete++
	case CreateDirLeft, CreateDirRight:
		r.DirsToCreate++
	case Conflict:
		r.Conflicts++
	case Skip:
		r.Skipped++
	}
}

func (r *DiffResult) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Warn("diff", "warning", msg)
	r.Warnings = append(r.Warnings, msg)
}

// Pending counts actions that would change the disk.
func (r *DiffResult) Pending() int {
	n := 0
	for _, a := range r.Actions {
		if Mutates(a) {
			n++
		}
	}
	return n
}

func (r *DiffResult) HasChanges() bool {
	return r.Pending() > 0
}

// side bundles what is known about one side of the pair.
type side struct {
	name    Side
	scan    *scanner.Result
	meta    *metadata.SyncMetadata
	entries map[string]scanner.Entry
	clashes map[string][]string
	// trackedDirs holds every directory that contains a tracked or recently
	// deleted file according to this side's metadata.
	trackedDirs mapset.Set[string]
}

func newSide(name Side, scan *scanner.Result, meta *metadata.SyncMetadata) *side {
	if meta == nil {
		meta = metadata.New()
	}
	s := &side{
		name:        name,
		scan:        scan,
		meta:        meta,
		entries:     make(map[string]scanner.Entry),
		clashes:     make(map[string][]string),
		trackedDirs: mapset.NewThreadUnsafeSet[string](),
	}

	if scan != nil {
		for _, e := range scan.Entries {
			key := utils.PathKey(e.Path)
			if prev, dup := s.entries[key]; dup {
				if len(s.clashes[key]) == 0 {
					s.clashes[key] = []string{prev.Path}
				}
				s.clashes[key] = append(s.clashes[key], e.Path)
				continue
			}
			s.entries[key] = e
		}
	}

	addParents := func(p string) {
		for dir := path.Dir(utils.PathKey(p)); dir != "." && dir != "/"; dir = path.Dir(dir) {
			s.trackedDirs.Add(dir)
		}
	}
	for _, fs := range meta.Files() {
		addParents(fs.Path)
	}
	for _, rec := range meta.DeletedRecords() {
		addParents(rec.Path)
	}
	return s
}

func (s *side) entry(key string) *scanner.Entry {
	if e, ok := s.entries[key]; ok {
		return &e
	}
	return nil
}

func (s *side) state(key string) *metadata.FileState {
	if fs, ok := s.meta.File(key); ok {
		return &fs
	}
	return nil
}

// unscanned reports whether the scan of this side could not see key, so
// its absence must not be read as a deletion.
func (s *side) unscanned(key string) bool {
	return s.scan != nil && s.scan.Unscanned(key)
}

func (s *side) deleted(key string) *metadata.DeletedRecord {
	if rec, ok := s.meta.Deleted(key); ok {
		return &rec
	}
	return nil
}

type differ struct {
	opts   DiffOptions
	result *DiffResult
}

// Diff compares two fresh scans against each side's last synchronized state
// and proposes the actions that bring both trees back in sync.
func Diff(left, right *scanner.Result, leftMeta, rightMeta *metadata.SyncMetadata, opts DiffOptions) *DiffResult {
	if opts.Tolerance < 0 {
		opts.Tolerance = 0
	}
	if opts.Hasher == nil {
		opts.Hasher = scanner.NewHasher(0)
	}

	d := &differ{opts: opts, result: &DiffResult{}}
	l := newSide(SideLeft, left, leftMeta)
	r := newSide(SideRight, right, rightMeta)

	keys := mapset.NewThreadUnsafeSet[string]()
	for _, s := range []*side{l, r} {
		for key := range s.entries {
			keys.Add(key)
		}
		for key := range s.clashes {
			keys.Add(key)
		}
		for _, fs := range s.meta.Files() {
			keys.Add(utils.PathKey(fs.Path))
		}
	}

	sorted := keys.ToSlice()
	sort.Strings(sorted)

	for _, key := range sorted {
		if l.unscanned(key) || r.unscanned(key) {
			d.skipUnscanned(key, l, r)
			continue
		}
		if d.skipClashes(key, l, r) {
			continue
		}

		le, re := l.entry(key), r.entry(key)
		switch {
		case le == nil && re == nil:
			if fs := l.state(key); fs != nil {
				d.result.Gone = append(d.result.Gone, fs.Path)
			} else if fs := r.state(key); fs != nil {
				d.result.Gone = append(d.result.Gone, fs.Path)
			}
		case le != nil && re != nil:
			d.both(key, l, r, le, re)
		case le != nil:
			d.oneSided(key, l, r, le)
		default:
			d.oneSided(key, r, l, re)
		}
	}

	sortActions(d.result.Actions)
	return d.result
}

// skipClashes handles paths that only differ in case on the same side. No
// variant is treated as canonical; all of them are skipped.
func (d *differ) skipClashes(key string, l, r *side) bool {
	var clashing []string
	for _, s := range []*side{l, r} {
		if names := s.clashes[key]; len(names) > 0 {
			d.result.warn("%s: %s on %s: %s", key, ReasonCaseConflict, s.name, strings.Join(names, ", "))
			clashing = append(clashing, names...)
		} else if e := s.entry(key); e != nil {
			clashing = append(clashing, e.Path)
		}
	}
	if len(l.clashes[key]) == 0 && len(r.clashes[key]) == 0 {
		return false
	}

	for _, p := range clashing {
		d.result.add(Skip{Path: p, Reason: ReasonCaseConflict})
	}
	return true
}

// skipUnscanned leaves a path alone when either scan missed it. It is
// neither copied, deleted nor reported as gone.
func (d *differ) skipUnscanned(key string, l, r *side) {
	p := key
	switch {
	case l.entry(key) != nil:
		p = l.entry(key).Path
	case r.entry(key) != nil:
		p = r.entry(key).Path
	case l.state(key) != nil:
		p = l.state(key).Path
	case r.state(key) != nil:
		p = r.state(key).Path
	}
	d.result.add(Skip{Path: p, Reason: ReasonNotScanned})
}

func (d *differ) both(key string, l, r *side, le, re *scanner.Entry) {
	switch {
	case le.IsDir && re.IsDir:
		return
	case le.IsDir != re.IsDir:
		d.result.add(Conflict{
			Path:   le.Path,
			Reason: ConflictKindMismatch,
			Left:   d.info(l, le),
			Right:  d.info(r, re),
		})
		return
	}

	// content is only compared when a baseline is missing or both sides
	// moved; an unchanged pair is never hashed
	ls, rs := l.state(key), r.state(key)
	compared := false
	if ls == nil || rs == nil {
		if d.identical(l, r, le, re) {
			d.inSync(le, re)
			return
		}
		compared = true
	}
	if ls == nil && rs == nil {
		d.result.add(Conflict{
			Path:   le.Path,
			Reason: ConflictNoBaseline,
			Left:   d.info(l, le),
			Right:  d.info(r, re),
		})
		return
	}

	leftChanged := d.changed(l, le, ls)
	rightChanged := d.changed(r, re, rs)

	switch {
	case !leftChanged && !rightChanged:
		d.result.add(Skip{Path: le.Path, Reason: ReasonUnchanged})
	case leftChanged && !rightChanged:
		d.result.add(CopyToRight{Path: le.Path, DestPath: differentCase(le.Path, re.Path), Source: *d.info(l, le)})
	case !leftChanged && rightChanged:
		d.result.add(CopyToLeft{Path: re.Path, DestPath: differentCase(re.Path, le.Path), Source: *d.info(r, re)})
	case !compared && d.identical(l, r, le, re):
		// both edited to the same content
		d.inSync(le, re)
	default:
		d.result.add(Conflict{
			Path:   le.Path,
			Reason: ConflictBothModified,
			Left:   d.info(l, le),
			Right:  d.info(r, re),
		})
	}
}

func (d *differ) inSync(le, re *scanner.Entry) {
	d.result.InSync = append(d.result.InSync, PathPair{Left: le.Path, Right: re.Path})
	d.result.add(Skip{Path: le.Path, Reason: ReasonIdentical})
}

// oneSided handles a path that exists on present but not on absent.
func (d *differ) oneSided(key string, present, absent *side, e *scanner.Entry) {
	if e.IsDir {
		if absent.trackedDirs.Contains(key) {
			reason := ReasonDirRemovedRight
			if absent.name == SideLeft {
				reason = ReasonDirRemovedLeft
			}
			d.result.add(Skip{Path: e.Path, Reason: reason})
			return
		}
		d.result.add(createDir(absent.name, e.Path))
		return
	}

	// absent had the file at its last sync, so it was deleted there
	if as := absent.state(key); as != nil {
		ps := present.state(key)
		if ps != nil && !d.changed(present, e, ps) {
			d.result.add(deleteOn(present.name, e.Path, *d.info(present, e)))
			return
		}
		d.result.add(d.conflict(present, e, ConflictModifiedAndDeleted))
		return
	}

	// the same content was deliberately deleted on the other side
	if rec := absent.deleted(key); rec != nil && d.matchesDeleted(present, e, rec) {
		d.result.add(d.conflict(present, e, ConflictModifiedAndDeleted))
		return
	}

	d.result.add(copyFrom(present.name, e.Path, *d.info(present, e)))
}

func (d *differ) conflict(present *side, e *scanner.Entry, reason ConflictReason) Conflict {
	c := Conflict{Path: e.Path, Reason: reason}
	if present.name == SideLeft {
		c.Left = d.info(present, e)
	} else {
		c.Right = d.info(present, e)
	}
	return c
}

// changed compares an entry with its own side's baseline. Size must match
// exactly; mtimes within the tolerance are equal. When hashing is enabled a
// differing mtime is confirmed against the stored digest.
func (d *differ) changed(s *side, e *scanner.Entry, fs *metadata.FileState) bool {
	if fs == nil {
		return true
	}
	if e.Size != fs.Size {
		return true
	}
	if withinTolerance(e.ModTime, fs.ModTime, d.opts.Tolerance) {
		return false
	}
	if d.opts.VerifyHash && fs.Hash != "" {
		sum, ok := d.hash(s, e)
		return !ok || sum != fs.Hash
	}
	return true
}

// identical decides whether both sides already hold the same file.
func (d *differ) identical(l, r *side, le, re *scanner.Entry) bool {
	if le.Size != re.Size {
		return false
	}
	if d.opts.VerifyHash {
		ls, lok := d.hash(l, le)
		rs, rok := d.hash(r, re)
		return lok && rok && ls == rs
	}
	return withinTolerance(le.ModTime, re.ModTime, d.opts.Tolerance)
}

func (d *differ) matchesDeleted(s *side, e *scanner.Entry, rec *metadata.DeletedRecord) bool {
	if e.Size != rec.Size {
		return false
	}
	if rec.Hash == "" {
		return true
	}
	sum, ok := d.hash(s, e)
	return ok && sum == rec.Hash
}

func (d *differ) hash(s *side, e *scanner.Entry) (string, bool) {
	if e.Hash != "" {
		return e.Hash, true
	}
	sum, err := d.opts.Hasher.Hash(s.scan.AbsPath(e.Path))
	if err != nil {
		d.result.warn("%s: hash on %s failed: %v", e.Path, s.name, err)
		return "", false
	}
	e.Hash = sum
	return sum, true
}

// info snapshots an entry. The digest is only included when one was
// computed, never forced.
func (d *differ) info(s *side, e *scanner.Entry) *FileInfo {
	fi := &FileInfo{
		Path:    e.Path,
		Size:    e.Size,
		ModTime: e.ModTime,
		Hash:    e.Hash,
		IsDir:   e.IsDir,
	}
	if fi.Hash == "" && !e.IsDir && d.opts.VerifyHash {
		if sum, ok := d.hash(s, e); ok {
			fi.Hash = sum
		}
	}
	return fi
}

func withinTolerance(a, b time.Time, tolerance time.Duration) bool {
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}

func differentCase(path, other string) string {
	if path == other {
		return ""
	}
	return other
}

func createDir(on Side, p string) Action {
	if on == SideLeft {
		return CreateDirLeft{Path: p}
	}
	return CreateDirRight{Path: p}
}

func deleteOn(on Side, p string, target FileInfo) Action {
	if on == SideLeft {
		return DeleteLeft{Path: p, Target: target}
	}
	return DeleteRight{Path: p, Target: target}
}

func copyFrom(from Side, p string, src FileInfo) Action {
	if from == SideLeft {
		return CopyToRight{Path: p, Source: src}
	}
	return CopyToLeft{Path: p, Source: src}
}

// sortActions puts directory creation first, shallow before deep, and keeps
// everything else in path order.
func sortActions(actions []Action) {
	rank := func(a Action) int {
		switch a.(type) {
		case CreateDirLeft, CreateDirRight:
			return 0
		default:
			return 1
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		ri, rj := rank(actions[i]), rank(actions[j])
		if ri != rj {
			return ri < rj
		}
		if ri == 0 {
			di, dj := utils.PathDepth(actions[i].RelPath()), utils.PathDepth(actions[j].RelPath())
			if di != dj {
				return di < dj
			}
		}
		return actions[i].RelPath() < actions[j].RelPath()
	})
}
