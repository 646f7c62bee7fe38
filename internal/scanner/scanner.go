package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openmined/twinsync/internal/sidecar"
	"github.com/openmined/twinsync/internal/utils"
)

var ErrRootInaccessible = errors.New("scan root is not accessible")

// Entry is one file or directory as seen by a single scan.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
	Hash    string
}

// Warning is a per-entry problem that did not stop the scan.
type Warning struct {
	Path   string
	Reason string
	Err    error
}

func (w Warning) String() string {
	if w.Err != nil {
		return fmt.Sprintf("%s: %s: %v", w.Path, w.Reason, w.Err)
	}
	return fmt.Sprintf("%s: %s", w.Path, w.Reason)
}

// Matcher decides whether a relative path is excluded.
type Matcher interface {
	Match(relPath string, isDir bool) bool
}

type Result struct {
	Root      string
	Entries   []Entry
	Warnings  []Warning
	Excluded  int
	ScannedAt time.Time

	index map[string]int
}

// Lookup finds an entry by its exact relative path.
func (r *Result) Lookup(relPath string) (Entry, bool) {
	i, ok := r.index[relPath]
	if !ok {
		return Entry{}, false
	}
	return r.Entries[i], true
}

func (r *Result) Files() []Entry {
	files := make([]Entry, 0, len(r.Entries))
	for _, e := range r.Entries {
		if !e.IsDir {
			files = append(files, e)
		}
	}
	return files
}

func (r *Result) TotalSize() int64 {
	var total int64
	for _, e := range r.Entries {
		total += e.Size
	}
	return total
}

// AbsPath maps a relative entry path back into the scanned tree.
func (r *Result) AbsPath(relPath string) string {
	return filepath.Join(r.Root, filepath.FromSlash(relPath))
}

// Unscanned reports whether relPath is, or lies beneath, a path the scan
// warned about. Its absence from Entries says nothing about the disk.
func (r *Result) Unscanned(relPath string) bool {
	key := utils.PathKey(relPath)
	for _, w := range r.Warnings {
		wk := utils.PathKey(w.Path)
		if key == wk || strings.HasPrefix(key, wk+"/") {
			return true
		}
	}
	return false
}

func (r *Result) warn(path, reason string, err error) {
	w := Warning{Path: path, Reason: reason, Err: err}
	slog.Warn("scan", "path", path, "reason", reason, "error", err)
	r.Warnings = append(r.Warnings, w)
}

type options struct {
	matcher     Matcher
	sidecarName string
	now         func() time.Time
}

type Option func(*options)

func WithMatcher(m Matcher) Option {
	return func(o *options) {
		o.matcher = m
	}
}

func WithSidecarName(name string) Option {
	return func(o *options) {
		o.sidecarName = name
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Scan walks the tree under root without following symlinks. Only failing
// to open the root itself is fatal; everything else becomes a warning.
func Scan(root string, opts ...Option) (*Result, error) {
	o := &options{
		sidecarName: sidecar.DirName,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRootInaccessible, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootInaccessible, root)
	}

	start := time.Now()
	res := &Result{Root: root, ScannedAt: o.now().UTC()}

	// explicit work list keeps deep trees off the goroutine stack
	pending := []string{""}
	for len(pending) > 0 {
		dirRel := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		dirents, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(dirRel)))
		if err != nil {
			if dirRel == "" {
				return nil, fmt.Errorf("%w: %s: %v", ErrRootInaccessible, root, err)
			}
			res.warn(dirRel, "cannot read directory", err)
			// ReadDir may still have returned the entries it got to
		}

		for _, d := range dirents {
			name := d.Name()
			if dirRel == "" && strings.EqualFold(name, o.sidecarName) {
				continue
			}

			rel := name
			if dirRel != "" {
				rel = dirRel + "/" + name
			}

			isDir := d.IsDir()
			if o.matcher != nil && o.matcher.Match(rel, isDir) {
				res.Excluded++
				continue
			}

			mode := d.Type()
			switch {
			case mode&fs.ModeSymlink != 0:
				res.warn(rel, "symbolic link skipped", nil)
				continue
			case !isDir && !mode.IsRegular():
				res.warn(rel, "not a regular file", nil)
				continue
			}

			fi, err := d.Info()
			if err != nil {
				res.warn(rel, "cannot stat", err)
				continue
			}

			entry := Entry{
				Path:    rel,
				ModTime: fi.ModTime().UTC(),
				IsDir:   isDir,
			}
			if !isDir {
				entry.Size = fi.Size()
			}
			res.Entries = append(res.Entries, entry)

			if isDir {
				pending = append(pending, rel)
			}
		}
	}

	sort.Slice(res.Entries, func(i, j int) bool {
		return res.Entries[i].Path < res.Entries[j].Path
	})
	res.index = make(map[string]int, len(res.Entries))
	for i, e := range res.Entries {
		res.index[e.Path] = i
	}

	slog.Debug("scan done",
		"root", root,
		"entries", len(res.Entries),
		"excluded", res.Excluded,
		"warnings", len(res.Warnings),
		"took", time.Since(start),
	)
	return res, nil
}
