package scanner

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/openmined/twinsync/internal/exclude"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func paths(res *Result) []string {
	out := make([]string, 0, len(res.Entries))
	for _, e := range res.Entries {
		out = append(out, e.Path)
	}
	return out
}

func TestScan_Basic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hello")
	writeFile(t, root, "docs/b.txt", "world!")
	writeFile(t, root, "docs/deep/c.txt", "")
	require.NoError(t, os.Mkdir(filepath.Join(root, "empty"), 0o755))

	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.txt"), mtime, mtime))

	res, err := Scan(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "docs", "docs/b.txt", "docs/deep", "docs/deep/c.txt", "empty"}, paths(res))
	assert.Empty(t, res.Warnings)

	a, ok := res.Lookup("a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(5), a.Size)
	assert.False(t, a.IsDir)
	assert.Empty(t, a.Hash, "hashes are computed on demand only")
	assert.True(t, a.ModTime.Equal(mtime))
	assert.Equal(t, time.UTC, a.ModTime.Location())

	docs, ok := res.Lookup("docs")
	require.True(t, ok)
	assert.True(t, docs.IsDir)
	assert.Zero(t, docs.Size)

	assert.Len(t, res.Files(), 3)
	assert.Equal(t, int64(11), res.TotalSize())
}

func TestScan_SkipsSidecar(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".twinsync/state.v1.json", "{}")
	writeFile(t, root, "nested/.twinsync/kept.txt", "x")
	writeFile(t, root, "a.txt", "x")

	res, err := Scan(root)
	require.NoError(t, err)

	for _, p := range paths(res) {
		assert.False(t, strings.HasPrefix(p, ".twinsync"), p)
	}
	_, ok := res.Lookup("nested/.twinsync/kept.txt")
	assert.True(t, ok, "only the root-level sidecar is hidden")
}

func TestScan_Exclusions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "keep.txt", "x")
	writeFile(t, root, "drop.tmp", "x")
	writeFile(t, root, "node_modules/pkg/index.js", "x")
	writeFile(t, root, exclude.FileName, "*.tmp\nnode_modules/\n")

	rules, err := exclude.Load(root)
	require.NoError(t, err)

	res, err := Scan(root, WithMatcher(rules))
	require.NoError(t, err)

	assert.Equal(t, []string{exclude.FileName, "keep.txt"}, paths(res))
	assert.Equal(t, 2, res.Excluded)
}

func TestScan_SymlinksAreWarnings(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	root := t.TempDir()
	target := writeFile(t, root, "real.txt", "x")
	require.NoError(t, os.Symlink(target, filepath.Join(root, "link.txt")))
	require.NoError(t, os.Symlink(root, filepath.Join(root, "loop")))

	res, err := Scan(root)
	require.NoError(t, err)

	assert.Equal(t, []string{"real.txt"}, paths(res))
	require.Len(t, res.Warnings, 2)
	for _, w := range res.Warnings {
		assert.Contains(t, w.Reason, "symbolic link")
	}
}

func TestScan_UnreadableDirectoryIsWarning(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	root := t.TempDir()
	writeFile(t, root, "ok.txt", "x")
	locked := filepath.Join(root, "locked")
	writeFile(t, root, "locked/secret.txt", "x")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	res, err := Scan(root)
	require.NoError(t, err)

	_, ok := res.Lookup("ok.txt")
	assert.True(t, ok)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "locked", res.Warnings[0].Path)
	assert.True(t, res.Unscanned("locked/secret.txt"))
	assert.False(t, res.Unscanned("ok.txt"))
}

func TestResult_Unscanned(t *testing.T) {
	res := &Result{Warnings: []Warning{
		{Path: "Photos/raw", Reason: "cannot read directory"},
		{Path: "link", Reason: "symbolic link skipped"},
	}}

	tests := []struct {
		path string
		want bool
	}{
		{"Photos/raw", true},
		{"photos/RAW/img.cr2", true},
		{"Photos/raw/deep/x.jpg", true},
		{"Photos/rawfiles/x.jpg", false},
		{"Photos", false},
		{"link", true},
		{"other.txt", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, res.Unscanned(tt.path))
		})
	}
}

func TestScan_RootErrors(t *testing.T) {
	_, err := Scan(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrRootInaccessible)

	file := writeFile(t, t.TempDir(), "file.txt", "x")
	_, err = Scan(file)
	assert.ErrorIs(t, err, ErrRootInaccessible)
}

func TestScan_DeepTree(t *testing.T) {
	root := t.TempDir()
	rel := strings.Repeat("d/", 60) + "leaf.txt"
	writeFile(t, root, rel, "x")

	res, err := Scan(root)
	require.NoError(t, err)

	_, ok := res.Lookup(rel)
	assert.True(t, ok)
	assert.Len(t, res.Entries, 61)
}

func TestHasher(t *testing.T) {
	root := t.TempDir()
	p := writeFile(t, root, "a.txt", "hello")

	h := NewHasher(0)
	sum, err := h.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)
	assert.Equal(t, 1, h.Len())

	again, err := h.Hash(p)
	require.NoError(t, err)
	assert.Equal(t, sum, again)
	assert.Equal(t, 1, h.Len())

	// new content and mtime produce a new cache key
	require.NoError(t, os.WriteFile(p, []byte("hello, world"), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(p, later, later))
	changed, err := h.Hash(p)
	require.NoError(t, err)
	assert.NotEqual(t, sum, changed)

	_, err = h.Hash(filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
