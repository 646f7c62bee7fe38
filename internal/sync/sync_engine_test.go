package sync

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/openmined/twinsync/internal/config"
	"github.com/openmined/twinsync/internal/exclude"
	"github.com/openmined/twinsync/internal/metadata"
	"github.com/openmined/twinsync/internal/scanner"
	"github.com/openmined/twinsync/internal/sidecar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, mutate ...func(*config.Settings)) (*Engine, string, string) {
	t.Helper()
	cfg := config.New(t.TempDir(), t.TempDir())
	for _, m := range mutate {
		m(&cfg.Settings)
	}

	e, err := NewEngine(cfg, WithEngineFreeSpace(func(string) (uint64, error) { return 1 << 40, nil }))
	require.NoError(t, err)
	return e, e.Sidecar(SideLeft).Root, e.Sidecar(SideRight).Root
}

func syncOnce(t *testing.T, e *Engine) (*Analysis, *Report) {
	t.Helper()
	an, err := e.Analyze(context.Background())
	require.NoError(t, err)
	report, err := e.Execute(context.Background(), an, an.Diff.Actions, nil)
	require.NoError(t, err)
	require.Empty(t, report.Result.Failed)
	return an, report
}

func loadMeta(t *testing.T, root string) *metadata.SyncMetadata {
	t.Helper()
	sc, err := sidecar.Open(root)
	require.NoError(t, err)
	m, err := metadata.NewStore(sc.StatePath).Load()
	require.NoError(t, err)
	return m
}

func TestEngine_FirstSyncThenIdle(t *testing.T) {
	e, left, right := newTestEngine(t)
	writeFile(t, left, "a.txt", "alpha", base)
	writeFile(t, left, "docs/b.txt", "bravo", base)
	writeFile(t, right, "c.txt", "charlie", base)
	require.NoError(t, os.Mkdir(filepath.Join(left, "empty"), 0o755))

	_, report := syncOnce(t, e)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, int64(len("alpha")+len("bravo")+len("charlie")), report.Result.BytesCopied)
	require.Len(t, report.LogPaths, 2)
	for _, p := range report.LogPaths {
		assert.FileExists(t, p)
	}

	assert.Equal(t, "alpha", readFile(t, right, "a.txt"))
	assert.Equal(t, "bravo", readFile(t, right, "docs/b.txt"))
	assert.Equal(t, "charlie", readFile(t, left, "c.txt"))
	assert.DirExists(t, filepath.Join(right, "empty"))

	for _, root := range []string{left, right} {
		m := loadMeta(t, root)
		assert.Equal(t, 3, m.FileCount())
		assert.False(t, m.LastSync.IsZero())
		fs, ok := m.File("DOCS/B.TXT")
		require.True(t, ok)
		assert.Equal(t, "docs/b.txt", fs.Path)
		assert.NotEmpty(t, fs.Hash)
	}

	an, err := e.Analyze(context.Background())
	require.NoError(t, err)
	assert.False(t, an.Diff.HasChanges(), "second analysis: %v", an.Diff.Actions)
	assert.Zero(t, an.Diff.Conflicts)

	runs, err := e.Runs(SideLeft, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, 5, runs[0].Completed)
}

func TestEngine_DeletionPropagates(t *testing.T) {
	e, left, right := newTestEngine(t)
	writeFile(t, left, "keep.txt", "keep", base)
	writeFile(t, left, "gone/old.txt", "old", base)
	syncOnce(t, e)

	require.NoError(t, os.Remove(filepath.Join(left, "gone", "old.txt")))

	an, report := syncOnce(t, e)
	require.Len(t, an.Diff.Actions, 2)
	del, ok := only(t, an.Diff, "gone/old.txt").(DeleteRight)
	require.True(t, ok)
	assert.Equal(t, int64(3), del.Target.Size)
	assert.True(t, del.Target.ModTime.Equal(base))
	require.Len(t, report.Result.Completed, 1)
	assert.NotEmpty(t, report.Result.Completed[0].TrashPath)
	assert.False(t, exists(right, "gone/old.txt"))
	assert.True(t, exists(right, "keep.txt"))
	assert.False(t, exists(right, "gone"))
	assert.False(t, exists(left, "gone"), "emptied folder is pruned on the side it was emptied on")

	for _, root := range []string{left, right} {
		m := loadMeta(t, root)
		_, tracked := m.File("gone/old.txt")
		assert.False(t, tracked)
		rec, ok := m.Deleted("gone/old.txt")
		require.True(t, ok, root)
		assert.Equal(t, int64(3), rec.Size)
	}

	// restoring the same content on one side is flagged, not silently re-copied
	writeFile(t, right, "gone/old.txt", "old", base)
	an, err := e.Analyze(context.Background())
	require.NoError(t, err)
	act := only(t, an.Diff, "gone/old.txt")
	require.IsType(t, Conflict{}, act)
	assert.Equal(t, ConflictModifiedAndDeleted, act.(Conflict).Reason)
}

func TestEngine_UnreadableDirectoryKeepsOtherSide(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced here")
	}
	e, left, right := newTestEngine(t)
	writeFile(t, left, "d/a.txt", "alpha", base)
	syncOnce(t, e)

	locked := filepath.Join(left, "d")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { os.Chmod(locked, 0o755) })

	an, report := syncOnce(t, e)
	assert.Zero(t, an.Diff.FilesToDelete)
	assert.Empty(t, report.Result.Completed)
	assert.Equal(t, "alpha", readFile(t, right, "d/a.txt"))

	require.NoError(t, os.Chmod(locked, 0o755))
	for _, root := range []string{left, right} {
		_, tracked := loadMeta(t, root).File("d/a.txt")
		assert.True(t, tracked, root)
	}
}

func TestEngine_CommitKeepsUnscannedPaths(t *testing.T) {
	e, left, right := newTestEngine(t)
	tracked := func() *metadata.SyncMetadata {
		m := metadata.New()
		m.Upsert(metadata.FileState{Path: "d/a.txt", Size: 5, ModTime: base, LastSynced: base})
		return m
	}
	an := &Analysis{
		Left:      &scanner.Result{Root: left, Warnings: []scanner.Warning{{Path: "d", Reason: "cannot read directory"}}},
		Right:     &scanner.Result{Root: right},
		LeftMeta:  tracked(),
		RightMeta: tracked(),
		Diff:      &DiffResult{Gone: []string{"d/a.txt"}},
	}

	require.NoError(t, e.commit(an, &ExecutionResult{}))

	for _, root := range []string{left, right} {
		m := loadMeta(t, root)
		_, ok := m.File("d/a.txt")
		assert.True(t, ok, root)
		_, deleted := m.Deleted("d/a.txt")
		assert.False(t, deleted, root)
	}
}

func TestEngine_CommitRecordsCheckedSource(t *testing.T) {
	e, left, right := newTestEngine(t)
	writeFile(t, left, "a.txt", "one", base)
	writeFile(t, right, "a.txt", "one", base)
	checked, err := os.Stat(filepath.Join(left, "a.txt"))
	require.NoError(t, err)

	// edited after the copy went through
	writeFile(t, left, "a.txt", "one, edited", base.Add(time.Hour))

	an := &Analysis{
		Left:      &scanner.Result{Root: left},
		Right:     &scanner.Result{Root: right},
		LeftMeta:  metadata.New(),
		RightMeta: metadata.New(),
		Diff:      &DiffResult{},
	}
	res := &ExecutionResult{Completed: []Completed{{
		Action: CopyToRight{Path: "a.txt"},
		Bytes:  3,
		Hash:   "sha256:one",
		Source: checked,
	}}}
	require.NoError(t, e.commit(an, res))

	fs, ok := loadMeta(t, left).File("a.txt")
	require.True(t, ok)
	assert.Equal(t, int64(3), fs.Size)
	assert.True(t, fs.ModTime.Equal(base))

	next, err := e.Analyze(context.Background())
	require.NoError(t, err)
	assert.IsType(t, CopyToRight{}, only(t, next.Diff, "a.txt"))
}

func TestEngine_ModifiedFileBacksUpOverwrittenVersion(t *testing.T) {
	e, left, right := newTestEngine(t)
	writeFile(t, left, "a.txt", "one", base)
	syncOnce(t, e)

	writeFile(t, left, "a.txt", "two!", base.Add(time.Hour))
	an, _ := syncOnce(t, e)
	require.IsType(t, CopyToRight{}, only(t, an.Diff, "a.txt"))
	assert.Equal(t, "two!", readFile(t, right, "a.txt"))

	backups, err := os.ReadDir(filepath.Join(right, sidecar.DirName, "backups"))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "one", readFile(t, filepath.Join(right, sidecar.DirName, "backups"), backups[0].Name()))
}

func TestEngine_ConflictResolution(t *testing.T) {
	e, left, right := newTestEngine(t)
	writeFile(t, left, "a.txt", "left", base)
	writeFile(t, right, "a.txt", "right!", base.Add(time.Hour))

	an, err := e.Analyze(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, an.Diff.Conflicts)

	_, err = e.Execute(context.Background(), an, ResolveConflicts(an.Diff.Actions, SideRight), nil)
	require.NoError(t, err)
	assert.Equal(t, "right!", readFile(t, left, "a.txt"))

	an, err = e.Analyze(context.Background())
	require.NoError(t, err)
	assert.False(t, an.Diff.HasChanges())
	assert.Zero(t, an.Diff.Conflicts)
}

func TestEngine_Exclusions(t *testing.T) {
	e, left, right := newTestEngine(t)
	writeFile(t, left, exclude.FileName, "*.tmp\nbuild/\n", base)
	writeFile(t, left, "a.tmp", "x", base)
	writeFile(t, left, "build/out.bin", "x", base)
	writeFile(t, left, "src/main.go", "package main", base)

	an, _ := syncOnce(t, e)
	assert.NotEmpty(t, an.Warnings, "differing exclusion files are reported")
	assert.True(t, exists(right, "src/main.go"))
	assert.True(t, exists(right, exclude.FileName))
	assert.False(t, exists(right, "a.tmp"))
	assert.False(t, exists(right, "build"))
}

func TestEngine_CorruptedMetadata(t *testing.T) {
	e, left, _ := newTestEngine(t)
	sc := e.Sidecar(SideLeft)
	require.NoError(t, sc.Setup())
	require.NoError(t, os.WriteFile(sc.StatePath, []byte("{not json"), 0o644))
	writeFile(t, left, "a.txt", "a", base)

	_, err := e.Analyze(context.Background())
	assert.ErrorIs(t, err, metadata.ErrCorrupt)

	data, err := os.ReadFile(sc.StatePath)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data), "corrupted state is never overwritten")
}

func TestEngine_CancelledRunKeepsCompletedWork(t *testing.T) {
	e, left, right := newTestEngine(t)
	writeFile(t, left, "a.txt", "a", base)

	an, err := e.Analyze(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := e.Execute(ctx, an, an.Diff.Actions, nil)
	require.NoError(t, err)
	assert.True(t, report.Result.Cancelled)
	assert.False(t, exists(right, "a.txt"))

	m := loadMeta(t, left)
	assert.Zero(t, m.FileCount())
	assert.False(t, m.LastSync.IsZero())
}

func TestEngine_Lock(t *testing.T) {
	e, _, _ := newTestEngine(t)
	require.NoError(t, e.Lock())

	other, err := NewEngine(e.Config())
	require.NoError(t, err)
	assert.ErrorIs(t, other.Lock(), sidecar.ErrSessionLocked)

	require.NoError(t, e.Unlock())
	require.NoError(t, other.Lock())
	require.NoError(t, other.Unlock())
}

func TestNewEngine_RejectsNestedRoots(t *testing.T) {
	root := t.TempDir()
	_, err := NewEngine(config.New(root, filepath.Join(root, "inner")))
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}
