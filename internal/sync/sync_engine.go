package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/twinsync/internal/config"
	"github.com/openmined/twinsync/internal/exclude"
	"github.com/openmined/twinsync/internal/history"
	"github.com/openmined/twinsync/internal/metadata"
	"github.com/openmined/twinsync/internal/runlog"
	"github.com/openmined/twinsync/internal/scanner"
	"github.com/openmined/twinsync/internal/sidecar"
	"github.com/openmined/twinsync/internal/utils"
)

// HistoryKeep is how many runs each side's history retains.
const HistoryKeep = 200

type EngineOption func(*Engine)

func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func WithEngineFreeSpace(fn FreeSpaceFunc) EngineOption {
	return func(e *Engine) {
		e.freeSpace = fn
	}
}

// Engine runs analyses and syncs for one folder pair.
type Engine struct {
	cfg         *config.PairConfig
	left, right *sidecar.Sidecar
	hasher      *scanner.Hasher
	now         func() time.Time
	freeSpace   FreeSpaceFunc
}

func NewEngine(cfg *config.PairConfig, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	left, err := sidecar.Open(cfg.Left)
	if err != nil {
		return nil, err
	}
	right, err := sidecar.Open(cfg.Right)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		left:      left,
		right:     right,
		hasher:    scanner.NewHasher(scanner.DefaultHashCacheSize),
		now:       time.Now,
		freeSpace: diskFree,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() *config.PairConfig {
	return e.cfg
}

func (e *Engine) Sidecar(s Side) *sidecar.Sidecar {
	if s == SideLeft {
		return e.left
	}
	return e.right
}

// Lock takes the session lock on both sides.
func (e *Engine) Lock() error {
	if err := e.left.Lock(); err != nil {
		return err
	}
	if err := e.right.Lock(); err != nil {
		e.left.Unlock() //nolint:errcheck
		return err
	}
	return nil
}

func (e *Engine) Unlock() error {
	return errors.Join(e.right.Unlock(), e.left.Unlock())
}

// Analysis is the read-only outcome of scanning and diffing a pair.
type Analysis struct {
	Left       *scanner.Result
	Right      *scanner.Result
	LeftMeta   *metadata.SyncMetadata
	RightMeta  *metadata.SyncMetadata
	LeftRules  *exclude.Rules
	RightRules *exclude.Rules
	Diff       *DiffResult
	Warnings   []string
}

func (e *Engine) store(sc *sidecar.Sidecar) *metadata.Store {
	return metadata.NewStore(sc.StatePath,
		metadata.WithRetention(e.cfg.Settings.Retention()),
		metadata.WithClock(e.now),
	)
}

// Analyze scans both sides and computes the plan. Nothing on disk changes.
func (e *Engine) Analyze(ctx context.Context) (*Analysis, error) {
	an := &Analysis{}

	var err error
	if an.LeftRules, err = exclude.Load(e.left.Root); err != nil {
		return nil, fmt.Errorf("left exclusions: %w", err)
	}
	if an.RightRules, err = exclude.Load(e.right.Root); err != nil {
		return nil, fmt.Errorf("right exclusions: %w", err)
	}
	if !an.LeftRules.Equal(an.RightRules) {
		an.warn("%s differs between left and right", exclude.FileName)
	}

	if an.Left, err = scanner.Scan(e.left.Root, scanner.WithMatcher(an.LeftRules), scanner.WithClock(e.now)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if an.Right, err = scanner.Scan(e.right.Root, scanner.WithMatcher(an.RightRules), scanner.WithClock(e.now)); err != nil {
		return nil, err
	}
	for _, w := range an.Left.Warnings {
		an.warn("left: %s", w)
	}
	for _, w := range an.Right.Warnings {
		an.warn("right: %s", w)
	}

	if an.LeftMeta, err = e.store(e.left).Load(); err != nil {
		return nil, err
	}
	if an.RightMeta, err = e.store(e.right).Load(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	an.Diff = Diff(an.Left, an.Right, an.LeftMeta, an.RightMeta, DiffOptions{
		Tolerance:  e.cfg.Settings.Tolerance(),
		VerifyHash: e.cfg.Settings.VerifyHash,
		Hasher:     e.hasher,
	})
	an.Warnings = append(an.Warnings, an.Diff.Warnings...)

	slog.Info("analysis done",
		"pair", e.cfg.DisplayName(),
		"copy", an.Diff.FilesToCopy,
		"delete", an.Diff.FilesToDelete,
		"mkdir", an.Diff.DirsToCreate,
		"conflicts", an.Diff.Conflicts,
		"skipped", an.Diff.Skipped,
	)
	return an, nil
}

func (an *Analysis) warn(format string, args ...any) {
	an.Warnings = append(an.Warnings, fmt.Sprintf(format, args...))
}

// ResolveConflicts replaces every conflict that can be settled by keeping one
// side. Conflicts that cannot are left in place.
func ResolveConflicts(actions []Action, keep Side) []Action {
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if c, ok := a.(Conflict); ok {
			if resolved, err := c.Resolve(keep); err == nil {
				out = append(out, resolved)
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// Report summarizes one executed run.
type Report struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Result    *ExecutionResult
	LogPaths  []string
}

// Execute applies actions, which normally come from an.Diff possibly with
// conflicts resolved, then records the new synchronized state on both sides.
// The state is saved even when the run is cancelled so completed work is
// not redone.
func (e *Engine) Execute(ctx context.Context, an *Analysis, actions []Action, onProgress ProgressFunc) (*Report, error) {
	report := &Report{RunID: uuid.NewString(), StartedAt: e.now()}

	for _, sc := range []*sidecar.Sidecar{e.left, e.right} {
		if err := sc.Setup(); err != nil {
			return nil, err
		}
	}

	rl, err := runlog.Open(report.RunID, report.StartedAt, runlog.DefaultKeep, e.left.LogsDir, e.right.LogsDir)
	if err != nil {
		return nil, err
	}
	defer rl.Close()
	report.LogPaths = rl.Paths

	logger := slog.New(utils.NewMultiLogHandler(slog.Default().Handler(), rl.Logger().Handler()))
	logger.Info(fmt.Sprintf("SYNC %s", e.cfg.DisplayName()), "run", report.RunID, "actions", len(actions))

	journals := e.openJournals(report)
	defer func() {
		for _, j := range journals {
			j.Close()
		}
	}()

	exec := NewExecutor(e.left, e.right, ExecutorConfigFromSettings(e.cfg.Settings),
		WithExecutorClock(e.now),
		WithFreeSpace(e.freeSpace),
		WithLogger(logger),
	)
	res := exec.Execute(ctx, actions, onProgress)
	report.Result = res

	commitErr := e.commit(an, res)
	report.Duration = e.now().Sub(report.StartedAt)

	logger.Info(fmt.Sprintf("DONE %d completed, %d failed, %d skipped", len(res.Completed), len(res.Failed), len(res.Skipped)),
		"cancelled", res.Cancelled, "took", report.Duration)

	e.recordHistory(journals, report)
	return report, commitErr
}

func (e *Engine) openJournals(report *Report) []*history.Journal {
	var journals []*history.Journal
	for _, sc := range []*sidecar.Sidecar{e.left, e.right} {
		j, err := history.Open(sc.HistoryPath)
		if err != nil {
			slog.Warn("history unavailable", "root", sc.Root, "error", err)
			continue
		}
		if err := j.BeginRun(report.RunID, e.left.Root, e.right.Root, report.StartedAt); err != nil {
			slog.Warn("history begin run", "root", sc.Root, "error", err)
			j.Close()
			continue
		}
		journals = append(journals, j)
	}
	return journals
}

func (e *Engine) recordHistory(journals []*history.Journal, report *Report) {
	res := report.Result
	records := make([]history.ActionRecord, 0, len(res.Completed)+len(res.Failed)+len(res.Skipped))
	for _, c := range res.Completed {
		records = append(records, history.ActionRecord{
			RunID: report.RunID, Path: c.Action.RelPath(), Op: string(c.Action.Kind()),
			Status: history.StatusCompleted, Bytes: c.Bytes,
		})
	}
	for _, f := range res.Failed {
		records = append(records, history.ActionRecord{
			RunID: report.RunID, Path: f.Action.RelPath(), Op: string(f.Action.Kind()),
			Status: history.StatusFailed, Reason: fmt.Sprintf("%s: %v", f.Kind, f.Err),
		})
	}
	for _, s := range res.Skipped {
		records = append(records, history.ActionRecord{
			RunID: report.RunID, Path: s.Action.RelPath(), Op: string(s.Action.Kind()),
			Status: history.StatusSkipped, Reason: s.Reason,
		})
	}

	summary := history.Summary{
		Completed: len(res.Completed),
		Failed:    len(res.Failed),
		Skipped:   len(res.Skipped),
		Bytes:     res.BytesCopied,
		Cancelled: res.Cancelled,
	}
	finished := report.StartedAt.Add(report.Duration)
	for _, j := range journals {
		if err := j.RecordActions(records); err != nil {
			slog.Warn("history record actions", "error", err)
		}
		if err := j.FinishRun(report.RunID, summary, finished); err != nil {
			slog.Warn("history finish run", "error", err)
		}
		if _, err := j.Prune(HistoryKeep); err != nil {
			slog.Warn("history prune", "error", err)
		}
	}
}

// Runs returns the newest runs recorded on one side.
func (e *Engine) Runs(s Side, limit int) ([]history.Run, error) {
	sc := e.Sidecar(s)
	if !utils.FileExists(sc.HistoryPath) {
		return nil, nil
	}
	j, err := history.Open(sc.HistoryPath)
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return j.Runs(limit)
}
