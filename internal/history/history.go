package history

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/twinsync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    left_root TEXT NOT NULL,
    right_root TEXT NOT NULL,
    started_at TEXT NOT NULL, -- UTC, fixed width
    finished_at TEXT NOT NULL DEFAULT '',
    completed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    bytes INTEGER NOT NULL DEFAULT 0,
    cancelled INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_actions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    path TEXT NOT NULL,
    op TEXT NOT NULL,
    status TEXT NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    bytes INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_actions_run_id ON run_actions(run_id);
`

// fixed width so that ORDER BY on the TEXT column is chronological
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var ErrRunNotFound = errors.New("run not found")

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Run is one execution of a pair.
type Run struct {
	ID         string
	LeftRoot   string
	RightRoot  string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary
}

type Summary struct {
	Completed int
	Failed    int
	Skipped   int
	Bytes     int64
	Cancelled bool
}

// ActionRecord is the outcome of one action within a run.
type ActionRecord struct {
	RunID  string `db:"run_id"`
	Path   string `db:"path"`
	Op     string `db:"op"`
	Status Status `db:"status"`
	Reason string `db:"reason"`
	Bytes  int64  `db:"bytes"`
}

type dbRun struct {
	ID         string `db:"id"`
	LeftRoot   string `db:"left_root"`
	RightRoot  string `db:"right_root"`
	StartedAt  string `db:"started_at"`
	FinishedAt string `db:"finished_at"`
	Completed  int    `db:"completed"`
	Failed     int    `db:"failed"`
	Skipped    int    `db:"skipped"`
	Bytes      int64  `db:"bytes"`
	Cancelled  bool   `db:"cancelled"`
}

func (r dbRun) toRun() (Run, error) {
	run := Run{
		ID:        r.ID,
		LeftRoot:  r.LeftRoot,
		RightRoot: r.RightRoot,
		Summary: Summary{
			Completed: r.Completed,
			Failed:    r.Failed,
			Skipped:   r.Skipped,
			Bytes:     r.Bytes,
			Cancelled: r.Cancelled,
		},
	}

	var err error
	if run.StartedAt, err = time.Parse(timeLayout, r.StartedAt); err != nil {
		return Run{}, fmt.Errorf("parse started_at of run %s: %w", r.ID, err)
	}
	if r.FinishedAt != "" {
		if run.FinishedAt, err = time.Parse(timeLayout, r.FinishedAt); err != nil {
			return Run{}, fmt.Errorf("parse finished_at of run %s: %w", r.ID, err)
		}
	}
	return run, nil
}

// Journal keeps the run history of one side in its sidecar.
type Journal struct {
	db   *sqlx.DB
	path string
}

func Open(path string) (*Journal, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	if err := db.ApplySchema(conn, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &Journal{db: conn, path: path}, nil
}

func (j *Journal) Close() error {
	if err := j.db.Close(); err != nil {
		slog.Error("close history", "path", j.path, "error", err)
		return err
	}
	return nil
}

func (j *Journal) BeginRun(id, leftRoot, rightRoot string, startedAt time.Time) error {
	_, err := j.db.Exec(
		"INSERT INTO runs (id, left_root, right_root, started_at) VALUES (?, ?, ?, ?)",
		id, leftRoot, rightRoot, startedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("begin run %s: %w", id, err)
	}
	return nil
}

// RecordActions stores a batch of outcomes in one transaction.
func (j *Journal) RecordActions(records []ActionRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := j.db.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareNamed(`
		INSERT INTO run_actions (run_id, path, op, status, reason, bytes)
		VALUES (:run_id, :path, :op, :status, :reason, :bytes)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(rec); err != nil {
			return fmt.Errorf("record action %s: %w", rec.Path, err)
		}
	}
	return tx.Commit()
}

func (j *Journal) FinishRun(id string, summary Summary, finishedAt time.Time) error {
	res, err := j.db.Exec(`
		UPDATE runs
		SET finished_at = ?, completed = ?, failed = ?, skipped = ?, bytes = ?, cancelled = ?
		WHERE id = ?`,
		finishedAt.UTC().Format(timeLayout),
		summary.Completed, summary.Failed, summary.Skipped, summary.Bytes, summary.Cancelled,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

// Runs returns up to limit runs, newest first.
func (j *Journal) Runs(limit int) ([]Run, error) {
	var rows []dbRun
	err := j.db.Select(&rows, `
		SELECT id, left_root, right_root, started_at, finished_at,
		       completed, failed, skipped, bytes, cancelled
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]Run, 0, len(rows))
	for _, r := range rows {
		run, err := r.toRun()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (j *Journal) Actions(runID string) ([]ActionRecord, error) {
	var records []ActionRecord
	err := j.db.Select(&records, `
		SELECT run_id, path, op, status, reason, bytes
		FROM run_actions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list actions of run %s: %w", runID, err)
	}
	return records, nil
}

// Prune keeps the newest keep runs and drops the rest with their actions.
func (j *Journal) Prune(keep int) (int64, error) {
	res, err := j.db.Exec(`
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
