// Package history 在 sqlite 中保存每次运行的摘要，供 history 命令列出。
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"yqhp/load-harness/internal/metrics/engine"
	"yqhp/load-harness/pkg/metrics"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one stored run summary.
type Run struct {
	ID           string
	Suite        string
	Scenario     string
	StartedAt    time.Time
	Duration     time.Duration
	Iterations   int64
	Requests     int64
	FailedRate   float64
	P95Ms        float64
	ChecksPassed int64
	ChecksFailed int64
	Passed       bool
	Aborted      bool
}

// Status renders the verdict column.
func (r Run) Status() string {
	switch {
	case r.Aborted:
		return "aborted"
	case r.Passed:
		return "passed"
	default:
		return "failed"
	}
}

// FromReport builds the stored summary of a finished run.
func FromReport(report *engine.Report, suite string) Run {
	run := Run{
		ID:        report.RunID,
		Suite:     suite,
		Scenario:  report.Scenario,
		StartedAt: report.StartTime,
		Duration:  report.Duration,
		Passed:    report.Passed,
		Aborted:   report.Aborted,
	}
	if v, ok := report.Value(metrics.IterationsName, "count"); ok {
		run.Iterations = int64(v)
	}
	if v, ok := report.Value(metrics.HTTPReqsName, "count"); ok {
		run.Requests = int64(v)
	}
	if v, ok := report.Value(metrics.HTTPReqFailedName, "rate"); ok {
		run.FailedRate = v
	}
	if v, ok := report.Value(metrics.HTTPReqDurationName, "p(95)"); ok {
		run.P95Ms = v
	}
	run.ChecksPassed, run.ChecksFailed = report.CheckTotals()
	return run
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	suite TEXT NOT NULL,
	scenario TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL,
	iterations INTEGER NOT NULL,
	requests INTEGER NOT NULL,
	failed_rate REAL NOT NULL,
	p95_ms REAL NOT NULL,
	checks_passed INTEGER NOT NULL,
	checks_failed INTEGER NOT NULL,
	passed INTEGER NOT NULL,
	aborted INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_suite ON runs(suite);
`

// Store is the sqlite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the history database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts run. Saving the same id twice replaces the row.
func (s *Store) Save(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(id, suite, scenario, started_at, duration_ms, iterations, requests, failed_rate, p95_ms,
		 checks_passed, checks_failed, passed, aborted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Suite, run.Scenario, run.StartedAt.UTC(), run.Duration.Milliseconds(),
		run.Iterations, run.Requests, run.FailedRate, run.P95Ms,
		run.ChecksPassed, run.ChecksFailed, run.Passed, run.Aborted)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// ListOptions filters List. Zero values mean no filter; Limit <= 0 returns
// every row.
type ListOptions struct {
	Suite string
	Limit int
}

const selectRun = `
	SELECT id, suite, scenario, started_at, duration_ms, iterations, requests, failed_rate, p95_ms,
	       checks_passed, checks_failed, passed, aborted
	FROM runs`

// List returns runs newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := selectRun + ` WHERE (? = '' OR suite = ?) ORDER BY started_at DESC`
	args := []any{opts.Suite, opts.Suite}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run by id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run        Run
		durationMs int64
	)
	err := row.Scan(&run.ID, &run.Suite, &run.Scenario, &run.StartedAt, &durationMs,
		&run.Iterations, &run.Requests, &run.FailedRate, &run.P95Ms,
		&run.ChecksPassed, &run.ChecksFailed, &run.Passed, &run.Aborted)
	if err != nil {
		return Run{}, err
	}
	run.Duration = time.Duration(durationMs) * time.Millisecond
	return run, nil
}
