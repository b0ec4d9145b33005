// Package history persists orchestrated runs and their per-test results in
// the SQLite database opened by storage.OpenSQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrRunNotFound  = errors.New("run not found")
	ErrAmbiguousRun = errors.New("run id prefix is ambiguous")
)

// Status is the persisted state of a run or a test.
type Status string

const (
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// Run is one row of the runs table.
type Run struct {
	ID               string
	Plugin           string
	Source           string
	Pattern          string
	WorkersRequested int
	WorkersStarted   int
	Fingerprint      string
	Status           Status
	AbortReason      string
	Total            int
	Passed           int
	Failed           int
	StartedAt        time.Time
	FinishedAt       *time.Time
}

// Duration is zero while the run is still in progress.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// TestRecord is one row of the test_results table.
type TestRecord struct {
	RunID      string
	TestID     string
	WorkerID   int
	Status     Status
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Completion is what FinishRun writes once a run ends.
type Completion struct {
	Status         Status
	AbortReason    string
	WorkersStarted int
	Total          int
	Passed         int
	Failed         int
	FinishedAt     time.Time
}

// Store reads and writes run history.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// BeginRun inserts a run in the running state.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("run id is empty")
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(id, plugin, source, pattern, workers_requested, config_fingerprint, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, run.ID, run.Plugin, run.Source, nullString(run.Pattern), run.WorkersRequested,
		nullString(run.Fingerprint), string(run.Status), formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordTest appends one test result to a run.
func (s *Store) RecordTest(ctx context.Context, rec TestRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO test_results(run_id, test_id, worker_id, status, error, started_at, finished_at, duration_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, rec.RunID, rec.TestID, rec.WorkerID, string(rec.Status), nullString(rec.Error),
		formatTime(rec.StartedAt), formatTime(rec.FinishedAt), rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert test result: %w", err)
	}
	return nil
}

// FinishRun stores the final status and totals of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, c Completion) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, abort_reason = ?, workers_started = ?, total = ?, passed = ?, failed = ?, finished_at = ?
WHERE id = ?;
`, string(c.Status), nullString(c.AbortReason), c.WorkersStarted, c.Total, c.Passed, c.Failed,
		formatTime(c.FinishedAt), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `id, plugin, source, pattern, workers_requested, workers_started, config_fingerprint,
status, abort_reason, total, passed, failed, started_at, finished_at`

// LatestRun returns the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1;`)
	return scanRunRow(row)
}

// GetRun returns a run by id. A unique id prefix is accepted.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("run id is empty")
	}

	run, err := scanRunRow(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?;`, id))
	if !errors.Is(err, ErrRunNotFound) {
		return run, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id LIKE ? ESCAPE '\' LIMIT 2;`, escapeLike(id)+"%")
	if err != nil {
		return nil, fmt.Errorf("query run by prefix: %w", err)
	}
	defer rows.Close()

	var matches []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousRun, id)
	}
}

// ListRuns returns up to limit runs, newest first. limit <= 0 means all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// TestsForRun returns a run's results in the order they were recorded.
func (s *Store) TestsForRun(ctx context.Context, runID string) ([]TestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, test_id, worker_id, status, error, started_at, finished_at, duration_ms
FROM test_results
WHERE run_id = ?
ORDER BY started_at, id;
`, runID)
	if err != nil {
		return nil, fmt.Errorf("query test results: %w", err)
	}
	defer rows.Close()

	var out []TestRecord
	for rows.Next() {
		var (
			rec       TestRecord
			status    string
			errText   sql.NullString
			startedS  string
			finishedS string
			ms        int64
		)
		if err := rows.Scan(&rec.RunID, &rec.TestID, &rec.WorkerID, &status, &errText, &startedS, &finishedS, &ms); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		rec.Error = errText.String
		if rec.StartedAt, err = time.Parse(timeLayout, startedS); err != nil {
			return nil, fmt.Errorf("parse test_results.started_at: %w", err)
		}
		if rec.FinishedAt, err = time.Parse(timeLayout, finishedS); err != nil {
			return nil, fmt.Errorf("parse test_results.finished_at: %w", err)
		}
		rec.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test results: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunRow(row rowScanner) (*Run, error) {
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return r, err
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		r           Run
		pattern     sql.NullString
		fingerprint sql.NullString
		status      string
		abortReason sql.NullString
		startedS    string
		finishedS   sql.NullString
	)
	if err := row.Scan(
		&r.ID,
		&r.Plugin,
		&r.Source,
		&pattern,
		&r.WorkersRequested,
		&r.WorkersStarted,
		&fingerprint,
		&status,
		&abortReason,
		&r.Total,
		&r.Passed,
		&r.Failed,
		&startedS,
		&finishedS,
	); err != nil {
		return nil, err
	}
	r.Pattern = pattern.String
	r.Fingerprint = fingerprint.String
	r.Status = Status(status)
	r.AbortReason = abortReason.String

	started, err := time.Parse(timeLayout, startedS)
	if err != nil {
		return nil, fmt.Errorf("parse runs.started_at: %w", err)
	}
	r.StartedAt = started
	if finishedS.Valid {
		finished, err := time.Parse(timeLayout, finishedS.String)
		if err != nil {
			return nil, fmt.Errorf("parse runs.finished_at: %w", err)
		}
		r.FinishedAt = &finished
	}
	return &r, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
