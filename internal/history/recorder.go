package history

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mattjoyce/paratest/internal/orchestrator"
)

// Recorder is an orchestrator.Observer that writes each run to a Store.
// Write failures are logged and kept; they never affect the run itself.
type Recorder struct {
	orchestrator.NopObserver

	store  *Store
	ctx    context.Context
	logger *slog.Logger

	mu     sync.Mutex
	active bool
	err    error
}

var _ orchestrator.Observer = (*Recorder)(nil)

// NewRecorder creates a Recorder. ctx bounds every database write; it should
// outlive the run so the final row is written after an interrupt.
func NewRecorder(ctx context.Context, store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, ctx: ctx, logger: logger}
}

// Err returns the first write error, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Recorder) RunStarted(info orchestrator.RunInfo) {
	err := r.store.BeginRun(r.ctx, Run{
		ID:               info.RunID,
		Plugin:           info.Plugin,
		Source:           info.Source,
		Pattern:          info.Pattern,
		WorkersRequested: info.Workers,
		Fingerprint:      info.Fingerprint,
		Status:           StatusRunning,
		StartedAt:        info.StartedAt,
	})
	r.mu.Lock()
	r.active = err == nil
	r.mu.Unlock()
	r.fail("begin run", err)
}

func (r *Recorder) TestFinished(result orchestrator.TestResult) {
	if !r.isActive() {
		return
	}
	rec := TestRecord{
		RunID:      result.RunID,
		TestID:     string(result.TestID),
		WorkerID:   result.WorkerID,
		Status:     StatusPassed,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Duration:   result.Duration(),
	}
	if result.Err != nil {
		rec.Status = StatusFailed
		rec.Error = result.Err.Error()
	}
	r.fail("record test", r.store.RecordTest(r.ctx, rec))
}

func (r *Recorder) RunFinished(summary orchestrator.Summary) {
	if !r.isActive() {
		return
	}
	r.fail("finish run", r.store.FinishRun(r.ctx, summary.RunID, CompletionFor(summary)))
}

// CompletionFor derives the stored final state of a run from its summary. A
// run passes unless it aborted; failed tests are counted, not fatal.
func CompletionFor(summary orchestrator.Summary) Completion {
	c := Completion{
		Status:         StatusPassed,
		WorkersStarted: summary.WorkersStarted,
		Total:          summary.Discovered,
		Passed:         summary.Passed,
		Failed:         summary.Failed,
		FinishedAt:     summary.FinishedAt,
	}
	if summary.Abort != nil {
		c.Status = StatusAborted
		c.AbortReason = summary.Abort.Error()
	}
	return c
}

func (r *Recorder) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *Recorder) fail(op string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("run history write failed", "op", op, "error", err)
	r.mu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.mu.Unlock()
}
