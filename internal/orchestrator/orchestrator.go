// Package orchestrator runs a test plugin across a pool of workers, wrapped in
// the global, per-workspace and per-test lifecycle scripts.
//
// A run resolves the plugin, runs the global setup script, discovers tests,
// queues them, starts min(workers, tests) workers with one sentinel each,
// joins them, runs the global teardown script and finally checks that the
// queue was drained. A worker that dies leaves entries (at least its own
// sentinel) behind, which fails that final check. Workers also report their
// outcome directly so the run can say why it failed; a worker abort after
// the queue drained is logged and recorded but does not fail the run.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/paratest/internal/log"
	"github.com/mattjoyce/paratest/internal/plugin"
	"github.com/mattjoyce/paratest/internal/queue"
	"github.com/mattjoyce/paratest/internal/script"
)

// Orchestrator drives runs. It holds no per-run state and may be reused.
type Orchestrator struct {
	cfg        Config
	registry   Resolver
	runner     ScriptRunner
	workspaces Workspaces
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithObserver sets the run observer. Use Observers to combine several.
func WithObserver(o Observer) Option {
	return func(orc *Orchestrator) {
		if o != nil {
			orc.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(orc *Orchestrator) {
		if l != nil {
			orc.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(orc *Orchestrator) { orc.now = now }
}

// New creates an Orchestrator.
func New(cfg Config, registry Resolver, runner ScriptRunner, workspaces Workspaces, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		runner:     runner,
		workspaces: workspaces,
		observer:   NopObserver{},
		logger:     log.WithComponent("orchestrator"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ListPlugins writes every resolvable plugin name to w, one per line.
func (o *Orchestrator) ListPlugins(w io.Writer) error {
	for _, name := range o.registry.Names() {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return err
		}
	}
	return nil
}

// Run executes one orchestrated run of pluginName.
//
// The returned error is plugin.ErrPluginNotFound (wrapped) when the plugin
// cannot be resolved, in which case the summary is nil and nothing ran.
// Otherwise it is nil or an *AbortError, and the summary is always non-nil.
// Failed tests never produce an error.
func (o *Orchestrator) Run(ctx context.Context, pluginName string) (*Summary, error) {
	if o.cfg.Workers < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkers, o.cfg.Workers)
	}
	p, err := o.registry.Resolve(pluginName)
	if err != nil {
		return nil, err
	}

	runID := o.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := o.logger.With("run_id", runID)

	summary := &Summary{
		RunID:       runID,
		Plugin:      pluginName,
		Fingerprint: o.cfg.Fingerprint,
		StartedAt:   o.now(),
	}
	o.observer.RunStarted(RunInfo{
		RunID:       runID,
		Plugin:      pluginName,
		Source:      o.cfg.Source,
		Pattern:     o.cfg.Pattern,
		Workers:     o.cfg.Workers,
		Fingerprint: o.cfg.Fingerprint,
		StartedAt:   summary.StartedAt,
	})
	logger.Info("run started", "plugin", pluginName, "workers", o.cfg.Workers)

	runErr := o.execute(ctx, p, summary, logger)

	summary.FinishedAt = o.now()
	if abort, ok := AsAbort(runErr); ok {
		summary.Abort = abort
		logger.Error("run aborted", "reason", abort.Reason, "error", abort.Error())
	} else {
		logger.Info("run finished",
			"passed", summary.Passed,
			"failed", summary.Failed,
			"duration", summary.FinishedAt.Sub(summary.StartedAt),
		)
	}
	o.observer.RunFinished(*summary)

	if runErr != nil {
		return summary, runErr
	}
	return summary, nil
}

func (o *Orchestrator) execute(ctx context.Context, p plugin.Plugin, summary *Summary, logger *slog.Logger) error {
	bindings := script.Bindings{
		script.KeySource: o.cfg.Source,
		script.KeyPath:   o.cfg.Source,
		script.KeyOutput: o.cfg.Output,
		script.KeyRun:    summary.RunID,
	}

	// Setup failure: nothing to tear down, no worker ever starts.
	if abort := o.global(ctx, script.StageSetup, o.cfg.Scripts.Setup, bindings); abort != nil {
		return abort
	}

	ids, err := p.Find(ctx, plugin.FindRequest{Source: o.cfg.Source, Pattern: o.cfg.Pattern})
	if err != nil {
		abort := &AbortError{Reason: ReasonDiscoveryFailed, WorkerID: NoWorker, ExitCode: -1, Cause: err}
		if ctx.Err() != nil {
			abort = &AbortError{Reason: ReasonInterrupted, WorkerID: NoWorker, ExitCode: -1, Cause: ctx.Err()}
		}
		if t := o.global(teardownContext(ctx), script.StageTeardown, o.cfg.Scripts.Teardown, bindings); t != nil {
			logger.Error("teardown after failed discovery also failed", "error", t.Error())
		}
		return abort
	}
	summary.Discovered = len(ids)
	logger.Info("tests discovered", "count", len(ids))

	q := queue.New()
	for _, id := range ids {
		q.Push(queue.Test(string(id)))
	}
	o.observer.TestsDiscovered(summary.RunID, ids)

	workerCount := min(o.cfg.Workers, len(ids))
	outcomes := make(chan WorkerOutcome, workerCount)
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		w := &worker{
			id:         i,
			runID:      summary.RunID,
			source:     o.cfg.Source,
			output:     o.cfg.Output,
			scripts:    o.cfg.Scripts,
			plugin:     p,
			queue:      q,
			runner:     o.runner,
			workspaces: o.workspaces,
			observer:   o.observer,
			bindings:   bindings,
			logger:     logger.With("worker", i),
			now:        o.now,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes <- w.run(ctx)
		}()
		q.Push(queue.Sentinel())
	}
	summary.WorkersStarted = workerCount
	logger.Debug("workers started", "count", workerCount)

	// Join on workers only. Waiting on the queue's completion counter would
	// hang forever once a worker dies with entries still queued.
	wg.Wait()
	close(outcomes)

	var firstWorkerAbort *AbortError
	for _, outcome := range collect(outcomes) {
		summary.Results = append(summary.Results, outcome.Results...)
		if outcome.Abort != nil {
			summary.WorkerAborts = append(summary.WorkerAborts, outcome.Abort)
			if firstWorkerAbort == nil {
				firstWorkerAbort = outcome.Abort
			}
		}
	}
	sort.SliceStable(summary.Results, func(i, j int) bool {
		return summary.Results[i].StartedAt.Before(summary.Results[j].StartedAt)
	})
	for _, r := range summary.Results {
		if r.Passed() {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	teardownAbort := o.global(teardownContext(ctx), script.StageTeardown, o.cfg.Scripts.Teardown, bindings)

	for _, e := range q.Remaining() {
		if !e.IsSentinel() {
			summary.Unprocessed = append(summary.Unprocessed, plugin.TestID(e.TestID()))
		}
	}

	if err := ctx.Err(); err != nil {
		if teardownAbort != nil {
			logger.Error("teardown failed during interruption", "error", teardownAbort.Error())
		}
		return &AbortError{Reason: ReasonInterrupted, WorkerID: NoWorker, ExitCode: -1, Cause: err}
	}
	if teardownAbort != nil {
		return teardownAbort
	}
	if !q.IsEmpty() {
		abort := &AbortError{Reason: ReasonUnprocessed, WorkerID: NoWorker, ExitCode: -1}
		if firstWorkerAbort != nil {
			abort.Cause = firstWorkerAbort
		}
		if len(summary.Unprocessed) > 0 {
			logger.Error("tests were never run", "tests", joinIDs(summary.Unprocessed))
		}
		return abort
	}
	for _, a := range summary.WorkerAborts {
		logger.Error("worker died after the queue drained", "worker", a.WorkerID, "error", a.Error())
	}
	return nil
}

func (o *Orchestrator) global(ctx context.Context, stage, template string, bindings script.Bindings) *AbortError {
	code, err := o.runner.Run(ctx, stage, template, bindings)
	if err != nil || code != 0 {
		return scriptAbort(NoWorker, stage, code, err)
	}
	return nil
}

// teardownContext keeps global teardown running after an interrupt so
// resources created by setup are still released.
func teardownContext(ctx context.Context) context.Context {
	if ctx.Err() != nil {
		return context.WithoutCancel(ctx)
	}
	return ctx
}

func collect(outcomes <-chan WorkerOutcome) []WorkerOutcome {
	var out []WorkerOutcome
	for o := range outcomes {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

func joinIDs(ids []plugin.TestID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
