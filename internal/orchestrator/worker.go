package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mattjoyce/paratest/internal/config"
	"github.com/mattjoyce/paratest/internal/plugin"
	"github.com/mattjoyce/paratest/internal/queue"
	"github.com/mattjoyce/paratest/internal/script"
)

// worker owns one workspace slot for the duration of a run.
//
// Lifecycle: create workspace, InitEnvironment, setup-workspace, then
// (setup-test, pop, run, teardown-test)* until a sentinel, then
// teardown-workspace. A failing lifecycle step kills the worker: it stops
// without running any further script and leaves the rest of the queue to its
// siblings. The orchestrator notices through the queue, not through the worker.
type worker struct {
	id         int
	runID      string
	source     string
	output     string
	scripts    config.ScriptSet
	plugin     plugin.Plugin
	queue      *queue.Queue
	runner     ScriptRunner
	workspaces Workspaces
	observer   Observer
	bindings   script.Bindings
	logger     *slog.Logger
	now        func() time.Time
}

func (w *worker) run(ctx context.Context) (out WorkerOutcome) {
	out = WorkerOutcome{RunID: w.runID, WorkerID: w.id}
	w.observer.WorkerStarted(w.runID, w.id)
	defer func() {
		if out.Abort != nil {
			w.logger.Error("worker died", "reason", out.Abort.Reason, "error", out.Abort.Error())
		} else {
			w.logger.Debug("worker finished", "tests", len(out.Results))
		}
		w.observer.WorkerFinished(out)
	}()

	ws, err := w.workspaces.Create(ctx, w.runID, w.id)
	if err != nil {
		out.Abort = &AbortError{Reason: ReasonWorkspaceFailed, WorkerID: w.id, ExitCode: -1, Cause: err}
		return out
	}
	out.Workspace = ws.Dir
	w.logger.Debug("workspace created", "workspace", ws.Dir)

	if init, ok := w.plugin.(plugin.EnvironmentInitializer); ok {
		if err := initEnvironment(ctx, init, w.id, ws.Dir); err != nil {
			out.Abort = &AbortError{Reason: ReasonEnvironmentFailed, WorkerID: w.id, ExitCode: -1, Cause: err}
			return out
		}
	}

	bindings := w.bindings.WithWorker(w.id, ws.Dir)

	if abort := w.script(ctx, script.StageSetupWorkspace, w.scripts.SetupWorkspace, bindings); abort != nil {
		out.Abort = abort
		return out
	}

	for {
		if abort := w.script(ctx, script.StageSetupTest, w.scripts.SetupTest, bindings); abort != nil {
			out.Abort = abort
			return out
		}

		entry, err := w.queue.Pop(ctx)
		if err != nil {
			w.logger.Warn("stopped waiting for work", "error", err)
			out.Interrupted = true
			return out
		}

		stop := entry.IsSentinel()
		testBindings := bindings
		if !stop {
			result := w.execute(ctx, plugin.TestID(entry.TestID()), ws.Dir)
			out.Results = append(out.Results, result)
			testBindings = bindings.With(script.KeyTest, entry.TestID())
		}
		if err := w.queue.MarkDone(); err != nil {
			w.logger.Error("queue bookkeeping failed", "error", err)
		}

		if abort := w.script(ctx, script.StageTeardownTest, w.scripts.TeardownTest, testBindings); abort != nil {
			out.Abort = abort
			return out
		}
		if stop {
			break
		}
	}

	if abort := w.script(ctx, script.StageTeardownWorkspace, w.scripts.TeardownWorkspace, bindings); abort != nil {
		out.Abort = abort
	}
	return out
}

// initEnvironment turns a panicking InitEnvironment into an error so only
// this worker dies.
func initEnvironment(ctx context.Context, init plugin.EnvironmentInitializer, workerID int, dir string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panicked during environment init: %v", r)
		}
	}()
	return init.InitEnvironment(ctx, workerID, dir)
}

// execute runs one test. Errors and panics from the plugin are a test
// failure, never a worker failure.
func (w *worker) execute(ctx context.Context, id plugin.TestID, workspace string) (result TestResult) {
	result = TestResult{RunID: w.runID, WorkerID: w.id, TestID: id, StartedAt: w.now()}
	logger := w.logger.With("test_id", string(id))
	w.observer.TestStarted(w.runID, w.id, id)

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("plugin panicked: %v", r)
		}
		result.FinishedAt = w.now()
		if result.Err != nil {
			logger.Error("test failed", "error", result.Err, "duration", result.Duration())
		} else {
			logger.Info("test passed", "duration", result.Duration())
		}
		w.observer.TestFinished(result)
	}()

	result.Err = w.plugin.Run(ctx, plugin.RunContext{
		RunID:     w.runID,
		WorkerID:  w.id,
		TestID:    id,
		Workspace: workspace,
		OutputDir: outputDir(w.output),
		Source:    w.source,
	})
	return result
}

func (w *worker) script(ctx context.Context, stage, template string, bindings script.Bindings) *AbortError {
	code, err := w.runner.Run(ctx, stage, template, bindings)
	if err != nil || code != 0 {
		return scriptAbort(w.id, stage, code, err)
	}
	return nil
}

func outputDir(output string) string {
	if output == "" {
		return ""
	}
	if abs, err := filepath.Abs(output); err == nil {
		return abs
	}
	return output
}
