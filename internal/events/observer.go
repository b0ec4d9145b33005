package events

import (
	"github.com/mattjoyce/paratest/internal/orchestrator"
	"github.com/mattjoyce/paratest/internal/plugin"
)

// Event types published by Observer.
const (
	TypeRunStarted      = "run.started"
	TypeTestsDiscovered = "run.discovered"
	TypeWorkerStarted   = "worker.started"
	TypeTestStarted     = "test.started"
	TypeTestFinished    = "test.finished"
	TypeWorkerFinished  = "worker.finished"
	TypeRunFinished     = "run.finished"
)

// RunStarted is the payload of TypeRunStarted.
type RunStarted struct {
	RunID   string `json:"run_id"`
	Plugin  string `json:"plugin"`
	Source  string `json:"source"`
	Pattern string `json:"pattern,omitempty"`
	Workers int    `json:"workers"`
}

// TestsDiscovered is the payload of TypeTestsDiscovered.
type TestsDiscovered struct {
	RunID string   `json:"run_id"`
	Count int      `json:"count"`
	Tests []string `json:"tests"`
}

// WorkerEvent is the payload of TypeWorkerStarted and TypeWorkerFinished.
type WorkerEvent struct {
	RunID     string `json:"run_id"`
	WorkerID  int    `json:"worker_id"`
	Workspace string `json:"workspace,omitempty"`
	Tests     int    `json:"tests,omitempty"`
	Abort     string `json:"abort,omitempty"`
}

// TestEvent is the payload of TypeTestStarted and TypeTestFinished.
type TestEvent struct {
	RunID      string `json:"run_id"`
	WorkerID   int    `json:"worker_id"`
	TestID     string `json:"test_id"`
	Passed     bool   `json:"passed"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// RunFinished is the payload of TypeRunFinished.
type RunFinished struct {
	RunID       string   `json:"run_id"`
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	Unprocessed []string `json:"unprocessed,omitempty"`
	Abort       string   `json:"abort,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// Observer publishes orchestrator notifications to a Hub.
type Observer struct {
	hub *Hub
}

var _ orchestrator.Observer = (*Observer)(nil)

func NewObserver(hub *Hub) *Observer {
	return &Observer{hub: hub}
}

func (o *Observer) RunStarted(info orchestrator.RunInfo) {
	o.hub.Publish(TypeRunStarted, RunStarted{
		RunID:   info.RunID,
		Plugin:  info.Plugin,
		Source:  info.Source,
		Pattern: info.Pattern,
		Workers: info.Workers,
	})
}

func (o *Observer) TestsDiscovered(runID string, tests []plugin.TestID) {
	o.hub.Publish(TypeTestsDiscovered, TestsDiscovered{RunID: runID, Count: len(tests), Tests: ids(tests)})
}

func (o *Observer) WorkerStarted(runID string, workerID int) {
	o.hub.Publish(TypeWorkerStarted, WorkerEvent{RunID: runID, WorkerID: workerID})
}

func (o *Observer) TestStarted(runID string, workerID int, testID plugin.TestID) {
	o.hub.Publish(TypeTestStarted, TestEvent{RunID: runID, WorkerID: workerID, TestID: string(testID)})
}

func (o *Observer) TestFinished(r orchestrator.TestResult) {
	ev := TestEvent{
		RunID:      r.RunID,
		WorkerID:   r.WorkerID,
		TestID:     string(r.TestID),
		Passed:     r.Passed(),
		DurationMS: r.Duration().Milliseconds(),
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}
	o.hub.Publish(TypeTestFinished, ev)
}

func (o *Observer) WorkerFinished(out orchestrator.WorkerOutcome) {
	ev := WorkerEvent{
		RunID:     out.RunID,
		WorkerID:  out.WorkerID,
		Workspace: out.Workspace,
		Tests:     len(out.Results),
	}
	if out.Abort != nil {
		ev.Abort = out.Abort.Error()
	}
	o.hub.Publish(TypeWorkerFinished, ev)
}

func (o *Observer) RunFinished(s orchestrator.Summary) {
	ev := RunFinished{
		RunID:       s.RunID,
		Passed:      s.Passed,
		Failed:      s.Failed,
		Unprocessed: ids(s.Unprocessed),
		DurationMS:  s.FinishedAt.Sub(s.StartedAt).Milliseconds(),
	}
	if s.Abort != nil {
		ev.Abort = s.Abort.Error()
	}
	o.hub.Publish(TypeRunFinished, ev)
}

func ids(in []plugin.TestID) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, id := range in {
		out[i] = string(id)
	}
	return out
}
