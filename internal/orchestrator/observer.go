package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/mattjoyce/paratest/internal/plugin"
)

// Observer receives run lifecycle notifications. Worker callbacks arrive
// concurrently, so implementations must be safe for use by multiple
// goroutines. Callbacks must not block for long; they run on the worker's
// goroutine.
type Observer interface {
	RunStarted(info RunInfo)
	TestsDiscovered(runID string, tests []plugin.TestID)
	WorkerStarted(runID string, workerID int)
	TestStarted(runID string, workerID int, testID plugin.TestID)
	TestFinished(result TestResult)
	WorkerFinished(outcome WorkerOutcome)
	RunFinished(summary Summary)
}

// NopObserver implements Observer with no-ops. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) RunStarted(RunInfo) {}
func (NopObserver) TestsDiscovered(string, []plugin.TestID) {}
func (NopObserver) WorkerStarted(string, int) {}
func (NopObserver) TestStarted(string, int, plugin.TestID) {}
func (NopObserver) TestFinished(TestResult) {}
func (NopObserver) WorkerFinished(WorkerOutcome) {}
func (NopObserver) RunFinished(Summary) {}

type multiObserver []Observer

// Observers fans notifications out to every non-nil observer, in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) RunStarted(info RunInfo) {
	for _, o := range m {
		o.RunStarted(info)
	}
}

func (m multiObserver) TestsDiscovered(runID string, tests []plugin.TestID) {
	for _, o := range m {
		o.TestsDiscovered(runID, tests)
	}
}

func (m multiObserver) WorkerStarted(runID string, workerID int) {
	for _, o := range m {
		o.WorkerStarted(runID, workerID)
	}
}

func (m multiObserver) TestStarted(runID string, workerID int, testID plugin.TestID) {
	for _, o := range m {
		o.TestStarted(runID, workerID, testID)
	}
}

func (m multiObserver) TestFinished(result TestResult) {
	for _, o := range m {
		o.TestFinished(result)
	}
}

func (m multiObserver) WorkerFinished(outcome WorkerOutcome) {
	for _, o := range m {
		o.WorkerFinished(outcome)
	}
}

func (m multiObserver) RunFinished(summary Summary) {
	for _, o := range m {
		o.RunFinished(summary)
	}
}

// RunState is the coarse phase of a run as seen by Progress.
type RunState string

const (
	StatePending  RunState = "pending"
	StateRunning  RunState = "running"
	StateFinished RunState = "finished"
	StateAborted  RunState = "aborted"
)

// WorkerStatus is one worker's slot in a Snapshot.
type WorkerStatus struct {
	ID      int    `json:"id"`
	Test    string `json:"test,omitempty"`
	Done    bool   `json:"done"`
	Dead    bool   `json:"dead"`
	Tests   int    `json:"tests"`
	Failure string `json:"failure,omitempty"`
}

// Snapshot is a point-in-time view of a run.
type Snapshot struct {
	RunID       string         `json:"run_id,omitempty"`
	Plugin      string         `json:"plugin,omitempty"`
	State       RunState       `json:"state"`
	Discovered  int            `json:"discovered"`
	Completed   int            `json:"completed"`
	Passed      int            `json:"passed"`
	Failed      int            `json:"failed"`
	Workers     []WorkerStatus `json:"workers"`
	AbortReason string         `json:"abort_reason,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
}

// Progress is an Observer that keeps a live Snapshot of the current run.
type Progress struct {
	mu      sync.RWMutex
	snap    Snapshot
	workers map[int]*WorkerStatus
}

var _ Observer = (*Progress)(nil)

// NewProgress creates an empty progress tracker.
func NewProgress() *Progress {
	return &Progress{
		snap:    Snapshot{State: StatePending},
		workers: make(map[int]*WorkerStatus),
	}
}

// Snapshot returns a copy of the current state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := p.snap
	out.Workers = make([]WorkerStatus, 0, len(p.workers))
	for _, w := range p.workers {
		out.Workers = append(out.Workers, *w)
	}
	sort.Slice(out.Workers, func(i, j int) bool { return out.Workers[i].ID < out.Workers[j].ID })
	return out
}

func (p *Progress) RunStarted(info RunInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = Snapshot{
		RunID:     info.RunID,
		Plugin:    info.Plugin,
		State:     StateRunning,
		StartedAt: info.StartedAt,
	}
	p.workers = make(map[int]*WorkerStatus)
}

func (p *Progress) TestsDiscovered(_ string, tests []plugin.TestID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Discovered = len(tests)
}

func (p *Progress) WorkerStarted(_ string, workerID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers[workerID] = &WorkerStatus{ID: workerID}
}

func (p *Progress) TestStarted(_ string, workerID int, testID plugin.TestID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.worker(workerID).Test = string(testID)
}

func (p *Progress) TestFinished(result TestResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.worker(result.WorkerID)
	w.Test = ""
	w.Tests++
	p.snap.Completed++
	if result.Passed() {
		p.snap.Passed++
	} else {
		p.snap.Failed++
	}
}

func (p *Progress) WorkerFinished(outcome WorkerOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.worker(outcome.WorkerID)
	w.Done = true
	w.Test = ""
	if outcome.Abort != nil {
		w.Dead = true
		w.Failure = outcome.Abort.Error()
	}
}

func (p *Progress) RunFinished(summary Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.FinishedAt = summary.FinishedAt
	p.snap.State = StateFinished
	if summary.Abort != nil {
		p.snap.State = StateAborted
		p.snap.AbortReason = summary.Abort.Reason
	}
}

// worker must be called with p.mu held.
func (p *Progress) worker(id int) *WorkerStatus {
	w, ok := p.workers[id]
	if !ok {
		w = &WorkerStatus{ID: id}
		p.workers[id] = w
	}
	return w
}
