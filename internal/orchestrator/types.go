package orchestrator

import (
	"context"
	"time"

	"github.com/mattjoyce/paratest/internal/config"
	"github.com/mattjoyce/paratest/internal/plugin"
	"github.com/mattjoyce/paratest/internal/script"
	"github.com/mattjoyce/paratest/internal/workspace"
)

//go:generate mockgen -destination=mocks/mock_orchestrator.go -package=mocks github.com/mattjoyce/paratest/internal/orchestrator ScriptRunner,Workspaces

// ScriptRunner executes lifecycle templates. A non-zero exit code is a
// failure; so is a non-nil error.
type ScriptRunner interface {
	Run(ctx context.Context, stage, template string, bindings script.Bindings) (int, error)
}

// Workspaces creates per-worker directories.
type Workspaces interface {
	Create(ctx context.Context, runID string, workerID int) (workspace.Workspace, error)
}

// Resolver instantiates plugins by name.
type Resolver interface {
	Resolve(name string) (plugin.Plugin, error)
	Names() []string
}

// Config is everything a run needs besides its collaborators.
type Config struct {
	RunID       string // generated when empty
	Source      string
	Pattern     string
	Output      string
	Workers     int
	Scripts     config.ScriptSet
	Fingerprint string
}

// RunInfo describes a run as it starts.
type RunInfo struct {
	RunID       string
	Plugin      string
	Source      string
	Pattern     string
	Workers     int
	Fingerprint string
	StartedAt   time.Time
}

// TestResult is the outcome of one plugin.Run call.
type TestResult struct {
	RunID      string
	WorkerID   int
	TestID     plugin.TestID
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Passed reports whether the test succeeded.
func (r TestResult) Passed() bool { return r.Err == nil }

// Duration is the wall time of the plugin call.
func (r TestResult) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// WorkerOutcome is what a worker reports when its goroutine ends.
type WorkerOutcome struct {
	RunID       string
	WorkerID    int
	Workspace   string
	Results     []TestResult
	Abort       *AbortError // non-nil when the worker died
	Interrupted bool        // context cancelled while waiting for work
}

// Summary aggregates a finished run.
type Summary struct {
	RunID          string
	Plugin         string
	Fingerprint    string
	Discovered     int
	WorkersStarted int
	Passed         int
	Failed         int
	Results        []TestResult
	Unprocessed    []plugin.TestID
	WorkerAborts   []*AbortError
	Abort          *AbortError // the error returned by Run, if any
	StartedAt      time.Time
	FinishedAt     time.Time
}

// FailedTests returns the ids of failed tests in execution order.
func (s *Summary) FailedTests() []plugin.TestID {
	var out []plugin.TestID
	for _, r := range s.Results {
		if !r.Passed() {
			out = append(out, r.TestID)
		}
	}
	return out
}
