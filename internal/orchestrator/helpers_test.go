package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/paratest/internal/plugin"
	"github.com/mattjoyce/paratest/internal/script"
	"github.com/mattjoyce/paratest/internal/workspace"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptCall struct {
	stage    string
	template string
	bindings script.Bindings
}

// fakeRunner records every lifecycle call. fail decides the exit code.
type fakeRunner struct {
	mu    sync.Mutex
	calls []scriptCall
	fail  func(stage string, b script.Bindings) int
}

func (f *fakeRunner) Run(_ context.Context, stage, template string, b script.Bindings) (int, error) {
	f.mu.Lock()
	f.calls = append(f.calls, scriptCall{stage: stage, template: template, bindings: b})
	f.mu.Unlock()
	if f.fail != nil {
		return f.fail(stage, b), nil
	}
	return 0, nil
}

func (f *fakeRunner) stageCalls(stage string) []scriptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []scriptCall
	for _, c := range f.calls {
		if c.stage == stage {
			out = append(out, c)
		}
	}
	return out
}

// recordingPlugin finds a fixed list and counts Run calls per test.
type recordingPlugin struct {
	ids     []plugin.TestID
	failing map[plugin.TestID]bool

	mu      sync.Mutex
	runs    map[plugin.TestID]int
	workers map[int]bool
}

func newRecordingPlugin(n int) *recordingPlugin {
	p := &recordingPlugin{
		failing: map[plugin.TestID]bool{},
		runs:    map[plugin.TestID]int{},
		workers: map[int]bool{},
	}
	for i := 0; i < n; i++ {
		p.ids = append(p.ids, plugin.TestID(fmt.Sprintf("t%d", i)))
	}
	return p
}

func (p *recordingPlugin) Find(context.Context, plugin.FindRequest) ([]plugin.TestID, error) {
	return p.ids, nil
}

func (p *recordingPlugin) Run(_ context.Context, rc plugin.RunContext) error {
	p.mu.Lock()
	p.runs[rc.TestID]++
	p.workers[rc.WorkerID] = true
	p.mu.Unlock()
	if p.failing[rc.TestID] {
		return fmt.Errorf("%s failed", rc.TestID)
	}
	return nil
}

func (p *recordingPlugin) runCount() map[plugin.TestID]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[plugin.TestID]int, len(p.runs))
	for k, v := range p.runs {
		out[k] = v
	}
	return out
}

// staticResolver resolves a single plugin instance.
type staticResolver struct {
	name string
	p    plugin.Plugin
}

func (r staticResolver) Resolve(name string) (plugin.Plugin, error) {
	if name != r.name {
		return nil, fmt.Errorf("%w: %q", plugin.ErrPluginNotFound, name)
	}
	return r.p, nil
}

func (r staticResolver) Names() []string { return []string{r.name} }

func tempWorkspaces(t *testing.T) workspace.Manager {
	t.Helper()
	mgr, err := workspace.NewFSManager(t.TempDir())
	require.NoError(t, err)
	return mgr
}

func newTestOrchestrator(t *testing.T, cfg Config, p plugin.Plugin, runner ScriptRunner, opts ...Option) *Orchestrator {
	t.Helper()
	if cfg.RunID == "" {
		cfg.RunID = "run-test"
	}
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return New(cfg, staticResolver{name: "fake", p: p}, runner, tempWorkspaces(t), opts...)
}
