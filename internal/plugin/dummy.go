package plugin

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
)

// DummyName is the registry name of the built-in demonstration plugin.
const DummyName = "dummy"

// Dummy discovers a fixed set of tests and fails on "bazz". It exists so the
// orchestrator can be exercised without any external test framework.
type Dummy struct {
	mu  sync.Mutex
	out io.Writer
}

// NewDummy creates a Dummy printing to out (stdout when nil).
func NewDummy(out io.Writer) *Dummy {
	if out == nil {
		out = os.Stdout
	}
	return &Dummy{out: out}
}

// Find ignores its inputs and returns foo, bar, bazz.
func (d *Dummy) Find(ctx context.Context, req FindRequest) ([]TestID, error) {
	return []TestID{"foo", "bar", "bazz"}, nil
}

// Run prints the test being executed; bazz always fails.
func (d *Dummy) Run(ctx context.Context, rc RunContext) error {
	if rc.TestID == "bazz" {
		return fmt.Errorf("erroneous test %q", rc.TestID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := fmt.Fprintf(d.out, "Worker %d: Running test %s\n", rc.WorkerID, rc.TestID)
	return err
}

// InitEnvironment is a no-op.
func (d *Dummy) InitEnvironment(ctx context.Context, workerID int, workspace string) error {
	return nil
}

// RegisterBuiltins adds the compiled-in plugins to r.
func RegisterBuiltins(r *Registry) error {
	return r.Register(Entry{
		Name:        DummyName,
		Description: "Demonstration plugin: finds foo, bar, bazz and fails bazz",
		Source:      "builtin",
		Factory:     func() (Plugin, error) { return NewDummy(nil), nil },
	})
}
