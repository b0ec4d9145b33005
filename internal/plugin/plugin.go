// Package plugin defines the test-runner capability and the registry used to
// resolve implementations by name.
//
// Built-in runners are compiled in and registered with RegisterBuiltins.
// External runners are discovered from manifest.yaml files under the plugin
// search path and executed as subprocesses (see External).
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrPluginNotFound is returned when no plugin is registered under a name.
var ErrPluginNotFound = errors.New("plugin not found")

// TestID is an opaque, plugin-defined identifier for one unit of test work.
type TestID string

// FindRequest carries the discovery inputs passed to Plugin.Find.
type FindRequest struct {
	Source  string
	Pattern string
}

// RunContext is everything a plugin needs to execute one test.
type RunContext struct {
	RunID     string
	WorkerID  int
	TestID    TestID
	Workspace string
	OutputDir string
	Source    string
}

// Plugin discovers and runs tests.
type Plugin interface {
	// Find enumerates tests under req.Source. Order is preserved into the work queue.
	Find(ctx context.Context, req FindRequest) ([]TestID, error)

	// Run executes exactly one test. A returned error is a test failure, never fatal to the run.
	Run(ctx context.Context, rc RunContext) error
}

// EnvironmentInitializer is implemented by plugins that need one-time per-worker setup.
type EnvironmentInitializer interface {
	InitEnvironment(ctx context.Context, workerID int, workspace string) error
}

//go:generate mockgen -destination=mocks/mock_plugin.go -package=mocks github.com/mattjoyce/paratest/internal/plugin Plugin,EnvironmentInitializer

// Factory creates a fresh plugin instance for one run.
type Factory func() (Plugin, error)

// Entry describes a registered plugin.
type Entry struct {
	Name        string
	Description string
	Source      string // "builtin" or the manifest directory
	Factory     Factory
}

// Registry holds plugin factories indexed by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry creates an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Entry),
	}
}

// Register adds a plugin under entry.Name. Names are unique; the first
// registration wins and later ones return an error.
func (r *Registry) Register(entry Entry) error {
	if entry.Name == "" {
		return fmt.Errorf("plugin name is empty")
	}
	if entry.Factory == nil {
		return fmt.Errorf("plugin %q has no factory", entry.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[entry.Name]; exists {
		return fmt.Errorf("plugin %q already registered", entry.Name)
	}
	r.entries[entry.Name] = entry
	return nil
}

// Get retrieves a registry entry by name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Lookup finds an entry by exact name, falling back to a unique
// case-insensitive match ("Dummy" resolves to "dummy").
func (r *Registry) Lookup(name string) (Entry, bool) {
	if e, ok := r.Get(name); ok {
		return e, true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		match Entry
		n     int
	)
	for key, e := range r.entries {
		if strings.EqualFold(key, name) {
			match = e
			n++
		}
	}
	return match, n == 1
}

// Resolve instantiates the plugin registered under name.
func (r *Registry) Resolve(name string) (Plugin, error) {
	entry, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPluginNotFound, name)
	}
	p, err := entry.Factory()
	if err != nil {
		return nil, fmt.Errorf("instantiate plugin %q: %w", entry.Name, err)
	}
	return p, nil
}

// Names returns every registered plugin name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns every registry entry, sorted by name.
func (r *Registry) Entries() []Entry {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name])
	}
	return out
}
