package e2e

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/paratest/internal/config"
	"github.com/mattjoyce/paratest/internal/history"
	"github.com/mattjoyce/paratest/internal/orchestrator"
	"github.com/mattjoyce/paratest/internal/plugin"
	"github.com/mattjoyce/paratest/internal/script"
	"github.com/mattjoyce/paratest/internal/storage"
	"github.com/mattjoyce/paratest/internal/workspace"
)

// shellPlugin treats every <name>.t file under the source path as a test.
// A test fails when its file contains the word "fail".
const shellPlugin = `#!/bin/sh
cat >/dev/null
case "$PARATEST_COMMAND" in
find)
  pat=${PARATEST_PATTERN:-*}
  tests=""
  for f in "$PARATEST_SOURCE"/*.t; do
    [ -e "$f" ] || continue
    name=$(basename "$f" .t)
    case "$name" in
      $pat) tests="$tests${tests:+,}\"$name\"" ;;
    esac
  done
  echo "{\"status\":\"ok\",\"tests\":[$tests]}"
  ;;
init)
  echo "$PARATEST_WORKER_ID" > "$PARATEST_WORKSPACE/init"
  echo '{"status":"ok"}'
  ;;
run)
  mkdir -p "$PARATEST_OUTPUT"
  echo "$PARATEST_WORKER_ID" > "$PARATEST_OUTPUT/$PARATEST_TEST_ID.out"
  if grep -q fail "$PARATEST_SOURCE/$PARATEST_TEST_ID.t"; then
    echo '{"status":"error","error":"assertion failed"}'
  else
    echo '{"status":"ok","logs":[{"level":"debug","message":"ok"}]}'
  fi
  ;;
esac
`

const shellManifest = `name: shell
version: 0.1.0
protocol: 1
entrypoint: run.sh
description: Runs *.t files
commands: [find, init, run]
timeouts:
  run: 10s
`

type fixture struct {
	root      string
	source    string
	output    string
	pluginDir string
	wsRoot    string
	lifecycle string
}

func newFixture(t *testing.T, tests map[string]string) fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell plugin")
	}
	root := t.TempDir()
	f := fixture{
		root:      root,
		source:    filepath.Join(root, "src"),
		output:    filepath.Join(root, "output"),
		pluginDir: filepath.Join(root, "plugins"),
		wsRoot:    filepath.Join(root, "workspaces"),
		lifecycle: filepath.Join(root, "lifecycle.log"),
	}
	for _, dir := range []string{f.source, filepath.Join(f.pluginDir, "shell")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	writeFile(t, filepath.Join(f.pluginDir, "shell", "run.sh"), shellPlugin, 0o755)
	writeFile(t, filepath.Join(f.pluginDir, "shell", "manifest.yaml"), shellManifest, 0o644)
	for name, body := range tests {
		writeFile(t, filepath.Join(f.source, name+".t"), body, 0o644)
	}
	return f
}

func writeFile(t *testing.T, path, body string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (f fixture) orchestrator(t *testing.T, runID, pattern string, workers int, obs orchestrator.Observer) (*orchestrator.Orchestrator, *plugin.Registry) {
	t.Helper()
	reg := plugin.NewRegistry()
	if err := plugin.RegisterBuiltins(reg); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	descs, err := plugin.DiscoverMany([]string{f.pluginDir}, reg, quietLogger())
	if err != nil {
		t.Fatalf("DiscoverMany: %v", err)
	}
	if len(descs) != 1 || descs[0].Name != "shell" {
		t.Fatalf("expected the shell plugin to be discovered, got %v", descs)
	}

	ws, err := workspace.NewFSManager(f.wsRoot)
	if err != nil {
		t.Fatalf("NewFSManager: %v", err)
	}
	scripts := config.ScriptSet{
		Setup:          "echo setup >> " + f.lifecycle,
		SetupWorkspace: "echo {id} > {workspace}/ws",
		TeardownTest:   "echo {test} >> {workspace}/done",
		Teardown:       "echo teardown >> " + f.lifecycle,
	}
	orc := orchestrator.New(
		orchestrator.Config{
			RunID:   runID,
			Source:  f.source,
			Pattern: pattern,
			Output:  f.output,
			Workers: workers,
			Scripts: scripts,
		},
		reg,
		script.NewRunner(script.WithLogger(quietLogger())),
		ws,
		orchestrator.WithObserver(obs),
		orchestrator.WithLogger(quietLogger()),
	)
	return orc, reg
}

func TestExternalPluginEndToEnd(t *testing.T) {
	f := newFixture(t, map[string]string{
		"alpha": "pass",
		"beta":  "fail",
		"delta": "pass",
		"gamma": "pass",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := storage.OpenSQLite(ctx, filepath.Join(f.root, "history.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer db.Close()
	store := history.NewStore(db)
	recorder := history.NewRecorder(ctx, store, quietLogger())
	progress := orchestrator.NewProgress()

	orc, _ := f.orchestrator(t, "e2e-run", "", 2, orchestrator.Observers(recorder, progress))
	summary, err := orc.Run(ctx, "shell")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Discovered != 4 || summary.Passed != 3 || summary.Failed != 1 {
		t.Fatalf("summary = discovered %d passed %d failed %d", summary.Discovered, summary.Passed, summary.Failed)
	}
	if failed := summary.FailedTests(); len(failed) != 1 || failed[0] != "beta" {
		t.Fatalf("FailedTests = %v", failed)
	}
	if summary.WorkersStarted != 2 {
		t.Fatalf("WorkersStarted = %d, want 2", summary.WorkersStarted)
	}

	// Global scripts ran once each, in order.
	data, err := os.ReadFile(f.lifecycle)
	if err != nil {
		t.Fatalf("read lifecycle log: %v", err)
	}
	if string(data) != "setup\nteardown\n" {
		t.Fatalf("lifecycle log = %q", data)
	}

	// Every test left an artifact in the output directory.
	for _, id := range []string{"alpha", "beta", "delta", "gamma"} {
		if _, err := os.Stat(filepath.Join(f.output, id+".out")); err != nil {
			t.Fatalf("missing artifact for %s: %v", id, err)
		}
	}

	// Each workspace saw init, setup-workspace and a teardown-test per test it ran.
	var done []string
	for worker := 0; worker < 2; worker++ {
		dir := filepath.Join(f.wsRoot, "e2e-run", strconv.Itoa(worker))
		for _, name := range []string{"init", "ws"} {
			b, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				t.Fatalf("worker %d %s: %v", worker, name, err)
			}
			if strings.TrimSpace(string(b)) != strconv.Itoa(worker) {
				t.Fatalf("worker %d %s = %q", worker, name, b)
			}
		}
		b, err := os.ReadFile(filepath.Join(dir, "done"))
		if err != nil {
			t.Fatalf("worker %d done: %v", worker, err)
		}
		// The sentinel also gets a teardown-test, with {test} left unbound.
		lines := strings.Fields(string(b))
		var sentinels int
		for _, l := range lines {
			if l == "{test}" {
				sentinels++
				continue
			}
			done = append(done, l)
		}
		if sentinels != 1 || lines[len(lines)-1] != "{test}" {
			t.Fatalf("worker %d teardown-test lines = %v, want one trailing {test}", worker, lines)
		}
	}
	sort.Strings(done)
	if strings.Join(done, ",") != "alpha,beta,delta,gamma" {
		t.Fatalf("teardown-test saw %v", done)
	}

	// The run was recorded.
	if err := recorder.Err(); err != nil {
		t.Fatalf("recorder: %v", err)
	}
	run, err := store.GetRun(ctx, "e2e-run")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != history.StatusPassed || run.Total != 4 || run.Failed != 1 {
		t.Fatalf("recorded run = %+v", run)
	}
	records, err := store.TestsForRun(ctx, "e2e-run")
	if err != nil {
		t.Fatalf("TestsForRun: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("recorded %d tests, want 4", len(records))
	}
	for _, rec := range records {
		if rec.TestID == "beta" && !strings.Contains(rec.Error, "assertion failed") {
			t.Fatalf("beta error = %q", rec.Error)
		}
	}

	if snap := progress.Snapshot(); snap.State != orchestrator.StateFinished || snap.Completed != 4 {
		t.Fatalf("progress = %+v", snap)
	}
}

func TestExternalPluginPatternNarrowsDiscovery(t *testing.T) {
	f := newFixture(t, map[string]string{
		"api_users":  "pass",
		"api_orders": "pass",
		"ui_login":   "fail",
	})

	orc, _ := f.orchestrator(t, "pattern-run", "api_*", 4, orchestrator.NopObserver{})
	summary, err := orc.Run(context.Background(), "shell")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Discovered != 2 || summary.Failed != 0 {
		t.Fatalf("summary = discovered %d failed %d", summary.Discovered, summary.Failed)
	}
	// min(workers, tests)
	if summary.WorkersStarted != 2 {
		t.Fatalf("WorkersStarted = %d, want 2", summary.WorkersStarted)
	}
}

func TestExternalPluginNoTests(t *testing.T) {
	f := newFixture(t, nil)

	orc, _ := f.orchestrator(t, "empty-run", "", 3, orchestrator.NopObserver{})
	summary, err := orc.Run(context.Background(), "shell")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Discovered != 0 || summary.WorkersStarted != 0 {
		t.Fatalf("summary = discovered %d workers %d", summary.Discovered, summary.WorkersStarted)
	}
	data, err := os.ReadFile(f.lifecycle)
	if err != nil {
		t.Fatalf("read lifecycle log: %v", err)
	}
	if string(data) != "setup\nteardown\n" {
		t.Fatalf("lifecycle log = %q", data)
	}
}

func TestBuiltinAndExternalListed(t *testing.T) {
	f := newFixture(t, nil)
	_, reg := f.orchestrator(t, "list-run", "", 1, orchestrator.NopObserver{})
	if got := strings.Join(reg.Names(), ","); got != "dummy,shell" {
		t.Fatalf("Names = %s", got)
	}
}
