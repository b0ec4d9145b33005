// Package script runs lifecycle command templates through the platform shell.
//
// A template is rendered with named bindings, executed as a child process and
// its exit status returned. Stdout is logged at debug level and stderr at warn
// level. A non-zero exit is reported, never raised; the caller decides whether
// the stage is fatal.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"

	"github.com/mattjoyce/paratest/internal/log"
)

// Stage names used as log tags.
const (
	StageSetup             = "setup"
	StageSetupWorkspace    = "setup-workspace"
	StageSetupTest         = "setup-test"
	StageTeardownTest      = "teardown-test"
	StageTeardownWorkspace = "teardown-workspace"
	StageTeardown          = "teardown"
)

// Runner executes rendered templates through a shell.
type Runner struct {
	shell  []string
	env    []string
	dir    string
	logger *slog.Logger
}

// Option customizes a Runner.
type Option func(*Runner)

// WithShell overrides the shell argv prefix, e.g. []string{"bash", "-c"}.
func WithShell(argv ...string) Option {
	return func(r *Runner) { r.shell = argv }
}

// WithEnv appends KEY=VALUE pairs to the inherited environment.
func WithEnv(env ...string) Option {
	return func(r *Runner) { r.env = append(r.env, env...) }
}

// WithDir sets the working directory of spawned commands.
func WithDir(dir string) Option {
	return func(r *Runner) { r.dir = dir }
}

// WithLogger sets the logger used for captured output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner using the platform shell.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		shell:  defaultShell(),
		logger: log.WithComponent("script"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultShell() []string {
	if runtime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"sh", "-c"}
}

// Run renders template with bindings and executes it. An empty template is a
// no-op returning 0. The error return is reserved for a command that could not
// be started or waited on; a completed process yields its exit code and nil.
func (r *Runner) Run(ctx context.Context, stage, template string, bindings Bindings) (int, error) {
	if strings.TrimSpace(template) == "" {
		return 0, nil
	}

	line := Render(template, bindings)
	logger := r.logger.With("stage", stage)
	if id, ok := bindings[KeyID]; ok {
		logger = logger.With("worker", id)
	}
	logger.Debug("running script", "command", line)

	argv := append(append([]string{}, r.shell...), line)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if len(r.env) > 0 {
		cmd.Env = append(cmd.Environ(), r.env...)
	}
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if out := strings.TrimRight(stdout.String(), "\n"); out != "" {
		logger.Debug("script stdout", "output", out)
	}
	if errOut := strings.TrimRight(stderr.String(), "\n"); errOut != "" {
		logger.Warn("script stderr", "output", errOut)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
			logger.Debug("script exited with non-zero status", "exit_code", exitErr.ExitCode())
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("run %s script: %w", stage, err)
	}
	return 0, nil
}
