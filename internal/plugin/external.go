package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mattjoyce/paratest/internal/protocol"
)

const (
	// maxStderrBytes caps the amount of stderr captured from plugin execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// ErrPluginTimeout is returned when an external command exceeds its manifest timeout.
var ErrPluginTimeout = errors.New("plugin command timed out")

// External runs a discovered plugin as a subprocess, once per command.
//
// The request is written as JSON to stdin and the response read as JSON from
// stdout. The same values are exported as PARATEST_* environment variables so
// plain shell entrypoints need not parse JSON.
type External struct {
	desc   *Descriptor
	logger *slog.Logger
}

// NewExternal creates an External for desc.
func NewExternal(desc *Descriptor, logger *slog.Logger) *External {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &External{
		desc:   desc,
		logger: logger.With("plugin", desc.Name),
	}
}

// Descriptor returns the manifest data backing e.
func (e *External) Descriptor() *Descriptor {
	return e.desc
}

// Find asks the plugin to enumerate tests.
func (e *External) Find(ctx context.Context, req FindRequest) ([]TestID, error) {
	resp, err := e.call(ctx, &protocol.Request{
		Protocol: protocol.Version,
		Command:  protocol.CommandFind,
		Source:   absPath(req.Source),
		Pattern:  req.Pattern,
	}, "")
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("plugin %s: find: %s", e.desc.Name, resp.Error)
	}
	ids := make([]TestID, 0, len(resp.Tests))
	for _, t := range resp.Tests {
		ids = append(ids, TestID(t))
	}
	return ids, nil
}

// InitEnvironment runs the init command when the manifest declares it.
func (e *External) InitEnvironment(ctx context.Context, workerID int, workspace string) error {
	if !e.desc.SupportsCommand(protocol.CommandInit) {
		return nil
	}
	resp, err := e.call(ctx, &protocol.Request{
		Protocol:  protocol.Version,
		Command:   protocol.CommandInit,
		WorkerID:  &workerID,
		Workspace: workspace,
	}, workspace)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("plugin %s: init: %s", e.desc.Name, resp.Error)
	}
	return nil
}

// Run executes one test. A plugin status of "error" is returned as the test failure.
func (e *External) Run(ctx context.Context, rc RunContext) error {
	workerID := rc.WorkerID
	resp, err := e.call(ctx, &protocol.Request{
		Protocol:  protocol.Version,
		Command:   protocol.CommandRun,
		RunID:     rc.RunID,
		Source:    absPath(rc.Source),
		WorkerID:  &workerID,
		TestID:    string(rc.TestID),
		Workspace: rc.Workspace,
		OutputDir: rc.OutputDir,
	}, rc.Workspace)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("test %s: %s", rc.TestID, resp.Error)
	}
	return nil
}

func (e *External) call(ctx context.Context, req *protocol.Request, dir string) (*protocol.Response, error) {
	logger := e.logger.With("command", req.Command)
	if req.TestID != "" {
		logger = logger.With("test_id", req.TestID)
	}

	resp, stderr, err := spawn(ctx, e.desc.Entrypoint, dir, req, e.desc.Timeouts.For(req.Command), logger)
	if stderr != "" {
		logger.Debug("plugin stderr", "stderr", stderr)
	}
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %s: %w", e.desc.Name, req.Command, err)
	}
	for _, entry := range resp.Logs {
		logger.Log(ctx, pluginLogLevel(entry.Level), entry.Message)
	}
	return resp, nil
}

// absPath resolves p against the orchestrator's working directory; plugins
// run with their workspace as the working directory.
func absPath(p string) string {
	if p == "" {
		return p
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

func pluginLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func requestEnv(req *protocol.Request) []string {
	env := []string{
		"PARATEST_COMMAND=" + req.Command,
		"PARATEST_RUN_ID=" + req.RunID,
		"PARATEST_SOURCE=" + req.Source,
		"PARATEST_PATTERN=" + req.Pattern,
		"PARATEST_TEST_ID=" + req.TestID,
		"PARATEST_WORKSPACE=" + req.Workspace,
		"PARATEST_OUTPUT=" + req.OutputDir,
	}
	if req.WorkerID != nil {
		env = append(env, "PARATEST_WORKER_ID="+strconv.Itoa(*req.WorkerID))
	}
	return env
}

// spawn starts the plugin subprocess, writes the request to stdin, and reads
// the response from stdout. A zero timeout leaves only ctx to bound it.
func spawn(
	ctx context.Context,
	entrypoint string,
	dir string,
	req *protocol.Request,
	timeout time.Duration,
	logger *slog.Logger,
) (*protocol.Response, string, error) {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timeoutTimer := time.NewTimer(timeout)
		defer timeoutTimer.Stop()
		timeoutC = timeoutTimer.C
	}

	// Not CommandContext: termination is SIGTERM first, then SIGKILL.
	cmd := exec.Command(entrypoint)
	// Grandchildren holding stdout open must not stall Wait after the plugin exits.
	cmd.WaitDelay = time.Second
	isolate(cmd)
	cmd.Env = append(os.Environ(), requestEnv(req)...)
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			cmd.Dir = dir
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, "", fmt.Errorf("create stdin pipe: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("spawning plugin", "entrypoint", entrypoint, "timeout", timeout)

	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("start process: %w", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if err := protocol.EncodeRequest(stdin, req); err != nil {
			writeErr <- fmt.Errorf("encode request: %w", err)
			return
		}
		writeErr <- nil
	}()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	select {
	case <-timeoutC:
		logger.Warn("plugin execution timed out, sending SIGTERM", "timeout", timeout)
		terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ErrPluginTimeout

	case <-ctx.Done():
		logger.Debug("context cancelled, terminating plugin")
		terminate(cmd, waitErr, logger)
		return nil, truncateStderr(stderr.String()), ctx.Err()

	case err := <-waitErr:
		stderrStr := truncateStderr(stderr.String())
		// A plugin may exit before reading stdin; only report write errors
		// when no usable response came back.
		werr := <-writeErr

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				logger.Warn("plugin exited with non-zero status", "exit_code", exitErr.ExitCode())
			} else {
				return nil, stderrStr, fmt.Errorf("wait for process: %w", err)
			}
		}

		resp, rawBytes, err := protocol.DecodeResponseLenient(bytes.NewReader(stdout.Bytes()))
		if err != nil {
			if werr != nil {
				return nil, stderrStr, werr
			}
			logger.Error("failed to decode plugin response", "error", err, "stdout", string(rawBytes))
			return nil, stderrStr, fmt.Errorf("decode response: %w", err)
		}

		return resp, stderrStr, nil
	}
}

func terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
		logger.Debug("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Debug("plugin exited after SIGTERM")
		// Children that ignored SIGTERM are still in the group.
		_ = signalGroup(cmd, syscall.SIGKILL)
	case <-grace.C:
		logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
		if err := signalGroup(cmd, syscall.SIGKILL); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-waitErr
	}
}

// truncateStderr truncates stderr to maxStderrBytes.
func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
