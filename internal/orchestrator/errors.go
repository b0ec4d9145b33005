package orchestrator

import (
	"errors"
	"fmt"
)

// ErrInvalidWorkers is returned by Run when Config.Workers is negative.
var ErrInvalidWorkers = errors.New("workers must be >= 0")

// NoWorker is the WorkerID of an abort raised by the orchestrator itself.
const NoWorker = -1

// Abort reasons.
const (
	ReasonSetupFailed       = "setup script failed"
	ReasonDiscoveryFailed   = "test discovery failed"
	ReasonTeardownFailed    = "teardown script failed"
	ReasonUnprocessed       = "unprocessed tests remain"
	ReasonInterrupted       = "run interrupted"
	ReasonWorkspaceFailed   = "workspace creation failed"
	ReasonEnvironmentFailed = "environment init failed"
)

// AbortError is a fatal, run-ending failure. Per-test failures are never an
// AbortError; they are recorded in TestResult.Err.
type AbortError struct {
	Reason   string
	WorkerID int    // NoWorker for orchestrator-level aborts
	Stage    string // lifecycle stage when a script failed
	ExitCode int    // script exit status, -1 when not applicable
	Cause    error
}

func (e *AbortError) Error() string {
	var prefix string
	if e.WorkerID != NoWorker {
		prefix = fmt.Sprintf("worker %d: ", e.WorkerID)
	}
	msg := prefix + e.Reason
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AbortError) Unwrap() error { return e.Cause }

// IsAbort reports whether err is or wraps an *AbortError.
func IsAbort(err error) bool {
	_, ok := AsAbort(err)
	return ok
}

// AsAbort extracts the outermost *AbortError from err.
func AsAbort(err error) (*AbortError, bool) {
	var a *AbortError
	if errors.As(err, &a) {
		return a, true
	}
	return nil, false
}

func scriptAbort(workerID int, stage string, code int, err error) *AbortError {
	return &AbortError{
		Reason:   stage + " script failed",
		WorkerID: workerID,
		Stage:    stage,
		ExitCode: code,
		Cause:    err,
	}
}
