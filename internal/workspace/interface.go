package workspace

import (
	"context"
	"time"
)

// Workspace is the private scratch directory of one worker in one run.
//
// Layout: <root>/<runID>/<workerID>. Runs never share a directory, so
// concurrent invocations against the same root do not collide.
type Workspace struct {
	RunID    string
	WorkerID int
	Dir      string
}

// CleanupReport summarizes a cleanup run.
type CleanupReport struct {
	DeletedDirs int
}

// Manager governs the lifecycle of worker workspaces.
type Manager interface {
	// Create makes a fresh workspace for workerID within runID.
	Create(ctx context.Context, runID string, workerID int) (Workspace, error)

	// Open resolves an existing workspace.
	Open(ctx context.Context, runID string, workerID int) (Workspace, error)

	// Cleanup removes run directories older than olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error)
}
