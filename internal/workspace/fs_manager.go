package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// fsWorkspaceManager manages per-worker workspace directories on local disk.
type fsWorkspaceManager struct {
	baseDir string
	now     func() time.Time
}

var _ Manager = (*fsWorkspaceManager)(nil)

// DefaultRoot is the workspace root used when none is configured.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "paratest")
}

// NewFSManager creates a filesystem-backed workspace manager rooted at baseDir.
func NewFSManager(baseDir string) (*fsWorkspaceManager, error) {
	trimmed := strings.TrimSpace(baseDir)
	if trimmed == "" {
		return nil, fmt.Errorf("workspace base directory is empty")
	}

	abs, err := filepath.Abs(filepath.Clean(trimmed))
	if err != nil {
		return nil, fmt.Errorf("resolve workspace base directory: %w", err)
	}

	return &fsWorkspaceManager{
		baseDir: abs,
		now:     time.Now,
	}, nil
}

// Root returns the absolute base directory.
func (m *fsWorkspaceManager) Root() string {
	return m.baseDir
}

// Create initializes the workspace directory for workerID in runID. The
// directory must not exist yet.
func (m *fsWorkspaceManager) Create(ctx context.Context, runID string, workerID int) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(runID, workerID)
	if err != nil {
		return Workspace{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create run directory: %w", err)
	}

	if err := os.Mkdir(path, 0o755); err != nil {
		return Workspace{}, fmt.Errorf("create workspace for worker %d: %w", workerID, err)
	}

	return Workspace{RunID: runID, WorkerID: workerID, Dir: path}, nil
}

// Open returns metadata for an existing workspace directory.
func (m *fsWorkspaceManager) Open(ctx context.Context, runID string, workerID int) (Workspace, error) {
	if err := ctx.Err(); err != nil {
		return Workspace{}, err
	}

	path, err := m.workspacePath(runID, workerID)
	if err != nil {
		return Workspace{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Workspace{}, fmt.Errorf("open workspace for worker %d: %w", workerID, err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace path for worker %d is not a directory", workerID)
	}

	return Workspace{RunID: runID, WorkerID: workerID, Dir: path}, nil
}

// Cleanup removes run directories older than olderThan based on directory
// modification time.
func (m *fsWorkspaceManager) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupReport, error) {
	if err := ctx.Err(); err != nil {
		return CleanupReport{}, err
	}
	if olderThan <= 0 {
		return CleanupReport{}, fmt.Errorf("olderThan must be positive")
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return CleanupReport{}, nil
	}
	if err != nil {
		return CleanupReport{}, fmt.Errorf("read workspace base directory: %w", err)
	}

	cutoff := m.now().Add(-olderThan)
	report := CleanupReport{}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if !entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return report, fmt.Errorf("read workspace entry info %q: %w", entry.Name(), err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return report, fmt.Errorf("remove run directory %q: %w", entry.Name(), err)
		}
		report.DeletedDirs++
	}

	return report, nil
}

func (m *fsWorkspaceManager) workspacePath(runID string, workerID int) (string, error) {
	if err := validateRunID(runID); err != nil {
		return "", err
	}
	if workerID < 0 {
		return "", fmt.Errorf("worker id %d is negative", workerID)
	}
	return filepath.Join(m.baseDir, runID, strconv.Itoa(workerID)), nil
}

func validateRunID(runID string) error {
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return fmt.Errorf("runID is empty")
	}
	if trimmed == "." || trimmed == ".." {
		return fmt.Errorf("runID %q is invalid", runID)
	}
	if strings.Contains(trimmed, "/") || strings.Contains(trimmed, `\`) {
		return fmt.Errorf("runID %q must not contain path separators", runID)
	}
	if filepath.Clean(trimmed) != trimmed {
		return fmt.Errorf("runID %q is invalid", runID)
	}
	return nil
}
