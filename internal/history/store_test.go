package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/paratest/internal/storage"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestStoreRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.BeginRun(ctx, Run{
		ID:               "run-1",
		Plugin:           "dummy",
		Source:           ".",
		WorkersRequested: 2,
		Fingerprint:      "abc",
		StartedAt:        t0,
	}))

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.Equal(t, time.Duration(0), run.Duration())
	assert.Equal(t, "", run.Pattern)

	require.NoError(t, s.RecordTest(ctx, TestRecord{
		RunID: "run-1", TestID: "foo", WorkerID: 0, Status: StatusPassed,
		StartedAt: t0, FinishedAt: t0.Add(20 * time.Millisecond), Duration: 20 * time.Millisecond,
	}))
	require.NoError(t, s.RecordTest(ctx, TestRecord{
		RunID: "run-1", TestID: "bazz", WorkerID: 1, Status: StatusFailed, Error: `erroneous test "bazz"`,
		StartedAt: t0.Add(time.Millisecond), FinishedAt: t0.Add(2 * time.Millisecond), Duration: time.Millisecond,
	}))

	require.NoError(t, s.FinishRun(ctx, "run-1", Completion{
		Status: StatusFailed, WorkersStarted: 2, Total: 2, Passed: 1, Failed: 1, FinishedAt: t0.Add(time.Second),
	}))

	run, err = s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, 2, run.WorkersStarted)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, "abc", run.Fingerprint)
	assert.Equal(t, time.Second, run.Duration())

	tests, err := s.TestsForRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, "foo", tests[0].TestID)
	assert.Equal(t, "bazz", tests[1].TestID)
	assert.Equal(t, StatusFailed, tests[1].Status)
	assert.Equal(t, `erroneous test "bazz"`, tests[1].Error)
	assert.Equal(t, 20*time.Millisecond, tests[0].Duration)
	assert.True(t, tests[0].StartedAt.Equal(t0))
}

func TestStoreFinishUnknownRun(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	err := s.FinishRun(context.Background(), "nope", Completion{Status: StatusPassed, FinishedAt: t0})
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestStoreRecordTestRequiresRun(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	err := s.RecordTest(context.Background(), TestRecord{RunID: "ghost", TestID: "x", Status: StatusPassed, StartedAt: t0, FinishedAt: t0})
	assert.Error(t, err, "foreign key must reject results for unknown runs")
}

func TestStoreLatestAndList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	_, err := s.LatestRun(ctx)
	assert.True(t, errors.Is(err, ErrRunNotFound))

	for i, id := range []string{"a-old", "b-mid", "c-new"} {
		require.NoError(t, s.BeginRun(ctx, Run{ID: id, Plugin: "dummy", Source: ".", StartedAt: t0.Add(time.Duration(i) * time.Minute)}))
	}

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c-new", latest.ID)

	runs, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c-new", runs[0].ID)
	assert.Equal(t, "b-mid", runs[1].ID)

	all, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStoreLatestOrdersSubsecondTimestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.BeginRun(ctx, Run{ID: "whole", Plugin: "p", Source: ".", StartedAt: t0}))
	require.NoError(t, s.BeginRun(ctx, Run{ID: "frac", Plugin: "p", Source: ".", StartedAt: t0.Add(500 * time.Millisecond)}))

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "frac", latest.ID)
}

func TestStoreGetRunByPrefix(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openStore(t)

	for _, id := range []string{"abc123", "abd456", "x_1"} {
		require.NoError(t, s.BeginRun(ctx, Run{ID: id, Plugin: "p", Source: ".", StartedAt: t0}))
	}

	tests := []struct {
		name    string
		id      string
		want    string
		wantErr error
	}{
		{name: "exact", id: "abc123", want: "abc123"},
		{name: "unique prefix", id: "abd", want: "abd456"},
		{name: "ambiguous", id: "ab", wantErr: ErrAmbiguousRun},
		{name: "missing", id: "zzz", wantErr: ErrRunNotFound},
		{name: "underscore is literal", id: "x_", want: "x_1"},
		{name: "percent is literal", id: "%", wantErr: ErrRunNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := s.GetRun(ctx, tt.id)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, run.ID)
		})
	}
}

func TestStoreBeginRunRejectsEmptyID(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	assert.Error(t, s.BeginRun(context.Background(), Run{Plugin: "p", StartedAt: t0}))
}
