package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/paratest/internal/orchestrator"
	"github.com/mattjoyce/paratest/internal/plugin"
)

// value returns the sum of every sample of the named family whose labels
// include the given pairs.
func value(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return total
}

func simulateRun(c *Collector, abort *orchestrator.AbortError) {
	start := time.Now()
	c.RunStarted(orchestrator.RunInfo{RunID: "r"})
	c.TestsDiscovered("r", []plugin.TestID{"foo", "bar", "bazz"})
	c.WorkerStarted("r", 0)
	c.WorkerStarted("r", 1)
	for _, id := range []plugin.TestID{"foo", "bar", "bazz"} {
		c.TestStarted("r", 0, id)
		res := orchestrator.TestResult{RunID: "r", TestID: id, StartedAt: start, FinishedAt: start.Add(30 * time.Millisecond)}
		if id == "bazz" {
			res.Err = errors.New("boom")
		}
		c.TestFinished(res)
	}
	c.WorkerFinished(orchestrator.WorkerOutcome{RunID: "r", WorkerID: 0})
	c.WorkerFinished(orchestrator.WorkerOutcome{RunID: "r", WorkerID: 1, Abort: abort})
	c.RunFinished(orchestrator.Summary{RunID: "r", Passed: 2, Failed: 1, Abort: abort})
}

func TestCollectorCountsRun(t *testing.T) {
	c := NewCollector()
	simulateRun(c, nil)

	assert.Equal(t, 2.0, value(t, c, "paratest_tests_total", map[string]string{"result": "passed"}))
	assert.Equal(t, 1.0, value(t, c, "paratest_tests_total", map[string]string{"result": "failed"}))
	assert.Equal(t, 3.0, value(t, c, "paratest_test_duration_seconds", nil))
	assert.Equal(t, 2.0, value(t, c, "paratest_workers_started_total", nil))
	assert.Equal(t, 3.0, value(t, c, "paratest_tests_discovered", nil))
	assert.Equal(t, 0.0, value(t, c, "paratest_tests_in_flight", nil))
	assert.Equal(t, 1.0, value(t, c, "paratest_runs_total", map[string]string{"status": "passed"}))
	assert.Equal(t, 0.0, value(t, c, "paratest_worker_deaths_total", nil))
}

func TestCollectorCountsAborts(t *testing.T) {
	c := NewCollector()
	abort := &orchestrator.AbortError{Reason: orchestrator.ReasonUnprocessed, WorkerID: orchestrator.NoWorker}
	simulateRun(c, abort)

	assert.Equal(t, 1.0, value(t, c, "paratest_aborts_total", map[string]string{"reason": orchestrator.ReasonUnprocessed}))
	assert.Equal(t, 1.0, value(t, c, "paratest_runs_total", map[string]string{"status": "aborted"}))
	assert.Equal(t, 1.0, value(t, c, "paratest_worker_deaths_total", nil))
}

func TestCollectorWriteTextfile(t *testing.T) {
	c := NewCollector()
	simulateRun(c, nil)

	path := filepath.Join(t.TempDir(), "paratest.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `paratest_tests_total{result="failed"} 1`)
}

func TestCollectorWriteTextfileBadDir(t *testing.T) {
	c := NewCollector()
	err := c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"))
	assert.Error(t, err)
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	simulateRun(c, nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paratest_workers_started_total 2")
}
