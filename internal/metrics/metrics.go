// Package metrics exposes run counters on a private prometheus registry.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/paratest/internal/history"
	"github.com/mattjoyce/paratest/internal/orchestrator"
	"github.com/mattjoyce/paratest/internal/plugin"
)

const Namespace = "paratest"

// Collector is an orchestrator.Observer that updates prometheus metrics.
type Collector struct {
	orchestrator.NopObserver

	registry *prometheus.Registry

	testsTotal     *prometheus.CounterVec
	testDuration   prometheus.Histogram
	workersStarted prometheus.Counter
	workerDeaths   prometheus.Counter
	abortsTotal    *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	discovered     prometheus.Gauge
	inFlight       prometheus.Gauge
}

var _ orchestrator.Observer = (*Collector)(nil)

// NewCollector registers every metric on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		testsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tests_total",
			Help:      "Tests executed, by result.",
		}, []string{"result"}),
		testDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "test_duration_seconds",
			Help:      "Wall time of a single plugin run call.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		workersStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "workers_started_total",
			Help:      "Workers started.",
		}),
		workerDeaths: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "worker_deaths_total",
			Help:      "Workers stopped by a failing lifecycle step.",
		}),
		abortsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "aborts_total",
			Help:      "Aborted runs, by reason.",
		}, []string{"reason"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Finished runs, by status.",
		}, []string{"status"}),
		discovered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tests_discovered",
			Help:      "Tests discovered by the current run.",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "tests_in_flight",
			Help:      "Tests currently executing.",
		}),
	}
}

// Registry is the private registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// WriteTextfile writes the registry for the node-exporter textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func (c *Collector) TestsDiscovered(_ string, tests []plugin.TestID) {
	c.discovered.Set(float64(len(tests)))
}

func (c *Collector) WorkerStarted(string, int) {
	c.workersStarted.Inc()
}

func (c *Collector) TestStarted(string, int, plugin.TestID) {
	c.inFlight.Inc()
}

func (c *Collector) TestFinished(r orchestrator.TestResult) {
	c.inFlight.Dec()
	result := "passed"
	if !r.Passed() {
		result = "failed"
	}
	c.testsTotal.WithLabelValues(result).Inc()
	c.testDuration.Observe(r.Duration().Seconds())
}

func (c *Collector) WorkerFinished(out orchestrator.WorkerOutcome) {
	if out.Abort != nil {
		c.workerDeaths.Inc()
	}
}

func (c *Collector) RunFinished(s orchestrator.Summary) {
	completion := history.CompletionFor(s)
	c.runsTotal.WithLabelValues(string(completion.Status)).Inc()
	if s.Abort != nil {
		c.abortsTotal.WithLabelValues(s.Abort.Reason).Inc()
	}
}
