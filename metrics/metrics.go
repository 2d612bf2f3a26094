// Package metrics exposes Prometheus instrumentation for sandbox executions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coderun"

// 10ms -> 60s
var timeBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 7.5, 10, 15, 20, 30, 45, 60,
}

// Recorder implements sandbox.Observer. A nil Recorder records nothing.
type Recorder struct {
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inflight   prometheus.Gauge
	teardown   *prometheus.CounterVec
}

// New creates a Recorder and registers its collectors with reg.
func New(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Number of executions by language and outcome",
		}, []string{"language", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Histogram for the time from provisioning to teardown",
			Buckets:   timeBuckets,
		}, []string{"language", "outcome"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_in_flight",
			Help:      "Number of sandboxes currently provisioned",
		}),
		teardown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "teardown_failures_total",
			Help:      "Number of failed teardown steps by stage",
		}, []string{"stage"}),
	}

	for _, c := range []prometheus.Collector{r.executions, r.duration, r.inflight, r.teardown} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ExecutionStarted implements sandbox.Observer.
func (r *Recorder) ExecutionStarted(string) {
	if r == nil {
		return
	}
	r.inflight.Inc()
}

// ExecutionFinished implements sandbox.Observer.
func (r *Recorder) ExecutionFinished(language, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.inflight.Dec()
	r.executions.WithLabelValues(language, outcome).Inc()
	r.duration.WithLabelValues(language, outcome).Observe(elapsed.Seconds())
}

// ExecutionRejected implements sandbox.Observer. The language label is fixed
// so unknown identifiers cannot grow the label set.
func (r *Recorder) ExecutionRejected(outcome string) {
	if r == nil {
		return
	}
	r.executions.WithLabelValues("unknown", outcome).Inc()
}

// TeardownFailed implements sandbox.Observer.
func (r *Recorder) TeardownFailed(stage string) {
	if r == nil {
		return
	}
	r.teardown.WithLabelValues(stage).Inc()
}
