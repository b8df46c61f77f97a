package orchestrator

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "beam"
	metricsSubsystem = "orchestrator"
)

// Metrics reports orchestrator activity to Prometheus. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec
	taskOutcomes  *prometheus.CounterVec
	runsActive    prometheus.Gauge
}

// DefaultMetrics is registered once with the global registry and shared by
// every orchestrator in the process.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	return MustNewMetrics(prometheus.DefaultRegisterer)
})

// MustNewMetrics registers the collectors with reg. Collectors that reg
// already knows under the same name are adopted; any other registration
// error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: metricsNamespace, Subsystem: metricsSubsystem, Name: name, Help: help}
	}

	return &Metrics{
		stageDuration: adopt(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      "stage_duration_seconds",
			Help:      "Duration spent in each orchestrator stage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"})),
		stageFailures: adopt(reg, prometheus.NewCounterVec(prometheus.CounterOpts(
			opts("stage_failures_total", "Runs that ended in a failure, by stage and reason.")),
			[]string{"stage", "reason"})),
		taskOutcomes: adopt(reg, prometheus.NewCounterVec(prometheus.CounterOpts(
			opts("task_outcomes_total", "Terminal task outcomes by assigned core.")),
			[]string{"core", "status"})),
		runsActive: adopt(reg, prometheus.NewGauge(prometheus.GaugeOpts(
			opts("runs_active", "Runs currently being executed.")))),
	}
}

func adopt[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var dup prometheus.AlreadyRegisteredError
	if errors.As(err, &dup) {
		if existing, ok := dup.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(err)
}

func (m *Metrics) ObserveStageDuration(stage, status string, d time.Duration) {
	if m != nil {
		m.stageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
	}
}

func (m *Metrics) IncStageFailure(stage, reason string) {
	if m != nil {
		m.stageFailures.WithLabelValues(stage, reason).Inc()
	}
}

// IncTaskOutcome counts a task reaching a terminal or paused status.
func (m *Metrics) IncTaskOutcome(core, status string) {
	if m != nil {
		m.taskOutcomes.WithLabelValues(core, status).Inc()
	}
}

// TrackRun marks a run active until the returned func is called.
func (m *Metrics) TrackRun() (done func()) {
	if m == nil {
		return func() {}
	}
	m.runsActive.Inc()
	return m.runsActive.Dec
}
