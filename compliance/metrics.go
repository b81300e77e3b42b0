package compliance

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains the engine's Prometheus instruments. A nil *Metrics is
// valid and records nothing, so library callers can opt out.
type Metrics struct {
	EvaluationsTotal    *prometheus.CounterVec
	EvaluationDuration  *prometheus.HistogramVec
	BatchDuration       prometheus.Histogram
	SkippedRulesTotal   prometheus.Counter
	PersistenceFailures prometheus.Counter
}

// NewMetrics creates the engine metrics. Call Register to attach them to a
// registry.
func NewMetrics() *Metrics {
	return &Metrics{
		EvaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "opencomply",
				Subsystem: "engine",
				Name:      "evaluations_total",
				Help:      "Rule evaluations by framework and outcome",
			},
			[]string{"framework", "outcome"},
		),
		EvaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "opencomply",
				Subsystem: "engine",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of single rule evaluations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"framework"},
		),
		BatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "opencomply",
				Subsystem: "engine",
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch evaluations",
				Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),
		SkippedRulesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "opencomply",
				Subsystem: "engine",
				Name:      "skipped_rules_total",
				Help:      "Rules skipped because evaluation escaped the per-rule error boundary",
			},
		),
		PersistenceFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "opencomply",
				Subsystem: "engine",
				Name:      "persistence_failures_total",
				Help:      "Statistics writes that failed after a completed evaluation",
			},
		),
	}
}

// Register attaches all instruments to the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.EvaluationsTotal,
		m.EvaluationDuration,
		m.BatchDuration,
		m.SkippedRulesTotal,
		m.PersistenceFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observeEvaluation(framework Framework, passed bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.EvaluationsTotal.WithLabelValues(string(framework), outcome).Inc()
	m.EvaluationDuration.WithLabelValues(string(framework)).Observe(seconds)
}

func (m *Metrics) observeBatch(seconds float64) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(seconds)
}

func (m *Metrics) observeSkipped() {
	if m == nil {
		return
	}
	m.SkippedRulesTotal.Inc()
}

func (m *Metrics) observePersistenceFailure() {
	if m == nil {
		return
	}
	m.PersistenceFailures.Inc()
}
