package compliance

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.observeEvaluation(FrameworkInfoSecurity, true, 0.01)
	m.observeEvaluation(FrameworkInfoSecurity, false, 0.02)
	m.observeSkipped()
	m.observePersistenceFailure()

	passed := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("info_security", "passed"))
	if passed != 1 {
		t.Errorf("evaluations_total{passed} = %g, want 1", passed)
	}
	failed := testutil.ToFloat64(m.EvaluationsTotal.WithLabelValues("info_security", "failed"))
	if failed != 1 {
		t.Errorf("evaluations_total{failed} = %g, want 1", failed)
	}
	if got := testutil.ToFloat64(m.SkippedRulesTotal); got != 1 {
		t.Errorf("skipped_rules_total = %g, want 1", got)
	}
	if got := testutil.ToFloat64(m.PersistenceFailures); got != 1 {
		t.Errorf("persistence_failures_total = %g, want 1", got)
	}
}

// A nil *Metrics records nothing and never panics, so library callers can
// skip instrumentation entirely.
func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.observeEvaluation(FrameworkDataProtection, true, 0.01)
	m.observeBatch(1.5)
	m.observeSkipped()
	m.observePersistenceFailure()
}
