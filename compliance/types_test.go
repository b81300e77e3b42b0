package compliance

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRuleLogicJSONDiscriminator(t *testing.T) {
	testCases := []struct {
		name string
		in   RuleLogic
	}{
		{"query", RuleLogic{Config: QueryConfig{QueryID: "count_users_without_mfa", ExpectedResult: ExpectZero}}},
		{"threshold", RuleLogic{Config: ThresholdConfig{Metric: "mfa_coverage", Operator: OpGreaterOrEqual, Value: 0.95}}},
		{"threshold between", RuleLogic{Config: ThresholdConfig{Metric: "backup_age_hours", Operator: OpBetween, Bounds: [2]float64{0, 24}}}},
		{"pattern", RuleLogic{Config: PatternConfig{Pattern: "password", Scope: "support_tickets", ShouldExist: false}}},
		{"workflow", RuleLogic{Config: WorkflowConfig{RequiredSteps: []string{"review", "signoff"}, MaxDurationHours: 48}}},
		{"custom", RuleLogic{Config: CustomConfig{EvaluatorName: "cel_expression", Params: map[string]any{"expression": "Org.UserCount > 0"}}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.in)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}

			var out RuleLogic
			if err := json.Unmarshal(data, &out); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}

			if out.Config.Kind() != tc.in.Config.Kind() {
				t.Errorf("round trip changed kind: got %s, want %s", out.Config.Kind(), tc.in.Config.Kind())
			}
		})
	}
}

func TestRuleLogicUnknownKind(t *testing.T) {
	raw := `{"config": {"type": "prophecy", "omen": "comet"}}`

	var logic RuleLogic
	err := json.Unmarshal([]byte(raw), &logic)
	if err == nil {
		t.Fatal("expected error for unknown config type")
	}
}

func TestRuleLogicMissingConfig(t *testing.T) {
	var logic RuleLogic
	if err := json.Unmarshal([]byte(`{}`), &logic); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestThresholdBetweenWireFormat(t *testing.T) {
	raw := `{"metric": "error_rate", "operator": "between", "value": [0.5, 2.5]}`

	var cfg ThresholdConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if cfg.Bounds[0] != 0.5 || cfg.Bounds[1] != 2.5 {
		t.Errorf("Bounds = %v, want [0.5 2.5]", cfg.Bounds)
	}

	// A scalar value with between is a config error.
	var bad ThresholdConfig
	if err := json.Unmarshal([]byte(`{"metric": "x", "operator": "between", "value": 3}`), &bad); err == nil {
		t.Error("expected error for scalar value with between operator")
	}
}

func TestExceptionActiveAt(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	testCases := []struct {
		name   string
		exc    RuleException
		active bool
	}{
		{
			"condition without expiry is active",
			RuleException{Type: ExceptionCondition, Reason: "migration in progress"},
			true,
		},
		{
			"expired condition is inactive",
			RuleException{Type: ExceptionCondition, ExpiresAt: &past},
			false,
		},
		{
			"entity with future expiry is active",
			RuleException{Type: ExceptionEntity, ExpiresAt: &future},
			true,
		},
		{
			"time period containing now is active",
			RuleException{Type: ExceptionTimePeriod, TimePeriod: &TimePeriod{Start: past, End: future}},
			true,
		},
		{
			"time period entirely in the past is inactive",
			RuleException{Type: ExceptionTimePeriod, TimePeriod: &TimePeriod{Start: past.Add(-time.Hour), End: past}},
			false,
		},
		{
			"time period without window is inactive",
			RuleException{Type: ExceptionTimePeriod},
			false,
		},
		{
			"boundary instants are inside the window",
			RuleException{Type: ExceptionTimePeriod, TimePeriod: &TimePeriod{Start: now, End: now}},
			true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.exc.ActiveAt(now); got != tc.active {
				t.Errorf("ActiveAt() = %v, want %v", got, tc.active)
			}
		})
	}
}

func TestExceptionExpiryNeverReactivates(t *testing.T) {
	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	exc := RuleException{
		Type:       ExceptionTimePeriod,
		TimePeriod: &TimePeriod{Start: end.Add(-24 * time.Hour), End: end},
	}

	for _, after := range []time.Duration{time.Second, time.Hour, 365 * 24 * time.Hour} {
		if exc.ActiveAt(end.Add(after)) {
			t.Errorf("exception active %s after its window ended", after)
		}
	}
}

func TestCheckFrequencyInterval(t *testing.T) {
	testCases := []struct {
		freq CheckFrequency
		want time.Duration
	}{
		{FrequencyHourly, time.Hour},
		{FrequencyDaily, 24 * time.Hour},
		{FrequencyWeekly, 7 * 24 * time.Hour},
		{FrequencyMonthly, 30 * 24 * time.Hour},
	}
	for _, tc := range testCases {
		if got := tc.freq.Interval(); got != tc.want {
			t.Errorf("%s.Interval() = %s, want %s", tc.freq, got, tc.want)
		}
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	order := []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() <= order[i].Rank() {
			t.Errorf("%s should rank above %s", order[i-1], order[i])
		}
	}
}

func TestRulePassingHeuristic(t *testing.T) {
	testCases := []struct {
		pass, fail int64
		want       bool
	}{
		{5, 2, true},
		{2, 5, false},
		{3, 3, false},
		{0, 0, false},
	}
	for _, tc := range testCases {
		r := &ComplianceRule{PassCount: tc.pass, FailCount: tc.fail}
		if got := r.Passing(); got != tc.want {
			t.Errorf("Passing() with %d/%d = %v, want %v", tc.pass, tc.fail, got, tc.want)
		}
	}
}
