package compliance

import (
	"encoding/json"
	"fmt"
	"time"
)

// Framework identifies the compliance framework a rule belongs to.
type Framework string

const (
	FrameworkDataProtection    Framework = "data_protection"
	FrameworkFinancialControls Framework = "financial_controls"
	FrameworkInfoSecurity      Framework = "info_security"
	FrameworkVendorManagement  Framework = "vendor_management"
)

// Category groups rules by the kind of control they check.
type Category string

const (
	CategoryPeople        Category = "people"
	CategoryProcess       Category = "process"
	CategoryData          Category = "data"
	CategoryTechnical     Category = "technical"
	CategoryCommunication Category = "communication"
)

// Severity orders rules for triage. Critical sorts first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns a sortable weight for a severity. Higher is more severe.
// Unknown severities sort last.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// CheckFrequency is how often a rule is due for re-evaluation.
type CheckFrequency string

const (
	FrequencyHourly  CheckFrequency = "hourly"
	FrequencyDaily   CheckFrequency = "daily"
	FrequencyWeekly  CheckFrequency = "weekly"
	FrequencyMonthly CheckFrequency = "monthly"
)

// Interval returns the elapsed time after which a rule with this frequency
// becomes due again. Monthly is approximated as 30 days.
func (f CheckFrequency) Interval() time.Duration {
	switch f {
	case FrequencyHourly:
		return time.Hour
	case FrequencyDaily:
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	case FrequencyMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// ExpectedResult is what a query-type rule expects from its catalog query.
type ExpectedResult string

const (
	ExpectZero         ExpectedResult = "zero"
	ExpectNonZero      ExpectedResult = "non_zero"
	ExpectBooleanTrue  ExpectedResult = "boolean_true"
	ExpectBooleanFalse ExpectedResult = "boolean_false"
)

// ThresholdOperator is a comparison applied by a threshold-type rule.
type ThresholdOperator string

const (
	OpGreaterThan    ThresholdOperator = "gt"
	OpGreaterOrEqual ThresholdOperator = "gte"
	OpLessThan       ThresholdOperator = "lt"
	OpLessOrEqual    ThresholdOperator = "lte"
	OpEqual          ThresholdOperator = "eq"
	OpBetween        ThresholdOperator = "between"
)

// FindingType classifies a single observation made during evaluation.
type FindingType string

const (
	FindingPass    FindingType = "pass"
	FindingFail    FindingType = "fail"
	FindingWarning FindingType = "warning"
	FindingInfo    FindingType = "info"
)

// ExceptionType scopes a rule exception.
type ExceptionType string

const (
	ExceptionCondition  ExceptionType = "condition"
	ExceptionEntity     ExceptionType = "entity"
	ExceptionTimePeriod ExceptionType = "time_period"
)

// RuleKind discriminates the variants of RuleConfig.
type RuleKind string

const (
	KindQuery     RuleKind = "query"
	KindThreshold RuleKind = "threshold"
	KindPattern   RuleKind = "pattern"
	KindWorkflow  RuleKind = "workflow"
	KindCustom    RuleKind = "custom"
)

// RuleConfig is the typed configuration of a rule. Exactly one concrete
// variant applies per rule; dispatch switches on Kind and the compiler keeps
// the variant set closed.
type RuleConfig interface {
	Kind() RuleKind
}

// QueryConfig runs a whitelisted catalog query and compares the single row
// it returns against ExpectedResult.
type QueryConfig struct {
	QueryID        string         `json:"queryId"`
	ExpectedResult ExpectedResult `json:"expectedResult"`
}

func (QueryConfig) Kind() RuleKind { return KindQuery }

// ThresholdConfig compares a named metric against a value. For the between
// operator Bounds holds the inclusive [min, max] pair and Value is unused.
type ThresholdConfig struct {
	Metric   string
	Operator ThresholdOperator
	Value    float64
	Bounds   [2]float64
}

func (ThresholdConfig) Kind() RuleKind { return KindThreshold }

// thresholdConfigJSON is the wire shape of ThresholdConfig; value is either
// a number or a two-element array depending on the operator.
type thresholdConfigJSON struct {
	Metric   string            `json:"metric"`
	Operator ThresholdOperator `json:"operator"`
	Value    json.RawMessage   `json:"value"`
}

// MarshalJSON encodes Bounds as a two-element array for between, a plain
// number otherwise.
func (c ThresholdConfig) MarshalJSON() ([]byte, error) {
	var value any = c.Value
	if c.Operator == OpBetween {
		value = [2]float64{c.Bounds[0], c.Bounds[1]}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(thresholdConfigJSON{
		Metric:   c.Metric,
		Operator: c.Operator,
		Value:    raw,
	})
}

// UnmarshalJSON accepts a numeric value, or a two-element array when the
// operator is between.
func (c *ThresholdConfig) UnmarshalJSON(data []byte) error {
	var wire thresholdConfigJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	c.Metric = wire.Metric
	c.Operator = wire.Operator
	if wire.Operator == OpBetween {
		var bounds [2]float64
		if err := json.Unmarshal(wire.Value, &bounds); err != nil {
			return fmt.Errorf("between operator requires a [min, max] pair: %w", err)
		}
		c.Bounds = bounds
		return nil
	}
	if len(wire.Value) > 0 {
		if err := json.Unmarshal(wire.Value, &c.Value); err != nil {
			return fmt.Errorf("threshold value must be a number: %w", err)
		}
	}
	return nil
}

// PatternConfig asks the pattern source whether Pattern occurs in Scope.
// ShouldExist=false models prohibited-pattern rules.
type PatternConfig struct {
	Pattern     string `json:"pattern"`
	Scope       string `json:"scope"`
	ShouldExist bool   `json:"shouldExist"`
}

func (PatternConfig) Kind() RuleKind { return KindPattern }

// WorkflowConfig checks recent workflow executions for required steps,
// approvers, and a maximum wall-clock duration. MaxDurationHours of zero
// means no duration limit.
type WorkflowConfig struct {
	RequiredSteps     []string `json:"requiredSteps"`
	RequiredApprovers []string `json:"requiredApprovers,omitempty"`
	MaxDurationHours  float64  `json:"maxDurationHours,omitempty"`
}

func (WorkflowConfig) Kind() RuleKind { return KindWorkflow }

// CustomConfig dispatches to a registered custom evaluator. Params carries
// evaluator-specific configuration opaque to the core.
type CustomConfig struct {
	EvaluatorName string         `json:"evaluatorName"`
	Params        map[string]any `json:"params,omitempty"`
}

func (CustomConfig) Kind() RuleKind { return KindCustom }

// TimePeriod bounds a time_period exception. Both ends are inclusive.
type TimePeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RuleException annotates a rule with a time-bounded waiver. Exceptions are
// advisory: they are reported on results but never flip the pass/fail
// outcome.
type RuleException struct {
	Type       ExceptionType `json:"type"`
	Reason     string        `json:"reason"`
	ExpiresAt  *time.Time    `json:"expiresAt,omitempty"`
	TimePeriod *TimePeriod   `json:"timePeriod,omitempty"`
}

// ActiveAt reports whether the exception applies at the given instant.
// Expired exceptions are never active; time_period exceptions are active
// only inside their window. Condition and entity scoping is resolved by the
// caller, so those types are active whenever not expired.
func (e RuleException) ActiveAt(at time.Time) bool {
	if e.ExpiresAt != nil && e.ExpiresAt.Before(at) {
		return false
	}
	if e.Type == ExceptionTimePeriod {
		if e.TimePeriod == nil {
			return false
		}
		return !at.Before(e.TimePeriod.Start) && !at.After(e.TimePeriod.End)
	}
	return true
}

// RuleLogic is the typed config plus exceptions that define how a rule is
// checked.
type RuleLogic struct {
	Config     RuleConfig
	Exceptions []RuleException
}

// ruleLogicJSON is the persisted shape of RuleLogic; config carries a type
// discriminator alongside the variant fields.
type ruleLogicJSON struct {
	Config     json.RawMessage `json:"config"`
	Exceptions []RuleException `json:"exceptions,omitempty"`
}

type ruleConfigEnvelope struct {
	Type RuleKind `json:"type"`
}

// MarshalJSON writes the config variant with its type discriminator.
func (l RuleLogic) MarshalJSON() ([]byte, error) {
	if l.Config == nil {
		return nil, fmt.Errorf("rule logic has no config")
	}
	variant, err := json.Marshal(l.Config)
	if err != nil {
		return nil, err
	}
	// Splice the discriminator into the variant object.
	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(variant, &merged); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(l.Config.Kind())
	if err != nil {
		return nil, err
	}
	merged["type"] = kind
	cfg, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleLogicJSON{Config: cfg, Exceptions: l.Exceptions})
}

// UnmarshalJSON decodes the config variant selected by config.type.
func (l *RuleLogic) UnmarshalJSON(data []byte) error {
	var wire ruleLogicJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if len(wire.Config) == 0 {
		return fmt.Errorf("rule logic has no config")
	}
	var envelope ruleConfigEnvelope
	if err := json.Unmarshal(wire.Config, &envelope); err != nil {
		return err
	}
	cfg, err := decodeRuleConfig(envelope.Type, wire.Config)
	if err != nil {
		return err
	}
	l.Config = cfg
	l.Exceptions = wire.Exceptions
	return nil
}

func decodeRuleConfig(kind RuleKind, data []byte) (RuleConfig, error) {
	switch kind {
	case KindQuery:
		var c QueryConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindThreshold:
		var c ThresholdConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindPattern:
		var c PatternConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindWorkflow:
		var c WorkflowConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case KindCustom:
		var c CustomConfig
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown rule config type %q", kind)
	}
}

// ComplianceRule is a named policy unit belonging to one organization.
// Definition fields are owned by the authoring surface; the evaluator only
// mutates LastCheckedAt and the pass/fail counters.
type ComplianceRule struct {
	ID             string
	OrganizationID string
	Name           string
	Framework      Framework
	Category       Category
	Severity       Severity
	IsActive       bool
	CheckFrequency CheckFrequency
	LastCheckedAt  *time.Time
	PassCount      int64
	FailCount      int64
	RuleLogic      RuleLogic
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Passing reports the historical-majority heuristic used by the compliance
// score: a rule counts as passing when it has passed more often than failed.
func (r *ComplianceRule) Passing() bool {
	return r.PassCount > r.FailCount
}

// EvaluationFinding is one structured observation produced while evaluating
// a rule. Findings are created fresh per evaluation and never persisted by
// the engine.
type EvaluationFinding struct {
	Type        FindingType `json:"type"`
	Entity      string      `json:"entity"`
	EntityID    string      `json:"entityId,omitempty"`
	Description string      `json:"description"`
	Remediation string      `json:"remediation,omitempty"`
}

// EvaluationDetails carries the supporting material of a result.
type EvaluationDetails struct {
	Message     string              `json:"message"`
	Findings    []EvaluationFinding `json:"findings"`
	EvidenceIDs []string            `json:"evidenceIds,omitempty"`
	Exceptions  []string            `json:"exceptions,omitempty"`
}

// RuleEvaluationResult is the outcome of evaluating one rule. Ownership
// transfers to the caller as soon as it is returned.
type RuleEvaluationResult struct {
	RuleID          string            `json:"ruleId"`
	RuleName        string            `json:"ruleName"`
	Passed          bool              `json:"passed"`
	Framework       Framework         `json:"framework"`
	Category        Category          `json:"category"`
	Severity        Severity          `json:"severity"`
	EvaluatedAt     time.Time         `json:"evaluatedAt"`
	Details         EvaluationDetails `json:"details"`
	ExecutionTimeMs int64             `json:"executionTimeMs"`
}

// BatchEvaluationResult aggregates one batch run. TotalRules always equals
// len(Results) plus SkippedRules.
type BatchEvaluationResult struct {
	TotalRules      int                     `json:"totalRules"`
	PassedRules     int                     `json:"passedRules"`
	FailedRules     int                     `json:"failedRules"`
	SkippedRules    int                     `json:"skippedRules"`
	Results         []*RuleEvaluationResult `json:"results"`
	ExecutionTimeMs int64                   `json:"executionTimeMs"`
}

// GroupSummary is a per-framework or per-category slice of the summary.
type GroupSummary struct {
	Total   int `json:"total"`
	Passing int `json:"passing"`
}

// ComplianceSummary is derived from rule statistics, never stored. The score
// is the rounded percentage of active rules whose pass count exceeds their
// fail count.
type ComplianceSummary struct {
	OrganizationID  string                     `json:"organizationId"`
	ComplianceScore int                        `json:"complianceScore"`
	TotalActive     int                        `json:"totalActive"`
	PassingRules    int                        `json:"passingRules"`
	ByFramework     map[Framework]GroupSummary `json:"byFramework"`
	ByCategory      map[Category]GroupSummary  `json:"byCategory"`
}

// EvaluationContext is the shared input to every evaluation in a batch.
// EvaluationTime is fixed at batch start so all rules observe the same now;
// DryRun suppresses all statistics mutation.
type EvaluationContext struct {
	OrganizationID string
	EvaluationTime time.Time
	DryRun         bool
}

// WorkflowExecution is one recent workflow run reported by the workflow
// source.
type WorkflowExecution struct {
	ID             string
	Name           string
	CompletedSteps []string
	Approvers      []string
	StartedAt      time.Time
	CompletedAt    time.Time
}

// Duration is the wall-clock time the execution took.
func (w WorkflowExecution) Duration() time.Duration {
	return w.CompletedAt.Sub(w.StartedAt)
}
