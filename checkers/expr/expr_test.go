package expr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencomply/engine/compliance"
)

type staticFacts struct {
	facts map[string]any
	err   error
}

func (s *staticFacts) OrganizationFacts(ctx context.Context, organizationID string) (map[string]any, error) {
	return s.facts, s.err
}

func newChecker(t *testing.T, facts map[string]any) *Checker {
	t.Helper()
	c, err := New(&staticFacts{facts: facts})
	require.NoError(t, err)
	return c
}

func customCfg(expression string) compliance.CustomConfig {
	return compliance.CustomConfig{
		EvaluatorName: EvaluatorName,
		Params:        map[string]any{"expression": expression},
	}
}

func TestEvaluateBooleanExpression(t *testing.T) {
	c := newChecker(t, map[string]any{
		"UserCount":   50,
		"AdminCount":  3,
		"MFACoverage": 0.98,
	})
	ec := compliance.EvaluationContext{OrganizationID: "org-1"}

	tests := []struct {
		name       string
		expression string
		passed     bool
	}{
		{"coverage above threshold", `Org.MFACoverage >= 0.95`, true},
		{"coverage below threshold", `Org.MFACoverage >= 0.99`, false},
		{"compound condition", `Org.AdminCount < 5 && Org.UserCount > 10`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := c.Evaluate(context.Background(), customCfg(tt.expression), ec)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, outcome.Passed)
			require.Len(t, outcome.Findings, 1)
		})
	}
}

func TestEvaluateMissingExpression(t *testing.T) {
	c := newChecker(t, nil)
	cfg := compliance.CustomConfig{EvaluatorName: EvaluatorName, Params: map[string]any{}}

	outcome, err := c.Evaluate(context.Background(), cfg, compliance.EvaluationContext{OrganizationID: "org-1"})
	require.NoError(t, err, "a configuration gap is a failed outcome, not an error")
	assert.False(t, outcome.Passed)
	require.Len(t, outcome.Findings, 1)
	assert.Equal(t, compliance.FindingFail, outcome.Findings[0].Type)
}

func TestEvaluateCompileError(t *testing.T) {
	c := newChecker(t, nil)

	outcome, err := c.Evaluate(context.Background(), customCfg(`Org.MFACoverage >=`), compliance.EvaluationContext{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.False(t, outcome.Passed)
	assert.Contains(t, outcome.Message, "does not compile")
}

func TestEvaluateFactsProviderError(t *testing.T) {
	c, err := New(&staticFacts{err: errors.New("facts store down")})
	require.NoError(t, err)

	_, err = c.Evaluate(context.Background(), customCfg(`Org.UserCount > 0`), compliance.EvaluationContext{OrganizationID: "org-1"})
	require.Error(t, err)
}

func TestEvaluateNonBooleanResult(t *testing.T) {
	c := newChecker(t, map[string]any{"UserCount": 50})

	outcome, err := c.Evaluate(context.Background(), customCfg(`Org.UserCount + 1`), compliance.EvaluationContext{OrganizationID: "org-1"})
	require.NoError(t, err)
	assert.False(t, outcome.Passed, "non-boolean results are failed, never coerced to true")
}

func TestProgramCache(t *testing.T) {
	c := newChecker(t, map[string]any{"UserCount": 1})
	ec := compliance.EvaluationContext{OrganizationID: "org-1"}

	for i := 0; i < 3; i++ {
		_, err := c.Evaluate(context.Background(), customCfg(`Org.UserCount > 0`), ec)
		require.NoError(t, err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Len(t, c.programs, 1)
}

func TestRegister(t *testing.T) {
	reg := compliance.NewEvaluatorRegistry()
	require.NoError(t, Register(reg, &staticFacts{facts: map[string]any{}}))

	_, ok := reg.Lookup(EvaluatorName)
	assert.True(t, ok)

	assert.Error(t, Register(reg, &staticFacts{}), "duplicate registration is a startup error")
}
