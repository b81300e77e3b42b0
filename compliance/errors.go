package compliance

import "fmt"

// UnknownQueryError reports an attempt to execute a query id that is not in
// the compiled safe-query catalog. It is converted into a failing finding at
// the evaluator boundary and never propagates past it.
type UnknownQueryError struct {
	QueryID string
}

func (e *UnknownQueryError) Error() string {
	return fmt.Sprintf("query %q is not whitelisted in the safe query catalog", e.QueryID)
}

// UnregisteredEvaluatorError reports a custom rule naming an evaluator with
// no registration. Same fail-safe treatment as UnknownQueryError.
type UnregisteredEvaluatorError struct {
	Name string
}

func (e *UnregisteredEvaluatorError) Error() string {
	return fmt.Sprintf("custom evaluator %q is not registered", e.Name)
}

// EvaluationError wraps any other failure raised while computing a rule's
// outcome, such as a collaborator timing out.
type EvaluationError struct {
	RuleID string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating rule %s: %v", e.RuleID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// PersistenceError reports a statistics write failure. The evaluation result
// it accompanies remains valid; the finding is still true even if it could
// not be recorded.
type PersistenceError struct {
	RuleID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("recording statistics for rule %s: %v", e.RuleID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
