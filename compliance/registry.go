package compliance

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// CustomEvaluatorFunc implements bespoke rule logic outside the built-in
// kinds. Implementations receive the rule's custom config and the shared
// evaluation context, and must not panic; errors are converted into failed
// results at the evaluator boundary.
type CustomEvaluatorFunc func(ctx context.Context, cfg CustomConfig, ec EvaluationContext) (EvalOutcome, error)

// EvaluatorRegistry is a name-keyed table of custom evaluators. It is
// constructed once at process start and handed to the rule evaluator as an
// explicit dependency; checker modules register themselves during startup
// and the table is read-only afterwards.
type EvaluatorRegistry struct {
	mu         sync.RWMutex
	evaluators map[string]CustomEvaluatorFunc
}

// NewEvaluatorRegistry creates an empty registry.
func NewEvaluatorRegistry() *EvaluatorRegistry {
	return &EvaluatorRegistry{
		evaluators: make(map[string]CustomEvaluatorFunc),
	}
}

// Register adds an evaluator under name. Names are unique for the process
// lifetime; registering a duplicate is a startup configuration error.
func (r *EvaluatorRegistry) Register(name string, fn CustomEvaluatorFunc) error {
	if name == "" {
		return fmt.Errorf("evaluator name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("evaluator %q has a nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.evaluators[name]; exists {
		return fmt.Errorf("evaluator %q is already registered", name)
	}
	r.evaluators[name] = fn
	return nil
}

// Lookup returns the evaluator registered under name, if any.
func (r *EvaluatorRegistry) Lookup(name string) (CustomEvaluatorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.evaluators[name]
	return fn, ok
}

// Names lists the registered evaluator names, sorted.
func (r *EvaluatorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
