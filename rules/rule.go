package rules

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator defines the interface for evaluating rule expressions.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// DerivedFunc computes an extra env value from the caller's env.
type DerivedFunc func(env map[string]interface{}) interface{}

// ExprEvaluator is an implementation of Evaluator using expr-lang/expr.
type ExprEvaluator struct {
	cache   map[string]*vm.Program
	mu      sync.RWMutex
	derived map[string]DerivedFunc
}

// NewExprEvaluator creates a new ExprEvaluator with an initialized cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache:   make(map[string]*vm.Program),
		derived: make(map[string]DerivedFunc),
	}
}

// AddDerived registers a value computed from the env before every
// evaluation and exposed to expressions under name.
func (e *ExprEvaluator) AddDerived(name string, f DerivedFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.derived[name] = f
	// programs were type-checked without it
	e.cache = make(map[string]*vm.Program)
}

// Compile checks that expression is a boolean rule over env and caches it.
func (e *ExprEvaluator) Compile(expression string, env map[string]interface{}) error {
	_, err := e.program(expression, e.extend(env))
	return err
}

// Evaluate evaluates the given expression against the provided env.
// The expression must evaluate to a boolean; otherwise, an error is returned.
// The caller's env is never modified.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	full := e.extend(env)

	program, err := e.program(expression, full)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, full)
	if err != nil {
		return false, err
	}

	if boolResult, ok := result.(bool); ok {
		return boolResult, nil
	}
	return false, fmt.Errorf("expression '%s' did not evaluate to a boolean, got %T", expression, result)
}

func (e *ExprEvaluator) extend(env map[string]interface{}) map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	full := make(map[string]interface{}, len(env)+len(e.derived))
	for k, v := range env {
		full[k] = v
	}
	for k, f := range e.derived {
		full[k] = f(env)
	}
	return full
}

func (e *ExprEvaluator) program(expression string, env map[string]interface{}) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, err
	}
	e.cache[expression] = program
	return program, nil
}
