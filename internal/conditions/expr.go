package conditions

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/driprun/driprun/pkg/schema"
)

// ExprEngine evaluates expr-lang predicates. Compiled programs are cached by
// source text.
type ExprEngine struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: make(map[string]*vm.Program)}
}

func (e *ExprEngine) Name() string { return "expr" }

// Eval runs the expression against the environment and coerces the result to
// a boolean. Non-boolean results are a definition error.
func (e *ExprEngine) Eval(expression string, env map[string]any) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExpression, "evaluate expr %q", expression).WithCause(err)
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression, "expr %q returned %T, want bool", expression, out)
	}
	return b, nil
}

func (e *ExprEngine) compile(expression string) (*vm.Program, error) {
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

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "compile expr %q", expression).WithCause(err)
	}
	e.cache[expression] = program
	return program, nil
}
