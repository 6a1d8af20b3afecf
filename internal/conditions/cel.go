package conditions

import (
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/driprun/driprun/pkg/schema"
)

// CELEngine evaluates CEL predicates against the contact and event context.
// Compiled programs are cached by source text.
type CELEngine struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("contact", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("run", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInternal, "create CEL environment").WithCause(err)
	}
	return &CELEngine{env: env, cache: make(map[string]cel.Program)}, nil
}

func (e *CELEngine) Name() string { return "cel" }

func (e *CELEngine) Eval(expression string, env map[string]any) (bool, error) {
	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(buildActivation(env))
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeExpression, "evaluate cel %q", expression).WithCause(err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeExpression, "cel %q returned %T, want bool", expression, out.Value())
	}
	return b, nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
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

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "compile cel %q", expression).WithCause(issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExpression, "plan cel %q", expression).WithCause(err)
	}
	e.cache[expression] = program
	return program, nil
}

// buildActivation fills in the declared variables missing from env so that
// evaluation never fails on an unbound name.
func buildActivation(env map[string]any) map[string]any {
	act := make(map[string]any, 3)
	for _, name := range []string{"contact", "event", "run"} {
		if v, ok := env[name]; ok && v != nil {
			act[name] = v
		} else {
			act[name] = map[string]any{}
		}
	}
	return act
}
