package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// CELEngine evaluates Common Expression Language predicates such as
// `size(record.differential_diagnoses) == 0`.
// Compiled programs are cached; the engine is safe for concurrent use.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL engine with the predicate variables declared.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable(VarRecord, mapType),
		cel.Variable(VarOutcome, mapType),
		cel.Variable(VarIteration, cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: make(map[string]cel.Program)}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compile checks that expression compiles.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs expression against data.
func (e *CELEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(withDefaults(data))
	if err != nil {
		return nil, core.ErrExpression(core.CodeExpressionFailed, expression,
			fmt.Sprintf("CEL evaluation failed for %q", expression)).WithCause(err)
	}
	return out.Value(), nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, core.ErrExpression(core.CodeInvalidExpression, expression, "empty CEL expression")
	}

	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, core.ErrExpression(core.CodeInvalidExpression, expression,
			fmt.Sprintf("CEL compile error in %q", expression)).WithCause(issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, core.ErrExpression(core.CodeInvalidExpression, expression,
			fmt.Sprintf("CEL program error for %q", expression)).WithCause(err)
	}
	e.cache[expression] = prg
	return prg, nil
}

var _ Engine = (*CELEngine)(nil)
