// Package expressions evaluates rule-based loop predicates. Every engine sees
// the same variables: record (the working snapshot as a JSON-shaped map),
// outcome (the last stage outcome) and iteration (1-based).
package expressions

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// Engine evaluates an expression against predicate variables.
type Engine interface {
	Name() string
	// Compile checks an expression without evaluating it.
	Compile(expression string) error
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Variables the predicate activation is built from.
const (
	VarRecord    = "record"
	VarOutcome   = "outcome"
	VarIteration = "iteration"
)

// New returns the engine registered under name: cel, expr or jq.
func New(name string) (Engine, error) {
	switch name {
	case "", "cel":
		return NewCELEngine()
	case "expr":
		return NewExprEngine(), nil
	case "jq":
		return NewJQEngine(), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown expression engine %q", name))
	}
}

// EvaluateBool evaluates expression and requires a boolean result.
func EvaluateBool(ctx context.Context, e Engine, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, core.ErrExpression(core.CodeExpressionFailed, expression,
			fmt.Sprintf("%s expression %q returned %T, want bool", e.Name(), expression, out))
	}
	return b, nil
}

func withDefaults(data map[string]any) map[string]any {
	out := make(map[string]any, 3)
	for _, key := range []string{VarRecord, VarOutcome} {
		if v, ok := data[key]; ok && v != nil {
			out[key] = v
		} else {
			out[key] = map[string]any{}
		}
	}
	switch n := data[VarIteration].(type) {
	case int:
		out[VarIteration] = int64(n)
	case int64:
		out[VarIteration] = n
	default:
		out[VarIteration] = int64(0)
	}
	return out
}
