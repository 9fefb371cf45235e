package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// JQEngine evaluates jq filters such as
// `.record.differential_diagnoses | length == 0`. The filter input is the
// variables object; a filter yielding several values uses the last one.
type JQEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewJQEngine creates a jq engine.
func NewJQEngine() *JQEngine {
	return &JQEngine{cache: make(map[string]*gojq.Code)}
}

// Name returns the engine identifier.
func (e *JQEngine) Name() string {
	return "jq"
}

// Compile checks that expression parses and compiles.
func (e *JQEngine) Compile(expression string) error {
	_, err := e.code(expression)
	return err
}

// Evaluate runs the filter against data.
func (e *JQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	code, err := e.code(expression)
	if err != nil {
		return nil, err
	}

	input := withDefaults(data)
	// gojq only accepts int, float64 and big.Int numbers.
	input[VarIteration] = int(input[VarIteration].(int64))

	var last any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, core.ErrExpression(core.CodeExpressionFailed, expression,
				fmt.Sprintf("jq evaluation failed for %q", expression)).WithCause(err)
		}
		last = v
	}
	return last, nil
}

func (e *JQEngine) code(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, core.ErrExpression(core.CodeInvalidExpression, expression, "empty jq expression")
	}

	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, core.ErrExpression(core.CodeInvalidExpression, expression,
			fmt.Sprintf("jq parse error in %q", expression)).WithCause(err)
	}
	code, err := gojq.Compile(query, gojq.WithEnvironLoader(func() []string { return nil }))
	if err != nil {
		return nil, core.ErrExpression(core.CodeInvalidExpression, expression,
			fmt.Sprintf("jq compile error in %q", expression)).WithCause(err)
	}
	e.cache[expression] = code
	return code, nil
}

var _ Engine = (*JQEngine)(nil)
