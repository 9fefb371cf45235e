package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

func predicateData() map[string]any {
	return map[string]any{
		VarRecord: map[string]any{
			"differential_diagnoses": map[string]any{},
			"diagnosis_result":       map[string]any{"Frozen shoulder": "restricted ER"},
			"process_outline": map[string]any{
				"supplementary_inquiries": map[string]any{"q1": "a1", "q2": "a2"},
				"complete_sections":       []any{"inquiry"},
			},
		},
		VarOutcome:   map[string]any{"done": false},
		VarIteration: 2,
	}
}

func TestEngines_EvaluateBool(t *testing.T) {
	tests := []struct {
		engine string
		expr   string
		want   bool
	}{
		{"cel", "size(record.differential_diagnoses) == 0", true},
		{"cel", `"inquiry" in record.process_outline.complete_sections`, true},
		{"cel", "iteration >= 3", false},
		{"cel", "outcome.done", false},
		{"expr", "len(record.process_outline.supplementary_inquiries) >= 2", true},
		{"expr", "iteration == 2 && !outcome.done", true},
		{"jq", ".record.differential_diagnoses | length == 0", true},
		{"jq", ".iteration > 5", false},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.engine+"/"+tt.expr, func(t *testing.T) {
			e, err := New(tt.engine)
			require.NoError(t, err)
			require.NoError(t, e.Compile(tt.expr))

			got, err := EvaluateBool(ctx, e, tt.expr, predicateData())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngines_CompileErrors(t *testing.T) {
	for _, name := range []string{"cel", "expr", "jq"} {
		e, err := New(name)
		require.NoError(t, err)

		err = e.Compile("record.(")
		require.Error(t, err, name)
		assert.True(t, core.IsCategory(err, core.ErrCatConfiguration), name)

		assert.Error(t, e.Compile(""), name)
	}
}

func TestEvaluateBool_NonBoolean(t *testing.T) {
	e, err := New("jq")
	require.NoError(t, err)

	_, err = EvaluateBool(context.Background(), e, ".record.diagnosis_result | length", predicateData())
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatConfiguration))
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("lua")
	assert.Error(t, err)

	e, err := New("")
	require.NoError(t, err)
	assert.Equal(t, "cel", e.Name())
}

func TestCEL_MissingVariablesDefault(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	got, err := EvaluateBool(context.Background(), e, "size(record) == 0 && iteration == 0", nil)
	require.NoError(t, err)
	assert.True(t, got)
}
