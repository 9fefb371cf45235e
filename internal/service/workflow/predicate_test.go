package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/testutil"
)

func recordWithDifferentials(d map[string]string) core.PatientRecord {
	r := core.NewPatientRecord(testutil.NewTestIntake(), core.AudienceProfessional)
	r.DifferentialDiagnoses = d
	r.ProcessOutline.SupplementaryInquiries = map[string]string{"a": "1", "b": "2", "c": "3"}
	return r
}

func TestExpressionPredicate_Engines(t *testing.T) {
	tests := []struct {
		engine     string
		expression string
	}{
		{"cel", "size(record.differential_diagnoses) == 0"},
		{"expr", "len(record.differential_diagnoses) == 0"},
		{"jq", ".record.differential_diagnoses | length == 0"},
	}
	for _, tt := range tests {
		t.Run(tt.engine, func(t *testing.T) {
			p, err := NewExpressionPredicate(tt.engine, tt.expression)
			require.NoError(t, err)

			empty, err := p.Evaluate(context.Background(), PredicateInput{Record: recordWithDifferentials(map[string]string{})})
			require.NoError(t, err)
			assert.True(t, empty)

			open, err := p.Evaluate(context.Background(), PredicateInput{
				Record: recordWithDifferentials(map[string]string{"Piriformis syndrome": "pending"}),
			})
			require.NoError(t, err)
			assert.False(t, open)
		})
	}
}

func TestExpressionPredicate_SeesOutcomeAndIteration(t *testing.T) {
	p, err := NewExpressionPredicate("cel", `outcome.done || iteration >= 3 || size(record.process_outline.supplementary_inquiries) > 5`)
	require.NoError(t, err)

	in := PredicateInput{Record: recordWithDifferentials(nil), Iteration: 1, Outcome: &StageOutcome{}}
	ok, err := p.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, ok)

	in.Iteration = 3
	ok, err = p.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, ok)

	in.Iteration = 1
	in.Outcome = &StageOutcome{Done: true}
	ok, err = p.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpressionPredicate_CompileError(t *testing.T) {
	_, err := NewExpressionPredicate("cel", "size(record.")
	testutil.AssertCategory(t, err, core.ErrCatConfiguration)
}

type fixedPredicate bool

func (p fixedPredicate) Name() string { return fmt.Sprintf("fixed:%t", bool(p)) }

func (p fixedPredicate) Evaluate(context.Context, PredicateInput) (bool, error) {
	return bool(p), nil
}

func TestCompositePredicates(t *testing.T) {
	yes := fixedPredicate(true)
	no := fixedPredicate(false)
	counted := &countingPredicate{}

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"any first true", AnyOf{yes, counted}, true},
		{"any all false", AnyOf{no, no}, false},
		{"all true", AllOf{yes, yes}, true},
		{"all one false", AllOf{yes, no, counted}, false},
		{"empty all", AllOf{}, false},
		{"empty any", AnyOf{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.pred.Evaluate(context.Background(), PredicateInput{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Zero(t, counted.evaluations, "composites short-circuit")
	assert.Equal(t, "any(rule:yes,self)", AnyOf{yes, SelfJudged{}}.Name())
}

func TestSelfJudged(t *testing.T) {
	ok, _ := SelfJudged{}.Evaluate(context.Background(), PredicateInput{Outcome: &StageOutcome{Done: true}})
	assert.True(t, ok)
	ok, _ = SelfJudged{}.Evaluate(context.Background(), PredicateInput{})
	assert.False(t, ok)
}

func TestLLMJudge(t *testing.T) {
	gw := testutil.NewMockGateway().OnTask("judge", judgeNo, "Sure!\n```json\n{\"complete\": \"YES\", \"reason\": \"ok\"}\n```")
	judge := NewLLMJudge(gw, testPrompts(t), nil, StageConfig{Model: "judge-model"})
	in := PredicateInput{Stage: core.StageInquiry, Record: recordWithDifferentials(nil), Iteration: 1}

	first, err := judge.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, first)

	second, err := judge.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, second, "fenced and upper-case verdicts are repaired")

	calls := gw.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "judge-model", calls[0].Model)
	assert.Contains(t, calls[0].Prompt, "auditing the inquiry stage")
	assert.NotEmpty(t, calls[0].SchemaHint)
}

func TestLLMJudge_Failures(t *testing.T) {
	in := PredicateInput{Stage: core.StageInquiry, Record: recordWithDifferentials(nil), Iteration: 1}

	gw := testutil.NewMockGateway().FailTask("judge", testutil.ErrTest)
	_, err := NewLLMJudge(gw, testPrompts(t), nil, StageConfig{}).Evaluate(context.Background(), in)
	testutil.AssertCategory(t, err, core.ErrCatGateway)

	gw = testutil.NewMockGateway().OnTask("judge", `{"complete": "perhaps"}`)
	_, err = NewLLMJudge(gw, testPrompts(t), nil, StageConfig{}).Evaluate(context.Background(), in)
	testutil.AssertCategory(t, err, core.ErrCatSchema)

	gw = testutil.NewMockGateway().OnTask("judge", "   ")
	_, err = NewLLMJudge(gw, testPrompts(t), nil, StageConfig{}).Evaluate(context.Background(), in)
	testutil.AssertCategory(t, err, core.ErrCatGateway)
}

func TestBuildPredicate(t *testing.T) {
	deps := PredicateDeps{Gateway: testutil.NewMockGateway(), Prompts: testPrompts(t)}

	p, err := BuildPredicate(config.PredicateConfig{}, deps)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = BuildPredicate(config.PredicateConfig{
		Kind: "any",
		Of: []config.PredicateConfig{
			{Kind: "self"},
			{Kind: "rule", Engine: "expr", Expression: "iteration > 2"},
			{Kind: "all", Of: []config.PredicateConfig{{Kind: "llm"}}},
		},
	}, deps)
	require.NoError(t, err)
	assert.Equal(t, "any(self,rule:expr,all(llm))", p.Name())

	for _, bad := range []config.PredicateConfig{
		{Kind: "vote"},
		{Kind: "any"},
		{Kind: "all", Of: []config.PredicateConfig{{}}},
		{Kind: "rule", Engine: "lua", Expression: "true"},
	} {
		_, err := BuildPredicate(bad, deps)
		assert.Error(t, err, "%+v", bad)
	}
}
