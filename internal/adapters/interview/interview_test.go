package interview

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/testutil"
)

func TestTerminal_Ask(t *testing.T) {
	var out bytes.Buffer
	iv := NewTerminal(strings.NewReader("  three weeks \n\nno"), &out)
	ctx := context.Background()

	tests := []struct {
		q    core.Question
		want string
	}{
		{core.Question{Stage: core.StageInquiry, Kind: core.QuestionInquiry, Text: "Since when?"}, "three weeks"},
		{core.Question{Stage: core.StageInquiry, Kind: core.QuestionInquiry, Text: "Night pain?"}, ""},
		{core.Question{Stage: core.StageElimination, Kind: core.QuestionExamination, Text: "FAIR test"}, "no"},
		{core.Question{Stage: core.StageElimination, Kind: core.QuestionDialectic, Text: "After EOF"}, ""},
	}
	for _, tt := range tests {
		got, err := iv.Ask(ctx, tt.q)
		if err != nil {
			t.Fatalf("Ask(%q) error = %v", tt.q.Text, err)
		}
		if got != tt.want {
			t.Errorf("Ask(%q) = %q, want %q", tt.q.Text, got, tt.want)
		}
	}

	printed := out.String()
	for _, want := range []string{"[inquiry] Question: Since when?", "[elimination] Examination result: FAIR test", "Differential: After EOF"} {
		if !strings.Contains(printed, want) {
			t.Errorf("output missing %q:\n%s", want, printed)
		}
	}
}

func TestTerminal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewTerminal(strings.NewReader("x\n"), &bytes.Buffer{}).Ask(ctx, core.Question{}); err == nil {
		t.Error("expected context error")
	}
}

func TestScripted(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "answers.yaml", `
"Does coughing make the leg pain worse?": "Yes"
"Lumbar MRI": "L5/S1 herniation"
`)
	iv, err := LoadScripted(path)
	if err != nil {
		t.Fatalf("LoadScripted() error = %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		q    core.Question
		want string
	}{
		{core.Question{Kind: core.QuestionInquiry, Text: "Does coughing make the leg pain worse?"}, "Yes"},
		{core.Question{Kind: core.QuestionExamination, Text: "Lumbar MRI (confirm level)"}, "L5/S1 herniation"},
		{core.Question{Kind: core.QuestionInquiry, Text: "Lumbar MRI (confirm level)"}, ""},
		{core.Question{Kind: core.QuestionInquiry, Text: "Unknown"}, ""},
	}
	for _, tt := range tests {
		got, _ := iv.Ask(ctx, tt.q)
		if got != tt.want {
			t.Errorf("Ask(%q) = %q, want %q", tt.q.Text, got, tt.want)
		}
	}
}

func TestLoadScripted_Invalid(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "answers.yaml", "- not\n- a map\n")
	if _, err := LoadScripted(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSilent(t *testing.T) {
	got, err := Silent{}.Ask(context.Background(), core.Question{Text: "anything"})
	if got != "" || err != nil {
		t.Errorf("Silent.Ask() = %q, %v", got, err)
	}
}
