package core

import "testing"

func TestStage_Order(t *testing.T) {
	for i, s := range AllStages() {
		if StageOrder(s) != i {
			t.Fatalf("expected %s order %d, got %d", s, i, StageOrder(s))
		}
	}
	if StageOrder(StageDone) != len(AllStages()) {
		t.Fatalf("expected done to follow every executable stage")
	}
	if StageOrder("invalid") != -1 {
		t.Fatalf("expected invalid stage order -1")
	}
}

func TestStage_Navigation(t *testing.T) {
	got := []Stage{}
	for s := StageInquiry; s != StageDone; s = NextStage(s) {
		got = append(got, s)
		if len(got) > 10 {
			t.Fatalf("stage chain does not terminate")
		}
	}
	want := AllStages()
	if len(got) != len(want) {
		t.Fatalf("chain = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("chain = %v, want %v", got, want)
		}
	}
	if NextStage(StageDone) != "" {
		t.Fatalf("expected no next stage after done")
	}
}

func TestParseStage(t *testing.T) {
	if s, err := ParseStage("elimination"); err != nil || s != StageElimination {
		t.Fatalf("ParseStage(elimination) = %q, %v", s, err)
	}
	if _, err := ParseStage("done"); err == nil {
		t.Fatalf("expected done to be rejected as an executable stage")
	}
	if _, err := ParseStage("surgery"); err == nil {
		t.Fatalf("expected unknown stage to be rejected")
	}
}

func TestParseAudienceLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    AudienceLevel
		wantErr bool
	}{
		{"", AudienceNonProfessional, false},
		{"professional", AudienceProfessional, false},
		{"top-expert", AudienceTopExpert, false},
		{"toddler", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAudienceLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAudienceLevel(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAudienceLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
		if err != nil && !IsCategory(err, ErrCatValidation) {
			t.Errorf("expected validation category, got %v", err)
		}
	}
}
