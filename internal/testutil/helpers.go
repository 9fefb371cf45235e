package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// ErrTest is a generic test error.
var ErrTest = errors.New("test error")

// TempFile creates a file with content under dir.
func TempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

// AssertNoError fails if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertCategory fails unless err is a domain error of the given category.
func AssertCategory(t *testing.T, err error, cat core.ErrorCategory) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", cat)
	}
	if got := core.GetCategory(err); got != cat {
		t.Fatalf("error category = %q, want %q (%v)", got, cat, err)
	}
}

// AssertEqual fails if got != want.
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// NewTestIntake returns a lumbar pain intake used across tests.
// Use functional options to override specific fields.
func NewTestIntake(opts ...func(*core.InitialInquiry)) core.InitialInquiry {
	in := core.InitialInquiry{
		ChiefComplaint:          "Low back pain radiating to the left leg for three weeks",
		HistoryOfPresentIllness: "Started after lifting a heavy box; worse when sitting",
		PastMedicalHistory:      "Hypertension",
		AllergyHistory:          "Penicillin",
		PhysicalExamination:     "Positive straight leg raise on the left at 40 degrees",
		AuxiliaryExamination:    map[string]string{},
	}
	for _, opt := range opts {
		opt(&in)
	}
	return in
}
