//go:build !windows

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/testutil"
)

func TestCLIGateway_EchoesStdin(t *testing.T) {
	gw := NewCLIGateway(CLIConfig{Command: "cat"}, nil)
	resp, err := gw.Invoke(context.Background(), core.GatewayRequest{System: "sys", Prompt: "hello", Model: "local"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "sys\n\nhello" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.Model != "local" {
		t.Errorf("Model = %q", resp.Model)
	}
}

func TestCLIGateway_Environment(t *testing.T) {
	gw := NewCLIGateway(CLIConfig{Command: "sh -c", Args: []string{`printf '%s/%s' "$REHAB_STAGE" "$REHAB_TASK"`}}, nil)
	resp, err := gw.Invoke(context.Background(), core.GatewayRequest{Stage: core.StageDiagnosis, Task: "diagnosis-draft"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Text != "diagnosis/diagnosis-draft" {
		t.Errorf("Text = %q", resp.Text)
	}
}

func TestCLIGateway_Failures(t *testing.T) {
	tests := []struct {
		name      string
		cfg       CLIConfig
		cat       core.ErrorCategory
		retryable bool
	}{
		{"exit status", CLIConfig{Command: "sh -c", Args: []string{"echo oops >&2; exit 3"}}, core.ErrCatGateway, false},
		{"timeout", CLIConfig{Command: "sleep 5", Timeout: 50 * time.Millisecond}, core.ErrCatGateway, true},
		{"missing binary", CLIConfig{Command: "rehab-no-such-binary"}, core.ErrCatGateway, false},
		{"no command", CLIConfig{}, core.ErrCatValidation, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCLIGateway(tt.cfg, nil).Invoke(context.Background(), core.GatewayRequest{Prompt: "x"})
			testutil.AssertCategory(t, err, tt.cat)
			if got := core.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tt.retryable)
			}
		})
	}
}
