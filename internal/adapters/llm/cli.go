package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
)

// CLIConfig configures a gateway backed by a local command.
type CLIConfig struct {
	// Command may contain arguments ("ollama run llama3").
	Command string
	Args    []string
	Timeout time.Duration
	WorkDir string
}

// CLIGateway runs a command per call, writing the prompt to stdin and taking
// stdout as the model text. The model and stage are exported to the child as
// REHAB_MODEL and REHAB_STAGE.
type CLIGateway struct {
	cfg    CLIConfig
	logger *logging.Logger
}

// NewCLIGateway creates a command gateway.
func NewCLIGateway(cfg CLIConfig, logger *logging.Logger) *CLIGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CLIGateway{cfg: cfg, logger: logger}
}

// Name implements core.Gateway.
func (g *CLIGateway) Name() string { return "cli" }

// Invoke implements core.Gateway.
func (g *CLIGateway) Invoke(ctx context.Context, req core.GatewayRequest) (*core.GatewayResponse, error) {
	parts := strings.Fields(g.cfg.Command)
	if len(parts) == 0 {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "cli gateway command not configured")
	}
	args := append(parts[1:], g.cfg.Args...)

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	// #nosec G204 -- command and args come from validated config
	cmd := exec.CommandContext(ctx, parts[0], args...)
	configureProcAttr(cmd)
	cmd.Dir = g.cfg.WorkDir
	cmd.Stdin = strings.NewReader(prompt(req))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(),
		"REHAB_MANAGED=true",
		"REHAB_STAGE="+string(req.Stage),
		"REHAB_TASK="+req.Task,
		"REHAB_MODEL="+req.Model,
	)

	g.logger.Debug("cli: executing command",
		"path", parts[0],
		"args", args,
		"stage", req.Stage,
		"task", req.Task,
		"stdin_length", len(req.Prompt),
	)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, core.ErrGatewayTransient(core.CodeGatewayTimeout,
			fmt.Sprintf("command timed out after %v", g.cfg.Timeout))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			g.logger.Error("cli: command failed",
				"path", parts[0],
				"exit_code", exitErr.ExitCode(),
				"duration", duration,
				"stderr", truncateBody(stderr.Bytes()),
			)
			return nil, core.ErrGateway(core.CodeGatewayFailed,
				fmt.Sprintf("command exited with %d: %s", exitErr.ExitCode(), truncateBody(stderr.Bytes())))
		}
		return nil, core.ErrGateway(core.CodeGatewayFailed, "running command").WithCause(err)
	}

	g.logger.Debug("cli: command completed",
		"path", parts[0],
		"duration", duration,
		"stdout_length", stdout.Len(),
	)
	return &core.GatewayResponse{
		Text:     stdout.String(),
		Model:    req.Model,
		Duration: duration,
	}, nil
}

func prompt(req core.GatewayRequest) string {
	if req.System == "" {
		return req.Prompt
	}
	return req.System + "\n\n" + req.Prompt
}
