// Package llm holds the gateway adapters: an OpenAI-compatible HTTP client, a
// local command runner and a scripted replayer, plus retry and rate-limit
// decorators.
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service"
)

// New builds the configured gateway. The base adapter is wrapped in the rate
// limiter first and the retry policy outermost, so each retry waits for a
// token of its own.
func New(cfg config.GatewayConfig, logger *logging.Logger) (core.Gateway, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With("component", "gateway")

	var gw core.Gateway
	switch cfg.Provider {
	case "openai", "":
		apiKey := cfg.APIKey
		if apiKey == "" && cfg.APIKeyEnv != "" {
			apiKey = os.Getenv(cfg.APIKeyEnv)
		}
		gw = NewOpenAIGateway(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      apiKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.TimeoutDuration(),
		}, logger)
	case "cli":
		gw = NewCLIGateway(CLIConfig{
			Command: cfg.Command,
			Args:    cfg.Args,
			Timeout: cfg.TimeoutDuration(),
		}, logger)
	case "scripted":
		script, err := LoadScript(cfg.Script)
		if err != nil {
			return nil, err
		}
		gw = NewScriptedGateway(script)
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown gateway provider %q", cfg.Provider))
	}

	if cfg.RateLimit.RequestsPerMinute > 0 {
		gw = WithRateLimit(gw, service.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst))
	}
	if cfg.Retry.MaxAttempts > 1 {
		gw = WithRetry(gw, service.NewRetryPolicy(
			cfg.Retry.MaxAttempts,
			parseDuration(cfg.Retry.BaseDelay, time.Second),
			parseDuration(cfg.Retry.MaxDelay, 30*time.Second),
		), logger)
	}
	return gw, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
