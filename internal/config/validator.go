package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/expressions"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateGateway(&cfg.Gateway)
	v.validateWorkflow(&cfg.Workflow)
	for _, stage := range core.AllStages() {
		v.validateStage(stage, cfg.Stages.For(stage))
	}
	v.validateState(&cfg.State)
	v.validateServer(&cfg.Server)
	if cfg.Report.Enabled && cfg.Report.Dir == "" {
		v.addError("report.dir", cfg.Report.Dir, "directory required when reports are enabled")
	}

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateGateway(cfg *GatewayConfig) {
	switch cfg.Provider {
	case "openai":
		if cfg.BaseURL == "" {
			v.addError("gateway.base_url", cfg.BaseURL, "required for the openai provider")
		}
		if cfg.Model == "" {
			v.addError("gateway.model", cfg.Model, "required for the openai provider")
		}
	case "cli":
		if cfg.Command == "" {
			v.addError("gateway.command", cfg.Command, "required for the cli provider")
		}
	case "scripted":
		if cfg.Script == "" {
			v.addError("gateway.script", cfg.Script, "required for the scripted provider")
		}
	default:
		v.addError("gateway.provider", cfg.Provider, "must be one of: openai, cli, scripted")
	}

	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("gateway.temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.MaxTokens < 0 {
		v.addError("gateway.max_tokens", cfg.MaxTokens, "must not be negative")
	}
	v.validateDuration("gateway.timeout", cfg.Timeout, true)
	if cfg.Retry.MaxAttempts < 1 {
		v.addError("gateway.retry.max_attempts", cfg.Retry.MaxAttempts, "must be at least 1")
	}
	v.validateDuration("gateway.retry.base_delay", cfg.Retry.BaseDelay, false)
	v.validateDuration("gateway.retry.max_delay", cfg.Retry.MaxDelay, false)
	if cfg.RateLimit.RequestsPerMinute < 0 {
		v.addError("gateway.rate_limit.requests_per_minute", cfg.RateLimit.RequestsPerMinute, "must not be negative")
	}
	if cfg.RateLimit.RequestsPerMinute > 0 && cfg.RateLimit.Burst < 1 {
		v.addError("gateway.rate_limit.burst", cfg.RateLimit.Burst, "must be at least 1")
	}
}

func (v *Validator) validateDuration(field, value string, required bool) {
	if value == "" {
		if required {
			v.addError(field, value, "duration required")
		}
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d < 0 {
		v.addError(field, value, "must not be negative")
	}
}

func (v *Validator) validateWorkflow(cfg *WorkflowConfig) {
	if _, err := core.ParseAudienceLevel(cfg.AudienceLevel); err != nil {
		v.addError("workflow.audience_level", cfg.AudienceLevel, "must be one of: non-professional, professional, top-expert")
	}
}

func (v *Validator) validateStage(stage core.Stage, cfg StageConfig) {
	prefix := "stages." + string(stage)
	if cfg.MaxIterations < 1 {
		v.addError(prefix+".max_iterations", cfg.MaxIterations, "must be a positive integer")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError(prefix+".temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.Looped() {
		v.validatePredicate(prefix+".predicate", cfg.Predicate)
	}
}

func (v *Validator) validatePredicate(field string, cfg PredicateConfig) {
	switch cfg.Kind {
	case "llm", "self":
	case "rule":
		if cfg.Expression == "" {
			v.addError(field+".expression", cfg.Expression, "required for rule predicates")
			return
		}
		engine, err := expressions.New(cfg.Engine)
		if err != nil {
			v.addError(field+".engine", cfg.Engine, "must be one of: cel, expr, jq")
			return
		}
		if err := engine.Compile(cfg.Expression); err != nil {
			v.addError(field+".expression", cfg.Expression, err.Error())
		}
	case "any", "all":
		if len(cfg.Of) == 0 {
			v.addError(field+".of", cfg.Of, "composite predicates need at least one member")
		}
		for i, member := range cfg.Of {
			v.validatePredicate(fmt.Sprintf("%s.of[%d]", field, i), member)
		}
	default:
		v.addError(field+".kind", cfg.Kind, "must be one of: llm, self, rule, any, all")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch cfg.Backend {
	case "none":
	case "json", "sqlite":
		if cfg.Path == "" {
			v.addError("state.path", cfg.Path, "path required for persistent backends")
		}
	default:
		v.addError("state.backend", cfg.Backend, "must be one of: none, json, sqlite")
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "address required")
	}
	if cfg.MaxConcurrentRuns < 1 {
		v.addError("server.max_concurrent_runs", cfg.MaxConcurrentRuns, "must be at least 1")
	}
}

// Validate is a convenience wrapper around Validator.
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}
