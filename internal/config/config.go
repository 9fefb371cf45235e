// Package config loads and validates the rehab-flow configuration.
package config

import (
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Stages   StagesConfig   `mapstructure:"stages"`
	State    StateConfig    `mapstructure:"state"`
	Report   ReportConfig   `mapstructure:"report"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// GatewayConfig configures the model provider.
type GatewayConfig struct {
	Provider    string          `mapstructure:"provider"` // openai, cli, scripted
	BaseURL     string          `mapstructure:"base_url"`
	APIKey      string          `mapstructure:"api_key"`
	APIKeyEnv   string          `mapstructure:"api_key_env"`
	Model       string          `mapstructure:"model"`
	Temperature float64         `mapstructure:"temperature"`
	MaxTokens   int             `mapstructure:"max_tokens"`
	Timeout     string          `mapstructure:"timeout"`
	Command     string          `mapstructure:"command"`
	Args        []string        `mapstructure:"args"`
	Script      string          `mapstructure:"script"`
	Retry       RetryConfig     `mapstructure:"retry"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// TimeoutDuration returns the parsed call timeout, or 0 if unset or invalid.
func (g GatewayConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(g.Timeout)
	return d
}

// RetryConfig configures gateway retries. MaxAttempts 1 disables retrying.
type RetryConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts"`
	BaseDelay   string `mapstructure:"base_delay"`
	MaxDelay    string `mapstructure:"max_delay"`
}

// RateLimitConfig configures the gateway token bucket. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	Burst             int     `mapstructure:"burst"`
}

// WorkflowConfig configures run-level behaviour.
type WorkflowConfig struct {
	AudienceLevel string `mapstructure:"audience_level"`
	Interactive   bool   `mapstructure:"interactive"`
}

// StagesConfig holds per-stage settings.
type StagesConfig struct {
	Inquiry     StageConfig `mapstructure:"inquiry"`
	Diagnosis   StageConfig `mapstructure:"diagnosis"`
	Elimination StageConfig `mapstructure:"elimination"`
	Treatment   StageConfig `mapstructure:"treatment"`
	Report      StageConfig `mapstructure:"report"`
}

// For returns the settings of a stage.
func (s StagesConfig) For(stage core.Stage) StageConfig {
	switch stage {
	case core.StageInquiry:
		return s.Inquiry
	case core.StageDiagnosis:
		return s.Diagnosis
	case core.StageElimination:
		return s.Elimination
	case core.StageTreatment:
		return s.Treatment
	case core.StageReport:
		return s.Report
	default:
		return StageConfig{}
	}
}

// StageConfig configures one stage. A stage without a predicate runs once.
type StageConfig struct {
	MaxIterations int             `mapstructure:"max_iterations"`
	SingleCall    bool            `mapstructure:"single_call"`
	Model         string          `mapstructure:"model"`
	Temperature   float64         `mapstructure:"temperature"`
	Predicate     PredicateConfig `mapstructure:"predicate"`
}

// Looped reports whether the stage runs under the loop controller.
func (s StageConfig) Looped() bool {
	return s.Predicate.Kind != ""
}

// PredicateConfig describes a loop completion predicate.
//
//	kind: llm | self | rule | any | all
//	engine: cel | expr | jq (rule only)
//	expression: rule expression
//	of: nested predicates (any/all only)
type PredicateConfig struct {
	Kind       string            `mapstructure:"kind"`
	Engine     string            `mapstructure:"engine"`
	Expression string            `mapstructure:"expression"`
	Of         []PredicateConfig `mapstructure:"of"`
}

// StateConfig configures run persistence.
type StateConfig struct {
	Backend string `mapstructure:"backend"` // none, json, sqlite
	Path    string `mapstructure:"path"`
}

// ReportConfig configures the markdown report writer.
type ReportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr              string   `mapstructure:"addr"`
	MaxConcurrentRuns int      `mapstructure:"max_concurrent_runs"`
	CORSOrigins       []string `mapstructure:"cors_origins"`
}
