package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

// NewLoaderWithViper creates a loader using an existing viper instance, so
// that CLI flag bindings take part in the precedence chain.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "REHAB",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// ConfigFileUsed returns the config file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (REHAB_*)
// 3. Project config (.rehab.yaml in current directory)
// 4. User config (~/.config/rehab/.rehab.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".rehab")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "rehab"))
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("gateway.provider", "openai")
	l.v.SetDefault("gateway.base_url", "https://api.openai.com/v1")
	l.v.SetDefault("gateway.api_key_env", "OPENAI_API_KEY")
	l.v.SetDefault("gateway.model", "gpt-4o-mini")
	l.v.SetDefault("gateway.temperature", 0.2)
	l.v.SetDefault("gateway.max_tokens", 2048)
	l.v.SetDefault("gateway.timeout", "2m")
	l.v.SetDefault("gateway.retry.max_attempts", 3)
	l.v.SetDefault("gateway.retry.base_delay", "1s")
	l.v.SetDefault("gateway.retry.max_delay", "30s")
	l.v.SetDefault("gateway.rate_limit.requests_per_minute", 0)
	l.v.SetDefault("gateway.rate_limit.burst", 1)

	l.v.SetDefault("workflow.audience_level", "non-professional")
	l.v.SetDefault("workflow.interactive", true)

	l.v.SetDefault("stages.inquiry.max_iterations", 3)
	l.v.SetDefault("stages.inquiry.predicate.kind", "llm")
	l.v.SetDefault("stages.diagnosis.max_iterations", 1)
	l.v.SetDefault("stages.elimination.max_iterations", 4)
	l.v.SetDefault("stages.elimination.predicate.kind", "any")
	l.v.SetDefault("stages.elimination.predicate.of", []map[string]interface{}{
		{"kind": "self"},
		{"kind": "rule", "engine": "cel", "expression": "size(record.differential_diagnoses) == 0"},
	})
	l.v.SetDefault("stages.treatment.max_iterations", 1)
	l.v.SetDefault("stages.report.max_iterations", 1)

	l.v.SetDefault("state.backend", "json")
	l.v.SetDefault("state.path", ".rehab/runs")

	l.v.SetDefault("report.enabled", true)
	l.v.SetDefault("report.dir", ".rehab/reports")

	l.v.SetDefault("server.addr", "127.0.0.1:8088")
	l.v.SetDefault("server.max_concurrent_runs", 4)
	l.v.SetDefault("server.cors_origins", []string{"http://localhost:5173"})
}
