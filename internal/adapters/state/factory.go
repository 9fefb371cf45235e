// Package state persists finished runs. Both stores are report sinks, so a
// run is saved by the same delivery that writes its report files.
package state

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// Default locations, relative to the working directory.
const (
	DefaultJSONDir    = ".rehab/runs"
	DefaultSQLitePath = ".rehab/runs.db"
)

// New opens the configured run store. The "none" backend yields a nil store.
func New(cfg config.StateConfig) (core.RunStore, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "json":
		dir := cfg.Path
		if dir == "" {
			dir = DefaultJSONDir
		}
		return NewJSONStore(dir)
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = DefaultSQLitePath
		}
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown state backend %q", cfg.Backend))
	}
}
