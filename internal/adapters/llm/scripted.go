package llm

import (
	"context"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/fsutil"
)

// Script is a recorded conversation replayed by ScriptedGateway.
//
//	responses:
//	  inquiry:
//	    - '{"inquiry_analysis": "...", "suggested_questions": [], "inquiry_complete": "yes"}'
//	  report:
//	    - "# Summary"
//	failures:
//	  treatment-draft: "provider unavailable"
type Script struct {
	Model     string              `yaml:"model"`
	Responses map[string][]string `yaml:"responses"`
	Failures  map[string]string   `yaml:"failures"`
}

// ScriptedGateway replays canned replies keyed by sub-task name. Each task's
// replies are served in order and the last one repeats.
type ScriptedGateway struct {
	mu     sync.Mutex
	script Script
	next   map[string]int
}

// NewScriptedGateway creates a gateway replaying script.
func NewScriptedGateway(script Script) *ScriptedGateway {
	return &ScriptedGateway{script: script, next: map[string]int{}}
}

// LoadScript reads a YAML script file.
func LoadScript(path string) (Script, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return Script{}, fmt.Errorf("reading script: %w", err)
	}
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parsing script %s: %w", path, err)
	}
	if len(s.Responses) == 0 && len(s.Failures) == 0 {
		return Script{}, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("script %s has no responses", path))
	}
	return s, nil
}

// Name implements core.Gateway.
func (g *ScriptedGateway) Name() string { return "scripted" }

// Invoke implements core.Gateway.
func (g *ScriptedGateway) Invoke(_ context.Context, req core.GatewayRequest) (*core.GatewayResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if msg, ok := g.script.Failures[req.Task]; ok {
		return nil, core.ErrGateway(core.CodeGatewayFailed, fmt.Sprintf("%s: %s", req.Task, msg))
	}
	replies := g.script.Responses[req.Task]
	if len(replies) == 0 {
		return nil, core.ErrGateway(core.CodeEmptyResponse, fmt.Sprintf("no scripted reply for %s", req.Task))
	}
	i := min(g.next[req.Task], len(replies)-1)
	g.next[req.Task]++
	return &core.GatewayResponse{
		Text:  replies[i],
		Model: firstNonEmpty(req.Model, g.script.Model, "scripted"),
	}, nil
}
