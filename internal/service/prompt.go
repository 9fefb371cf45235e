package service

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

//go:embed prompts/*.md.tmpl
var promptsFS embed.FS

// SubTaskOutput is the text an earlier sub-task of the same stage produced.
type SubTaskOutput struct {
	Task   string
	Output string
}

// PromptData is the context every stage template renders from.
type PromptData struct {
	Stage     core.Stage
	Task      string
	Audience  core.AudienceLevel
	Record    core.PatientRecord
	Previous  []SubTaskOutput
	Iteration int
	// Schema is the expected output shape, rendered as indented JSON.
	Schema string
	// Final is set for the sub-task whose output the stage parses.
	Final bool
}

// PromptRenderer renders prompts from the embedded template set.
// Templates share one namespace so partials (files starting with "_") can be
// included by name. A renderer is immutable and safe for concurrent use.
type PromptRenderer struct {
	root *template.Template
}

// NewPromptRenderer parses every embedded template.
func NewPromptRenderer() (*PromptRenderer, error) {
	root := template.New("").Funcs(templateFuncs())
	err := fs.WalkDir(promptsFS, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".md.tmpl") {
			return nil
		}
		content, err := promptsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md.tmpl")
		if _, err := root.New(name).Parse(string(content)); err != nil {
			return fmt.Errorf("parsing template %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return &PromptRenderer{root: root}, nil
}

// Has reports whether a template exists.
func (r *PromptRenderer) Has(name string) bool {
	return r.root.Lookup(name) != nil
}

// Templates lists the renderable (non-partial) template names.
func (r *PromptRenderer) Templates() []string {
	var names []string
	for _, t := range r.root.Templates() {
		if n := t.Name(); n != "" && !strings.HasPrefix(n, "_") {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Render executes the named template.
func (r *PromptRenderer) Render(name string, data PromptData) (string, error) {
	tmpl := r.root.Lookup(name)
	if tmpl == nil {
		return "", core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("template not found: %s", name))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"join":      strings.Join,
		"indent":    indent,
		"trimSpace": strings.TrimSpace,
		"upper":     strings.ToUpper,
		"add":       func(a, b int) int { return a + b },
		"orNone": func(s string) string {
			if strings.TrimSpace(s) == "" {
				return "(none recorded)"
			}
			return s
		},
		"toJSON": func(v any) string {
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return "{}"
			}
			return string(b)
		},
		"audienceGuide": audienceGuide,
	}
}

func audienceGuide(level core.AudienceLevel) string {
	switch level {
	case core.AudienceTopExpert:
		return "a senior rehabilitation specialist; be concise and use precise clinical terminology"
	case core.AudienceProfessional:
		return "a practising clinician; use standard clinical terminology with brief explanations"
	default:
		return "the patient or a family member with no medical training; avoid jargon and explain every term"
	}
}

func indent(spaces int, s string) string {
	pad := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}
