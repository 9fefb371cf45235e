package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// Result is a parsed model output projected onto its schema.
type Result struct {
	Schema string
	// Fields holds exactly the declared fields: present values converted to
	// their Go types and missing optionals set to their defaults.
	Fields map[string]any
	// Text is the trimmed output of a text schema.
	Text string
	// Repaired reports whether the repair pass was needed.
	Repaired bool
	Raw      string
}

// String returns a string field or "".
func (r *Result) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// StringList returns a list field or nil.
func (r *Result) StringList(name string) []string {
	l, _ := r.Fields[name].([]string)
	return l
}

// StringMap returns a map field or nil.
func (r *Result) StringMap(name string) map[string]string {
	m, _ := r.Fields[name].(map[string]string)
	return m
}

// ObjectList returns an object list field or nil.
func (r *Result) ObjectList(name string) []map[string]string {
	l, _ := r.Fields[name].([]map[string]string)
	return l
}

// Parser validates raw model text against schema descriptors.
// It is safe for concurrent use.
type Parser struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// New creates a parser with an empty schema cache.
func New() *Parser {
	return &Parser{cache: make(map[string]*jsonschema.Schema)}
}

// Parse decodes raw against s. Strict decoding is tried first; if that fails
// a single repair pass runs before giving up. Every failure is returned as a
// schema violation carrying the raw text.
func (p *Parser) Parse(raw string, s Schema) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, err.Error())
	}

	if s.Kind == KindText {
		text := strings.TrimSpace(unwrapFence(raw))
		if text == "" {
			return nil, core.ErrSchemaViolation(s.Name, raw, []string{"empty output"})
		}
		return &Result{Schema: s.Name, Text: text, Fields: map[string]any{}, Raw: raw}, nil
	}

	res := &Result{Schema: s.Name, Raw: raw}
	doc, err := decodeObject(raw)
	if err != nil {
		res.Repaired = true
		doc, err = decodeObject(repair(raw))
		if err != nil {
			return nil, core.ErrSchemaViolation(s.Name, raw, []string{"not a JSON object: " + err.Error()})
		}
	}

	coerce(doc, s)

	compiled, err := p.compile(s)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("compile schema %s", s.Name)).WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, core.ErrSchemaViolation(s.Name, raw, violations(err))
	}

	res.Fields = project(doc, s)
	return res, nil
}

func (p *Parser) compile(s Schema) (*jsonschema.Schema, error) {
	b, err := json.Marshal(s.Document())
	if err != nil {
		return nil, err
	}
	key := s.Name + "\x00" + string(b)

	p.mu.RLock()
	if cached, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return cached, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if cached, ok := p.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := fmt.Sprintf("rehab://schemas/%s/%d.json", s.Name, len(p.cache))
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	p.cache[key] = compiled
	return compiled, nil
}

// decodeObject strictly decodes text as exactly one JSON object.
func decodeObject(text string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(text)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unexpected content after top-level value")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %T, not an object", v)
	}
	return obj, nil
}

// violations flattens a validation error tree into location-prefixed leaves.
func violations(err error) []string {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []string{err.Error()}
	}
	out := collect(verr)
	sort.Strings(out)
	return out
}

func collect(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, collect(cause)...)
	}
	return out
}

// project keeps only declared fields and fills defaults for missing optionals.
// It runs after validation, so present values already have the right shape.
func project(doc map[string]any, s Schema) map[string]any {
	out := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		v, ok := doc[f.Name]
		if !ok {
			out[f.Name] = f.zero()
			continue
		}
		switch f.Type {
		case TypeStringList:
			items, _ := v.([]any)
			l := make([]string, 0, len(items))
			for _, it := range items {
				if str, _ := it.(string); strings.TrimSpace(str) != "" {
					l = append(l, strings.TrimSpace(str))
				}
			}
			out[f.Name] = l
		case TypeStringMap:
			obj, _ := v.(map[string]any)
			out[f.Name] = stringMap(obj)
		case TypeObjectList:
			items, _ := v.([]any)
			l := make([]map[string]string, 0, len(items))
			for _, it := range items {
				obj, _ := it.(map[string]any)
				l = append(l, stringMap(obj))
			}
			out[f.Name] = l
		default:
			str, _ := v.(string)
			out[f.Name] = strings.TrimSpace(str)
		}
	}
	return out
}

func stringMap(obj map[string]any) map[string]string {
	m := make(map[string]string, len(obj))
	for k, v := range obj {
		if str, _ := v.(string); str != "" {
			m[k] = str
		}
	}
	return m
}
