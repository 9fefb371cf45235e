// Package parser turns semi-trusted model text into typed, schema-checked records.
package parser

import (
	"encoding/json"
	"fmt"
)

// FieldType is the shape of a schema field.
type FieldType string

const (
	TypeString     FieldType = "string"      // free text or enum
	TypeStringList FieldType = "string_list" // ["a", "b"]
	TypeStringMap  FieldType = "string_map"  // {"k": "v"}
	TypeObjectList FieldType = "object_list" // [{"k": "v"}, ...]
)

// Kind selects how raw output is interpreted.
type Kind string

const (
	KindJSON Kind = "json"
	KindText Kind = "text"
)

// Field describes one field of an expected output.
type Field struct {
	Name        string
	Type        FieldType
	Required    bool
	Enum        []string
	Default     any
	Description string
}

// Schema describes the structured output a prompt asks for.
type Schema struct {
	Name   string
	Kind   Kind
	Fields []Field
}

// Text returns a schema accepting any non-empty free text.
func Text(name string) Schema {
	return Schema{Name: name, Kind: KindText}
}

// Document renders the schema as a JSON Schema (draft 2020-12) document.
// Unknown properties are allowed so that extra fields are dropped rather
// than rejected.
func (s Schema) Document() map[string]any {
	props := make(map[string]any, len(s.Fields))
	required := []string{}
	for _, f := range s.Fields {
		props[f.Name] = f.document()
		if f.Required {
			required = append(required, f.Name)
		}
	}
	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"title":      s.Name,
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Hint returns the schema document as advisory JSON for the gateway.
// Text schemas have no hint.
func (s Schema) Hint() json.RawMessage {
	if s.Kind == KindText {
		return nil
	}
	b, err := json.Marshal(s.Document())
	if err != nil {
		return nil
	}
	return b
}

// Validate checks the descriptor itself.
func (s Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if s.Kind == KindText {
		return nil
	}
	if s.Kind != KindJSON {
		return fmt.Errorf("schema %s: unknown kind %q", s.Name, s.Kind)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %s: field without name", s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %s: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		switch f.Type {
		case TypeString, TypeStringList, TypeStringMap, TypeObjectList:
		default:
			return fmt.Errorf("schema %s: field %s has unknown type %q", s.Name, f.Name, f.Type)
		}
		if len(f.Enum) > 0 && f.Type != TypeString {
			return fmt.Errorf("schema %s: enum on non-string field %s", s.Name, f.Name)
		}
	}
	return nil
}

func (f Field) document() map[string]any {
	d := map[string]any{}
	if f.Description != "" {
		d["description"] = f.Description
	}
	switch f.Type {
	case TypeStringList:
		d["type"] = "array"
		d["items"] = map[string]any{"type": "string"}
	case TypeStringMap:
		d["type"] = "object"
		d["additionalProperties"] = map[string]any{"type": "string"}
		if f.Required {
			d["minProperties"] = 1
		}
	case TypeObjectList:
		d["type"] = "array"
		d["items"] = map[string]any{
			"type":                 "object",
			"additionalProperties": map[string]any{"type": "string"},
		}
	default:
		d["type"] = "string"
		if len(f.Enum) > 0 {
			enum := make([]any, len(f.Enum))
			for i, e := range f.Enum {
				enum[i] = e
			}
			d["enum"] = enum
		} else if f.Required {
			d["minLength"] = 1
		}
	}
	return d
}

// zero returns the default value of a missing optional field.
func (f Field) zero() any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Type {
	case TypeStringList:
		return []string{}
	case TypeStringMap:
		return map[string]string{}
	case TypeObjectList:
		return []map[string]string{}
	default:
		return ""
	}
}
