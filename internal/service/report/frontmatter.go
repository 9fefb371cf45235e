package report

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frontmatter is an ordered set of YAML header fields.
type Frontmatter struct {
	keys   []string
	values map[string]any
}

// NewFrontmatter creates an empty frontmatter.
func NewFrontmatter() *Frontmatter {
	return &Frontmatter{values: map[string]any{}}
}

// Set adds or replaces a field, keeping first-insertion order.
func (f *Frontmatter) Set(key string, value any) *Frontmatter {
	if _, ok := f.values[key]; !ok {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
	return f
}

// Render returns the header with its delimiters, or "" when empty.
func (f *Frontmatter) Render() (string, error) {
	if len(f.keys) == 0 {
		return "", nil
	}
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range f.keys {
		var value yaml.Node
		if err := value.Encode(f.values[k]); err != nil {
			return "", fmt.Errorf("encoding frontmatter field %s: %w", k, err)
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &value)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encoding frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	sb.WriteString("---\n\n")
	return sb.String(), nil
}
