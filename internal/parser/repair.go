package parser

import (
	"encoding/json"
	"maps"
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n?(.*?)\\n?```")

// unwrapFence returns the body of the first fenced block when the whole
// output is a single fence, and raw unchanged otherwise.
func unwrapFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") {
		return raw
	}
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil && len(m[0]) == len(trimmed) {
		return m[1]
	}
	return raw
}

// repair is the single bounded repair pass: isolate the JSON object from
// fences or surrounding prose, then drop trailing commas.
func repair(raw string) string {
	text := raw
	if m := fencePattern.FindStringSubmatch(raw); m != nil && strings.Contains(m[1], "{") {
		text = m[1]
	}
	// A reply that is already valid JSON, such as a top-level array, is
	// left for strict decoding to reject.
	if json.Valid([]byte(strings.TrimSpace(text))) {
		return text
	}
	if obj := extractObject(text); obj != "" {
		text = obj
	}
	return stripTrailingCommas(text)
}

// extractObject returns the first balanced {...} span, honouring strings.
// If the object never closes, everything from the first brace to the last
// closing brace is returned.
func extractObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	if end := strings.LastIndex(text, "}"); end > start {
		return text[start : end+1]
	}
	return ""
}

// stripTrailingCommas removes commas directly followed (ignoring whitespace)
// by a closing bracket, outside of string literals.
func stripTrailingCommas(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = true
		}
		if c == ',' {
			j := i + 1
			for j < len(text) && strings.ContainsRune(" \t\r\n", rune(text[j])) {
				j++
			}
			if j < len(text) && (text[j] == '}' || text[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// coerce normalises values in place so that common model quirks (numbers
// where text is expected, a bare string instead of a list, enum casing,
// explicit nulls) validate. Strings are trimmed and blank entries dropped
// before validation, so a blank required field is a violation. It never
// invents missing fields.
func coerce(doc map[string]any, s Schema) {
	for _, f := range s.Fields {
		v, ok := doc[f.Name]
		if !ok {
			continue
		}
		if v == nil {
			delete(doc, f.Name)
			continue
		}
		switch f.Type {
		case TypeString:
			str, ok := scalarString(v)
			if !ok {
				continue
			}
			str = strings.TrimSpace(str)
			if len(f.Enum) > 0 {
				str = matchEnum(str, f.Enum)
			}
			doc[f.Name] = str
		case TypeStringList:
			switch t := v.(type) {
			case string:
				if t = strings.TrimSpace(t); t == "" {
					doc[f.Name] = []any{}
				} else {
					doc[f.Name] = []any{t}
				}
			case []any:
				items := t[:0]
				for _, it := range t {
					if it == nil {
						continue
					}
					if str, ok := scalarString(it); ok {
						if str = strings.TrimSpace(str); str == "" {
							continue
						}
						it = str
					}
					items = append(items, it)
				}
				doc[f.Name] = items
			}
		case TypeStringMap:
			if obj, ok := v.(map[string]any); ok {
				stringifyValues(obj)
			}
		case TypeObjectList:
			switch t := v.(type) {
			case map[string]any:
				stringifyValues(t)
				doc[f.Name] = []any{t}
			case []any:
				for _, it := range t {
					if obj, ok := it.(map[string]any); ok {
						stringifyValues(obj)
					}
				}
			}
		}
	}
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		if t {
			return "true", true
		}
		return "false", true
	default:
		return "", false
	}
}

// stringifyValues turns every value into trimmed text and drops entries
// whose key or value is blank.
func stringifyValues(obj map[string]any) {
	clean := make(map[string]any, len(obj))
	for k, v := range obj {
		key := strings.TrimSpace(k)
		if v == nil || key == "" {
			continue
		}
		str, ok := scalarString(v)
		if !ok {
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			str = string(b)
		}
		if str = strings.TrimSpace(str); str != "" {
			clean[key] = str
		}
	}
	clear(obj)
	maps.Copy(obj, clean)
}

func matchEnum(v string, enum []string) string {
	norm := strings.ToLower(strings.TrimSpace(v))
	for _, e := range enum {
		if strings.ToLower(e) == norm {
			return e
		}
	}
	return v
}
