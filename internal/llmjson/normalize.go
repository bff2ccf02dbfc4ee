package llmjson

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/promptcraft/internal/models"
)

// Fields lists the structured prompt keys in display order.
var Fields = []string{"role", "context", "instructions", "rules", "output_format"}

// Envelope is a normalized generation result.
type Envelope struct {
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	Prompt       models.StructuredPrompt `json:"prompt"`
	Improvements []string                `json:"improvements,omitempty"`
}

// Placeholder is the value used for a structured prompt field the model left out.
func Placeholder(field string) string {
	return fmt.Sprintf("[%s] - Please specify %s requirements", strings.ToUpper(field), field)
}

// Normalize maps a decoded model response onto an Envelope whose prompt has
// all five fields set. It never panics and is idempotent on its own output.
func Normalize(parsed map[string]any) Envelope {
	obj := unwrap(parsed)
	fields := promptFields(obj)

	get := func(name string) string {
		if s := strings.TrimSpace(stringify(fields[name])); s != "" {
			return s
		}
		return Placeholder(name)
	}

	return Envelope{
		Title:       strings.TrimSpace(stringify(obj["title"])),
		Description: strings.TrimSpace(stringify(obj["description"])),
		Prompt: models.StructuredPrompt{
			Role:         get("role"),
			Context:      get("context"),
			Instructions: get("instructions"),
			Rules:        get("rules"),
			OutputFormat: get("output_format"),
		},
		Improvements: stringList(obj["improvements"]),
	}
}

// NormalizePrompt fills the missing fields of an already typed prompt.
func NormalizePrompt(p models.StructuredPrompt) models.StructuredPrompt {
	fill := func(v, name string) string {
		if strings.TrimSpace(v) == "" {
			return Placeholder(name)
		}
		return v
	}
	return models.StructuredPrompt{
		Role:         fill(p.Role, "role"),
		Context:      fill(p.Context, "context"),
		Instructions: fill(p.Instructions, "instructions"),
		Rules:        fill(p.Rules, "rules"),
		OutputFormat: fill(p.OutputFormat, "output_format"),
	}
}

// unwrap handles models that return the whole response JSON-encoded inside
// one prompt field. Only one level is removed.
func unwrap(obj map[string]any) map[string]any {
	if obj == nil {
		return map[string]any{}
	}
	p, ok := obj["prompt"].(map[string]any)
	if !ok {
		return obj
	}
	for _, name := range Fields {
		s, ok := p[name].(string)
		if !ok {
			continue
		}
		nested, ok := parseObject(s)
		if !ok {
			continue
		}
		if _, ok := nested["prompt"].(map[string]any); ok {
			return nested
		}
	}
	return obj
}

func promptFields(obj map[string]any) map[string]any {
	switch p := obj["prompt"].(type) {
	case map[string]any:
		return p
	case string:
		if nested, ok := parseObject(p); ok {
			if inner, ok := nested["prompt"].(map[string]any); ok {
				return inner
			}
			if hasAnyField(nested) {
				return nested
			}
		}
		return map[string]any{"instructions": p}
	}
	if hasAnyField(obj) {
		return obj
	}
	return map[string]any{}
}

func hasAnyField(m map[string]any) bool {
	for _, name := range Fields {
		if _, ok := m[name]; ok {
			return true
		}
	}
	return false
}

func parseObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, false
	}
	return m, true
}

// stringify renders a decoded JSON value as text; falsy values become "".
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
		return "true"
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []any:
		var out []string
		for _, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
	}
	return nil
}
