package generation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/promptcraft/internal/llmjson"
	"github.com/nikhilbhutani/promptcraft/internal/models"
	"github.com/nikhilbhutani/promptcraft/pkg/tokenizer"
)

const (
	minChainSteps = 2
	maxChainSteps = 4
)

var minutesPattern = regexp.MustCompile(`(?i)(\d+)(?:\s*(?:-|to)\s*(\d+))?\s*min`)

// parseChain decodes a chain response. Some models nest the chain under a
// "chain" key or answer with the bare step array; all shapes are accepted.
// Fields are read leniently: ids and token counts may arrive as strings
// such as "2" or "~150".
func parseChain(raw string) (models.Chain, error) {
	var decoded any
	if err := llmjson.Decode(raw, &decoded); err != nil {
		return models.Chain{}, err
	}

	var top map[string]any
	switch v := decoded.(type) {
	case map[string]any:
		top = v
	case []any:
		top = map[string]any{"steps": v}
	default:
		return models.Chain{}, fmt.Errorf("chain response is a %T, not an object", decoded)
	}
	if steps, _ := top["steps"].([]any); len(steps) == 0 {
		if nested, ok := top["chain"].(map[string]any); ok {
			top = nested
		}
	}

	c := models.Chain{
		Title:       textField(top["title"]),
		Description: textField(top["description"]),
	}
	if md, ok := top["metadata"].(map[string]any); ok {
		c.Metadata.Complexity = textField(md["complexity"])
		c.Metadata.EstimatedTotalTime = textField(md["estimatedTotalTime"])
	}

	list, _ := top["steps"].([]any)
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		step := models.ChainStep{
			ID:             intField(m["id"]),
			Title:          textField(m["title"]),
			Description:    textField(m["description"]),
			Prompt:         textField(m["prompt"]),
			ExpectedOutput: textField(m["expectedOutput"]),
			EstimatedTime:  textField(m["estimatedTime"]),
		}
		for _, ref := range listField(m["connectsTo"]) {
			if id := intField(ref); id > 0 {
				step.ConnectsTo = append(step.ConnectsTo, id)
			}
		}
		if est, ok := m["estimatedTokens"].(map[string]any); ok {
			step.EstimatedTokens.Input = intField(est["input"])
			step.EstimatedTokens.Output = intField(est["output"])
		}
		c.Steps = append(c.Steps, step)
	}
	return c, nil
}

var digitsPattern = regexp.MustCompile(`\d+`)

func textField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// intField reads a number or the first run of digits in a string; anything
// else is 0.
func intField(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(digitsPattern.FindString(t))
		return n
	}
	return 0
}

func listField(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	}
	return []any{v}
}

// normalizeChain enforces the 2-4 step contract on a chain. Steps are put in
// id order and anything past the fourth step is dropped; ok is false when
// fewer than two usable steps remain. Metadata is recomputed from the kept
// steps.
func normalizeChain(c models.Chain, targetModel string) (models.Chain, bool) {
	steps := make([]models.ChainStep, 0, len(c.Steps))
	for _, s := range c.Steps {
		if strings.TrimSpace(s.Prompt) != "" {
			steps = append(steps, s)
		}
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })
	if !validIDs(steps) {
		for i := range steps {
			steps[i].ID = i + 1
		}
	}
	if len(steps) < minChainSteps {
		return c, false
	}
	if len(steps) > maxChainSteps {
		steps = steps[:maxChainSteps]
	}

	kept := make(map[int]bool, len(steps))
	for _, s := range steps {
		kept[s.ID] = true
	}
	for i := range steps {
		s := &steps[i]
		if strings.TrimSpace(s.Title) == "" {
			s.Title = fmt.Sprintf("Step %d", s.ID)
		}
		links := make([]int, 0, len(s.ConnectsTo))
		for _, id := range s.ConnectsTo {
			if kept[id] && id != s.ID {
				links = append(links, id)
			}
		}
		s.ConnectsTo = links
		if s.EstimatedTokens.Input == 0 {
			s.EstimatedTokens.Input = tokenizer.CountTokens(s.Prompt)
		}
		if s.EstimatedTokens.Output == 0 {
			s.EstimatedTokens.Output = 2 * s.EstimatedTokens.Input
		}
	}

	c.Steps = steps
	c.Metadata = chainMetadata(steps, c.Metadata, targetModel)
	return c, true
}

func validIDs(steps []models.ChainStep) bool {
	seen := make(map[int]bool, len(steps))
	for _, s := range steps {
		if s.ID <= 0 || seen[s.ID] {
			return false
		}
		seen[s.ID] = true
	}
	return true
}

func chainMetadata(steps []models.ChainStep, prev models.ChainMetadata, targetModel string) models.ChainMetadata {
	md := models.ChainMetadata{
		TotalSteps:  len(steps),
		Complexity:  prev.Complexity,
		TargetModel: targetModel,
	}

	lo, hi, timed := 0, 0, true
	for _, s := range steps {
		md.EstimatedTotalTokens.Input += s.EstimatedTokens.Input
		md.EstimatedTotalTokens.Output += s.EstimatedTokens.Output

		m := minutesPattern.FindStringSubmatch(s.EstimatedTime)
		if m == nil {
			timed = false
			continue
		}
		a, _ := strconv.Atoi(m[1])
		b := a
		if m[2] != "" {
			b, _ = strconv.Atoi(m[2])
		}
		lo += a
		hi += b
	}
	switch {
	case timed && lo == hi:
		md.EstimatedTotalTime = fmt.Sprintf("%d minutes", lo)
	case timed:
		md.EstimatedTotalTime = fmt.Sprintf("%d-%d minutes", lo, hi)
	default:
		md.EstimatedTotalTime = prev.EstimatedTotalTime
	}

	if md.Complexity == "" {
		switch len(steps) {
		case 2:
			md.Complexity = "low"
		case 3:
			md.Complexity = "medium"
		default:
			md.Complexity = "high"
		}
	}
	return md
}
