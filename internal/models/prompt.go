package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prompt is one saved row. Improvements and optimizations insert a new row
// whose ParentID points at the row it was derived from.
type Prompt struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description,omitempty" db:"description"`
	Content     Content    `json:"content" db:"content"`
	ParentID    *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// StructuredPrompt is the five-field prompt representation.
type StructuredPrompt struct {
	Role         string `json:"role"`
	Context      string `json:"context"`
	Instructions string `json:"instructions"`
	Rules        string `json:"rules"`
	OutputFormat string `json:"output_format"`
}

// Text flattens the prompt into the form sent to a model.
func (p StructuredPrompt) Text() string {
	var sb strings.Builder
	for _, s := range []struct{ label, value string }{
		{"Role", p.Role},
		{"Context", p.Context},
		{"Instructions", p.Instructions},
		{"Rules", p.Rules},
		{"Output Format", p.OutputFormat},
	} {
		if strings.TrimSpace(s.value) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s:\n%s", s.label, s.value)
	}
	return sb.String()
}

// PromptBody holds either a legacy free-text prompt or a structured one.
type PromptBody struct {
	Text       string
	Structured *StructuredPrompt
}

func (b PromptBody) IsZero() bool {
	return b.Structured == nil && strings.TrimSpace(b.Text) == ""
}

// String returns the text sent to a model.
func (b PromptBody) String() string {
	if b.Structured != nil {
		return b.Structured.Text()
	}
	return b.Text
}

func (b PromptBody) MarshalJSON() ([]byte, error) {
	if b.Structured != nil {
		return json.Marshal(b.Structured)
	}
	return json.Marshal(b.Text)
}

func (b *PromptBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = PromptBody{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = PromptBody{Text: s}
		return nil
	}
	var sp StructuredPrompt
	if err := json.Unmarshal(data, &sp); err != nil {
		return fmt.Errorf("decode structured prompt: %w", err)
	}
	*b = PromptBody{Structured: &sp}
	return nil
}

type VariableType string

const (
	VariableText     VariableType = "text"
	VariableDocument VariableType = "document"
)

// Variable is substituted for {{name}} in prompt text before dispatch.
type Variable struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     VariableType `json:"type"`
	Value    string       `json:"value"`
	FileName string       `json:"fileName,omitempty"`
}

// VariableValues maps variable names to values; later duplicates are ignored.
func VariableValues(vars []Variable) map[string]string {
	out := make(map[string]string, len(vars))
	for _, v := range vars {
		if _, ok := out[v.Name]; !ok && v.Name != "" {
			out[v.Name] = v.Value
		}
	}
	return out
}

type TokenEstimate struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// ChainStep is one prompt of a chain. Steps run in ascending ID order;
// ConnectsTo is descriptive only.
type ChainStep struct {
	ID              int           `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description"`
	Prompt          string        `json:"prompt"`
	ExpectedOutput  string        `json:"expectedOutput"`
	ConnectsTo      []int         `json:"connectsTo"`
	EstimatedTime   string        `json:"estimatedTime"`
	EstimatedTokens TokenEstimate `json:"estimatedTokens"`
}

type ChainMetadata struct {
	TotalSteps           int           `json:"totalSteps"`
	EstimatedTotalTime   string        `json:"estimatedTotalTime"`
	EstimatedTotalTokens TokenEstimate `json:"estimatedTotalTokens"`
	Complexity           string        `json:"complexity,omitempty"`
	TargetModel          string        `json:"targetModel,omitempty"`
}

// Chain is a 2–4 step sequence of prompts.
type Chain struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Steps       []ChainStep   `json:"steps"`
	Metadata    ChainMetadata `json:"metadata"`
}
