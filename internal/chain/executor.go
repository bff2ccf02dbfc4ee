// Package chain runs prompt chains step by step.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nikhilbhutani/promptcraft/internal/llm"
	"github.com/nikhilbhutani/promptcraft/internal/models"
	"github.com/nikhilbhutani/promptcraft/internal/prompt"
)

const (
	stepTemperature = 0.7
	stepMaxTokens   = 2000
)

// outputPlaceholder matches every way a step can reference earlier output.
// Groups 1-3 carry a step number; a match without one means the previous step.
var outputPlaceholder = regexp.MustCompile(`(?i)` +
	`\[\s*output\s+from\s+step\s+(\d+)\s*\]` +
	`|\[\s*step\s+(\d+)\s+output\s*\]` +
	`|\{\{\s*step_?(\d+)_output\s*\}\}` +
	`|\[\s*previous\s+(?:step\s+)?output\s*\]` +
	`|\{\{\s*previous_output\s*\}\}`)

// Executor runs chain steps sequentially; each step may consume the output
// of the steps before it.
type Executor struct {
	gateway      llm.Gateway
	defaultModel string
}

func NewExecutor(gw llm.Gateway, defaultModel string) *Executor {
	return &Executor{gateway: gw, defaultModel: defaultModel}
}

type RunRequest struct {
	Steps            []models.ChainStep
	ModelAssignments map[int]string // step id -> model
	DefaultModel     string
	Input            string            // substituted for {{input}}
	Variables        map[string]string // substituted for {{name}}
	Credentials      llm.Credentials
}

type StepResult struct {
	StepID    int              `json:"stepId"`
	Title     string           `json:"title"`
	Model     string           `json:"model"`
	Provider  string           `json:"provider"`
	Prompt    string           `json:"prompt"`
	Response  string           `json:"response"`
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	LatencyMs int64            `json:"latencyMs"`
	Usage     models.TestUsage `json:"usage"`
}

type Result struct {
	Success        bool         `json:"success"`
	CompletedSteps int          `json:"completedSteps"`
	TotalSteps     int          `json:"totalSteps"`
	Steps          []StepResult `json:"steps"`
	FinalOutput    string       `json:"finalOutput,omitempty"`
	TotalTokens    int          `json:"totalTokens"`
	TotalTimeMs    int64        `json:"totalTimeMs"`
	Error          string       `json:"error,omitempty"`
}

// Run executes the steps in ascending id order and stops at the first
// failing step. Totals cover the completed steps only.
func (e *Executor) Run(ctx context.Context, req RunRequest) *Result {
	steps := make([]models.ChainStep, len(req.Steps))
	copy(steps, req.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].ID < steps[j].ID })

	res := &Result{TotalSteps: len(steps), Steps: make([]StepResult, 0, len(steps))}
	vars := make(map[string]string, len(req.Variables)+1)
	for k, v := range req.Variables {
		vars[k] = v
	}
	if req.Input != "" {
		vars["input"] = req.Input
	}

	outputs := make(map[int]string, len(steps))
	prevID := 0

	for i, step := range steps {
		text := prompt.Render(step.Prompt, vars)
		if i > 0 {
			text = threadOutputs(text, outputs, prevID)
		}

		sr := e.runStep(ctx, step, text, req)
		res.Steps = append(res.Steps, sr)
		if !sr.Success {
			res.Error = fmt.Sprintf("step %d (%s) failed: %s", step.ID, step.Title, sr.Error)
			slog.Warn("chain step failed", "step", step.ID, "model", sr.Model, "error", sr.Error)
			return res
		}

		res.CompletedSteps++
		res.TotalTokens += sr.Usage.TotalTokens
		res.TotalTimeMs += sr.LatencyMs
		res.FinalOutput = sr.Response
		outputs[step.ID] = sr.Response
		prevID = step.ID
	}

	res.Success = true
	return res
}

func (e *Executor) runStep(ctx context.Context, step models.ChainStep, text string, req RunRequest) StepResult {
	model := req.ModelAssignments[step.ID]
	if model == "" {
		model = req.DefaultModel
	}
	if model == "" {
		model = e.defaultModel
	}
	provider := llm.ProviderForModel(model)

	sr := StepResult{
		StepID:   step.ID,
		Title:    step.Title,
		Model:    model,
		Provider: provider,
		Prompt:   text,
	}
	if err := ctx.Err(); err != nil {
		sr.Error = err.Error()
		return sr
	}

	start := time.Now()
	resp, err := e.gateway.Chat(ctx, llm.ChatRequest{
		Provider:    provider,
		Model:       model,
		Messages:    []llm.Message{{Role: "user", Content: text}},
		Temperature: stepTemperature,
		MaxTokens:   stepMaxTokens,
		Endpoint:    "run-prompt-chain",
		APIKey:      req.Credentials.For(provider),
	})
	sr.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		sr.Error = err.Error()
		return sr
	}

	sr.Success = true
	sr.Response = resp.Content
	sr.Usage = models.TestUsage{
		PromptTokens:     resp.InputTokens,
		CompletionTokens: resp.OutputTokens,
		TotalTokens:      resp.TotalTokens,
	}
	return sr
}

// threadOutputs substitutes earlier step outputs into text in a single pass,
// so placeholders that appear inside an output are left as written. Text that
// references no earlier output gets the previous step's output appended.
func threadOutputs(text string, outputs map[int]string, prevID int) string {
	found := false

	text = outputPlaceholder.ReplaceAllStringFunc(text, func(match string) string {
		m := outputPlaceholder.FindStringSubmatch(match)
		ref := m[1] + m[2] + m[3]
		if ref == "" {
			found = true
			return outputs[prevID]
		}
		n, err := strconv.Atoi(ref)
		if err != nil {
			return match
		}
		out, ok := outputs[n]
		if !ok {
			return match
		}
		found = true
		return out
	})

	if !found {
		text = strings.TrimRight(text, "\n") + "\n\nInput from previous step:\n" + outputs[prevID]
	}
	return text
}
