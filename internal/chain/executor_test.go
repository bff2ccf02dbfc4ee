package chain

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptcraft/internal/llm"
	"github.com/nikhilbhutani/promptcraft/internal/models"
)

type call struct {
	model  string
	key    string
	prompt string
}

// scriptedGateway answers each call with the next scripted reply.
type scriptedGateway struct {
	mu      sync.Mutex
	calls   []call
	replies []reply
}

type reply struct {
	content string
	tokens  int
	err     error
}

func (g *scriptedGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{model: req.Model, key: req.APIKey, prompt: req.Messages[0].Content})
	r := g.replies[len(g.calls)-1]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.ChatResponse{Content: r.content, TotalTokens: r.tokens, InputTokens: r.tokens / 2, OutputTokens: r.tokens - r.tokens/2}, nil
}

func (g *scriptedGateway) HasCredential(string, string) bool { return true }
func (g *scriptedGateway) ListModels() []llm.ModelInfo       { return nil }

func TestRunThreadsPreviousOutput(t *testing.T) {
	gw := &scriptedGateway{replies: []reply{{content: "FOO", tokens: 10}, {content: "BAR", tokens: 20}}}
	ex := NewExecutor(gw, "gpt-4o-mini")

	res := ex.Run(context.Background(), RunRequest{
		Steps: []models.ChainStep{
			{ID: 2, Title: "Second", Prompt: "Summarize: [OUTPUT FROM STEP 1]"},
			{ID: 1, Title: "First", Prompt: "List facts about {{topic}}"},
		},
		Variables: map[string]string{"topic": "otters"},
	})

	require.True(t, res.Success)
	require.Len(t, gw.calls, 2)
	assert.Equal(t, "List facts about otters", gw.calls[0].prompt)
	assert.Equal(t, "Summarize: FOO", gw.calls[1].prompt)
	assert.Equal(t, 2, res.CompletedSteps)
	assert.Equal(t, 30, res.TotalTokens)
	assert.Equal(t, "BAR", res.FinalOutput)
	assert.Equal(t, []int{1, 2}, []int{res.Steps[0].StepID, res.Steps[1].StepID})
}

func TestRunStopsOnFirstFailure(t *testing.T) {
	gw := &scriptedGateway{replies: []reply{
		{content: "one", tokens: 5},
		{err: errors.New("upstream 500")},
		{content: "never"},
	}}
	ex := NewExecutor(gw, "gpt-4o-mini")

	res := ex.Run(context.Background(), RunRequest{Steps: []models.ChainStep{
		{ID: 1, Prompt: "a"},
		{ID: 2, Prompt: "b [OUTPUT FROM STEP 1]"},
		{ID: 3, Prompt: "c [OUTPUT FROM STEP 2]"},
	}})

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.CompletedSteps)
	assert.Equal(t, 3, res.TotalSteps)
	assert.Len(t, gw.calls, 2)
	require.Len(t, res.Steps, 2)
	assert.False(t, res.Steps[1].Success)
	assert.Contains(t, res.Steps[1].Error, "upstream 500")
	assert.Equal(t, 5, res.TotalTokens)
	assert.Contains(t, res.Error, "step 2")
}

func TestRunModelAssignmentsAndCredentials(t *testing.T) {
	gw := &scriptedGateway{replies: []reply{{content: "x"}, {content: "y"}}}
	ex := NewExecutor(gw, "gpt-4o-mini")

	res := ex.Run(context.Background(), RunRequest{
		Steps:            []models.ChainStep{{ID: 1, Prompt: "a"}, {ID: 2, Prompt: "b"}},
		ModelAssignments: map[int]string{2: "claude-3-5-haiku-20241022"},
		Credentials:      llm.Credentials{OpenAIKey: "sk-o", AnthropicKey: "sk-a"},
	})

	require.True(t, res.Success)
	assert.Equal(t, call{model: "gpt-4o-mini", key: "sk-o", prompt: "a"}, gw.calls[0])
	assert.Equal(t, "claude-3-5-haiku-20241022", gw.calls[1].model)
	assert.Equal(t, "sk-a", gw.calls[1].key)
	assert.Equal(t, llm.ProviderAnthropic, res.Steps[1].Provider)
	assert.Equal(t, "b\n\nInput from previous step:\nx", gw.calls[1].prompt)
}

func TestRunCanceledContext(t *testing.T) {
	gw := &scriptedGateway{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewExecutor(gw, "gpt-4o").Run(ctx, RunRequest{Steps: []models.ChainStep{{ID: 1, Prompt: "a"}}})
	assert.False(t, res.Success)
	assert.Empty(t, gw.calls)
	assert.Equal(t, 0, res.CompletedSteps)
}

func TestThreadOutputsVariants(t *testing.T) {
	outputs := map[int]string{1: "ONE", 2: "TWO"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "canonical", in: "Use [OUTPUT FROM STEP 2]", want: "Use TWO"},
		{name: "case insensitive", in: "Use [Output from Step 1]", want: "Use ONE"},
		{name: "step n output", in: "[STEP 1 OUTPUT] and [step 2 output]", want: "ONE and TWO"},
		{name: "mustache", in: "{{step_2_output}} {{step1_output}}", want: "TWO ONE"},
		{name: "previous", in: "Refine [PREVIOUS OUTPUT] / {{previous_output}}", want: "Refine TWO / TWO"},
		{name: "dollar signs are literal", in: "[OUTPUT FROM STEP 1]", want: "ONE"},
		{name: "unknown step appends", in: "Use [OUTPUT FROM STEP 9]", want: "Use [OUTPUT FROM STEP 9]\n\nInput from previous step:\nTWO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, threadOutputs(tt.in, outputs, 2))
		})
	}

	assert.Equal(t, "cost $1", threadOutputs("cost [PREVIOUS OUTPUT]", map[int]string{1: "$1"}, 1))
}

func TestThreadOutputsLeavesPlaceholdersInsideOutputs(t *testing.T) {
	outputs := map[int]string{
		1: "Template text uses [PREVIOUS OUTPUT] literally",
		2: "Fill {{step1_output}} and [OUTPUT FROM STEP 2] later",
	}

	assert.Equal(t, "Review: Template text uses [PREVIOUS OUTPUT] literally",
		threadOutputs("Review: [OUTPUT FROM STEP 1]", outputs, 1))
	assert.Equal(t, "A: Fill {{step1_output}} and [OUTPUT FROM STEP 2] later | B: Template text uses [PREVIOUS OUTPUT] literally",
		threadOutputs("A: [PREVIOUS OUTPUT] | B: {{step_1_output}}", outputs, 2))
}

func TestRunPassesRawOutputToNextStep(t *testing.T) {
	gw := &scriptedGateway{replies: []reply{{content: "Draft: {{previous_output}} goes here", tokens: 4}, {content: "done", tokens: 4}}}

	res := NewExecutor(gw, "gpt-4o").Run(context.Background(), RunRequest{Steps: []models.ChainStep{
		{ID: 1, Prompt: "Write a template"},
		{ID: 2, Prompt: "Check this: [OUTPUT FROM STEP 1]"},
	}})
	require.True(t, res.Success)
	assert.Equal(t, "Check this: Draft: {{previous_output}} goes here", gw.calls[1].prompt)
}
