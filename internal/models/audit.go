package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type LLMUsageLog struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	UserID       *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Provider     string          `json:"provider" db:"provider"`
	Model        string          `json:"model" db:"model"`
	InputTokens  int             `json:"input_tokens" db:"input_tokens"`
	OutputTokens int             `json:"output_tokens" db:"output_tokens"`
	TotalTokens  int             `json:"total_tokens" db:"total_tokens"`
	CostUSD      float64         `json:"cost_usd" db:"cost_usd"`
	LatencyMs    int64           `json:"latency_ms" db:"latency_ms"`
	Endpoint     string          `json:"endpoint" db:"endpoint"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// TestUsage is the token usage reported for one test call.
type TestUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// TestResult is the outcome of running one prompt against one model.
type TestResult struct {
	Model        string    `json:"model"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	ResponseTime int64     `json:"responseTime"` // milliseconds
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Usage        TestUsage `json:"usage"`
	Timestamp    time.Time `json:"timestamp"`
}

// TestSession is the append-only record of one test run.
type TestSession struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	UserID       uuid.UUID    `json:"user_id" db:"user_id"`
	PromptID     *uuid.UUID   `json:"prompt_id,omitempty" db:"prompt_id"`
	PromptText   string       `json:"prompt_text" db:"prompt_text"`
	TestInput    string       `json:"test_input" db:"test_input"`
	Results      []TestResult `json:"results" db:"results"`
	ModelsTested []string     `json:"models_tested" db:"models_tested"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
}
