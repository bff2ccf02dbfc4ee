package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptcraft/internal/config"
)

type stubProvider struct {
	name  string
	calls int
	errs  []error
	resp  *ChatResponse
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Models() []string { return []string{s.name + "-model"} }

func (s *stubProvider) ChatCompletion(_ context.Context, _ ChatRequest) (*ChatResponse, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return s.resp, nil
}

type memRecorder struct {
	mu   sync.Mutex
	recs []UsageRecord
}

func (m *memRecorder) RecordUsage(_ context.Context, rec UsageRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
}

func TestGatewayChatResolvesKeyPerRequest(t *testing.T) {
	var gotKey, gotProvider string
	stub := &stubProvider{name: ProviderAnthropic, resp: &ChatResponse{Provider: ProviderAnthropic, Content: "hi", TotalTokens: 7}}
	rec := &memRecorder{}

	gw := NewGateway(config.LLMConfig{AnthropicKey: "env-key"},
		WithProviderFactory(func(name, key string) (Provider, error) {
			gotProvider, gotKey = name, key
			return stub, nil
		}),
		WithUsageRecorder(rec),
	)

	resp, err := gw.Chat(context.Background(), ChatRequest{Model: "claude-3-5-haiku-20241022", APIKey: "req-key", Endpoint: "test"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, ProviderAnthropic, gotProvider)
	assert.Equal(t, "req-key", gotKey)

	require.Len(t, rec.recs, 1)
	assert.Equal(t, "test", rec.recs[0].Endpoint)
	assert.Equal(t, 7, rec.recs[0].TotalTokens)
}

func TestGatewayChatWithoutCredential(t *testing.T) {
	gw := NewGateway(config.LLMConfig{},
		WithProviderFactory(func(name, key string) (Provider, error) {
			t.Fatal("factory must not be called without a key")
			return nil, nil
		}),
	)

	_, err := gw.Chat(context.Background(), ChatRequest{Model: "gpt-4o", APIKey: "your_openai_api_key_here"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoCredential))
	assert.False(t, gw.HasCredential(ProviderOpenAI, "your_openai_api_key_here"))
	assert.True(t, gw.HasCredential(ProviderOpenAI, "sk-real"))
}

func TestGatewayRetriesTransientErrorsOnly(t *testing.T) {
	stub := &stubProvider{
		name: ProviderOpenAI,
		errs: []error{errors.New("connection reset")},
		resp: &ChatResponse{Content: "ok"},
	}
	gw := NewGateway(config.LLMConfig{OpenAIKey: "sk", MaxRetries: 1},
		WithProviderFactory(func(string, string) (Provider, error) { return stub, nil }),
	)

	resp, err := gw.Chat(context.Background(), ChatRequest{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, stub.calls)

	quota := &stubProvider{
		name: ProviderOpenAI,
		errs: []error{&openai.APIError{Code: "insufficient_quota", Message: "quota"}},
	}
	gw = NewGateway(config.LLMConfig{OpenAIKey: "sk", MaxRetries: 3},
		WithProviderFactory(func(string, string) (Provider, error) { return quota, nil }),
	)
	_, err = gw.Chat(context.Background(), ChatRequest{Model: "gpt-4o"})
	assert.Equal(t, KindQuota, Classify(err))
	assert.Equal(t, 1, quota.calls)
}

func TestGatewayListModels(t *testing.T) {
	gw := NewGateway(config.LLMConfig{OpenAIKey: "sk"},
		WithProviderFactory(func(name, _ string) (Provider, error) {
			return &stubProvider{name: name}, nil
		}),
	)

	models := gw.ListModels()
	require.Len(t, models, 2)
	assert.Equal(t, ModelInfo{Provider: ProviderOpenAI, Model: "openai-model", Configured: true}, models[0])
	assert.Equal(t, ModelInfo{Provider: ProviderAnthropic, Model: "anthropic-model", Configured: false}, models[1])
}
