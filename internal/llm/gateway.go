package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/promptcraft/internal/config"
)

// ProviderFactory builds a provider client for one resolved key.
type ProviderFactory func(name, apiKey string) (Provider, error)

// UsageRecorder receives one record per successful provider call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, rec UsageRecord)
}

type gateway struct {
	envKeys    map[string]string
	factory    ProviderFactory
	maxRetries int
	recorder   UsageRecorder
}

type GatewayOption func(*gateway)

// WithProviderFactory replaces the SDK-backed provider constructors.
func WithProviderFactory(f ProviderFactory) GatewayOption {
	return func(g *gateway) { g.factory = f }
}

func WithUsageRecorder(r UsageRecorder) GatewayOption {
	return func(g *gateway) { g.recorder = r }
}

func NewGateway(cfg config.LLMConfig, opts ...GatewayOption) Gateway {
	g := &gateway{
		envKeys: map[string]string{
			ProviderOpenAI:    cfg.OpenAIKey,
			ProviderAnthropic: cfg.AnthropicKey,
		},
		maxRetries: cfg.MaxRetries,
		factory:    sdkFactory(cfg.OpenAIBaseURL, cfg.AnthropicBaseURL),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func sdkFactory(openaiBaseURL, anthropicBaseURL string) ProviderFactory {
	return func(name, apiKey string) (Provider, error) {
		switch name {
		case ProviderOpenAI:
			return NewOpenAIProvider(apiKey, openaiBaseURL), nil
		case ProviderAnthropic:
			return NewAnthropicProvider(apiKey, anthropicBaseURL), nil
		}
		return nil, fmt.Errorf("provider %q not supported", name)
	}
}

func (g *gateway) HasCredential(provider, requestKey string) bool {
	return ResolveKey(requestKey, g.envKeys[provider]) != ""
}

func (g *gateway) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	providerName := req.Provider
	if providerName == "" {
		providerName = ProviderForModel(req.Model)
	}

	key := ResolveKey(req.APIKey, g.envKeys[providerName])
	if key == "" {
		return nil, fmt.Errorf("%s: %w", providerName, ErrNoCredential)
	}

	p, err := g.factory(providerName, key)
	if err != nil {
		return nil, err
	}

	resp, err := g.chatWithRetry(ctx, p, req)
	if err != nil {
		return nil, err
	}

	if g.recorder != nil {
		g.recorder.RecordUsage(ctx, UsageRecord{
			Provider:     resp.Provider,
			Model:        req.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			TotalTokens:  resp.TotalTokens,
			CostUSD:      resp.CostUSD,
			LatencyMs:    resp.LatencyMs,
			Endpoint:     req.Endpoint,
			Timestamp:    time.Now().UTC(),
		})
	}
	return resp, nil
}

func (g *gateway) chatWithRetry(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			slog.Debug("retrying LLM call", "provider", p.Name(), "attempt", attempt)
		}

		resp, err := p.ChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (g *gateway) ListModels() []ModelInfo {
	var models []ModelInfo
	for _, name := range []string{ProviderOpenAI, ProviderAnthropic} {
		p, err := g.factory(name, "")
		if err != nil {
			continue
		}
		configured := IsUsableKey(g.envKeys[name])
		for _, m := range p.Models() {
			models = append(models, ModelInfo{
				Provider:   name,
				Model:      m,
				Configured: configured,
			})
		}
	}
	return models
}
