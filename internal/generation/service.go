// Package generation authors prompts and prompt chains with a hosted model and
// degrades to deterministic content whenever a model cannot be used.
package generation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nikhilbhutani/promptcraft/internal/auth"
	"github.com/nikhilbhutani/promptcraft/internal/config"
	"github.com/nikhilbhutani/promptcraft/internal/llm"
	"github.com/nikhilbhutani/promptcraft/internal/llmjson"
	"github.com/nikhilbhutani/promptcraft/internal/models"
	"github.com/nikhilbhutani/promptcraft/internal/prompt"
)

const (
	EndpointGenerate = "generate-prompt"
	EndpointImprove  = "improve-prompt"
	EndpointOptimize = "optimize-prompt"
	EndpointChain    = "generate-prompt-chain"
	EndpointTest     = "test-prompt"
)

const (
	generateMaxTokens = 2000
	improveMaxTokens  = 2000
	optimizeMaxTokens = 2500
	chainMaxTokens    = 3000
	testMaxTokens     = 1000

	defaultTemperature = 0.7
)

// Source tells the client where a result came from.
type Source string

const (
	SourceModel     Source = "model"
	SourceDemo      Source = "demo"
	SourceQuota     Source = "quota"
	SourceFallback  Source = "fallback"
	SourceHeuristic Source = "heuristic"
)

type GenerateRequest struct {
	Goal        string            `json:"goal"`
	TargetModel string            `json:"targetModel"`
	Variables   []models.Variable `json:"variables"`
	llm.Credentials
}

type ImproveRequest struct {
	Prompt             models.PromptBody `json:"prompt"`
	ImprovementRequest string            `json:"improvementRequest"`
	TargetModel        string            `json:"targetModel"`
	llm.Credentials
}

type OptimizeRequest struct {
	Prompt      models.PromptBody `json:"prompt"`
	TargetModel string            `json:"targetModel"`
	llm.Credentials
}

type ChainRequest struct {
	Goal        string `json:"goal"`
	TargetModel string `json:"targetModel"`
	llm.Credentials
}

type TestRequest struct {
	Prompt    models.PromptBody `json:"prompt"`
	Model     string            `json:"model"`
	TestInput string            `json:"testInput"`
	Variables []models.Variable `json:"variables,omitempty"`
	llm.Credentials
}

// PromptResult is the response of generate, improve and optimize.
type PromptResult struct {
	llmjson.Envelope
	Source Source `json:"source"`
	Notice string `json:"notice,omitempty"`
}

// ChainResult is the response of chain generation.
type ChainResult struct {
	models.Chain
	Source Source `json:"source"`
	Notice string `json:"notice,omitempty"`
}

// Cache stores provider-sourced results.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Service struct {
	gateway        llm.Gateway
	cache          Cache
	cacheTTL       time.Duration
	openaiModel    string
	anthropicModel string
	temperature    float64
}

type Option func(*Service)

// WithCache enables result caching; a zero ttl leaves it disabled.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil && ttl > 0 {
			s.cache = c
			s.cacheTTL = ttl
		}
	}
}

func NewService(gw llm.Gateway, cfg config.LLMConfig, opts ...Option) *Service {
	s := &Service{
		gateway:        gw,
		openaiModel:    cfg.OpenAIModel,
		anthropicModel: cfg.AnthropicModel,
		temperature:    cfg.Temperature,
	}
	if s.openaiModel == "" {
		s.openaiModel = "gpt-4o"
	}
	if s.anthropicModel == "" {
		s.anthropicModel = "claude-sonnet-4-20250514"
	}
	if s.temperature == 0 {
		s.temperature = defaultTemperature
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// author is the provider, model and request key used to write a prompt.
type author struct {
	provider string
	model    string
	key      string
}

// author prefers OpenAI and falls back to Anthropic when only an Anthropic
// key resolves.
func (s *Service) author(creds llm.Credentials) (author, bool) {
	if s.gateway.HasCredential(llm.ProviderOpenAI, creds.OpenAIKey) {
		return author{provider: llm.ProviderOpenAI, model: s.openaiModel, key: creds.OpenAIKey}, true
	}
	if s.gateway.HasCredential(llm.ProviderAnthropic, creds.AnthropicKey) {
		return author{provider: llm.ProviderAnthropic, model: s.anthropicModel, key: creds.AnthropicKey}, true
	}
	return author{}, false
}

type promptCall struct {
	endpoint  string
	system    string
	user      string
	maxTokens int
	cacheKey  string
	// template builds the deterministic result used instead of the model.
	template func(src Source) *PromptResult
}

func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*PromptResult, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, missingInput("goal")
	}
	call := promptCall{
		endpoint:  EndpointGenerate,
		system:    generateSystem,
		user:      generateUser(req),
		maxTokens: generateMaxTokens,
		template:  func(src Source) *PromptResult { return templatePrompt(req.Goal, req.Variables, src) },
	}
	a, ok := s.author(req.Credentials)
	if !ok {
		slog.Info("no usable credential, serving demo content", "endpoint", call.endpoint)
		return call.template(SourceDemo), nil
	}
	call.cacheKey = cacheKey(call.endpoint, a.model, GenerateRequest{Goal: req.Goal, TargetModel: req.TargetModel, Variables: req.Variables})

	res, err := s.structured(ctx, a, call)
	if err != nil {
		return nil, err
	}
	if res.Title == "" {
		res.Title = titleFrom(req.Goal)
	}
	return res, nil
}

func (s *Service) Improve(ctx context.Context, req ImproveRequest) (*PromptResult, error) {
	if req.Prompt.IsZero() {
		return nil, missingInput("prompt")
	}
	if strings.TrimSpace(req.ImprovementRequest) == "" {
		return nil, missingInput("improvementRequest")
	}
	call := promptCall{
		endpoint:  EndpointImprove,
		system:    improveSystem,
		user:      improveUser(req),
		maxTokens: improveMaxTokens,
		template:  func(src Source) *PromptResult { return templateImprove(req, src) },
	}
	a, ok := s.author(req.Credentials)
	if !ok {
		slog.Info("no usable credential, serving demo content", "endpoint", call.endpoint)
		return call.template(SourceDemo), nil
	}
	call.cacheKey = cacheKey(call.endpoint, a.model, ImproveRequest{Prompt: req.Prompt, ImprovementRequest: req.ImprovementRequest, TargetModel: req.TargetModel})
	return s.structured(ctx, a, call)
}

func (s *Service) Optimize(ctx context.Context, req OptimizeRequest) (*PromptResult, error) {
	if req.Prompt.IsZero() {
		return nil, missingInput("prompt")
	}
	call := promptCall{
		endpoint:  EndpointOptimize,
		system:    optimizeSystem,
		user:      optimizeUser(req),
		maxTokens: optimizeMaxTokens,
		template:  func(src Source) *PromptResult { return templateOptimize(req, src) },
	}
	a, ok := s.author(req.Credentials)
	if !ok {
		slog.Info("no usable credential, serving demo content", "endpoint", call.endpoint)
		return call.template(SourceDemo), nil
	}
	call.cacheKey = cacheKey(call.endpoint, a.model, OptimizeRequest{Prompt: req.Prompt, TargetModel: req.TargetModel})

	res, err := s.structured(ctx, a, call)
	if err != nil {
		return nil, err
	}
	if len(res.Improvements) == 0 {
		res.Improvements = []string{"No individual changes were reported for this optimization."}
	}
	return res, nil
}

// structured runs one prompt-authoring call and maps every outcome onto a
// PromptResult. Only a missing model surfaces as an error.
func (s *Service) structured(ctx context.Context, a author, call promptCall) (*PromptResult, error) {
	var cached PromptResult
	if s.lookup(ctx, call.cacheKey, &cached) {
		return &cached, nil
	}

	raw, err := s.complete(ctx, a, call.endpoint, call.system, call.user, call.maxTokens)
	if err != nil {
		return s.degrade(err, a, call)
	}

	var parsed map[string]any
	if err := llmjson.Decode(raw, &parsed); err != nil {
		slog.Warn("model returned unparseable JSON, using heuristic result",
			"endpoint", call.endpoint, "model", a.model, "error", err)
		base := call.template(SourceHeuristic)
		return heuristicPrompt(raw, base), nil
	}

	res := &PromptResult{Envelope: llmjson.Normalize(parsed), Source: SourceModel}
	s.store(ctx, call.cacheKey, res)
	return res, nil
}

func (s *Service) degrade(err error, a author, call promptCall) (*PromptResult, error) {
	switch llm.Classify(err) {
	case llm.KindModelNotFound:
		return nil, modelNotFound(a.model)
	case llm.KindQuota:
		slog.Warn("provider quota exhausted", "endpoint", call.endpoint, "provider", a.provider)
		return call.template(SourceQuota), nil
	case llm.KindNoCredential:
		return call.template(SourceDemo), nil
	default:
		slog.Warn("provider call failed, serving fallback content",
			"endpoint", call.endpoint, "provider", a.provider, "model", a.model, "error", err)
		return call.template(SourceFallback), nil
	}
}

func (s *Service) GenerateChain(ctx context.Context, req ChainRequest) (*ChainResult, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return nil, missingInput("goal")
	}
	a, ok := s.author(req.Credentials)
	if !ok {
		slog.Info("no usable credential, serving demo content", "endpoint", EndpointChain)
		return templateChain(req.Goal, req.TargetModel, SourceDemo), nil
	}

	key := cacheKey(EndpointChain, a.model, ChainRequest{Goal: req.Goal, TargetModel: req.TargetModel})
	var cached ChainResult
	if s.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	raw, err := s.complete(ctx, a, EndpointChain, chainSystem, chainUser(req), chainMaxTokens)
	if err != nil {
		switch llm.Classify(err) {
		case llm.KindModelNotFound:
			return nil, modelNotFound(a.model)
		case llm.KindQuota:
			slog.Warn("provider quota exhausted", "endpoint", EndpointChain, "provider", a.provider)
			return templateChain(req.Goal, req.TargetModel, SourceQuota), nil
		case llm.KindNoCredential:
			return templateChain(req.Goal, req.TargetModel, SourceDemo), nil
		default:
			slog.Warn("provider call failed, serving fallback content",
				"endpoint", EndpointChain, "provider", a.provider, "model", a.model, "error", err)
			return templateChain(req.Goal, req.TargetModel, SourceFallback), nil
		}
	}

	parsed, err := parseChain(raw)
	if err != nil {
		slog.Warn("model returned unparseable chain", "model", a.model, "error", err)
		return templateChain(req.Goal, req.TargetModel, SourceHeuristic), nil
	}
	chain, ok := normalizeChain(parsed, req.TargetModel)
	if !ok {
		slog.Warn("model returned too few chain steps", "model", a.model, "steps", len(parsed.Steps))
		return templateChain(req.Goal, req.TargetModel, SourceFallback), nil
	}
	if chain.Title == "" {
		chain.Title = titleFrom(req.Goal)
	}

	res := &ChainResult{Chain: chain, Source: SourceModel}
	s.store(ctx, key, res)
	return res, nil
}

// Test runs a prompt against one model. Alongside a model_not_found or
// provider error it still returns an error-shaped result for the caller to
// render.
func (s *Service) Test(ctx context.Context, req TestRequest) (*models.TestResult, error) {
	if req.Prompt.IsZero() {
		return nil, missingInput("prompt")
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, missingInput("model")
	}

	text := prompt.Render(req.Prompt.String(), models.VariableValues(req.Variables))
	provider := llm.ProviderForModel(req.Model)
	key := req.Credentials.For(provider)

	res := &models.TestResult{
		Model:     req.Model,
		Prompt:    text,
		Timestamp: time.Now().UTC(),
	}
	if !s.gateway.HasCredential(provider, key) {
		return demoTestResult(res, req.TestInput), nil
	}

	msgs := []llm.Message{{Role: "user", Content: text}}
	if strings.TrimSpace(req.TestInput) != "" {
		msgs = []llm.Message{
			{Role: "system", Content: text},
			{Role: "user", Content: req.TestInput},
		}
	}

	start := time.Now()
	resp, err := s.gateway.Chat(ctx, llm.ChatRequest{
		Provider:    provider,
		Model:       req.Model,
		Messages:    msgs,
		Temperature: s.temperature,
		MaxTokens:   testMaxTokens,
		Endpoint:    EndpointTest,
		APIKey:      key,
	})
	res.ResponseTime = time.Since(start).Milliseconds()
	if err != nil {
		switch llm.Classify(err) {
		case llm.KindNoCredential:
			return demoTestResult(res, req.TestInput), nil
		case llm.KindModelNotFound:
			e := modelNotFound(req.Model)
			res.Error = e.Message
			return res, e
		case llm.KindQuota:
			res.Error = quotaNotice
			return res, nil
		default:
			slog.Warn("test call failed", "provider", provider, "model", req.Model, "error", err)
			res.Error = err.Error()
			return res, &Error{Status: http.StatusInternalServerError, Code: "provider_error", Message: err.Error()}
		}
	}

	res.Success = true
	res.Response = resp.Content
	res.Usage = models.TestUsage{
		PromptTokens:     resp.InputTokens,
		CompletionTokens: resp.OutputTokens,
		TotalTokens:      resp.TotalTokens,
	}
	return res, nil
}

func (s *Service) complete(ctx context.Context, a author, endpoint, system, user string, maxTokens int) (string, error) {
	resp, err := s.gateway.Chat(ctx, llm.ChatRequest{
		Provider: a.provider,
		Model:    a.model,
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: s.temperature,
		MaxTokens:   maxTokens,
		Endpoint:    endpoint,
		APIKey:      a.key,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", endpoint, err)
	}
	return resp.Content, nil
}

func (s *Service) lookup(ctx context.Context, key string, dest any) bool {
	if s.cache == nil || key == "" {
		return false
	}
	ok, err := s.cache.Get(ctx, userScoped(ctx, key), dest)
	if err != nil {
		slog.Warn("generation cache read failed", "error", err)
		return false
	}
	return ok
}

func (s *Service) store(ctx context.Context, key string, v any) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.Set(ctx, userScoped(ctx, key), v, s.cacheTTL); err != nil {
		slog.Warn("generation cache write failed", "error", err)
	}
}

// cacheKey hashes the credential-free request together with the authoring model.
func cacheKey(endpoint, model string, input any) string {
	data, err := json.Marshal(struct {
		Model string `json:"model"`
		Input any    `json:"input"`
	}{model, input})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return "generation:" + endpoint + ":" + hex.EncodeToString(sum[:])
}

// userScoped keeps signed-in users from reading each other's cached results.
// Anonymous callers share one scope.
func userScoped(ctx context.Context, key string) string {
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		return key + ":user:" + userID.String()
	}
	return key + ":anon"
}

// IsError reports whether err carries an HTTP status for the caller.
func IsError(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
