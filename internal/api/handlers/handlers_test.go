package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptcraft/internal/audit"
	"github.com/nikhilbhutani/promptcraft/internal/auth"
	"github.com/nikhilbhutani/promptcraft/internal/chain"
	"github.com/nikhilbhutani/promptcraft/internal/config"
	"github.com/nikhilbhutani/promptcraft/internal/eval"
	"github.com/nikhilbhutani/promptcraft/internal/generation"
	"github.com/nikhilbhutani/promptcraft/internal/llm"
	"github.com/nikhilbhutani/promptcraft/internal/models"
	"github.com/nikhilbhutani/promptcraft/internal/prompt"
)

func doJSON(t *testing.T, h http.HandlerFunc, method, path, body string, ctx context.Context) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthz(t *testing.T) {
	h := NewHealthHandler(nil)
	rec := doJSON(t, h.Healthz, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	h := NewHealthHandler(map[string]Pinger{
		"database": PingFunc(func(context.Context) error { return nil }),
		"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"skipped":  nil,
	})
	rec := doJSON(t, h.Readyz, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	body := decode(t, rec)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "ok", checks["database"])
	assert.Contains(t, checks["redis"], "connection refused")
	assert.NotContains(t, checks, "skipped")
}

func TestDecodeJSONErrors(t *testing.T) {
	h := NewGenerationHandler(generation.NewService(llm.NewGateway(config.LLMConfig{}), config.LLMConfig{}))

	rec := doJSON(t, h.GeneratePrompt, http.MethodPost, "/generate-prompt", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request body required", decode(t, rec)["error"])

	rec = doJSON(t, h.GeneratePrompt, http.MethodPost, "/generate-prompt", "{not json", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := `{"goal":"` + string(bytes.Repeat([]byte("a"), maxBodyBytes)) + `"}`
	rec = doJSON(t, h.GeneratePrompt, http.MethodPost, "/generate-prompt", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGeneratePromptWithoutKeysUsesDemo(t *testing.T) {
	h := NewGenerationHandler(generation.NewService(llm.NewGateway(config.LLMConfig{}), config.LLMConfig{}))

	rec := doJSON(t, h.GeneratePrompt, http.MethodPost, "/generate-prompt", `{"goal":"write product descriptions"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "demo", body["source"])
	assert.NotEmpty(t, body["title"])
	assert.NotEmpty(t, body["notice"])
	p := body["prompt"].(map[string]any)
	for _, field := range []string{"role", "context", "instructions", "rules", "output_format"} {
		assert.NotEmpty(t, p[field], field)
	}
}

func TestGeneratePromptMissingGoal(t *testing.T) {
	h := NewGenerationHandler(generation.NewService(llm.NewGateway(config.LLMConfig{}), config.LLMConfig{}))

	rec := doJSON(t, h.GeneratePrompt, http.MethodPost, "/generate-prompt", `{"goal":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_input", decode(t, rec)["code"])
}

func TestGenerateChainWithoutKeys(t *testing.T) {
	h := NewGenerationHandler(generation.NewService(llm.NewGateway(config.LLMConfig{}), config.LLMConfig{}))

	rec := doJSON(t, h.GenerateChain, http.MethodPost, "/generate-prompt-chain", `{"goal":"launch a newsletter"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "demo", body["source"])
	assert.Len(t, body["steps"], 3)
}

func TestModels(t *testing.T) {
	h := NewLLMHandler(llm.NewGateway(config.LLMConfig{OpenAIKey: "sk-live-key-123"}))
	rec := doJSON(t, h.Models, http.MethodGet, "/models", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["models"])
}

// echoGateway answers every chat with the prompt it received.
type echoGateway struct {
	failModel string
}

func (g echoGateway) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.Model == g.failModel {
		return nil, errors.New("model overloaded")
	}
	text := req.Messages[len(req.Messages)-1].Content
	return &llm.ChatResponse{Content: "echo: " + text, TotalTokens: 4}, nil
}

func (echoGateway) HasCredential(string, string) bool { return true }
func (echoGateway) ListModels() []llm.ModelInfo       { return nil }

func TestRunChain(t *testing.T) {
	h := NewChainHandler(chain.NewExecutor(echoGateway{}, "gpt-4o-mini"))

	body := `{"chain":{"steps":[{"id":1,"title":"A","prompt":"Start with {{input}}"},{"id":2,"title":"B","prompt":"Refine [OUTPUT FROM STEP 1]"}]},"input":"otters"}`
	rec := doJSON(t, h.RunChain, http.MethodPost, "/run-prompt-chain", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res chain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.CompletedSteps)
	assert.Equal(t, "echo: Refine echo: Start with otters", res.FinalOutput)
	assert.Equal(t, 8, res.TotalTokens)
}

func TestRunChainReportsFailedStep(t *testing.T) {
	h := NewChainHandler(chain.NewExecutor(echoGateway{failModel: "claude-3-haiku"}, "gpt-4o-mini"))

	body := `{"chain":{"steps":[{"id":1,"prompt":"one"},{"id":2,"prompt":"two"}]},"modelAssignments":{"2":"claude-3-haiku"}}`
	rec := doJSON(t, h.RunChain, http.MethodPost, "/run-prompt-chain", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var res chain.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.CompletedSteps)
	assert.Contains(t, res.Error, "model overloaded")
}

func TestRunChainValidation(t *testing.T) {
	h := NewChainHandler(chain.NewExecutor(echoGateway{}, "gpt-4o-mini"))

	rec := doJSON(t, h.RunChain, http.MethodPost, "/run-prompt-chain", `{"chain":{"steps":[]}}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.RunChain, http.MethodPost, "/run-prompt-chain", `{"steps":[{"id":1,"prompt":"  "}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubTester struct{}

func (stubTester) Test(_ context.Context, req generation.TestRequest) (*models.TestResult, error) {
	if req.Model == "broken" {
		return nil, errors.New("boom")
	}
	return &models.TestResult{Model: req.Model, Prompt: req.Prompt.String(), Response: "ok", Success: true}, nil
}

type sessionSink struct {
	mu    sync.Mutex
	saved []*models.TestSession
	err   error
}

func (s *sessionSink) RecordTestSession(_ context.Context, sess *models.TestSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, sess)
	return nil
}

func TestTestModelsAnonymous(t *testing.T) {
	sink := &sessionSink{}
	h := NewEvalHandler(eval.NewRunner(stubTester{}, 2), sink)

	body := `{"prompt":"Say hi","models":["gpt-4o","broken","gpt-4o"],"testInput":"hello"}`
	rec := doJSON(t, h.TestModels, http.MethodPost, "/test-prompt-models", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp testModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.NotEmpty(t, resp.Results[1].Error)
	assert.Nil(t, resp.SessionID)
	assert.Empty(t, sink.saved)
}

func TestTestModelsRecordsSession(t *testing.T) {
	sink := &sessionSink{}
	h := NewEvalHandler(eval.NewRunner(stubTester{}, 0), sink)
	userID := uuid.New()
	promptID := uuid.New()

	body := `{"prompt":"Say hi","models":["gpt-4o"],"testInput":"hello","promptId":"` + promptID.String() + `"}`
	rec := doJSON(t, h.TestModels, http.MethodPost, "/test-prompt-models", body, auth.WithUserID(context.Background(), userID))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp testModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.SessionID)
	require.Len(t, sink.saved, 1)
	sess := sink.saved[0]
	assert.Equal(t, *resp.SessionID, sess.ID)
	assert.Equal(t, userID, sess.UserID)
	assert.Equal(t, &promptID, sess.PromptID)
	assert.Equal(t, []string{"gpt-4o"}, sess.ModelsTested)
	assert.Equal(t, "Say hi", sess.PromptText)
}

func TestTestModelsSessionFailureStillAnswers(t *testing.T) {
	h := NewEvalHandler(eval.NewRunner(stubTester{}, 0), &sessionSink{err: audit.ErrNoBackend})

	rec := doJSON(t, h.TestModels, http.MethodPost, "/test-prompt-models", `{"prompt":"p","models":["gpt-4o"]}`, auth.WithUserID(context.Background(), uuid.New()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, decode(t, rec), "sessionId")
}

func TestTestModelsValidation(t *testing.T) {
	h := NewEvalHandler(eval.NewRunner(stubTester{}, 0), nil)

	for name, body := range map[string]string{
		"no prompt": `{"models":["gpt-4o"]}`,
		"no models": `{"prompt":"p","models":[" "]}`,
		"too many":  `{"prompt":"p","models":["a","b","c","d","e","f","g","h","i"]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := doJSON(t, h.TestModels, http.MethodPost, "/test-prompt-models", body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

// memPrompts is an in-memory PromptStore.
type memPrompts struct {
	rows map[uuid.UUID]*models.Prompt
}

func newMemPrompts() *memPrompts { return &memPrompts{rows: map[uuid.UUID]*models.Prompt{}} }

func (m *memPrompts) Create(_ context.Context, userID uuid.UUID, req prompt.CreateRequest) (*models.Prompt, error) {
	if req.Title == "" {
		return nil, &prompt.ValidationError{Err: errors.New("title is required")}
	}
	p := &models.Prompt{ID: uuid.New(), UserID: userID, Title: req.Title, Content: req.Content, CreatedAt: time.Now()}
	m.rows[p.ID] = p
	return p, nil
}

func (m *memPrompts) Derive(ctx context.Context, userID, parentID uuid.UUID, req prompt.CreateRequest) (*models.Prompt, error) {
	if _, err := m.Get(ctx, userID, parentID); err != nil {
		return nil, err
	}
	p, err := m.Create(ctx, userID, req)
	if err != nil {
		return nil, err
	}
	p.ParentID = &parentID
	return p, nil
}

func (m *memPrompts) Get(_ context.Context, userID, id uuid.UUID) (*models.Prompt, error) {
	p, ok := m.rows[id]
	if !ok || p.UserID != userID {
		return nil, prompt.ErrNotFound
	}
	return p, nil
}

func (m *memPrompts) List(_ context.Context, userID uuid.UUID, _, _ int) ([]models.Prompt, error) {
	var out []models.Prompt
	for _, p := range m.rows {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memPrompts) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if _, err := m.Get(ctx, userID, id); err != nil {
		return err
	}
	delete(m.rows, id)
	return nil
}

func (m *memPrompts) Lineage(ctx context.Context, userID, id uuid.UUID) ([]models.Prompt, error) {
	var out []models.Prompt
	for {
		p, err := m.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
		if p.ParentID == nil {
			return out, nil
		}
		id = *p.ParentID
	}
}

func (m *memPrompts) RenderPrompt(ctx context.Context, userID, id uuid.UUID, req prompt.RenderRequest) (*prompt.RenderResponse, error) {
	p, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	resp, err := prompt.RenderContent(p.Content, req)
	if err != nil {
		return nil, &prompt.ValidationError{Err: err}
	}
	return resp, nil
}

func promptRouter(h *PromptHandler, userID uuid.UUID) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID != uuid.Nil {
				r = r.WithContext(auth.WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Post("/prompts", h.Create)
	r.Get("/prompts", h.List)
	r.Get("/prompts/{id}", h.Get)
	r.Delete("/prompts/{id}", h.Delete)
	r.Post("/prompts/{id}/versions", h.CreateVersion)
	r.Get("/prompts/{id}/lineage", h.Lineage)
	r.Post("/prompts/{id}/render", h.RenderPrompt)
	return r
}

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func TestPromptLifecycle(t *testing.T) {
	userID := uuid.New()
	r := promptRouter(NewPromptHandler(newMemPrompts()), userID)

	rec := serve(t, r, http.MethodPost, "/prompts", `{"title":"Greeter","content":{"type":"simple","prompt":"Hello {{name}}","variables":[{"id":"1","name":"name","type":"text","value":"Ada"}]}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.Prompt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = serve(t, r, http.MethodPost, "/prompts/"+created.ID.String()+"/versions", `{"title":"Greeter v2","content":{"type":"simple","prompt":"Hi {{name}}!"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var child models.Prompt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &child))
	require.NotNil(t, child.ParentID)
	assert.Equal(t, created.ID, *child.ParentID)

	rec = serve(t, r, http.MethodGet, "/prompts/"+child.ID.String()+"/lineage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["lineage"], 2)

	rec = serve(t, r, http.MethodPost, "/prompts/"+created.ID.String()+"/render", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello Ada", decode(t, rec)["prompt"])

	rec = serve(t, r, http.MethodPost, "/prompts/"+child.ID.String()+"/render", `{"strict":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, r, http.MethodGet, "/prompts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	rec = serve(t, r, http.MethodDelete, "/prompts/"+child.ID.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = serve(t, r, http.MethodGet, "/prompts/"+child.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPromptErrors(t *testing.T) {
	store := newMemPrompts()
	owner := uuid.New()
	r := promptRouter(NewPromptHandler(store), owner)

	rec := serve(t, r, http.MethodPost, "/prompts", `{"title":"","content":{"prompt":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "title is required", decode(t, rec)["error"])

	rec = serve(t, r, http.MethodGet, "/prompts/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, r, http.MethodPost, "/prompts", `{"title":"Mine","content":{"prompt":"x"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var p models.Prompt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))

	other := promptRouter(NewPromptHandler(store), uuid.New())
	rec = serve(t, other, http.MethodGet, "/prompts/"+p.ID.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	anon := promptRouter(NewPromptHandler(store), uuid.Nil)
	rec = serve(t, anon, http.MethodGet, "/prompts", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	noDB := promptRouter(NewPromptHandler(nil), owner)
	rec = serve(t, noDB, http.MethodGet, "/prompts", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeHistory struct {
	query audit.SessionQuery
	start *time.Time
}

func (f *fakeHistory) ListTestSessions(_ context.Context, _ uuid.UUID, q audit.SessionQuery) ([]models.TestSession, error) {
	f.query = q
	return nil, nil
}

func (f *fakeHistory) UsageSummary(_ context.Context, _ uuid.UUID, start, _ *time.Time) ([]audit.UsageSummary, error) {
	f.start = start
	return []audit.UsageSummary{{Provider: "openai", Model: "gpt-4o", TotalCalls: 3}}, nil
}

func TestHistory(t *testing.T) {
	store := &fakeHistory{}
	h := NewHistoryHandler(store)
	ctx := auth.WithUserID(context.Background(), uuid.New())
	promptID := uuid.New()

	rec := doJSON(t, h.TestSessions, http.MethodGet, "/test-sessions?limit=5&prompt_id="+promptID.String(), "", ctx)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, store.query.Limit)
	assert.Equal(t, &promptID, store.query.PromptID)
	assert.Equal(t, []any{}, decode(t, rec)["sessions"])

	rec = doJSON(t, h.TestSessions, http.MethodGet, "/test-sessions?prompt_id=nope", "", ctx)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h.Usage, http.MethodGet, "/usage?start_date=2026-01-01T00:00:00Z", "", ctx)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, store.start)
	assert.Equal(t, 2026, store.start.Year())
	assert.Len(t, decode(t, rec)["usage"], 1)

	rec = doJSON(t, h.Usage, http.MethodGet, "/usage?end_date=yesterday", "", ctx)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, NewHistoryHandler(nil).Usage, http.MethodGet, "/usage", "", ctx)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
