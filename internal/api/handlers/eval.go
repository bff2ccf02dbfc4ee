package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptcraft/internal/auth"
	"github.com/nikhilbhutani/promptcraft/internal/eval"
	"github.com/nikhilbhutani/promptcraft/internal/generation"
	"github.com/nikhilbhutani/promptcraft/internal/llm"
	"github.com/nikhilbhutani/promptcraft/internal/models"
)

const maxTestModels = 8

// SessionRecorder persists a finished test run.
type SessionRecorder interface {
	RecordTestSession(ctx context.Context, sess *models.TestSession) error
}

type EvalHandler struct {
	runner   *eval.Runner
	sessions SessionRecorder
}

// NewEvalHandler records sessions of signed-in users when sessions is non-nil.
func NewEvalHandler(runner *eval.Runner, sessions SessionRecorder) *EvalHandler {
	return &EvalHandler{runner: runner, sessions: sessions}
}

type testModelsRequest struct {
	Prompt    models.PromptBody `json:"prompt"`
	Models    []string          `json:"models"`
	TestInput string            `json:"testInput"`
	PromptID  *uuid.UUID        `json:"promptId,omitempty"`
	Variables []models.Variable `json:"variables,omitempty"`
	llm.Credentials
}

type testModelsResponse struct {
	Results   []models.TestResult `json:"results"`
	SessionID *uuid.UUID          `json:"sessionId,omitempty"`
}

func (h *EvalHandler) TestModels(w http.ResponseWriter, r *http.Request) {
	var req testModelsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Prompt.IsZero() {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	ids := dedupeModels(req.Models)
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "at least one model is required")
		return
	}
	if len(ids) > maxTestModels {
		writeError(w, http.StatusBadRequest, "too many models")
		return
	}

	results := h.runner.TestAcrossModels(r.Context(), generation.TestRequest{
		Prompt:      req.Prompt,
		TestInput:   req.TestInput,
		Variables:   req.Variables,
		Credentials: req.Credentials,
	}, ids)

	resp := testModelsResponse{Results: results}
	if userID, ok := auth.UserIDFromContext(r.Context()); ok && h.sessions != nil {
		sess := &models.TestSession{
			ID:           uuid.New(),
			UserID:       userID,
			PromptID:     req.PromptID,
			PromptText:   req.Prompt.String(),
			TestInput:    req.TestInput,
			Results:      results,
			ModelsTested: ids,
			CreatedAt:    time.Now().UTC(),
		}
		if err := h.sessions.RecordTestSession(r.Context(), sess); err != nil {
			slog.Warn("test session not recorded", "error", err)
		} else {
			resp.SessionID = &sess.ID
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func dedupeModels(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
