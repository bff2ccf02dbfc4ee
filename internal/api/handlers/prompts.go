package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptcraft/internal/auth"
	"github.com/nikhilbhutani/promptcraft/internal/models"
	"github.com/nikhilbhutani/promptcraft/internal/prompt"
)

// PromptStore is the saved-prompt backend, scoped to the calling user.
type PromptStore interface {
	Create(ctx context.Context, userID uuid.UUID, req prompt.CreateRequest) (*models.Prompt, error)
	Derive(ctx context.Context, userID, parentID uuid.UUID, req prompt.CreateRequest) (*models.Prompt, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Prompt, error)
	List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Prompt, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	Lineage(ctx context.Context, userID, id uuid.UUID) ([]models.Prompt, error)
	RenderPrompt(ctx context.Context, userID, id uuid.UUID, req prompt.RenderRequest) (*prompt.RenderResponse, error)
}

type PromptHandler struct {
	store PromptStore
}

// NewPromptHandler answers 503 on every route when store is nil.
func NewPromptHandler(store PromptStore) *PromptHandler {
	return &PromptHandler{store: store}
}

func (h *PromptHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	var req prompt.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.store.Create(r.Context(), userID, req)
	if err != nil {
		writePromptError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	prompts, err := h.store.List(r.Context(), userID, limit, offset)
	if err != nil {
		writePromptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts, "count": len(prompts)})
}

func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.beginWithID(w, r)
	if !ok {
		return
	}
	p, err := h.store.Get(r.Context(), userID, id)
	if err != nil {
		writePromptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *PromptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.beginWithID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), userID, id); err != nil {
		writePromptError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateVersion saves an improved or optimized prompt as a child of {id}.
func (h *PromptHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.beginWithID(w, r)
	if !ok {
		return
	}
	var req prompt.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := h.store.Derive(r.Context(), userID, id, req)
	if err != nil {
		writePromptError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *PromptHandler) Lineage(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.beginWithID(w, r)
	if !ok {
		return
	}
	chain, err := h.store.Lineage(r.Context(), userID, id)
	if err != nil {
		writePromptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lineage": chain})
}

func (h *PromptHandler) RenderPrompt(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := h.beginWithID(w, r)
	if !ok {
		return
	}
	var req prompt.RenderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resp, err := h.store.RenderPrompt(r.Context(), userID, id, req)
	if err != nil {
		writePromptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *PromptHandler) begin(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "prompt storage is not configured")
		return uuid.Nil, false
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *PromptHandler) beginWithID(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := h.begin(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid prompt ID")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func writePromptError(w http.ResponseWriter, err error) {
	var invalid *prompt.ValidationError
	switch {
	case errors.Is(err, prompt.ErrNotFound):
		writeError(w, http.StatusNotFound, "prompt not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	default:
		slog.Error("prompt store failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
