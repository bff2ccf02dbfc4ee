package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptcraft/internal/audit"
	"github.com/nikhilbhutani/promptcraft/internal/auth"
	"github.com/nikhilbhutani/promptcraft/internal/models"
)

// HistoryStore reads the calling user's test sessions and provider usage.
type HistoryStore interface {
	ListTestSessions(ctx context.Context, userID uuid.UUID, q audit.SessionQuery) ([]models.TestSession, error)
	UsageSummary(ctx context.Context, userID uuid.UUID, startDate, endDate *time.Time) ([]audit.UsageSummary, error)
}

type HistoryHandler struct {
	store HistoryStore
}

func NewHistoryHandler(store HistoryStore) *HistoryHandler {
	return &HistoryHandler{store: store}
}

func (h *HistoryHandler) TestSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}

	q := audit.SessionQuery{}
	q.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	q.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if v := r.URL.Query().Get("prompt_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid prompt_id")
			return
		}
		q.PromptID = &id
	}

	sessions, err := h.store.ListTestSessions(r.Context(), userID, q)
	if err != nil {
		slog.Error("list test sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sessions == nil {
		sessions = []models.TestSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}

func (h *HistoryHandler) Usage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.begin(w, r)
	if !ok {
		return
	}

	var startDate, endDate *time.Time
	if s := r.URL.Query().Get("start_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_date, use RFC3339")
			return
		}
		startDate = &t
	}
	if s := r.URL.Query().Get("end_date"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_date, use RFC3339")
			return
		}
		endDate = &t
	}

	summary, err := h.store.UsageSummary(r.Context(), userID, startDate, endDate)
	if err != nil {
		slog.Error("usage summary failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if summary == nil {
		summary = []audit.UsageSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"usage": summary})
}

func (h *HistoryHandler) begin(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "history storage is not configured")
		return uuid.Nil, false
	}
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return uuid.Nil, false
	}
	return userID, true
}
