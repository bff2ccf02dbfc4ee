package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptcraft/internal/auth"
	"github.com/nikhilbhutani/promptcraft/internal/llm"
	"github.com/nikhilbhutani/promptcraft/internal/models"
)

// ErrNoBackend is returned when neither a queue nor a database is available.
var ErrNoBackend = errors.New("no queue or database configured for audit records")

// Store writes audit records directly.
type Store interface {
	RecordTestSession(ctx context.Context, sess *models.TestSession) error
	LogLLMUsage(ctx context.Context, record models.LLMUsageLog) error
}

// Enqueuer hands audit records to background workers.
type Enqueuer interface {
	EnqueueTestSession(ctx context.Context, sess *models.TestSession) error
	EnqueueUsage(ctx context.Context, record models.LLMUsageLog) error
}

// Recorder sends audit records to the queue and writes them synchronously
// when the queue is unavailable. Either side may be nil.
type Recorder struct {
	store Store
	queue Enqueuer
}

func NewRecorder(store Store, queue Enqueuer) *Recorder {
	return &Recorder{store: store, queue: queue}
}

// Enabled reports whether records can be persisted at all.
func (r *Recorder) Enabled() bool {
	return r != nil && (r.store != nil || r.queue != nil)
}

// RecordUsage implements llm.UsageRecorder. The user, when known, is taken
// from ctx.
func (r *Recorder) RecordUsage(ctx context.Context, rec llm.UsageRecord) {
	if !r.Enabled() {
		return
	}

	entry := models.LLMUsageLog{
		Provider:     rec.Provider,
		Model:        rec.Model,
		InputTokens:  rec.InputTokens,
		OutputTokens: rec.OutputTokens,
		TotalTokens:  rec.TotalTokens,
		CostUSD:      rec.CostUSD,
		LatencyMs:    rec.LatencyMs,
		Endpoint:     rec.Endpoint,
		CreatedAt:    rec.Timestamp,
	}
	if id, ok := auth.UserIDFromContext(ctx); ok {
		entry.UserID = &id
	}

	if r.queue != nil {
		err := r.queue.EnqueueUsage(ctx, entry)
		if err == nil {
			return
		}
		slog.Warn("enqueue usage record failed", "error", err)
	}
	if r.store != nil {
		if err := r.store.LogLLMUsage(context.WithoutCancel(ctx), entry); err != nil {
			slog.Error("write usage record failed", "error", err)
		}
	}
}

// RecordTestSession assigns an id when missing and persists sess.
func (r *Recorder) RecordTestSession(ctx context.Context, sess *models.TestSession) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if r.queue != nil {
		err := r.queue.EnqueueTestSession(ctx, sess)
		if err == nil {
			return nil
		}
		slog.Warn("enqueue test session failed", "session_id", sess.ID, "error", err)
	}
	if r.store == nil {
		return ErrNoBackend
	}
	return r.store.RecordTestSession(ctx, sess)
}
