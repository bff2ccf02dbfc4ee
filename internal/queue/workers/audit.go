package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptcraft/internal/audit"
	"github.com/nikhilbhutani/promptcraft/internal/models"
	"github.com/nikhilbhutani/promptcraft/internal/queue"
)

// AuditWorker writes queued test sessions and usage records.
type AuditWorker struct {
	store audit.Store
}

func NewAuditWorker(store audit.Store) *AuditWorker {
	return &AuditWorker{store: store}
}

// Register wires the worker's task types into registry.
func (w *AuditWorker) Register(registry *queue.Registry) {
	registry.HandleFunc(queue.TypeTestSessionRecord, w.ProcessTestSession)
	registry.HandleFunc(queue.TypeUsageRecord, w.ProcessUsage)
}

func (w *AuditWorker) ProcessTestSession(ctx context.Context, t *asynq.Task) error {
	var sess models.TestSession
	if err := json.Unmarshal(t.Payload(), &sess); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	if err := w.store.RecordTestSession(ctx, &sess); err != nil {
		return fmt.Errorf("record test session %s: %w", sess.ID, err)
	}

	slog.Info("test session recorded", "session_id", sess.ID, "models", len(sess.ModelsTested))
	return nil
}

func (w *AuditWorker) ProcessUsage(ctx context.Context, t *asynq.Task) error {
	var record models.LLMUsageLog
	if err := json.Unmarshal(t.Payload(), &record); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	if err := w.store.LogLLMUsage(ctx, record); err != nil {
		return fmt.Errorf("log usage: %w", err)
	}
	return nil
}
