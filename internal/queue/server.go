package queue

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/promptcraft/internal/config"
)

// Registry maps task types onto the handlers run by the worker process.
type Registry struct {
	mux   *asynq.ServeMux
	types []string
}

func NewRegistry() *Registry {
	return &Registry{mux: asynq.NewServeMux()}
}

func (r *Registry) HandleFunc(taskType string, fn func(context.Context, *asynq.Task) error) {
	r.mux.HandleFunc(taskType, fn)
	r.types = append(r.types, taskType)
}

// Types lists the registered task types in registration order.
func (r *Registry) Types() []string {
	return r.types
}

func (r *Registry) Mux() *asynq.ServeMux {
	return r.mux
}

// NewServer builds the worker server. Test sessions are preferred over usage
// records when both are waiting.
func NewServer(cfg config.RedisConfig, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 3,
			QueueLow:     1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			slog.Warn("task failed", "type", task.Type(), "retry", retried, "max_retry", maxRetry, "error", err)
		}),
	})
}
