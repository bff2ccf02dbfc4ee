// Package eval runs one prompt against several models and collects the
// per-model outcomes.
package eval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/promptcraft/internal/generation"
	"github.com/nikhilbhutani/promptcraft/internal/models"
)

// Tester runs a prompt against the model named in the request.
type Tester interface {
	Test(ctx context.Context, req generation.TestRequest) (*models.TestResult, error)
}

type Runner struct {
	tester Tester
	limit  int
}

// NewRunner returns a Runner that runs at most limit models at once;
// limit <= 0 runs every model concurrently.
func NewRunner(t Tester, limit int) *Runner {
	return &Runner{tester: t, limit: limit}
}

// TestAcrossModels sends req to every model concurrently and waits for all of
// them. Results follow the order of modelIDs; a failing model yields a result
// with Success false and a non-empty Error instead of failing the batch.
func (r *Runner) TestAcrossModels(ctx context.Context, req generation.TestRequest, modelIDs []string) []models.TestResult {
	results := make([]models.TestResult, len(modelIDs))

	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for i, model := range modelIDs {
		g.Go(func() error {
			results[i] = r.testOne(ctx, req, model)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (r *Runner) testOne(ctx context.Context, req generation.TestRequest, model string) models.TestResult {
	req.Model = model
	start := time.Now()

	res, err := r.tester.Test(ctx, req)
	if res == nil {
		res = &models.TestResult{
			Model:        model,
			Prompt:       req.Prompt.String(),
			ResponseTime: time.Since(start).Milliseconds(),
			Timestamp:    time.Now().UTC(),
		}
	}
	if err != nil {
		slog.Warn("model test failed", "model", model, "error", err)
		res.Success = false
		if strings.TrimSpace(res.Error) == "" {
			res.Error = err.Error()
		}
	}
	if !res.Success && strings.TrimSpace(res.Error) == "" {
		res.Error = "model returned no result"
	}
	return *res
}
