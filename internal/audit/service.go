// Package audit persists test sessions and LLM usage records.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptcraft/internal/models"
)

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

// RecordTestSession inserts sess. A session that already exists is left
// untouched so redelivered queue tasks are harmless.
func (s *Service) RecordTestSession(ctx context.Context, sess *models.TestSession) error {
	results, err := json.Marshal(sess.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	modelsTested, err := json.Marshal(sess.ModelsTested)
	if err != nil {
		return fmt.Errorf("marshal models: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO test_sessions (id, user_id, prompt_id, prompt_text, test_input, results, models_tested, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		sess.ID, sess.UserID, sess.PromptID, sess.PromptText, sess.TestInput, results, modelsTested, sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert test session: %w", err)
	}
	return nil
}

type SessionQuery struct {
	PromptID *uuid.UUID
	Limit    int
	Offset   int
}

func (s *Service) ListTestSessions(ctx context.Context, userID uuid.UUID, q SessionQuery) ([]models.TestSession, error) {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 50
	}

	query := `SELECT id, user_id, prompt_id, prompt_text, test_input, results, models_tested, created_at
			  FROM test_sessions WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if q.PromptID != nil {
		query += fmt.Sprintf(" AND prompt_id = $%d", argIdx)
		args = append(args, *q.PromptID)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query test sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.TestSession
	for rows.Next() {
		var sess models.TestSession
		var results, modelsTested []byte
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.PromptID, &sess.PromptText, &sess.TestInput, &results, &modelsTested, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan test session: %w", err)
		}
		if err := json.Unmarshal(results, &sess.Results); err != nil {
			return nil, fmt.Errorf("decode results of session %s: %w", sess.ID, err)
		}
		if err := json.Unmarshal(modelsTested, &sess.ModelsTested); err != nil {
			return nil, fmt.Errorf("decode models of session %s: %w", sess.ID, err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate test sessions: %w", err)
	}
	return sessions, nil
}

func (s *Service) LogLLMUsage(ctx context.Context, record models.LLMUsageLog) error {
	var metadata []byte
	if len(record.Metadata) > 0 {
		metadata = record.Metadata
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO llm_usage_logs (user_id, provider, model, input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, endpoint, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		record.UserID, record.Provider, record.Model, record.InputTokens, record.OutputTokens,
		record.TotalTokens, record.CostUSD, record.LatencyMs, record.Endpoint, metadata,
	)
	if err != nil {
		return fmt.Errorf("insert LLM usage log: %w", err)
	}

	return nil
}

type UsageSummary struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	TotalCalls   int     `json:"total_calls"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// UsageSummary aggregates the user's provider calls per model.
func (s *Service) UsageSummary(ctx context.Context, userID uuid.UUID, startDate, endDate *time.Time) ([]UsageSummary, error) {
	query := `SELECT provider, model, COUNT(*) AS total_calls,
			         COALESCE(SUM(total_tokens), 0) AS total_tokens,
			         COALESCE(SUM(cost_usd), 0)::float8 AS total_cost_usd
			  FROM llm_usage_logs WHERE user_id = $1`
	args := []any{userID}
	argIdx := 2

	if startDate != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *startDate)
		argIdx++
	}
	if endDate != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *endDate)
	}

	query += " GROUP BY provider, model ORDER BY total_cost_usd DESC"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	defer rows.Close()

	var summaries []UsageSummary
	for rows.Next() {
		var us UsageSummary
		if err := rows.Scan(&us.Provider, &us.Model, &us.TotalCalls, &us.TotalTokens, &us.TotalCostUSD); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		summaries = append(summaries, us)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage summary: %w", err)
	}
	return summaries, nil
}
