package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/promptcraft/internal/models"
)

// ErrNotFound is returned for prompts that do not exist or belong to another user.
var ErrNotFound = errors.New("prompt not found")

// ValidationError reports content the caller must fix.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

const maxLineageDepth = 100

const promptColumns = `id, user_id, title, description, content, parent_id, created_at`

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

type CreateRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Content     models.Content `json:"content"`
}

func (r CreateRequest) validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Err: errors.New("title is required")}
	}
	if err := r.Content.Validate(); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*models.Prompt, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	content, err := json.Marshal(req.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	p, err := scanPrompt(s.db.QueryRow(ctx,
		`INSERT INTO prompts (user_id, title, description, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+promptColumns,
		userID, req.Title, req.Description, content,
	))
	if err != nil {
		return nil, fmt.Errorf("insert prompt: %w", err)
	}
	return p, nil
}

// Derive stores an improved or optimized version of parentID as a new row.
// The parent row is never modified.
func (s *Service) Derive(ctx context.Context, userID, parentID uuid.UUID, req CreateRequest) (*models.Prompt, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var parentTitle string
	err = tx.QueryRow(ctx,
		`SELECT title FROM prompts WHERE id = $1 AND user_id = $2 FOR SHARE`,
		parentID, userID,
	).Scan(&parentTitle)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get parent prompt: %w", err)
	}

	if strings.TrimSpace(req.Title) == "" {
		req.Title = parentTitle
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	content, err := json.Marshal(req.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}

	p, err := scanPrompt(tx.QueryRow(ctx,
		`INSERT INTO prompts (user_id, title, description, content, parent_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+promptColumns,
		userID, req.Title, req.Description, content, parentID,
	))
	if err != nil {
		return nil, fmt.Errorf("insert prompt version: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.Prompt, error) {
	p, err := scanPrompt(s.db.QueryRow(ctx,
		`SELECT `+promptColumns+` FROM prompts WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get prompt: %w", err)
	}
	return p, nil
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Prompt, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+promptColumns+` FROM prompts WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	return collectPrompts(rows)
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM prompts WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Lineage returns the prompt followed by its ancestors, root last.
func (s *Service) Lineage(ctx context.Context, userID, id uuid.UUID) ([]models.Prompt, error) {
	rows, err := s.db.Query(ctx,
		`WITH RECURSIVE lineage AS (
			SELECT `+promptColumns+`, 0 AS depth
			FROM prompts WHERE id = $1 AND user_id = $2
			UNION ALL
			SELECT p.id, p.user_id, p.title, p.description, p.content, p.parent_id, p.created_at, l.depth + 1
			FROM prompts p JOIN lineage l ON p.id = l.parent_id
			WHERE p.user_id = $2 AND l.depth < $3
		)
		SELECT `+promptColumns+` FROM lineage ORDER BY depth`,
		id, userID, maxLineageDepth,
	)
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	prompts, err := collectPrompts(rows)
	if err != nil {
		return nil, err
	}
	if len(prompts) == 0 {
		return nil, ErrNotFound
	}
	return prompts, nil
}

type RenderRequest struct {
	Variables map[string]string `json:"variables"`
	Strict    bool              `json:"strict,omitempty"`
}

type RenderedStep struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

type RenderResponse struct {
	Prompt string         `json:"prompt,omitempty"`
	Steps  []RenderedStep `json:"steps,omitempty"`
}

// RenderPrompt substitutes variables into a stored prompt. Values saved with
// the prompt apply unless the request overrides them.
func (s *Service) RenderPrompt(ctx context.Context, userID, id uuid.UUID, req RenderRequest) (*RenderResponse, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	resp, err := RenderContent(p.Content, req)
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	return resp, nil
}

func RenderContent(c models.Content, req RenderRequest) (*RenderResponse, error) {
	render := func(text string, vars map[string]string) (string, error) {
		if req.Strict {
			return RenderStrict(text, vars)
		}
		return Render(text, vars), nil
	}

	switch c.Kind {
	case models.ContentChain:
		if c.Chain == nil {
			return nil, errors.New("chain content is empty")
		}
		resp := &RenderResponse{}
		for _, step := range c.Chain.Chain.Steps {
			text, err := render(step.Prompt, req.Variables)
			if err != nil {
				return nil, fmt.Errorf("render step %d: %w", step.ID, err)
			}
			resp.Steps = append(resp.Steps, RenderedStep{ID: step.ID, Title: step.Title, Prompt: text})
		}
		return resp, nil
	default:
		if c.Simple == nil {
			return nil, errors.New("prompt content is empty")
		}
		vars := models.VariableValues(c.Simple.Variables)
		for k, v := range req.Variables {
			vars[k] = v
		}
		text, err := render(c.Simple.Prompt.String(), vars)
		if err != nil {
			return nil, err
		}
		return &RenderResponse{Prompt: text}, nil
	}
}

func scanPrompt(row pgx.Row) (*models.Prompt, error) {
	var p models.Prompt
	var content []byte
	if err := row.Scan(&p.ID, &p.UserID, &p.Title, &p.Description, &content, &p.ParentID, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &p.Content); err != nil {
		return nil, fmt.Errorf("decode content of prompt %s: %w", p.ID, err)
	}
	return &p, nil
}

func collectPrompts(rows pgx.Rows) ([]models.Prompt, error) {
	defer rows.Close()

	var prompts []models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate prompts: %w", err)
	}
	return prompts, nil
}
