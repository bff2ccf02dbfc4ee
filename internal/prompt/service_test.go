package prompt

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptcraft/internal/config"
	"github.com/nikhilbhutani/promptcraft/internal/database"
	"github.com/nikhilbhutani/promptcraft/internal/models"
)

func TestRenderContentSimple(t *testing.T) {
	c := models.NewSimpleContent(models.PromptBody{Text: "Translate {{text}} into {{lang}}"},
		[]models.Variable{{Name: "lang", Value: "French"}, {Name: "text", Value: "hello"}})

	resp, err := RenderContent(c, RenderRequest{Variables: map[string]string{"text": "good night"}})
	require.NoError(t, err)
	assert.Equal(t, "Translate good night into French", resp.Prompt)
	assert.Empty(t, resp.Steps)
}

func TestRenderContentStrict(t *testing.T) {
	c := models.NewSimpleContent(models.PromptBody{Text: "Hi {{name}} from {{city}}"}, nil)

	_, err := RenderContent(c, RenderRequest{Variables: map[string]string{"name": "Ada"}, Strict: true})
	assert.ErrorContains(t, err, "city")

	resp, err := RenderContent(c, RenderRequest{Variables: map[string]string{"name": "Ada"}})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada from {{city}}", resp.Prompt)
}

func TestRenderContentChain(t *testing.T) {
	c := models.NewChainContent("gpt-4o", models.Chain{Steps: []models.ChainStep{
		{ID: 1, Title: "A", Prompt: "Research {{topic}}"},
		{ID: 2, Title: "B", Prompt: "Write using [OUTPUT FROM STEP 1]"},
	}})

	resp, err := RenderContent(c, RenderRequest{Variables: map[string]string{"topic": "tides"}})
	require.NoError(t, err)
	assert.Equal(t, []RenderedStep{
		{ID: 1, Title: "A", Prompt: "Research tides"},
		{ID: 2, Title: "B", Prompt: "Write using [OUTPUT FROM STEP 1]"},
	}, resp.Steps)
}

// TestServiceLineage runs against a real Postgres when PROMPTCRAFT_TEST_DATABASE_URL is set.
func TestServiceLineage(t *testing.T) {
	url := os.Getenv("PROMPTCRAFT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PROMPTCRAFT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := database.NewPool(ctx, config.DatabaseConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.RunMigrations(ctx, pool, filepath.Join("..", "..", "migrations")))

	svc := NewService(pool)
	owner, stranger := uuid.New(), uuid.New()

	root, err := svc.Create(ctx, owner, CreateRequest{
		Title:   "Root",
		Content: models.NewSimpleContent(models.PromptBody{Text: "v1"}, nil),
	})
	require.NoError(t, err)

	child, err := svc.Derive(ctx, owner, root.ID, CreateRequest{
		Content: models.NewSimpleContent(models.PromptBody{Text: "v2"}, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, "Root", child.Title)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, root.ID, *child.ParentID)

	lineage, err := svc.Lineage(ctx, owner, child.ID)
	require.NoError(t, err)
	require.Len(t, lineage, 2)
	assert.Equal(t, child.ID, lineage[0].ID)
	assert.Equal(t, root.ID, lineage[1].ID)

	stored, err := svc.Get(ctx, owner, root.ID)
	require.NoError(t, err)
	assert.Equal(t, "v1", stored.Content.Simple.Prompt.Text)

	_, err = svc.Get(ctx, stranger, root.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, stranger, root.ID), ErrNotFound)
	_, err = svc.Derive(ctx, stranger, root.ID, CreateRequest{Content: models.NewSimpleContent(models.PromptBody{Text: "x"}, nil)})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Delete(ctx, owner, child.ID))
	require.NoError(t, svc.Delete(ctx, owner, root.ID))
}
