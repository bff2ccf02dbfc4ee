package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVER_PORT", "")
	t.Setenv("LLM_TEMPERATURE", "")
	t.Setenv("GENERATION_CACHE_TTL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("LLM_MAX_PARALLEL_TESTS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 1e-9)
	assert.Equal(t, 0, cfg.LLM.MaxRetries)
	assert.Equal(t, time.Duration(0), cfg.LLM.CacheTTL)
	assert.Equal(t, 0, cfg.LLM.MaxParallelTests)
	assert.Equal(t, 10, cfg.Worker.Concurrency)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("GENERATION_CACHE_TTL", "10m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Addr())
	assert.Equal(t, 10*time.Minute, cfg.LLM.CacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "sk-env", cfg.LLM.OpenAIKey)
}

func TestLoadInvalidValues(t *testing.T) {
	t.Setenv("SERVER_PORT", "eighty")
	_, err := Load()
	assert.ErrorContains(t, err, "SERVER_PORT")
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
	assert.Contains(t, err.Error(), "SUPABASE_JWT_SECRET")

	cfg.Database.URL = "postgres://localhost/db"
	cfg.Auth.JWTSecret = "secret"
	assert.NoError(t, cfg.Validate())
}
