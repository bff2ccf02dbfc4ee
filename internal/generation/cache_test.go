package generation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptcraft/internal/auth"
	"github.com/nikhilbhutani/promptcraft/internal/config"
)

func TestCacheIsScopedPerUser(t *testing.T) {
	h := newHarness(t, config.LLMConfig{OpenAIKey: "sk-env"}, modelJSON, nil)
	cache := &memCache{data: map[string]any{}}
	WithCache(cache, time.Minute)(h.svc)

	alice := auth.WithUserID(context.Background(), uuid.New())
	bob := auth.WithUserID(context.Background(), uuid.New())
	req := GenerateRequest{Goal: "release notes"}

	for _, ctx := range []context.Context{alice, alice, bob} {
		_, err := h.svc.Generate(ctx, req)
		require.NoError(t, err)
	}

	assert.Equal(t, 2, h.calls())
	require.Len(t, cache.data, 2)
	for key := range cache.data {
		assert.True(t, strings.Contains(key, ":user:"), key)
	}
}

func TestUserScopedKey(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, "k:anon", userScoped(context.Background(), "k"))
	assert.Equal(t, "k:user:"+id.String(), userScoped(auth.WithUserID(context.Background(), id), "k"))
}
