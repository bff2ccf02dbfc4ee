package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCacheRoundTrip runs against a real redis when PROMPTCRAFT_TEST_REDIS_ADDR is set.
func TestCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("PROMPTCRAFT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PROMPTCRAFT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(ctx).Err())

	c := NewCache(rdb, "test:"+uuid.NewString()+":")

	var got map[string]string
	ok, err := c.Get(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", map[string]string{"title": "Blog writer"}, time.Minute))
	ok, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Blog writer", got["title"])

	require.NoError(t, c.Delete(ctx, "k"))
	ok, err = c.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}
