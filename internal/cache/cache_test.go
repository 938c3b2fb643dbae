package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentoven/taskrouter/internal/cache"
	"github.com/agentoven/taskrouter/internal/config"
	"github.com/agentoven/taskrouter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgs(pairs ...string) []models.ChatMessage {
	var out []models.ChatMessage
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.ChatMessage{Role: pairs[i], Content: pairs[i+1]})
	}
	return out
}

func TestFingerprint(t *testing.T) {
	base := cache.Fingerprint("general", msgs("user", "What is Go?"))

	assert.Len(t, base, 16)
	assert.Equal(t, base, cache.Fingerprint("general", msgs("user", "  what   is go? ")),
		"case and whitespace are normalized")
	assert.Equal(t, base, cache.Fingerprint("General", msgs("user", "What is Go?")))

	assert.NotEqual(t, base, cache.Fingerprint("coder", msgs("user", "What is Go?")))
	assert.NotEqual(t, base, cache.Fingerprint("general", msgs("user", "What is Rust?")))
	assert.NotEqual(t, base, cache.Fingerprint("general",
		msgs("user", "hi", "assistant", "hello", "user", "What is Go?")),
		"prior turns change the key")
}

func TestFingerprint_TrailingAssistantTurn(t *testing.T) {
	a := cache.Fingerprint("general", msgs("user", "q", "assistant", "a"))
	b := cache.Fingerprint("general", msgs("user", "q"))
	assert.NotEqual(t, a, b)

	c := cache.Fingerprint("general", msgs("user", "q", "assistant", "b"))
	assert.NotEqual(t, a, c, "trailing turn content changes the key")

	before := cache.Fingerprint("general", msgs("assistant", "a", "user", "q"))
	assert.NotEqual(t, a, before, "a turn before the prompt differs from one after it")
}

func TestMemory_MissThenHit(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(8, time.Minute)
	defer c.Close()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok, "a miss stays a miss")

	want := models.ChatResponse{Response: "hello", UsedCapability: "cheap", Tier: models.TierCheap}
	c.Set(ctx, "k", want)

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, want, got)

	got2, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, got, got2)
}

func TestMemory_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(8, time.Minute)
	c.Set(ctx, "k", models.ChatResponse{Response: "first"})
	c.Set(ctx, "k", models.ChatResponse{Response: "second"})

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "second", got.Response)
	assert.Equal(t, 1, c.Len())
}

func TestMemory_Evicts(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(2, 0)
	c.Set(ctx, "a", models.ChatResponse{Response: "a"})
	c.Set(ctx, "b", models.ChatResponse{Response: "b"})
	c.Set(ctx, "c", models.ChatResponse{Response: "c"})

	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)
}

func TestMemory_Expires(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(8, 20*time.Millisecond)
	c.Set(ctx, "k", models.ChatResponse{Response: "x"})

	assert.Eventually(t, func() bool {
		_, ok := c.Get(ctx, "k")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	c, err := cache.New(ctx, config.CacheConfig{Backend: "memory", Size: 4})
	require.NoError(t, err)
	assert.Equal(t, "memory", c.Name())

	c, err = cache.New(ctx, config.CacheConfig{Backend: "none"})
	require.NoError(t, err)
	c.Set(ctx, "k", models.ChatResponse{Response: "x"})
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	_, err = cache.New(ctx, config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}
