package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedValue struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCache(client), s
}

func TestCache_SetAndGet(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", cachedValue{Name: "bmc", Count: 9}, time.Minute))

	var got cachedValue
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, cachedValue{Name: "bmc", Count: 9}, got)
}

func TestCache_Miss(t *testing.T) {
	cache, _ := setupCache(t)

	var got cachedValue
	found, err := cache.Get(context.Background(), "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Expiry(t *testing.T) {
	cache, s := setupCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", cachedValue{Name: "x"}, time.Second))
	s.FastForward(2 * time.Second)

	var got cachedValue
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Versions(t *testing.T) {
	cache, _ := setupCache(t)
	ctx := context.Background()

	assert.Equal(t, int64(0), cache.GetVersion(ctx, "v"))
	require.NoError(t, cache.IncrementVersion(ctx, "v"))
	require.NoError(t, cache.IncrementVersion(ctx, "v"))
	assert.Equal(t, int64(2), cache.GetVersion(ctx, "v"))
}

func TestCache_NilClientIsNoop(t *testing.T) {
	cache := NewCache(nil)
	ctx := context.Background()

	assert.False(t, cache.Enabled())
	assert.NoError(t, cache.Set(ctx, "k", cachedValue{}, time.Minute))
	found, err := cache.Get(ctx, "k", &cachedValue{})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, cache.IncrementVersion(ctx, "v"))
	assert.Equal(t, int64(0), cache.GetVersion(ctx, "v"))
}
