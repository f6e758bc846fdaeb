package redis

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewClient connects to Redis. It returns nil when the server is not
// reachable so the application can keep running without a cache and with a
// process-local change feed.
func NewClient(addr string, log zerolog.Logger) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", addr).Msg("Redis not available. Running without Redis.")
		_ = client.Close()
		return nil
	}

	log.Info().Str("addr", addr).Msg("Redis connected successfully.")
	return client
}

// Cache stores JSON values and per-scope version counters. Bumping a version
// key makes every cache key built from the old version unreachable, so
// writers never have to enumerate what to delete.
//
// A Cache with a nil client is valid and behaves as a permanent miss.
type Cache struct {
	client *goredis.Client
}

func NewCache(client *goredis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get decodes the value stored at key into dest. found is false on a miss.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// GetVersion returns the current version stored at key, 0 when unset.
func (c *Cache) GetVersion(ctx context.Context, key string) int64 {
	if !c.Enabled() {
		return 0
	}

	v, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return v
}

func (c *Cache) IncrementVersion(ctx context.Context, key string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Incr(ctx, key).Err()
}
