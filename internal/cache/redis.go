package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-redis/redis/v8"

	"fleetpulse/internal/domain"
)

// RedisOptions configures the shared Redis cache.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisCache stores query results in Redis under per-table generations.
// Entry keys embed the table generation; Invalidate bumps it so older
// entries become unreachable and expire by TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisClient builds go-redis client from options.
func NewRedisClient(opts RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// NewRedisCache wraps client.
// Params: redis client, key prefix ("fleetpulse" when empty) and entry ttl.
// Returns: cache.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "fleetpulse"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks Redis connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Get decodes cached scope into dst.
// Params: table, scope key and destination pointer.
// Returns: hit flag and redis/decode error.
func (c *RedisCache) Get(ctx context.Context, table domain.Table, scope string, dst any) (bool, error) {
	generation, err := c.generation(ctx, table)
	if err != nil {
		return false, err
	}
	raw, err := c.client.Get(ctx, c.entryKey(table, generation, scope)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s/%s: %w", table, scope, err)
	}
	if err := sonic.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", table, scope, err)
	}
	return true, nil
}

// Version returns the current table generation.
func (c *RedisCache) Version(ctx context.Context, table domain.Table) (int64, error) {
	return c.generation(ctx, table)
}

// Set encodes value under current table generation.
func (c *RedisCache) Set(ctx context.Context, table domain.Table, scope string, value any) error {
	generation, err := c.generation(ctx, table)
	if err != nil {
		return err
	}
	_, err = c.SetVersioned(ctx, table, generation, scope, value)
	return err
}

// SetVersioned writes value under the given generation.
// Params: table, generation captured before the store read, scope and value.
// Returns: stored flag; an entry written under a superseded generation is never read.
func (c *RedisCache) SetVersioned(ctx context.Context, table domain.Table, version int64, scope string, value any) (bool, error) {
	current, err := c.generation(ctx, table)
	if err != nil {
		return false, err
	}
	if current != version {
		return false, nil
	}
	raw, err := sonic.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode cached %s/%s: %w", table, scope, err)
	}
	if err := c.client.Set(ctx, c.entryKey(table, version, scope), raw, c.ttl).Err(); err != nil {
		return false, fmt.Errorf("redis set %s/%s: %w", table, scope, err)
	}
	return true, nil
}

// Invalidate bumps generation of every table.
// Params: tables to invalidate.
// Returns: redis error; repeated calls leave the cache equally empty.
func (c *RedisCache) Invalidate(ctx context.Context, tables ...domain.Table) error {
	if len(tables) == 0 {
		return nil
	}
	pipe := c.client.TxPipeline()
	for _, table := range tables {
		pipe.Incr(ctx, c.generationKey(table))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis invalidate: %w", err)
	}
	return nil
}

// Close closes redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) generation(ctx context.Context, table domain.Table) (int64, error) {
	value, err := c.client.Get(ctx, c.generationKey(table)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis generation %s: %w", table, err)
	}
	generation, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse generation %s: %w", table, err)
	}
	return generation, nil
}

func (c *RedisCache) generationKey(table domain.Table) string {
	return c.prefix + ":gen:" + string(table)
}

func (c *RedisCache) entryKey(table domain.Table, generation int64, scope string) string {
	return c.prefix + ":" + string(table) + ":" + strconv.FormatInt(generation, 10) + ":" + scope
}
