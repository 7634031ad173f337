package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrMiss is returned when a key does not exist.
	ErrMiss = errors.New("cache: miss")
	// ErrUnavailable is returned by writes when no Redis is behind the store.
	ErrUnavailable = errors.New("cache: redis unavailable")
)

// Store is the key/value surface the handlers depend on.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Ping(ctx context.Context) error
}

// Cache namespaces every key under prefix.
type Cache struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Cache)(nil)

func New(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	var b strings.Builder
	b.Grow(len(c.prefix) + 1 + len(k))
	b.WriteString(c.prefix)
	b.WriteString(":")
	b.WriteString(k)
	return b.String()
}

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return val, err
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

func (c *Cache) GetJSON(ctx context.Context, key string, dst any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dst)
}

func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, raw, ttl)
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Del(ctx, full...).Err()
}

// DeletePattern removes every key matching pattern using SCAN, never KEYS.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.key(pattern), 200).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Incr increments key and sets ttl when the key was just created.
func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	full := c.key(key)
	n, err := c.client.Incr(ctx, full).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 && ttl > 0 {
		if err := c.client.Expire(ctx, full, ttl).Err(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Noop is used when Redis is not reachable. Every read misses and every
// write fails with ErrUnavailable.
type Noop struct{}

var _ Store = Noop{}

func (Noop) Get(context.Context, string) (string, error)                { return "", ErrMiss }
func (Noop) Set(context.Context, string, any, time.Duration) error      { return ErrUnavailable }
func (Noop) GetJSON(context.Context, string, any) error                 { return ErrMiss }
func (Noop) SetJSON(context.Context, string, any, time.Duration) error  { return ErrUnavailable }
func (Noop) Delete(context.Context, ...string) error                    { return nil }
func (Noop) DeletePattern(context.Context, string) (int, error)         { return 0, nil }
func (Noop) Exists(context.Context, string) (bool, error)               { return false, nil }
func (Noop) Incr(context.Context, string, time.Duration) (int64, error) { return 0, ErrUnavailable }
func (Noop) Ping(context.Context) error                                 { return ErrUnavailable }
