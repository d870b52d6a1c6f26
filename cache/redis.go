// Package cache implements rental.Cache on Redis and in process memory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warp/rental-engine/config"
	"github.com/warp/rental-engine/rental"
)

// Redis stores JSON values under "<prefix>:<namespace>:<key>".
type Redis struct {
	Db     *redis.Client
	prefix string
}

var _ rental.Cache = (*Redis)(nil)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.Redis) (*Redis, error) {
	const op = "cache.NewRedis"
	db := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		Username:     cfg.User,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, rental.Infra(op, err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "rental"
	}
	return &Redis{Db: db, prefix: prefix}, nil
}

func (c *Redis) key(namespace, key string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, namespace, key)
}

func (c *Redis) Get(ctx context.Context, namespace, key string, dest any) (bool, error) {
	const op = "cache.Get"
	val, err := c.Db.Get(ctx, c.key(namespace, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, rental.Infra(op, err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (c *Redis) Set(ctx context.Context, namespace, key string, value any, ttl time.Duration) error {
	const op = "cache.Set"
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return rental.Infra(op, c.Db.Set(ctx, c.key(namespace, key), data, ttl).Err())
}

// InvalidateNamespace deletes every key of the namespace. SCAN keeps the
// server responsive on large keyspaces.
func (c *Redis) InvalidateNamespace(ctx context.Context, namespace string) error {
	const op = "cache.InvalidateNamespace"
	pattern := c.key(namespace, "*")

	var cursor uint64
	for {
		keys, next, err := c.Db.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return rental.Infra(op, err)
		}
		if len(keys) > 0 {
			if err := c.Db.Del(ctx, keys...).Err(); err != nil {
				return rental.Infra(op, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *Redis) Close() error { return c.Db.Close() }
