package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is prepended to keys unless WithKeyPrefix is used.
const DefaultRedisKeyPrefix = "oidcsession:"

// Redis keeps values in Redis, so a session survives restarts and can be
// shared by several processes of one client.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedis creates a Redis store using client.
//
// Supported options: WithKeyPrefix, WithTTL
func NewRedis(client redis.UniversalClient, opt ...Option) (*Redis, error) {
	const op = "store.NewRedis"
	if client == nil {
		return nil, fmt.Errorf("%s: client is nil: %w", op, ErrNilParameter)
	}
	opts := getRedisOpts(opt...)
	if opts.withTTL < 0 {
		return nil, fmt.Errorf("%s: ttl is negative: %w", op, ErrInvalidParameter)
	}
	return &Redis{
		client:    client,
		keyPrefix: opts.withKeyPrefix,
		ttl:       opts.withTTL,
	}, nil
}

func (r *Redis) key(k string) string {
	return r.keyPrefix + k
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "Redis.Get"
	v, err := r.client.Get(ctx, r.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	const op = "Redis.Set"
	if err := r.client.Set(ctx, r.key(key), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	const op = "Redis.Remove"
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Ping checks the connection to Redis.
func (r *Redis) Ping(ctx context.Context) error {
	const op = "Redis.Ping"
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
