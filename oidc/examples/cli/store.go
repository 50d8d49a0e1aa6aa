package main

import (
	"context"
	"fmt"

	"github.com/mauth/oidcsession/oidc"
	"github.com/mauth/oidcsession/store"
	"github.com/redis/go-redis/v9"
)

const keyringService = "oidcsession-cli"

// newStore creates the token store named by kind. The returned func releases
// it.
func newStore(ctx context.Context, kind, redisAddr string) (oidc.Store, func(), error) {
	const op = "newStore"
	switch kind {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "keyring":
		k, err := store.NewKeyring(keyringService)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return k, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		r, err := store.NewRedis(client, store.WithKeyPrefix("oidcsession-cli:"))
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := r.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		return r, func() { _ = client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%s: unknown store %q", op, kind)
	}
}
