package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keyring keeps values in the OS keyring (macOS Keychain, Secret Service,
// Windows Credential Manager) under one service name.
type Keyring struct {
	service string
}

// NewKeyring creates a Keyring store for service.
func NewKeyring(service string) (*Keyring, error) {
	const op = "store.NewKeyring"
	if service == "" {
		return nil, fmt.Errorf("%s: service is empty: %w", op, ErrInvalidParameter)
	}
	return &Keyring{service: service}, nil
}

func (k *Keyring) Get(ctx context.Context, key string) (string, bool, error) {
	const op = "Keyring.Get"
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	v, err := keyring.Get(k.service, key)
	switch {
	case errors.Is(err, keyring.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("%s: %w", op, err)
	}
	return v, true, nil
}

func (k *Keyring) Set(ctx context.Context, key, value string) error {
	const op = "Keyring.Set"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := keyring.Set(k.service, key, value); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove deletes key. A missing key is not an error.
func (k *Keyring) Remove(ctx context.Context, key string) error {
	const op = "Keyring.Remove"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := keyring.Delete(k.service, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
