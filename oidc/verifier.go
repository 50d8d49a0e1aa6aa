package oidc

import (
	"context"
	"fmt"

	"github.com/mauth/oidcsession/jwt"
)

// JWKSVerifier verifies id_token signatures against the provider's JWKS,
// loading the keys through the ValidationContext when they are not already
// present. It is the Verifier used when none is configured.
type JWKSVerifier struct {
	// Algorithms restricts the accepted signing algorithms. Empty accepts
	// every supported algorithm.
	Algorithms []jwt.Alg
}

var _ Verifier = (*JWKSVerifier)(nil)

// CheckSignature verifies the id_token signature.
func (v *JWKSVerifier) CheckSignature(ctx context.Context, vctx *ValidationContext) error {
	const op = "JWKSVerifier.CheckSignature"
	if vctx == nil {
		return fmt.Errorf("%s: validation context is nil: %w", op, ErrNilParameter)
	}
	keys := vctx.JWKS
	if keys == nil {
		if vctx.LoadKeys == nil {
			return fmt.Errorf("%s: no keys and no key loader: %w", op, ErrJwksLoadFailed)
		}
		var err error
		if keys, err = vctx.LoadKeys(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	ks, err := jwt.NewLocalKeySet(keys, jwt.WithSigningAlgorithms(v.Algorithms...))
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrJwksLoadFailed, err)
	}
	if _, err := ks.VerifySignature(ctx, vctx.IdToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CheckAtHash compares the at_hash claim with the access token.
func (v *JWKSVerifier) CheckAtHash(ctx context.Context, vctx *ValidationContext) (bool, error) {
	return checkAtHash(ctx, vctx)
}

// KeySetVerifier verifies id_token signatures with any jwt.KeySet, for
// example a remote key set from jwt.NewJSONWebKeySet.
type KeySetVerifier struct {
	KeySet jwt.KeySet
}

var _ Verifier = (*KeySetVerifier)(nil)

// CheckSignature verifies the id_token signature.
func (v *KeySetVerifier) CheckSignature(ctx context.Context, vctx *ValidationContext) error {
	const op = "KeySetVerifier.CheckSignature"
	switch {
	case vctx == nil:
		return fmt.Errorf("%s: validation context is nil: %w", op, ErrNilParameter)
	case v.KeySet == nil:
		return fmt.Errorf("%s: key set is nil: %w", op, ErrNilParameter)
	}
	if _, err := v.KeySet.VerifySignature(ctx, vctx.IdToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CheckAtHash compares the at_hash claim with the access token.
func (v *KeySetVerifier) CheckAtHash(ctx context.Context, vctx *ValidationContext) (bool, error) {
	return checkAtHash(ctx, vctx)
}

// NoopVerifier accepts every signature and at_hash. Only use it when tokens
// are verified elsewhere.
type NoopVerifier struct{}

var _ Verifier = NoopVerifier{}

func (NoopVerifier) CheckSignature(context.Context, *ValidationContext) error { return nil }

func (NoopVerifier) CheckAtHash(context.Context, *ValidationContext) (bool, error) { return true, nil }

func checkAtHash(ctx context.Context, vctx *ValidationContext) (bool, error) {
	const op = "checkAtHash"
	if vctx == nil {
		return false, fmt.Errorf("%s: validation context is nil: %w", op, ErrNilParameter)
	}
	ok, err := jwt.VerifyAccessTokenHash(ctx, vctx.IdToken, vctx.AccessToken)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}
