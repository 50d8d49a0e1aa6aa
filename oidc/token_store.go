package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"k8s.io/utils/clock"
)

// tokenStore reads and writes the stored session state. Its two store
// methods are the only writers of the timestamp keys.
type tokenStore struct {
	store Store
	clock clock.PassiveClock
}

func (ts *tokenStore) nowMillis() int64 {
	return ts.clock.Now().UnixMilli()
}

// storeAccessTokenResponse persists an access token. expires_at is written
// only when expiresIn is positive, and is removed otherwise so it never
// describes an earlier token. The refresh token and granted scopes are only
// written when present.
func (ts *tokenStore) storeAccessTokenResponse(ctx context.Context, accessToken, refreshToken string, expiresIn int64, grantedScopes string) error {
	const op = "tokenStore.storeAccessTokenResponse"
	now := ts.nowMillis()
	if err := ts.store.Set(ctx, KeyAccessToken, accessToken); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if grantedScopes != "" {
		scopes, err := json.Marshal(splitScopes(grantedScopes))
		if err != nil {
			return fmt.Errorf("%s: unable to encode granted scopes: %w", op, err)
		}
		if err := ts.store.Set(ctx, KeyGrantedScopes, string(scopes)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := ts.store.Set(ctx, KeyAccessTokenStoredAt, strconv.FormatInt(now, 10)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if expiresIn > 0 {
		expiresAt := now + expiresIn*int64(time.Second/time.Millisecond)
		if err := ts.store.Set(ctx, KeyExpiresAt, strconv.FormatInt(expiresAt, 10)); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	} else if err := ts.store.Remove(ctx, KeyExpiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if refreshToken != "" {
		if err := ts.store.Set(ctx, KeyRefreshToken, refreshToken); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// splitScopes splits a granted scope string on '+' and spaces.
func splitScopes(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ' '
	})
}

// storeIdToken persists a validated id_token with its claims and expiry.
func (ts *tokenStore) storeIdToken(ctx context.Context, parsed *ParsedIdToken) error {
	const op = "tokenStore.storeIdToken"
	if parsed == nil {
		return fmt.Errorf("%s: parsed id_token is nil: %w", op, ErrNilParameter)
	}
	now := ts.nowMillis()
	for _, kv := range []struct{ key, value string }{
		{KeyIdToken, string(parsed.IdToken)},
		{KeyIdTokenClaims, parsed.ClaimsJSON},
		{KeyIdTokenExpiresAt, strconv.FormatInt(parsed.ExpiresAt, 10)},
		{KeyIdTokenStoredAt, strconv.FormatInt(now, 10)},
	} {
		if err := ts.store.Set(ctx, kv.key, kv.value); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (ts *tokenStore) getString(ctx context.Context, key string) (string, error) {
	v, ok, err := ts.store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("unable to read %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return v, nil
}

// getMillis returns a stored timestamp, with ok == false when the key is
// missing or not a number.
func (ts *tokenStore) getMillis(ctx context.Context, key string) (int64, bool, error) {
	v, err := ts.getString(ctx, key)
	if err != nil || v == "" {
		return 0, false, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// hasValid reports whether the token under tokenKey is present and its
// expiry, when known, has not passed.
func (ts *tokenStore) hasValid(ctx context.Context, tokenKey, expiresAtKey string) (bool, error) {
	tk, err := ts.getString(ctx, tokenKey)
	if err != nil || tk == "" {
		return false, err
	}
	expiresAt, ok, err := ts.getMillis(ctx, expiresAtKey)
	if err != nil {
		return false, err
	}
	if ok && expiresAt < ts.nowMillis() {
		return false, nil
	}
	return true, nil
}

func (ts *tokenStore) hasValidAccessToken(ctx context.Context) (bool, error) {
	return ts.hasValid(ctx, KeyAccessToken, KeyExpiresAt)
}

func (ts *tokenStore) hasValidIdToken(ctx context.Context) (bool, error) {
	return ts.hasValid(ctx, KeyIdToken, KeyIdTokenExpiresAt)
}

// identityClaims returns the cached id_token claims, or nil when none are
// stored.
func (ts *tokenStore) identityClaims(ctx context.Context) (map[string]interface{}, error) {
	const op = "tokenStore.identityClaims"
	raw, err := ts.getString(ctx, KeyIdTokenClaims)
	if err != nil || raw == "" {
		return nil, err
	}
	claims := map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &claims); err != nil {
		return nil, fmt.Errorf("%s: unable to decode stored claims: %w", op, err)
	}
	return claims, nil
}

func (ts *tokenStore) grantedScopes(ctx context.Context) ([]string, error) {
	const op = "tokenStore.grantedScopes"
	raw, err := ts.getString(ctx, KeyGrantedScopes)
	if err != nil || raw == "" {
		return nil, err
	}
	var scopes []string
	if err := json.Unmarshal([]byte(raw), &scopes); err != nil {
		return nil, fmt.Errorf("%s: unable to decode stored scopes: %w", op, err)
	}
	return scopes, nil
}
