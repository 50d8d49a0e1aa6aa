package oidc

import "context"

// Store is the persistent key/value storage holding a session's tokens.
// Implementations are expected to be safe for concurrent use. Get reports a
// missing key with ok == false rather than an error.
//
// See the store package for memory, redis and OS keyring implementations.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Keys of the stored session state. Timestamps are epoch milliseconds.
const (
	KeyAccessToken         = "access_token"
	KeyRefreshToken        = "refresh_token"
	KeyIdToken             = "id_token"
	KeyNonce               = "nonce"
	KeyExpiresAt           = "expires_at"
	KeyAccessTokenStoredAt = "access_token_stored_at"
	KeyIdTokenClaims       = "id_token_claims_obj"
	KeyIdTokenExpiresAt    = "id_token_expires_at"
	KeyIdTokenStoredAt     = "id_token_stored_at"
	KeyGrantedScopes       = "granted_scopes"
	KeySessionState        = "session_state"
)

// SessionKeys lists every key removed on logout.
var SessionKeys = []string{
	KeyAccessToken,
	KeyIdToken,
	KeyRefreshToken,
	KeyNonce,
	KeyExpiresAt,
	KeyIdTokenClaims,
	KeyIdTokenExpiresAt,
	KeyIdTokenStoredAt,
	KeyAccessTokenStoredAt,
	KeyGrantedScopes,
	KeySessionState,
}
