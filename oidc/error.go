package oidc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrNilParameter          = errors.New("nil parameter")
	ErrInvalidCACert         = errors.New("invalid CA certificate")
	ErrMissingEndpoint       = errors.New("endpoint is not configured")
	ErrMalformedToken        = errors.New("malformed token")
	ErrTokenExpired          = errors.New("token has expired")
	ErrAtHashMismatch        = errors.New("wrong at_hash")
	ErrSignatureInvalid      = errors.New("invalid signature")
	ErrInvalidNonce          = errors.New("invalid nonce")
	ErrAuthorizationDenied   = errors.New("authorization denied")
	ErrTokenExchangeFailed   = errors.New("token exchange failed")
	ErrRefreshFailed         = errors.New("token refresh failed")
	ErrDiscoveryFailed       = errors.New("discovery document load failed")
	ErrJwksLoadFailed        = errors.New("jwks load failed")
	ErrUserProfileLoadFailed = errors.New("user profile load failed")
	ErrPopupTimeout          = errors.New("popup timed out")
)

// AuthorizationError is returned when the authorization server redirects back
// with an "error" parameter. Params holds every parameter of the redirect.
type AuthorizationError struct {
	Params map[string]string
}

// Error returns the OAuth error code and, when present, its description.
func (e *AuthorizationError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAuthorizationDenied.Error())
	if code := e.Params["error"]; code != "" {
		fmt.Fprintf(&b, ": %s", code)
	}
	if desc := e.Params["error_description"]; desc != "" {
		fmt.Fprintf(&b, " (%s)", desc)
	}
	return b.String()
}

// Unwrap allows errors.Is(err, ErrAuthorizationDenied).
func (e *AuthorizationError) Unwrap() error {
	return ErrAuthorizationDenied
}

// paramKeys is used for stable log output of redirect parameters.
func paramKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
