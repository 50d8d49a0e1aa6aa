package oidc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// IdToken is an oidc id_token
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims retrieves the IdToken claims without verifying its signature.
func (t IdToken) Claims(claims interface{}) error {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	if claims == nil {
		return fmt.Errorf("%s: claims interface is nil: %w", op, ErrNilParameter)
	}
	parts := strings.Split(string(t), ".")
	if len(parts) < 2 {
		return fmt.Errorf("%s: %w", op, ErrMalformedToken)
	}
	raw, err := DecodeSegment(parts[1])
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(raw, claims); err != nil {
		return fmt.Errorf("%s: unable to unmarshal claims: %w", op, ErrMalformedToken)
	}
	return nil
}

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// TokenResponse is the body of a successful token endpoint response. It is
// also the payload a popup forwards to the window that opened it, so its JSON
// form carries the real token values.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	IdToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	State        string `json:"state,omitempty"`
}

// String redacts the tokens so a TokenResponse can be logged.
func (r *TokenResponse) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("{access_token:%s id_token:%s refresh_token:%s token_type:%s expires_in:%d scope:%s}",
		AccessToken(r.AccessToken), IdToken(r.IdToken), RefreshToken(r.RefreshToken), r.TokenType, r.ExpiresIn, r.Scope)
}

// ReceivedTokens is handed to the WithOnTokenReceived callback once a
// redirect response has been validated and stored.
type ReceivedTokens struct {
	IdToken     IdToken
	AccessToken AccessToken
	IdClaims    map[string]interface{}
	State       string
}
