package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-jose/go-jose/v4"
	"k8s.io/utils/clock"
)

// DefaultExpirySkew is the tolerance applied to both the iat and exp bounds
// of an id_token.
const DefaultExpirySkew = 10 * time.Minute

// ParsedIdToken is the result of a successful id_token validation.
type ParsedIdToken struct {
	IdToken IdToken
	Header  map[string]interface{}
	Claims  map[string]interface{}

	// HeaderJSON and ClaimsJSON are the decoded segments as received.
	HeaderJSON string
	ClaimsJSON string

	// ExpiresAt is the exp claim in epoch milliseconds.
	ExpiresAt int64
}

// ValidationContext is handed to a Verifier for a single validation.
type ValidationContext struct {
	AccessToken string
	IdToken     string

	// JWKS holds the provider keys when they were already loaded.
	JWKS *jose.JSONWebKeySet

	Claims map[string]interface{}
	Header map[string]interface{}

	// LoadKeys fetches the provider keys. It may be nil.
	LoadKeys func(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// Verifier performs the cryptographic checks of an id_token.
type Verifier interface {
	// CheckAtHash reports whether the at_hash claim matches the access token.
	CheckAtHash(ctx context.Context, vctx *ValidationContext) (bool, error)

	// CheckSignature returns an error unless the id_token signature is valid.
	CheckSignature(ctx context.Context, vctx *ValidationContext) error
}

// Validator decodes an id_token, checks its time window and delegates
// signature and at_hash checks to its Verifier.
type Validator struct {
	skew        time.Duration
	clock       clock.PassiveClock
	verifier    Verifier
	atHashCheck bool
}

// validatorOptions is the set of available options for Validator functions
type validatorOptions struct {
	withClock       clock.PassiveClock
	withExpirySkew  time.Duration
	withVerifier    Verifier
	withAtHashCheck bool
}

// validatorDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func validatorDefaults() validatorOptions {
	return validatorOptions{
		withClock:      clock.RealClock{},
		withExpirySkew: DefaultExpirySkew,
		withVerifier:   &JWKSVerifier{},
	}
}

// getValidatorOpts gets the validator defaults and applies the opt overrides
// passed in
func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewValidator creates a Validator.
//
// Supported options: WithClock, WithExpirySkew, WithVerifier, WithAtHashCheck
func NewValidator(opt ...Option) (*Validator, error) {
	const op = "NewValidator"
	opts := getValidatorOpts(opt...)
	switch {
	case opts.withVerifier == nil:
		return nil, fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	case opts.withClock == nil:
		return nil, fmt.Errorf("%s: clock is nil: %w", op, ErrNilParameter)
	case opts.withExpirySkew < 0:
		return nil, fmt.Errorf("%s: expiry skew is negative: %w", op, ErrInvalidParameter)
	}
	return &Validator{
		skew:        opts.withExpirySkew,
		clock:       opts.withClock,
		verifier:    opts.withVerifier,
		atHashCheck: opts.withAtHashCheck,
	}, nil
}

// validateOptions is the set of available options for Validator.Validate
type validateOptions struct {
	withJWKS      *jose.JSONWebKeySet
	withKeyLoader func(ctx context.Context) (*jose.JSONWebKeySet, error)
}

// Validate decodes the id_token, rejects it when it is outside its time
// window, and runs the at_hash (when enabled) and signature checks.
//
// Supported options: WithJWKS, WithKeyLoader
func (v *Validator) Validate(ctx context.Context, rawIdToken, rawAccessToken string, opt ...Option) (*ParsedIdToken, error) {
	const op = "Validator.Validate"
	var opts validateOptions
	ApplyOpts(&opts, opt...)

	parts := strings.Split(rawIdToken, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%s: expected at least 2 segments and got %d: %w", op, len(parts), ErrMalformedToken)
	}
	headerJSON, header, err := decodeObject(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%s: header: %w", op, err)
	}
	claimsJSON, claims, err := decodeObject(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%s: claims: %w", op, err)
	}
	iat, ok := claims["iat"].(float64)
	if !ok {
		return nil, fmt.Errorf("%s: iat claim is not a number: %w", op, ErrMalformedToken)
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, fmt.Errorf("%s: exp claim is not a number: %w", op, ErrMalformedToken)
	}

	now := v.clock.Now().UnixMilli()
	skew := v.skew.Milliseconds()
	issuedAt, expiresAt := int64(iat*1000), int64(exp*1000)
	if issuedAt-skew >= now || expiresAt+skew <= now {
		return nil, fmt.Errorf("%s: now %d is outside [iat %d, exp %d] with skew %s: %w", op, now, issuedAt, expiresAt, v.skew, ErrTokenExpired)
	}

	vctx := &ValidationContext{
		AccessToken: rawAccessToken,
		IdToken:     rawIdToken,
		JWKS:        opts.withJWKS,
		Claims:      claims,
		Header:      header,
		LoadKeys:    opts.withKeyLoader,
	}
	if v.atHashCheck {
		ok, err := v.verifier.CheckAtHash(ctx, vctx)
		switch {
		case err != nil:
			return nil, fmt.Errorf("%s: %w: %w", op, ErrAtHashMismatch, err)
		case !ok:
			return nil, fmt.Errorf("%s: %w", op, ErrAtHashMismatch)
		}
	}
	if err := v.verifier.CheckSignature(ctx, vctx); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrSignatureInvalid, err)
	}

	return &ParsedIdToken{
		IdToken:    IdToken(rawIdToken),
		Header:     header,
		Claims:     claims,
		HeaderJSON: headerJSON,
		ClaimsJSON: claimsJSON,
		ExpiresAt:  expiresAt,
	}, nil
}

// DecodeSegment decodes a base64url token segment, with or without padding.
// The decoded bytes must be valid UTF-8.
func DecodeSegment(seg string) ([]byte, error) {
	const op = "DecodeSegment"
	if m := len(seg) % 4; m != 0 {
		seg += strings.Repeat("=", 4-m)
	}
	seg = strings.NewReplacer("-", "+", "_", "/").Replace(seg)
	raw, err := base64.StdEncoding.DecodeString(seg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformedToken, err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%s: segment is not valid utf-8: %w", op, ErrMalformedToken)
	}
	return raw, nil
}

func decodeObject(seg string) (string, map[string]interface{}, error) {
	raw, err := DecodeSegment(seg)
	if err != nil {
		return "", nil, err
	}
	obj := map[string]interface{}{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", nil, fmt.Errorf("not a json object: %w", ErrMalformedToken)
	}
	return string(raw), obj, nil
}
