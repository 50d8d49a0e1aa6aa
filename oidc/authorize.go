package oidc

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Param is an extra authorization request parameter. A slice of Params keeps
// the caller's order in the resulting URL.
type Param struct {
	Key   string
	Value string
}

// authURLOptions is the set of available options for AuthorizationURL,
// InitAuthorizationCode and InitImplicitFlow
type authURLOptions struct {
	withStateSuffix string
}

func getAuthURLOpts(opt ...Option) authURLOptions {
	var opts authURLOptions
	ApplyOpts(&opts, opt...)
	return opts
}

// AuthorizationURL returns the provider's authorization URL for a new request.
// A fresh nonce is generated and stored before the URL is returned. The
// "state" parameter is the nonce, followed by the configured separator and
// the suffix given with WithStateSuffix. noPrompt adds prompt=none.
//
// Supported options: WithStateSuffix
func (s *Session) AuthorizationURL(ctx context.Context, extra []Param, noPrompt bool, opt ...Option) (string, error) {
	const op = "Session.AuthorizationURL"
	cfg := s.config()
	if cfg.AuthorizeEndpoint == "" {
		return "", errMissingEndpoint(op, "authorize endpoint")
	}
	opts := getAuthURLOpts(opt...)

	nonce, err := NewNonce()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.Set(ctx, KeyNonce, nonce); err != nil {
		return "", fmt.Errorf("%s: unable to store nonce: %w", op, err)
	}

	state := nonce
	if opts.withStateSuffix != "" {
		state = nonce + cfg.NonceStateSeparator + opts.withStateSuffix
	}
	return buildAuthorizationURL(&cfg, nonce, state, extra, noPrompt), nil
}

func buildAuthorizationURL(cfg *Config, nonce, state string, extra []Param, noPrompt bool) string {
	params := []Param{
		{"response_type", cfg.responseType()},
		{"scope", cfg.Scope},
		{"state", state},
		{"client_id", cfg.ClientID},
		{"redirect_uri", cfg.RedirectURL},
	}
	if cfg.IsOIDC {
		params = append(params, Param{"nonce", nonce})
	}
	if noPrompt {
		params = append(params, Param{"prompt", "none"})
	}
	params = append(params, extra...)

	sep := "?"
	if strings.Contains(cfg.AuthorizeEndpoint, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(cfg.AuthorizeEndpoint)
	for i, p := range params {
		if i == 0 {
			b.WriteString(sep)
		} else {
			b.WriteByte('&')
		}
		b.WriteString(encodeURIComponent(p.Key))
		b.WriteByte('=')
		b.WriteString(encodeURIComponent(p.Value))
	}
	return b.String()
}

var uriComponentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( )
func encodeURIComponent(s string) string {
	return uriComponentReplacer.Replace(url.QueryEscape(s))
}
