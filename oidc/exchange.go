package oidc

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// oauth2Config maps cfg onto an oauth2.Config. Client credentials are sent as
// form parameters.
func oauth2Config(cfg *Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: string(cfg.ClientSecret),
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizeEndpoint,
			TokenURL:  cfg.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
		RedirectURL: cfg.RedirectURL,
		Scopes:      strings.Fields(cfg.Scope),
	}
}

// tokenResponse converts an oauth2.Token back into the token endpoint's
// response fields.
func tokenResponse(tk *oauth2.Token) *TokenResponse {
	tr := &TokenResponse{
		AccessToken:  tk.AccessToken,
		TokenType:    tk.TokenType,
		ExpiresIn:    tk.ExpiresIn,
		RefreshToken: tk.RefreshToken,
	}
	if v, ok := tk.Extra("id_token").(string); ok {
		tr.IdToken = v
	}
	if v, ok := tk.Extra("scope").(string); ok {
		tr.Scope = v
	}
	return tr
}

// ExchangeCode exchanges an authorization code at the token endpoint, stores
// the returned tokens and publishes token_received. When the session runs
// inside an authorization code popup, the response is also forwarded to the
// opening window with the MessagePoster. Failures publish token_error.
func (s *Session) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	const op = "Session.ExchangeCode"
	tr, err := s.exchangeCode(ctx, code, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.tokenReceived(ctx, nil)
	return tr, nil
}

func (s *Session) exchangeCode(ctx context.Context, code string, checkNonce bool) (*TokenResponse, error) {
	const op = "Session.exchangeCode"
	cfg := s.config()
	fail := func(err error) (*TokenResponse, error) {
		s.events.Publish(ErrorEvent{Type: EventTokenError, Reason: err})
		return nil, err
	}
	switch {
	case code == "":
		return fail(fmt.Errorf("%s: code is empty: %w", op, ErrInvalidParameter))
	case cfg.TokenEndpoint == "":
		return fail(errMissingEndpoint(op, "token endpoint"))
	}

	tk, err := oauth2Config(&cfg).Exchange(s.httpContext(ctx), code, oauth2.SetAuthURLParam("scope", cfg.Scope))
	if err != nil {
		return fail(fmt.Errorf("%s: %w: %w", op, ErrTokenExchangeFailed, err))
	}
	tr := tokenResponse(tk)

	if cfg.AuthorizationCodeViaPopup && s.poster != nil {
		if err := s.poster.PostMessage(ctx, cfg.Origin, tr); err != nil {
			s.logger.Warn("unable to forward token response to the opening window", "error", err)
		}
	}
	if err := s.receiveTokenResponse(ctx, tr, checkNonce); err != nil {
		return fail(fmt.Errorf("%s: %w", op, err))
	}
	return tr, nil
}

// PasswordGrant requests tokens with the resource owner's credentials, stores
// them and publishes token_received. Failures publish token_error.
func (s *Session) PasswordGrant(ctx context.Context, username, password string) (*TokenResponse, error) {
	const op = "Session.PasswordGrant"
	cfg := s.config()
	fail := func(err error) (*TokenResponse, error) {
		s.events.Publish(ErrorEvent{Type: EventTokenError, Reason: err})
		return nil, err
	}
	switch {
	case username == "":
		return fail(fmt.Errorf("%s: username is empty: %w", op, ErrInvalidParameter))
	case cfg.TokenEndpoint == "":
		return fail(errMissingEndpoint(op, "token endpoint"))
	}

	tk, err := oauth2Config(&cfg).PasswordCredentialsToken(s.httpContext(ctx), username, password)
	if err != nil {
		return fail(fmt.Errorf("%s: %w: %w", op, ErrTokenExchangeFailed, err))
	}
	tr := tokenResponse(tk)
	if err := s.receiveTokenResponse(ctx, tr, false); err != nil {
		return fail(fmt.Errorf("%s: %w", op, err))
	}
	s.tokenReceived(ctx, nil)
	return tr, nil
}

// Refresh redeems the stored refresh token, stores the new tokens and
// publishes token_received followed by token_refreshed. Failures publish
// token_refresh_error.
func (s *Session) Refresh(ctx context.Context) (*TokenResponse, error) {
	const op = "Session.Refresh"
	cfg := s.config()
	fail := func(err error) (*TokenResponse, error) {
		s.events.Publish(ErrorEvent{Type: EventTokenRefreshError, Reason: err})
		return nil, err
	}
	if cfg.TokenEndpoint == "" {
		return fail(fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, errMissingEndpoint(op, "token endpoint")))
	}
	rt, err := s.tokens.getString(ctx, KeyRefreshToken)
	switch {
	case err != nil:
		return fail(fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err))
	case rt == "":
		return fail(fmt.Errorf("%s: no refresh token stored: %w", op, ErrRefreshFailed))
	}

	tk, err := oauth2Config(&cfg).TokenSource(s.httpContext(ctx), &oauth2.Token{RefreshToken: rt}).Token()
	if err != nil {
		return fail(fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err))
	}
	tr := tokenResponse(tk)
	if err := s.receiveTokenResponse(ctx, tr, false); err != nil {
		return fail(fmt.Errorf("%s: %w: %w", op, ErrRefreshFailed, err))
	}
	s.tokenReceived(ctx, nil)
	s.events.Publish(SuccessEvent{Type: EventTokenRefreshed})
	return tr, nil
}
