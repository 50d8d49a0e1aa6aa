package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// WellKnownPath is appended to the issuer to locate the discovery document.
const WellKnownPath = "/.well-known/openid-configuration"

const maxResponseSize = 1024 * 1024

// DiscoveryDocument holds the discovery document fields used by a Session.
type DiscoveryDocument struct {
	Issuer                string   `json:"issuer"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	UserInfoEndpoint      string   `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string   `json:"end_session_endpoint,omitempty"`
	JWKSURI               string   `json:"jwks_uri"`
	GrantTypesSupported   []string `json:"grant_types_supported,omitempty"`
}

// DocumentLoaded is the Info of a document_loaded event.
type DocumentLoaded struct {
	Document *DiscoveryDocument
	JWKS     *jose.JSONWebKeySet
}

// LoadDiscoveryDocument fetches the provider's discovery document from
// fullURL, or from the issuer's well-known location when fullURL is empty,
// loads the JWKS and then applies the endpoints the document names to the
// session configuration. Endpoints it omits keep their configured values and
// nothing is applied when loading fails.
// It publishes document_loaded, or document_load_error (and
// document_validation_error when the document names another issuer).
func (s *Session) LoadDiscoveryDocument(ctx context.Context, fullURL string) (*DiscoveryDocument, error) {
	const op = "Session.LoadDiscoveryDocument"
	cfg := s.config()
	fail := func(typ EventType, err error) (*DiscoveryDocument, error) {
		s.events.Publish(ErrorEvent{Type: typ, Reason: err})
		return nil, err
	}
	if fullURL == "" {
		if cfg.Issuer == "" {
			return fail(EventDocumentLoadError, fmt.Errorf("%s: issuer and document url are empty: %w: %w", op, ErrDiscoveryFailed, ErrInvalidParameter))
		}
		fullURL = strings.TrimSuffix(cfg.Issuer, "/") + WellKnownPath
	}

	var doc DiscoveryDocument
	if err := s.getJSON(ctx, fullURL, "", &doc); err != nil {
		return fail(EventDocumentLoadError, fmt.Errorf("%s: %w: %w", op, ErrDiscoveryFailed, err))
	}
	switch {
	case cfg.Issuer != "" && doc.Issuer != cfg.Issuer:
		err := fmt.Errorf("%s: document issuer %q does not match %q: %w", op, doc.Issuer, cfg.Issuer, ErrDiscoveryFailed)
		s.events.Publish(ErrorEvent{Type: EventDocumentValidationError, Reason: err})
		return fail(EventDocumentLoadError, err)
	case doc.Issuer == "":
		err := fmt.Errorf("%s: document has no issuer: %w", op, ErrDiscoveryFailed)
		s.events.Publish(ErrorEvent{Type: EventDocumentValidationError, Reason: err})
		return fail(EventDocumentLoadError, err)
	}

	jwksURL := doc.JWKSURI
	if jwksURL == "" {
		jwksURL = cfg.JWKSURL
	}
	keys, err := s.loadJwks(ctx, op, jwksURL)
	if err != nil {
		return fail(EventDocumentLoadError, err)
	}

	s.mu.Lock()
	s.cfg.Issuer = doc.Issuer
	setIfNotEmpty(&s.cfg.AuthorizeEndpoint, doc.AuthorizationEndpoint)
	setIfNotEmpty(&s.cfg.TokenEndpoint, doc.TokenEndpoint)
	setIfNotEmpty(&s.cfg.UserInfoEndpoint, doc.UserInfoEndpoint)
	setIfNotEmpty(&s.cfg.LogoutEndpoint, doc.EndSessionEndpoint)
	s.cfg.JWKSURL = jwksURL
	if len(doc.GrantTypesSupported) > 0 {
		s.cfg.GrantTypesSupported = append([]string(nil), doc.GrantTypesSupported...)
	}
	s.mu.Unlock()
	s.logger.Debug("loaded discovery document", "issuer", doc.Issuer)

	s.events.Publish(SuccessEvent{Type: EventDocumentLoaded, Info: DocumentLoaded{Document: &doc, JWKS: keys}})
	return &doc, nil
}

// LoadDocumentAndCompleteRedirect loads the discovery document from the
// issuer's well-known location, then completes the redirect.
//
// Supported options: the options of CompleteRedirect
func (s *Session) LoadDocumentAndCompleteRedirect(ctx context.Context, opt ...Option) (bool, error) {
	const op = "Session.LoadDocumentAndCompleteRedirect"
	if _, err := s.LoadDiscoveryDocument(ctx, ""); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	ok, err := s.CompleteRedirect(ctx, opt...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// LoadJwks fetches the provider keys from the configured JWKS URL and caches
// them for later validations. Concurrent calls share one request. Failures
// publish jwks_load_error.
func (s *Session) LoadJwks(ctx context.Context) (*jose.JSONWebKeySet, error) {
	const op = "Session.LoadJwks"
	return s.loadJwks(ctx, op, s.config().JWKSURL)
}

// loadJwks shares one request between the concurrent callers for jwksURL.
// The request outlives a caller whose ctx is done; that caller alone returns
// ctx.Err().
func (s *Session) loadJwks(ctx context.Context, op, jwksURL string) (*jose.JSONWebKeySet, error) {
	if jwksURL == "" {
		err := fmt.Errorf("%s: %w: %w", op, ErrJwksLoadFailed, errMissingEndpoint(op, "jwks url"))
		s.events.Publish(ErrorEvent{Type: EventJwksLoadError, Reason: err})
		return nil, err
	}
	shared := context.WithoutCancel(ctx)
	ch := s.jwksGroup.DoChan(jwksURL, func() (interface{}, error) {
		var keys jose.JSONWebKeySet
		if err := s.getJSON(shared, jwksURL, "", &keys); err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.jwks = &keys
		s.mu.Unlock()
		return &keys, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		res.Err = ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		err := fmt.Errorf("%s: %w: %w", op, ErrJwksLoadFailed, res.Err)
		s.events.Publish(ErrorEvent{Type: EventJwksLoadError, Reason: err})
		return nil, err
	}
	return res.Val.(*jose.JSONWebKeySet), nil
}

// setIfNotEmpty sets *dst to v unless v is empty.
func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadUserProfile fetches the userinfo endpoint with the stored access token
// and merges the result into the stored identity claims, the profile winning
// on conflicts. It publishes user_profile_loaded or user_profile_load_error.
func (s *Session) LoadUserProfile(ctx context.Context) (map[string]interface{}, error) {
	const op = "Session.LoadUserProfile"
	fail := func(err error) (map[string]interface{}, error) {
		err = fmt.Errorf("%s: %w: %w", op, ErrUserProfileLoadFailed, err)
		s.events.Publish(ErrorEvent{Type: EventUserProfileLoadError, Reason: err})
		return nil, err
	}
	cfg := s.config()
	if cfg.UserInfoEndpoint == "" {
		return fail(errMissingEndpoint(op, "userinfo endpoint"))
	}
	valid, err := s.tokens.hasValidAccessToken(ctx)
	switch {
	case err != nil:
		return fail(err)
	case !valid:
		return fail(fmt.Errorf("no valid access token: %w", ErrInvalidParameter))
	}
	at, err := s.tokens.getString(ctx, KeyAccessToken)
	if err != nil {
		return fail(err)
	}

	profile := map[string]interface{}{}
	if err := s.getJSON(ctx, cfg.UserInfoEndpoint, at, &profile); err != nil {
		return fail(err)
	}
	claims, err := s.tokens.identityClaims(ctx)
	if err != nil {
		return fail(err)
	}
	if claims == nil {
		claims = map[string]interface{}{}
	}
	for k, v := range profile {
		claims[k] = v
	}
	raw, err := json.Marshal(claims)
	if err != nil {
		return fail(err)
	}
	if err := s.store.Set(ctx, KeyIdTokenClaims, string(raw)); err != nil {
		return fail(err)
	}
	s.events.Publish(SuccessEvent{Type: EventUserProfileLoaded, Info: claims})
	return claims, nil
}

// getJSON GETs u and decodes its JSON body into v. A non-empty bearer token
// is sent through an oauth2 client.
func (s *Session) getJSON(ctx context.Context, u, bearer string, v interface{}) error {
	ctx = s.httpContext(ctx)
	client := oauth2.NewClient(ctx, nil)
	if bearer != "" {
		client = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: bearer, TokenType: "Bearer"}))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && !strings.HasSuffix(mt, "json") {
		return fmt.Errorf("unexpected content type %q", mt)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(v); err != nil {
		return fmt.Errorf("unable to decode response: %w", err)
	}
	return nil
}
