package oidc

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"
)

// Session drives the authorization flows of one client against one provider
// and owns the tokens kept in its Store.
//
// A Session is safe for concurrent use, with one exception: only one redirect
// response may be completed at a time, since CompleteRedirect consumes the
// nonce stored by the authorization request.
type Session struct {
	mu  sync.RWMutex
	cfg Config

	// state is the application state recovered from the last redirect.
	state string

	store     Store
	tokens    *tokenStore
	events    *Events
	scheduler *ExpirationScheduler
	validator *Validator
	logger    hclog.Logger
	clock     clock.WithDelayedExecution

	client       *http.Client
	customClient bool

	location Location
	opener   WindowOpener
	poster   MessagePoster
	screen   Screen
	verifier Verifier
	skew     time.Duration

	jwks      *jose.JSONWebKeySet
	jwksGroup singleflight.Group

	popup *popupListener
}

// sessionOptions is the set of available options for Session functions
type sessionOptions struct {
	withLogger     hclog.Logger
	withClock      clock.WithDelayedExecution
	withExpirySkew time.Duration
	withVerifier   Verifier
	withHTTPClient *http.Client
	withLocation   Location
	withOpener     WindowOpener
	withPoster     MessagePoster
	withScreen     Screen
}

// sessionDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func sessionDefaults() sessionOptions {
	return sessionOptions{
		withLogger:     hclog.NewNullLogger(),
		withClock:      clock.RealClock{},
		withExpirySkew: DefaultExpirySkew,
		withVerifier:   &JWKSVerifier{},
		withOpener:     BrowserOpener{},
	}
}

// getSessionOpts gets the session defaults and applies the opt overrides
// passed in
func getSessionOpts(opt ...Option) sessionOptions {
	opts := sessionDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// NewSession creates a Session for cfg, keeping its tokens in store. There is
// no fallback store: callers pick one, see the store package. When store
// already holds a valid access token the expiration timer is armed.
//
// Supported options: WithLogger, WithClock, WithExpirySkew, WithVerifier,
// WithHTTPClient, WithLocation, WithWindowOpener, WithMessagePoster,
// WithScreenSize
func NewSession(ctx context.Context, cfg Config, store Store, opt ...Option) (*Session, error) {
	const op = "NewSession"
	if store == nil {
		return nil, fmt.Errorf("%s: store is nil: %w", op, ErrNilParameter)
	}
	opts := getSessionOpts(opt...)
	switch {
	case opts.withLogger == nil:
		return nil, fmt.Errorf("%s: logger is nil: %w", op, ErrNilParameter)
	case opts.withClock == nil:
		return nil, fmt.Errorf("%s: clock is nil: %w", op, ErrNilParameter)
	case opts.withVerifier == nil:
		return nil, fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	s := &Session{
		store:        store,
		tokens:       &tokenStore{store: store, clock: opts.withClock},
		events:       NewEvents(opts.withLogger.Named("events")),
		logger:       opts.withLogger,
		clock:        opts.withClock,
		client:       opts.withHTTPClient,
		customClient: opts.withHTTPClient != nil,
		location:     opts.withLocation,
		opener:       opts.withOpener,
		poster:       opts.withPoster,
		screen:       opts.withScreen,
		verifier:     opts.withVerifier,
		skew:         opts.withExpirySkew,
	}
	if err := s.Configure(ctx, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// Configure validates cfg and replaces the whole configuration of the
// session. Stored tokens are kept and the expiration timer is re-evaluated
// against them.
func (s *Session) Configure(ctx context.Context, cfg Config) error {
	const op = "Session.Configure"
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	validatorOpts := []Option{WithClock(s.clock), WithExpirySkew(s.skew), WithVerifier(s.verifier)}
	if cfg.atHashRequired() {
		validatorOpts = append(validatorOpts, WithAtHashCheck())
	}
	v, err := NewValidator(validatorOpts...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sched, err := NewExpirationScheduler(s.events, cfg.TimeoutFactor, WithClock(s.clock), WithLogger(s.logger.Named("scheduler")))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	client := s.client
	if !s.customClient {
		if client, err = cfg.HttpClient(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	s.mu.Lock()
	cfg.GrantTypesSupported = append([]string(nil), cfg.GrantTypesSupported...)
	s.cfg = cfg
	s.validator = v
	old := s.scheduler
	s.scheduler = sched
	s.client = client
	s.jwks = nil
	s.mu.Unlock()
	if old != nil {
		old.Cancel()
	}

	valid, err := s.tokens.hasValidAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if valid {
		if err := s.rearm(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// Config returns a copy of the current configuration.
func (s *Session) Config() Config {
	return s.config()
}

func (s *Session) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg := s.cfg
	cfg.GrantTypesSupported = append([]string(nil), s.cfg.GrantTypesSupported...)
	return cfg
}

// Events returns the session's event channel.
func (s *Session) Events() *Events {
	return s.events
}

// Scheduler returns the session's expiration scheduler.
func (s *Session) Scheduler() *ExpirationScheduler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scheduler
}

// State returns the application state carried by the last completed
// redirect, see WithStateSuffix.
func (s *Session) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) httpContext(ctx context.Context) context.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return HttpClientContext(ctx, s.client)
}

// redirectOptions is the set of available options for CompleteRedirect
type redirectOptions struct {
	withCustomFragment    string
	withRedirectURL       string
	withDisableStateCheck bool
	withPreserveFragment  bool
	withOnTokenReceived   func(ReceivedTokens)
}

func getRedirectOpts(opt ...Option) redirectOptions {
	var opts redirectOptions
	ApplyOpts(&opts, opt...)
	return opts
}

// CompleteRedirect handles the provider's redirect response found in the
// location's fragment, or its query. It returns true once tokens were
// received, and false without an error when the location carries no
// response.
//
// An "error" parameter fails with an *AuthorizationError. A "code" with a
// "state" is exchanged at the token endpoint. Otherwise the access token is
// stored and the id_token validated and stored.
//
// Supported options: WithCustomFragment, WithRedirectURL,
// WithDisableStateCheck, WithPreserveFragment, WithOnTokenReceived
func (s *Session) CompleteRedirect(ctx context.Context, opt ...Option) (bool, error) {
	const op = "Session.CompleteRedirect"
	opts := getRedirectOpts(opt...)
	cfg := s.config()

	href := opts.withRedirectURL
	if href == "" && s.location != nil {
		href = s.location.Href()
	}
	params, _ := ParseRedirectParams(href, opts.withCustomFragment)
	s.logger.Debug("completing redirect", "params", paramKeys(params))

	state := params["state"]
	nonceInState := state
	if state != "" {
		if idx := strings.Index(state, cfg.NonceStateSeparator); idx > -1 {
			nonceInState = state[:idx]
			s.setState(state[idx+len(cfg.NonceStateSeparator):])
		}
	}

	if params["error"] != "" {
		authErr := &AuthorizationError{Params: params}
		s.events.Publish(ErrorEvent{Type: EventTokenError, Reason: authErr, Params: params})
		return false, fmt.Errorf("%s: %w", op, authErr)
	}

	checkNonce := !opts.withDisableStateCheck
	if code := params["code"]; code != "" && state != "" {
		if checkNonce {
			if err := s.checkStateNonce(ctx, nonceInState); err != nil {
				return false, fmt.Errorf("%s: %w", op, err)
			}
		}
		tr, err := s.exchangeCode(ctx, code, checkNonce)
		if err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
		s.finishRedirect(ctx, &cfg, opts, tr.IdToken, tr.AccessToken)
		return true, nil
	}

	accessToken, idToken := params["access_token"], params["id_token"]
	if cfg.RequestAccessToken && accessToken == "" {
		return false, nil
	}
	if !cfg.RequestAccessToken && idToken == "" {
		return false, nil
	}
	if checkNonce {
		if err := s.checkStateNonce(ctx, nonceInState); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}

	if cfg.RequestAccessToken {
		expiresIn := int64(cfg.FallbackAccessTokenExpiration / time.Second)
		if v, err := strconv.ParseInt(params["expires_in"], 10, 64); err == nil && v > 0 {
			expiresIn = v
		}
		if err := s.tokens.storeAccessTokenResponse(ctx, accessToken, "", expiresIn, params["scope"]); err != nil {
			s.events.Publish(ErrorEvent{Type: EventTokenError, Reason: err})
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if sessionState := params["session_state"]; sessionState != "" {
		if err := s.store.Set(ctx, KeySessionState, sessionState); err != nil {
			s.events.Publish(ErrorEvent{Type: EventTokenError, Reason: err})
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}
	if idToken != "" {
		if _, err := s.receiveIdToken(ctx, idToken, accessToken, checkNonce); err != nil {
			return false, fmt.Errorf("%s: %w", op, err)
		}
	}
	s.finishRedirect(ctx, &cfg, opts, idToken, accessToken)
	return true, nil
}

// finishRedirect clears the location, notifies the callback and publishes
// token_received.
func (s *Session) finishRedirect(ctx context.Context, cfg *Config, opts redirectOptions, idToken, accessToken string) {
	if cfg.ClearFragmentAfterLogin && !opts.withPreserveFragment && s.location != nil {
		if err := s.location.ClearRedirectParams(); err != nil {
			s.logger.Warn("unable to clear redirect parameters", "error", err)
		}
	}
	if opts.withOnTokenReceived != nil {
		claims, err := s.tokens.identityClaims(ctx)
		if err != nil {
			s.logger.Warn("unable to read identity claims", "error", err)
		}
		opts.withOnTokenReceived(ReceivedTokens{
			IdToken:     IdToken(idToken),
			AccessToken: AccessToken(accessToken),
			IdClaims:    claims,
			State:       s.State(),
		})
	}
	s.tokenReceived(ctx, nil)
}

// checkStateNonce compares the nonce prefix of "state" with the stored nonce.
func (s *Session) checkStateNonce(ctx context.Context, nonceInState string) error {
	const op = "Session.checkStateNonce"
	stored, err := s.tokens.getString(ctx, KeyNonce)
	if err != nil {
		s.events.Publish(ErrorEvent{Type: EventInvalidNonceInState, Reason: err})
		return fmt.Errorf("%s: %w", op, err)
	}
	if stored == "" || nonceInState != stored {
		err := fmt.Errorf("%s: state does not carry the stored nonce: %w", op, ErrInvalidNonce)
		s.events.Publish(ErrorEvent{Type: EventInvalidNonceInState, Reason: err})
		return err
	}
	return nil
}

// receiveIdToken validates rawIdToken and stores it. Failures publish
// token_validation_error, preceded by invalid_nonce_in_state when the nonce
// claim does not match.
func (s *Session) receiveIdToken(ctx context.Context, rawIdToken, accessToken string, checkNonce bool) (*ParsedIdToken, error) {
	const op = "Session.receiveIdToken"
	s.mu.RLock()
	v, keys, isOIDC := s.validator, s.jwks, s.cfg.IsOIDC
	s.mu.RUnlock()

	parsed, err := v.Validate(ctx, rawIdToken, accessToken, WithJWKS(keys), WithKeyLoader(s.LoadJwks))
	if err != nil {
		s.events.Publish(ErrorEvent{Type: EventTokenValidationError, Reason: err})
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if checkNonce && isOIDC {
		stored, err := s.tokens.getString(ctx, KeyNonce)
		if err != nil {
			s.events.Publish(ErrorEvent{Type: EventTokenValidationError, Reason: err})
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if claim, _ := parsed.Claims["nonce"].(string); stored == "" || claim != stored {
			err := fmt.Errorf("%s: id_token nonce does not match the stored nonce: %w", op, ErrInvalidNonce)
			s.events.Publish(ErrorEvent{Type: EventInvalidNonceInState, Reason: err})
			s.events.Publish(ErrorEvent{Type: EventTokenValidationError, Reason: err})
			return nil, err
		}
	}
	if err := s.tokens.storeIdToken(ctx, parsed); err != nil {
		s.events.Publish(ErrorEvent{Type: EventTokenValidationError, Reason: err})
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return parsed, nil
}

// receiveTokenResponse stores the tokens of a token endpoint response,
// validating its id_token when there is one.
func (s *Session) receiveTokenResponse(ctx context.Context, tr *TokenResponse, checkNonce bool) error {
	const op = "Session.receiveTokenResponse"
	if tr == nil {
		return fmt.Errorf("%s: token response is nil: %w", op, ErrNilParameter)
	}
	if err := s.tokens.storeAccessTokenResponse(ctx, tr.AccessToken, tr.RefreshToken, tr.ExpiresIn, tr.Scope); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tr.IdToken != "" {
		if _, err := s.receiveIdToken(ctx, tr.IdToken, tr.AccessToken, checkNonce); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

// tokenReceived re-arms the expiration timer, then publishes token_received.
func (s *Session) tokenReceived(ctx context.Context, info interface{}) {
	if err := s.rearm(ctx); err != nil {
		s.logger.Warn("unable to arm expiration timer", "error", err)
	}
	s.events.Publish(SuccessEvent{Type: EventTokenReceived, Info: info})
}

// rearm arms the scheduler on the access token when it expires first, else on
// the id_token. A token without a known expiry is not armed.
func (s *Session) rearm(ctx context.Context) error {
	const op = "Session.rearm"
	sched := s.Scheduler()
	accessExp, accessKnown, err := s.tokens.getMillis(ctx, KeyExpiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	idExp, idKnown, err := s.tokens.getMillis(ctx, KeyIdTokenExpiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !accessKnown {
		accessExp = math.MaxInt64
	}
	if !idKnown {
		idExp = math.MaxInt64
	}

	if accessExp <= idExp {
		valid, err := s.tokens.hasValidAccessToken(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		storedAt, ok, err := s.tokens.getMillis(ctx, KeyAccessTokenStoredAt)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if valid && accessKnown && ok {
			sched.Arm(AccessTokenKind, storedAt, accessExp)
			return nil
		}
	} else {
		valid, err := s.tokens.hasValidIdToken(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		storedAt, ok, err := s.tokens.getMillis(ctx, KeyIdTokenStoredAt)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if valid && ok {
			sched.Arm(IdTokenKind, storedAt, idExp)
			return nil
		}
	}
	sched.Cancel()
	return nil
}

// InitAuthorizationCode starts the authorization code flow: the browser is
// sent to the authorization URL, or, with AuthorizationCodeViaPopup, a popup
// is opened and the call waits for the token response it posts back.
//
// Supported options: WithStateSuffix
func (s *Session) InitAuthorizationCode(ctx context.Context, extra []Param, opt ...Option) error {
	const op = "Session.InitAuthorizationCode"
	u, err := s.AuthorizationURL(ctx, extra, false, opt...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s.config().AuthorizationCodeViaPopup {
		if s.opener == nil {
			return fmt.Errorf("%s: window opener is nil: %w", op, ErrNilParameter)
		}
		if _, err := s.runPopup(ctx, u); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	return s.navigate(ctx, op, u)
}

// InitImplicitFlow sends the browser to the authorization URL of the implicit
// flow.
//
// Supported options: WithStateSuffix
func (s *Session) InitImplicitFlow(ctx context.Context, extra []Param, opt ...Option) error {
	const op = "Session.InitImplicitFlow"
	u, err := s.AuthorizationURL(ctx, extra, false, opt...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.navigate(ctx, op, u)
}

func (s *Session) navigate(ctx context.Context, op, u string) error {
	if s.location == nil {
		return fmt.Errorf("%s: location is nil: %w", op, ErrNilParameter)
	}
	if err := s.location.Assign(ctx, u); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AccessToken returns the stored access token, or "" when there is none.
func (s *Session) AccessToken(ctx context.Context) (AccessToken, error) {
	v, err := s.tokens.getString(ctx, KeyAccessToken)
	return AccessToken(v), err
}

// IdToken returns the stored id_token, or "" when there is none.
func (s *Session) IdToken(ctx context.Context) (IdToken, error) {
	v, err := s.tokens.getString(ctx, KeyIdToken)
	return IdToken(v), err
}

// RefreshToken returns the stored refresh token, or "" when there is none.
func (s *Session) RefreshToken(ctx context.Context) (RefreshToken, error) {
	v, err := s.tokens.getString(ctx, KeyRefreshToken)
	return RefreshToken(v), err
}

// IdentityClaims returns the claims of the stored id_token, merged with the
// user profile once it was loaded. It is nil without an id_token.
func (s *Session) IdentityClaims(ctx context.Context) (map[string]interface{}, error) {
	return s.tokens.identityClaims(ctx)
}

// GrantedScopes returns the scopes granted with the access token.
func (s *Session) GrantedScopes(ctx context.Context) ([]string, error) {
	return s.tokens.grantedScopes(ctx)
}

// AccessTokenExpiration returns the access token expiry, or the zero time
// when it is unknown.
func (s *Session) AccessTokenExpiration(ctx context.Context) (time.Time, error) {
	return s.expiration(ctx, KeyExpiresAt)
}

// IdTokenExpiration returns the id_token expiry, or the zero time when there
// is no id_token.
func (s *Session) IdTokenExpiration(ctx context.Context) (time.Time, error) {
	return s.expiration(ctx, KeyIdTokenExpiresAt)
}

func (s *Session) expiration(ctx context.Context, key string) (time.Time, error) {
	ms, ok, err := s.tokens.getMillis(ctx, key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// HasValidAccessToken reports whether an access token is stored and, when its
// expiry is known, not yet expired.
func (s *Session) HasValidAccessToken(ctx context.Context) (bool, error) {
	return s.tokens.hasValidAccessToken(ctx)
}

// HasValidIdToken reports whether an unexpired id_token is stored.
func (s *Session) HasValidIdToken(ctx context.Context) (bool, error) {
	return s.tokens.hasValidIdToken(ctx)
}

// AuthorizationHeader returns "Bearer <access token>" for outgoing requests.
func (s *Session) AuthorizationHeader(ctx context.Context) (string, error) {
	const op = "Session.AuthorizationHeader"
	tk, err := s.tokens.getString(ctx, KeyAccessToken)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return "Bearer " + tk, nil
}
