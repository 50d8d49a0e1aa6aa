package oidc

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

const (
	DefaultScope               = "openid profile"
	DefaultNonceStateSeparator = ";"
	DefaultTimeoutFactor       = 0.75
	DefaultPopupWidth          = 500
	DefaultPopupHeight         = 470
)

// Config represents the configuration of a Session. A Config is treated as a
// value: a Session keeps its own copy and replacing it goes through
// Session.Configure.
type Config struct {
	// Issuer is the provider's issuer URL. It is used to locate the discovery
	// document when no explicit document URL is given.
	Issuer string

	// ClientID is the relying party id
	ClientID string

	// ClientSecret is the optional relying party secret sent with token
	// requests.
	ClientSecret ClientSecret

	// RedirectURL is where the provider redirects after authorization.
	RedirectURL string

	// PostLogoutRedirectURL is sent as post_logout_redirect_uri on logout.
	// RedirectURL is used when it is empty.
	PostLogoutRedirectURL string

	AuthorizeEndpoint string
	TokenEndpoint     string
	UserInfoEndpoint  string
	JWKSURL           string

	// LogoutEndpoint may contain the legacy {{id_token}} and {{client_id}}
	// placeholders, otherwise query parameters are appended.
	LogoutEndpoint string

	// GrantTypesSupported is filled from the discovery document.
	GrantTypesSupported []string

	// Scope is the space separated scope requested of the provider.
	Scope string

	// ResponseType overrides the derived response_type when set.
	ResponseType string

	// NonceStateSeparator separates the nonce from an application state
	// within the "state" parameter.
	NonceStateSeparator string

	RequestAccessToken        bool
	IsOIDC                    bool
	ClearFragmentAfterLogin   bool
	DisableAtHashCheck        bool
	AuthorizationCodeViaPopup bool

	// Origin is the only origin popup messages are accepted from.
	Origin string

	// TimeoutFactor is the fraction of a token's lifetime after which the
	// token_expires event fires.
	TimeoutFactor float64

	// FallbackAccessTokenExpiration is used for implicit flow access tokens
	// returned without expires_in. Zero means the expiry stays unknown.
	FallbackAccessTokenExpiration time.Duration

	// PopupTimeout bounds the wait for a popup message. Zero waits until the
	// caller's context is done.
	PopupTimeout time.Duration

	PopupWidth  int
	PopupHeight int

	// ProviderCA is an optional PEM encoded CA used when calling the provider.
	ProviderCA string
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		Scope:                   DefaultScope,
		NonceStateSeparator:     DefaultNonceStateSeparator,
		RequestAccessToken:      true,
		IsOIDC:                  true,
		ClearFragmentAfterLogin: true,
		TimeoutFactor:           DefaultTimeoutFactor,
		PopupWidth:              DefaultPopupWidth,
		PopupHeight:             DefaultPopupHeight,
	}
}

// PartialConfig carries a subset of Config fields. Nil fields are left
// untouched by Config.Merge.
type PartialConfig struct {
	Issuer                        *string        `yaml:"issuer"`
	ClientID                      *string        `yaml:"client_id"`
	ClientSecret                  *ClientSecret  `yaml:"client_secret"`
	RedirectURL                   *string        `yaml:"redirect_url"`
	PostLogoutRedirectURL         *string        `yaml:"post_logout_redirect_url"`
	AuthorizeEndpoint             *string        `yaml:"authorize_endpoint"`
	TokenEndpoint                 *string        `yaml:"token_endpoint"`
	UserInfoEndpoint              *string        `yaml:"userinfo_endpoint"`
	JWKSURL                       *string        `yaml:"jwks_url"`
	LogoutEndpoint                *string        `yaml:"logout_endpoint"`
	GrantTypesSupported           []string       `yaml:"grant_types_supported"`
	Scope                         *string        `yaml:"scope"`
	ResponseType                  *string        `yaml:"response_type"`
	NonceStateSeparator           *string        `yaml:"nonce_state_separator"`
	RequestAccessToken            *bool          `yaml:"request_access_token"`
	IsOIDC                        *bool          `yaml:"oidc"`
	ClearFragmentAfterLogin       *bool          `yaml:"clear_fragment_after_login"`
	DisableAtHashCheck            *bool          `yaml:"disable_at_hash_check"`
	AuthorizationCodeViaPopup     *bool          `yaml:"authorization_code_via_popup"`
	Origin                        *string        `yaml:"origin"`
	TimeoutFactor                 *float64       `yaml:"timeout_factor"`
	FallbackAccessTokenExpiration *time.Duration `yaml:"fallback_access_token_expiration"`
	PopupTimeout                  *time.Duration `yaml:"popup_timeout"`
	PopupWidth                    *int           `yaml:"popup_width"`
	PopupHeight                   *int           `yaml:"popup_height"`
	ProviderCA                    *string        `yaml:"provider_ca"`
}

// Merge returns a copy of c with every field present in p overwritten.
func (c Config) Merge(p PartialConfig) Config {
	setString(&c.Issuer, p.Issuer)
	setString(&c.ClientID, p.ClientID)
	if p.ClientSecret != nil {
		c.ClientSecret = *p.ClientSecret
	}
	setString(&c.RedirectURL, p.RedirectURL)
	setString(&c.PostLogoutRedirectURL, p.PostLogoutRedirectURL)
	setString(&c.AuthorizeEndpoint, p.AuthorizeEndpoint)
	setString(&c.TokenEndpoint, p.TokenEndpoint)
	setString(&c.UserInfoEndpoint, p.UserInfoEndpoint)
	setString(&c.JWKSURL, p.JWKSURL)
	setString(&c.LogoutEndpoint, p.LogoutEndpoint)
	if p.GrantTypesSupported != nil {
		c.GrantTypesSupported = append([]string(nil), p.GrantTypesSupported...)
	}
	setString(&c.Scope, p.Scope)
	setString(&c.ResponseType, p.ResponseType)
	setString(&c.NonceStateSeparator, p.NonceStateSeparator)
	setBool(&c.RequestAccessToken, p.RequestAccessToken)
	setBool(&c.IsOIDC, p.IsOIDC)
	setBool(&c.ClearFragmentAfterLogin, p.ClearFragmentAfterLogin)
	setBool(&c.DisableAtHashCheck, p.DisableAtHashCheck)
	setBool(&c.AuthorizationCodeViaPopup, p.AuthorizationCodeViaPopup)
	setString(&c.Origin, p.Origin)
	if p.TimeoutFactor != nil {
		c.TimeoutFactor = *p.TimeoutFactor
	}
	if p.FallbackAccessTokenExpiration != nil {
		c.FallbackAccessTokenExpiration = *p.FallbackAccessTokenExpiration
	}
	if p.PopupTimeout != nil {
		c.PopupTimeout = *p.PopupTimeout
	}
	if p.PopupWidth != nil {
		c.PopupWidth = *p.PopupWidth
	}
	if p.PopupHeight != nil {
		c.PopupHeight = *p.PopupHeight
	}
	setString(&c.ProviderCA, p.ProviderCA)
	return c
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// NewConfig merges p over DefaultConfig and validates the result.
func NewConfig(p PartialConfig) (*Config, error) {
	const op = "NewConfig"
	c := DefaultConfig().Merge(p)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}
	return &c, nil
}

// LoadConfigFile reads a YAML encoded PartialConfig from path and returns it
// merged over DefaultConfig. Unknown keys are rejected.
func LoadConfigFile(path string) (*Config, error) {
	const op = "LoadConfigFile"
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to read %q: %w", op, path, err)
	}
	var p PartialConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%s: unable to decode %q: %w", op, path, err)
	}
	return NewConfig(p)
}

// Validate the configuration. Every problem found is reported in the returned
// error. It doesn't verify that any endpoint is reachable.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	if c.ClientID == "" {
		result = multierror.Append(result, fmt.Errorf("client id is empty: %w", ErrInvalidParameter))
	}
	for _, u := range []struct{ name, value string }{
		{"issuer", c.Issuer},
		{"redirect URL", c.RedirectURL},
		{"authorize endpoint", c.AuthorizeEndpoint},
		{"token endpoint", c.TokenEndpoint},
		{"userinfo endpoint", c.UserInfoEndpoint},
		{"jwks URL", c.JWKSURL},
	} {
		if u.value == "" {
			continue
		}
		if err := validateURL(u.value); err != nil {
			result = multierror.Append(result, fmt.Errorf("%s %q is invalid: %w", u.name, u.value, err))
		}
	}
	if c.NonceStateSeparator == "" {
		result = multierror.Append(result, fmt.Errorf("nonce state separator is empty: %w", ErrInvalidParameter))
	}
	if c.TimeoutFactor <= 0 || c.TimeoutFactor > 1 {
		result = multierror.Append(result, fmt.Errorf("timeout factor %v is not within (0, 1]: %w", c.TimeoutFactor, ErrInvalidParameter))
	}
	if c.FallbackAccessTokenExpiration < 0 {
		result = multierror.Append(result, fmt.Errorf("fallback access token expiration is negative: %w", ErrInvalidParameter))
	}
	if c.PopupTimeout < 0 {
		result = multierror.Append(result, fmt.Errorf("popup timeout is negative: %w", ErrInvalidParameter))
	}
	if c.PopupWidth <= 0 || c.PopupHeight <= 0 {
		result = multierror.Append(result, fmt.Errorf("popup dimensions must be positive: %w", ErrInvalidParameter))
	}
	if c.AuthorizationCodeViaPopup && c.Origin == "" {
		result = multierror.Append(result, fmt.Errorf("origin is required for popup authorization: %w", ErrInvalidParameter))
	}
	if c.ProviderCA != "" {
		if ok := x509.NewCertPool().AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			result = multierror.Append(result, fmt.Errorf("could not parse CA PEM value: %w", ErrInvalidCACert))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func validateURL(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return err
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return fmt.Errorf("scheme is not http or https: %w", ErrInvalidParameter)
	}
	return nil
}

// responseType returns the configured response_type or derives it from the
// IsOIDC and RequestAccessToken flags.
func (c *Config) responseType() string {
	switch {
	case c.ResponseType != "":
		return c.ResponseType
	case c.IsOIDC && c.RequestAccessToken:
		return "id_token token"
	case c.IsOIDC:
		return "id_token"
	default:
		return "token"
	}
}

// atHashRequired reports whether id_tokens must be bound to the access token.
func (c *Config) atHashRequired() bool {
	return c.RequestAccessToken && !c.DisableAtHashCheck
}

// postLogoutRedirectURL falls back to the redirect URL.
func (c *Config) postLogoutRedirectURL() string {
	if c.PostLogoutRedirectURL != "" {
		return c.PostLogoutRedirectURL
	}
	return c.RedirectURL
}

// HttpClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// errMissingEndpoint wraps ErrMissingEndpoint with the endpoint's name.
func errMissingEndpoint(op, name string) error {
	return fmt.Errorf("%s: %s: %w", op, name, ErrMissingEndpoint)
}
