package oidc

import (
	"bytes"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/go-uuid"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local TLS identity provider for tests. It serves the
// discovery document, the JWKS, the authorization endpoint (code and implicit
// responses), the token endpoint (authorization_code, password and
// refresh_token grants), userinfo and an end session endpoint.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	allowedRedirectURIs []string
	replySubject        string
	replyUserinfo       map[string]interface{}
	clientID            string
	clientSecret        string
	expectedAuthCode    string
	authNonce           string
	users               map[string]string
	refreshToken        string
	accessTokens        map[string]bool
	lifetime            time.Duration
	customClaims        map[string]interface{}
	omitIDToken         bool
	omitAtHash          bool
	disableUserInfo     bool
	tokenFailure        int
	tokenRequests       []url.Values

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider. It is stopped when the
// test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		allowedRedirectURIs: []string{"https://example.com/callback"},
		replySubject:        "r3qXcK2bix9eFECzsU3Sbmh0K16fatW6@clients",
		replyUserinfo: map[string]interface{}{
			"color":       "red",
			"temperature": "76",
			"flavor":      "umami",
		},
		clientID:     "test-client",
		users:        map[string]string{},
		accessTokens: map[string]bool{},
		lifetime:     time.Hour,
		t:            t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = TestJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the provider, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate of the provider's server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// JWKS returns the provider's key set.
func (p *TestProvider) JWKS() *jose.JSONWebKeySet { return p.jwks }

// Config returns a session Config with every endpoint of the provider set.
func (p *TestProvider) Config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := DefaultConfig()
	cfg.Issuer = p.Addr()
	cfg.ClientID = p.clientID
	cfg.ClientSecret = ClientSecret(p.clientSecret)
	cfg.RedirectURL = p.allowedRedirectURIs[0]
	cfg.AuthorizeEndpoint = p.Addr() + "/auth"
	cfg.TokenEndpoint = p.Addr() + "/token"
	cfg.UserInfoEndpoint = p.Addr() + "/userinfo"
	cfg.JWKSURL = p.Addr() + "/certs"
	cfg.LogoutEndpoint = p.Addr() + "/logout"
	cfg.ProviderCA = p.caCert
	return cfg
}

// SetClientCreds configures the client id and secret the token endpoint
// requires.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the code returned from /auth and accepted by
// /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAuthNonce sets the nonce embedded in id_tokens issued for a code. It is
// otherwise taken from the last /auth request.
func (p *TestProvider) SetAuthNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authNonce = nonce
}

// SetAllowedRedirectURIs configures the allowed redirect URIs. The first one
// is used by Config.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// AddUser registers resource owner credentials for the password grant.
func (p *TestProvider) AddUser(username, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[username] = password
}

// SetTokenLifetime sets expires_in and the id_token lifetime.
func (p *TestProvider) SetTokenLifetime(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lifetime = d
}

// SetCustomClaims sets extra id_token claims.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// OmitIDTokens makes the token endpoint reply without an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitAtHash issues id_tokens without an at_hash claim.
func (p *TestProvider) OmitAtHash() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAtHash = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from the
// discovery document.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// SetTokenFailure makes the token endpoint reply with statusCode. Zero
// restores normal replies.
func (p *TestProvider) SetTokenFailure(statusCode int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenFailure = statusCode
}

// TokenRequests returns the forms received by the token endpoint.
func (p *TestProvider) TokenRequests() []url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]url.Values(nil), p.tokenRequests...)
}

// IssueTokens issues a token response the way the token endpoint does, with
// nonce embedded in the id_token. It is handy for building implicit flow
// redirects.
func (p *TestProvider) IssueTokens(nonce string) *TokenResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.issueTokens(nonce, "")
}

// issueTokens must be called with p.mu held.
func (p *TestProvider) issueTokens(nonce, scope string) *TokenResponse {
	accessToken, err := uuid.GenerateUUID()
	require.NoError(p.t, err)
	refreshToken, err := uuid.GenerateUUID()
	require.NoError(p.t, err)
	p.accessTokens[accessToken] = true
	p.refreshToken = refreshToken

	tr := &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.lifetime / time.Second),
		RefreshToken: refreshToken,
		Scope:        scope,
	}
	if p.omitIDToken {
		return tr
	}

	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.lifetime)),
		Audience:  jwt.Audience{p.clientID},
	}
	privateClaims := map[string]interface{}{}
	if nonce != "" {
		privateClaims["nonce"] = nonce
	}
	if !p.omitAtHash {
		privateClaims["at_hash"] = TestAccessTokenHash(accessToken)
	}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	tr.IdToken = TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)
	return tr
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	return json.NewEncoder(w).Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}
	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	_ = p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := DiscoveryDocument{
			Issuer:                p.Addr(),
			AuthorizationEndpoint: p.Addr() + "/auth",
			TokenEndpoint:         p.Addr() + "/token",
			JWKSURI:               p.Addr() + "/certs",
			UserInfoEndpoint:      p.Addr() + "/userinfo",
			EndSessionEndpoint:    p.Addr() + "/logout",
			GrantTypesSupported:   []string{"authorization_code", "implicit", "password", "refresh_token"},
		}
		if p.disableUserInfo {
			reply.UserInfoEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/auth":
		p.serveAuth(w, req)

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/certs_missing":
		w.WriteHeader(http.StatusNotFound)

	case "/certs_invalid":
		_, _ = w.Write([]byte("It's not a keyset!"))

	case "/token":
		p.serveToken(w, req)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || !p.accessTokens[token] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{"sub": p.replySubject}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	case "/logout":
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveAuth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri")
	state := qv.Get("state")
	switch {
	case redirectURI == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
		return
	case !slices.Contains(p.allowedRedirectURIs, redirectURI):
		p.writeAuthErrorResponse(w, req, "invalid_request", "redirect_uri is not allowed")
		return
	case state == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "")
		return
	}
	p.authNonce = qv.Get("nonce")

	switch responseType := qv.Get("response_type"); responseType {
	case "code":
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}
		http.Redirect(w, req, redirectURI+"?state="+url.QueryEscape(state)+"&code="+url.QueryEscape(p.expectedAuthCode), http.StatusFound)
	case "token", "id_token", "id_token token":
		tr := p.issueTokens(p.authNonce, qv.Get("scope"))
		fragment := url.Values{}
		fragment.Set("state", state)
		if responseType != "id_token" {
			fragment.Set("access_token", tr.AccessToken)
			fragment.Set("token_type", tr.TokenType)
			fragment.Set("expires_in", strconv.FormatInt(tr.ExpiresIn, 10))
			if tr.Scope != "" {
				fragment.Set("scope", tr.Scope)
			}
		}
		if responseType != "token" && tr.IdToken != "" {
			fragment.Set("id_token", tr.IdToken)
		}
		http.Redirect(w, req, redirectURI+"#"+fragment.Encode(), http.StatusFound)
	default:
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
	}
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	p.tokenRequests = append(p.tokenRequests, req.PostForm)

	if p.tokenFailure != 0 {
		p.writeTokenErrorResponse(w, p.tokenFailure, "server_error", "configured failure")
		return
	}
	if req.FormValue("client_id") != p.clientID || req.FormValue("client_secret") != p.clientSecret {
		p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "")
		return
	}

	nonce := ""
	switch req.FormValue("grant_type") {
	case "authorization_code":
		switch {
		case !slices.Contains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
			return
		case p.expectedAuthCode == "" || req.FormValue("code") != p.expectedAuthCode:
			p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
			return
		}
		nonce = p.authNonce
	case "password":
		password, ok := p.users[req.FormValue("username")]
		if !ok || password != req.FormValue("password") {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "invalid resource owner credentials")
			return
		}
	case "refresh_token":
		if p.refreshToken == "" || req.FormValue("refresh_token") != p.refreshToken {
			p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown refresh token")
			return
		}
	default:
		p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}
	_ = p.writeJSON(w, p.issueTokens(nonce, req.FormValue("scope")))
}
