package oidc

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/mauth/oidcsession/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_buildAuthorizationURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		modify   func(*Config)
		state    string
		extra    []Param
		noPrompt bool
		want     string
	}{
		{
			name: "oidc-implicit",
			want: "https://example.com/auth?response_type=id_token%20token&scope=openid%20profile&state=n0nce" +
				"&client_id=test-client&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback&nonce=n0nce",
		},
		{
			name:   "oauth-only-without-nonce",
			modify: func(c *Config) { c.IsOIDC = false; c.Scope = "read" },
			want: "https://example.com/auth?response_type=token&scope=read&state=n0nce" +
				"&client_id=test-client&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback",
		},
		{
			name:     "state-suffix-prompt-and-extras",
			modify:   func(c *Config) { c.ResponseType = "code"; c.AuthorizeEndpoint = "https://example.com/auth?tenant=a" },
			state:    "n0nce;/return/to (1)",
			extra:    []Param{{"ui_locales", "de"}, {"acr_values", "urn:a b"}},
			noPrompt: true,
			want: "https://example.com/auth?tenant=a&response_type=code&scope=openid%20profile&state=n0nce%3B%2Freturn%2Fto%20(1)" +
				"&client_id=test-client&redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback&nonce=n0nce" +
				"&prompt=none&ui_locales=de&acr_values=urn%3Aa%20b",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			if tt.modify != nil {
				tt.modify(&cfg)
			}
			state := tt.state
			if state == "" {
				state = "n0nce"
			}
			assert.Equal(t, tt.want, buildAuthorizationURL(&cfg, "n0nce", state, tt.extra, tt.noPrompt))
		})
	}
}

func Test_encodeURIComponent(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal("A-Z_a.z~0!9*'()", encodeURIComponent("A-Z_a.z~0!9*'()"))
	assert.Equal("a%20b%2Bc%26d%3De%3Ff%23g%2Fh%3Bi", encodeURIComponent("a b+c&d=e?f#g/h;i"))
	assert.Equal("%C3%A9", encodeURIComponent("é"))
}

func TestSession_AuthorizationURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("stores-fresh-nonce", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mem, _ := testSession(t, testConfig())

		u1, err := s.AuthorizationURL(ctx, nil, false)
		require.NoError(err)
		nonce1, _, _ := mem.Get(ctx, KeyNonce)
		assert.Len(nonce1, NonceLength)

		parsed, err := url.Parse(u1)
		require.NoError(err)
		assert.Equal(nonce1, parsed.Query().Get("state"))
		assert.Equal(nonce1, parsed.Query().Get("nonce"))

		_, err = s.AuthorizationURL(ctx, nil, false)
		require.NoError(err)
		nonce2, _, _ := mem.Get(ctx, KeyNonce)
		assert.NotEqual(nonce1, nonce2)
	})
	t.Run("state-suffix", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mem, _ := testSession(t, testConfig())
		u, err := s.AuthorizationURL(ctx, nil, true, WithStateSuffix("/dashboard"))
		require.NoError(err)
		nonce, _, _ := mem.Get(ctx, KeyNonce)
		parsed, err := url.Parse(u)
		require.NoError(err)
		assert.Equal(nonce+";/dashboard", parsed.Query().Get("state"))
		assert.Equal("none", parsed.Query().Get("prompt"))
	})
	t.Run("missing-endpoint", func(t *testing.T) {
		assert := assert.New(t)
		cfg := testConfig()
		cfg.AuthorizeEndpoint = ""
		s, mem, _ := testSession(t, cfg)
		_, err := s.AuthorizationURL(ctx, nil, false)
		assert.ErrorIs(err, ErrMissingEndpoint)
		_, ok, _ := mem.Get(ctx, KeyNonce)
		assert.False(ok)
	})
	t.Run("store-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fs := &failingStore{Memory: store.NewMemory(), fail: map[string]bool{KeyNonce: true}}
		s, err := NewSession(ctx, testConfig(), fs)
		require.NoError(err)
		_, err = s.AuthorizationURL(ctx, nil, false)
		assert.ErrorIs(err, errStoreUnavailable)
	})
}

func TestSession_InitImplicitFlow(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	s, _, loc := testSession(t, testConfig())

	require.NoError(s.InitImplicitFlow(ctx, []Param{{"login_hint", "alice"}}))
	assigned := loc.Assigned()
	require.Len(assigned, 1)
	assert.True(strings.HasPrefix(assigned[0], "https://example.com/auth?response_type=id_token%20token&"))
	assert.True(strings.HasSuffix(assigned[0], "&login_hint=alice"))

	loc.err = errors.New("navigation blocked")
	assert.Error(s.InitImplicitFlow(ctx, nil))

	noLoc, err := NewSession(ctx, testConfig(), store.NewMemory())
	require.NoError(err)
	assert.ErrorIs(noLoc.InitImplicitFlow(ctx, nil), ErrNilParameter)
}
