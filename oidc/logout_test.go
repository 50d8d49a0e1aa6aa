package oidc

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/mauth/oidcsession/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogoutURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name                  string
		endpoint              string
		idToken               string
		postLogoutRedirectURL string
		want                  string
	}{
		{
			name:                  "query-params",
			endpoint:              "https://example.com/logout",
			idToken:               "a.b.c",
			postLogoutRedirectURL: "https://app.example.com/?bye=1",
			want:                  "https://example.com/logout?id_token_hint=a.b.c&post_logout_redirect_uri=https%3A%2F%2Fapp.example.com%2F%3Fbye%3D1",
		},
		{
			name:     "existing-query",
			endpoint: "https://example.com/logout?tenant=a",
			idToken:  "a.b.c",
			want:     "https://example.com/logout?tenant=a&id_token_hint=a.b.c",
		},
		{
			name:                  "redirect-only",
			endpoint:              "https://example.com/logout",
			postLogoutRedirectURL: "https://app.example.com",
			want:                  "https://example.com/logout?post_logout_redirect_uri=https%3A%2F%2Fapp.example.com",
		},
		{
			name:                  "legacy-template",
			endpoint:              "https://example.com/logout?token={{id_token}}&client={{client_id}}&again={{id_token}}",
			idToken:               "a.b.c",
			postLogoutRedirectURL: "https://app.example.com",
			want:                  "https://example.com/logout?token=a.b.c&client=test-client&again={{id_token}}",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, LogoutURL(tt.endpoint, "test-client", tt.idToken, tt.postLogoutRedirectURL))
		})
	}
}

func seedSession(t *testing.T, ctx context.Context, st Store) {
	t.Helper()
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	later := strconv.FormatInt(time.Now().Add(time.Hour).UnixMilli(), 10)
	for k, v := range map[string]string{
		KeyAccessToken:         "at",
		KeyRefreshToken:        "rt",
		KeyIdToken:             "a.b.c",
		KeyNonce:               "n",
		KeyExpiresAt:           later,
		KeyAccessTokenStoredAt: now,
		KeyIdTokenClaims:       `{"sub":"alice"}`,
		KeyIdTokenExpiresAt:    later,
		KeyIdTokenStoredAt:     now,
		KeyGrantedScopes:       `["openid"]`,
		KeySessionState:        "ss",
	} {
		require.NoError(t, st.Set(ctx, k, v))
	}
}

func TestSession_Logout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("clears-and-redirects", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cfg := testConfig()
		cfg.LogoutEndpoint = "https://example.com/logout"
		mem := store.NewMemory()
		seedSession(t, ctx, mem)
		require.NoError(mem.Set(ctx, "unrelated", "kept"))
		loc := &testLocation{}
		s, err := NewSession(ctx, cfg, mem, WithLocation(loc))
		require.NoError(err)
		state, _, _ := s.Scheduler().State()
		require.Equal(SchedulerArmed, state)
		got := recordEvents(t, s.Events())

		require.NoError(s.Logout(ctx, false))
		assert.Equal(map[string]string{"unrelated": "kept"}, mem.Snapshot())
		state, _, _ = s.Scheduler().State()
		assert.Equal(SchedulerIdle, state)
		assert.Equal([]EventType{EventLogout}, eventTypes(got()))
		assert.Equal([]string{"https://example.com/logout?id_token_hint=a.b.c&post_logout_redirect_uri=https%3A%2F%2Fapp.example.com%2Fcallback"}, loc.Assigned())
	})
	t.Run("no-redirect", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cfg := testConfig()
		cfg.LogoutEndpoint = "https://example.com/logout"
		s, mem, loc := testSession(t, cfg)
		seedSession(t, ctx, mem)
		require.NoError(s.Logout(ctx, true))
		assert.Empty(mem.Snapshot())
		assert.Empty(loc.Assigned())
	})
	t.Run("no-endpoint", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		s, mem, loc := testSession(t, testConfig())
		seedSession(t, ctx, mem)
		require.NoError(s.Logout(ctx, false))
		assert.Empty(loc.Assigned())
	})
	t.Run("nothing-to-send", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		cfg := testConfig()
		cfg.RedirectURL = ""
		cfg.LogoutEndpoint = "https://example.com/logout"
		s, _, loc := testSession(t, cfg)
		require.NoError(s.Logout(ctx, false))
		assert.Empty(loc.Assigned())
	})
	t.Run("store-failure", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		fs := &failingStore{Memory: store.NewMemory(), fail: map[string]bool{KeyRefreshToken: true, KeyNonce: true}}
		seedSession(t, ctx, fs.Memory)
		cfg := testConfig()
		cfg.LogoutEndpoint = "https://example.com/logout"
		loc := &testLocation{}
		s, err := NewSession(ctx, cfg, fs, WithLocation(loc))
		require.NoError(err)
		got := recordEvents(t, s.Events())

		err = s.Logout(ctx, false)
		require.Error(err)
		assert.ErrorIs(err, errStoreUnavailable)
		assert.ErrorContains(err, "remove refresh_token")
		assert.ErrorContains(err, "remove nonce")
		_, ok, _ := fs.Memory.Get(ctx, KeyAccessToken)
		assert.False(ok, "keys that can be removed are removed")
		assert.Equal([]EventType{EventLogout}, eventTypes(got()))
		assert.Empty(loc.Assigned())
	})
}
