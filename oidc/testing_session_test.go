package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"
	"sync"
	"testing"

	"github.com/mauth/oidcsession/store"
	"github.com/stretchr/testify/require"
)

// testLocation is an in-memory Location recording every navigation.
type testLocation struct {
	mu       sync.Mutex
	href     string
	assigned []string
	cleared  int
	err      error
}

func (l *testLocation) Href() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.href
}

func (l *testLocation) SetHref(href string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.href = href
}

func (l *testLocation) Assign(_ context.Context, u string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.assigned = append(l.assigned, u)
	return nil
}

func (l *testLocation) ClearRedirectParams() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleared++
	return nil
}

func (l *testLocation) Assigned() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.assigned...)
}

func (l *testLocation) Cleared() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cleared
}

// testSession creates a Session against p with an in-memory store and a
// testLocation.
func testSession(t *testing.T, cfg Config, opt ...Option) (*Session, *store.Memory, *testLocation) {
	t.Helper()
	mem := store.NewMemory()
	loc := &testLocation{href: cfg.RedirectURL}
	s, err := NewSession(context.Background(), cfg, mem, append([]Option{WithLocation(loc)}, opt...)...)
	require.NoError(t, err)
	return s, mem, loc
}

// authorize sends u to the provider's authorization endpoint and returns the
// redirect it answers with.
func authorize(t *testing.T, p *TestProvider, u string) string {
	t.Helper()
	require := require.New(t)
	pool := x509.NewCertPool()
	require.True(pool.AppendCertsFromPEM([]byte(p.CACert())))
	client := &http.Client{
		Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(u)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}
