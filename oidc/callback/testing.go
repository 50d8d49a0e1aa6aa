package callback

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/mauth/oidcsession/oidc"
	"github.com/mauth/oidcsession/store"
	"github.com/stretchr/testify/require"
)

// testErrorBody is written by testFailFn.
type testErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// testSuccessFn is a test SuccessResponseFunc
func testSuccessFn(state string, t oidc.ReceivedTokens, w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("login successful, state: " + state))
}

// testFailFn is a test ErrorResponseFunc
func testFailFn(state string, r *oidc.AuthorizationError, e error, w http.ResponseWriter, req *http.Request) {
	if e != nil {
		w.WriteHeader(http.StatusInternalServerError)
		j, _ := json.Marshal(&testErrorBody{
			Error:       "internal-callback-error",
			Description: e.Error(),
		})
		_, _ = w.Write(j)
		return
	}
	if r != nil {
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(&testErrorBody{
			Error:       r.Params["error"],
			Description: r.Params["error_description"],
		})
		_, _ = w.Write(j)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
	j, _ := json.Marshal(&testErrorBody{
		Error: "unknown-callback-error",
	})
	_, _ = w.Write(j)
}

// testNewSession creates a new Session using the TestProvider (tp) endpoints
// and an in-memory store. This is helpful internally, but intentionally not
// exported.
func testNewSession(t *testing.T, tp *oidc.TestProvider, cfg oidc.Config, opt ...oidc.Option) (*oidc.Session, *store.Memory) {
	const op = "testNewSession"
	t.Helper()
	require := require.New(t)
	require.NotNilf(tp, "%s: test provider is nil", op)

	mem := store.NewMemory()
	s, err := oidc.NewSession(context.Background(), cfg, mem, opt...)
	require.NoError(err)
	return s, mem
}

// testAuthorize sends u to the TestProvider's authorization endpoint and
// returns the redirect it answers with.
func testAuthorize(t *testing.T, tp *oidc.TestProvider, u string) string {
	t.Helper()
	require := require.New(t)
	pool := x509.NewCertPool()
	require.True(pool.AppendCertsFromPEM([]byte(tp.CACert())))
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
