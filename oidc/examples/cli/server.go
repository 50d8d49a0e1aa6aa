package main

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/mauth/oidcsession/oidc"
	"github.com/mauth/oidcsession/oidc/callback"
)

// fragmentHTML forwards the implicit flow fragment, which browsers never send
// to servers, to /fragment.
const fragmentHTML = `<!DOCTYPE html>
<html>
<body>
<p id="status">Completing login...</p>
<script>
fetch("/fragment", {method: "POST", body: window.location.hash.substring(1)})
  .then(function (r) { return r.text(); })
  .then(function (t) { document.getElementById("status").textContent = t; });
</script>
</body>
</html>
`

const successHTML = `<!DOCTYPE html>
<html>
<body>
<p>Login successful. You may close this window and return to the CLI.</p>
</body>
</html>
`

// app serves the loopback redirect URL of the CLI.
type app struct {
	session  *oidc.Session
	location *oidc.BrowserLocation
	logger   hclog.Logger

	once sync.Once
	done chan error
}

func (a *app) finish(err error) {
	a.once.Do(func() { a.done <- err })
}

func (a *app) routes(implicit bool) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	if implicit {
		r.Get("/callback", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(fragmentHTML))
		})
		r.Post("/fragment", a.handleFragment)
		return r, nil
	}

	handler, err := callback.Redirect(a.session, a.success, a.failed)
	if err != nil {
		return nil, fmt.Errorf("error creating callback handler: %w", err)
	}
	r.Get("/callback", handler)
	r.Post("/callback", handler)
	return r, nil
}

// handleFragment completes an implicit flow redirect from the fragment posted
// by fragmentHTML.
func (a *app) handleFragment(w http.ResponseWriter, req *http.Request) {
	fragment, err := io.ReadAll(io.LimitReader(req.Body, 64*1024))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.location.SetHref(a.session.Config().RedirectURL + "#" + string(fragment))
	ok, err := a.session.CompleteRedirect(req.Context())
	switch {
	case err != nil:
		a.logger.Error("unable to complete redirect", "error", err)
		http.Error(w, "Login failed: "+err.Error(), http.StatusUnauthorized)
		a.finish(err)
	case !ok:
		http.Error(w, "Login failed: no authorization response", http.StatusBadRequest)
		a.finish(fmt.Errorf("no authorization response"))
	default:
		_, _ = w.Write([]byte("Login successful. You may close this window and return to the CLI."))
		a.finish(nil)
	}
}

func (a *app) success(state string, t oidc.ReceivedTokens, w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(successHTML)); err != nil {
		a.logger.Warn("error writing successful response", "error", err)
	}
	a.finish(nil)
}

func (a *app) failed(state string, r *oidc.AuthorizationError, e error, w http.ResponseWriter, req *http.Request) {
	var responseErr error
	switch {
	case r != nil:
		responseErr = fmt.Errorf("callback error from oidc provider: %w", r)
		w.WriteHeader(http.StatusUnauthorized)
	case e != nil:
		responseErr = e
		w.WriteHeader(http.StatusInternalServerError)
	default:
		responseErr = fmt.Errorf("unknown error from callback")
		w.WriteHeader(http.StatusInternalServerError)
	}
	if _, err := w.Write([]byte(responseErr.Error())); err != nil {
		a.logger.Warn("error writing failed response", "error", err)
	}
	a.finish(responseErr)
}
