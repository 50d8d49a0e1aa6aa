package callback_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mauth/oidcsession/oidc"
	"github.com/mauth/oidcsession/oidc/callback"
	"github.com/mauth/oidcsession/store"
)

func ExampleRedirect() {
	// use a session configured for the authorization code flow
	cfg := oidc.DefaultConfig()
	cfg.Issuer = "https://your-issuer.com/"
	cfg.ClientID = "your_client_id"
	cfg.ClientSecret = "your_client_secret"
	cfg.RedirectURL = "http://localhost:8080/callback"
	cfg.ResponseType = "code"
	s, err := oidc.NewSession(context.Background(), cfg, store.NewMemory())
	if err != nil {
		// handle error
	}

	// Create a SuccessResponseFunc
	success := func(state string, t oidc.ReceivedTokens, w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		printableToken := fmt.Sprintf("id_token: %s\naccess_token: %s", t.IdToken, t.AccessToken)
		_, _ = w.Write([]byte(printableToken))
	}

	// Create an ErrorResponseFunc
	failure := func(state string, r *oidc.AuthorizationError, e error, w http.ResponseWriter, req *http.Request) {
		var responseErr error
		switch {
		case r != nil:
			responseErr = r
		default:
			responseErr = e
		}
		w.WriteHeader(http.StatusUnauthorized)
		j, _ := json.Marshal(map[string]string{"error": responseErr.Error()})
		_, _ = w.Write(j)
	}

	// Create the callback handler and register it for the redirect URL.
	handler, err := callback.Redirect(s, success, failure)
	if err != nil {
		// handle error
	}
	http.HandleFunc("/callback", handler)
}

func ExampleMessage() {
	cfg := oidc.DefaultConfig()
	cfg.Issuer = "https://your-issuer.com/"
	cfg.ClientID = "your_client_id"
	cfg.RedirectURL = "http://localhost:8080/popup"
	cfg.ResponseType = "code"
	cfg.AuthorizationCodeViaPopup = true
	cfg.Origin = "http://localhost:8080"
	s, err := oidc.NewSession(context.Background(), cfg, store.NewMemory())
	if err != nil {
		// handle error
	}

	// the popup's session posts its token response here with an
	// oidc.HTTPMessagePoster.
	handler, err := callback.Message(s, nil)
	if err != nil {
		// handle error
	}
	http.HandleFunc("/message", handler)
}
