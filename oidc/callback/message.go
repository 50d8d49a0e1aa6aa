package callback

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/mauth/oidcsession/oidc"
)

const maxMessageSize = 64 * 1024

// Message creates a handler accepting the token responses an authorization
// code popup posts with oidc.HTTPMessagePoster. The JSON body and the request's
// Origin header are delivered to s.PostMessage.
//
// It replies 202 when the session accepted the message and 409 when it was
// ignored, because no popup flow is waiting or the origin doesn't match.
// Malformed requests get a 4xx reply.
func Message(s *oidc.Session, logger hclog.Logger) (http.HandlerFunc, error) {
	const op = "callback.Message"
	if s == nil {
		return nil, fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		origin := req.Header.Get("Origin")
		if origin == "" {
			http.Error(w, "missing Origin header", http.StatusBadRequest)
			return
		}
		var tr oidc.TokenResponse
		if err := json.NewDecoder(io.LimitReader(req.Body, maxMessageSize)).Decode(&tr); err != nil {
			logger.Debug("unable to decode popup message", "op", op, "error", err)
			http.Error(w, "invalid token response", http.StatusBadRequest)
			return
		}
		if !s.PostMessage(oidc.Message{Origin: origin, Data: &tr}) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}, nil
}
