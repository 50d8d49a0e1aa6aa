package callback

import (
	"net/http"

	"github.com/mauth/oidcsession/oidc"
)

// SuccessResponseFunc is used by Callbacks to create a http response when the
// callback is successful.
//
// The function state parameter will contain the application state recovered
// from the authorization response. The oidc.ReceivedTokens are the tokens
// received and stored by the session. The function should use the
// http.ResponseWriter to send back whatever content (headers, html, JSON, etc)
// it wishes to the client that originated the oidc flow.
type SuccessResponseFunc func(state string, t oidc.ReceivedTokens, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by Callbacks to create a http response when the
// callback fails.
//
// The function receives the state returned as part of the authorization
// response. It also gets the authorization error response sent by the
// provider, or the error raised while processing the request. The function
// should use the http.ResponseWriter to send back whatever content (headers,
// html, JSON, etc) it wishes to the client that originated the oidc flow.
type ErrorResponseFunc func(state string, respErr *oidc.AuthorizationError, e error, w http.ResponseWriter, req *http.Request)
