package callback

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mauth/oidcsession/oidc"
)

// Redirect creates a callback handler for the session's redirect URL. The
// request's parameters, from either its query or a form_post body, are
// completed with s.CompleteRedirect.
//
// The SuccessResponseFunc is used to create a response when callback is
// successful. The ErrorResponseFunc is to create a response when the callback
// fails, including when the request carries no authorization response.
func Redirect(s *oidc.Session, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (http.HandlerFunc, error) {
	const op = "callback.Redirect"
	switch {
	case s == nil:
		return nil, fmt.Errorf("%s: session is nil: %w", op, oidc.ErrNilParameter)
	case sFn == nil:
		return nil, fmt.Errorf("%s: success response func is nil: %w", op, oidc.ErrNilParameter)
	case eFn == nil:
		return nil, fmt.Errorf("%s: error response func is nil: %w", op, oidc.ErrNilParameter)
	}
	return func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseForm(); err != nil {
			eFn("", nil, fmt.Errorf("%s: unable to parse request: %w: %w", op, oidc.ErrInvalidParameter, err), w, req)
			return
		}
		// get parameters from either the body or query parameters.
		href := requestURL(req)
		href.RawQuery = encodeForm(req.Form)

		var received oidc.ReceivedTokens
		ok, err := s.CompleteRedirect(req.Context(),
			oidc.WithRedirectURL(href.String()),
			oidc.WithPreserveFragment(),
			oidc.WithOnTokenReceived(func(t oidc.ReceivedTokens) { received = t }),
		)
		var authErr *oidc.AuthorizationError
		switch {
		case errors.As(err, &authErr):
			eFn(s.State(), authErr, nil, w, req)
		case err != nil:
			eFn(s.State(), nil, err, w, req)
		case !ok:
			eFn("", nil, fmt.Errorf("%s: request carries no authorization response: %w", op, oidc.ErrInvalidParameter), w, req)
		default:
			sFn(received.State, received, w, req)
		}
	}, nil
}

// encodeForm encodes the decoded form values with %20 for spaces, since
// the session decodes redirect parameters without turning "+" into a space.
func encodeForm(v url.Values) string {
	return strings.ReplaceAll(v.Encode(), "+", "%20")
}

// requestURL returns the absolute URL req was sent to, without its query.
func requestURL(req *http.Request) *url.URL {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: req.Host, Path: req.URL.Path}
}
