package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Logout removes every session key from the store, cancels the expiration
// timer and publishes logout. Then, unless noRedirect is set, it navigates to
// the logout endpoint when one is configured and there is an id_token hint
// or a post logout redirect URL to send.
//
// Every key removal is attempted; the failures are returned together.
func (s *Session) Logout(ctx context.Context, noRedirect bool) error {
	const op = "Session.Logout"
	cfg := s.config()
	var result *multierror.Error

	idToken, err := s.tokens.getString(ctx, KeyIdToken)
	if err != nil {
		result = multierror.Append(result, err)
	}
	for _, key := range SessionKeys {
		if err := s.store.Remove(ctx, key); err != nil {
			s.logger.Warn("unable to remove session key", "key", key, "error", err)
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	s.Scheduler().Cancel()
	s.setState("")
	s.events.Publish(InfoEvent{Type: EventLogout})

	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cfg.LogoutEndpoint == "" || noRedirect {
		return nil
	}
	if idToken == "" && cfg.PostLogoutRedirectURL == "" {
		return nil
	}
	return s.navigate(ctx, op, LogoutURL(cfg.LogoutEndpoint, cfg.ClientID, idToken, cfg.postLogoutRedirectURL()))
}

// LogoutURL builds the URL of the logout endpoint. An endpoint containing
// "{{" is a legacy template whose first {{id_token}} and {{client_id}} are
// replaced. Otherwise id_token_hint and post_logout_redirect_uri are
// appended as query parameters when not empty.
func LogoutURL(endpoint, clientID, idToken, postLogoutRedirectURL string) string {
	if strings.Contains(endpoint, "{{") {
		u := strings.Replace(endpoint, "{{id_token}}", idToken, 1)
		return strings.Replace(u, "{{client_id}}", clientID, 1)
	}
	var params []string
	if idToken != "" {
		params = append(params, "id_token_hint="+encodeURIComponent(idToken))
	}
	if postLogoutRedirectURL != "" {
		params = append(params, "post_logout_redirect_uri="+encodeURIComponent(postLogoutRedirectURL))
	}
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + strings.Join(params, "&")
}
