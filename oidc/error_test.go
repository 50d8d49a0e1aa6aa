package oidc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizationError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		params map[string]string
		want   string
	}{
		{
			name:   "code-and-description",
			params: map[string]string{"error": "access_denied", "error_description": "user said no"},
			want:   "authorization denied: access_denied (user said no)",
		},
		{
			name:   "code-only",
			params: map[string]string{"error": "login_required"},
			want:   "authorization denied: login_required",
		},
		{
			name: "no-params",
			want: "authorization denied",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert := assert.New(t)
			err := &AuthorizationError{Params: tt.params}
			assert.Equal(tt.want, err.Error())

			wrapped := fmt.Errorf("Session.CompleteRedirect: %w", err)
			assert.ErrorIs(wrapped, ErrAuthorizationDenied)
			var authErr *AuthorizationError
			assert.True(errors.As(wrapped, &authErr))
			assert.Equal(tt.params, authErr.Params)
		})
	}
}

func Test_paramKeys(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.Equal([]string{"access_token", "state", "token_type"}, paramKeys(map[string]string{
		"token_type":   "Bearer",
		"state":        "s",
		"access_token": "at",
	}))
	assert.Empty(paramKeys(nil))
}
