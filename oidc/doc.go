// Package oidc runs OAuth2 and OpenID Connect client flows for one login
// session and keeps its tokens.
package oidc
