// oidcsession provides a collection of related packages which run OAuth2 and
// OpenID Connect client flows and own the resulting tokens: oidc (sessions,
// flows, validation and events), store (token persistence) and jwt (signature
// and at_hash verification).
package oidcsession
