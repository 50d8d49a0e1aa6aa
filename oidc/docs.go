/*
oidc is a package for running OAuth2 and OpenID Connect client flows and for
owning the resulting tokens for the lifetime of a login session.

Primary types provided by the package

* Config: the settings of one client against one provider (client id, redirect
URL, endpoints, requested scope, flow flags, popup geometry and timers). It can
be built from DefaultConfig, merged from a PartialConfig or loaded from a YAML
file with LoadConfigFile.

* Session: drives the implicit, authorization code (redirect or popup),
password and refresh token flows, validates id_tokens, keeps tokens in a Store
and publishes lifecycle events. It also loads discovery documents, JWKS and
user profiles, and logs out.

* Store: the key/value persistence of a Session. The store package provides
in-memory, Redis and OS keyring implementations.

* Events: the publish/subscribe channel of a Session. Every operation reports
its outcome as a SuccessEvent, InfoEvent or ErrorEvent.

* ExpirationScheduler: fires token_expires once a configured fraction of the
token's lifetime has elapsed.

* Validator and Verifier: check an id_token's structure, signature, expiry and
at_hash. JWKSVerifier uses the provider's key set, KeySetVerifier any
jwt.KeySet.

* TokenResponse, IdToken, AccessToken and RefreshToken: tokens as received
from the provider. The token types redact themselves when printed.

* Location, WindowOpener and MessagePoster: the host the session runs in.
BrowserLocation, BrowserOpener and HTTPMessagePoster serve CLIs and servers.

The oidc.callback package

The callback package includes the ability to create http.HandlerFuncs which
deliver redirect responses and popup messages to a Session.

Testing

TestProvider is a local TLS identity provider serving discovery, JWKS,
authorization, token, userinfo and logout endpoints. TestSignJWT, TestIdToken,
TestJWKS and TestGenerateKeys help build signed tokens and key sets.
*/
package oidc
