package oidc

import (
	"context"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-hclog"
	"k8s.io/utils/clock"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional hclog.Logger for: Session,
// ExpirationScheduler, HTTPMessagePoster
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *sessionOptions:
			v.withLogger = l
		case *schedulerOptions:
			v.withLogger = l
		case *posterOptions:
			v.withLogger = l
		}
	}
}

// WithClock provides an optional clock for: Session, Validator,
// ExpirationScheduler
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *sessionOptions:
			v.withClock = c
		case *validatorOptions:
			v.withClock = c
		case *schedulerOptions:
			v.withClock = c
		}
	}
}

// WithExpirySkew provides an optional clock skew tolerance applied to both the
// "iat" and "exp" bounds of an id_token for: Session, Validator. The default is
// 10 minutes.
func WithExpirySkew(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *sessionOptions:
			v.withExpirySkew = d
		case *validatorOptions:
			v.withExpirySkew = d
		}
	}
}

// WithVerifier provides an optional signature and at_hash Verifier for:
// Session, Validator
func WithVerifier(ver Verifier) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *sessionOptions:
			v.withVerifier = ver
		case *validatorOptions:
			v.withVerifier = ver
		}
	}
}

// WithAtHashCheck makes the Validator require a matching at_hash.
func WithAtHashCheck() Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok {
			v.withAtHashCheck = true
		}
	}
}

// WithHTTPClient provides an optional http.Client for: Session,
// HTTPMessagePoster. Without it a client is built from Config.ProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *sessionOptions:
			v.withHTTPClient = c
		case *posterOptions:
			v.withHTTPClient = c
		}
	}
}

// WithLocation provides the navigable location of the host for: Session
func WithLocation(l Location) Option {
	return func(o interface{}) {
		if v, ok := o.(*sessionOptions); ok {
			v.withLocation = l
		}
	}
}

// WithWindowOpener provides the popup window opener for: Session
func WithWindowOpener(w WindowOpener) Option {
	return func(o interface{}) {
		if v, ok := o.(*sessionOptions); ok {
			v.withOpener = w
		}
	}
}

// WithMessagePoster provides the channel used to forward a token response to
// the window that opened a popup flow for: Session
func WithMessagePoster(p MessagePoster) Option {
	return func(o interface{}) {
		if v, ok := o.(*sessionOptions); ok {
			v.withPoster = p
		}
	}
}

// WithScreenSize provides the screen dimensions used to center popups for:
// Session
func WithScreenSize(width, height int) Option {
	return func(o interface{}) {
		if v, ok := o.(*sessionOptions); ok {
			v.withScreen = Screen{Width: width, Height: height}
		}
	}
}

// WithStateSuffix appends an application state to the nonce when building the
// "state" parameter for: AuthorizationURL, InitAuthorizationCode,
// InitImplicitFlow
func WithStateSuffix(suffix string) Option {
	return func(o interface{}) {
		if v, ok := o.(*authURLOptions); ok {
			v.withStateSuffix = suffix
		}
	}
}

// WithCustomFragment parses the given fragment instead of the current location
// for: CompleteRedirect
func WithCustomFragment(fragment string) Option {
	return func(o interface{}) {
		if v, ok := o.(*redirectOptions); ok {
			v.withCustomFragment = fragment
		}
	}
}

// WithRedirectURL parses the given redirect URL instead of the current
// location for: CompleteRedirect
func WithRedirectURL(u string) Option {
	return func(o interface{}) {
		if v, ok := o.(*redirectOptions); ok {
			v.withRedirectURL = u
		}
	}
}

// WithDisableStateCheck skips the comparison between the nonce carried in
// "state" (and the id_token) and the stored nonce for: CompleteRedirect
func WithDisableStateCheck() Option {
	return func(o interface{}) {
		if v, ok := o.(*redirectOptions); ok {
			v.withDisableStateCheck = true
		}
	}
}

// WithPreserveFragment leaves the location's query and fragment untouched
// after a successful login for: CompleteRedirect
func WithPreserveFragment() Option {
	return func(o interface{}) {
		if v, ok := o.(*redirectOptions); ok {
			v.withPreserveFragment = true
		}
	}
}

// WithOnTokenReceived registers a callback invoked with the received tokens
// before "token_received" is published for: CompleteRedirect
func WithOnTokenReceived(fn func(ReceivedTokens)) Option {
	return func(o interface{}) {
		if v, ok := o.(*redirectOptions); ok {
			v.withOnTokenReceived = fn
		}
	}
}

// WithMaxRetries sets how many times a failed post is retried for:
// HTTPMessagePoster
func WithMaxRetries(n uint) Option {
	return func(o interface{}) {
		if v, ok := o.(*posterOptions); ok {
			v.withMaxRetries = n
		}
	}
}

// WithJWKS provides already loaded provider keys for: Validator.Validate
func WithJWKS(keys *jose.JSONWebKeySet) Option {
	return func(o interface{}) {
		if v, ok := o.(*validateOptions); ok {
			v.withJWKS = keys
		}
	}
}

// WithKeyLoader provides a function fetching the provider keys on demand for:
// Validator.Validate
func WithKeyLoader(fn func(ctx context.Context) (*jose.JSONWebKeySet, error)) Option {
	return func(o interface{}) {
		if v, ok := o.(*validateOptions); ok {
			v.withKeyLoader = fn
		}
	}
}
