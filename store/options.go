package store

import "time"

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

// redisOptions is the set of available options for Redis functions
type redisOptions struct {
	withKeyPrefix string
	withTTL       time.Duration
}

func redisDefaults() redisOptions {
	return redisOptions{
		withKeyPrefix: DefaultRedisKeyPrefix,
	}
}

func getRedisOpts(opt ...Option) redisOptions {
	opts := redisDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithKeyPrefix provides an optional prefix prepended to every key for: Redis
func WithKeyPrefix(prefix string) Option {
	return func(o interface{}) {
		if v, ok := o.(*redisOptions); ok {
			v.withKeyPrefix = prefix
		}
	}
}

// WithTTL provides an optional expiration set on every written key for:
// Redis. Zero keeps keys until they are removed.
func WithTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*redisOptions); ok {
			v.withTTL = ttl
		}
	}
}
