package jwt

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type keySetOptions struct {
	withSigningAlgorithms []Alg
}

func keySetDefaults() keySetOptions {
	return keySetOptions{}
}

// getKeySetOpts gets the defaults and applies the opt overrides passed
// in.
func getKeySetOpts(opt ...Option) keySetOptions {
	opts := keySetDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

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

// WithSigningAlgorithms restricts the algorithms a KeySet accepts when it
// parses a token. All supported algorithms are accepted by default.
func WithSigningAlgorithms(algs ...Alg) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *keySetOptions:
			v.withSigningAlgorithms = algs
		}
	}
}
