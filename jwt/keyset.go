package jwt

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/hashicorp/go-cleanhttp"
)

// KeySet represents a set of keys that can be used to verify the signatures of JWTs.
// A KeySet is expected to be backed by a set of local or remote keys.
type KeySet interface {

	// VerifySignature parses the given JWT, verifies its signature, and returns the claims in its payload.
	VerifySignature(ctx context.Context, token string) (claims map[string]interface{}, err error)
}

// JSONWebKeySet verifies JWT signatures using keys obtained from a JWKS URL.
type JSONWebKeySet struct {
	remoteJWKS oidc.KeySet
}

// StaticKeySet verifies JWT signatures using local PEM-encoded public keys.
type StaticKeySet struct {
	keys oidc.StaticKeySet
}

// LocalKeySet verifies JWT signatures using an already fetched JSON Web Key
// Set document. Keys are selected by the token's "kid" header when present.
type LocalKeySet struct {
	jwks *jose.JSONWebKeySet
	algs []jose.SignatureAlgorithm
}

// NewJSONWebKeySet returns a KeySet that verifies JWT signatures using keys from the JSON Web
// Key Set (JWKS) at the given jwksURL. The client used to obtain the remote JWKS will verify
// server certificates using the root certificates provided by jwksCAPEM.
func NewJSONWebKeySet(ctx context.Context, jwksURL string, jwksCAPEM string) (KeySet, error) {
	if jwksURL == "" {
		return nil, errors.New("jwksURL must not be empty")
	}

	caCtx, err := createCAContext(ctx, jwksCAPEM)
	if err != nil {
		return nil, err
	}

	return &JSONWebKeySet{
		remoteJWKS: oidc.NewRemoteKeySet(caCtx, jwksURL),
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using JWKS keys, and returns
// the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *JSONWebKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	payload, err := ks.remoteJWKS.VerifySignature(ctx, token)
	if err != nil {
		return nil, err
	}
	return unmarshalClaims(payload)
}

// NewStaticKeySet returns a KeySet that verifies JWT signatures using PEM-encoded public keys.
// The given publicKeys must be of PEM-encoded x509 certificate or PKIX public key forms.
func NewStaticKeySet(publicKeys []string) (KeySet, error) {
	if len(publicKeys) == 0 {
		return nil, errors.New("publicKeys must not be empty")
	}
	parsed := make([]crypto.PublicKey, 0, len(publicKeys))
	for _, k := range publicKeys {
		key, err := ParsePublicKeyPEM([]byte(k))
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, key)
	}
	return &StaticKeySet{
		keys: oidc.StaticKeySet{PublicKeys: parsed},
	}, nil
}

// VerifySignature parses the given JWT, verifies its signature using local PEM-encoded public keys,
// and returns the claims in its payload. The given JWT must be of the JWS compact serialization form.
func (ks *StaticKeySet) VerifySignature(ctx context.Context, token string) (map[string]interface{}, error) {
	payload, err := ks.keys.VerifySignature(ctx, token)
	if err != nil {
		return nil, err
	}
	return unmarshalClaims(payload)
}

// NewLocalKeySet returns a KeySet backed by the given JWKS document.
//
// Supported options:
//   - WithSigningAlgorithms
func NewLocalKeySet(jwks *jose.JSONWebKeySet, opt ...Option) (KeySet, error) {
	if jwks == nil {
		return nil, errors.New("jwks must not be nil")
	}
	if len(jwks.Keys) == 0 {
		return nil, errors.New("jwks contains no keys")
	}
	opts := getKeySetOpts(opt...)
	if err := SupportedSigningAlgorithm(opts.withSigningAlgorithms...); err != nil {
		return nil, err
	}
	return &LocalKeySet{
		jwks: jwks,
		algs: joseAlgorithms(opts.withSigningAlgorithms...),
	}, nil
}

// VerifySignature parses the given JWT and verifies its signature with the
// first key of the set that validates it. When the token names a "kid", only
// keys with that id are tried.
func (ks *LocalKeySet) VerifySignature(_ context.Context, token string) (map[string]interface{}, error) {
	jws, err := jose.ParseSigned(token, ks.algs)
	if err != nil {
		return nil, fmt.Errorf("malformed jwt: %w", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, errors.New("jwt must carry exactly one signature")
	}
	keyID := jws.Signatures[0].Header.KeyID

	candidates := ks.jwks.Keys
	if keyID != "" {
		candidates = ks.jwks.Key(keyID)
	}
	for i := range candidates {
		key := candidates[i]
		if key.Use != "" && key.Use != "sig" {
			continue
		}
		payload, err := jws.Verify(&key)
		if err != nil {
			continue
		}
		return unmarshalClaims(payload)
	}
	return nil, errors.New("no known key successfully validated the token signature")
}

// ParsePublicKeyPEM is used to parse RSA, ECDSA and Ed25519 public keys from
// PEMs. It returns a *rsa.PublicKey, *ecdsa.PublicKey or ed25519.PublicKey.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block != nil {
		var rawKey interface{}
		var err error
		if rawKey, err = x509.ParsePKIXPublicKey(block.Bytes); err != nil {
			if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
				rawKey = cert.PublicKey
			} else {
				return nil, err
			}
		}

		switch k := rawKey.(type) {
		case *rsa.PublicKey:
			return k, nil
		case *ecdsa.PublicKey:
			return k, nil
		case ed25519.PublicKey:
			return k, nil
		}
	}

	return nil, errors.New("data does not contain any valid RSA, ECDSA or ED25519 public keys")
}

func unmarshalClaims(payload []byte) (map[string]interface{}, error) {
	allClaims := map[string]interface{}{}
	if err := json.Unmarshal(payload, &allClaims); err != nil {
		return nil, err
	}
	return allClaims, nil
}

// createCAContext returns a context with a custom TLS client that's configured with the root
// certificates from caPEM. If no certificates are configured, the original context is returned.
func createCAContext(ctx context.Context, caPEM string) (context.Context, error) {
	if caPEM == "" {
		return ctx, nil
	}

	certPool := x509.NewCertPool()
	if ok := certPool.AppendCertsFromPEM([]byte(caPEM)); !ok {
		return nil, errors.New("could not parse CA PEM value successfully")
	}

	tr := cleanhttp.DefaultPooledTransport()
	tr.TLSClientConfig = &tls.Config{
		RootCAs: certPool,
	}
	tc := &http.Client{
		Transport: tr,
	}

	return oidc.ClientContext(ctx, tc), nil
}
