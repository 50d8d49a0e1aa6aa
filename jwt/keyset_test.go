package jwt

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	wellKnownJWKS = "/.well-known/jwks.json"
	testKeyID     = "test-key"
)

// testJWKSServer serves the public half of key at wellKnownJWKS over TLS and
// returns the server with its PEM encoded CA certificate.
func testJWKSServer(t *testing.T, pub crypto.PublicKey, alg Alg, kid string) (*httptest.Server, string) {
	t.Helper()
	require := require.New(t)

	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: pub, KeyID: kid, Algorithm: string(alg), Use: "sig"}}}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != wellKnownJWKS {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(srv.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(err)
	return srv, buf.String()
}

func Test_jsonWebKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		alg     Alg
		key     func() (crypto.PrivateKey, crypto.PublicKey)
		wrongKS bool
		wantErr bool
	}{
		{
			name: "verify jwt with ES256 signature",
			alg:  ES256,
			key: func() (crypto.PrivateKey, crypto.PublicKey) {
				priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
				require.NoError(t, err)
				return priv, priv.Public()
			},
		},
		{
			name: "verify jwt with RS256 signature",
			alg:  RS256,
			key: func() (crypto.PrivateKey, crypto.PublicKey) {
				priv, err := rsa.GenerateKey(rand.Reader, 2048)
				require.NoError(t, err)
				return priv, priv.Public()
			},
		},
		{
			name: "fail to verify with a key the set does not hold",
			alg:  ES256,
			key: func() (crypto.PrivateKey, crypto.PublicKey) {
				priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
				require.NoError(t, err)
				return priv, priv.Public()
			},
			wrongKS: true,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			priv, pub := tt.key()
			if tt.wrongKS {
				other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
				require.NoError(err)
				pub = other.Public()
			}
			srv, caPEM := testJWKSServer(t, pub, tt.alg, testKeyID)

			ks, err := NewJSONWebKeySet(context.Background(), srv.URL+wellKnownJWKS, caPEM)
			require.NoError(err)

			token := testSignJWT(t, priv, tt.alg, testJWTClaims(t), []byte(testKeyID))
			got, err := ks.VerifySignature(context.Background(), token)
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(testJWTClaims(t), got)
		})
	}
}

func Test_staticKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	type args struct {
		token func() (string, []crypto.PublicKey)
	}
	tests := []struct {
		name    string
		args    args
		want    map[string]interface{}
		wantErr bool
	}{
		{
			name: "verify jwt with ES384 signature",
			args: args{
				token: func() (string, []crypto.PublicKey) {
					priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
					require.NoError(t, err)
					token := testSignJWT(t, priv, ES384, testJWTClaims(t), nil)
					return token, []crypto.PublicKey{priv.Public()}
				},
			},
			want: testJWTClaims(t),
		},
		{
			name: "verify jwt with PS256 signature",
			args: args{
				token: func() (string, []crypto.PublicKey) {
					priv, err := rsa.GenerateKey(rand.Reader, 2048)
					require.NoError(t, err)
					token := testSignJWT(t, priv, PS256, testJWTClaims(t), nil)
					return token, []crypto.PublicKey{priv.Public()}
				},
			},
			want: testJWTClaims(t),
		},
		{
			name: "verify jwt with EdDSA signature",
			args: args{
				token: func() (string, []crypto.PublicKey) {
					pub, priv, err := ed25519.GenerateKey(rand.Reader)
					require.NoError(t, err)
					token := testSignJWT(t, priv, EdDSA, testJWTClaims(t), nil)
					return token, []crypto.PublicKey{pub}
				},
			},
			want: testJWTClaims(t),
		},
		{
			name: "verify jwt with second of two keys",
			args: args{
				token: func() (string, []crypto.PublicKey) {
					first, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
					require.NoError(t, err)
					second, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
					require.NoError(t, err)
					token := testSignJWT(t, second, ES256, testJWTClaims(t), nil)
					return token, []crypto.PublicKey{first.Public(), second.Public()}
				},
			},
			want: testJWTClaims(t),
		},
		{
			name: "fail with unknown key",
			args: args{
				token: func() (string, []crypto.PublicKey) {
					signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
					require.NoError(t, err)
					other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
					require.NoError(t, err)
					token := testSignJWT(t, signer, ES256, testJWTClaims(t), nil)
					return token, []crypto.PublicKey{other.Public()}
				},
			},
			wantErr: true,
		},
		{
			name: "fail with malformed token",
			args: args{
				token: func() (string, []crypto.PublicKey) {
					priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
					require.NoError(t, err)
					return "not.a.jwt", []crypto.PublicKey{priv.Public()}
				},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require := require.New(t)
			token, pubKeys := tt.args.token()

			var pems []string
			for _, pub := range pubKeys {
				der, err := x509.MarshalPKIXPublicKey(pub)
				require.NoError(err)
				pems = append(pems, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
			}
			keySet, err := NewStaticKeySet(pems)
			require.NoError(err)
			require.NotNil(keySet)

			got, err := keySet.VerifySignature(context.Background(), token)
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			require.Equal(tt.want, got)
		})
	}
}

func Test_localKeySet_VerifySignature(t *testing.T) {
	t.Parallel()
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	other, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	set := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: other.Public(), KeyID: "other", Use: "sig"},
		{Key: signer.Public(), KeyID: testKeyID, Use: "sig"},
		{Key: signer.Public(), KeyID: "enc-only", Use: "enc"},
	}}

	tests := []struct {
		name    string
		opt     []Option
		kid     string
		alg     Alg
		wantErr bool
	}{
		{name: "kid-match", kid: testKeyID, alg: ES256},
		{name: "no-kid-tries-every-key", alg: ES256},
		{name: "kid-mismatch", kid: "other", alg: ES256, wantErr: true},
		{name: "unknown-kid", kid: "missing", alg: ES256, wantErr: true},
		{name: "enc-key-skipped", kid: "enc-only", alg: ES256, wantErr: true},
		{name: "alg-not-allowed", kid: testKeyID, alg: ES256, opt: []Option{WithSigningAlgorithms(RS256)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			ks, err := NewLocalKeySet(set, tt.opt...)
			require.NoError(err)

			var kid []byte
			if tt.kid != "" {
				kid = []byte(tt.kid)
			}
			token := testSignJWT(t, signer, tt.alg, testJWTClaims(t), kid)
			got, err := ks.VerifySignature(context.Background(), token)
			if tt.wantErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(testJWTClaims(t), got)
		})
	}
}

func TestNewJSONWebKeySet(t *testing.T) {
	t.Parallel()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	srv, caPEM := testJWKSServer(t, priv.Public(), ES256, testKeyID)

	type args struct {
		jwksURL   string
		jwksCAPEM string
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{
			name: "valid JWKS URL",
			args: args{
				jwksURL:   srv.URL + wellKnownJWKS,
				jwksCAPEM: "",
			},
		},
		{
			name: "valid JWKS URL and CA PEM",
			args: args{
				jwksURL:   srv.URL + wellKnownJWKS,
				jwksCAPEM: caPEM,
			},
		},
		{
			name: "empty JWKS URL",
			args: args{
				jwksURL: "",
			},
			wantErr: true,
		},
		{
			name: "malformed JWKS CA PEM",
			args: args{
				jwksURL:   srv.URL + wellKnownJWKS,
				jwksCAPEM: "-----BEGIN CERTIFICATE-----",
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewJSONWebKeySet(context.Background(), tt.args.jwksURL, tt.args.jwksCAPEM)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewLocalKeySet(t *testing.T) {
	t.Parallel()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	valid := &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: priv.Public()}}}

	tests := []struct {
		name    string
		jwks    *jose.JSONWebKeySet
		opt     []Option
		wantErr bool
	}{
		{name: "valid", jwks: valid},
		{name: "valid-with-algs", jwks: valid, opt: []Option{WithSigningAlgorithms(ES256, ES384)}},
		{name: "nil-jwks", wantErr: true},
		{name: "empty-jwks", jwks: &jose.JSONWebKeySet{}, wantErr: true},
		{name: "unsupported-alg", jwks: valid, opt: []Option{WithSigningAlgorithms("HS256")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLocalKeySet(tt.jwks, tt.opt...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewStaticKeySet(t *testing.T) {
	t.Parallel()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(priv.Public())
	require.NoError(t, err)
	validPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))

	tests := []struct {
		name       string
		publicKeys []string
		wantErr    bool
	}{
		{name: "valid public keys", publicKeys: []string{validPEM}},
		{name: "empty public keys", wantErr: true},
		{name: "malformed public key", publicKeys: []string{validPEM, "not a pem"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStaticKeySet(tt.publicKeys)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func testJWTClaims(t *testing.T) map[string]interface{} {
	t.Helper()
	return map[string]interface{}{
		"iss": "https://example.com/",
		"sub": "alice@example.com",
		"aud": []interface{}{"www.example.com"},
		"exp": float64(1611699944),
		"nbf": float64(1611699344),
		"iat": float64(1611699344),
		"jti": "abc123",
	}
}

func testSignJWT(t *testing.T, key crypto.PrivateKey, alg Alg, claims interface{}, keyID []byte) string {
	t.Helper()

	opts := (&jose.SignerOptions{}).WithType("JWT")
	if keyID != nil {
		opts = opts.WithHeader(jose.HeaderKey("kid"), string(keyID))
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.SignatureAlgorithm(alg), Key: key},
		opts,
	)
	require.NoError(t, err)

	raw, err := jwt.Signed(sig).
		Claims(claims).
		Serialize()
	require.NoError(t, err)
	return raw
}

func TestParsePublicKeyPEM(t *testing.T) {
	t.Parallel()
	type args struct {
		pem func() ([]byte, crypto.PublicKey)
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{
			name: "parse PKIX RSA public key",
			args: args{
				pem: func() ([]byte, crypto.PublicKey) {
					priv, err := rsa.GenerateKey(rand.Reader, 2048)
					require.NoError(t, err)

					bytes, err := x509.MarshalPKIXPublicKey(priv.Public())
					require.NoError(t, err)
					return pem.EncodeToMemory(&pem.Block{
						Type:  "PUBLIC KEY",
						Bytes: bytes,
					}), priv.Public()
				},
			},
		},
		{
			name: "parse PKIX ED25519 public key",
			args: args{
				pem: func() ([]byte, crypto.PublicKey) {
					pub, _, err := ed25519.GenerateKey(rand.Reader)
					require.NoError(t, err)

					bytes, err := x509.MarshalPKIXPublicKey(pub)
					require.NoError(t, err)
					return pem.EncodeToMemory(&pem.Block{
						Type:  "PUBLIC KEY",
						Bytes: bytes,
					}), pub
				},
			},
		},
		{
			name: "parse x509 certificate ECDSA public key",
			args: args{
				pem: func() ([]byte, crypto.PublicKey) {
					priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
					require.NoError(t, err)

					template := x509.Certificate{
						SerialNumber: new(big.Int).SetInt64(123),
					}
					cert, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
					require.NoError(t, err)
					return pem.EncodeToMemory(&pem.Block{
						Type:  "CERTIFICATE",
						Bytes: cert,
					}), priv.Public()
				},
			},
		},
		{
			name: "malformed PEM",
			args: args{
				pem: func() ([]byte, crypto.PublicKey) {
					return []byte(`"-----BEGIN CERTIFICATE-----"`), nil
				},
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pemBytes, pub := tt.args.pem()
			got, err := ParsePublicKeyPEM(pemBytes)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, pub, got)
		})
	}
}
