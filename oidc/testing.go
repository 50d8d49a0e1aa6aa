package oidc

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
)

// TestKeyID is the "kid" of tokens signed by TestSignJWT and of the keys
// returned by TestJWKS.
const TestKeyID = "test-signing-key"

// TestGenerateKeys will generate a test ECDSA P-256 pub/priv key pair
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	{
		derBytes, err := x509.MarshalECPrivateKey(privateKey)
		require.NoError(err)
		priv = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: derBytes}))
	}
	{
		derBytes, err := x509.MarshalPKIXPublicKey(privateKey.Public())
		require.NoError(err)
		pub = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes}))
	}
	return pub, priv
}

// TestSignJWT will bundle the provided claims into a test ES256 signed JWT
// with a "kid" of TestKeyID. The provided key must be ECDSA.
func TestSignJWT(t *testing.T, ecdsaPrivKeyPEM string, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	require := require.New(t)
	block, _ := pem.Decode([]byte(ecdsaPrivKeyPEM))
	require.NotNil(block, "unable to decode private key pem")
	key, err := x509.ParseECPrivateKey(block.Bytes)
	require.NoError(err)

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", TestKeyID),
	)
	require.NoError(err)

	builder := jwt.Signed(sig).Claims(claims)
	if privateClaims != nil {
		builder = builder.Claims(privateClaims)
	}
	raw, err := builder.Serialize()
	require.NoError(err)
	return raw
}

// TestJWKS converts a pem-encoded public key into a JWKS with a "kid" of
// TestKeyID.
func TestJWKS(t *testing.T, pubKeyPEM string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)
	block, _ := pem.Decode([]byte(pubKeyPEM))
	require.NotNil(block, "unable to decode public key pem")
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)
	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: pub, KeyID: TestKeyID, Algorithm: string(jose.ES256), Use: "sig"},
		},
	}
}

// TestAccessTokenHash returns the ES256 "at_hash" claim for accessToken.
func TestAccessTokenHash(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return base64.RawURLEncoding.EncodeToString(sum[:len(sum)/2])
}

// TestIdToken signs an id_token for a test. iat is issuedAt and exp is
// issuedAt plus lifetime. Extra claims (such as "nonce" or "at_hash") are
// added to the standard ones.
func TestIdToken(t *testing.T, ecdsaPrivKeyPEM string, issuedAt time.Time, lifetime time.Duration, extra map[string]interface{}) string {
	t.Helper()
	claims := jwt.Claims{
		Issuer:   "https://example.com/",
		Subject:  "alice@example.com",
		Audience: jwt.Audience{"test-client"},
		IssuedAt: jwt.NewNumericDate(issuedAt),
		Expiry:   jwt.NewNumericDate(issuedAt.Add(lifetime)),
	}
	var privateClaims interface{}
	if len(extra) > 0 {
		privateClaims = extra
	}
	return TestSignJWT(t, ecdsaPrivKeyPEM, claims, privateClaims)
}

// TestGenerateCA will generate a test x509 CA cert encoded in a PEM format.
func TestGenerateCA(t *testing.T, hosts []string) string {
	t.Helper()
	require := require.New(t)

	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(err)

	notBefore := time.Now()
	notAfter := notBefore.Add(2 * time.Minute)

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	require.NoError(err)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Acme Co"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	require.NoError(err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}))
}
