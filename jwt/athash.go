package jwt

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// VerifyAccessTokenHash reports whether the "at_hash" claim of idToken binds
// it to accessToken. The hash function is picked from the id_token's signing
// algorithm. An id_token without an "at_hash" claim, or an empty accessToken,
// has nothing to compare and reports true.
//
// The id_token signature is not verified here; pair it with a KeySet.
func VerifyAccessTokenHash(ctx context.Context, idToken, accessToken string) (bool, error) {
	if idToken == "" {
		return false, errors.New("id_token must not be empty")
	}
	if accessToken == "" {
		return true, nil
	}
	parser := oidc.NewVerifier("", nil, &oidc.Config{
		SkipClientIDCheck:          true,
		SkipExpiryCheck:            true,
		SkipIssuerCheck:            true,
		InsecureSkipSignatureCheck: true,
		SupportedSigningAlgs:       algStrings(joseAlgorithms()),
	})
	tk, err := parser.Verify(ctx, idToken)
	if err != nil {
		return false, fmt.Errorf("unable to parse id_token: %w", err)
	}
	if tk.AccessTokenHash == "" {
		return true, nil
	}
	return tk.VerifyAccessToken(accessToken) == nil, nil
}
