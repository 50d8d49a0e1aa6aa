package oidc

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// NonceLength is the number of characters of a generated nonce.
const NonceLength = 40

const nonceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewNonce generates a random alphanumeric nonce of NonceLength characters.
func NewNonce() (string, error) {
	const op = "NewNonce"
	// bytes at or above maxByte are discarded so every character is equally
	// likely.
	const maxByte = 256 - (256 % len(nonceAlphabet))
	out := make([]byte, 0, NonceLength)
	for len(out) < NonceLength {
		buf, err := uuid.GenerateRandomBytes(NonceLength)
		if err != nil {
			return "", fmt.Errorf("%s: unable to generate nonce: %w", op, err)
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			out = append(out, nonceAlphabet[int(b)%len(nonceAlphabet)])
			if len(out) == NonceLength {
				break
			}
		}
	}
	return string(out), nil
}
