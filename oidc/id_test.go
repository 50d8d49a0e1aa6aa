package oidc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNonce(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		got, err := NewNonce()
		require.NoError(err)
		assert.Lenf(got, NonceLength, "NewNonce() = %v, with len of %d and wanted len of %v", got, len(got), NonceLength)
		assert.Regexp(`^[A-Za-z0-9]+$`, got)
		assert.Falsef(seen[got], "NewNonce() repeated %s", got)
		seen[got] = true
	}
}
