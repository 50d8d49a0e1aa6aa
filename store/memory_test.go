package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/mauth/oidcsession/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	m := store.NewMemory()

	_, ok, err := m.Get(ctx, "access_token")
	require.NoError(err)
	assert.False(ok)

	require.NoError(m.Set(ctx, "access_token", "at"))
	v, ok, err := m.Get(ctx, "access_token")
	require.NoError(err)
	assert.True(ok)
	assert.Equal("at", v)

	snap := m.Snapshot()
	snap["access_token"] = "changed"
	v, _, _ = m.Get(ctx, "access_token")
	assert.Equal("at", v)

	require.NoError(m.Remove(ctx, "access_token"))
	require.NoError(m.Remove(ctx, "missing"))
	_, ok, err = m.Get(ctx, "access_token")
	require.NoError(err)
	assert.False(ok)
}

func TestMemory_concurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := store.NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Set(ctx, "k", "v")
			_, _, _ = m.Get(ctx, "k")
			_ = m.Remove(ctx, "k")
		}()
	}
	wg.Wait()
}
