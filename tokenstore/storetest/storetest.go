// Package storetest holds the behaviour every tokenstore.Store must share.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/vmcp-gateway/tokenstore"
	"github.com/stretchr/testify/require"
)

// Run exercises the Store contract against a fresh store from newStore.
func Run(t *testing.T, newStore func(t *testing.T) tokenstore.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get absent", func(t *testing.T) {
		s := newStore(t)
		v, ok, err := s.Get(ctx, tokenstore.KeyAccessToken)
		require.NoError(t, err)
		require.False(t, ok)
		require.Empty(t, v)
	})

	t.Run("set then get", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, tokenstore.KeyAccessToken, "at-1"))
		require.NoError(t, s.Set(ctx, tokenstore.KeyAccessToken, "at-2"))

		v, ok, err := s.Get(ctx, tokenstore.KeyAccessToken)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "at-2", v)
	})

	t.Run("clear", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, tokenstore.KeyRefreshToken, "rt"))
		require.NoError(t, s.Clear(ctx, tokenstore.KeyRefreshToken))
		require.NoError(t, s.Clear(ctx, tokenstore.KeyRefreshToken))

		_, ok, err := s.Get(ctx, tokenstore.KeyRefreshToken)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("empty value is present", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, tokenstore.KeyOAuthMode, ""))
		_, ok, err := s.Get(ctx, tokenstore.KeyOAuthMode)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("take is single use", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, tokenstore.KeyOAuthState, "S"))

		v, ok, err := s.Take(ctx, tokenstore.KeyOAuthState)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "S", v)

		_, ok, err = s.Take(ctx, tokenstore.KeyOAuthState)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("concurrent take yields one winner", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, tokenstore.KeyOAuthState, "S"))

		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, err := s.Take(ctx, tokenstore.KeyOAuthState); err == nil && ok {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, int32(1), winners.Load())
	})

	t.Run("clear all", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Set(ctx, tokenstore.KeyAccessToken, "at"))
		require.NoError(t, s.Set(ctx, tokenstore.KeyRefreshToken, "rt"))
		require.NoError(t, tokenstore.ClearAll(ctx, s, tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken))

		for _, name := range []string{tokenstore.KeyAccessToken, tokenstore.KeyRefreshToken} {
			_, ok, err := s.Get(ctx, name)
			require.NoError(t, err)
			require.False(t, ok, name)
		}
	})
}
