package kv

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	err := s.View(context.Background(), func(r Reader) error { return nil })
	require.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStoreManyKeys(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	const n = 2000
	require.NoError(t, s.Update(ctx, func(w Writer) error {
		for _, i := range rand.Perm(n) {
			if err := w.Set(Key([]byte("n/"), Uint64(uint64(i))), []byte{byte(i)}); err != nil {
				return err
			}
		}
		return nil
	}))

	var got []uint64
	require.NoError(t, s.View(ctx, func(r Reader) error {
		return r.Scan([]byte("n/"), func(key, _ []byte) bool {
			id, _ := ParseUint64(key)
			got = append(got, id)
			return true
		})
	}))
	require.Len(t, got, n)
	for i, id := range got {
		require.Equal(t, uint64(i), id)
	}
}

func TestMemoryStoreWriteDuringScan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(w Writer) error {
		for _, k := range []string{"w/a", "w/b", "w/c"} {
			if err := w.Set([]byte(k), []byte("1")); err != nil {
				return err
			}
		}
		return nil
	}))

	var visited []string
	require.NoError(t, s.Update(ctx, func(w Writer) error {
		return w.Scan([]byte("w/"), func(key, _ []byte) bool {
			visited = append(visited, string(key))
			// keys added during the scan are not visited
			require.NoError(t, w.Set(append(key, 'x'), []byte("2")))
			return true
		})
	}))
	require.Equal(t, []string{"w/a", "w/b", "w/c"}, visited)

	require.NoError(t, s.View(ctx, func(r Reader) error {
		_, ok, err := r.Get([]byte("w/bx"))
		require.NoError(t, err)
		require.True(t, ok)
		return nil
	}))
}
