package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreSuite checks the behaviour every Store backend must share
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("Set and Get", func(t *testing.T) {
		s := newStore(t)

		err := s.Update(ctx, func(w Writer) error {
			return w.Set([]byte("a"), []byte("1"))
		})
		require.NoError(t, err)

		err = s.View(ctx, func(r Reader) error {
			v, ok, err := r.Get([]byte("a"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("1"), v)

			_, ok, err = r.Get([]byte("missing"))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("Scan is ordered and prefix bounded", func(t *testing.T) {
		s := newStore(t)

		err := s.Update(ctx, func(w Writer) error {
			for _, n := range []uint64{300, 2, 1 << 40, 17} {
				if err := w.Set(Key([]byte("slot/"), Uint64(n)), []byte("x")); err != nil {
					return err
				}
			}
			require.NoError(t, w.Set([]byte("slos"), []byte("before")))
			return w.Set([]byte("slot0"), []byte("after"))
		})
		require.NoError(t, err)

		var got []uint64
		err = s.View(ctx, func(r Reader) error {
			return r.Scan([]byte("slot/"), func(key, _ []byte) bool {
				n, ok := ParseUint64(key)
				require.True(t, ok)
				got = append(got, n)
				return true
			})
		})
		require.NoError(t, err)
		assert.Equal(t, []uint64{2, 17, 300, 1 << 40}, got)
	})

	t.Run("Scan stops early", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, func(w Writer) error {
			for _, k := range []string{"p/a", "p/b", "p/c"} {
				if err := w.Set([]byte(k), []byte(k)); err != nil {
					return err
				}
			}
			return nil
		}))

		var seen []string
		require.NoError(t, s.View(ctx, func(r Reader) error {
			return r.Scan([]byte("p/"), func(key, _ []byte) bool {
				seen = append(seen, string(key))
				return len(seen) < 2
			})
		}))
		assert.Equal(t, []string{"p/a", "p/b"}, seen)
	})

	t.Run("Delete during Scan", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, func(w Writer) error {
			for _, k := range []string{"d/1", "d/2", "d/3"} {
				if err := w.Set([]byte(k), []byte("v")); err != nil {
					return err
				}
			}
			return nil
		}))

		require.NoError(t, s.Update(ctx, func(w Writer) error {
			return w.Scan([]byte("d/"), func(key, _ []byte) bool {
				require.NoError(t, w.Delete(key))
				return true
			})
		}))

		count := 0
		require.NoError(t, s.View(ctx, func(r Reader) error {
			return r.Scan([]byte("d/"), func(_, _ []byte) bool {
				count++
				return true
			})
		}))
		assert.Zero(t, count)
	})

	t.Run("Failed Update rolls back", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, func(w Writer) error {
			return w.Set([]byte("keep"), []byte("old"))
		}))

		boom := errors.New("boom")
		err := s.Update(ctx, func(w Writer) error {
			require.NoError(t, w.Set([]byte("keep"), []byte("new")))
			require.NoError(t, w.Set([]byte("fresh"), []byte("v")))
			require.NoError(t, w.Delete([]byte("keep")))
			return boom
		})
		require.ErrorIs(t, err, boom)

		require.NoError(t, s.View(ctx, func(r Reader) error {
			v, ok, err := r.Get([]byte("keep"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("old"), v)

			_, ok, err = r.Get([]byte("fresh"))
			require.NoError(t, err)
			assert.False(t, ok)
			return nil
		}))
	})

	t.Run("Writes are visible inside the transaction", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Update(ctx, func(w Writer) error {
			require.NoError(t, w.Set([]byte("k"), []byte("v")))
			v, ok, err := w.Get([]byte("k"))
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("v"), v)
			return nil
		}))
	})
}

func TestKeyHelpers(t *testing.T) {
	key := Key([]byte("seq/"), Uint64(42))
	n, ok := ParseUint64(key)
	require.True(t, ok)
	assert.Equal(t, uint64(42), n)

	_, ok = ParseUint64([]byte("short"))
	assert.False(t, ok)

	assert.Equal(t, []byte("slou"), prefixEnd([]byte("slot")))
	assert.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}
