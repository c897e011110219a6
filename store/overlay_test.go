package store

import (
	"fmt"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefault(log.NewLogger(log.NewTerminalHandler(os.Stderr, true)))
}

func TestOverlayReadThrough(t *testing.T) {
	db := NewMemory()
	require.NoError(t, db.Put([]byte("a"), []byte("1")))

	o := NewOverlay(db, 1)
	v, ok := o.Get([]byte("a"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	o.Set([]byte("b"), []byte("2"))
	o.Delete([]byte("a"))
	require.False(t, o.Has([]byte("a")))

	// Nothing reaches the KV before Flush.
	ok, _ = db.Has([]byte("b"))
	require.False(t, ok)
	ok, _ = db.Has([]byte("a"))
	require.True(t, ok)

	require.NoError(t, o.Flush())
	require.Zero(t, o.Dirty())
	ok, _ = db.Has([]byte("a"))
	require.False(t, ok)
	got, err := db.Get([]byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("2"), got)

	// The cache must not resurrect deleted keys.
	require.False(t, o.Has([]byte("a")))
}

func TestCloneCommitAndDiscard(t *testing.T) {
	o := NewOverlay(NewMemory(), 1)
	o.Set([]byte("k"), []byte("block"))

	tx := o.Clone()
	tx.Set([]byte("k"), []byte("tx"))
	tx.Set([]byte("n"), []byte("new"))
	v, _ := tx.Get([]byte("k"))
	require.Equal(t, []byte("tx"), v)
	v, _ = o.Get([]byte("k"))
	require.Equal(t, []byte("block"), v, "parent must not see uncommitted writes")

	tx.Commit()
	v, _ = o.Get([]byte("k"))
	require.Equal(t, []byte("tx"), v)
	require.True(t, o.Has([]byte("n")))

	failed := o.Clone()
	failed.Delete([]byte("k"))
	failed.Set([]byte("z"), []byte("z"))
	// dropped without Commit
	require.True(t, o.Has([]byte("k")))
	require.False(t, o.Has([]byte("z")))

	require.Error(t, failed.Flush())
}

func TestIterateMergesLayers(t *testing.T) {
	db := NewMemory()
	for i := 0; i < 4; i++ {
		require.NoError(t, db.Put([]byte(fmt.Sprintf("p/%d", i)), []byte{byte(i)}))
	}
	require.NoError(t, db.Put([]byte("q/0"), []byte{9}))

	o := NewOverlay(db, 1)
	o.Delete([]byte("p/1"))
	tx := o.Clone()
	tx.Set([]byte("p/5"), []byte{5})
	tx.Set([]byte("p/0"), []byte{10})

	var keys []string
	var vals []byte
	tx.Iterate([]byte("p/"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		vals = append(vals, v[0])
		return true
	})
	require.Equal(t, []string{"p/0", "p/2", "p/3", "p/5"}, keys)
	require.Equal(t, []byte{10, 2, 3, 5}, vals)

	n := 0
	tx.Iterate([]byte("p/"), func(k, v []byte) bool {
		n++
		return n < 2
	})
	require.Equal(t, 2, n)
}

func TestPrefetchWarmsCache(t *testing.T) {
	db := NewMemory()
	require.NoError(t, db.Put([]byte("x"), []byte("1")))
	require.NoError(t, db.Put([]byte("y"), []byte("2")))

	o := NewOverlay(db, 1)
	require.Equal(t, 2, o.Prefetch([][]byte{[]byte("x"), []byte("y"), []byte("missing")}))
	require.Equal(t, 0, o.Prefetch([][]byte{[]byte("x")}))
	require.Equal(t, 0, o.Clone().Prefetch([][]byte{[]byte("x")}))

	// Served from cache even after the backend forgets the key.
	require.NoError(t, db.Delete([]byte("x")))
	v, ok := o.Get([]byte("x"))
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
}

func TestDiskBackends(t *testing.T) {
	for _, engine := range []string{"leveldb", "pebble"} {
		t.Run(engine, func(t *testing.T) {
			db, err := Open(engine, t.TempDir(), 8)
			require.NoError(t, err)
			defer db.Close()

			o := NewOverlay(db, 1)
			o.Set([]byte("acct/1"), []byte("one"))
			o.Set([]byte("acct/2"), []byte("two"))
			o.Set([]byte("other"), []byte("x"))
			require.NoError(t, o.Flush())

			v, err := db.Get([]byte("acct/2"))
			require.NoError(t, err)
			require.Equal(t, []byte("two"), v)
			_, err = db.Get([]byte("acct/3"))
			require.ErrorIs(t, err, ErrNotFound)

			var keys []string
			require.NoError(t, db.Iterate([]byte("acct/"), func(k, _ []byte) bool {
				keys = append(keys, string(k))
				return true
			}))
			require.Equal(t, []string{"acct/1", "acct/2"}, keys)

			o.Delete([]byte("acct/1"))
			require.NoError(t, o.Flush())
			ok, err := db.Has([]byte("acct/1"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
	_, err := Open("bolt", "", 0)
	require.Error(t, err)
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte("b"), prefixEnd([]byte("a")))
	require.Equal(t, []byte{0x01}, prefixEnd([]byte{0x00, 0xff}))
	require.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}
