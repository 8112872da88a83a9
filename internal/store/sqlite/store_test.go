package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandriaapp/alexandria-server/internal/store"
)

func newTestKV(t *testing.T) *KV {
	t.Helper()
	kv, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestOpen_WALMode(t *testing.T) {
	kv := newTestKV(t)

	var mode string
	require.NoError(t, kv.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var name string
	require.NoError(t, kv.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='kv'").Scan(&name))
}

func TestGetApply(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	require.NoError(t, kv.Apply(ctx, store.Put("a", []byte("1")), store.Put("b", []byte("2"))))
	require.NoError(t, kv.Apply(ctx, store.Put("a", []byte("3")), store.Del("b")))

	v, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), v)

	_, err = kv.Get(ctx, "b")
	assert.ErrorIs(t, err, store.ErrKeyNotFound)

	assert.NoError(t, kv.Apply(ctx))
}

func TestScan_PrefixBounds(t *testing.T) {
	kv := newTestKV(t)
	ctx := context.Background()

	require.NoError(t, kv.Apply(ctx,
		store.Put("book-notes-epubjs:a:note-2", []byte("n2")),
		store.Put("book-notes-epubjs:a:note-1", []byte("n1")),
		store.Put("book-notes-epubjs:b:note-3", []byte("n3")),
		store.Put("book-progress-x", []byte("bm")),
		store.Put("book:epubjs:a", []byte("book")),
	))

	var keys []string
	err := kv.Scan(ctx, "book-notes-epubjs:a:", func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"book-notes-epubjs:a:note-1", "book-notes-epubjs:a:note-2"}, keys)

	var all int
	require.NoError(t, kv.Scan(ctx, "", func(string, []byte) error { all++; return nil }))
	assert.Equal(t, 5, all)
}

func TestPrefixUpperBound(t *testing.T) {
	upper, ok := prefixUpperBound("book-")
	require.True(t, ok)
	assert.Equal(t, "book.", upper)

	_, ok = prefixUpperBound("")
	assert.False(t, ok)

	upper, ok = prefixUpperBound("a\xff")
	require.True(t, ok)
	assert.Equal(t, "b", upper)
}
