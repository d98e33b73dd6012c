package cache

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openTemp(t, time.Hour)

	data := bytes.Repeat([]byte(`{"type":"way","id":1}`), 100)
	key := Key("https://overpass", "query")
	require.NoError(t, c.Put(key, data))

	got, ok, err := c.Get(key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, data, got)

	_, ok, err = c.Get(Key("other"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := openTemp(t, time.Minute)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put("a", []byte("old")))
	now = now.Add(30 * time.Second)
	require.NoError(t, c.Put("b", []byte("new")))

	now = now.Add(45 * time.Second)
	_, ok, err := c.Get("a")
	require.NoError(t, err)
	assert.False(t, ok, "a is 75s old")

	_, ok, err = c.Get("b")
	require.NoError(t, err)
	assert.True(t, ok, "b is 45s old")

	removed, err := c.Purge()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestNoTTL(t *testing.T) {
	c := openTemp(t, 0)
	c.now = func() time.Time { return time.Unix(0, 0) }
	require.NoError(t, c.Put("k", []byte("v")))

	c.now = func() time.Time { return time.Unix(1<<40, 0) }
	_, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := Open(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Put("k", []byte("v")))
	require.NoError(t, c.Close())

	c, err = Open(path, time.Hour)
	require.NoError(t, err)
	defer c.Close()
	got, ok, err := c.Get("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestClosed(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), 0)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "double close is fine")

	_, _, err = c.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.Put("k", nil), ErrClosed)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("a", "b"), Key("a", "b"))
	assert.NotEqual(t, Key("a", "b"), Key("ab"))
	assert.Len(t, Key("x"), 32)
}
