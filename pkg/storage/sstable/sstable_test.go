package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func build(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snap.sst")
	b, err := NewBuilder(path)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, b.Add([]byte(fmt.Sprintf("k%05d", i)), []byte(fmt.Sprintf("v%d", i))))
	}
	require.NoError(t, b.Close())
	return path
}

func TestBuildAndGet(t *testing.T) {
	path := build(t, 1234)
	tbl, err := Open(path)
	require.NoError(t, err)
	defer tbl.Close()

	assert.Equal(t, int64(1234), tbl.Len())
	for _, i := range []int{0, 1, 99, 100, 101, 777, 1233} {
		v, ok, err := tbl.Get([]byte(fmt.Sprintf("k%05d", i)))
		require.NoError(t, err)
		require.True(t, ok, "key %d", i)
		assert.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
	for _, k := range []string{"a", "k00100x", "z"} {
		_, ok, err := tbl.Get([]byte(k))
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
}

func TestIterator(t *testing.T) {
	tbl, err := Open(build(t, 250))
	require.NoError(t, err)
	defer tbl.Close()

	it := tbl.Iterator()
	n := 0
	for it.Next() {
		assert.Equal(t, fmt.Sprintf("k%05d", n), string(it.Key()))
		n++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 250, n)
}

func TestEmptyTable(t *testing.T) {
	tbl, err := Open(build(t, 0))
	require.NoError(t, err)
	defer tbl.Close()
	assert.Equal(t, int64(0), tbl.Len())
	assert.False(t, tbl.Iterator().Next())
	_, ok, err := tbl.Get([]byte("k"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnsortedAdd(t *testing.T) {
	b, err := NewBuilder(filepath.Join(t.TempDir(), "bad.sst"))
	require.NoError(t, err)
	require.NoError(t, b.Add([]byte("b"), nil))
	assert.True(t, errors.Is(b.Add([]byte("a"), nil), ErrUnsorted))
	assert.True(t, errors.Is(b.Add([]byte("b"), nil), ErrUnsorted))
	require.NoError(t, b.Close())
}

func TestCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.sst")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0644))
	_, err := Open(path)
	assert.True(t, errors.Is(err, ErrCorrupt))

	require.NoError(t, os.WriteFile(path, make([]byte, 64), 0644))
	_, err = Open(path)
	assert.True(t, errors.Is(err, ErrCorrupt))
}
