package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"listdb/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDurableReplaysJournal(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	mt, err := OpenDurable(dir, "t", fields, 8)
	require.NoError(t, err)
	for i := 1; i <= 20; i++ {
		_, err := mt.Insert(ctx, rec(t, int64(i), "n", float64(i)))
		require.NoError(t, err)
	}
	_, err = mt.Update(ctx, rec(t, 3, "three", 33))
	require.NoError(t, err)
	_, err = mt.Delete(ctx, rec(t, 7, "", 0))
	require.NoError(t, err)
	null, err := common.NewRecordOf(fields, []common.Value{common.NewLong(50), common.Null(common.KindString), common.Null(common.KindDouble)})
	require.NoError(t, err)
	_, err = mt.Save(ctx, null)
	require.NoError(t, err)

	// no Close: the journal alone must restore the state
	require.NoError(t, mt.wal.Sync())
	require.NoError(t, mt.wal.Close())

	again, err := OpenDurable(dir, "t", fields, 8)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 20, again.Len())

	r, err := again.Get(ctx, []common.Value{common.NewLong(3)})
	require.NoError(t, err)
	assert.Equal(t, "three", r.MustGet("name").Str())
	_, err = again.Get(ctx, []common.Value{common.NewLong(7)})
	assert.Error(t, err)
	r, err = again.Get(ctx, []common.Value{common.NewLong(50)})
	require.NoError(t, err)
	assert.True(t, r.MustGet("name").IsNull())
	assert.True(t, r.MustGet("score").IsNull())
}

func TestDurableCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	mt, err := OpenDurable(dir, "t", fields, 8)
	require.NoError(t, err)
	for i := 1; i <= 300; i++ {
		_, err := mt.Insert(ctx, rec(t, int64(i), "n", float64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, mt.Checkpoint())
	size, err := mt.wal.Size()
	require.NoError(t, err)
	assert.Zero(t, size)

	_, err = mt.Delete(ctx, rec(t, 300, "", 0))
	require.NoError(t, err)
	require.NoError(t, mt.Close())
	_, err = os.Stat(filepath.Join(dir, "t.sst"))
	require.NoError(t, err)

	again, err := OpenDurable(dir, "t", fields, 8)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 299, again.Len())
	n, err := again.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(299), n)
}

func TestDurableTransaction(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	mt, err := OpenDurable(dir, "t", fields, 8)
	require.NoError(t, err)

	tx := mt.Transaction()
	require.NoError(t, tx.Begin(ctx))
	_, err = mt.Insert(ctx, rec(t, 1, "rolled back", 1))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	require.NoError(t, tx.Begin(ctx))
	_, err = mt.Insert(ctx, rec(t, 2, "committed", 2))
	require.NoError(t, err)
	assert.Error(t, mt.Checkpoint())
	require.NoError(t, tx.Commit())
	require.NoError(t, mt.wal.Close())

	again, err := OpenDurable(dir, "t", fields, 8)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 1, again.Len())
	_, err = again.Get(ctx, []common.Value{common.NewLong(2)})
	assert.NoError(t, err)
}

func TestDurableTornTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	mt, err := OpenDurable(dir, "t", fields, 8)
	require.NoError(t, err)
	for i := 1; i <= 3; i++ {
		_, err := mt.Insert(ctx, rec(t, int64(i), "n", float64(i)))
		require.NoError(t, err)
	}
	require.NoError(t, mt.wal.Close())

	path := filepath.Join(dir, "t.wal")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-2], 0644))

	again, err := OpenDurable(dir, "t", fields, 8)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 2, again.Len())
}

func TestVolatileCloseIsNoop(t *testing.T) {
	mt := filled(t, 3)
	assert.NoError(t, mt.Checkpoint())
	assert.NoError(t, mt.Close())
}
