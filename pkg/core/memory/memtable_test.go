package memory

import (
	"context"
	"testing"

	"listdb/pkg/common"
	"listdb/pkg/criteria"
	"listdb/pkg/storage"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idField    = common.NewField("id", common.KindLong, common.AsPrimaryKey())
	nameField  = common.NewField("name", common.KindString)
	scoreField = common.NewField("score", common.KindDouble)
	fields     = common.FieldList{idField, nameField, scoreField}
)

func rec(t *testing.T, id int64, name string, score float64) *common.Record {
	t.Helper()
	r, err := common.NewRecordOf(fields, []common.Value{common.NewLong(id), common.NewString(name), common.NewDouble(score)})
	require.NoError(t, err)
	return r
}

func filled(t *testing.T, n int) *MemTable {
	t.Helper()
	mt, err := NewMemTable("t", fields, 8)
	require.NoError(t, err)
	for i := n; i >= 1; i-- {
		_, err := mt.Insert(context.Background(), rec(t, int64(i), string(rune('a'+i%26)), float64(i)/2))
		require.NoError(t, err)
	}
	return mt
}

func TestMemTableCRUD(t *testing.T) {
	ctx := context.Background()
	mt := filled(t, 10)
	assert.Equal(t, 10, mt.Len())

	_, err := mt.Insert(ctx, rec(t, 3, "dup", 0))
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

	got, err := mt.Get(ctx, []common.Value{common.NewLong(3)})
	require.NoError(t, err)
	assert.Equal(t, "d", got.MustGet("name").Str())

	// returned records are private copies
	require.NoError(t, got.Set("name", common.NewString("changed")))
	again, err := mt.Get(ctx, []common.Value{common.NewLong(3)})
	require.NoError(t, err)
	assert.Equal(t, "d", again.MustGet("name").Str())

	n, err := mt.Update(ctx, rec(t, 99, "x", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	n, err = mt.Update(ctx, rec(t, 3, "upd", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = mt.Delete(ctx, rec(t, 99, "", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	n, err = mt.Delete(ctx, rec(t, 3, "", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := mt.Exists(ctx, rec(t, 3, "", 0))
	require.NoError(t, err)
	assert.False(t, ok, "deleted keys still pass the bloom filter but not the tree")
	ok, err = mt.Exists(ctx, rec(t, 1000, "", 0))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = mt.Get(ctx, []common.Value{common.NewLong(3)})
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = mt.Get(ctx, []common.Value{common.Null(common.KindLong)})
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestMemTableIteratorOrders(t *testing.T) {
	ctx := context.Background()
	mt := filled(t, 30)

	keyOrder := common.NewOrder(common.Asc(idField))
	recs, err := storage.Collect(must(mt.Iterator(ctx, nil, keyOrder)))
	require.NoError(t, err)
	require.Len(t, recs, 30)
	assert.Equal(t, int64(1), recs[0].MustGet("id").Long())

	recs, err = storage.Collect(must(mt.Iterator(ctx, nil, keyOrder.Reverse())))
	require.NoError(t, err)
	assert.Equal(t, int64(30), recs[0].MustGet("id").Long())

	byName := common.NewOrder(common.Desc(nameField), common.Asc(idField))
	gt, err := criteria.FieldGT(scoreField, common.NewDouble(5))
	require.NoError(t, err)
	recs, err = storage.Collect(must(mt.Iterator(ctx, criteria.Where(gt), byName)))
	require.NoError(t, err)
	require.Len(t, recs, 20)
	for i := 1; i < len(recs); i++ {
		c, err := common.CompareRecords(recs[i-1], recs[i], byName)
		require.NoError(t, err)
		assert.Negative(t, c)
	}

	n, err := mt.Count(ctx, criteria.Where(gt))
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

func must(it storage.Iterator, err error) (storage.Iterator, int) {
	if err != nil {
		panic(err)
	}
	return it, -1
}

func TestMemTableAggregates(t *testing.T) {
	ctx := context.Background()
	mt := filled(t, 4)

	mins, err := mt.Min(ctx, nil, idField, nameField)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mins["id"].Long())
	assert.Equal(t, "b", mins["name"].Str())

	maxs, err := mt.Max(ctx, nil, scoreField)
	require.NoError(t, err)
	assert.Equal(t, 2.0, maxs["score"].Float())

	sums, err := mt.Sum(ctx, nil, idField, scoreField)
	require.NoError(t, err)
	assert.Equal(t, int64(10), sums["id"].Long())
	assert.Equal(t, 5.0, sums["score"].Float())

	sums, err = mt.Sum(ctx, criteria.Nothing(), idField)
	require.NoError(t, err)
	assert.True(t, sums["id"].IsNull())

	_, err = mt.Sum(ctx, nil, nameField)
	assert.True(t, errors.Is(err, common.ErrKindMismatch))
}

func TestMemTableTransaction(t *testing.T) {
	ctx := context.Background()
	mt := filled(t, 5)
	tx := mt.Transaction()

	require.NoError(t, tx.Begin(ctx))
	assert.True(t, errors.Is(tx.Begin(ctx), storage.ErrTransactionActive))
	_, err := mt.Insert(ctx, rec(t, 6, "f", 3))
	require.NoError(t, err)
	_, err = mt.Delete(ctx, rec(t, 1, "", 0))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, 5, mt.Len())
	ok, err := mt.Exists(ctx, rec(t, 1, "", 0))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, tx.Begin(ctx))
	_, err = mt.Insert(ctx, rec(t, 6, "f", 3))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.Equal(t, 6, mt.Len())
	assert.True(t, errors.Is(tx.Rollback(), storage.ErrNoTransaction))
}

func TestMemTableRefreshAndDDL(t *testing.T) {
	ctx := context.Background()
	mt := filled(t, 2)
	r := rec(t, 2, "stale", 0)
	ok, err := mt.Refresh(ctx, r)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c", r.MustGet("name").Str())

	assert.Equal(t, "MEMORY TABLE t (id long PRIMARY KEY, name string, score double)", mt.DDL())

	_, err = NewMemTable("nokey", common.FieldList{nameField}, 8)
	assert.Error(t, err)
}
