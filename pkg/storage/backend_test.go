package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"listdb/pkg/common"
	"listdb/pkg/criteria"
	"listdb/pkg/logger"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTable struct {
	fields common.FieldList
	id     *common.Field
	name   *common.Field
	score  *common.Field
	price  *common.Field
	born   *common.Field
}

func newTestTable() testTable {
	id := common.NewField("id", common.KindLong, common.AsPrimaryKey())
	name := common.NewField("name", common.KindString, common.WithLength(32, 0))
	score := common.NewField("score", common.KindInteger)
	price := common.NewField("price", common.KindDecimal, common.WithLength(10, 2))
	born := common.NewField("born", common.KindDate)
	return testTable{
		fields: common.FieldList{id, name, score, price, born},
		id:     id, name: name, score: score, price: price, born: born,
	}
}

func (tt testTable) row(t *testing.T, id int64, name string, score int32) *common.Record {
	t.Helper()
	nv := common.NewString(name)
	if name == "" {
		nv = common.Null(common.KindString)
	}
	r, err := common.NewRecordOf(tt.fields, []common.Value{
		common.NewLong(id),
		nv,
		common.NewInteger(score),
		common.NewDecimal(decimal.New(id*25, -2)),
		common.NewDateOf(2000+int(id%20), time.Month(1+id%12), 1+int(id%28)),
	})
	require.NoError(t, err)
	return r
}

func openTest(t *testing.T) (*SQLPersistor, testTable) {
	t.Helper()
	tt := newTestTable()
	p, err := OpenSQL(SQLOptions{
		DSN:    filepath.Join(t.TempDir(), "test.db"),
		Table:  "people",
		Fields: tt.fields,
		Log:    logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.CreateTable(context.Background()))
	return p, tt
}

func seed(t *testing.T, p Persistor, tt testTable) []*common.Record {
	t.Helper()
	names := []string{"alice", "Bob", "", "carol", "50%_off", "dave", "", "Alan"}
	var out []*common.Record
	for i, n := range names {
		r := tt.row(t, int64(i+1), n, int32((i*7)%5))
		_, err := p.Insert(context.Background(), r)
		require.NoError(t, err)
		out = append(out, r)
	}
	return out
}

func TestSQLInsertGetExists(t *testing.T) {
	ctx := context.Background()
	p, tt := openTest(t)
	rows := seed(t, p, tt)

	got, err := p.Get(ctx, []common.Value{common.NewLong(4)})
	require.NoError(t, err)
	assert.Equal(t, rows[3].Map(), got.Map())

	_, err = p.Get(ctx, []common.Value{common.NewLong(99)})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = p.Insert(ctx, rows[0])
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	ok, err := p.Exists(ctx, rows[1])
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.Exists(ctx, tt.row(t, 100, "x", 1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLCountMatchesInMemoryCheck(t *testing.T) {
	ctx := context.Background()
	p, tt := openTest(t)
	rows := seed(t, p, tt)

	must := func(c *criteria.Condition, err error) *criteria.Condition {
		require.NoError(t, err)
		return c
	}
	cases := map[string]*criteria.Criteria{
		"starts case-sensitive": criteria.Where(must(criteria.StartsWith(tt.name, common.NewString("A")))),
		"starts no-case":        criteria.Where(must(criteria.StartsWithNoCase(tt.name, common.NewString("a")))),
		"escaped pattern":       criteria.Where(must(criteria.Contains(tt.name, common.NewString("%_")))),
		"ne keeps nulls":        criteria.Where(must(criteria.FieldNE(tt.name, common.NewString("dave")))),
		"not in":                criteria.Where(must(criteria.NotInList(tt.score, common.NewInteger(0), common.NewInteger(1)))),
		"between":               criteria.Where(must(criteria.Between(tt.id, common.NewLong(2), common.NewLong(5)))),
		"is null":               criteria.Where(must(criteria.IsNull(tt.name))),
		"decimal gt":            criteria.Where(must(criteria.FieldGT(tt.price, common.NewDecimal(decimal.RequireFromString("1.00"))))),
		"date le":               criteria.Where(must(criteria.FieldLE(tt.born, common.NewDateOf(2004, time.June, 1)))),
		"or of ands": criteria.New(criteria.Or).
			Add(criteria.And, must(criteria.FieldEQ(tt.score, common.NewInteger(2))), must(criteria.FieldGT(tt.id, common.NewLong(3)))).
			Add(criteria.And, must(criteria.FieldEQNoCase(tt.name, common.NewString("BOB")))),
		"negated nested": criteria.New(criteria.And).AddCriteria(
			criteria.Where(must(criteria.EndsWith(tt.name, common.NewString("e")))), true),
		"nothing": criteria.Nothing(),
		"empty":   nil,
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			want := 0
			for _, r := range rows {
				ok, err := c.Check(r)
				require.NoError(t, err)
				if ok {
					want++
				}
			}
			n, err := p.Count(ctx, c)
			require.NoError(t, err)
			assert.Equal(t, int64(want), n, c.String())
		})
	}
}

func TestSQLIteratorOrder(t *testing.T) {
	ctx := context.Background()
	p, tt := openTest(t)
	seed(t, p, tt)

	order := common.NewOrder(common.Asc(tt.name), common.Desc(tt.id))
	it, err := p.Iterator(ctx, nil, order)
	require.NoError(t, err)
	recs, err := Collect(it, -1)
	require.NoError(t, err)
	require.Len(t, recs, 8)

	for i := 1; i < len(recs); i++ {
		c, err := common.CompareRecords(recs[i-1], recs[i], order)
		require.NoError(t, err)
		assert.Equal(t, -1, c, "%s before %s", recs[i-1], recs[i])
	}
	assert.True(t, recs[0].MustGet("name").IsNull(), "nulls sort first")
	assert.Equal(t, int64(7), recs[0].MustGet("id").Long())

	move, err := criteria.Move(order, mustKey(t, recs[3], order), true)
	require.NoError(t, err)
	n, err := p.Count(ctx, move)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func mustKey(t *testing.T, r *common.Record, o common.Order) common.OrderKey {
	t.Helper()
	k, err := common.KeyOf(r, o)
	require.NoError(t, err)
	return k
}

func TestSQLMutations(t *testing.T) {
	ctx := context.Background()
	p, tt := openTest(t)
	rows := seed(t, p, tt)

	r := rows[0].Copy()
	require.NoError(t, r.Set("name", common.NewString("alicia")))
	n, err := p.Update(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = p.Update(ctx, tt.row(t, 404, "ghost", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = p.Save(ctx, tt.row(t, 9, "erin", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = p.Save(ctx, tt.row(t, 9, "erin2", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stale := tt.row(t, 9, "stale", 0)
	ok, err := p.Refresh(ctx, stale)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "erin2", stale.MustGet("name").Str())

	n, err = p.Delete(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	ok, err = p.Refresh(ctx, stale)
	require.NoError(t, err)
	assert.False(t, ok)

	total, err := p.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(8), total)
}

func TestSQLAggregates(t *testing.T) {
	ctx := context.Background()
	p, tt := openTest(t)
	seed(t, p, tt)

	mins, err := p.Min(ctx, nil, tt.id, tt.name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mins["id"].Long())
	assert.Equal(t, "50%_off", mins["name"].Str())

	maxs, err := p.Max(ctx, nil, tt.id)
	require.NoError(t, err)
	assert.Equal(t, int64(8), maxs["id"].Long())

	sums, err := p.Sum(ctx, nil, tt.id, tt.score)
	require.NoError(t, err)
	assert.Equal(t, int64(36), sums["id"].Long())
	assert.Equal(t, common.KindLong, sums["score"].Kind())

	_, err = p.Sum(ctx, nil, tt.name)
	assert.True(t, errors.Is(err, common.ErrKindMismatch))

	empty, err := p.Max(ctx, criteria.Nothing(), tt.id)
	require.NoError(t, err)
	assert.True(t, empty["id"].IsNull())
}

func TestSQLTransaction(t *testing.T) {
	ctx := context.Background()
	p, tt := openTest(t)
	tx := p.Transaction()

	assert.True(t, errors.Is(tx.Commit(), ErrNoTransaction))

	require.NoError(t, tx.Begin(ctx))
	assert.True(t, tx.Active())
	assert.True(t, errors.Is(tx.Begin(ctx), ErrTransactionActive))
	_, err := p.Insert(ctx, tt.row(t, 1, "a", 1))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.False(t, tx.Active())

	n, err := p.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, tx.Begin(ctx))
	_, err = p.Insert(ctx, tt.row(t, 1, "a", 1))
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	n, err = p.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMySQLDialect(t *testing.T) {
	tt := newTestTable()
	p, err := NewSQLPersistor(nil, DriverMySQL, "people", tt.fields, logger.Discard())
	require.NoError(t, err)

	ddl := p.DDL()
	assert.Contains(t, ddl, "`id` BIGINT NOT NULL")
	assert.Contains(t, ddl, "`name` VARCHAR(32)")
	assert.Contains(t, ddl, "`price` DECIMAL(10,2)")
	assert.Contains(t, ddl, "PRIMARY KEY (`id`)")

	up := mysqlDialect.upsert("`people`", []string{"`id`", "`name`"}, []string{"`id`"})
	assert.Equal(t, "INSERT INTO `people` (`id`, `name`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `id` = VALUES(`id`), `name` = VALUES(`name`)", up)

	c, err := criteria.FieldNE(tt.name, common.NewString("x"))
	require.NoError(t, err)
	sw, err := criteria.StartsWith(tt.name, common.NewString("a_b"))
	require.NoError(t, err)
	where, args, err := mysqlDialect.where(criteria.Where(c, sw))
	require.NoError(t, err)
	assert.Equal(t, "((`name` IS NULL OR NOT (`name` = ?)) AND BINARY `name` LIKE ?)", where)
	assert.Equal(t, []any{"x", `a\_b%`}, args)

	dsn, err := mysqlDSN("user:pw@tcp(localhost:3306)/listdb")
	require.NoError(t, err)
	assert.True(t, strings.Contains(dsn, "parseTime=true"), dsn)
	assert.True(t, strings.Contains(dsn, "clientFoundRows=true"), dsn)

	_, err = dialectFor("oracle")
	assert.Error(t, err)
}

func TestSQLiteDDL(t *testing.T) {
	p, _ := openTest(t)
	ddl := p.DDL()
	assert.True(t, strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "people"`), ddl)
	assert.Contains(t, ddl, `"born" TEXT`)
	assert.Equal(t, `"a""b"`, sqliteDialect.ident(`a"b`))
}
