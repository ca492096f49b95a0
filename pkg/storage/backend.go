package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"listdb/pkg/common"
	"listdb/pkg/criteria"
	"listdb/pkg/logger"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// SQLOptions describes the table a SQLPersistor serves.
type SQLOptions struct {
	Driver string // sqlite (default) or mysql
	DSN    string // file path for sqlite
	Table  string
	Fields common.FieldList
	Log    *logrus.Entry
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLPersistor serves one table through database/sql.
type SQLPersistor struct {
	db      *sql.DB
	d       *dialect
	table   string
	fields  common.FieldList
	keys    common.FieldList
	columns string
	log     *logrus.Entry

	mu sync.Mutex
	tx *sql.Tx
}

func OpenSQL(opts SQLOptions) (*SQLPersistor, error) {
	d, err := dialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	if opts.Table == "" {
		return nil, errors.New("table name is required")
	}
	if len(opts.Fields) == 0 {
		return nil, errors.New("field list is required")
	}

	dsn := opts.DSN
	switch d.name {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverMySQL:
		if dsn, err = mysqlDSN(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(d.name, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", d.name)
	}
	return NewSQLPersistor(db, d.name, opts.Table, opts.Fields, opts.Log)
}

// NewSQLPersistor wraps an already opened database. The persistor owns db from
// then on and closes it in Close.
func NewSQLPersistor(db *sql.DB, driver, table string, fields common.FieldList, log *logrus.Entry) (*SQLPersistor, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Component("storage")
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = d.ident(f.Name)
	}
	return &SQLPersistor{
		db:      db,
		d:       d,
		table:   d.ident(table),
		fields:  fields,
		keys:    fields.PrimaryKeys(),
		columns: strings.Join(cols, ", "),
		log:     log.WithField("table", table),
	}, nil
}

func (p *SQLPersistor) FieldList() common.FieldList { return p.fields }

func (p *SQLPersistor) Close() error {
	return p.db.Close()
}

func (p *SQLPersistor) conn() queryer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tx != nil {
		return p.tx
	}
	return p.db
}

// DDL returns the CREATE TABLE statement for the field list.
func (p *SQLPersistor) DDL() string {
	defs := make([]string, 0, len(p.fields)+1)
	for _, f := range p.fields {
		def := p.d.ident(f.Name) + " " + p.d.columnType(f)
		if !f.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(p.keys) > 0 {
		keys := make([]string, len(p.keys))
		for i, f := range p.keys {
			keys[i] = p.d.ident(f.Name)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", p.table, strings.Join(defs, ",\n\t"))
}

func (p *SQLPersistor) CreateTable(ctx context.Context) error {
	if _, err := p.conn().ExecContext(ctx, p.DDL()); err != nil {
		return errors.Wrap(err, "create table")
	}
	p.log.WithField("driver", p.d.name).Debug("table ready")
	return nil
}

func (p *SQLPersistor) whereClause(c *criteria.Criteria) (string, []any, error) {
	w, args, err := p.d.where(c)
	if err != nil || w == "" {
		return "", nil, err
	}
	return " WHERE " + w, args, nil
}

func (p *SQLPersistor) Count(ctx context.Context, c *criteria.Criteria) (int64, error) {
	where, args, err := p.whereClause(c)
	if err != nil {
		return 0, err
	}
	var n int64
	q := "SELECT COUNT(*) FROM " + p.table + where
	if err := p.conn().QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count %s", c)
	}
	return n, nil
}

func (p *SQLPersistor) Iterator(ctx context.Context, c *criteria.Criteria, order common.Order) (Iterator, error) {
	where, args, err := p.whereClause(c)
	if err != nil {
		return nil, err
	}
	q := "SELECT " + p.columns + " FROM " + p.table + where
	if len(order) > 0 {
		q += " ORDER BY " + p.d.orderBy(order)
	}
	p.log.WithField("sql", q).Trace("iterate")
	rows, err := p.conn().QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", c)
	}
	return &rowIterator{rows: rows, fields: p.fields}, nil
}

func (p *SQLPersistor) keyWhere(key []common.Value) (string, []any, error) {
	c, err := criteria.KeyEqual(p.keys, key)
	if err != nil {
		return "", nil, err
	}
	return p.whereClause(c)
}

func (p *SQLPersistor) Get(ctx context.Context, key []common.Value) (*common.Record, error) {
	where, args, err := p.keyWhere(key)
	if err != nil {
		return nil, err
	}
	rows, err := p.conn().QueryContext(ctx, "SELECT "+p.columns+" FROM "+p.table+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "get")
	}
	recs, err := Collect(&rowIterator{rows: rows, fields: p.fields}, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, errors.Wrapf(ErrNotFound, "key %v", key)
	}
	return recs[0], nil
}

func (p *SQLPersistor) Exists(ctx context.Context, r *common.Record) (bool, error) {
	where, args, err := p.keyWhere(r.PrimaryKey())
	if err != nil {
		return false, err
	}
	var one int
	err = p.conn().QueryRowContext(ctx, "SELECT 1 FROM "+p.table+where, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "exists")
	}
	return true, nil
}

func (p *SQLPersistor) args(r *common.Record) []any {
	out := make([]any, len(r.Values()))
	for i, v := range r.Values() {
		out[i] = toArg(v)
	}
	return out
}

func (p *SQLPersistor) Insert(ctx context.Context, r *common.Record) (int64, error) {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", p.table, p.columns, placeholders(len(p.fields)))
	res, err := p.conn().ExecContext(ctx, q, p.args(r)...)
	if err != nil {
		if p.d.isDuplicate(err) {
			return 0, errors.Wrapf(ErrDuplicateKey, "key %v", r.PrimaryKey())
		}
		return 0, errors.Wrap(err, "insert")
	}
	return res.RowsAffected()
}

func (p *SQLPersistor) Update(ctx context.Context, r *common.Record) (int64, error) {
	var (
		set  []string
		args []any
	)
	for i, f := range p.fields {
		if f.PrimaryKey {
			continue
		}
		set = append(set, p.d.ident(f.Name)+" = ?")
		args = append(args, toArg(r.Values()[i]))
	}
	if len(set) == 0 {
		return 0, nil
	}
	where, keyArgs, err := p.keyWhere(r.PrimaryKey())
	if err != nil {
		return 0, err
	}
	q := "UPDATE " + p.table + " SET " + strings.Join(set, ", ") + where
	res, err := p.conn().ExecContext(ctx, q, append(args, keyArgs...)...)
	if err != nil {
		return 0, errors.Wrap(err, "update")
	}
	return res.RowsAffected()
}

func (p *SQLPersistor) Delete(ctx context.Context, r *common.Record) (int64, error) {
	where, args, err := p.keyWhere(r.PrimaryKey())
	if err != nil {
		return 0, err
	}
	res, err := p.conn().ExecContext(ctx, "DELETE FROM "+p.table+where, args...)
	if err != nil {
		return 0, errors.Wrap(err, "delete")
	}
	return res.RowsAffected()
}

// Save upserts r in one statement.
func (p *SQLPersistor) Save(ctx context.Context, r *common.Record) (int64, error) {
	cols := make([]string, len(p.fields))
	for i, f := range p.fields {
		cols[i] = p.d.ident(f.Name)
	}
	keys := make([]string, len(p.keys))
	for i, f := range p.keys {
		keys[i] = p.d.ident(f.Name)
	}
	res, err := p.conn().ExecContext(ctx, p.d.upsert(p.table, cols, keys), p.args(r)...)
	if err != nil {
		return 0, errors.Wrap(err, "save")
	}
	n, err := res.RowsAffected()
	// MySQL reports 2 for an upsert that updated
	return min(n, 1), err
}

func (p *SQLPersistor) Refresh(ctx context.Context, r *common.Record) (bool, error) {
	fresh, err := p.Get(ctx, r.PrimaryKey())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, r.SetValues(fresh.Values())
}

func (p *SQLPersistor) Min(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	return p.aggregate(ctx, "MIN", c, fields)
}

func (p *SQLPersistor) Max(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	return p.aggregate(ctx, "MAX", c, fields)
}

func (p *SQLPersistor) Sum(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	return p.aggregate(ctx, "SUM", c, fields)
}

func (p *SQLPersistor) aggregate(ctx context.Context, fn string, c *criteria.Criteria, fields []*common.Field) (map[string]common.Value, error) {
	if len(fields) == 0 {
		return map[string]common.Value{}, nil
	}
	kinds := make([]common.Kind, len(fields))
	exprs := make([]string, len(fields))
	for i, f := range fields {
		kinds[i] = f.Kind
		if fn == "SUM" {
			k, err := SumKind(f.Kind)
			if err != nil {
				return nil, err
			}
			kinds[i] = k
		}
		exprs[i] = fn + "(" + p.d.ident(f.Name) + ")"
	}
	where, args, err := p.whereClause(c)
	if err != nil {
		return nil, err
	}
	raw := make([]any, len(fields))
	ptrs := make([]any, len(fields))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	q := "SELECT " + strings.Join(exprs, ", ") + " FROM " + p.table + where
	if err := p.conn().QueryRowContext(ctx, q, args...).Scan(ptrs...); err != nil {
		return nil, errors.Wrapf(err, "%s %s", strings.ToLower(fn), c)
	}
	out := make(map[string]common.Value, len(fields))
	for i, f := range fields {
		v, err := fromDriver(kinds[i], raw[i])
		if err != nil {
			return nil, errors.Wrapf(err, "%s(%s)", fn, f.Alias)
		}
		out[f.Alias] = v
	}
	return out, nil
}

func (p *SQLPersistor) Transaction() Transaction {
	return &sqlTransaction{p: p}
}

type sqlTransaction struct {
	p *SQLPersistor
}

func (t *sqlTransaction) Begin(ctx context.Context) error {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	if t.p.tx != nil {
		return ErrTransactionActive
	}
	tx, err := t.p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	t.p.tx = tx
	return nil
}

func (t *sqlTransaction) finish(commit bool) error {
	t.p.mu.Lock()
	tx := t.p.tx
	t.p.tx = nil
	t.p.mu.Unlock()
	if tx == nil {
		return ErrNoTransaction
	}
	if commit {
		return errors.Wrap(tx.Commit(), "commit")
	}
	return errors.Wrap(tx.Rollback(), "rollback")
}

func (t *sqlTransaction) Commit() error   { return t.finish(true) }
func (t *sqlTransaction) Rollback() error { return t.finish(false) }

func (t *sqlTransaction) Active() bool {
	t.p.mu.Lock()
	defer t.p.mu.Unlock()
	return t.p.tx != nil
}

type rowIterator struct {
	rows   *sql.Rows
	fields common.FieldList
	rec    *common.Record
	err    error
}

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	raw := make([]any, len(it.fields))
	ptrs := make([]any, len(raw))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := it.rows.Scan(ptrs...); err != nil {
		it.err = errors.Wrap(err, "scan")
		return false
	}
	values := make([]common.Value, len(it.fields))
	for i, f := range it.fields {
		v, err := fromDriver(f.Kind, raw[i])
		if err != nil {
			it.err = errors.Wrapf(err, "column %s", f.Name)
			return false
		}
		values[i] = v
	}
	it.rec, it.err = common.NewRecordOf(it.fields, values)
	return it.err == nil
}

func (it *rowIterator) Record() *common.Record { return it.rec }

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *rowIterator) Close() error {
	return it.rows.Close()
}
