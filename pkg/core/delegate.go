package core

import (
	"context"

	"listdb/pkg/common"
	"listdb/pkg/criteria"
	"listdb/pkg/storage"
)

var _ storage.Persistor = (*ListPersistor)(nil)

// The Persistor methods below delegate to the wrapped source. Reads are scoped by
// the global criteria; every mutation drops all positional state first, whether
// or not it ends up touching a row.

func (l *ListPersistor) FieldList() common.FieldList { return l.src.FieldList() }
func (l *ListPersistor) DDL() string                 { return l.src.DDL() }

func (l *ListPersistor) scope(c *criteria.Criteria) *criteria.Criteria {
	l.mu.Lock()
	defer l.mu.Unlock()
	return criteria.Scope(l.cfg.global, c)
}

func (l *ListPersistor) Count(ctx context.Context, c *criteria.Criteria) (int64, error) {
	return l.src.Count(ctx, l.scope(c))
}

func (l *ListPersistor) Iterator(ctx context.Context, c *criteria.Criteria, order common.Order) (storage.Iterator, error) {
	if len(order) == 0 {
		order = l.order
	}
	return l.src.Iterator(ctx, l.scope(c), order)
}

func (l *ListPersistor) Get(ctx context.Context, key []common.Value) (*common.Record, error) {
	return l.src.Get(ctx, key)
}

func (l *ListPersistor) Exists(ctx context.Context, r *common.Record) (bool, error) {
	return l.src.Exists(ctx, r)
}

func (l *ListPersistor) Min(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	return l.src.Min(ctx, l.scope(c), fields...)
}

func (l *ListPersistor) Max(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	return l.src.Max(ctx, l.scope(c), fields...)
}

func (l *ListPersistor) Sum(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	return l.src.Sum(ctx, l.scope(c), fields...)
}

func (l *ListPersistor) mutate(ctx context.Context, r *common.Record, fn func(context.Context, *common.Record) (int64, error)) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.RecordWrite()
	l.clearCacheLocked()
	return fn(ctx, r)
}

func (l *ListPersistor) Insert(ctx context.Context, r *common.Record) (int64, error) {
	return l.mutate(ctx, r, l.src.Insert)
}

func (l *ListPersistor) Update(ctx context.Context, r *common.Record) (int64, error) {
	return l.mutate(ctx, r, l.src.Update)
}

func (l *ListPersistor) Delete(ctx context.Context, r *common.Record) (int64, error) {
	return l.mutate(ctx, r, l.src.Delete)
}

func (l *ListPersistor) Save(ctx context.Context, r *common.Record) (int64, error) {
	return l.mutate(ctx, r, l.src.Save)
}

func (l *ListPersistor) Refresh(ctx context.Context, r *common.Record) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clearCacheLocked()
	return l.src.Refresh(ctx, r)
}

// Transaction wraps the source's transaction so that commit and rollback drop
// positional state as well.
func (l *ListPersistor) Transaction() storage.Transaction {
	return &listTransaction{l: l, tx: l.src.Transaction()}
}

type listTransaction struct {
	l  *ListPersistor
	tx storage.Transaction
}

func (t *listTransaction) Begin(ctx context.Context) error { return t.tx.Begin(ctx) }
func (t *listTransaction) Active() bool                    { return t.tx.Active() }

func (t *listTransaction) Commit() error {
	defer t.l.ClearCache()
	return t.tx.Commit()
}

func (t *listTransaction) Rollback() error {
	defer t.l.ClearCache()
	return t.tx.Rollback()
}
