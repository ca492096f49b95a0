package storage

import (
	"context"

	"listdb/pkg/common"
	"listdb/pkg/criteria"

	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateKey      = errors.New("duplicate primary key")
	ErrNoTransaction     = errors.New("no active transaction")
	ErrTransactionActive = errors.New("transaction already active")
)

// Iterator walks records in order. It is forward-only; Close must always be called.
type Iterator interface {
	Next() bool
	Record() *common.Record
	Err() error
	Close() error
}

// Transaction is delegated to the underlying store.
type Transaction interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error
	Active() bool
}

// Persistor is the narrow cursor contract every record source provides.
type Persistor interface {
	FieldList() common.FieldList

	Count(ctx context.Context, c *criteria.Criteria) (int64, error)
	Iterator(ctx context.Context, c *criteria.Criteria, order common.Order) (Iterator, error)
	Get(ctx context.Context, key []common.Value) (*common.Record, error)
	Exists(ctx context.Context, r *common.Record) (bool, error)

	Insert(ctx context.Context, r *common.Record) (int64, error)
	Update(ctx context.Context, r *common.Record) (int64, error)
	Delete(ctx context.Context, r *common.Record) (int64, error)
	Save(ctx context.Context, r *common.Record) (int64, error)
	// Refresh reloads r from the store. It reports false when r no longer exists.
	Refresh(ctx context.Context, r *common.Record) (bool, error)

	Min(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error)
	Max(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error)
	Sum(ctx context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error)

	DDL() string
	Transaction() Transaction
}

// First returns the first record of c in order, or nil when there is none.
func First(ctx context.Context, p Persistor, c *criteria.Criteria, order common.Order) (*common.Record, error) {
	it, err := p.Iterator(ctx, c, order)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	if it.Next() {
		return it.Record(), nil
	}
	return nil, it.Err()
}

// Collect drains up to limit records from it and closes it. A negative limit
// drains everything.
func Collect(it Iterator, limit int) ([]*common.Record, error) {
	defer it.Close()
	var out []*common.Record
	for (limit < 0 || len(out) < limit) && it.Next() {
		out = append(out, it.Record())
	}
	return out, it.Err()
}

// SliceIterator iterates over records that are already in memory.
type SliceIterator struct {
	records []*common.Record
	pos     int
}

func NewSliceIterator(records []*common.Record) *SliceIterator {
	return &SliceIterator{records: records, pos: -1}
}

func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.records) {
		it.pos = len(it.records)
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Record() *common.Record {
	if it.pos < 0 || it.pos >= len(it.records) {
		return nil
	}
	return it.records[it.pos]
}

func (it *SliceIterator) Err() error   { return nil }
func (it *SliceIterator) Close() error { it.records = nil; return nil }

// SumKind is the kind a SUM over a field of kind k produces.
func SumKind(k common.Kind) (common.Kind, error) {
	switch k {
	case common.KindInteger, common.KindLong:
		return common.KindLong, nil
	case common.KindDouble, common.KindDecimal:
		return k, nil
	}
	return common.KindUnknown, errors.Wrapf(common.ErrKindMismatch, "cannot sum %s", k)
}
