package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"listdb/pkg/common"
	"listdb/pkg/core/structure"
	"listdb/pkg/criteria"
	"listdb/pkg/storage"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Item struct {
	Key common.OrderKey
	Rec *common.Record
}

func lessItem(a, b Item) bool {
	c, err := a.Key.Compare(b.Key)
	return err == nil && c < 0
}

// MemTable is an in-memory Persistor keyed by primary key.
type MemTable struct {
	name   string
	fields common.FieldList
	keys   common.Order
	tree   *btree.BTreeG[Item]
	bloom  *structure.BloomFilter
	lock   sync.RWMutex

	snapshot *btree.BTreeG[Item]

	// set by OpenDurable
	dir     string
	wal     *storage.WAL
	pending []storage.WALEntry
}

func NewMemTable(name string, fields common.FieldList, degree int) (*MemTable, error) {
	pk := fields.PrimaryKeys()
	if len(pk) == 0 {
		return nil, errors.Errorf("table %s has no primary key", name)
	}
	keys := make(common.Order, len(pk))
	for i, f := range pk {
		keys[i] = common.Asc(f)
	}
	return &MemTable{
		name:   name,
		fields: fields,
		keys:   keys,
		tree:   btree.NewG(degree, lessItem),
		bloom:  structure.NewBloomFilter(100000, 0.01),
	}, nil
}

func (mt *MemTable) FieldList() common.FieldList { return mt.fields }

// Len returns the number of stored records.
func (mt *MemTable) Len() int {
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return mt.tree.Len()
}

func (mt *MemTable) DDL() string {
	cols := make([]string, len(mt.fields))
	for i, f := range mt.fields {
		cols[i] = f.Name + " " + f.Kind.String()
		if f.PrimaryKey {
			cols[i] += " PRIMARY KEY"
		}
	}
	return fmt.Sprintf("MEMORY TABLE %s (%s)", mt.name, strings.Join(cols, ", "))
}

func (mt *MemTable) keyOf(values []common.Value) (common.OrderKey, error) {
	if len(values) != len(mt.keys) {
		return nil, errors.Wrapf(common.ErrArityMismatch, "%d key values for %d key fields", len(values), len(mt.keys))
	}
	key := make(common.OrderKey, len(values))
	for i, v := range values {
		if err := mt.keys[i].Field.Validate(v); err != nil {
			return nil, err
		}
		key[i] = common.KeySegment{Value: v, Ascending: true}
	}
	return key, nil
}

// encodeKey 布隆过滤器用的 key 编码
func encodeKey(key common.OrderKey) []byte {
	var buf bytes.Buffer
	for _, s := range key {
		buf.WriteByte(byte(s.Value.Kind()))
		buf.WriteString(s.Value.String())
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func (mt *MemTable) matches(c *criteria.Criteria) ([]*common.Record, error) {
	var (
		out []*common.Record
		err error
	)
	mt.tree.Ascend(func(it Item) bool {
		var ok bool
		ok, err = c.Check(it.Rec)
		if err != nil {
			return false
		}
		if ok {
			out = append(out, it.Rec)
		}
		return true
	})
	return out, err
}

func (mt *MemTable) Count(_ context.Context, c *criteria.Criteria) (int64, error) {
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	if c.IsEmpty() {
		return int64(mt.tree.Len()), nil
	}
	recs, err := mt.matches(c)
	return int64(len(recs)), err
}

// Iterator returns a snapshot of the matching records. The primary-key order and
// its reverse come out of the tree already sorted; any other order is sorted here.
func (mt *MemTable) Iterator(_ context.Context, c *criteria.Criteria, order common.Order) (storage.Iterator, error) {
	mt.lock.RLock()
	recs, err := mt.matches(c)
	mt.lock.RUnlock()
	if err != nil {
		return nil, err
	}

	switch {
	case len(order) == 0 || mt.isKeyOrder(order, true):
	case mt.isKeyOrder(order, false):
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	default:
		var sortErr error
		sort.SliceStable(recs, func(i, j int) bool {
			c, err := common.CompareRecords(recs[i], recs[j], order)
			if err != nil && sortErr == nil {
				sortErr = err
			}
			return c < 0
		})
		if sortErr != nil {
			return nil, sortErr
		}
	}

	out := make([]*common.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Copy()
	}
	return storage.NewSliceIterator(out), nil
}

func (mt *MemTable) isKeyOrder(order common.Order, ascending bool) bool {
	if len(order) != len(mt.keys) {
		return false
	}
	for i, s := range order {
		if !s.Field.Equal(mt.keys[i].Field) || s.Ascending != ascending {
			return false
		}
	}
	return true
}

func (mt *MemTable) Get(_ context.Context, values []common.Value) (*common.Record, error) {
	key, err := mt.keyOf(values)
	if err != nil {
		return nil, err
	}
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	it, ok := mt.tree.Get(Item{Key: key})
	if !ok {
		return nil, errors.Wrapf(storage.ErrNotFound, "key %v", values)
	}
	return it.Rec.Copy(), nil
}

func (mt *MemTable) Exists(_ context.Context, r *common.Record) (bool, error) {
	key, err := mt.keyOf(r.PrimaryKey())
	if err != nil {
		return false, err
	}
	if !mt.bloom.Contains(encodeKey(key)) {
		return false, nil
	}
	mt.lock.RLock()
	defer mt.lock.RUnlock()
	return mt.tree.Has(Item{Key: key}), nil
}

func (mt *MemTable) Insert(_ context.Context, r *common.Record) (int64, error) {
	key, err := mt.keyOf(r.PrimaryKey())
	if err != nil {
		return 0, err
	}
	mt.lock.Lock()
	defer mt.lock.Unlock()
	if mt.tree.Has(Item{Key: key}) {
		return 0, errors.Wrapf(storage.ErrDuplicateKey, "key %s", key)
	}
	if err := mt.journal(storage.WALSave, r); err != nil {
		return 0, err
	}
	mt.put(key, r)
	return 1, nil
}

func (mt *MemTable) put(key common.OrderKey, r *common.Record) {
	mt.tree.ReplaceOrInsert(Item{Key: key, Rec: r.Copy()})
	mt.bloom.Add(encodeKey(key))
}

func (mt *MemTable) Update(_ context.Context, r *common.Record) (int64, error) {
	key, err := mt.keyOf(r.PrimaryKey())
	if err != nil {
		return 0, err
	}
	mt.lock.Lock()
	defer mt.lock.Unlock()
	if !mt.tree.Has(Item{Key: key}) {
		return 0, nil
	}
	if err := mt.journal(storage.WALSave, r); err != nil {
		return 0, err
	}
	mt.put(key, r)
	return 1, nil
}

func (mt *MemTable) Save(_ context.Context, r *common.Record) (int64, error) {
	key, err := mt.keyOf(r.PrimaryKey())
	if err != nil {
		return 0, err
	}
	mt.lock.Lock()
	defer mt.lock.Unlock()
	if err := mt.journal(storage.WALSave, r); err != nil {
		return 0, err
	}
	mt.put(key, r)
	return 1, nil
}

func (mt *MemTable) Delete(_ context.Context, r *common.Record) (int64, error) {
	key, err := mt.keyOf(r.PrimaryKey())
	if err != nil {
		return 0, err
	}
	mt.lock.Lock()
	defer mt.lock.Unlock()
	if !mt.tree.Has(Item{Key: key}) {
		return 0, nil
	}
	if err := mt.journal(storage.WALDelete, mt.keyRecord(key)); err != nil {
		return 0, err
	}
	mt.tree.Delete(Item{Key: key})
	return 1, nil
}

func (mt *MemTable) Refresh(ctx context.Context, r *common.Record) (bool, error) {
	fresh, err := mt.Get(ctx, r.PrimaryKey())
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, r.SetValues(fresh.Values())
}

func (mt *MemTable) Min(_ context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	return mt.extreme(c, fields, -1)
}

func (mt *MemTable) Max(_ context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	return mt.extreme(c, fields, 1)
}

// extreme ignores nulls, like SQL MIN and MAX.
func (mt *MemTable) extreme(c *criteria.Criteria, fields []*common.Field, want int) (map[string]common.Value, error) {
	mt.lock.RLock()
	recs, err := mt.matches(c)
	mt.lock.RUnlock()
	if err != nil {
		return nil, err
	}
	out := make(map[string]common.Value, len(fields))
	for _, f := range fields {
		best := common.Null(f.Kind)
		for _, r := range recs {
			v, err := r.Get(f.Alias)
			if err != nil {
				return nil, err
			}
			if v.IsNull() {
				continue
			}
			if best.IsNull() {
				best = v
				continue
			}
			cmp, err := v.Compare(best)
			if err != nil {
				return nil, err
			}
			if cmp*want > 0 {
				best = v
			}
		}
		out[f.Alias] = best
	}
	return out, nil
}

func (mt *MemTable) Sum(_ context.Context, c *criteria.Criteria, fields ...*common.Field) (map[string]common.Value, error) {
	kinds := make([]common.Kind, len(fields))
	for i, f := range fields {
		k, err := storage.SumKind(f.Kind)
		if err != nil {
			return nil, err
		}
		kinds[i] = k
	}
	mt.lock.RLock()
	recs, err := mt.matches(c)
	mt.lock.RUnlock()
	if err != nil {
		return nil, err
	}
	out := make(map[string]common.Value, len(fields))
	for i, f := range fields {
		var (
			total decimal.Decimal
			float float64
			seen  bool
		)
		for _, r := range recs {
			v, err := r.Get(f.Alias)
			if err != nil {
				return nil, err
			}
			if v.IsNull() {
				continue
			}
			if kinds[i] == common.KindDouble {
				float += v.Float()
			} else {
				total = total.Add(v.Decimal())
			}
			seen = true
		}
		switch {
		case !seen:
			out[f.Alias] = common.Null(kinds[i])
		case kinds[i] == common.KindLong:
			out[f.Alias] = common.NewLong(total.IntPart())
		case kinds[i] == common.KindDouble:
			out[f.Alias] = common.NewDouble(float)
		default:
			out[f.Alias] = common.NewDecimal(total)
		}
	}
	return out, nil
}

func (mt *MemTable) Transaction() storage.Transaction {
	return &memTransaction{mt: mt}
}

// memTransaction snapshots the tree with a copy-on-write clone and puts it back
// on rollback.
type memTransaction struct {
	mt *MemTable
}

func (t *memTransaction) Begin(context.Context) error {
	t.mt.lock.Lock()
	defer t.mt.lock.Unlock()
	if t.mt.snapshot != nil {
		return storage.ErrTransactionActive
	}
	t.mt.snapshot = t.mt.tree.Clone()
	return nil
}

func (t *memTransaction) Commit() error {
	t.mt.lock.Lock()
	defer t.mt.lock.Unlock()
	if t.mt.snapshot == nil {
		return storage.ErrNoTransaction
	}
	t.mt.snapshot = nil
	pending := t.mt.pending
	t.mt.pending = nil
	if t.mt.wal != nil && len(pending) > 0 {
		return errors.Wrap(t.mt.wal.Append(pending...), "commit")
	}
	return nil
}

func (t *memTransaction) Rollback() error {
	t.mt.lock.Lock()
	defer t.mt.lock.Unlock()
	if t.mt.snapshot == nil {
		return storage.ErrNoTransaction
	}
	t.mt.tree, t.mt.snapshot = t.mt.snapshot, nil
	t.mt.pending = nil
	return nil
}

func (t *memTransaction) Active() bool {
	t.mt.lock.RLock()
	defer t.mt.lock.RUnlock()
	return t.mt.snapshot != nil
}
