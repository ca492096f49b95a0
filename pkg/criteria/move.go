package criteria

import (
	"listdb/pkg/common"

	"github.com/pkg/errors"
)

// Move builds the keyset pagination predicate selecting the rows strictly after
// (forward) or strictly before key in order:
//
//	(s1 > k1) OR (s1 = k1 AND s2 > k2) OR ... OR (s1 = k1 AND ... AND sn > kn)
//
// with > and < swapped for descending segments and for backward moves. Nulls
// sort first, so "after null" is IS NOT NULL and "before v" on a nullable
// column also admits nulls.
func Move(order common.Order, key common.OrderKey, forward bool) (*Criteria, error) {
	if len(order) != len(key) {
		return nil, errors.Wrapf(common.ErrArityMismatch, "order has %d segments, key %d", len(order), len(key))
	}
	out := New(Or)
	for i := range order {
		alt := New(And)
		eqs, err := equalities(order[:i], key[:i])
		if err != nil {
			return nil, err
		}
		alt.Add(And, eqs...)

		f, v := order[i].Field, key[i].Value
		greater := forward == order[i].Ascending
		switch {
		case greater && v.IsNull():
			c, err := IsNotNull(f)
			if err != nil {
				return nil, err
			}
			alt.Add(And, c)
		case greater:
			c, err := FieldGT(f, v)
			if err != nil {
				return nil, err
			}
			alt.Add(And, c)
		case v.IsNull():
			// nothing sorts before null
			continue
		default:
			c, err := FieldLT(f, v)
			if err != nil {
				return nil, err
			}
			if f.Nullable && !f.PrimaryKey {
				n, err := IsNull(f)
				if err != nil {
					return nil, err
				}
				alt.AddCriteria(New(Or).Add(Or, c, n), false)
			} else {
				alt.Add(And, c)
			}
		}
		out.AddCriteria(alt, false)
	}
	if len(out.segments) == 0 {
		return Nothing(), nil
	}
	return out, nil
}

// EqualKey selects rows whose projection through order equals key.
func EqualKey(order common.Order, key common.OrderKey) (*Criteria, error) {
	if len(order) != len(key) {
		return nil, errors.Wrapf(common.ErrArityMismatch, "order has %d segments, key %d", len(order), len(key))
	}
	eqs, err := equalities(order, key)
	if err != nil {
		return nil, err
	}
	return Where(eqs...), nil
}

// KeyEqual selects the row with the given primary key values.
func KeyEqual(keys common.FieldList, values []common.Value) (*Criteria, error) {
	if len(keys) != len(values) {
		return nil, errors.Wrapf(common.ErrArityMismatch, "%d key fields, %d values", len(keys), len(values))
	}
	order := make(common.Order, len(keys))
	key := make(common.OrderKey, len(keys))
	for i, f := range keys {
		order[i] = common.Asc(f)
		key[i] = common.KeySegment{Value: values[i], Ascending: true}
	}
	return EqualKey(order, key)
}

func equalities(order common.Order, key common.OrderKey) ([]*Condition, error) {
	out := make([]*Condition, 0, len(order))
	for i, s := range order {
		var (
			c   *Condition
			err error
		)
		if key[i].Value.IsNull() {
			c, err = IsNull(s.Field)
		} else {
			c, err = FieldEQ(s.Field, key[i].Value)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Scope ANDs the global criteria of a list into c.
func Scope(global, c *Criteria) *Criteria {
	return All(global, c)
}
