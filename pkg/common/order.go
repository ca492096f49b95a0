package common

import (
	"strings"

	"github.com/pkg/errors"
)

// OrderSegment is one (field, direction) pair of an Order.
type OrderSegment struct {
	Field     *Field
	Ascending bool
}

// Order is an immutable sort specification. Scans in the opposite direction use
// Reverse instead of flipping segments in place.
type Order []OrderSegment

func Asc(f *Field) OrderSegment {
	return OrderSegment{Field: f, Ascending: true}
}

func Desc(f *Field) OrderSegment {
	return OrderSegment{Field: f, Ascending: false}
}

func NewOrder(segments ...OrderSegment) Order {
	return append(Order(nil), segments...)
}

// Reverse returns a new order with every direction flipped.
func (o Order) Reverse() Order {
	out := make(Order, len(o))
	for i, s := range o {
		out[i] = OrderSegment{Field: s.Field, Ascending: !s.Ascending}
	}
	return out
}

func (o Order) Contains(f *Field) bool {
	for _, s := range o {
		if s.Field.Equal(f) {
			return true
		}
	}
	return false
}

// WithTieBreak appends every field not already present, ascending.
func (o Order) WithTieBreak(fields FieldList) Order {
	out := append(Order(nil), o...)
	for _, f := range fields {
		if !out.Contains(f) {
			out = append(out, Asc(f))
		}
	}
	return out
}

func (o Order) String() string {
	parts := make([]string, len(o))
	for i, s := range o {
		dir := "ASC"
		if !s.Ascending {
			dir = "DESC"
		}
		parts[i] = s.Field.Alias + " " + dir
	}
	return strings.Join(parts, ", ")
}

// KeySegment is one component of an OrderKey.
type KeySegment struct {
	Value     Value
	Ascending bool
}

// OrderKey is the projection of a record through an Order.
type OrderKey []KeySegment

// KeyOf projects r through o.
func KeyOf(r *Record, o Order) (OrderKey, error) {
	key := make(OrderKey, len(o))
	for i, s := range o {
		v, err := r.Get(s.Field.Alias)
		if err != nil {
			return nil, errors.Wrapf(err, "order segment %d", i)
		}
		key[i] = KeySegment{Value: v, Ascending: s.Ascending}
	}
	return key, nil
}

// Compare orders k against o lexicographically; a descending segment flips its sign.
func (k OrderKey) Compare(o OrderKey) (int, error) {
	if len(k) != len(o) {
		return 0, errors.Wrapf(ErrArityMismatch, "%d vs %d segments", len(k), len(o))
	}
	for i := range k {
		c, err := k[i].Value.Compare(o[i].Value)
		if err != nil {
			return 0, errors.Wrapf(err, "key segment %d", i)
		}
		if c == 0 {
			continue
		}
		if !k[i].Ascending {
			c = -c
		}
		return c, nil
	}
	return 0, nil
}

func (k OrderKey) Values() []Value {
	out := make([]Value, len(k))
	for i, s := range k {
		out[i] = s.Value
	}
	return out
}

func (k OrderKey) String() string {
	parts := make([]string, len(k))
	for i, s := range k {
		parts[i] = s.Value.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// CompareRecords orders two records through o.
func CompareRecords(a, b *Record, o Order) (int, error) {
	ka, err := KeyOf(a, o)
	if err != nil {
		return 0, err
	}
	kb, err := KeyOf(b, o)
	if err != nil {
		return 0, err
	}
	return ka.Compare(kb)
}
