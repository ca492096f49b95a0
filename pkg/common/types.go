package common

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Record is one row of a record source. Values are replaced wholesale on update,
// so a slice handed out by Values is never modified afterwards.
type Record struct {
	fields FieldList
	values []Value
}

// NewRecord returns a record holding the default value of every field.
func NewRecord(fields FieldList) *Record {
	values := make([]Value, len(fields))
	for i, f := range fields {
		values[i] = f.Default
	}
	return &Record{fields: fields, values: values}
}

// NewRecordOf builds a record from values given in field order without validation.
// Storage backends use it to materialise rows they already trust.
func NewRecordOf(fields FieldList, values []Value) (*Record, error) {
	if len(values) != len(fields) {
		return nil, errors.Wrapf(ErrArityMismatch, "%d values for %d fields", len(values), len(fields))
	}
	return &Record{fields: fields, values: values}, nil
}

func (r *Record) Fields() FieldList {
	return r.fields
}

func (r *Record) Values() []Value {
	return r.values
}

func (r *Record) Get(alias string) (Value, error) {
	i := r.fields.Index(alias)
	if i < 0 {
		return Value{}, errors.Wrapf(ErrFieldNotFound, "alias %q", alias)
	}
	return r.values[i], nil
}

// MustGet is Get for aliases known to exist; a missing alias yields a null value.
func (r *Record) MustGet(alias string) Value {
	v, _ := r.Get(alias)
	return v
}

// Set validates v and installs a fresh value slice carrying it.
func (r *Record) Set(alias string, v Value) error {
	i := r.fields.Index(alias)
	if i < 0 {
		return errors.Wrapf(ErrFieldNotFound, "alias %q", alias)
	}
	if err := r.fields[i].Validate(v); err != nil {
		return err
	}
	values := make([]Value, len(r.values))
	copy(values, r.values)
	values[i] = v
	r.values = values
	return nil
}

// SetValues replaces every value at once.
func (r *Record) SetValues(values []Value) error {
	if len(values) != len(r.fields) {
		return errors.Wrapf(ErrArityMismatch, "%d values for %d fields", len(values), len(r.fields))
	}
	r.values = values
	return nil
}

// Validate checks every value against its field.
func (r *Record) Validate() error {
	for i, f := range r.fields {
		if err := f.Validate(r.values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Calculate runs the calculator of every calculated field.
func (r *Record) Calculate() error {
	for _, f := range r.fields {
		if f.Calculator == nil {
			continue
		}
		v, err := f.Calculator(r)
		if err != nil {
			return errors.Wrapf(err, "calculate %s", f.Alias)
		}
		if err := r.Set(f.Alias, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) PrimaryKey() []Value {
	var key []Value
	for i, f := range r.fields {
		if f.PrimaryKey {
			key = append(key, r.values[i])
		}
	}
	return key
}

// Copy returns a record with independent values sharing the same schema.
func (r *Record) Copy() *Record {
	values := make([]Value, len(r.values))
	for i, v := range r.values {
		values[i] = v.Copy()
	}
	return &Record{fields: r.fields, values: values}
}

// KeyEqual reports whether both records carry the same primary key.
func (r *Record) KeyEqual(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	a, b := r.PrimaryKey(), o.PrimaryKey()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Map renders the record as alias -> text.
func (r *Record) Map() map[string]string {
	out := make(map[string]string, len(r.fields))
	for i, f := range r.fields {
		out[f.Alias] = r.values[i].String()
	}
	return out
}

func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]Value, len(r.fields))
	for i, f := range r.fields {
		out[f.Alias] = r.values[i]
	}
	return json.Marshal(out)
}

// String 方便调试打印
func (r *Record) String() string {
	parts := make([]string, len(r.fields))
	for i, f := range r.fields {
		parts[i] = fmt.Sprintf("%s=%s", f.Alias, r.values[i])
	}
	return "Record{" + strings.Join(parts, ", ") + "}"
}

// RecordFromMap parses alias -> text into a record of fields. Aliases missing from m
// keep the field default; unknown aliases are rejected.
func RecordFromMap(fields FieldList, m map[string]string) (*Record, error) {
	r := NewRecord(fields)
	for alias, text := range m {
		f, err := fields.Lookup(alias)
		if err != nil {
			return nil, err
		}
		v, err := ParseValue(f.Kind, text)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", alias)
		}
		if err := r.Set(alias, v); err != nil {
			return nil, err
		}
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
