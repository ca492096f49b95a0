package common

import (
	"github.com/pkg/errors"
)

// Validator checks a candidate value for a field.
type Validator func(f *Field, v Value) error

// Calculator derives the value of a calculated field from the rest of its record.
type Calculator func(r *Record) (Value, error)

// Field describes a typed, named column. Fields are built once per schema and shared
// read-only by every Record of that schema.
type Field struct {
	Name       string
	Alias      string
	Kind       Kind
	Length     int
	Decimals   int
	Required   bool
	Nullable   bool
	PrimaryKey bool
	Default    Value
	Min        *Value
	Max        *Value
	Possible   []Value
	Validators []Validator
	Calculator Calculator
}

type FieldOption func(*Field)

func WithAlias(alias string) FieldOption {
	return func(f *Field) { f.Alias = alias }
}

func WithLength(length, decimals int) FieldOption {
	return func(f *Field) {
		f.Length = length
		f.Decimals = decimals
	}
}

// AsPrimaryKey marks the field as part of the primary key; key fields are required.
func AsPrimaryKey() FieldOption {
	return func(f *Field) {
		f.PrimaryKey = true
		f.Required = true
		f.Nullable = false
	}
}

func AsRequired() FieldOption {
	return func(f *Field) {
		f.Required = true
		f.Nullable = false
	}
}

func WithDefault(v Value) FieldOption {
	return func(f *Field) { f.Default = v }
}

func WithRange(min, max *Value) FieldOption {
	return func(f *Field) {
		f.Min = min
		f.Max = max
	}
}

func WithPossibleValues(values ...Value) FieldOption {
	return func(f *Field) { f.Possible = values }
}

func WithValidator(v Validator) FieldOption {
	return func(f *Field) { f.Validators = append(f.Validators, v) }
}

func WithCalculator(c Calculator) FieldOption {
	return func(f *Field) { f.Calculator = c }
}

// NewField builds a nullable field whose alias defaults to its name.
func NewField(name string, kind Kind, opts ...FieldOption) *Field {
	f := &Field{
		Name:     name,
		Kind:     kind,
		Nullable: true,
		Default:  Null(kind),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.Alias == "" {
		f.Alias = f.Name
	}
	return f
}

// Equal compares fields by alias.
func (f *Field) Equal(o *Field) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Alias == o.Alias
}

// StrictEqual also requires the same kind, length and decimals.
func (f *Field) StrictEqual(o *Field) bool {
	return f.Equal(o) && f.Kind == o.Kind && f.Length == o.Length && f.Decimals == o.Decimals
}

func (f *Field) String() string {
	return f.Alias
}

// Validate checks v against the field's kind and constraints.
func (f *Field) Validate(v Value) error {
	if v.IsNull() {
		if v.Kind() != f.Kind && v.Kind() != KindUnknown {
			return errors.Wrapf(ErrKindMismatch, "field %s: null %s for %s field", f.Alias, v.Kind(), f.Kind)
		}
		if f.Required || !f.Nullable {
			return errors.Wrapf(ErrValidation, "field %s: value required", f.Alias)
		}
		return nil
	}
	if v.Kind() != f.Kind {
		return errors.Wrapf(ErrKindMismatch, "field %s: %s value for %s field", f.Alias, v.Kind(), f.Kind)
	}
	if f.Kind == KindString && f.Length > 0 && len([]rune(v.Str())) > f.Length {
		return errors.Wrapf(ErrValidation, "field %s: length exceeds %d", f.Alias, f.Length)
	}
	if f.Min != nil && !f.Min.IsNull() {
		if c, err := v.Compare(*f.Min); err != nil || c < 0 {
			return errors.Wrapf(ErrValidation, "field %s: %s below minimum %s", f.Alias, v, f.Min)
		}
	}
	if f.Max != nil && !f.Max.IsNull() {
		if c, err := v.Compare(*f.Max); err != nil || c > 0 {
			return errors.Wrapf(ErrValidation, "field %s: %s above maximum %s", f.Alias, v, f.Max)
		}
	}
	if len(f.Possible) > 0 {
		found := false
		for _, p := range f.Possible {
			if v.Equal(p) {
				found = true
				break
			}
		}
		if !found {
			return errors.Wrapf(ErrValidation, "field %s: %s is not a possible value", f.Alias, v)
		}
	}
	for _, validate := range f.Validators {
		if err := validate(f, v); err != nil {
			return errors.Wrapf(ErrValidation, "field %s: %v", f.Alias, err)
		}
	}
	return nil
}

// FieldList is the ordered schema of a record source.
type FieldList []*Field

func (fl FieldList) Index(alias string) int {
	for i, f := range fl {
		if f.Alias == alias {
			return i
		}
	}
	return -1
}

func (fl FieldList) Lookup(alias string) (*Field, error) {
	if i := fl.Index(alias); i >= 0 {
		return fl[i], nil
	}
	return nil, errors.Wrapf(ErrFieldNotFound, "alias %q", alias)
}

func (fl FieldList) PrimaryKeys() FieldList {
	var keys FieldList
	for _, f := range fl {
		if f.PrimaryKey {
			keys = append(keys, f)
		}
	}
	return keys
}

func (fl FieldList) Aliases() []string {
	out := make([]string, len(fl))
	for i, f := range fl {
		out[i] = f.Alias
	}
	return out
}
