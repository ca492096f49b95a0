package common

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Kind is the variant tag of a Value.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindBoolean
	KindString
	KindDecimal
	KindDouble
	KindInteger
	KindLong
	KindDate
	KindTime
	KindDateTime
	KindByteArray
)

const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DateTimeLayout = "2006-01-02 15:04:05.999999999"
)

var kindNames = map[Kind]string{
	KindUnknown:   "unknown",
	KindBoolean:   "boolean",
	KindString:    "string",
	KindDecimal:   "decimal",
	KindDouble:    "double",
	KindInteger:   "integer",
	KindLong:      "long",
	KindDate:      "date",
	KindTime:      "time",
	KindDateTime:  "datetime",
	KindByteArray: "bytearray",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind maps a kind name (as used in config files and the wire protocol) to a Kind.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name && k != KindUnknown {
			return k, nil
		}
	}
	return KindUnknown, errors.Wrapf(ErrParse, "unknown kind %q", name)
}

func (k Kind) IsNumeric() bool {
	return k == KindDecimal || k == KindDouble || k == KindInteger || k == KindLong
}

func (k Kind) IsTemporal() bool {
	return k == KindDate || k == KindTime || k == KindDateTime
}

// Value is an immutable tagged scalar. The zero Value is a null of unknown kind.
//
// Payloads: bool, string, decimal.Decimal, float64, int32, int64, time.Time
// (Date, Time, DateTime) or []byte. A nil payload is the null form of the kind.
type Value struct {
	kind  Kind
	data  any
	label string
}

// Null returns the null form of kind.
func Null(kind Kind) Value {
	return Value{kind: kind}
}

func NewBoolean(b bool) Value {
	return Value{kind: KindBoolean, data: b}
}

func NewString(s string) Value {
	return Value{kind: KindString, data: s}
}

func NewDecimal(d decimal.Decimal) Value {
	return Value{kind: KindDecimal, data: d}
}

func NewDouble(f float64) Value {
	return Value{kind: KindDouble, data: f}
}

func NewInteger(i int32) Value {
	return Value{kind: KindInteger, data: i}
}

func NewLong(i int64) Value {
	return Value{kind: KindLong, data: i}
}

// NewDate keeps only the civil date of t, in UTC.
func NewDate(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: KindDate, data: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// NewDateOf builds a date value; out of range components are normalized by time.Date.
func NewDateOf(year int, month time.Month, day int) Value {
	return NewDate(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// NewTime keeps only the clock part of t.
func NewTime(t time.Time) Value {
	return Value{kind: KindTime, data: time.Date(1, time.January, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)}
}

func NewTimeOf(hour, minute, second int) Value {
	return NewTime(time.Date(1, time.January, 1, hour, minute, second, 0, time.UTC))
}

func NewDateTime(t time.Time) Value {
	return Value{kind: KindDateTime, data: t.UTC()}
}

// NewByteArray copies b.
func NewByteArray(b []byte) Value {
	if b == nil {
		return Null(KindByteArray)
	}
	return Value{kind: KindByteArray, data: bytes.Clone(b)}
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsNull() bool {
	return v.data == nil
}

func (v Value) Label() string {
	return v.label
}

// WithLabel returns a copy of v carrying a display label.
func (v Value) WithLabel(label string) Value {
	v.label = label
	return v
}

// Display returns the label when set, the textual form otherwise.
func (v Value) Display() string {
	if v.label != "" {
		return v.label
	}
	return v.String()
}

func (v Value) Bool() bool {
	b, _ := v.data.(bool)
	return b
}

func (v Value) Str() string {
	s, _ := v.data.(string)
	return s
}

func (v Value) Decimal() decimal.Decimal {
	switch d := v.data.(type) {
	case decimal.Decimal:
		return d
	case float64:
		return decimal.NewFromFloat(d)
	case int32:
		return decimal.NewFromInt32(d)
	case int64:
		return decimal.NewFromInt(d)
	}
	return decimal.Zero
}

func (v Value) Float() float64 {
	switch d := v.data.(type) {
	case float64:
		return d
	case decimal.Decimal:
		return d.InexactFloat64()
	case int32:
		return float64(d)
	case int64:
		return float64(d)
	}
	return 0
}

func (v Value) Int() int32 {
	i, _ := v.data.(int32)
	return i
}

func (v Value) Long() int64 {
	switch d := v.data.(type) {
	case int64:
		return d
	case int32:
		return int64(d)
	}
	return 0
}

func (v Value) Time() time.Time {
	t, _ := v.data.(time.Time)
	return t
}

// Bytes returns the shared payload. Callers must not modify it; use Copy for a private one.
func (v Value) Bytes() []byte {
	b, _ := v.data.([]byte)
	return b
}

// Interface returns the raw payload, nil for null.
func (v Value) Interface() any {
	return v.data
}

// Copy returns an independent value. Only byte arrays allocate.
func (v Value) Copy() Value {
	if b, ok := v.data.([]byte); ok {
		v.data = bytes.Clone(b)
	}
	return v
}

// Compare orders v against o. Two nulls are always equal, a null sorts before a
// non-null, numeric kinds compare by magnitude and every other kind mix is an error.
func (v Value) Compare(o Value) (int, error) {
	if v.IsNull() && o.IsNull() {
		return 0, nil
	}
	if v.kind != o.kind && !(v.kind.IsNumeric() && o.kind.IsNumeric()) {
		return 0, errors.Wrapf(ErrKindMismatch, "cannot compare %s with %s", v.kind, o.kind)
	}
	if v.IsNull() {
		return -1, nil
	}
	if o.IsNull() {
		return 1, nil
	}
	if v.kind != o.kind {
		return compareNumeric(v, o), nil
	}

	switch a := v.data.(type) {
	case bool:
		b := o.data.(bool)
		switch {
		case a == b:
			return 0, nil
		case !a:
			return -1, nil
		default:
			return 1, nil
		}
	case string:
		return strings.Compare(a, o.data.(string)), nil
	case decimal.Decimal:
		return a.Cmp(o.data.(decimal.Decimal)), nil
	case float64:
		return cmp.Compare(a, o.data.(float64)), nil
	case int32:
		return cmp.Compare(a, o.data.(int32)), nil
	case int64:
		return cmp.Compare(a, o.data.(int64)), nil
	case time.Time:
		return a.Compare(o.data.(time.Time)), nil
	case []byte:
		return bytes.Compare(a, o.data.([]byte)), nil
	}
	return 0, errors.Wrapf(ErrKindMismatch, "unsupported payload for %s", v.kind)
}

func compareNumeric(a, b Value) int {
	if (a.kind == KindDecimal || b.kind == KindDecimal) && finite(a) && finite(b) {
		return a.Decimal().Cmp(b.Decimal())
	}
	if a.kind == KindDouble || b.kind == KindDouble {
		return cmp.Compare(a.Float(), b.Float())
	}
	return cmp.Compare(a.Long(), b.Long())
}

func finite(v Value) bool {
	f, ok := v.data.(float64)
	return !ok || !(math.IsNaN(f) || math.IsInf(f, 0))
}

// Equal reports whether v and o compare equal without error.
func (v Value) Equal(o Value) bool {
	c, err := v.Compare(o)
	return err == nil && c == 0
}

// String renders the payload as text; null renders as "".
func (v Value) String() string {
	switch d := v.data.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(d)
	case string:
		return d
	case decimal.Decimal:
		return d.String()
	case float64:
		return strconv.FormatFloat(d, 'g', -1, 64)
	case int32:
		return strconv.FormatInt(int64(d), 10)
	case int64:
		return strconv.FormatInt(d, 10)
	case time.Time:
		switch v.kind {
		case KindDate:
			return d.Format(DateLayout)
		case KindTime:
			return d.Format(TimeLayout)
		default:
			return d.Format(DateTimeLayout)
		}
	case []byte:
		return hex.EncodeToString(d)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return []byte("null"), nil
	}
	return json.Marshal(v.String())
}

// ParseValue converts a textual literal into a value of kind. An empty text is the
// null form for every kind except String.
func ParseValue(kind Kind, text string) (Value, error) {
	if text == "" && kind != KindString {
		return Null(kind), nil
	}
	switch kind {
	case KindBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, errors.Wrapf(ErrParse, "boolean %q", text)
		}
		return NewBoolean(b), nil
	case KindString:
		return NewString(text), nil
	case KindDecimal:
		d, err := decimal.NewFromString(text)
		if err != nil {
			return Value{}, errors.Wrapf(ErrParse, "decimal %q", text)
		}
		return NewDecimal(d), nil
	case KindDouble:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, errors.Wrapf(ErrParse, "double %q", text)
		}
		return NewDouble(f), nil
	case KindInteger:
		i, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return Value{}, errors.Wrapf(ErrParse, "integer %q", text)
		}
		return NewInteger(int32(i)), nil
	case KindLong:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, errors.Wrapf(ErrParse, "long %q", text)
		}
		return NewLong(i), nil
	case KindDate:
		t, err := time.Parse(DateLayout, text)
		if err != nil {
			return Value{}, errors.Wrapf(ErrParse, "date %q", text)
		}
		return NewDate(t), nil
	case KindTime:
		t, err := time.Parse(TimeLayout, text)
		if err != nil {
			return Value{}, errors.Wrapf(ErrParse, "time %q", text)
		}
		return NewTime(t), nil
	case KindDateTime:
		for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano} {
			if t, err := time.Parse(layout, text); err == nil {
				return NewDateTime(t), nil
			}
		}
		return Value{}, errors.Wrapf(ErrParse, "datetime %q", text)
	case KindByteArray:
		b, err := hex.DecodeString(text)
		if err != nil {
			return Value{}, errors.Wrapf(ErrParse, "bytearray %q", text)
		}
		return Value{kind: KindByteArray, data: b}, nil
	}
	return Value{}, errors.Wrapf(ErrParse, "unsupported kind %s", kind)
}
