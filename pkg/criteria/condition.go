package criteria

import (
	"fmt"
	"strings"

	"listdb/pkg/common"

	"github.com/pkg/errors"
)

var (
	ErrInvalidCondition = errors.New("invalid condition")
	ErrLiteralCheck     = errors.New("literal conditions cannot be evaluated in memory")
	ErrUnknownOperator  = errors.New("unknown operator")
)

// Operator is the primitive a Condition applies.
type Operator uint8

const (
	OpLiteral Operator = iota
	OpStartsWith
	OpContains
	OpEndsWith
	OpEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpIn
	OpBetween
	OpIsNull
)

var operatorNames = [...]string{
	OpLiteral:      "LITERAL",
	OpStartsWith:   "STARTS WITH",
	OpContains:     "CONTAINS",
	OpEndsWith:     "ENDS WITH",
	OpEqual:        "=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpIn:           "IN",
	OpBetween:      "BETWEEN",
	OpIsNull:       "IS NULL",
}

func (op Operator) String() string {
	if int(op) < len(operatorNames) {
		return operatorNames[op]
	}
	return fmt.Sprintf("operator(%d)", op)
}

// IsPattern reports whether op matches string prefixes, substrings or suffixes.
func (op Operator) IsPattern() bool {
	return op == OpStartsWith || op == OpContains || op == OpEndsWith
}

// Condition is a single predicate over one field, or an opaque literal.
type Condition struct {
	field   *common.Field
	op      Operator
	values  []common.Value
	not     bool
	noCase  bool
	literal string
}

func (c *Condition) Field() *common.Field   { return c.field }
func (c *Condition) Operator() Operator     { return c.op }
func (c *Condition) Values() []common.Value { return c.values }
func (c *Condition) Not() bool              { return c.not }
func (c *Condition) NoCase() bool           { return c.noCase }
func (c *Condition) Literal() string        { return c.literal }

// NewCondition is the general constructor; every other constructor goes through it.
func NewCondition(f *common.Field, op Operator, not, noCase bool, values ...common.Value) (*Condition, error) {
	if err := validate(f, op, noCase, values); err != nil {
		return nil, err
	}
	return &Condition{field: f, op: op, values: values, not: not, noCase: noCase}, nil
}

// validate is the single well-formedness gate.
func validate(f *common.Field, op Operator, noCase bool, values []common.Value) error {
	if f == nil {
		return errors.Wrap(ErrInvalidCondition, "missing field")
	}
	switch op {
	case OpIsNull:
		if len(values) != 0 {
			return errors.Wrapf(ErrInvalidCondition, "%s on %s takes no values", op, f.Alias)
		}
		if noCase {
			return errors.Wrapf(ErrInvalidCondition, "%s has no case-insensitive form", op)
		}
		return nil
	case OpStartsWith, OpContains, OpEndsWith, OpEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		if len(values) != 1 {
			return errors.Wrapf(ErrInvalidCondition, "%s on %s takes 1 value, got %d", op, f.Alias, len(values))
		}
	case OpBetween:
		if len(values) != 2 {
			return errors.Wrapf(ErrInvalidCondition, "%s on %s takes 2 values, got %d", op, f.Alias, len(values))
		}
	case OpIn:
		if len(values) == 0 {
			return errors.Wrapf(ErrInvalidCondition, "%s on %s needs at least one value", op, f.Alias)
		}
	default:
		return errors.Wrapf(ErrUnknownOperator, "%s", op)
	}

	if op.IsPattern() && f.Kind != common.KindString {
		return errors.Wrapf(ErrInvalidCondition, "%s requires a string field, %s is %s", op, f.Alias, f.Kind)
	}
	if noCase && f.Kind != common.KindString {
		return errors.Wrapf(ErrInvalidCondition, "case-insensitive %s on non-string field %s", op, f.Alias)
	}
	for i, v := range values {
		if v.Kind() != f.Kind {
			return errors.Wrapf(ErrInvalidCondition, "value %d is %s, field %s is %s", i, v.Kind(), f.Alias, f.Kind)
		}
		if v.IsNull() {
			return errors.Wrapf(ErrInvalidCondition, "null value %d for %s on %s", i, op, f.Alias)
		}
	}
	return nil
}

func FieldEQ(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpEqual, false, false, v)
}

func FieldNE(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpEqual, true, false, v)
}

func FieldGT(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpGreater, false, false, v)
}

func FieldGE(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpGreaterEqual, false, false, v)
}

func FieldLT(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpLess, false, false, v)
}

func FieldLE(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpLessEqual, false, false, v)
}

func FieldEQNoCase(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpEqual, false, true, v)
}

func FieldNENoCase(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpEqual, true, true, v)
}

func FieldGTNoCase(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpGreater, false, true, v)
}

func FieldLTNoCase(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpLess, false, true, v)
}

func StartsWith(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpStartsWith, false, false, v)
}

func StartsWithNoCase(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpStartsWith, false, true, v)
}

func Contains(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpContains, false, false, v)
}

func ContainsNoCase(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpContains, false, true, v)
}

func EndsWith(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpEndsWith, false, false, v)
}

func EndsWithNoCase(f *common.Field, v common.Value) (*Condition, error) {
	return NewCondition(f, OpEndsWith, false, true, v)
}

func Between(f *common.Field, lower, upper common.Value) (*Condition, error) {
	return NewCondition(f, OpBetween, false, false, lower, upper)
}

func NotBetween(f *common.Field, lower, upper common.Value) (*Condition, error) {
	return NewCondition(f, OpBetween, true, false, lower, upper)
}

func InList(f *common.Field, values ...common.Value) (*Condition, error) {
	return NewCondition(f, OpIn, false, false, values...)
}

func InListNoCase(f *common.Field, values ...common.Value) (*Condition, error) {
	return NewCondition(f, OpIn, false, true, values...)
}

func NotInList(f *common.Field, values ...common.Value) (*Condition, error) {
	return NewCondition(f, OpIn, true, false, values...)
}

func IsNull(f *common.Field) (*Condition, error) {
	return NewCondition(f, OpIsNull, false, false)
}

func IsNotNull(f *common.Field) (*Condition, error) {
	return NewCondition(f, OpIsNull, true, false)
}

// Literal wraps a backend-specific predicate. It is passed through to storage
// untouched and cannot be checked in memory.
func Literal(text string) (*Condition, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Wrap(ErrInvalidCondition, "empty literal")
	}
	return &Condition{op: OpLiteral, literal: text}, nil
}

// Negate returns the NOT form of c.
func (c *Condition) Negate() *Condition {
	out := *c
	out.not = !c.not
	return &out
}

func (c *Condition) String() string {
	if c.op == OpLiteral {
		return c.literal
	}
	var b strings.Builder
	if c.not {
		b.WriteString("NOT ")
	}
	if c.noCase {
		b.WriteString("UPPER(" + c.field.Alias + ")")
	} else {
		b.WriteString(c.field.Alias)
	}
	b.WriteString(" " + c.op.String())
	for i, v := range c.values {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(" " + v.String())
	}
	return b.String()
}
