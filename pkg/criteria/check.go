package criteria

import (
	"strings"

	"listdb/pkg/common"

	"github.com/pkg/errors"
)

// Check evaluates c against r. A null record value fails every primitive except
// IsNull; the NOT family negates the primitive result.
func (c *Condition) Check(r *common.Record) (bool, error) {
	if c.op == OpLiteral {
		return false, errors.Wrapf(ErrLiteralCheck, "%q", c.literal)
	}
	v, err := r.Get(c.field.Alias)
	if err != nil {
		return false, err
	}
	ok, err := c.primitive(v)
	if err != nil {
		return false, err
	}
	if c.not {
		return !ok, nil
	}
	return ok, nil
}

func (c *Condition) primitive(v common.Value) (bool, error) {
	if c.op == OpIsNull {
		return v.IsNull(), nil
	}
	if v.IsNull() {
		return false, nil
	}

	switch c.op {
	case OpStartsWith:
		return strings.HasPrefix(c.text(v), c.text(c.values[0])), nil
	case OpContains:
		return strings.Contains(c.text(v), c.text(c.values[0])), nil
	case OpEndsWith:
		return strings.HasSuffix(c.text(v), c.text(c.values[0])), nil
	case OpEqual:
		n, err := c.compare(v, c.values[0])
		return n == 0, err
	case OpGreater:
		n, err := c.compare(v, c.values[0])
		return n > 0, err
	case OpGreaterEqual:
		n, err := c.compare(v, c.values[0])
		return n >= 0, err
	case OpLess:
		n, err := c.compare(v, c.values[0])
		return n < 0, err
	case OpLessEqual:
		n, err := c.compare(v, c.values[0])
		return n <= 0, err
	case OpIn:
		for _, candidate := range c.values {
			n, err := c.compare(v, candidate)
			if err != nil {
				return false, err
			}
			if n == 0 {
				return true, nil
			}
		}
		return false, nil
	case OpBetween:
		lo, err := c.compare(v, c.values[0])
		if err != nil {
			return false, err
		}
		hi, err := c.compare(v, c.values[1])
		if err != nil {
			return false, err
		}
		return lo >= 0 && hi <= 0, nil
	}
	return false, errors.Wrapf(ErrUnknownOperator, "%s", c.op)
}

// text is the string payload, upper-cased for the no-case family.
func (c *Condition) text(v common.Value) string {
	if c.noCase {
		return strings.ToUpper(v.Str())
	}
	return v.Str()
}

func (c *Condition) compare(a, b common.Value) (int, error) {
	if c.noCase {
		return strings.Compare(c.text(a), c.text(b)), nil
	}
	return a.Compare(b)
}
