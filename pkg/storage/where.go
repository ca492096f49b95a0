package storage

import (
	"strings"

	"listdb/pkg/common"
	"listdb/pkg/criteria"

	"github.com/pkg/errors"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// where renders c as a parameterised SQL boolean expression. An empty criteria
// renders as "".
func (d *dialect) where(c *criteria.Criteria) (string, []any, error) {
	if c.IsEmpty() {
		return "", nil, nil
	}
	var args []any
	sql, err := d.criteria(c, &args)
	return sql, args, err
}

func (d *dialect) criteria(c *criteria.Criteria, args *[]any) (string, error) {
	if c.Never() {
		return "1 = 0", nil
	}
	if c.IsEmpty() {
		return "1 = 1", nil
	}
	parts := make([]string, 0, len(c.Segments()))
	for _, s := range c.Segments() {
		part, err := d.segment(s, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " "+c.Logic().String()+" "), nil
}

func (d *dialect) segment(s *criteria.Segment, args *[]any) (string, error) {
	if s.Nested() != nil {
		inner, err := d.criteria(s.Nested(), args)
		if err != nil {
			return "", err
		}
		if s.Negated() {
			// an unknown inner result counts as false, as it does in memory
			return "NOT COALESCE((" + inner + "), 0)", nil
		}
		return "(" + inner + ")", nil
	}
	parts := make([]string, 0, len(s.Conditions()))
	for _, cond := range s.Conditions() {
		part, err := d.condition(cond, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, " "+s.Logic().String()+" ") + ")", nil
}

// condition renders one predicate. SQL three-valued logic would drop nulls from
// a NOT, while in memory a null fails the primitive and so passes its negation;
// nullable columns therefore get an explicit IS NULL alternative.
func (d *dialect) condition(c *criteria.Condition, args *[]any) (string, error) {
	if c.Operator() == criteria.OpLiteral {
		return "(" + c.Literal() + ")", nil
	}
	col := d.ident(c.Field().Name)
	if c.Operator() == criteria.OpIsNull {
		if c.Not() {
			return col + " IS NOT NULL", nil
		}
		return col + " IS NULL", nil
	}

	expr, err := d.primitive(c, col, args)
	if err != nil {
		return "", err
	}
	if !c.Not() {
		return expr, nil
	}
	if c.Field().Nullable && !c.Field().PrimaryKey {
		return "(" + col + " IS NULL OR NOT (" + expr + "))", nil
	}
	return "NOT (" + expr + ")", nil
}

func (d *dialect) primitive(c *criteria.Condition, col string, args *[]any) (string, error) {
	lhs := col
	if c.NoCase() {
		lhs = "UPPER(" + col + ")"
	}
	bind := func(v common.Value) string {
		if c.NoCase() {
			v = common.NewString(strings.ToUpper(v.Str()))
		}
		*args = append(*args, toArg(v))
		return "?"
	}
	like := func(pattern string) string {
		*args = append(*args, pattern)
		target := lhs
		if !c.NoCase() {
			target = d.binaryLike(col)
		}
		return target + " LIKE ?" + d.escape
	}
	text := func() string {
		s := c.Values()[0].Str()
		if c.NoCase() {
			s = strings.ToUpper(s)
		}
		return likeEscaper.Replace(s)
	}

	switch c.Operator() {
	case criteria.OpStartsWith:
		return like(text() + "%"), nil
	case criteria.OpContains:
		return like("%" + text() + "%"), nil
	case criteria.OpEndsWith:
		return like("%" + text()), nil
	case criteria.OpEqual:
		return lhs + " = " + bind(c.Values()[0]), nil
	case criteria.OpGreater:
		return lhs + " > " + bind(c.Values()[0]), nil
	case criteria.OpGreaterEqual:
		return lhs + " >= " + bind(c.Values()[0]), nil
	case criteria.OpLess:
		return lhs + " < " + bind(c.Values()[0]), nil
	case criteria.OpLessEqual:
		return lhs + " <= " + bind(c.Values()[0]), nil
	case criteria.OpBetween:
		return lhs + " BETWEEN " + bind(c.Values()[0]) + " AND " + bind(c.Values()[1]), nil
	case criteria.OpIn:
		marks := make([]string, len(c.Values()))
		for i, v := range c.Values() {
			marks[i] = bind(v)
		}
		return lhs + " IN (" + strings.Join(marks, ", ") + ")", nil
	}
	return "", errors.Wrapf(criteria.ErrUnknownOperator, "%s", c.Operator())
}

// orderBy renders o as an ORDER BY list. Both drivers sort nulls first when
// ascending, matching Value.Compare.
func (d *dialect) orderBy(o common.Order) string {
	parts := make([]string, len(o))
	for i, s := range o {
		dir := " ASC"
		if !s.Ascending {
			dir = " DESC"
		}
		parts[i] = d.ident(s.Field.Name) + dir
	}
	return strings.Join(parts, ", ")
}
