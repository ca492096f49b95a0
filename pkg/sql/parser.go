package sql

import (
	"strconv"
	"strings"
	"unicode"

	"listdb/pkg/common"
	"listdb/pkg/criteria"

	"github.com/pkg/errors"
)

var ErrSyntax = errors.New("syntax error")

// SelectStmt is a parsed
//
//	SELECT * FROM table [WHERE expr] [ORDER BY col [ASC|DESC], ...] [LIMIT n]
//
// with columns resolved against a FieldList.
type SelectStmt struct {
	Table    string
	Criteria *criteria.Criteria
	Order    common.Order
	Limit    int
}

// Parse parses s against fields. The WHERE grammar covers comparisons, BETWEEN,
// IN, IS [NOT] NULL, LIKE with a leading and/or trailing %, UPPER(col) for
// case-insensitive matches, NOT, AND, OR and parentheses.
func Parse(s string, fields common.FieldList) (*SelectStmt, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, errors.Wrap(ErrSyntax, "empty query")
	}
	p := &parser{toks: toks, fields: fields}
	return p.selectStmt()
}

// ParseWhere parses a bare boolean expression, as in a WHERE clause.
func ParseWhere(s string, fields common.FieldList) (*criteria.Criteria, error) {
	toks, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, nil
	}
	p := &parser{toks: toks, fields: fields}
	c, err := p.expr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.unexpected()
	}
	return c, nil
}

type tokKind uint8

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokSymbol
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func tokenize(s string) ([]token, error) {
	var out []token
	for i := 0; i < len(s); {
		c := rune(s[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '\'':
			var b strings.Builder
			j := i + 1
			for {
				if j >= len(s) {
					return nil, errors.Wrapf(ErrSyntax, "unterminated string at %d", i)
				}
				if s[j] == '\'' {
					if j+1 < len(s) && s[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					break
				}
				b.WriteByte(s[j])
				j++
			}
			out = append(out, token{tokString, b.String(), i})
			i = j + 1
		case c == '_' || unicode.IsLetter(c):
			j := i
			for j < len(s) && (s[j] == '_' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			out = append(out, token{tokIdent, s[i:j], i})
			i = j
		case unicode.IsDigit(c) || (c == '-' && i+1 < len(s) && unicode.IsDigit(rune(s[i+1]))):
			j := i + 1
			for j < len(s) && (unicode.IsDigit(rune(s[j])) || s[j] == '.' || s[j] == 'e' || s[j] == 'E') {
				j++
			}
			out = append(out, token{tokNumber, s[i:j], i})
			i = j
		default:
			sym := string(c)
			if i+1 < len(s) {
				switch two := s[i : i+2]; two {
				case ">=", "<=", "!=", "<>":
					sym = two
				}
			}
			if !strings.Contains("=<>!(),*;", sym[:1]) {
				return nil, errors.Wrapf(ErrSyntax, "unexpected %q at %d", sym, i)
			}
			out = append(out, token{tokSymbol, sym, i})
			i += len(sym)
		}
	}
	return out, nil
}

type parser struct {
	toks   []token
	pos    int
	fields common.FieldList
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tokSymbol, pos: -1}
	}
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

// keyword consumes the next token if it is the keyword kw.
func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) symbol(sym string) bool {
	t := p.peek()
	if t.kind == tokSymbol && t.text == sym {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kw string) error {
	if p.keyword(kw) || p.symbol(kw) {
		return nil
	}
	return errors.Wrapf(ErrSyntax, "expected %s, got %s", kw, p.describe())
}

func (p *parser) describe() string {
	if p.done() {
		return "end of input"
	}
	t := p.peek()
	return strconv.Quote(t.text) + " at " + strconv.Itoa(t.pos)
}

func (p *parser) unexpected() error {
	return errors.Wrapf(ErrSyntax, "unexpected %s", p.describe())
}

func (p *parser) selectStmt() (*SelectStmt, error) {
	if err := p.expect("SELECT"); err != nil {
		return nil, err
	}
	if err := p.expect("*"); err != nil {
		return nil, err
	}
	if err := p.expect("FROM"); err != nil {
		return nil, err
	}
	t := p.next()
	if t.kind != tokIdent {
		return nil, errors.Wrap(ErrSyntax, "missing table name")
	}
	stmt := &SelectStmt{Table: t.text, Limit: -1}

	if p.keyword("WHERE") {
		c, err := p.expr()
		if err != nil {
			return nil, err
		}
		stmt.Criteria = c
	}
	if p.keyword("ORDER") {
		if err := p.expect("BY"); err != nil {
			return nil, err
		}
		order, err := p.orderBy()
		if err != nil {
			return nil, err
		}
		stmt.Order = order
	}
	if p.keyword("LIMIT") {
		t := p.next()
		n, err := strconv.Atoi(t.text)
		if t.kind != tokNumber || err != nil || n < 0 {
			return nil, errors.Wrapf(ErrSyntax, "invalid LIMIT %q", t.text)
		}
		stmt.Limit = n
	}
	p.symbol(";")
	if !p.done() {
		return nil, p.unexpected()
	}
	return stmt, nil
}

func (p *parser) orderBy() (common.Order, error) {
	var order common.Order
	for {
		f, err := p.column()
		if err != nil {
			return nil, err
		}
		switch {
		case p.keyword("DESC"):
			order = append(order, common.Desc(f))
		default:
			p.keyword("ASC")
			order = append(order, common.Asc(f))
		}
		if !p.symbol(",") {
			return order, nil
		}
	}
}

func (p *parser) column() (*common.Field, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, errors.Wrapf(ErrSyntax, "expected column at %d", t.pos)
	}
	f, err := p.fields.Lookup(t.text)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// expr := term {OR term}
func (p *parser) expr() (*criteria.Criteria, error) {
	first, err := p.term()
	if err != nil {
		return nil, err
	}
	if !p.keyword("OR") {
		return first, nil
	}
	out := criteria.New(criteria.Or).AddCriteria(first, false)
	for {
		t, err := p.term()
		if err != nil {
			return nil, err
		}
		out.AddCriteria(t, false)
		if !p.keyword("OR") {
			return out, nil
		}
	}
}

// term := factor {AND factor}
func (p *parser) term() (*criteria.Criteria, error) {
	out := criteria.New(criteria.And)
	for {
		if err := p.factor(out); err != nil {
			return nil, err
		}
		if !p.keyword("AND") {
			return out, nil
		}
	}
}

// factor := NOT factor | '(' expr ')' | predicate, appended to into.
func (p *parser) factor(into *criteria.Criteria) error {
	negate := false
	for p.keyword("NOT") {
		negate = !negate
	}
	if p.symbol("(") {
		inner, err := p.expr()
		if err != nil {
			return err
		}
		if err := p.expect(")"); err != nil {
			return err
		}
		into.AddCriteria(inner, negate)
		return nil
	}
	c, err := p.predicate()
	if err != nil {
		return err
	}
	if negate {
		c = c.Negate()
	}
	into.Add(criteria.And, c)
	return nil
}

func (p *parser) predicate() (*criteria.Condition, error) {
	noCase := false
	var (
		f   *common.Field
		err error
	)
	if p.keyword("UPPER") {
		if err := p.expect("("); err != nil {
			return nil, err
		}
		if f, err = p.column(); err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		noCase = true
	} else if f, err = p.column(); err != nil {
		return nil, err
	}

	if p.keyword("IS") {
		not := p.keyword("NOT")
		if err := p.expect("NULL"); err != nil {
			return nil, err
		}
		return criteria.NewCondition(f, criteria.OpIsNull, not, noCase)
	}

	not := p.keyword("NOT")
	switch {
	case p.keyword("BETWEEN"):
		lo, err := p.literal(f)
		if err != nil {
			return nil, err
		}
		if err := p.expect("AND"); err != nil {
			return nil, err
		}
		hi, err := p.literal(f)
		if err != nil {
			return nil, err
		}
		return criteria.NewCondition(f, criteria.OpBetween, not, noCase, lo, hi)
	case p.keyword("IN"):
		if err := p.expect("("); err != nil {
			return nil, err
		}
		var values []common.Value
		for {
			v, err := p.literal(f)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
			if !p.symbol(",") {
				break
			}
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return criteria.NewCondition(f, criteria.OpIn, not, noCase, values...)
	case p.keyword("LIKE"):
		return p.like(f, not, noCase)
	case p.keyword("ILIKE"):
		return p.like(f, not, true)
	case not:
		return nil, p.unexpected()
	}

	t := p.next()
	if t.kind != tokSymbol {
		return nil, errors.Wrapf(ErrSyntax, "expected operator at %d", t.pos)
	}
	v, err := p.literal(f)
	if err != nil {
		return nil, err
	}
	switch t.text {
	case "=":
		return criteria.NewCondition(f, criteria.OpEqual, false, noCase, v)
	case "!=", "<>":
		return criteria.NewCondition(f, criteria.OpEqual, true, noCase, v)
	case ">":
		return criteria.NewCondition(f, criteria.OpGreater, false, noCase, v)
	case ">=":
		return criteria.NewCondition(f, criteria.OpGreaterEqual, false, noCase, v)
	case "<":
		return criteria.NewCondition(f, criteria.OpLess, false, noCase, v)
	case "<=":
		return criteria.NewCondition(f, criteria.OpLessEqual, false, noCase, v)
	}
	return nil, errors.Wrapf(ErrSyntax, "unknown operator %q", t.text)
}

// like maps 'x%', '%x' and '%x%' onto the pattern operators.
func (p *parser) like(f *common.Field, not, noCase bool) (*criteria.Condition, error) {
	t := p.next()
	if t.kind != tokString {
		return nil, errors.Wrapf(ErrSyntax, "LIKE needs a string at %d", t.pos)
	}
	pattern := t.text
	lead := strings.HasPrefix(pattern, "%")
	trail := len(pattern) > 1 && strings.HasSuffix(pattern, "%")
	body := strings.TrimSuffix(strings.TrimPrefix(pattern, "%"), "%")
	if strings.ContainsAny(body, "%_") {
		return nil, errors.Wrapf(ErrSyntax, "unsupported LIKE pattern %q", pattern)
	}
	var op criteria.Operator
	switch {
	case lead && trail:
		op = criteria.OpContains
	case lead:
		op = criteria.OpEndsWith
	case trail:
		op = criteria.OpStartsWith
	default:
		op = criteria.OpEqual
	}
	return criteria.NewCondition(f, op, not, noCase, common.NewString(body))
}

func (p *parser) literal(f *common.Field) (common.Value, error) {
	t := p.next()
	switch t.kind {
	case tokString:
	case tokNumber:
		if f.Kind == common.KindString {
			return common.Value{}, errors.Wrapf(ErrSyntax, "%s needs a quoted string, got %s", f.Alias, t.text)
		}
	case tokIdent:
		if !strings.EqualFold(t.text, "true") && !strings.EqualFold(t.text, "false") {
			return common.Value{}, errors.Wrapf(ErrSyntax, "expected literal, got %q", t.text)
		}
	default:
		return common.Value{}, errors.Wrapf(ErrSyntax, "expected literal at %d", t.pos)
	}
	v, err := common.ParseValue(f.Kind, t.text)
	if err != nil {
		return common.Value{}, errors.Wrapf(err, "value for %s", f.Alias)
	}
	return v, nil
}
