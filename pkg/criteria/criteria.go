package criteria

import (
	"strings"

	"listdb/pkg/common"
)

// Logic combines conditions or segments.
type Logic uint8

const (
	And Logic = iota
	Or
)

func (l Logic) String() string {
	if l == Or {
		return "OR"
	}
	return "AND"
}

// Segment is either a uniformly combined list of conditions or a nested,
// optionally negated, Criteria.
type Segment struct {
	logic      Logic
	conditions []*Condition
	nested     *Criteria
	negate     bool
}

func (s *Segment) Logic() Logic             { return s.logic }
func (s *Segment) Conditions() []*Condition { return s.conditions }
func (s *Segment) Nested() *Criteria        { return s.nested }
func (s *Segment) Negated() bool            { return s.negate }

// Criteria is an ordered list of segments combined by its own logic.
// Build it completely before handing it to a persistor; it is treated as
// immutable from then on.
type Criteria struct {
	logic    Logic
	segments []*Segment
	never    bool
}

func New(logic Logic) *Criteria {
	return &Criteria{logic: logic}
}

// Nothing matches no record at all.
func Nothing() *Criteria {
	return &Criteria{never: true}
}

// Where is shorthand for an AND criteria holding one AND segment.
func Where(conds ...*Condition) *Criteria {
	return New(And).Add(And, conds...)
}

func (c *Criteria) Logic() Logic         { return c.logic }
func (c *Criteria) Segments() []*Segment { return c.segments }
func (c *Criteria) Never() bool          { return c != nil && c.never }

// IsEmpty reports whether c has no segments. A nil criteria is empty.
func (c *Criteria) IsEmpty() bool {
	return c == nil || (len(c.segments) == 0 && !c.never)
}

// Add appends a segment of conditions combined by logic.
func (c *Criteria) Add(logic Logic, conds ...*Condition) *Criteria {
	if len(conds) == 0 {
		return c
	}
	c.segments = append(c.segments, &Segment{logic: logic, conditions: conds})
	return c
}

// AddCriteria nests another criteria as one segment.
func (c *Criteria) AddCriteria(nested *Criteria, negate bool) *Criteria {
	if nested == nil {
		return c
	}
	c.segments = append(c.segments, &Segment{nested: nested, negate: negate})
	return c
}

// All ANDs the non-empty parts together. It returns nil when every part is empty.
func All(parts ...*Criteria) *Criteria {
	var live []*Criteria
	for _, p := range parts {
		if !p.IsEmpty() {
			live = append(live, p)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	out := New(And)
	for _, p := range live {
		out.AddCriteria(p, false)
	}
	return out
}

// Check evaluates c against r. AND stops at the first false segment; OR visits
// every segment in order and is true if any of them was. An empty criteria
// matches every record.
func (c *Criteria) Check(r *common.Record) (bool, error) {
	if c.IsEmpty() {
		return true, nil
	}
	if c.never {
		return false, nil
	}
	return combine(c.logic, len(c.segments), func(i int) (bool, error) {
		return c.segments[i].Check(r)
	})
}

func (s *Segment) Check(r *common.Record) (bool, error) {
	if s.nested != nil {
		ok, err := s.nested.Check(r)
		if err != nil {
			return false, err
		}
		return ok != s.negate, nil
	}
	return combine(s.logic, len(s.conditions), func(i int) (bool, error) {
		return s.conditions[i].Check(r)
	})
}

func combine(logic Logic, n int, check func(i int) (bool, error)) (bool, error) {
	if n == 0 {
		return true, nil
	}
	result := logic == And
	for i := 0; i < n; i++ {
		ok, err := check(i)
		if err != nil {
			return false, err
		}
		if logic == And {
			if !ok {
				return false, nil
			}
			continue
		}
		if ok {
			result = true
		}
	}
	return result, nil
}

func (c *Criteria) String() string {
	if c.IsEmpty() {
		return "TRUE"
	}
	if c.never {
		return "FALSE"
	}
	parts := make([]string, len(c.segments))
	for i, s := range c.segments {
		parts[i] = s.String()
	}
	return strings.Join(parts, " "+c.logic.String()+" ")
}

func (s *Segment) String() string {
	if s.nested != nil {
		if s.negate {
			return "NOT (" + s.nested.String() + ")"
		}
		return "(" + s.nested.String() + ")"
	}
	parts := make([]string, len(s.conditions))
	for i, cond := range s.conditions {
		parts[i] = cond.String()
	}
	return "(" + strings.Join(parts, " "+s.logic.String()+" ") + ")"
}
