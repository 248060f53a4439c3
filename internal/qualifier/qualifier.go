// Package qualifier provides the predicate model consumed by the statement
// builder: an immutable tree of filter criteria over record bins.
//
// Leaf qualifiers carry a bin name, an Operation and typed Values (plus an
// optional collection context and a case-insensitivity flag). Combinator
// qualifiers join children with AND or OR. Qualifiers are validated when
// built; a malformed qualifier is reported as a *PlanningError and never
// reaches planning.
//
// This package MUST NOT:
//   - Access the indexes cache
//   - Decide index usage
//   - Execute queries
package qualifier

import (
	"strings"

	"aeroquery/internal/cdt"
)

// Qualifier is one node of a predicate tree. It is immutable after
// construction; accessors return copies.
type Qualifier struct {
	op         Operation
	bin        string
	values     []Value
	ignoreCase bool
	ctx        cdt.Context
	children   []*Qualifier
}

func (q *Qualifier) Operation() Operation { return q.op }
func (q *Qualifier) Bin() string          { return q.bin }
func (q *Qualifier) IgnoreCase() bool     { return q.ignoreCase }
func (q *Qualifier) IsLeaf() bool         { return !q.op.IsCombinator() }

// Values returns a copy of the leaf's values.
func (q *Qualifier) Values() []Value {
	if len(q.values) == 0 {
		return nil
	}
	out := make([]Value, len(q.values))
	copy(out, q.values)
	return out
}

// Value returns the first value, or the zero Value for leaves without values.
func (q *Qualifier) Value() Value {
	if len(q.values) == 0 {
		return Value{}
	}
	return q.values[0]
}

// Context returns a copy of the collection context path.
func (q *Qualifier) Context() cdt.Context { return q.ctx.Clone() }

// Children returns a copy of the combinator's children.
func (q *Qualifier) Children() []*Qualifier {
	if len(q.children) == 0 {
		return nil
	}
	out := make([]*Qualifier, len(q.children))
	copy(out, q.children)
	return out
}

func (q *Qualifier) String() string {
	if q == nil {
		return "<none>"
	}
	switch {
	case q.op == opTrue:
		return "true"
	case q.op.IsCombinator():
		sep := " AND "
		if q.op == OpOr {
			sep = " OR "
		}
		parts := make([]string, len(q.children))
		for i, c := range q.children {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, sep) + ")"
	}

	var sb strings.Builder
	sb.WriteString(q.bin)
	if len(q.ctx) > 0 {
		sb.WriteString(q.ctx.String())
	}
	sb.WriteByte(' ')
	sb.WriteString(q.op.String())
	if q.ignoreCase {
		sb.WriteString("/i")
	}
	switch {
	case q.op == OpIn || q.op == OpNotIn:
		parts := make([]string, len(q.values))
		for i, v := range q.values {
			parts[i] = v.String()
		}
		sb.WriteString(" [" + strings.Join(parts, ", ") + "]")
	default:
		for _, v := range q.values {
			sb.WriteByte(' ')
			sb.WriteString(v.String())
		}
	}
	return sb.String()
}

// Builder assembles a leaf qualifier. Build validates the result.
type Builder struct {
	bin        string
	op         Operation
	opSet      bool
	values     []Value
	ignoreCase bool
	ctx        cdt.Context
}

// NewBuilder returns an empty leaf builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Bin(bin string) *Builder {
	b.bin = bin
	return b
}

func (b *Builder) Op(op Operation) *Builder {
	b.op = op
	b.opSet = true
	return b
}

func (b *Builder) Values(values ...Value) *Builder {
	b.values = append(b.values[:0:0], values...)
	return b
}

func (b *Builder) IgnoreCase(ignore bool) *Builder {
	b.ignoreCase = ignore
	return b
}

func (b *Builder) Context(steps ...cdt.Step) *Builder {
	b.ctx = append(cdt.Context(nil), steps...)
	return b
}

// Build validates and returns the qualifier.
func (b *Builder) Build() (*Qualifier, error) {
	if !b.opSet || !b.op.Valid() {
		return nil, newPlanningError(b.bin, b.op, ErrUnknownOp, "operation %d is not defined", int(b.op))
	}
	if b.op.IsCombinator() {
		return nil, newPlanningError(b.bin, b.op, ErrCombinatorOp, "use And or Or to combine qualifiers")
	}
	if b.bin == "" {
		return nil, newPlanningError("", b.op, ErrMissingBin, "bin name is empty")
	}
	if err := checkValues(b.bin, b.op, b.values); err != nil {
		return nil, err
	}
	return &Qualifier{
		op:         b.op,
		bin:        b.bin,
		values:     append([]Value(nil), b.values...),
		ignoreCase: b.ignoreCase,
		ctx:        b.ctx.Clone(),
	}, nil
}

// New builds a leaf qualifier without options.
func New(bin string, op Operation, values ...Value) (*Qualifier, error) {
	return NewBuilder().Bin(bin).Op(op).Values(values...).Build()
}

// And joins children with logical AND.
func And(children ...*Qualifier) (*Qualifier, error) {
	return combine(OpAnd, children)
}

// Or joins children with logical OR.
func Or(children ...*Qualifier) (*Qualifier, error) {
	return combine(OpOr, children)
}

// Must panics if err is non-nil. It is intended for qualifiers built from
// constants, like regexp.MustCompile.
func Must(q *Qualifier, err error) *Qualifier {
	if err != nil {
		panic(err)
	}
	return q
}

func combine(op Operation, children []*Qualifier) (*Qualifier, error) {
	if len(children) == 0 {
		return nil, newPlanningError("", op, ErrNoChildren, "no children given")
	}
	for i, c := range children {
		if c == nil {
			return nil, newPlanningError("", op, ErrNilChild, "child %d is nil", i)
		}
	}
	return &Qualifier{op: op, children: append([]*Qualifier(nil), children...)}, nil
}

func checkValues(bin string, op Operation, values []Value) error {
	sem := op.Semantics()
	n := len(values)
	if n < sem.MinValues || (sem.MaxValues != Unbounded && n > sem.MaxValues) {
		switch {
		case sem.MaxValues == Unbounded:
			return newPlanningError(bin, op, ErrArity, "requires at least %d value(s), got %d", sem.MinValues, n)
		case sem.MinValues == sem.MaxValues:
			return newPlanningError(bin, op, ErrArity, "requires exactly %d value(s), got %d", sem.MinValues, n)
		default:
			return newPlanningError(bin, op, ErrArity, "requires %d to %d values, got %d", sem.MinValues, sem.MaxValues, n)
		}
	}
	for i, v := range values {
		if !v.Valid() {
			return newPlanningError(bin, op, ErrValueType, "value %d is invalid", i)
		}
	}

	switch {
	case sem.StringOnly:
		if values[0].Kind() != KindString {
			return newPlanningError(bin, op, ErrValueType, "requires a string value, got %s", values[0].Kind())
		}
	case op == OpGeoWithin:
		if k := values[0].Kind(); k != KindGeoJSON && k != KindString {
			return newPlanningError(bin, op, ErrValueType, "requires a GeoJSON region, got %s", k)
		}
	case op == OpListValueBetween:
		if values[0].Kind() != KindInt || values[1].Kind() != KindInt {
			return newPlanningError(bin, op, ErrValueType, "requires integer bounds")
		}
	case op == OpBetween:
		if values[0].Kind() != values[1].Kind() {
			return newPlanningError(bin, op, ErrValueType, "bounds have different types: %s and %s", values[0].Kind(), values[1].Kind())
		}
	}
	return nil
}
