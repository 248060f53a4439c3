package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"aeroquery/internal/cdt"
	"aeroquery/internal/qualifier"
)

// Statement is the execution plan for one query.
type Statement struct {
	ID        uuid.UUID
	Namespace string
	Set       string
	BinNames  []string // nil selects all bins

	// Filter is the single secondary index filter, or nil for a scan.
	Filter *IndexFilter

	// Residual holds every predicate not absorbed by Filter, evaluated by
	// the server per record. Nil when nothing remains.
	Residual *qualifier.Qualifier

	Bounds Bounds

	// Decisions lists what happened to each leaf, in qualifier order.
	Decisions []Decision
}

// Indexed reports whether the statement uses a secondary index.
func (s *Statement) Indexed() bool {
	return s.Filter != nil
}

// Bounds are pagination and sort hints applied to the result stream.
type Bounds struct {
	Offset int64
	Limit  int64 // 0 for unlimited
	Sort   []Sort
}

// Sort orders results by one bin.
type Sort struct {
	Bin        string
	Descending bool
}

func (s Sort) String() string {
	if s.Descending {
		return s.Bin + " desc"
	}
	return s.Bin + " asc"
}

// IndexFilter is the predicate pushed to the server as a secondary index
// query.
type IndexFilter struct {
	Bin        string
	Operation  qualifier.Operation
	Values     []qualifier.Value
	Context    cdt.Context
	Collection qualifier.Collection
	Index      string // name of the index serving the filter
}

// Range translates an integer filter into the inclusive [begin, end] range
// a numeric index query takes. ok is false for non-integer filters and for
// operations that are not ranges. An empty range is returned as begin > end.
func (f *IndexFilter) Range() (begin, end int64, ok bool) {
	if len(f.Values) == 0 || f.Values[0].Kind() != qualifier.KindInt {
		return 0, 0, false
	}
	v := f.Values[0].IntValue()
	switch f.Operation {
	case qualifier.OpEq, qualifier.OpListValueContaining,
		qualifier.OpMapKeysContain, qualifier.OpMapValuesContain:
		return v, v, true
	case qualifier.OpLt:
		if v == math.MinInt64 {
			return 1, 0, true
		}
		return math.MinInt64, v - 1, true
	case qualifier.OpLtEq:
		return math.MinInt64, v, true
	case qualifier.OpGt:
		if v == math.MaxInt64 {
			return 1, 0, true
		}
		return v + 1, math.MaxInt64, true
	case qualifier.OpGtEq:
		return v, math.MaxInt64, true
	case qualifier.OpBetween, qualifier.OpListValueBetween:
		if len(f.Values) != 2 {
			return 0, 0, false
		}
		// Upper bound is exclusive.
		hi := f.Values[1].IntValue()
		if hi <= v {
			return 1, 0, true
		}
		return v, hi - 1, true
	}
	return 0, 0, false
}

func (f *IndexFilter) String() string {
	var sb strings.Builder
	sb.WriteString(f.Bin)
	if len(f.Context) > 0 {
		sb.WriteString(f.Context.String())
	}
	sb.WriteString(" ")
	sb.WriteString(f.Operation.String())
	for _, v := range f.Values {
		sb.WriteString(" ")
		sb.WriteString(v.String())
	}
	return sb.String()
}

// Action is what the planner did with a leaf.
type Action string

const (
	ActionIndexed  Action = "indexed"
	ActionResidual Action = "residual"
)

// Reason explains an Action.
type Reason string

const (
	ReasonChosen           Reason = "chosen"
	ReasonNoIndex          Reason = "no-index"
	ReasonNotEligible      Reason = "not-eligible"
	ReasonUnsupportedValue Reason = "unsupported-value"
	ReasonEmptyRange       Reason = "empty-range"
	ReasonCapability       Reason = "capability"
	ReasonSuperseded       Reason = "superseded"
	ReasonDisjunction      Reason = "disjunction"
)

// Decision records the planner's choice for one leaf.
type Decision struct {
	Leaf   *qualifier.Qualifier
	Action Action
	Reason Reason
	Index  string // index consulted or used, when one exists
}

func (d Decision) String() string {
	s := fmt.Sprintf("%-8s %s (%s)", d.Action, d.Leaf, d.Reason)
	if d.Index != "" {
		s += " index=" + d.Index
	}
	return s
}

// Explain renders the statement for humans.
func (s *Statement) Explain() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "statement %s\n", s.ID)
	fmt.Fprintf(&sb, "  namespace: %s\n", s.Namespace)
	fmt.Fprintf(&sb, "  set:       %s\n", orNone(s.Set))

	if s.Filter != nil {
		fmt.Fprintf(&sb, "  filter:    %s [%s]\n", s.Filter, s.Filter.Index)
	} else {
		sb.WriteString("  filter:    <none> (scan)\n")
	}
	fmt.Fprintf(&sb, "  residual:  %s\n", s.Residual)

	if len(s.BinNames) > 0 {
		fmt.Fprintf(&sb, "  bins:      %s\n", strings.Join(s.BinNames, ", "))
	}
	if b := s.Bounds; b.Offset > 0 || b.Limit > 0 || len(b.Sort) > 0 {
		fmt.Fprintf(&sb, "  bounds:    offset=%d limit=%d", b.Offset, b.Limit)
		for _, srt := range b.Sort {
			sb.WriteString(" sort=")
			sb.WriteString(srt.String())
		}
		sb.WriteString("\n")
	}

	if len(s.Decisions) > 0 {
		sb.WriteString("  decisions:\n")
		for _, d := range s.Decisions {
			sb.WriteString("    ")
			sb.WriteString(d.String())
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
