package qualifier

import "strings"

// Operation identifies what a Qualifier node does.
type Operation int

const (
	OpAnd Operation = iota
	OpOr
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpBetween
	OpIn
	OpNotIn
	OpStartsWith
	OpEndsWith
	OpContaining
	OpNotContaining
	OpLike
	OpExists
	OpNotExists
	OpGeoWithin
	OpListValueContaining
	OpListValueBetween
	OpMapKeysContain
	OpMapValuesContain

	// opTrue marks a leaf absorbed into an index filter. It is never
	// produced by the builder and never survives simplification.
	opTrue
)

// Unbounded is the MaxValues of operations accepting any number of values.
const Unbounded = -1

// Anchor describes how a string operation's literal is anchored when it is
// turned into a regular expression.
type Anchor int

const (
	// AnchorNone: the operation is not regex based.
	AnchorNone Anchor = iota
	AnchorStart
	AnchorEnd
	AnchorBoth
	// AnchorFree: regex based, matches anywhere.
	AnchorFree
)

// Collection is the index collection type an index-eligible operation needs.
type Collection int

const (
	CollectionDefault Collection = iota
	CollectionList
	CollectionMapKeys
	CollectionMapValues
)

func (c Collection) String() string {
	switch c {
	case CollectionList:
		return "list"
	case CollectionMapKeys:
		return "mapkeys"
	case CollectionMapValues:
		return "mapvalues"
	default:
		return "default"
	}
}

// Semantics is the contract an Operation implies.
type Semantics struct {
	Name string

	// Combinator operations take children instead of values.
	Combinator bool

	MinValues int
	MaxValues int // Unbounded for no limit

	// IndexEligible operations may be pushed to the server as the single
	// secondary index filter of a statement.
	IndexEligible bool

	// RangeOnly operations can only use an index for integer values.
	RangeOnly bool

	// Collection is the index collection type required when IndexEligible.
	Collection Collection

	// StringOnly operations require a string value.
	StringOnly bool

	// Anchor is the regex rule for string matching operations.
	Anchor Anchor
}

var semantics = [...]Semantics{
	OpAnd:                 {Name: "and", Combinator: true},
	OpOr:                  {Name: "or", Combinator: true},
	OpEq:                  {Name: "eq", MinValues: 1, MaxValues: 1, IndexEligible: true, Anchor: AnchorBoth},
	OpNotEq:               {Name: "noteq", MinValues: 1, MaxValues: 1},
	OpLt:                  {Name: "lt", MinValues: 1, MaxValues: 1, IndexEligible: true, RangeOnly: true},
	OpLtEq:                {Name: "lteq", MinValues: 1, MaxValues: 1, IndexEligible: true, RangeOnly: true},
	OpGt:                  {Name: "gt", MinValues: 1, MaxValues: 1, IndexEligible: true, RangeOnly: true},
	OpGtEq:                {Name: "gteq", MinValues: 1, MaxValues: 1, IndexEligible: true, RangeOnly: true},
	OpBetween:             {Name: "between", MinValues: 2, MaxValues: 2, IndexEligible: true, RangeOnly: true},
	OpIn:                  {Name: "in", MinValues: 1, MaxValues: Unbounded},
	OpNotIn:               {Name: "notin", MinValues: 1, MaxValues: Unbounded},
	OpStartsWith:          {Name: "startswith", MinValues: 1, MaxValues: 1, StringOnly: true, Anchor: AnchorStart},
	OpEndsWith:            {Name: "endswith", MinValues: 1, MaxValues: 1, StringOnly: true, Anchor: AnchorEnd},
	OpContaining:          {Name: "containing", MinValues: 1, MaxValues: 1, StringOnly: true, Anchor: AnchorFree},
	OpNotContaining:       {Name: "notcontaining", MinValues: 1, MaxValues: 1, StringOnly: true, Anchor: AnchorFree},
	OpLike:                {Name: "like", MinValues: 1, MaxValues: 1, StringOnly: true},
	OpExists:              {Name: "exists"},
	OpNotExists:           {Name: "notexists"},
	OpGeoWithin:           {Name: "geowithin", MinValues: 1, MaxValues: 1, IndexEligible: true},
	OpListValueContaining: {Name: "listvaluecontaining", MinValues: 1, MaxValues: 1, IndexEligible: true, Collection: CollectionList},
	OpListValueBetween:    {Name: "listvaluebetween", MinValues: 2, MaxValues: 2, IndexEligible: true, RangeOnly: true, Collection: CollectionList},
	OpMapKeysContain:      {Name: "mapkeyscontain", MinValues: 1, MaxValues: 1, IndexEligible: true, Collection: CollectionMapKeys},
	OpMapValuesContain:    {Name: "mapvaluescontain", MinValues: 1, MaxValues: 1, IndexEligible: true, Collection: CollectionMapValues},
	opTrue:                {Name: "true"},
}

// Semantics returns the contract of op. Unknown operations return a zero
// Semantics named "unknown".
func (op Operation) Semantics() Semantics {
	if op < 0 || int(op) >= len(semantics) {
		return Semantics{Name: "unknown"}
	}
	return semantics[op]
}

func (op Operation) String() string {
	return op.Semantics().Name
}

// Valid reports whether op is a public operation.
func (op Operation) Valid() bool {
	return op >= OpAnd && op < opTrue
}

// IsCombinator reports whether op joins children.
func (op Operation) IsCombinator() bool {
	return op.Semantics().Combinator
}

// ParseOperation resolves a case-insensitive operation name, accepting the
// names returned by String plus a few common aliases.
func ParseOperation(name string) (Operation, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "=", "==":
		return OpEq, true
	case "!=", "ne", "neq":
		return OpNotEq, true
	case "<":
		return OpLt, true
	case "<=", "lte":
		return OpLtEq, true
	case ">":
		return OpGt, true
	case ">=", "gte":
		return OpGtEq, true
	case "contains":
		return OpContaining, true
	case "notcontains":
		return OpNotContaining, true
	}
	for op := OpAnd; op < opTrue; op++ {
		if semantics[op].Name == n {
			return op, true
		}
	}
	return 0, false
}
