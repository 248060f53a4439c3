// Package query plans how a qualifier tree is executed against a set.
//
// The Builder pushes at most one predicate to the server as a secondary
// index filter and keeps everything else, unmodified in meaning, as the
// residual filter expression. Planning is synchronous and reads only the
// indexes cache snapshot and the capability gate.
package query

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"aeroquery/internal/index"
	"aeroquery/internal/logging"
	"aeroquery/internal/metrics"
	"aeroquery/internal/qualifier"
)

var ErrEmptyNamespace = errors.New("namespace is required")

// IndexLookup answers whether an index serves a key. *index.Cache
// implements it.
type IndexLookup interface {
	Find(k index.Key) (index.Metadata, bool)
}

// Capabilities gates index features by server version. *version.Support
// implements it.
type Capabilities interface {
	IsCDTContextIndexSupported() bool
	IsBlobIndexSupported() bool
}

// Config configures a Builder.
type Config struct {
	Indexes IndexLookup

	// Capabilities is optional; without it every feature is assumed
	// supported.
	Capabilities Capabilities

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Builder turns qualifier trees into Statements. Safe for concurrent use.
type Builder struct {
	indexes IndexLookup
	caps    Capabilities
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config) *Builder {
	return &Builder{
		indexes: cfg.Indexes,
		caps:    cfg.Capabilities,
		logger:  logging.Default(cfg.Logger).With("component", "statement-builder"),
		metrics: cfg.Metrics,
	}
}

// Option adjusts the statement produced by Build.
type Option func(*Statement)

// WithBins selects the bins to return. No bins selects all.
func WithBins(bins ...string) Option {
	return func(s *Statement) {
		s.BinNames = append([]string(nil), bins...)
	}
}

// WithLimit caps the number of records returned.
func WithLimit(n int64) Option {
	return func(s *Statement) { s.Bounds.Limit = max(n, 0) }
}

// WithOffset skips the first n records.
func WithOffset(n int64) Option {
	return func(s *Statement) { s.Bounds.Offset = max(n, 0) }
}

// WithSort appends a sort key. Sorting is applied client side.
func WithSort(bin string, descending bool) Option {
	return func(s *Statement) {
		s.Bounds.Sort = append(s.Bounds.Sort, Sort{Bin: bin, Descending: descending})
	}
}

// candidate is an index-eligible leaf backed by an index.
type candidate struct {
	leaf     *qualifier.Qualifier
	md       index.Metadata
	decision int // position in Statement.Decisions
}

// Build plans q against namespace and set. A nil q plans a full scan.
func (b *Builder) Build(namespace, set string, q *qualifier.Qualifier, opts ...Option) (*Statement, error) {
	if namespace == "" {
		return nil, ErrEmptyNamespace
	}

	st := &Statement{
		ID:        uuid.New(),
		Namespace: namespace,
		Set:       set,
	}
	for _, opt := range opts {
		opt(st)
	}

	var candidates []candidate
	for _, term := range qualifier.Conjuncts(q) {
		if !term.IsLeaf() {
			// A disjunction cannot be a single pushed filter.
			for _, leaf := range qualifier.Leaves(term) {
				st.Decisions = append(st.Decisions, Decision{Leaf: leaf, Action: ActionResidual, Reason: ReasonDisjunction})
			}
			continue
		}

		md, reason := b.assess(namespace, set, term)
		st.Decisions = append(st.Decisions, Decision{Leaf: term, Action: ActionResidual, Reason: reason, Index: md.Name})
		if reason == ReasonChosen {
			candidates = append(candidates, candidate{leaf: term, md: md, decision: len(st.Decisions) - 1})
		}
	}

	chosen := choose(candidates)
	for i, c := range candidates {
		if i != chosen {
			st.Decisions[c.decision].Reason = ReasonSuperseded
		}
	}

	st.Residual = q
	if chosen >= 0 {
		c := candidates[chosen]
		st.Decisions[c.decision].Action = ActionIndexed
		st.Filter = &IndexFilter{
			Bin:        c.leaf.Bin(),
			Operation:  c.leaf.Operation(),
			Values:     c.leaf.Values(),
			Context:    c.leaf.Context(),
			Collection: c.md.Collection,
			Index:      c.md.Name,
		}
		st.Residual = qualifier.Without(q, c.leaf)
	}

	b.metrics.Statement(st.Filter != nil)
	return st, nil
}

// choose returns the position of the first equality candidate, else the
// first candidate, else -1.
func choose(cs []candidate) int {
	for i, c := range cs {
		if c.leaf.Operation() == qualifier.OpEq {
			return i
		}
	}
	if len(cs) > 0 {
		return 0
	}
	return -1
}

// assess decides whether leaf can use an index. ReasonChosen marks a
// candidate. The cache is consulted, and the outcome logged, only for
// leaves that pass every other check.
func (b *Builder) assess(namespace, set string, leaf *qualifier.Qualifier) (index.Metadata, Reason) {
	sem := leaf.Operation().Semantics()
	if !sem.IndexEligible {
		return index.Metadata{}, ReasonNotEligible
	}

	typ, ok := indexType(leaf, sem)
	if !ok {
		return index.Metadata{}, ReasonUnsupportedValue
	}
	rng := IndexFilter{Operation: leaf.Operation(), Values: leaf.Values()}
	if begin, end, ok := rng.Range(); ok && begin > end {
		return index.Metadata{}, ReasonEmptyRange
	}

	ctx := leaf.Context()
	if b.caps != nil {
		if len(ctx) > 0 && !b.caps.IsCDTContextIndexSupported() {
			return index.Metadata{}, ReasonCapability
		}
		if typ == index.TypeBlob && !b.caps.IsBlobIndexSupported() {
			return index.Metadata{}, ReasonCapability
		}
	}

	var (
		md     index.Metadata
		exists bool
	)
	if b.indexes != nil {
		md, exists = b.indexes.Find(index.Key{
			Namespace:  namespace,
			Set:        set,
			Bin:        leaf.Bin(),
			Context:    ctx,
			Type:       typ,
			Collection: sem.Collection,
		})
	}
	msg := "secondary index does not exist"
	if exists {
		msg = "secondary index exists"
	}
	b.logger.Debug(msg, "bin", leaf.Bin(), "namespace", namespace, "set", set, "exists", exists)

	if !exists {
		return index.Metadata{}, ReasonNoIndex
	}
	return md, ReasonChosen
}

// indexType returns the index type able to serve leaf's values.
func indexType(leaf *qualifier.Qualifier, sem qualifier.Semantics) (index.Type, bool) {
	values := leaf.Values()
	if len(values) == 0 {
		return 0, false
	}
	kind := values[0].Kind()
	for _, v := range values[1:] {
		if v.Kind() != kind {
			return 0, false
		}
	}

	switch {
	case sem.RangeOnly:
		if kind != qualifier.KindInt {
			return 0, false
		}
	case leaf.Operation() == qualifier.OpGeoWithin:
		if kind != qualifier.KindGeoJSON && kind != qualifier.KindString {
			return 0, false
		}
		return index.TypeGeo2DSphere, true
	case kind == qualifier.KindGeoJSON:
		return 0, false
	}

	// Indexes compare strings exactly.
	if leaf.IgnoreCase() && kind == qualifier.KindString {
		return 0, false
	}
	return index.TypeForValue(kind)
}
