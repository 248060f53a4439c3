package qualifier

// Conjuncts returns the AND-combined top-level terms of q, flattening nested
// AND nodes. Any other node (leaf or OR) is a single term. A nil q has no
// terms.
//
// Examples:
//   - "a"               -> [a]
//   - "a AND (b AND c)" -> [a, b, c]
//   - "a AND (b OR c)"  -> [a, (b OR c)]
//   - "a OR b"          -> [(a OR b)]
func Conjuncts(q *Qualifier) []*Qualifier {
	if q == nil {
		return nil
	}
	if q.op != OpAnd {
		return []*Qualifier{q}
	}
	var out []*Qualifier
	for _, c := range q.children {
		out = append(out, Conjuncts(c)...)
	}
	return out
}

// Walk visits q and its descendants depth-first. Returning false from fn
// skips the node's children.
func Walk(q *Qualifier, fn func(*Qualifier) bool) {
	if q == nil || !fn(q) {
		return
	}
	for _, c := range q.children {
		Walk(c, fn)
	}
}

// Leaves returns all leaf qualifiers in depth-first order.
func Leaves(q *Qualifier) []*Qualifier {
	var out []*Qualifier
	Walk(q, func(n *Qualifier) bool {
		if n.IsLeaf() {
			out = append(out, n)
		}
		return true
	})
	return out
}

// tautology is the marker substituted for a leaf absorbed into an index filter.
var tautology = &Qualifier{op: opTrue}

// Without returns q with the leaf absorbed (matched by identity) removed.
// The absorbed leaf is replaced by a tautology and the tree simplified:
// tautologies are dropped from AND nodes, an OR containing a tautology
// becomes a tautology, and single-child combinators collapse into their
// child. Every other node keeps its identity and meaning. A nil result
// means nothing remains to evaluate.
func Without(q, absorbed *Qualifier) *Qualifier {
	return simplify(replace(q, absorbed, tautology))
}

func replace(q, target, with *Qualifier) *Qualifier {
	if q == nil {
		return nil
	}
	if q == target {
		return with
	}
	if !q.op.IsCombinator() {
		return q
	}
	changed := false
	children := make([]*Qualifier, len(q.children))
	for i, c := range q.children {
		children[i] = replace(c, target, with)
		if children[i] != c {
			changed = true
		}
	}
	if !changed {
		return q
	}
	return &Qualifier{op: q.op, children: children}
}

func simplify(q *Qualifier) *Qualifier {
	switch {
	case q == nil, q.op == opTrue:
		return nil
	case !q.op.IsCombinator():
		return q
	}

	changed := false
	var kept []*Qualifier
	for _, c := range q.children {
		s := simplify(c)
		if s != c {
			changed = true
		}
		if s == nil {
			if q.op == OpOr {
				// (true OR x) is always true.
				return nil
			}
			continue
		}
		kept = append(kept, s)
	}
	switch {
	case len(kept) == 0:
		return nil
	case len(kept) == 1 && changed:
		return kept[0]
	case !changed:
		return q
	}
	return &Qualifier{op: q.op, children: kept}
}
