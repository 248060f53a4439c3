package qualifier

import (
	"bytes"
	"cmp"
	"regexp"
	"strings"

	"aeroquery/internal/cdt"
)

// Bins provides bin values for evaluation, keyed by bin name. Values are
// plain Go values: integers, floats, strings, bools, []byte, []any and maps
// keyed by string or any.
type Bins map[string]any

// Matches evaluates q against a record's bins. A nil q matches everything.
//
// Predicates on a missing bin (or a context path that does not resolve)
// never match, except NotExists. GeoWithin is not evaluated in memory and
// never matches.
func Matches(q *Qualifier, bins Bins) bool {
	if q == nil {
		return true
	}
	switch q.op {
	case opTrue:
		return true
	case OpAnd:
		for _, c := range q.children {
			if !Matches(c, bins) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range q.children {
			if Matches(c, bins) {
				return true
			}
		}
		return false
	}

	raw, ok := bins[q.bin]
	if ok && len(q.ctx) > 0 {
		raw, ok = resolve(raw, q.ctx)
	}
	if q.op == OpNotExists {
		return !ok
	}
	if !ok || raw == nil {
		return false
	}
	return matchLeaf(q, raw)
}

func matchLeaf(q *Qualifier, raw any) bool {
	switch q.op {
	case OpExists:
		return true
	case OpEq:
		return equalRaw(raw, q.values[0], q.ignoreCase)
	case OpNotEq:
		return !equalRaw(raw, q.values[0], q.ignoreCase)
	case OpLt, OpLtEq, OpGt, OpGtEq:
		c, ok := compareRaw(raw, q.values[0])
		if !ok {
			return false
		}
		switch q.op {
		case OpLt:
			return c < 0
		case OpLtEq:
			return c <= 0
		case OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case OpBetween:
		return between(raw, q.values[0], q.values[1])
	case OpIn:
		return inValues(raw, q.values, q.ignoreCase)
	case OpNotIn:
		return !inValues(raw, q.values, q.ignoreCase)
	case OpStartsWith, OpEndsWith, OpContaining, OpNotContaining:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		lit := q.values[0].StringValue()
		if q.ignoreCase {
			s, lit = strings.ToLower(s), strings.ToLower(lit)
		}
		switch q.op {
		case OpStartsWith:
			return strings.HasPrefix(s, lit)
		case OpEndsWith:
			return strings.HasSuffix(s, lit)
		case OpContaining:
			return strings.Contains(s, lit)
		default:
			return !strings.Contains(s, lit)
		}
	case OpLike:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		pattern := q.values[0].StringValue()
		if q.ignoreCase {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(s)
	case OpListValueContaining:
		list, ok := raw.([]any)
		if !ok {
			return false
		}
		return inList(list, q.values[0], q.ignoreCase)
	case OpListValueBetween:
		list, ok := raw.([]any)
		if !ok {
			return false
		}
		for _, e := range list {
			if between(e, q.values[0], q.values[1]) {
				return true
			}
		}
		return false
	case OpMapKeysContain:
		for k := range mapEntries(raw) {
			if equalRaw(k, q.values[0], q.ignoreCase) {
				return true
			}
		}
		return false
	case OpMapValuesContain:
		for _, v := range mapEntries(raw) {
			if equalRaw(v, q.values[0], q.ignoreCase) {
				return true
			}
		}
		return false
	}
	return false
}

// resolve follows a context path. Only MapKey and ListIndex steps are
// supported in memory.
func resolve(v any, ctx cdt.Context) (any, bool) {
	for _, step := range ctx {
		switch step.Kind {
		case cdt.MapKey:
			found := false
			for k, e := range mapEntries(v) {
				if k == step.Value {
					v, found = e, true
					break
				}
			}
			if !found {
				return nil, false
			}
		case cdt.ListIndex:
			list, ok := v.([]any)
			idx, isInt := step.Value.(int64)
			if !ok || !isInt {
				return nil, false
			}
			if idx < 0 {
				idx += int64(len(list))
			}
			if idx < 0 || idx >= int64(len(list)) {
				return nil, false
			}
			v = list[idx]
		default:
			return nil, false
		}
	}
	return v, true
}

// mapEntries normalizes map[string]any and map[any]any into key/value pairs
// with integer keys folded to int64.
func mapEntries(v any) map[any]any {
	out := make(map[any]any)
	switch m := v.(type) {
	case map[string]any:
		for k, e := range m {
			out[k] = e
		}
	case map[any]any:
		for k, e := range m {
			if val, err := ValueOf(k); err == nil && val.Kind() == KindInt {
				out[val.IntValue()] = e
				continue
			}
			out[k] = e
		}
	}
	return out
}

func inValues(raw any, values []Value, ignoreCase bool) bool {
	for _, v := range values {
		if equalRaw(raw, v, ignoreCase) {
			return true
		}
	}
	return false
}

func inList(list []any, v Value, ignoreCase bool) bool {
	for _, e := range list {
		if equalRaw(e, v, ignoreCase) {
			return true
		}
	}
	return false
}

func equalRaw(raw any, v Value, ignoreCase bool) bool {
	rv, err := ValueOf(raw)
	if err != nil {
		return false
	}
	if ignoreCase && rv.Kind() == KindString && v.Kind() == KindString {
		return strings.EqualFold(rv.StringValue(), v.StringValue())
	}
	if isNumeric(rv) && isNumeric(v) {
		return rv.FloatValue() == v.FloatValue()
	}
	if v.Kind() == KindGeoJSON && rv.Kind() == KindString {
		return rv.StringValue() == v.StringValue()
	}
	return rv.Equal(v)
}

// compareRaw orders raw against v. ok is false for incomparable kinds.
func compareRaw(raw any, v Value) (int, bool) {
	rv, err := ValueOf(raw)
	if err != nil {
		return 0, false
	}
	switch {
	case rv.Kind() == KindInt && v.Kind() == KindInt:
		return cmp.Compare(rv.IntValue(), v.IntValue()), true
	case isNumeric(rv) && isNumeric(v):
		return cmp.Compare(rv.FloatValue(), v.FloatValue()), true
	case rv.Kind() == KindString && v.Kind() == KindString:
		return strings.Compare(rv.StringValue(), v.StringValue()), true
	case rv.Kind() == KindBytes && v.Kind() == KindBytes:
		return bytes.Compare(rv.b, v.b), true
	}
	return 0, false
}

// between is lower-inclusive and upper-exclusive.
func between(raw any, lo, hi Value) bool {
	c1, ok1 := compareRaw(raw, lo)
	c2, ok2 := compareRaw(raw, hi)
	return ok1 && ok2 && c1 >= 0 && c2 < 0
}

func isNumeric(v Value) bool {
	return v.Kind() == KindInt || v.Kind() == KindFloat
}
