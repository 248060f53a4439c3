package template

import (
	"cmp"
	"errors"
	"math"
	"slices"
	"strings"

	"aeroquery/internal/query"
	"aeroquery/internal/record"
)

// bounded applies sort, offset and limit to src on the client. Servers
// return query results in partition order, so sorting has to read the
// whole stream first.
func bounded(src record.Source, b query.Bounds) record.Source {
	if len(b.Sort) == 0 && b.Offset <= 0 && b.Limit <= 0 {
		return src
	}
	return &boundedSource{src: src, bounds: b}
}

type boundedSource struct {
	src    record.Source
	bounds query.Bounds

	loaded  bool
	sorted  []record.Record
	skipped int64
	emitted int64
}

func (s *boundedSource) Next() (record.Record, error) {
	if s.bounds.Limit > 0 && s.emitted >= s.bounds.Limit {
		return record.Record{}, record.ErrNoMoreRecords
	}
	for {
		rec, err := s.next()
		if err != nil {
			return record.Record{}, err
		}
		if s.skipped < s.bounds.Offset {
			s.skipped++
			continue
		}
		s.emitted++
		return rec, nil
	}
}

func (s *boundedSource) next() (record.Record, error) {
	if len(s.bounds.Sort) == 0 {
		return s.src.Next()
	}
	if !s.loaded {
		for {
			rec, err := s.src.Next()
			if errors.Is(err, record.ErrNoMoreRecords) {
				break
			}
			if err != nil {
				return record.Record{}, err
			}
			s.sorted = append(s.sorted, rec)
		}
		slices.SortStableFunc(s.sorted, func(a, b record.Record) int {
			return compareRecords(a, b, s.bounds.Sort)
		})
		s.loaded = true
	}
	if len(s.sorted) == 0 {
		return record.Record{}, record.ErrNoMoreRecords
	}
	rec := s.sorted[0]
	s.sorted = s.sorted[1:]
	return rec, nil
}

func (s *boundedSource) Close() error {
	s.sorted = nil
	return s.src.Close()
}

func compareRecords(a, b record.Record, sorts []query.Sort) int {
	for _, srt := range sorts {
		c := compareBin(a.Bins[srt.Bin], b.Bins[srt.Bin])
		if srt.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

// Bin values of different types order by rank: missing, bool, number,
// string, anything else.
func compareBin(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		default:
			return 1
		}
	case string:
		return strings.Compare(x, b.(string))
	}
	if ia, ok := integer(a); ok {
		if ib, ok := integer(b); ok {
			return cmp.Compare(ia, ib)
		}
	}
	if fa, ok := number(a); ok {
		fb, _ := number(b)
		return cmp.Compare(fa, fb)
	}
	return 0
}

// integer reports v as int64 when it is an integer type that fits.
func integer(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	}
	return 0, false
}

func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := v.(bool); ok {
		return 1
	}
	if _, ok := number(v); ok {
		return 2
	}
	if _, ok := v.(string); ok {
		return 3
	}
	return 4
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
