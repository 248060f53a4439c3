// Package record defines the records returned by queries and the iterator
// that hands them to callers.
package record

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMoreRecords is returned by a Source when it has nothing left.
	ErrNoMoreRecords = errors.New("no more records")

	ErrExhausted = errors.New("iteration exhausted")
	ErrClosed    = errors.New("iterator closed")
)

// Key identifies a record.
type Key struct {
	Namespace string
	Set       string
	UserKey   any
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%v", k.Namespace, k.Set, k.UserKey)
}

// Record is one key and its bins.
type Record struct {
	Key        Key
	Bins       map[string]any
	Generation uint32
	Expiration uint32 // seconds until expiry, 0 for never
}

// Source is a single-pass cursor over records. Next returns
// ErrNoMoreRecords once the cursor is drained. Close may be called
// concurrently with an in-flight Next.
type Source interface {
	Next() (Record, error)
	Close() error
}

// sliceSource serves records from memory.
type sliceSource struct {
	recs []Record
	pos  int
}

// SliceSource returns a Source over recs.
func SliceSource(recs []Record) Source {
	return &sliceSource{recs: recs}
}

func (s *sliceSource) Next() (Record, error) {
	if s.pos >= len(s.recs) {
		return Record{}, ErrNoMoreRecords
	}
	r := s.recs[s.pos]
	s.pos++
	return r, nil
}

func (s *sliceSource) Close() error { return nil }
