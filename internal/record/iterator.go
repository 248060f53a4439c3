package record

import (
	"errors"
	"iter"
	"sync/atomic"
)

// State is the lifecycle state of an Iterator.
type State int

const (
	StateOpen State = iota
	StateExhausted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IterationStateError is returned by Next once the iterator is exhausted or
// closed.
type IterationStateError struct {
	State State
}

func (e *IterationStateError) Error() string {
	return "next called on " + e.State.String() + " iterator"
}

func (e *IterationStateError) Unwrap() error {
	if e.State == StateClosed {
		return ErrClosed
	}
	return ErrExhausted
}

// Iterator is a lazy single-pass sequence over a Source.
//
// HasNext and Next belong to the consuming goroutine. Close may be called
// from any goroutine, any number of times, including before the first
// Next; the source is released exactly once, either by Close or when the
// source is drained.
type Iterator struct {
	src      Source
	closed   atomic.Bool
	released atomic.Bool

	// consumer-owned
	peek    Record
	hasPeek bool
	pending error
	done    bool
	err     error
}

// NewIterator wraps src.
func NewIterator(src Source) *Iterator {
	return &Iterator{src: src}
}

// Single returns an iterator yielding exactly rec.
func Single(rec Record) *Iterator {
	return NewIterator(SliceSource([]Record{rec}))
}

// Empty returns an iterator yielding nothing.
func Empty() *Iterator {
	return NewIterator(SliceSource(nil))
}

// HasNext reports whether Next will return a record or a source error.
func (it *Iterator) HasNext() bool {
	if it.closed.Load() {
		return false
	}
	if it.hasPeek || it.pending != nil {
		return true
	}
	if it.done {
		return false
	}

	rec, err := it.src.Next()
	if it.closed.Load() {
		return false
	}
	switch {
	case errors.Is(err, ErrNoMoreRecords):
		it.done = true
		_ = it.release()
		return false
	case err != nil:
		it.done = true
		it.err = err
		it.pending = err
		_ = it.release()
		return true
	}
	it.peek, it.hasPeek = rec, true
	return true
}

// Next returns the next record. A source error is returned once, after
// which the iterator is exhausted. Calling Next on an exhausted or closed
// iterator returns *IterationStateError.
func (it *Iterator) Next() (Record, error) {
	if !it.HasNext() {
		return Record{}, &IterationStateError{State: it.State()}
	}
	if it.pending != nil {
		err := it.pending
		it.pending = nil
		return Record{}, err
	}
	rec := it.peek
	it.peek, it.hasPeek = Record{}, false
	return rec, nil
}

// State returns the current lifecycle state.
func (it *Iterator) State() State {
	switch {
	case it.closed.Load():
		return StateClosed
	case it.done && !it.hasPeek && it.pending == nil:
		return StateExhausted
	default:
		return StateOpen
	}
}

// Err returns the source error that ended iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Close moves the iterator to the closed state and releases the source if
// it has not been released yet. Only the call that releases the source can
// return its error.
func (it *Iterator) Close() error {
	it.closed.Store(true)
	return it.release()
}

func (it *Iterator) release() error {
	if !it.released.CompareAndSwap(false, true) {
		return nil
	}
	return it.src.Close()
}

// All yields every remaining record and closes the iterator when the loop
// ends. A source error is yielded once as the final element.
func (it *Iterator) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		defer it.Close()
		for it.HasNext() {
			rec, err := it.Next()
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the iterator into a slice and closes it.
func Collect(it *Iterator) ([]Record, error) {
	var out []Record
	for rec, err := range it.All() {
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}
