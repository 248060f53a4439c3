package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"aeroquery/internal/metrics"
	"aeroquery/internal/record"
)

// ErrShortResponse marks keys a chunk call returned no outcome for.
var ErrShortResponse = errors.New("no outcome returned for key")

// Outcome is the result for one key. Found is false for a missing record
// and for a failed key; Err is set only for failures.
type Outcome struct {
	Key    record.Key
	Record record.Record
	Found  bool
	Err    error
}

// ChunkFunc executes one chunk and returns one Outcome per key, in key
// order. A returned error fails every key of the chunk.
type ChunkFunc func(ctx context.Context, keys []record.Key) ([]Outcome, error)

// KeyFailure is one failed key.
type KeyFailure struct {
	Key record.Key
	Err error
}

func (f KeyFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Key, f.Err)
}

func (f KeyFailure) Unwrap() error {
	return f.Err
}

// PartialFailure reports the keys of a batch operation that failed. The
// other keys succeeded and their outcomes are returned alongside.
type PartialFailure struct {
	Op       string
	Total    int
	Failures []KeyFailure
}

func (e *PartialFailure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "batch %s: %d of %d keys failed", e.Op, len(e.Failures), e.Total)
	for i, f := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&sb, "; and %d more", len(e.Failures)-i)
			break
		}
		sb.WriteString("; ")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

// Unwrap returns every per-key error so errors.Is matches any of them.
func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Runner dispatches one ChunkFunc call per chunk.
type Runner struct {
	// Size is the maximum keys per call. Below 1 means DefaultSize.
	Size int

	// Concurrency bounds in-flight calls. Below 1 means sequential.
	Concurrency int

	// Limiter, when set, paces chunk dispatch.
	Limiter *rate.Limiter

	Metrics *metrics.Metrics
}

// Run chunks keys and calls fn once per chunk. Outcomes are returned in key
// order. When any key fails the error is a *PartialFailure; failures of
// some chunks never cancel the others.
func (r *Runner) Run(ctx context.Context, op string, keys []record.Key, fn ChunkFunc) ([]Outcome, error) {
	outcomes := make([]Outcome, len(keys))
	chunks := Chunk(keys, r.Size)

	var g errgroup.Group
	g.SetLimit(max(r.Concurrency, 1))

	offset := 0
	for _, chunk := range chunks {
		out := outcomes[offset : offset+len(chunk)]
		offset += len(chunk)

		g.Go(func() error {
			r.runChunk(ctx, op, chunk, out, fn)
			return nil
		})
	}
	_ = g.Wait()

	var failures []KeyFailure
	for _, o := range outcomes {
		if o.Err != nil {
			failures = append(failures, KeyFailure{Key: o.Key, Err: o.Err})
		}
	}
	if len(failures) > 0 {
		r.Metrics.BatchKeyFailures(op, len(failures))
		return outcomes, &PartialFailure{Op: op, Total: len(keys), Failures: failures}
	}
	return outcomes, nil
}

// runChunk fills out, which is aligned with keys.
func (r *Runner) runChunk(ctx context.Context, op string, keys []record.Key, out []Outcome, fn ChunkFunc) {
	fail := func(err error) {
		for i, k := range keys {
			out[i] = Outcome{Key: k, Err: err}
		}
	}

	if r.Limiter != nil {
		if err := r.Limiter.Wait(ctx); err != nil {
			fail(err)
			return
		}
	}
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	r.Metrics.BatchChunk(op)
	res, err := fn(ctx, keys)
	if err != nil {
		fail(err)
		return
	}
	for i, k := range keys {
		if i >= len(res) {
			out[i] = Outcome{Key: k, Err: ErrShortResponse}
			continue
		}
		out[i] = res[i]
		out[i].Key = k
	}
}
