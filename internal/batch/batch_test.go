package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"aeroquery/internal/record"
)

func TestChunkExact(t *testing.T) {
	ids := make([]int, 201)
	for i := range ids {
		ids[i] = i
	}
	chunks := Chunk(ids, 100)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	sizes := []int{100, 100, 1}
	next := 0
	for i, c := range chunks {
		if len(c) != sizes[i] {
			t.Errorf("chunk %d size = %d, want %d", i, len(c), sizes[i])
		}
		for _, id := range c {
			if id != next {
				t.Fatalf("order broken: got %d, want %d", id, next)
			}
			next++
		}
	}
}

func TestChunkEdges(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 100, nil},
		{1, 100, []int{1}},
		{100, 100, []int{100}},
		{101, 100, []int{100, 1}},
		{5, 2, []int{2, 2, 1}},
		{150, 0, []int{100, 50}},
	}
	for _, tt := range tests {
		chunks := Chunk(make([]string, tt.n), tt.size)
		if len(chunks) != len(tt.want) {
			t.Errorf("Chunk(%d, %d) = %d chunks, want %d", tt.n, tt.size, len(chunks), len(tt.want))
			continue
		}
		for i, c := range chunks {
			if len(c) != tt.want[i] {
				t.Errorf("Chunk(%d, %d)[%d] = %d, want %d", tt.n, tt.size, i, len(c), tt.want[i])
			}
		}
	}
}

func TestChunkAppendDoesNotClobber(t *testing.T) {
	items := []int{1, 2, 3, 4}
	chunks := Chunk(items, 2)
	_ = append(chunks[0], 99)
	if items[2] != 3 {
		t.Error("appending to a chunk overwrote the next chunk")
	}
}

func keys(n int) []record.Key {
	out := make([]record.Key, n)
	for i := range out {
		out[i] = record.Key{Namespace: "test", Set: "s", UserKey: i}
	}
	return out
}

func found(_ context.Context, ks []record.Key) ([]Outcome, error) {
	out := make([]Outcome, len(ks))
	for i, k := range ks {
		out[i] = Outcome{Record: record.Record{Key: k}, Found: true}
	}
	return out, nil
}

func TestRunnerCallsOncePerChunk(t *testing.T) {
	var calls atomic.Int32
	r := &Runner{Size: 100, Concurrency: 2}
	outcomes, err := r.Run(context.Background(), "get", keys(201), func(ctx context.Context, ks []record.Key) ([]Outcome, error) {
		calls.Add(1)
		return found(ctx, ks)
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
	if len(outcomes) != 201 {
		t.Fatalf("outcomes = %d", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Key.UserKey != i || !o.Found {
			t.Fatalf("outcome %d = %+v", i, o)
		}
	}
}

func TestRunnerNoKeysNoCalls(t *testing.T) {
	r := &Runner{}
	outcomes, err := r.Run(context.Background(), "get", nil, func(context.Context, []record.Key) ([]Outcome, error) {
		t.Error("called with no keys")
		return nil, nil
	})
	if err != nil || len(outcomes) != 0 {
		t.Errorf("Run = %v, %v", outcomes, err)
	}
}

func TestRunnerPartialFailure(t *testing.T) {
	boom := errors.New("node down")
	perKey := errors.New("record too big")

	r := &Runner{Size: 10, Concurrency: 4}
	outcomes, err := r.Run(context.Background(), "delete", keys(30), func(_ context.Context, ks []record.Key) ([]Outcome, error) {
		switch ks[0].UserKey {
		case 10:
			return nil, boom
		case 20:
			out := make([]Outcome, len(ks))
			out[3].Err = perKey
			return out[:9], nil
		}
		return make([]Outcome, len(ks)), nil
	})

	var pf *PartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("error = %v, want *PartialFailure", err)
	}
	if pf.Total != 30 || pf.Op != "delete" {
		t.Errorf("PartialFailure = %+v", pf)
	}
	// 10 keys of the failed chunk, one per-key failure, one short response.
	if len(pf.Failures) != 12 {
		t.Fatalf("failures = %d, want 12", len(pf.Failures))
	}
	if !errors.Is(err, boom) || !errors.Is(err, perKey) || !errors.Is(err, ErrShortResponse) {
		t.Error("PartialFailure must expose every per-key error")
	}
	for i := range 10 {
		if outcomes[i].Err != nil {
			t.Errorf("key %d failed in a healthy chunk", i)
		}
	}
	if outcomes[23].Key.UserKey != 23 || outcomes[23].Err == nil {
		t.Errorf("outcome 23 = %+v", outcomes[23])
	}
}

func TestRunnerBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0

	r := &Runner{Size: 1, Concurrency: 3}
	_, err := r.Run(context.Background(), "get", keys(20), func(ctx context.Context, ks []record.Key) ([]Outcome, error) {
		mu.Lock()
		inFlight++
		peak = max(peak, inFlight)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return found(ctx, ks)
	})
	if err != nil {
		t.Fatal(err)
	}
	if peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestRunnerCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Size: 5, Limiter: rate.NewLimiter(rate.Inf, 1)}
	_, err := r.Run(ctx, "get", keys(10), found)
	var pf *PartialFailure
	if !errors.As(err, &pf) || len(pf.Failures) != 10 || !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v", err)
	}
}

func TestRunnerRateLimit(t *testing.T) {
	// 4 chunks at 50/s with burst 1: at least 3 waits of 20ms.
	r := &Runner{Size: 1, Concurrency: 4, Limiter: rate.NewLimiter(50, 1)}
	start := time.Now()
	if _, err := r.Run(context.Background(), "get", keys(4), found); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("elapsed %v, limiter not applied", elapsed)
	}
}
