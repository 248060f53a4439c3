package callgroup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDeduplication(t *testing.T) {
	var g Group[string]
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	fn := func() error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	shared := make([]bool, n)

	// First caller starts the work.
	wg.Go(func() {
		errs[0], shared[0] = g.Do(context.Background(), "sindex-list:", fn)
	})

	// Wait for fn to start, then pile on.
	<-started
	var joined sync.WaitGroup
	for i := 1; i < n; i++ {
		joined.Add(1)
		wg.Go(func() {
			joined.Done()
			errs[i], shared[i] = g.Do(context.Background(), "sindex-list:", fn)
		})
	}
	joined.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d got error: %v", i, err)
		}
	}
	if shared[0] {
		t.Error("leader reported a shared result")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fn called %d times, want 1", got)
	}
}

func TestIndependentKeys(t *testing.T) {
	var g Group[int]
	var calls atomic.Int32

	var wg sync.WaitGroup
	for _, key := range []int{1, 2, 3} {
		wg.Go(func() {
			_, _ = g.Do(context.Background(), key, func() error {
				calls.Add(1)
				return nil
			})
		})
	}
	wg.Wait()

	if got := calls.Load(); got != 3 {
		t.Errorf("fn called %d times, want 3", got)
	}
}

func TestErrorPropagation(t *testing.T) {
	var g Group[int]
	sentinel := errors.New("failed")
	started := make(chan struct{})

	leader := make(chan error, 1)
	go func() {
		err, _ := g.Do(context.Background(), 1, func() error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return sentinel
		})
		leader <- err
	}()
	<-started

	err, shared := g.Do(context.Background(), 1, func() error {
		t.Error("should not execute")
		return nil
	})
	if !errors.Is(err, sentinel) || !shared {
		t.Errorf("waiter: got %v, shared=%v", err, shared)
	}
	if err := <-leader; !errors.Is(err, sentinel) {
		t.Errorf("leader: got %v", err)
	}
}

func TestWaiterContextCancelled(t *testing.T) {
	var g Group[int]
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = g.Do(context.Background(), 1, func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err, _ := g.Do(ctx, 1, func() error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("waiter got %v, want context.Canceled", err)
	}

	close(release)
	<-done
}

func TestReuseAfterCompletion(t *testing.T) {
	var g Group[int]
	var calls atomic.Int32

	fn := func() error {
		calls.Add(1)
		return nil
	}
	for range 2 {
		if err, shared := g.Do(context.Background(), 1, fn); err != nil || shared {
			t.Fatalf("call: %v, shared=%v", err, shared)
		}
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fn called %d times, want 2", got)
	}
}
