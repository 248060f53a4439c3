// Package callgroup coalesces concurrent calls that would fetch the same
// thing.
//
// The first caller for a key runs the function; callers arriving while it
// runs wait for that result instead of issuing their own request. Once the
// function returns the key is forgotten, so a later call fetches again.
package callgroup

import (
	"context"
	"sync"
)

// Group coalesces concurrent calls by key. The zero value is ready to use.
type Group[K comparable] struct {
	mu    sync.Mutex
	calls map[K]*call
}

type call struct {
	done chan struct{}
	err  error
}

// Do runs fn unless a call for key is already in flight, in which case it
// waits for that call's error. shared reports whether the result came from
// another caller. A waiter whose ctx ends first returns ctx.Err(); the
// in-flight call is not interrupted.
func (g *Group[K]) Do(ctx context.Context, key K, fn func() error) (err error, shared bool) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call)
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.err, true
		case <-ctx.Done():
			return ctx.Err(), true
		}
	}

	c := &call{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()
	c.err = fn()
	return c.err, false
}
