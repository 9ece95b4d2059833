// Package flight coalesces concurrent calls that share a key into a
// single execution. Unlike a cache, nothing outlives the call: the key
// is released the moment the owning execution completes, so the next
// caller starts a fresh one.
package flight

import (
	"context"
	"sync"
)

type call struct {
	done chan struct{}
	val  any
	err  error
}

// Group tracks in-flight calls by key. The zero value is not usable;
// construct with New.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn, making sure only one execution per key is in flight.
// Callers that join an existing execution block until it completes and
// receive the same value and error; joined reports whether this caller
// shared another caller's execution. A joiner whose ctx is cancelled
// detaches with ctx.Err() without affecting the owning call.
func (g *Group) Do(ctx context.Context, key string, fn func() (any, error)) (val any, joined bool, err error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}

	c := &call{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	// Release the key before waking joiners so a caller arriving after
	// completion always starts a new execution.
	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	g.mu.Unlock()
	close(c.done)

	return c.val, false, c.err
}

// Forget drops the key so the next Do starts a new execution even if
// one is still in flight. Joiners already attached keep waiting for
// the original.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
