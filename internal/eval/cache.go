package eval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/roach88/storyflow/internal/ir"
)

// FetchCache memoizes fetch results for the lifetime of one request. At most
// one resolution per key runs at a time; concurrent callers for the same key
// wait for it and share the result. Failed resolutions are not stored, so a
// cancelled request leaves no partial state behind.
//
// Thread-safety: safe for concurrent use.
type FetchCache struct {
	mu       sync.Mutex
	entries  map[string]*fetchEntry
	resolved atomic.Int64
}

type fetchEntry struct {
	done chan struct{}
	docs []ir.Object
	err  error
}

// NewFetchCache returns an empty request-scoped memo.
func NewFetchCache() *FetchCache {
	return &FetchCache{entries: make(map[string]*fetchEntry)}
}

// Do returns the memoized result for key, calling resolve if no resolution
// has completed or is in flight. A waiter whose leader was cancelled takes
// over the resolution with its own context, so one caller's cancellation
// never fails another caller that is still live.
func (c *FetchCache) Do(ctx context.Context, key string, resolve func(context.Context) ([]ir.Object, error)) ([]ir.Object, error) {
	for {
		c.mu.Lock()
		e, ok := c.entries[key]
		if !ok {
			e = &fetchEntry{done: make(chan struct{})}
			c.entries[key] = e
			c.mu.Unlock()
			return c.lead(ctx, key, e, resolve)
		}
		c.mu.Unlock()

		select {
		case <-e.done:
			if e.err != nil && isCancellation(e.err) && ctx.Err() == nil {
				continue
			}
			return e.docs, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (c *FetchCache) lead(ctx context.Context, key string, e *fetchEntry, resolve func(context.Context) ([]ir.Object, error)) ([]ir.Object, error) {
	e.docs, e.err = resolve(ctx)
	c.resolved.Add(1)
	if e.err != nil {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
	}
	close(e.done)
	return e.docs, e.err
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Resolutions returns how many times a resolver was actually invoked.
func (c *FetchCache) Resolutions() int {
	return int(c.resolved.Load())
}

// Len returns the number of stored keys.
func (c *FetchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
