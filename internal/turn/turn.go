// Package turn implements the per-cycle state shared by every propagation
// engine: the turn id, the input-merging flag, the post-turn detach queue,
// and the continuation buffer.
package turn

import (
	"sync"

	"github.com/leofalp/reactor/internal/registry"
)

// maxID mirrors the source's deliberately small wrap boundary (below
// INT_MAX, not a full 64-bit range) so wraparound is reachable in tests.
const maxID int64 = 1<<31 - 1

// Turn is the unit of atomic update. It carries no turn-local thread state:
// callers pass *Turn explicitly down every call path rather than relying on
// a thread-local pointer, per the explicit redesign away from the source's
// ContinuationHolder.
type Turn struct {
	id            int64
	mergingOn     bool

	mu            sync.Mutex
	detachQueue   []registry.Handle
	continuations []func()
}

// Counter hands out monotonically increasing, wrap-around turn ids.
type Counter struct {
	mu   sync.Mutex
	next int64
}

// Next returns the next turn id, wrapping back to 0 before it would exceed
// maxID.
func (c *Counter) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	if c.next >= maxID {
		c.next = 0
	}
	return id
}

// New returns a fresh turn with the given id. mergingOn records whether
// this turn was started with input merging enabled, as reported by
// MergingEnabled; continuation-spawned turns always pass false, per spec.
func New(id int64, mergingOn bool) *Turn {
	return &Turn{id: id, mergingOn: mergingOn}
}

// ID returns the turn's id.
func (t *Turn) ID() int64 { return t.id }

// MergingEnabled reports whether this turn accepts merged inputs.
func (t *Turn) MergingEnabled() bool { return t.mergingOn }

// QueueDetach records a node to be detached once this turn (and its full
// continuation chain) has finished propagating.
func (t *Turn) QueueDetach(h registry.Handle) {
	t.mu.Lock()
	t.detachQueue = append(t.detachQueue, h)
	t.mu.Unlock()
}

// DrainDetachQueue returns and clears the accumulated detach requests.
func (t *Turn) DrainDetachQueue() []registry.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.detachQueue
	t.detachQueue = nil
	return out
}

// Continue appends fn to this turn's continuation buffer: it runs as the
// body of a brand new turn once this turn's propagation has fully settled.
func (t *Turn) Continue(fn func()) {
	t.mu.Lock()
	t.continuations = append(t.continuations, fn)
	t.mu.Unlock()
}

// DrainContinuations returns and clears the accumulated continuation
// callbacks.
func (t *Turn) DrainContinuations() []func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.continuations
	t.continuations = nil
	return out
}

// HasContinuations reports whether any continuation callbacks are pending.
func (t *Turn) HasContinuations() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.continuations) > 0
}
