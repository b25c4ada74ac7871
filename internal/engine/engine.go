// Package engine defines the shared propagation contract and implements the
// four concrete engines: topological-sort (sequential and parallel),
// pulse-count, source-set, and flooding.
package engine

import (
	"context"
	"sync"

	"github.com/leofalp/reactor/internal/registry"
	"github.com/leofalp/reactor/internal/topology"
	"github.com/leofalp/reactor/internal/turn"
)

// Handle re-exports registry.Handle so callers of this package never need to
// import internal/registry directly.
type Handle = registry.Handle

// Flags mirrors spec.md's node category flags.
type Flags uint8

const (
	FlagInput Flags = 1 << iota
	FlagOutput
	FlagDynamic
	FlagBuffered
)

// Result is the three-way outcome of a node's update function.
type Result int

const (
	Unchanged Result = iota
	Changed
	Shifted
)

func (r Result) String() string {
	switch r {
	case Changed:
		return "changed"
	case Shifted:
		return "shifted"
	default:
		return "unchanged"
	}
}

// UpdateFunc computes a node's new state for the given turn and reports
// whether it changed, was unaffected, or must be rescheduled at a corrected
// level (Shifted).
type UpdateFunc func(turnID int64) Result

// ClearFunc drops a buffered node's emitted values. Every engine calls it
// at the end of DoTurn for a FlagBuffered node whose update returned
// Changed, or, for an input node, whose apply reported a change, before any
// node is admitted into the next turn. Nil for non-buffered nodes.
type ClearFunc func()

// Observer is invoked by engines that want to report progress without
// importing the observability package directly (keeps engine code free of
// an observability import cycle and makes every call site nil-checked at
// one place).
type Observer interface {
	NodeUpdated(h Handle, result Result)
	NodeShifted(h Handle)
	TurnStarted(id int64)
	TurnCommitted(id int64)
}

// Engine is the contract every propagation engine satisfies. Exactly one
// engine instance is active per graph.
type Engine interface {
	RegisterNode(h Handle, flags Flags, update UpdateFunc, clear ClearFunc)
	UnregisterNode(h Handle)

	Attach(s, p Handle) error
	Detach(s, p Handle)
	DynamicAttach(s, p Handle, t *turn.Turn)
	DynamicDetach(s, p Handle, t *turn.Turn)

	// SubmitInput records that node h has a pending input write; apply is
	// called exactly once during the turn's apply phase and must report
	// whether the node's value actually changed.
	SubmitInput(h Handle, apply func() bool)

	// DoTurn runs body (which calls SubmitInput any number of times) then
	// propagates the admitted inputs through the graph exactly once.
	DoTurn(ctx context.Context, t *turn.Turn, body func())

	// Topology exposes the shared topology so the transaction manager can
	// query levels for diagnostics; engines share one *topology.Topology
	// rather than each keeping a private copy of successor lists.
	Topology() *topology.Topology

	// SetObserver installs (or clears, with nil) an observability hook.
	SetObserver(o Observer)
}

type pendingInput struct {
	handle Handle
	apply  func() bool
}

// clearQueue accumulates the clear callbacks of buffered nodes that emitted
// during the turn so they can be flushed once propagation has fully
// settled, never while a successor might still read the buffer.
type clearQueue struct {
	mu    sync.Mutex
	funcs []ClearFunc
}

func (q *clearQueue) add(flags Flags, clear ClearFunc, result Result) {
	if result != Changed || flags&FlagBuffered == 0 || clear == nil {
		return
	}
	q.mu.Lock()
	q.funcs = append(q.funcs, clear)
	q.mu.Unlock()
}

func (q *clearQueue) flush() {
	q.mu.Lock()
	funcs := q.funcs
	q.funcs = nil
	q.mu.Unlock()
	for _, clear := range funcs {
		clear()
	}
}

// nopObserver is installed by default so call sites never nil-check.
type nopObserver struct{}

func (nopObserver) NodeUpdated(Handle, Result) {}
func (nopObserver) NodeShifted(Handle)         {}
func (nopObserver) TurnStarted(int64)          {}
func (nopObserver) TurnCommitted(int64)        {}
