package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/leofalp/reactor/internal/topology"
	"github.com/leofalp/reactor/internal/turn"
)

// pulseNode is the pulse-count engine's private per-node scratch block.
// Grounded on PulseCountEngine.h's Node: a spin_rw_mutex guarding the
// successor list during shifts, an atomic pulse threshold, and an atomic
// should-update / marked pair.
type pulseNode struct {
	flags        Flags
	update       UpdateFunc
	clear        ClearFunc
	shiftMu      sync.RWMutex
	threshold    atomic.Int32
	shouldUpdate atomic.Bool
	marked       atomic.Bool
}

// PulseCountEngine floods a marker pass from each changed input, counting
// each reachable node's incoming reachable edges into a threshold, then
// nudges successors as predecessors finish so each node runs only once its
// threshold reaches zero. Grounded on PulseCountEngine.h/.cpp.
type PulseCountEngine struct {
	mu             sync.Mutex
	topo           *topology.Topology
	nodes          map[Handle]*pulseNode
	pending        []pendingInput
	observer       Observer
	maxConcurrency int
	clears         clearQueue
}

// NewPulseCount returns a pulse-count engine.
func NewPulseCount(maxConcurrency int) *PulseCountEngine {
	return &PulseCountEngine{
		topo:           topology.New(),
		nodes:          make(map[Handle]*pulseNode),
		observer:       nopObserver{},
		maxConcurrency: maxConcurrency,
	}
}

func (e *PulseCountEngine) RegisterNode(h Handle, flags Flags, update UpdateFunc, clear ClearFunc) {
	e.mu.Lock()
	e.nodes[h] = &pulseNode{flags: flags, update: update, clear: clear}
	e.mu.Unlock()
	e.topo.Register(h)
}

func (e *PulseCountEngine) UnregisterNode(h Handle) {
	e.mu.Lock()
	delete(e.nodes, h)
	e.mu.Unlock()
	e.topo.Unregister(h)
}

func (e *PulseCountEngine) Attach(s, p Handle) error { return e.topo.Attach(s, p) }
func (e *PulseCountEngine) Detach(s, p Handle)       { e.topo.Detach(s, p) }

func (e *PulseCountEngine) DynamicAttach(s, p Handle, t *turn.Turn) {
	pn := e.node(p)
	if pn != nil {
		pn.shiftMu.Lock()
		defer pn.shiftMu.Unlock()
	}
	e.topo.DynamicAttach(s, p)
	// If the new parent is not marked (it has already finished this turn,
	// or is not part of it), the child's threshold is reset to zero;
	// otherwise it is set to one so the parent's nudge ticks the child once
	// the parent finishes. The child is not re-ticked here in either case.
	sn := e.node(s)
	if sn != nil && pn != nil && !pn.marked.Load() {
		sn.threshold.Store(0)
		sn.shouldUpdate.Store(true)
	} else if sn != nil {
		sn.threshold.Store(1)
		sn.shouldUpdate.Store(true)
	}
}

func (e *PulseCountEngine) DynamicDetach(s, p Handle, t *turn.Turn) {
	e.topo.DynamicDetach(s, p)
}

func (e *PulseCountEngine) SubmitInput(h Handle, apply func() bool) {
	e.mu.Lock()
	e.pending = append(e.pending, pendingInput{handle: h, apply: apply})
	e.mu.Unlock()
}

func (e *PulseCountEngine) Topology() *topology.Topology { return e.topo }

func (e *PulseCountEngine) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.observer = o
}

func (e *PulseCountEngine) node(h Handle) *pulseNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes[h]
}

func (e *PulseCountEngine) DoTurn(ctx context.Context, t *turn.Turn, body func()) {
	body()

	e.mu.Lock()
	inputs := e.pending
	e.pending = nil
	e.mu.Unlock()

	var changed []Handle
	for _, in := range inputs {
		if in.apply() {
			changed = append(changed, in.handle)
			if n := e.node(in.handle); n != nil {
				e.clears.add(n.flags, n.clear, Changed)
			}
		}
	}
	if len(changed) == 0 {
		return
	}
	e.observer.TurnStarted(t.ID())

	for _, h := range changed {
		e.initTurn(h)
	}
	for _, h := range changed {
		e.nudgeChildren(ctx, t, h, true)
	}
	e.clears.flush()
	e.observer.TurnCommitted(t.ID())

	for h := range e.nodes {
		e.node(h).marked.Store(false)
	}
}

// initTurn recursively floods reachable nodes, incrementing each one's
// threshold once per incoming reachable edge. Grounded on
// PulseCountEngine.cpp's initTurn.
func (e *PulseCountEngine) initTurn(h Handle) {
	for _, succ := range e.topo.Successors(h) {
		sn := e.node(succ)
		if sn == nil {
			continue
		}
		sn.threshold.Add(1)
		if sn.marked.CompareAndSwap(false, true) {
			e.initTurn(succ)
		}
	}
}

// nudgeChildren decrements each successor's threshold; once a successor's
// threshold reaches zero it either ticks (if it received at least one
// "update" nudge) or propagates idly. Grounded on
// PulseCountEngine.cpp's nudgeChildren/processChild.
func (e *PulseCountEngine) nudgeChildren(ctx context.Context, t *turn.Turn, h Handle, update bool) {
	n := e.node(h)
	if n == nil {
		return
	}
	n.shiftMu.RLock()
	successors := e.topo.Successors(h)
	n.shiftMu.RUnlock()

	_ = runBatch(ctx, e.maxConcurrency, successors, func(ctx context.Context, succ Handle) error {
		sn := e.node(succ)
		if sn == nil {
			return nil
		}
		if update {
			sn.shouldUpdate.Store(true)
		}
		if sn.threshold.Add(-1) > 0 {
			return nil
		}
		e.processChild(ctx, t, succ, sn)
		return nil
	})
	n.marked.Store(false)
}

func (e *PulseCountEngine) processChild(ctx context.Context, t *turn.Turn, h Handle, n *pulseNode) {
	if n.shouldUpdate.Swap(false) {
		result := n.update(t.ID())
		e.observer.NodeUpdated(h, result)
		e.clears.add(n.flags, n.clear, result)
		if result == Shifted {
			e.observer.NodeShifted(h)
			e.topo.InvalidateSuccessors(h)
		}
		e.nudgeChildren(ctx, t, h, result == Changed)
	} else {
		e.nudgeChildren(ctx, t, h, false)
	}
}
