package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/leofalp/reactor/internal/topology"
	"github.com/leofalp/reactor/internal/turn"
)

// floodingNode is the flooding engine's private per-node scratch. Grounded
// on FloodingEngine.h's Node: a spin_mutex-guarded successor list, an
// atomic scheduled flag, and a small mutex protecting the
// processing/reprocess state machine.
type floodingNode struct {
	flags  Flags
	update UpdateFunc
	clear  ClearFunc

	shiftMu sync.RWMutex

	isScheduled atomic.Bool

	evalMu          sync.Mutex
	isProcessing    bool
	shouldReprocess bool
}

// FloodingEngine has no ordering at all: each input schedules its
// successors, and a task re-runs a node whenever any predecessor has
// pulsed. Output nodes are collected into a deduped set and ticked once at
// the end. Grounded on FloodingEngine.h/.cpp.
type FloodingEngine struct {
	mu             sync.Mutex
	topo           *topology.Topology
	nodes          map[Handle]*floodingNode
	pending        []pendingInput
	observer       Observer
	maxConcurrency int

	outputMu sync.Mutex
	outputs  map[Handle]struct{}

	clears clearQueue
}

// NewFlooding returns a flooding engine.
func NewFlooding(maxConcurrency int) *FloodingEngine {
	return &FloodingEngine{
		topo:           topology.New(),
		nodes:          make(map[Handle]*floodingNode),
		observer:       nopObserver{},
		maxConcurrency: maxConcurrency,
		outputs:        make(map[Handle]struct{}),
	}
}

func (e *FloodingEngine) RegisterNode(h Handle, flags Flags, update UpdateFunc, clear ClearFunc) {
	e.mu.Lock()
	e.nodes[h] = &floodingNode{flags: flags, update: update, clear: clear}
	e.mu.Unlock()
	e.topo.Register(h)
}

func (e *FloodingEngine) UnregisterNode(h Handle) {
	e.mu.Lock()
	delete(e.nodes, h)
	e.mu.Unlock()
	e.topo.Unregister(h)
}

func (e *FloodingEngine) Attach(s, p Handle) error { return e.topo.Attach(s, p) }
func (e *FloodingEngine) Detach(s, p Handle)       { e.topo.Detach(s, p) }

func (e *FloodingEngine) DynamicAttach(s, p Handle, t *turn.Turn) {
	pn := e.node(p)
	if pn != nil {
		pn.shiftMu.Lock()
		e.topo.DynamicAttach(s, p)
		pn.shiftMu.Unlock()
	} else {
		e.topo.DynamicAttach(s, p)
	}
	// Called from inside an update, which already holds exclusive access to
	// s; tick again directly to recompute its value, mirroring
	// FloodingEngine::OnNodeShift.
	if sn := e.node(s); sn != nil {
		result := sn.update(t.ID())
		e.observer.NodeUpdated(s, result)
		e.clears.add(sn.flags, sn.clear, result)
	}
}

func (e *FloodingEngine) DynamicDetach(s, p Handle, t *turn.Turn) {
	pn := e.node(p)
	if pn != nil {
		pn.shiftMu.Lock()
		e.topo.DynamicDetach(s, p)
		pn.shiftMu.Unlock()
	} else {
		e.topo.DynamicDetach(s, p)
	}
}

func (e *FloodingEngine) SubmitInput(h Handle, apply func() bool) {
	e.mu.Lock()
	e.pending = append(e.pending, pendingInput{handle: h, apply: apply})
	e.mu.Unlock()
}

func (e *FloodingEngine) Topology() *topology.Topology { return e.topo }

func (e *FloodingEngine) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.observer = o
}

func (e *FloodingEngine) node(h Handle) *floodingNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes[h]
}

func (e *FloodingEngine) DoTurn(ctx context.Context, t *turn.Turn, body func()) {
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
		e.pulse(ctx, t, h)
	}

	e.outputMu.Lock()
	outputs := make([]Handle, 0, len(e.outputs))
	for h := range e.outputs {
		outputs = append(outputs, h)
	}
	e.outputs = make(map[Handle]struct{})
	e.outputMu.Unlock()

	_ = runBatch(ctx, e.maxConcurrency, outputs, func(_ context.Context, h Handle) error {
		n := e.node(h)
		if n == nil {
			return nil
		}
		result := n.update(t.ID())
		e.observer.NodeUpdated(h, result)
		e.clears.add(n.flags, n.clear, result)
		return nil
	})

	e.clears.flush()
	e.observer.TurnCommitted(t.ID())
}

// markForSchedule is a CAS dedup preventing duplicate scheduling of the same
// node within one turn; output nodes always return true since they are
// always re-collected. Grounded on FloodingEngine.cpp's MarkForSchedule.
func (e *FloodingEngine) markForSchedule(n *floodingNode) bool {
	if n.flags&FlagOutput != 0 {
		return true
	}
	return !n.isScheduled.Swap(true)
}

func (e *FloodingEngine) pulse(ctx context.Context, t *turn.Turn, h Handle) {
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
		if e.markForSchedule(sn) {
			e.process(ctx, t, succ, sn)
		}
		return nil
	})
}

// process loops Evaluate while it returns true, for non-output nodes, or
// defers a single execution for output nodes to transaction end. Grounded
// on FloodingEngine.cpp's process.
func (e *FloodingEngine) process(ctx context.Context, t *turn.Turn, h Handle, n *floodingNode) {
	if n.flags&FlagOutput == 0 {
		for {
			again := e.evaluate(t, h, n)
			if !again {
				break
			}
		}
		e.pulse(ctx, t, h)
		return
	}

	e.outputMu.Lock()
	e.outputs[h] = struct{}{}
	e.outputMu.Unlock()
}

// evaluate runs one update, handling re-entrancy: if the node is already
// being evaluated elsewhere, flag it for reprocessing instead of
// re-entering. Grounded on FloodingEngine.cpp's Node::Evaluate.
func (e *FloodingEngine) evaluate(t *turn.Turn, h Handle, n *floodingNode) bool {
	n.isScheduled.Store(false)

	n.evalMu.Lock()
	if n.isProcessing {
		n.shouldReprocess = true
		n.evalMu.Unlock()
		return false
	}
	n.isProcessing = true
	n.evalMu.Unlock()

	result := n.update(t.ID())
	e.observer.NodeUpdated(h, result)
	e.clears.add(n.flags, n.clear, result)
	if result == Shifted {
		e.observer.NodeShifted(h)
		e.topo.InvalidateSuccessors(h)
	}

	n.evalMu.Lock()
	n.isProcessing = false
	again := n.shouldReprocess
	n.shouldReprocess = false
	n.evalMu.Unlock()
	return again
}
