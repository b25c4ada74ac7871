package engine

import (
	"context"
	"sync"

	"github.com/leofalp/reactor/internal/topology"
	"github.com/leofalp/reactor/internal/turn"
)

const (
	flagVisited uint8 = 1 << iota
	flagUpdated
	flagInvalidated
)

// sourceSetNode is the source-set engine's private per-node scratch.
// Grounded on SourceSetEngine.h's Node (predecessors_, successors_,
// sources_, curTurnId_, tickThreshold_, flags_, NudgeMutexT, ShiftMutexT).
type sourceSetNode struct {
	flags       Flags
	update      UpdateFunc
	clear       ClearFunc
	sources     *SourceIDSet
	curTurnID   int64

	nudgeMu     sync.Mutex
	tickThresh  int
	stateFlags  uint8

	shiftMu sync.RWMutex
}

// SourceSetEngine skips nodes whose transitive source-id set does not
// intersect the turn's admitted source ids. Grounded on
// SourceSetEngine.h/.cpp.
type SourceSetEngine struct {
	mu             sync.Mutex
	topo           *topology.Topology
	nodes          map[Handle]*sourceSetNode
	pending        []pendingInput
	observer       Observer
	maxConcurrency int
	nextSourceID   int32
	clears         clearQueue
}

// NewSourceSet returns a source-set engine.
func NewSourceSet(maxConcurrency int) *SourceSetEngine {
	return &SourceSetEngine{
		topo:           topology.New(),
		nodes:          make(map[Handle]*sourceSetNode),
		observer:       nopObserver{},
		maxConcurrency: maxConcurrency,
	}
}

func (e *SourceSetEngine) RegisterNode(h Handle, flags Flags, update UpdateFunc, clear ClearFunc) {
	e.mu.Lock()
	n := &sourceSetNode{flags: flags, update: update, clear: clear, sources: NewSourceIDSet()}
	if flags&FlagInput != 0 {
		n.sources.Insert(int32(h))
	}
	e.nodes[h] = n
	e.mu.Unlock()
	e.topo.Register(h)
}

func (e *SourceSetEngine) UnregisterNode(h Handle) {
	e.mu.Lock()
	delete(e.nodes, h)
	e.mu.Unlock()
	e.topo.Unregister(h)
}

// Attach additionally unions the parent's source set into the new
// successor eagerly, grounded on SourceSetEngine.cpp's AttachSuccessor.
func (e *SourceSetEngine) Attach(s, p Handle) error {
	if err := e.topo.Attach(s, p); err != nil {
		return err
	}
	e.unionParentInto(s, p)
	return nil
}

func (e *SourceSetEngine) unionParentInto(s, p Handle) {
	sn, pn := e.node(s), e.node(p)
	if sn == nil || pn == nil {
		return
	}
	sn.sources.InsertSet(pn.sources)
}

// Detach recomputes the detached node's source set as a union of its
// remaining predecessors, grounded on DetachSuccessor/invalidateSources.
func (e *SourceSetEngine) Detach(s, p Handle) {
	e.topo.Detach(s, p)
	e.invalidateSources(s)
}

func (e *SourceSetEngine) invalidateSources(s Handle) {
	sn := e.node(s)
	if sn == nil {
		return
	}
	sn.sources.Clear()
	if sn.flags&FlagInput != 0 {
		sn.sources.Insert(int32(s))
	}
	for _, p := range e.topo.Predecessors(s) {
		if pn := e.node(p); pn != nil {
			sn.sources.InsertSet(pn.sources)
		}
	}
}

func (e *SourceSetEngine) DynamicAttach(s, p Handle, t *turn.Turn) {
	pn := e.node(p)
	if pn == nil {
		return
	}
	pn.shiftMu.Lock()
	e.topo.DynamicAttach(s, p)
	e.unionParentInto(s, p)
	pn.shiftMu.Unlock()

	sn := e.node(s)
	if sn == nil {
		return
	}
	alreadyDependency := sn.sources.IntersectsWith(pn.sources)
	alreadyProcessed := pn.curTurnID == t.ID()
	sn.nudgeMu.Lock()
	if alreadyDependency && alreadyProcessed {
		sn.tickThresh = 0
		sn.stateFlags |= flagUpdated
	} else {
		sn.tickThresh = 1
		sn.stateFlags |= flagVisited | flagUpdated
	}
	sn.nudgeMu.Unlock()
}

func (e *SourceSetEngine) DynamicDetach(s, p Handle, t *turn.Turn) {
	pn := e.node(p)
	if pn != nil {
		pn.shiftMu.Lock()
		e.topo.DynamicDetach(s, p)
		pn.shiftMu.Unlock()
	} else {
		e.topo.DynamicDetach(s, p)
	}
	e.invalidateSources(s)
}

func (e *SourceSetEngine) SubmitInput(h Handle, apply func() bool) {
	e.mu.Lock()
	e.pending = append(e.pending, pendingInput{handle: h, apply: apply})
	e.mu.Unlock()
}

func (e *SourceSetEngine) Topology() *topology.Topology { return e.topo }

func (e *SourceSetEngine) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	e.observer = o
}

func (e *SourceSetEngine) node(h Handle) *sourceSetNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes[h]
}

func (e *SourceSetEngine) DoTurn(ctx context.Context, t *turn.Turn, body func()) {
	body()

	e.mu.Lock()
	inputs := e.pending
	e.pending = nil
	e.mu.Unlock()

	turnSources := NewSourceIDSet()
	var changed []Handle
	for _, in := range inputs {
		if in.apply() {
			changed = append(changed, in.handle)
			turnSources.Insert(int32(in.handle))
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
		if n := e.node(h); n != nil {
			n.curTurnID = t.ID()
		}
		// The input's own value was already applied above; pulse its
		// successors directly instead of re-running its update.
		e.pulse(ctx, t, h, true, turnSources)
	}
	e.clears.flush()
	e.observer.TurnCommitted(t.ID())
}

// IsDependency reports whether h's source set intersects the turn's
// admitted source ids.
func (e *SourceSetEngine) IsDependency(h Handle, turnSources *SourceIDSet) bool {
	n := e.node(h)
	if n == nil {
		return false
	}
	return n.sources.IntersectsWith(turnSources)
}

// nudge is the per-successor arrival protocol, grounded line-for-line on
// SourceSetEngine.cpp's Nudge: accumulate flags on first nudge this turn,
// initialize the threshold by counting live dependency predecessors, then
// decrement-and-wait until it reaches zero.
func (e *SourceSetEngine) nudge(ctx context.Context, t *turn.Turn, h Handle, update bool, turnSources *SourceIDSet) {
	n := e.node(h)
	if n == nil {
		return
	}

	n.nudgeMu.Lock()
	if update {
		n.stateFlags |= flagUpdated
	}
	if n.stateFlags&flagVisited == 0 {
		n.stateFlags |= flagVisited
		n.tickThresh = e.countDependencyPredecessors(h, turnSources)
	}
	n.tickThresh--
	if n.tickThresh > 0 {
		n.nudgeMu.Unlock()
		return
	}
	shouldTick := n.stateFlags&flagUpdated != 0
	if n.stateFlags&flagInvalidated != 0 {
		e.invalidateSources(h)
		if n.flags&FlagOutput == 0 {
			n.stateFlags &^= flagInvalidated
		}
	}
	n.stateFlags &^= flagVisited
	n.stateFlags &^= flagUpdated
	n.nudgeMu.Unlock()

	if shouldTick {
		n.curTurnID = t.ID()
		result := n.update(t.ID())
		e.observer.NodeUpdated(h, result)
		e.clears.add(n.flags, n.clear, result)
		if result == Shifted {
			e.observer.NodeShifted(h)
			e.topo.InvalidateSuccessors(h)
		}
		e.pulse(ctx, t, h, result == Changed, turnSources)
	} else {
		e.pulse(ctx, t, h, false, turnSources)
	}
}

func (e *SourceSetEngine) pulse(ctx context.Context, t *turn.Turn, h Handle, update bool, turnSources *SourceIDSet) {
	n := e.node(h)
	if n == nil {
		return
	}
	n.shiftMu.RLock()
	successors := e.topo.Successors(h)
	n.shiftMu.RUnlock()

	_ = runBatch(ctx, e.maxConcurrency, successors, func(ctx context.Context, succ Handle) error {
		if e.IsDependency(succ, turnSources) {
			e.nudge(ctx, t, succ, update, turnSources)
		}
		return nil
	})
}

func (e *SourceSetEngine) countDependencyPredecessors(h Handle, turnSources *SourceIDSet) int {
	count := 0
	for _, p := range e.topo.Predecessors(h) {
		if e.IsDependency(p, turnSources) {
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	return count
}
