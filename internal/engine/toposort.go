package engine

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"

	"github.com/leofalp/reactor/internal/topology"
	"github.com/leofalp/reactor/internal/turn"
)

type toposortNode struct {
	flags  Flags
	update UpdateFunc
	clear  ClearFunc
	queued atomic.Bool
}

// levelBucket pairs a level with the handles currently queued at it.
type levelBucket struct {
	level   int
	handles []Handle
}

// topoQueue is a min-heap of levelBuckets, mirroring TopoSortEngine's
// TopoQueue: fetch_next returns every handle at the minimum present level in
// one call and shrinks the queue by that count.
type topoQueue struct {
	buckets []*levelBucket
	index   map[int]*levelBucket
}

func newTopoQueue() *topoQueue {
	return &topoQueue{index: make(map[int]*levelBucket)}
}

func (q *topoQueue) Len() int            { return len(q.buckets) }
func (q *topoQueue) Less(i, j int) bool  { return q.buckets[i].level < q.buckets[j].level }
func (q *topoQueue) Swap(i, j int) {
	q.buckets[i], q.buckets[j] = q.buckets[j], q.buckets[i]
}
func (q *topoQueue) Push(x any) { q.buckets = append(q.buckets, x.(*levelBucket)) }
func (q *topoQueue) Pop() any {
	old := q.buckets
	n := len(old)
	item := old[n-1]
	q.buckets = old[:n-1]
	return item
}

func (q *topoQueue) push(h Handle, level int) {
	b, ok := q.index[level]
	if !ok {
		b = &levelBucket{level: level}
		q.index[level] = b
		heap.Push(q, b)
	}
	b.handles = append(b.handles, h)
}

// fetchNext pops every handle queued at the minimum level.
func (q *topoQueue) fetchNext() ([]Handle, bool) {
	if q.Len() == 0 {
		return nil, false
	}
	b := heap.Pop(q).(*levelBucket)
	delete(q.index, b.level)
	return b.handles, true
}

// toposortCore holds the state shared by the sequential and parallel
// topological-sort engines: node table, shared topology, pending inputs.
// Grounded on TopoSortEngine.h/.cpp.
type toposortCore struct {
	mu       sync.Mutex
	topo     *topology.Topology
	nodes    map[Handle]*toposortNode
	pending  []pendingInput
	observer Observer
	clears   clearQueue
}

func newToposortCore() *toposortCore {
	return &toposortCore{
		topo:     topology.New(),
		nodes:    make(map[Handle]*toposortNode),
		observer: nopObserver{},
	}
}

func (c *toposortCore) RegisterNode(h Handle, flags Flags, update UpdateFunc, clear ClearFunc) {
	c.mu.Lock()
	c.nodes[h] = &toposortNode{flags: flags, update: update, clear: clear}
	c.mu.Unlock()
	c.topo.Register(h)
}


func (c *toposortCore) UnregisterNode(h Handle) {
	c.mu.Lock()
	delete(c.nodes, h)
	c.mu.Unlock()
	c.topo.Unregister(h)
}

func (c *toposortCore) Attach(s, p Handle) error { return c.topo.Attach(s, p) }
func (c *toposortCore) Detach(s, p Handle)       { c.topo.Detach(s, p) }

func (c *toposortCore) DynamicAttach(s, p Handle, t *turn.Turn) {
	c.topo.DynamicAttach(s, p)
}

func (c *toposortCore) DynamicDetach(s, p Handle, t *turn.Turn) {
	c.topo.DynamicDetach(s, p)
}

func (c *toposortCore) SubmitInput(h Handle, apply func() bool) {
	c.mu.Lock()
	c.pending = append(c.pending, pendingInput{handle: h, apply: apply})
	c.mu.Unlock()
}

func (c *toposortCore) Topology() *topology.Topology { return c.topo }

func (c *toposortCore) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.observer = o
}

// takeChangedInputs applies every pending input write and returns the
// handles whose apply() reported an actual change.
func (c *toposortCore) takeChangedInputs() []Handle {
	c.mu.Lock()
	inputs := c.pending
	c.pending = nil
	c.mu.Unlock()

	var changed []Handle
	for _, in := range inputs {
		if in.apply() {
			changed = append(changed, in.handle)
			if n := c.node(in.handle); n != nil {
				c.clears.add(n.flags, n.clear, Changed)
			}
		}
	}
	return changed
}

func (c *toposortCore) node(h Handle) *toposortNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nodes[h]
}

// seedQueue primes a fresh queue from the changed input handles. An input
// node's own value was already applied by takeChangedInputs, so the queue is
// seeded with its successors directly rather than re-running the input
// node's update.
func (c *toposortCore) seedQueue(changed []Handle) *topoQueue {
	q := newTopoQueue()
	for _, h := range changed {
		for _, succ := range c.topo.Successors(h) {
			sn := c.node(succ)
			if sn != nil && sn.queued.CompareAndSwap(false, true) {
				q.push(succ, c.topo.Level(succ))
			}
		}
	}
	return q
}

// SeqEngine is the single-threaded topological-sort engine: the reference
// implementation against which the others are validated.
type SeqEngine struct {
	*toposortCore
}

// NewSequential returns a sequential topological-sort engine.
func NewSequential() *SeqEngine {
	return &SeqEngine{toposortCore: newToposortCore()}
}

func (e *SeqEngine) DoTurn(ctx context.Context, t *turn.Turn, body func()) {
	e.topo.SetTurnOpen(true)
	defer e.topo.SetTurnOpen(false)

	body()
	changed := e.takeChangedInputs()
	if len(changed) == 0 {
		return
	}
	e.observer.TurnStarted(t.ID())
	q := e.seedQueue(changed)

	for {
		batch, ok := q.fetchNext()
		if !ok {
			break
		}
		for _, h := range batch {
			e.tick(t, q, h)
		}
	}
	e.clears.flush()
	e.observer.TurnCommitted(t.ID())
}

// tick runs the level-shift-or-update step from spec.md §4.4.1 for one
// node.
func (e *SeqEngine) tick(t *turn.Turn, q *topoQueue, h Handle) {
	n := e.node(h)
	if n == nil {
		return
	}
	level := e.topo.Level(h)
	newLevel := e.topo.NewLevel(h)
	if level < newLevel {
		e.topo.CommitLevel(h)
		e.topo.InvalidateSuccessors(h)
		q.push(h, e.topo.Level(h))
		return
	}

	result := n.update(t.ID())
	e.observer.NodeUpdated(h, result)
	e.clears.add(n.flags, n.clear, result)

	switch result {
	case Changed:
		for _, succ := range e.topo.Successors(h) {
			sn := e.node(succ)
			if sn != nil && sn.queued.CompareAndSwap(false, true) {
				q.push(succ, e.topo.Level(succ))
			}
		}
	case Shifted:
		e.observer.NodeShifted(h)
		e.topo.InvalidateSuccessors(h)
		q.push(h, e.topo.Level(h))
		return
	}
	n.queued.Store(false)
}

// ParEngine dispatches each level's batch across a worker pool. Re-parent
// requests raised through RequestShift inside a batch's updates are stashed
// and applied between batches, never concurrently with update calls,
// mirroring ParEngineBase::OnTurnPropagate. DynamicAttach and DynamicDetach
// are not stashed: they change the shared topology at once, even while a
// batch is running.
type ParEngine struct {
	*toposortCore
	maxConcurrency int

	shiftMu sync.Mutex
	shifts  []shiftRequest
}

type shiftRequest struct {
	node      Handle
	oldParent Handle
	newParent Handle
}

// NewParallel returns a parallel topological-sort engine. maxConcurrency
// bounds how many nodes of a level batch run at once (0 means unbounded).
func NewParallel(maxConcurrency int) *ParEngine {
	return &ParEngine{toposortCore: newToposortCore(), maxConcurrency: maxConcurrency}
}

func (e *ParEngine) DoTurn(ctx context.Context, t *turn.Turn, body func()) {
	e.topo.SetTurnOpen(true)
	defer e.topo.SetTurnOpen(false)

	body()
	changed := e.takeChangedInputs()
	if len(changed) == 0 {
		return
	}
	e.observer.TurnStarted(t.ID())
	q := e.seedQueue(changed)

	for {
		batch, ok := q.fetchNext()
		if !ok {
			break
		}
		var requeue []Handle
		var mu sync.Mutex
		_ = runBatch(ctx, e.maxConcurrency, batch, func(_ context.Context, h Handle) error {
			r := e.tickParallel(t, h)
			if len(r) > 0 {
				mu.Lock()
				requeue = append(requeue, r...)
				mu.Unlock()
			}
			return nil
		})
		for _, h := range requeue {
			q.push(h, e.topo.Level(h))
		}
		e.applyPendingShifts(t, q)
	}
	e.clears.flush()
	e.observer.TurnCommitted(t.ID())
}

// tickParallel returns handles that must be requeued: either this node
// itself at a corrected level (a self-shift) or its successors newly
// enqueued by a change, without mutating the shared queue directly, since
// the queue is not safe for concurrent writers.
func (e *ParEngine) tickParallel(t *turn.Turn, h Handle) []Handle {
	n := e.node(h)
	if n == nil {
		return nil
	}
	level := e.topo.Level(h)
	newLevel := e.topo.NewLevel(h)
	if level < newLevel {
		e.topo.CommitLevel(h)
		e.topo.InvalidateSuccessors(h)
		return []Handle{h}
	}

	result := n.update(t.ID())
	e.observer.NodeUpdated(h, result)
	e.clears.add(n.flags, n.clear, result)

	switch result {
	case Changed:
		var out []Handle
		for _, succ := range e.topo.Successors(h) {
			sn := e.node(succ)
			if sn != nil && sn.queued.CompareAndSwap(false, true) {
				out = append(out, succ)
			}
		}
		n.queued.Store(false)
		return out
	case Shifted:
		e.observer.NodeShifted(h)
		e.topo.InvalidateSuccessors(h)
		return []Handle{h}
	default:
		n.queued.Store(false)
		return nil
	}
}

// RequestShift stashes a dynamic re-parent request raised from inside a
// node's update during a parallel batch; it is applied once the batch has
// fully drained, never concurrently with other updates.
func (e *ParEngine) RequestShift(node, oldParent, newParent Handle) {
	e.shiftMu.Lock()
	e.shifts = append(e.shifts, shiftRequest{node: node, oldParent: oldParent, newParent: newParent})
	e.shiftMu.Unlock()
}

func (e *ParEngine) applyPendingShifts(t *turn.Turn, q *topoQueue) {
	e.shiftMu.Lock()
	shifts := e.shifts
	e.shifts = nil
	e.shiftMu.Unlock()

	for _, s := range shifts {
		e.topo.DynamicDetach(s.node, s.oldParent)
		e.topo.DynamicAttach(s.node, s.newParent)
		q.push(s.node, e.topo.Level(s.node))
	}
}
