// Package topology maintains successor/predecessor edges and the level
// bookkeeping used by level-based propagation engines.
package topology

import (
	"fmt"
	"sync"

	"github.com/leofalp/reactor/internal/registry"
)

// ErrAttachDuringTurn is returned when a static Attach is attempted while a
// turn is in flight; static topology changes are only legal before or
// between turns.
var ErrAttachDuringTurn = fmt.Errorf("topology: static attach called while a turn is in flight")

// ErrCycle is returned when an edge would close a cycle in the declared
// graph; the core assumes an acyclic graph at steady state and treats this
// as a fatal caller error.
var ErrCycle = fmt.Errorf("topology: edge would introduce a cycle")

type nodeInfo struct {
	level        int
	newLevel     int
	successors   []registry.Handle
	predecessors []registry.Handle
}

// Topology owns the edge relation and level assignment for a graph.
type Topology struct {
	mu        sync.RWMutex
	nodes     map[registry.Handle]*nodeInfo
	turnOpen  bool
}

// New returns an empty topology.
func New() *Topology {
	return &Topology{nodes: make(map[registry.Handle]*nodeInfo)}
}

// Register allocates bookkeeping for a newly inserted node.
func (t *Topology) Register(h registry.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[h] = &nodeInfo{}
}

// Unregister drops bookkeeping for a removed node.
func (t *Topology) Unregister(h registry.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, h)
}

// SetTurnOpen marks whether a turn is currently in flight, gating static
// Attach calls; Detach does not check it.
func (t *Topology) SetTurnOpen(open bool) {
	t.mu.Lock()
	t.turnOpen = open
	t.mu.Unlock()
}

// Level returns the current committed level of a node.
func (t *Topology) Level(h registry.Handle) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n, ok := t.nodes[h]; ok {
		return n.level
	}
	return 0
}

// NewLevel returns the pending (not-yet-committed) level of a node.
func (t *Topology) NewLevel(h registry.Handle) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n, ok := t.nodes[h]; ok {
		return n.newLevel
	}
	return 0
}

// CommitLevel bumps a node's committed level to its pending level, returning
// true if the level actually changed.
func (t *Topology) CommitLevel(h registry.Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[h]
	if !ok || n.level >= n.newLevel {
		return false
	}
	n.level = n.newLevel
	return true
}

// Successors returns a copy of a node's successor list.
func (t *Topology) Successors(h registry.Handle) []registry.Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[h]
	if !ok {
		return nil
	}
	out := make([]registry.Handle, len(n.successors))
	copy(out, n.successors)
	return out
}

// Predecessors returns a copy of a node's predecessor list.
func (t *Topology) Predecessors(h registry.Handle) []registry.Handle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[h]
	if !ok {
		return nil
	}
	out := make([]registry.Handle, len(n.predecessors))
	copy(out, n.predecessors)
	return out
}

// Attach adds a static edge p -> s, legal only between turns and only
// pre-construction (s must have no successors yet). Mirrors
// TopoSortEngine::OnNodeAttach: raises level(s) to level(p)+1 if needed,
// never re-levels descendants.
func (t *Topology) Attach(s, p registry.Handle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.turnOpen {
		return ErrAttachDuringTurn
	}
	sn, pn := t.nodes[s], t.nodes[p]
	if sn == nil || pn == nil {
		return fmt.Errorf("%w: unknown node in attach(%d, %d)", registry.ErrStaleHandle, s, p)
	}
	seen := map[registry.Handle]bool{s: true}
	for stack := []registry.Handle{s}; len(stack) > 0; {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == p {
			return fmt.Errorf("%w: attach(%d, %d)", ErrCycle, s, p)
		}
		cn := t.nodes[cur]
		if cn == nil {
			continue
		}
		for _, succ := range cn.successors {
			if !seen[succ] {
				seen[succ] = true
				stack = append(stack, succ)
			}
		}
	}
	pn.successors = append(pn.successors, s)
	sn.predecessors = append(sn.predecessors, p)
	if sn.level <= pn.level {
		sn.level = pn.level + 1
		sn.newLevel = sn.level
	}
	return nil
}

// Detach removes a static edge p -> s. Levels are never decreased.
func (t *Topology) Detach(s, p registry.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pn, ok := t.nodes[p]; ok {
		pn.successors = removeHandle(pn.successors, s)
	}
	if sn, ok := t.nodes[s]; ok {
		sn.predecessors = removeHandle(sn.predecessors, p)
	}
}

// DynamicAttach is Attach's in-turn counterpart: it also invalidates
// descendants of s so the engine re-levels and reschedules them.
func (t *Topology) DynamicAttach(s, p registry.Handle) {
	t.mu.Lock()
	sn, pn := t.nodes[s], t.nodes[p]
	if sn == nil || pn == nil {
		t.mu.Unlock()
		return
	}
	pn.successors = append(pn.successors, s)
	sn.predecessors = append(sn.predecessors, p)
	if sn.newLevel <= pn.level {
		sn.newLevel = pn.level + 1
	}
	t.mu.Unlock()
	t.InvalidateSuccessors(s)
}

// DynamicDetach is Detach's in-turn counterpart.
func (t *Topology) DynamicDetach(s, p registry.Handle) {
	t.Detach(s, p)
}

// InvalidateSuccessors walks s's successors, raising NewLevel for any
// successor whose NewLevel is no longer strictly greater than s's level.
// Mirrors TopoSortEngine::invalidateSuccessors.
func (t *Topology) InvalidateSuccessors(s registry.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sn, ok := t.nodes[s]
	if !ok {
		return
	}
	level := sn.level
	if sn.newLevel > level {
		level = sn.newLevel
	}
	for _, succ := range sn.successors {
		if succN, ok := t.nodes[succ]; ok && succN.newLevel <= level {
			succN.newLevel = level + 1
		}
	}
}

func removeHandle(list []registry.Handle, h registry.Handle) []registry.Handle {
	for i, v := range list {
		if v == h {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
