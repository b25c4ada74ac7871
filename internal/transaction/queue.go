package transaction

import "sync"

// mergedCall is one body merged into another turn's admission phase plus
// the condition its own caller blocks on until that turn ends.
type mergedCall struct {
	body    func()
	done    chan struct{}
}

// queueEntry is one turn's place in the serialization queue. Grounded on
// original_source/include/react/detail/EngineBase.h's TurnQueueManager's
// QueueEntry: a blocked/unblocked state, a successor link, and a list of
// bodies merged into this entry's admission phase.
type queueEntry struct {
	mu         sync.Mutex
	cond       *sync.Cond
	blocked    bool
	successor  *queueEntry
	merged     []mergedCall
}

func newQueueEntry() *queueEntry {
	e := &queueEntry{}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// waitForUnblock blocks the caller until the entry is released by its
// predecessor (or returns immediately if there was none).
func (e *queueEntry) waitForUnblock() {
	e.mu.Lock()
	for e.blocked {
		e.cond.Wait()
	}
	e.mu.Unlock()
}

// tryMerge appends body to this entry's merged list if the entry is still
// blocked (still in its own admission window), returning a channel the
// caller can wait on, or ok=false if the entry already started running.
// Grounded on TurnQueueManager::TryMerge / BlockingCondition::RunIfBlocked.
func (e *queueEntry) tryMerge(body func()) (done chan struct{}, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.blocked {
		return nil, false
	}
	done = make(chan struct{})
	e.merged = append(e.merged, mergedCall{body: body, done: done})
	return done, true
}

// runMergedBodies runs every merged body in append order. Called by the
// entry's own owner during its admission phase.
func (e *queueEntry) runMergedBodies() {
	e.mu.Lock()
	merged := e.merged
	e.mu.Unlock()
	for _, m := range merged {
		m.body()
	}
}

func (e *queueEntry) unblockMerged() {
	e.mu.Lock()
	merged := e.merged
	e.mu.Unlock()
	for _, m := range merged {
		close(m.done)
	}
}

// TurnQueueManager serializes turn admission: at most one turn's body runs
// at a time, with bursty callers able to merge into the currently-admitting
// turn instead of starting their own. Grounded on EngineBase.h's
// TurnQueueManager.
type TurnQueueManager struct {
	mu   sync.Mutex
	tail *queueEntry
}

// StartTurn appends a new entry to the tail of the queue and blocks the
// caller until it is this entry's turn to run, returning the entry (used
// later to merge additional callers or to end the turn).
func (m *TurnQueueManager) StartTurn() *queueEntry {
	entry := newQueueEntry()

	m.mu.Lock()
	prev := m.tail
	if prev != nil {
		entry.blocked = true
	}
	m.tail = entry
	m.mu.Unlock()

	if prev != nil {
		prev.mu.Lock()
		prev.successor = entry
		prev.mu.Unlock()
	}

	entry.waitForUnblock()
	return entry
}

// TryMerge attempts to merge body into the current tail's admission phase.
// Returns ok=false if there is no tail or the tail is no longer blocked
// (i.e. already admitting), in which case the caller must start its own
// turn.
func (m *TurnQueueManager) TryMerge(body func()) (done chan struct{}, ok bool) {
	m.mu.Lock()
	tail := m.tail
	m.mu.Unlock()
	if tail == nil {
		return nil, false
	}
	return tail.tryMerge(body)
}

// EndTurn unblocks this entry's successor (releasing the next queued turn)
// and, if this was the tail, clears the tail pointer.
func (m *TurnQueueManager) EndTurn(entry *queueEntry) {
	entry.unblockMerged()

	entry.mu.Lock()
	successor := entry.successor
	entry.mu.Unlock()

	if successor != nil {
		successor.mu.Lock()
		successor.blocked = false
		successor.cond.Broadcast()
		successor.mu.Unlock()
	}

	m.mu.Lock()
	if m.tail == entry {
		m.tail = nil
	}
	m.mu.Unlock()
}
