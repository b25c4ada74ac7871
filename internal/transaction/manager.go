// Package transaction implements the input and transaction manager: the
// turn-id counter, the turn-queue serializer, input merging, and the
// continuation-draining loop.
package transaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/leofalp/reactor/internal/engine"
	"github.com/leofalp/reactor/internal/turn"
)

// ErrQueueClosed is returned by EnqueueTransaction once the manager has been
// closed.
var ErrQueueClosed = fmt.Errorf("transaction: async queue closed")

// ErrOverflow is returned by EnqueueTransaction when the bounded async queue
// is full; this is the one graceful backpressure failure mode the core
// needs.
var ErrOverflow = fmt.Errorf("transaction: async queue overflow")

// defaultAsyncMergeCap is the initial value of Manager.asyncMergeCap, which
// bounds how many additional queued jobs may merge into one drained turn,
// mirroring ReactiveInput.h's processAsyncQueue's literal cap of 100.
const defaultAsyncMergeCap = 100

type asyncJob struct {
	id      uuid.UUID
	body    func()
	wg      *sync.WaitGroup
}

// Observer mirrors engine.Observer's shape for manager-level events not
// already covered by the engine (merges, overflow, async dispatch).
type Observer interface {
	QueueMerged(turnID int64)
	AsyncOverflow()
	AsyncDispatched(id uuid.UUID, turnID int64)
}

type nopObserver struct{}

func (nopObserver) QueueMerged(int64)            {}
func (nopObserver) AsyncOverflow()                {}
func (nopObserver) AsyncDispatched(uuid.UUID, int64) {}

// Manager is the input & transaction manager of §4.5: it wraps external
// writes in turns, serializes them through a TurnQueueManager, and drains
// continuations until they settle. Grounded on
// original_source/include/react/detail/ReactiveInput.h's InputManager<D>.
type Manager struct {
	eng          engine.Engine
	counter      turn.Counter
	queue        TurnQueueManager
	mergingOn    bool
	asyncMergeCap int
	observer     Observer

	asyncMu     sync.Mutex
	asyncCh     chan asyncJob
	asyncCap    int
	closed      bool
	wg          sync.WaitGroup
}

// New returns a transaction manager driving eng. mergingOn sets the default
// input-merge flag used by DoTransaction; asyncCap bounds the async queue
// (0 selects a fixed 4096-job buffer).
func New(eng engine.Engine, mergingOn bool, asyncCap int) *Manager {
	m := &Manager{
		eng:           eng,
		mergingOn:     mergingOn,
		asyncMergeCap: defaultAsyncMergeCap,
		observer:      nopObserver{},
		asyncCap:      asyncCap,
	}
	if asyncCap > 0 {
		m.asyncCh = make(chan asyncJob, asyncCap)
	} else {
		m.asyncCh = make(chan asyncJob, 4096)
	}
	m.wg.Add(1)
	go m.processAsyncQueue()
	return m
}

// SetObserver installs a manager-level observability hook.
func (m *Manager) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	m.observer = o
}

// SetAsyncMergeCap overrides the default async-drain merge cap.
func (m *Manager) SetAsyncMergeCap(n int) {
	if n > 0 {
		m.asyncMergeCap = n
	}
}

// DoTransaction synchronously runs body, which may call the engine's
// SubmitInput any number of times, producing exactly one turn (unless body
// itself triggers continuations, which run as further turns before
// DoTransaction returns). Grounded on InputManager<D>::DoTransaction.
func (m *Manager) DoTransaction(ctx context.Context, body func()) {
	if m.mergingOn {
		if done, ok := m.queue.TryMerge(body); ok {
			<-done
			m.observer.QueueMerged(0)
			return
		}
	}

	entry := m.queue.StartTurn()
	id := m.counter.Next()
	t := turn.New(id, m.mergingOn)
	// Deferred so that a panic from body or from an update run on this
	// goroutine still applies the queued detaches and releases the queue
	// before it reaches the caller.
	defer func() {
		for _, h := range t.DrainDetachQueue() {
			m.eng.UnregisterNode(h)
		}
		m.queue.EndTurn(entry)
	}()

	entry.runMergedBodies()
	body()

	m.eng.DoTurn(ctx, t, func() {})
	t = m.drainContinuations(ctx, t)
}

// drainContinuations repeatedly moves a turn's continuation buffer into a
// fresh turn (merging disabled) until it empties, per §4.3. Each turn's
// detach requests are carried forward onto the next, and the final turn is
// returned so the caller applies every detach of the chain once it ends.
func (m *Manager) drainContinuations(ctx context.Context, t *turn.Turn) *turn.Turn {
	for t.HasContinuations() {
		conts := t.DrainContinuations()
		id := m.counter.Next()
		next := turn.New(id, false)
		m.eng.DoTurn(ctx, next, func() {
			for _, fn := range conts {
				fn()
			}
		})
		for _, h := range t.DrainDetachQueue() {
			next.QueueDetach(h)
		}
		t = next
	}
	return t
}

// EnqueueTransaction submits body to the background async worker, returning
// a correlation id, passed to the observer's AsyncDispatched, and a wait
// function that blocks until the job's turn has ended.
func (m *Manager) EnqueueTransaction(body func()) (id uuid.UUID, wait func(), err error) {
	m.asyncMu.Lock()
	if m.closed {
		m.asyncMu.Unlock()
		return uuid.Nil, nil, ErrQueueClosed
	}
	m.asyncMu.Unlock()

	id = uuid.New()
	var wgLocal sync.WaitGroup
	wgLocal.Add(1)

	select {
	case m.asyncCh <- asyncJob{id: id, body: body, wg: &wgLocal}:
		return id, wgLocal.Wait, nil
	default:
		m.observer.AsyncOverflow()
		return uuid.Nil, nil, ErrOverflow
	}
}

// Close stops accepting new async transactions and waits for the worker to
// drain.
func (m *Manager) Close() {
	m.asyncMu.Lock()
	if m.closed {
		m.asyncMu.Unlock()
		return
	}
	m.closed = true
	close(m.asyncCh)
	m.asyncMu.Unlock()
	m.wg.Wait()
}

// processAsyncQueue is the background worker draining the async queue. It
// merges up to asyncMergeCap additional queued jobs into the same turn
// while draining, mirroring ReactiveInput.h's processAsyncQueue.
func (m *Manager) processAsyncQueue() {
	defer m.wg.Done()
	ctx := context.Background()

	for job := range m.asyncCh {
		jobs := []asyncJob{job}
		for len(jobs)-1 < m.asyncMergeCap {
			select {
			case extra, ok := <-m.asyncCh:
				if !ok {
					break
				}
				jobs = append(jobs, extra)
				continue
			default:
			}
			break
		}

		entry := m.queue.StartTurn()
		id := m.counter.Next()
		t := turn.New(id, false)

		entry.runMergedBodies()
		for _, j := range jobs {
			j.body()
			m.observer.AsyncDispatched(j.id, id)
		}

		m.eng.DoTurn(ctx, t, func() {})
		t = m.drainContinuations(ctx, t)

		for _, h := range t.DrainDetachQueue() {
			m.eng.UnregisterNode(h)
		}
		m.queue.EndTurn(entry)

		for _, j := range jobs {
			j.wg.Done()
		}
	}
}
