// Package reactor is a functional-reactive propagation core: programs
// declare a dependency graph of time-varying values and discrete event
// streams, write to it from the outside, and the library keeps every
// derived node consistent with its predecessors inside atomic update cycles
// called turns.
//
// The package is deliberately narrow. It does not provide Fold, Merge,
// Filter, Transform, or any other combinator — those are expected to be
// built on top of MakeNode/Attach/SetInput/WithTransaction by a surface
// layer. What it does provide is the hard part: four interchangeable
// propagation engines, each glitch-free and topologically consistent, with
// sequential and parallel execution strategies.
package reactor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/leofalp/reactor/internal/engine"
	"github.com/leofalp/reactor/internal/observability"
	"github.com/leofalp/reactor/internal/registry"
	"github.com/leofalp/reactor/internal/topology"
	"github.com/leofalp/reactor/internal/transaction"
	"github.com/leofalp/reactor/internal/turn"
)

// NodeHandle is a stable identifier for a registered node, valid until the
// node is unregistered.
type NodeHandle = engine.Handle

// NodeFlags mirrors the category flags of §3: input, output, dynamic,
// buffered.
type NodeFlags = engine.Flags

const (
	FlagInput    = engine.FlagInput
	FlagOutput   = engine.FlagOutput
	FlagDynamic  = engine.FlagDynamic
	FlagBuffered = engine.FlagBuffered
)

// UpdateResult is the three-way outcome of a node's update function.
type UpdateResult = engine.Result

const (
	Unchanged = engine.Unchanged
	Changed   = engine.Changed
	Shifted   = engine.Shifted
)

// UpdateFunc computes a node's new state for the given turn.
type UpdateFunc = engine.UpdateFunc

// ClearFunc drops a buffered node's emitted values. Supply a non-nil clear
// to MakeNode for any node registered with FlagBuffered; the core calls it
// at the end of a turn in which the node's update returned Changed (for an
// input node: in which its SetInput apply reported a change), before the
// next turn is admitted.
type ClearFunc = engine.ClearFunc

// Graph owns one propagation engine instance and the transaction manager
// driving it. Construct with New; a zero Graph is not usable.
type Graph struct {
	cfg      config
	reg      *registry.Registry
	eng      engine.Engine
	mgr      *transaction.Manager
	provider observability.Provider
}

// New constructs a Graph configured by opts.
func New(opts ...Option) *Graph {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var eng engine.Engine
	switch cfg.engine {
	case TopoSortParallel:
		eng = engine.NewParallel(cfg.maxConcurrency)
	case PulseCount:
		eng = engine.NewPulseCount(cfg.maxConcurrency)
	case SourceSet:
		eng = engine.NewSourceSet(cfg.maxConcurrency)
	case Flooding:
		eng = engine.NewFlooding(cfg.maxConcurrency)
	default:
		eng = engine.NewSequential()
	}

	var engineObservers []engine.Observer
	if cfg.provider != nil {
		engineObservers = append(engineObservers, &observability.EngineAdapter{Provider: cfg.provider})
	}
	if cfg.metrics != nil {
		engineObservers = append(engineObservers, cfg.metrics)
	}
	switch len(engineObservers) {
	case 0:
	case 1:
		eng.SetObserver(engineObservers[0])
	default:
		eng.SetObserver(fanoutEngineObserver(engineObservers))
	}

	mgr := transaction.New(eng, cfg.inputMergingOn, cfg.asyncQueueCap)
	mgr.SetAsyncMergeCap(cfg.asyncMergeCap)

	var mgrObservers []transaction.Observer
	if cfg.provider != nil {
		mgrObservers = append(mgrObservers, &observability.ManagerAdapter{Provider: cfg.provider})
	}
	if cfg.metrics != nil {
		mgrObservers = append(mgrObservers, cfg.metrics)
	}
	switch len(mgrObservers) {
	case 0:
	case 1:
		mgr.SetObserver(mgrObservers[0])
	default:
		mgr.SetObserver(fanoutManagerObserver(mgrObservers))
	}

	return &Graph{
		cfg:      cfg,
		reg:      registry.New(64),
		eng:      eng,
		mgr:      mgr,
		provider: cfg.provider,
	}
}

// MakeNode registers a new node with the given flags and update function,
// returning its stable handle. clear may be nil unless flags includes
// FlagBuffered, in which case it must drop the node's emitted values.
func (g *Graph) MakeNode(flags NodeFlags, update UpdateFunc, clear ClearFunc) NodeHandle {
	h := g.reg.Insert(nil, flags&FlagBuffered != 0)
	handle := engine.Handle(h)
	g.eng.RegisterNode(handle, flags, update, clear)
	return handle
}

// QueueDetach marks a node (typically a self-detaching observer) to be
// unregistered once the current turn's continuation chain fully settles.
// t must be the turn currently propagating; an UpdateFunc receives only the
// turn id, not the *turn.Turn. Code outside a turn should call Unregister
// directly instead.
func (g *Graph) QueueDetach(t *turn.Turn, h NodeHandle) {
	t.QueueDetach(h)
}

// Unregister immediately removes a node not referenced by any in-flight
// turn.
func (g *Graph) Unregister(h NodeHandle) {
	g.eng.UnregisterNode(h)
	g.reg.Remove(h)
}

// Attach adds a static predecessor edge p -> s. Legal only before any
// turn has run against s (construction time).
func (g *Graph) Attach(s, p NodeHandle) error {
	err := g.eng.Attach(s, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, topology.ErrCycle):
		return fmt.Errorf("%w: %w", ErrCycle, err)
	case errors.Is(err, topology.ErrAttachDuringTurn):
		return fmt.Errorf("%w: %w", ErrAttachDuringTurn, err)
	case errors.Is(err, registry.ErrStaleHandle):
		return fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	return fmt.Errorf("reactor: %w", err)
}

// Detach removes a static edge p -> s.
func (g *Graph) Detach(s, p NodeHandle) {
	g.eng.Detach(s, p)
}

// DynamicAttach adds an edge from inside a node's own update during a turn.
func (g *Graph) DynamicAttach(s, p NodeHandle, t *turn.Turn) {
	g.eng.DynamicAttach(s, p, t)
}

// DynamicDetach removes an edge from inside a node's own update during a
// turn.
func (g *Graph) DynamicDetach(s, p NodeHandle, t *turn.Turn) {
	g.eng.DynamicDetach(s, p, t)
}

// SetInput records a pending write for node h; apply is invoked during the
// turn's apply phase and must report whether the value actually changed.
func (g *Graph) SetInput(h NodeHandle, apply func() bool) {
	g.eng.SubmitInput(h, apply)
}

// WithTransaction synchronously runs body, which may call SetInput any
// number of times, then propagates once (plus however many continuation
// turns the propagation itself produces).
func (g *Graph) WithTransaction(ctx context.Context, body func()) {
	g.mgr.DoTransaction(ctx, body)
}

// EnqueueTransaction submits body to the background async worker. It
// returns a correlation id and a wait function the caller may call to block
// until the transaction (and any turns it merged with) has committed.
func (g *Graph) EnqueueTransaction(body func()) (id [16]byte, wait func(), err error) {
	uid, wait, err := g.mgr.EnqueueTransaction(body)
	switch {
	case errors.Is(err, transaction.ErrOverflow):
		return [16]byte{}, nil, fmt.Errorf("%w: %w", ErrOverflow, err)
	case errors.Is(err, transaction.ErrQueueClosed):
		return [16]byte{}, nil, fmt.Errorf("%w: %w", ErrQueueClosed, err)
	case err != nil:
		return [16]byte{}, nil, err
	}
	return uid, wait, nil
}

// Close stops the background async worker and waits for it to drain.
func (g *Graph) Close() {
	g.mgr.Close()
}

// fanoutEngineObserver forwards every engine.Observer call to each of its
// members, letting a tracing/logging provider and a metrics collector both
// observe the same engine without one clobbering the other.
type fanoutEngineObserver []engine.Observer

func (f fanoutEngineObserver) NodeUpdated(h engine.Handle, r engine.Result) {
	for _, o := range f {
		o.NodeUpdated(h, r)
	}
}

func (f fanoutEngineObserver) NodeShifted(h engine.Handle) {
	for _, o := range f {
		o.NodeShifted(h)
	}
}

func (f fanoutEngineObserver) TurnStarted(id int64) {
	for _, o := range f {
		o.TurnStarted(id)
	}
}

func (f fanoutEngineObserver) TurnCommitted(id int64) {
	for _, o := range f {
		o.TurnCommitted(id)
	}
}

// fanoutManagerObserver is fanoutEngineObserver's counterpart for
// transaction.Observer.
type fanoutManagerObserver []transaction.Observer

func (f fanoutManagerObserver) QueueMerged(turnID int64) {
	for _, o := range f {
		o.QueueMerged(turnID)
	}
}

func (f fanoutManagerObserver) AsyncOverflow() {
	for _, o := range f {
		o.AsyncOverflow()
	}
}

func (f fanoutManagerObserver) AsyncDispatched(id uuid.UUID, turnID int64) {
	for _, o := range f {
		o.AsyncDispatched(id, turnID)
	}
}
