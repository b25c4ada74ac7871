package observability

import (
	"context"
	"sync"
	"time"

	"github.com/leofalp/reactor/internal/engine"
)

// Span/metric/log names, grouped the way the teacher's
// patterns/graph/observe.go groups its graph.* semantic conventions.
const (
	spanTurnPropagate = "reactor.turn.propagate"

	metricNodeCount    = "reactor.node.count"
	metricTurnDuration = "reactor.turn.duration"
)

// turnState brackets a turn's propagate span and start time between
// TurnStarted and TurnCommitted; there is no node-level start hook to
// bracket similarly, since engine.Observer only reports a node update after
// it has already run.
type turnState struct {
	span  Span
	start time.Time
}

// EngineAdapter implements engine.Observer on top of a Provider, guarded by
// a nil-provider check at every call site for zero overhead when
// observability is disabled — mirrors observeGraphStart's
// "if graph.observer.provider == nil { return }" idiom throughout.
type EngineAdapter struct {
	Provider Provider
	Ctx      context.Context

	turns sync.Map // turnID int64 -> turnState
}

func (a *EngineAdapter) ctx() context.Context {
	if a.Ctx != nil {
		return a.Ctx
	}
	return context.Background()
}

func (a *EngineAdapter) NodeUpdated(h engine.Handle, result engine.Result) {
	if a.Provider == nil {
		return
	}
	a.Provider.Counter(metricNodeCount).Add(a.ctx(), 1,
		Int64(AttrNodeID, int64(h)),
		String(AttrResult, result.String()),
	)
}

func (a *EngineAdapter) NodeShifted(h engine.Handle) {
	if a.Provider == nil {
		return
	}
	a.Provider.Debug(a.ctx(), "node shifted", Int64(AttrNodeID, int64(h)))
}

func (a *EngineAdapter) TurnStarted(id int64) {
	if a.Provider == nil {
		return
	}
	a.Provider.Info(a.ctx(), "turn started", Int64(AttrTurnID, id))
	_, span := a.Provider.StartSpan(a.ctx(), spanTurnPropagate, Int64(AttrTurnID, id))
	a.turns.Store(id, turnState{span: span, start: time.Now()})
}

func (a *EngineAdapter) TurnCommitted(id int64) {
	if a.Provider == nil {
		return
	}
	a.Provider.Info(a.ctx(), "turn committed", Int64(AttrTurnID, id))
	if v, ok := a.turns.LoadAndDelete(id); ok {
		ts := v.(turnState)
		ts.span.End()
		a.Provider.Histogram(metricTurnDuration).Record(a.ctx(), time.Since(ts.start).Seconds(), Int64(AttrTurnID, id))
	}
}
