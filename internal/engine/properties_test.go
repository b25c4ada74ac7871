package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/leofalp/reactor/internal/turn"
)

// newEngineByName builds a fresh instance of each engine kind so tests can
// run the same scenario across all four propagation disciplines.
func newEngineByName(name string) Engine {
	switch name {
	case "toposort-par":
		return NewParallel(4)
	case "pulsecount":
		return NewPulseCount(4)
	case "sourceset":
		return NewSourceSet(4)
	case "flooding":
		return NewFlooding(4)
	default:
		return NewSequential()
	}
}

var engineNames = []string{"toposort-seq", "toposort-par", "pulsecount", "sourceset", "flooding"}

// diamondGraph wires a -> b, a -> c, (b, c) -> d and tracks how many times d
// observed inconsistent b/c pairs plus how many times its update ran.
type diamondGraph struct {
	mu         sync.Mutex
	a, b, c, d int
	dRuns      int
	glitched   bool

	aHandle, bHandle, cHandle, dHandle Handle
}

func buildDiamond(t *testing.T, eng Engine) *diamondGraph {
	t.Helper()
	g := &diamondGraph{}

	g.aHandle = Handle(0)
	g.bHandle = Handle(1)
	g.cHandle = Handle(2)
	g.dHandle = Handle(3)

	eng.RegisterNode(g.aHandle, FlagInput, func(int64) Result {
		return Unchanged // driven via SubmitInput
	}, nil)
	eng.RegisterNode(g.bHandle, 0, func(int64) Result {
		g.mu.Lock()
		defer g.mu.Unlock()
		next := g.a * 2
		if next == g.b {
			return Unchanged
		}
		g.b = next
		return Changed
	}, nil)
	eng.RegisterNode(g.cHandle, 0, func(int64) Result {
		g.mu.Lock()
		defer g.mu.Unlock()
		next := g.a * 3
		if next == g.c {
			return Unchanged
		}
		g.c = next
		return Changed
	}, nil)
	eng.RegisterNode(g.dHandle, FlagOutput, func(int64) Result {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.dRuns++
		if g.b != g.a*2 || g.c != g.a*3 {
			g.glitched = true
		}
		g.d = g.b + g.c
		return Changed
	}, nil)

	must(t, eng.Attach(g.bHandle, g.aHandle))
	must(t, eng.Attach(g.cHandle, g.aHandle))
	must(t, eng.Attach(g.dHandle, g.bHandle))
	must(t, eng.Attach(g.dHandle, g.cHandle))

	return g
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGlitchFreedomAcrossEngines(t *testing.T) {
	for _, name := range engineNames {
		name := name
		t.Run(name, func(t *testing.T) {
			eng := newEngineByName(name)
			g := buildDiamond(t, eng)

			tr := turn.New(1, false)
			eng.DoTurn(context.Background(), tr, func() {
				eng.SubmitInput(g.aHandle, func() bool {
					g.mu.Lock()
					g.a = 5
					g.mu.Unlock()
					return true
				})
			})

			if g.glitched {
				t.Fatalf("%s: d observed an inconsistent (b, c) pair", name)
			}
			if g.d != 5*2+5*3 {
				t.Fatalf("%s: d = %d, want %d", name, g.d, 25)
			}
		})
	}
}

func TestAtMostOnceUpdatePerTurn(t *testing.T) {
	for _, name := range engineNames {
		name := name
		t.Run(name, func(t *testing.T) {
			eng := newEngineByName(name)
			g := buildDiamond(t, eng)

			tr := turn.New(1, false)
			eng.DoTurn(context.Background(), tr, func() {
				eng.SubmitInput(g.aHandle, func() bool {
					g.mu.Lock()
					g.a = 1
					g.mu.Unlock()
					return true
				})
			})

			g.mu.Lock()
			runs := g.dRuns
			g.mu.Unlock()
			if runs != 1 {
				t.Fatalf("%s: d.update ran %d times, want 1", name, runs)
			}
		})
	}
}

func TestQueueOrderWithinOneTurn(t *testing.T) {
	// Two inputs admitted in the same turn must both be visible to the
	// output before it is invoked, regardless of engine.
	for _, name := range engineNames {
		name := name
		t.Run(name, func(t *testing.T) {
			eng := newEngineByName(name)

			var mu sync.Mutex
			var x, y, seen int
			xH := Handle(10)
			yH := Handle(11)
			outH := Handle(12)

			eng.RegisterNode(xH, FlagInput, func(int64) Result { return Unchanged }, nil)
			eng.RegisterNode(yH, FlagInput, func(int64) Result { return Unchanged }, nil)
			eng.RegisterNode(outH, FlagOutput, func(int64) Result {
				mu.Lock()
				defer mu.Unlock()
				seen = x + y
				return Changed
			}, nil)
			must(t, eng.Attach(outH, xH))
			must(t, eng.Attach(outH, yH))

			tr := turn.New(1, false)
			eng.DoTurn(context.Background(), tr, func() {
				eng.SubmitInput(xH, func() bool {
					mu.Lock()
					x = 10
					mu.Unlock()
					return true
				})
				eng.SubmitInput(yH, func() bool {
					mu.Lock()
					y = 20
					mu.Unlock()
					return true
				})
			})

			mu.Lock()
			defer mu.Unlock()
			if seen != 30 {
				t.Fatalf("%s: out observed %d, want 30 (both inputs from the same turn)", name, seen)
			}
		})
	}
}
