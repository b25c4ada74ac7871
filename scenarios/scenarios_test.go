// Package scenarios replays the literal end-to-end examples as tests against
// the public reactor API, one graph per engine kind, proving every
// propagation discipline produces the same externally observed behavior.
package scenarios

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/leofalp/reactor"
)

var engineKinds = []struct {
	name string
	kind reactor.EngineKind
}{
	{"topo-seq", reactor.TopoSortSequential},
	{"topo-par", reactor.TopoSortParallel},
	{"pulsecount", reactor.PulseCount},
	{"sourceset", reactor.SourceSet},
	{"flooding", reactor.Flooding},
}

func forEachEngine(t *testing.T, run func(t *testing.T, g *reactor.Graph)) {
	t.Helper()
	for _, ek := range engineKinds {
		ek := ek
		t.Run(ek.name, func(t *testing.T) {
			g := reactor.New(reactor.WithEngine(ek.kind), reactor.WithMaxConcurrency(4))
			defer g.Close()
			run(t, g)
		})
	}
}

// TestDiamondFold replays scenario 1: w=60,h=70,d=8; area=w*h; volume=area*d;
// set w=90,d=80 in one transaction, observer fires once with volume=504000.
func TestDiamondFold(t *testing.T) {
	forEachEngine(t, func(t *testing.T, g *reactor.Graph) {
		var mu sync.Mutex
		w, h, d := int64(60), int64(70), int64(8)
		var area, volume int64
		var volumeRuns int

		// Input nodes have no update of their own: SetInput's apply callback
		// is the sole authority on whether a write changed the value.
		wH := g.MakeNode(reactor.FlagInput, func(int64) reactor.UpdateResult { return reactor.Unchanged }, nil)
		dH := g.MakeNode(reactor.FlagInput, func(int64) reactor.UpdateResult { return reactor.Unchanged }, nil)
		hH := g.MakeNode(reactor.FlagInput, func(int64) reactor.UpdateResult { return reactor.Unchanged }, nil)

		areaH := g.MakeNode(0, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			next := w * h
			if next == area {
				return reactor.Unchanged
			}
			area = next
			return reactor.Changed
		}, nil)
		must(t, g.Attach(areaH, wH))
		must(t, g.Attach(areaH, hH))

		volH := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			next := area * d
			volumeRuns++
			if next == volume {
				return reactor.Unchanged
			}
			volume = next
			return reactor.Changed
		}, nil)
		must(t, g.Attach(volH, areaH))
		must(t, g.Attach(volH, dH))

		g.WithTransaction(context.Background(), func() {
			g.SetInput(wH, func() bool {
				mu.Lock()
				defer mu.Unlock()
				changed := w != 90
				w = 90
				return changed
			})
			g.SetInput(dH, func() bool {
				mu.Lock()
				defer mu.Unlock()
				changed := d != 80
				d = 80
				return changed
			})
		})

		mu.Lock()
		defer mu.Unlock()
		if volume != 504000 {
			t.Fatalf("volume = %d, want 504000", volume)
		}
		if volumeRuns != 1 {
			t.Fatalf("volume observer ran %d times, want 1", volumeRuns)
		}
	})
}

// TestSumFoldOverEventSource replays scenario 2: fold(acc,e)->acc+e over an
// event source emitting 1..100 in one transaction; final value 5050, the
// fold's own observer fires exactly once.
func TestSumFoldOverEventSource(t *testing.T) {
	forEachEngine(t, func(t *testing.T, g *reactor.Graph) {
		var mu sync.Mutex
		var pendingEvents []int64
		var sum int64
		var foldRuns int

		// An input node's own update is never invoked by the engine; the
		// SetInput apply callback is the sole authority on change.
		source := g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
			return reactor.Unchanged
		}, func() {
			mu.Lock()
			pendingEvents = nil
			mu.Unlock()
		})

		fold := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
			mu.Lock()
			events := append([]int64(nil), pendingEvents...)
			foldRuns++
			mu.Unlock()
			if len(events) == 0 {
				return reactor.Unchanged
			}
			for _, e := range events {
				sum += e
			}
			return reactor.Changed
		}, nil)
		must(t, g.Attach(fold, source))

		g.WithTransaction(context.Background(), func() {
			g.SetInput(source, func() bool {
				mu.Lock()
				for i := int64(1); i <= 100; i++ {
					pendingEvents = append(pendingEvents, i)
				}
				mu.Unlock()
				return true
			})
		})

		mu.Lock()
		defer mu.Unlock()
		if sum != 5050 {
			t.Fatalf("sum = %d, want 5050", sum)
		}
		if foldRuns != 1 {
			t.Fatalf("fold ran %d times, want 1", foldRuns)
		}
	})
}

// TestIncrementerDecrementer replays scenario 3: an event source triggered
// 100 times folded with iterate(0,+1) reaches 100; iterate(100,-1) reaches 0.
func TestIncrementerDecrementer(t *testing.T) {
	forEachEngine(t, func(t *testing.T, g *reactor.Graph) {
		var mu sync.Mutex
		var incPending, decPending int
		var incCounter, decCounter int64 = 0, 100

		incSource := g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
			return reactor.Unchanged
		}, func() {
			mu.Lock()
			incPending = 0
			mu.Unlock()
		})
		incNode := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			if incPending == 0 {
				return reactor.Unchanged
			}
			incCounter += int64(incPending)
			return reactor.Changed
		}, nil)
		must(t, g.Attach(incNode, incSource))

		decSource := g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
			return reactor.Unchanged
		}, func() {
			mu.Lock()
			decPending = 0
			mu.Unlock()
		})
		decNode := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			if decPending == 0 {
				return reactor.Unchanged
			}
			decCounter -= int64(decPending)
			return reactor.Changed
		}, nil)
		must(t, g.Attach(decNode, decSource))

		for i := 0; i < 100; i++ {
			g.WithTransaction(context.Background(), func() {
				g.SetInput(incSource, func() bool {
					mu.Lock()
					incPending++
					mu.Unlock()
					return true
				})
				g.SetInput(decSource, func() bool {
					mu.Lock()
					decPending++
					mu.Unlock()
					return true
				})
			})
		}

		mu.Lock()
		defer mu.Unlock()
		if incCounter != 100 {
			t.Fatalf("incrementer = %d, want 100", incCounter)
		}
		if decCounter != 0 {
			t.Fatalf("decrementer = %d, want 0", decCounter)
		}
	})
}

// TestMergeDeterministicOrdering replays scenario 4: three event sources
// a1,a2,a3; in one transaction push 10,20,30; the merged stream observes
// [10,20,30], the engine's deterministic source-registration order.
func TestMergeDeterministicOrdering(t *testing.T) {
	forEachEngine(t, func(t *testing.T, g *reactor.Graph) {
		var mu sync.Mutex
		type event struct {
			source int
			value  int64
		}
		var pending [3]*int64
		var merged []event

		sources := make([]reactor.NodeHandle, 3)
		for i := 0; i < 3; i++ {
			i := i
			sources[i] = g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
				return reactor.Unchanged
			}, func() {
				mu.Lock()
				pending[i] = nil
				mu.Unlock()
			})
		}

		mergeH := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			changed := false
			for i := 0; i < 3; i++ {
				if pending[i] != nil {
					merged = append(merged, event{source: i, value: *pending[i]})
					changed = true
				}
			}
			if !changed {
				return reactor.Unchanged
			}
			return reactor.Changed
		}, nil)
		for _, s := range sources {
			must(t, g.Attach(mergeH, s))
		}

		g.WithTransaction(context.Background(), func() {
			for i, v := range []int64{10, 20, 30} {
				i, v := i, v
				g.SetInput(sources[i], func() bool {
					mu.Lock()
					vv := v
					pending[i] = &vv
					mu.Unlock()
					return true
				})
			}
		})

		mu.Lock()
		defer mu.Unlock()
		if len(merged) != 3 {
			t.Fatalf("merged has %d events, want 3", len(merged))
		}
		for i, want := range []int64{10, 20, 30} {
			if merged[i].value != want {
				t.Fatalf("merged[%d] = %d, want %d", i, merged[i].value, want)
			}
		}
	})
}

// TestFilterMerge replays scenario 5: f1=filter(a1,true), f2=filter(a2,true),
// merged=merge(f1,f2); three separate turns push a1=10, a2=20, a1=30;
// the observer sees [10,20,30].
func TestFilterMerge(t *testing.T) {
	forEachEngine(t, func(t *testing.T, g *reactor.Graph) {
		var mu sync.Mutex
		var pendingA1, pendingA2 *int64
		var seen []int64

		a1 := g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
			return reactor.Unchanged
		}, func() {
			mu.Lock()
			pendingA1 = nil
			mu.Unlock()
		})
		a2 := g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
			return reactor.Unchanged
		}, func() {
			mu.Lock()
			pendingA2 = nil
			mu.Unlock()
		})

		// filter(true) is the identity predicate; f1/f2 pass every event a1/a2
		// emits straight through.
		f1 := g.MakeNode(0, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			if pendingA1 == nil {
				return reactor.Unchanged
			}
			return reactor.Changed
		}, nil)
		must(t, g.Attach(f1, a1))

		f2 := g.MakeNode(0, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			if pendingA2 == nil {
				return reactor.Unchanged
			}
			return reactor.Changed
		}, nil)
		must(t, g.Attach(f2, a2))

		mergeH := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			changed := false
			if pendingA1 != nil {
				seen = append(seen, *pendingA1)
				changed = true
			}
			if pendingA2 != nil {
				seen = append(seen, *pendingA2)
				changed = true
			}
			if !changed {
				return reactor.Unchanged
			}
			return reactor.Changed
		}, nil)
		must(t, g.Attach(mergeH, f1))
		must(t, g.Attach(mergeH, f2))

		push := func(h reactor.NodeHandle, target **int64, v int64) {
			g.WithTransaction(context.Background(), func() {
				g.SetInput(h, func() bool {
					mu.Lock()
					vv := v
					*target = &vv
					mu.Unlock()
					return true
				})
			})
		}
		push(a1, &pendingA1, 10)
		push(a2, &pendingA2, 20)
		push(a1, &pendingA1, 30)

		mu.Lock()
		defer mu.Unlock()
		want := []int64{10, 20, 30}
		if len(seen) != len(want) {
			t.Fatalf("seen = %v, want %v", seen, want)
		}
		for i := range want {
			if seen[i] != want[i] {
				t.Fatalf("seen = %v, want %v", seen, want)
			}
		}
	})
}

// TestTransformUppercase replays scenario 6: merge two string sources into
// transform(uppercase); three sequential turns observe the uppercased value
// each time, exactly three observer invocations.
func TestTransformUppercase(t *testing.T) {
	forEachEngine(t, func(t *testing.T, g *reactor.Graph) {
		var mu sync.Mutex
		var pending1, pending2 *string
		var observed []string
		var observerRuns int

		s1 := g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
			return reactor.Unchanged
		}, func() {
			mu.Lock()
			pending1 = nil
			mu.Unlock()
		})
		s2 := g.MakeNode(reactor.FlagInput|reactor.FlagBuffered, func(int64) reactor.UpdateResult {
			return reactor.Unchanged
		}, func() {
			mu.Lock()
			pending2 = nil
			mu.Unlock()
		})

		transform := g.MakeNode(reactor.FlagOutput, func(int64) reactor.UpdateResult {
			mu.Lock()
			defer mu.Unlock()
			var latest *string
			if pending1 != nil {
				latest = pending1
			}
			if pending2 != nil {
				latest = pending2
			}
			if latest == nil {
				return reactor.Unchanged
			}
			observerRuns++
			observed = append(observed, strings.ToUpper(*latest))
			return reactor.Changed
		}, nil)
		must(t, g.Attach(transform, s1))
		must(t, g.Attach(transform, s2))

		pushString := func(h reactor.NodeHandle, target **string, v string) {
			g.WithTransaction(context.Background(), func() {
				g.SetInput(h, func() bool {
					mu.Lock()
					vv := v
					*target = &vv
					mu.Unlock()
					return true
				})
			})
		}
		pushString(s1, &pending1, "Hello Worlt")
		pushString(s1, &pending1, "Hello World")
		pushString(s1, &pending1, "Hello Vorld")

		mu.Lock()
		defer mu.Unlock()
		want := []string{"HELLO WORLT", "HELLO WORLD", "HELLO VORLD"}
		if len(observed) != len(want) {
			t.Fatalf("observed = %v, want %v", observed, want)
		}
		for i := range want {
			if observed[i] != want[i] {
				t.Fatalf("observed = %v, want %v", observed, want)
			}
		}
		if observerRuns != 3 {
			t.Fatalf("observer ran %d times, want 3", observerRuns)
		}
	})
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
