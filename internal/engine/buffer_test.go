package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/leofalp/reactor/internal/turn"
)

// TestBufferClearedExactlyOnceAfterSuccessorsObserve verifies property 3 of
// the universal test suite: a buffered node that emitted in turn T has its
// clear called exactly once, and only after every successor's update for
// that turn has already read the buffer.
func TestBufferClearedExactlyOnceAfterSuccessorsObserve(t *testing.T) {
	for _, name := range engineNames {
		name := name
		t.Run(name, func(t *testing.T) {
			eng := newEngineByName(name)

			var mu sync.Mutex
			var buffer []int
			clearRuns := 0
			var sawAtSuccessor []int

			srcH := Handle(20)
			sinkH := Handle(21)

			// An input node's own update is never invoked by the engine; the
			// SubmitInput apply callback is the sole authority on change.
			eng.RegisterNode(srcH, FlagInput|FlagBuffered, func(int64) Result {
				return Unchanged
			}, func() {
				mu.Lock()
				clearRuns++
				buffer = nil
				mu.Unlock()
			})
			eng.RegisterNode(sinkH, FlagOutput, func(int64) Result {
				mu.Lock()
				defer mu.Unlock()
				sawAtSuccessor = append(sawAtSuccessor, buffer...)
				return Changed
			}, nil)
			must(t, eng.Attach(sinkH, srcH))

			tr := turn.New(1, false)
			eng.DoTurn(context.Background(), tr, func() {
				eng.SubmitInput(srcH, func() bool {
					mu.Lock()
					buffer = []int{1, 2, 3}
					mu.Unlock()
					return true
				})
			})

			mu.Lock()
			defer mu.Unlock()
			if clearRuns != 1 {
				t.Fatalf("%s: clear ran %d times, want 1", name, clearRuns)
			}
			if len(sawAtSuccessor) != 3 {
				t.Fatalf("%s: successor observed %v, want the buffer's 3 values", name, sawAtSuccessor)
			}
			if len(buffer) != 0 {
				t.Fatalf("%s: buffer not empty after turn: %v", name, buffer)
			}
		})
	}
}

// TestBufferNotClearedWhenUnchanged ensures a buffered node whose apply
// callback reports no change never has its clear queued.
func TestBufferNotClearedWhenUnchanged(t *testing.T) {
	for _, name := range engineNames {
		name := name
		t.Run(name, func(t *testing.T) {
			eng := newEngineByName(name)

			clearRuns := 0
			srcH := Handle(22)
			eng.RegisterNode(srcH, FlagInput|FlagBuffered, func(int64) Result {
				return Unchanged
			}, func() { clearRuns++ })

			tr := turn.New(1, false)
			eng.DoTurn(context.Background(), tr, func() {
				eng.SubmitInput(srcH, func() bool { return false })
			})

			if clearRuns != 0 {
				t.Fatalf("%s: clear ran %d times for an apply that reported no change, want 0", name, clearRuns)
			}
		})
	}
}
