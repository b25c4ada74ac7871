package turn

import (
	"testing"

	"github.com/leofalp/reactor/internal/registry"
)

func TestCounterMonotonicAndWraps(t *testing.T) {
	var c Counter
	c.next = maxID - 2
	first := c.Next()
	second := c.Next()
	third := c.Next()

	if second != first+1 {
		t.Fatalf("Next() not monotonic: %d then %d", first, second)
	}
	if third != 0 {
		t.Fatalf("Next() should wrap to 0 below maxID, got %d", third)
	}
}

func TestContinuationBufferDrains(t *testing.T) {
	tr := New(1, true)
	if tr.HasContinuations() {
		t.Fatalf("fresh turn should have no continuations")
	}

	ran := false
	tr.Continue(func() { ran = true })
	if !tr.HasContinuations() {
		t.Fatalf("expected a pending continuation")
	}

	conts := tr.DrainContinuations()
	if len(conts) != 1 {
		t.Fatalf("DrainContinuations returned %d, want 1", len(conts))
	}
	conts[0]()
	if !ran {
		t.Fatalf("drained continuation did not run")
	}
	if tr.HasContinuations() {
		t.Fatalf("continuations should be empty after drain")
	}
}

func TestDetachQueueDrains(t *testing.T) {
	tr := New(1, false)
	tr.QueueDetach(registry.Handle(5))
	tr.QueueDetach(registry.Handle(7))

	drained := tr.DrainDetachQueue()
	if len(drained) != 2 || drained[0] != 5 || drained[1] != 7 {
		t.Fatalf("DrainDetachQueue = %v, want [5 7]", drained)
	}
	if len(tr.DrainDetachQueue()) != 0 {
		t.Fatalf("detach queue should be empty after drain")
	}
}
