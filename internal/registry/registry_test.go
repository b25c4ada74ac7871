package registry

import "testing"

func TestInsertGetRemove(t *testing.T) {
	r := New(2)
	a := r.Insert("a", false)
	b := r.Insert("b", false)

	got, err := r.Get(a)
	if err != nil || got != "a" {
		t.Fatalf("Get(a) = %v, %v; want \"a\", nil", got, err)
	}

	r.Remove(a)
	if _, err := r.Get(a); err == nil {
		t.Fatalf("Get(removed) should error")
	}

	got, err = r.Get(b)
	if err != nil || got != "b" {
		t.Fatalf("Get(b) after removing a = %v, %v; want \"b\", nil", got, err)
	}
}

func TestSlotReuseAndGrowth(t *testing.T) {
	r := New(2)
	first := r.Insert(1, false)
	second := r.Insert(2, false)
	r.Remove(first)

	reused := r.Insert(3, false)
	if reused != first {
		t.Fatalf("expected freed slot %d to be reused, got %d", first, reused)
	}

	// Fill every slot, forcing a grow.
	third := r.Insert(4, false)
	if third == second || third == reused {
		t.Fatalf("expected a fresh slot, got collision %d", third)
	}
	if r.Cap() < 4 {
		t.Fatalf("expected registry to have grown past capacity 2, got cap=%d", r.Cap())
	}
}

func TestReachabilityClearIndexClearsRowAndColumn(t *testing.T) {
	r := New(4)
	a := r.Insert("a", false)
	b := r.Insert("b", false)
	c := r.Insert("c", false)

	reach := r.Reachability()
	reach.SetReachable(int(a), int(b))
	reach.SetReachable(int(c), int(a))

	r.Remove(a)

	if reach.IsReachable(int(a), int(b)) {
		t.Fatalf("row of removed node should be cleared")
	}
	if reach.IsReachable(int(c), int(a)) {
		t.Fatalf("column of removed node should be cleared in other rows")
	}
}

func TestMustGetPanicsOnStaleHandle(t *testing.T) {
	r := New(1)
	h := r.Insert("x", false)
	r.Remove(h)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustGet to panic on a stale handle")
		}
	}()
	r.MustGet(h)
}
