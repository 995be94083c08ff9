package session

import (
	"math/rand"
	"testing"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestNextIndex_OrderedWalksQueue(t *testing.T) {
	played := map[int]struct{}{}
	next, ok := nextIndex(3, 0, false, false, played, testRNG())
	if !ok || next != 1 {
		t.Fatalf("next after 0 = (%d, %v), want (1, true)", next, ok)
	}
}

func TestNextIndex_OrderedLastNoRepeatStops(t *testing.T) {
	next, ok := nextIndex(3, 2, false, false, map[int]struct{}{}, testRNG())
	if ok {
		t.Fatalf("expected no next at tail without repeat, got %d", next)
	}
}

func TestNextIndex_OrderedLastRepeatWraps(t *testing.T) {
	next, ok := nextIndex(3, 2, false, true, map[int]struct{}{}, testRNG())
	if !ok || next != 0 {
		t.Fatalf("next at tail with repeat = (%d, %v), want (0, true)", next, ok)
	}
}

func TestNextIndex_UnknownCurrentRepeatOn(t *testing.T) {
	// A current track deleted from the queue resolves to index -1; repeat
	// falls back to the head.
	next, ok := nextIndex(3, -1, false, true, map[int]struct{}{}, testRNG())
	if !ok || next != 0 {
		t.Fatalf("next with unknown current = (%d, %v), want (0, true)", next, ok)
	}
}

func TestNextIndex_EmptyQueue(t *testing.T) {
	if _, ok := nextIndex(0, -1, false, true, map[int]struct{}{}, testRNG()); ok {
		t.Fatal("expected no next for empty queue")
	}
	if _, ok := nextIndex(0, -1, true, true, map[int]struct{}{}, testRNG()); ok {
		t.Fatal("expected no next for empty queue in shuffle mode")
	}
}

func TestNextIndex_ShuffleDispensesEachPositionOnce(t *testing.T) {
	const n = 8
	played := map[int]struct{}{}
	rng := testRNG()

	seen := map[int]bool{}
	for i := 0; i < n; i++ {
		next, ok := nextIndex(n, -1, true, false, played, rng)
		if !ok {
			t.Fatalf("run %d: expected a pick before exhaustion", i)
		}
		if seen[next] {
			t.Fatalf("position %d dispensed twice within one cycle", next)
		}
		seen[next] = true
	}
	if len(seen) != n {
		t.Fatalf("dispensed %d distinct positions, want %d", len(seen), n)
	}
}

func TestNextIndex_ShuffleExhaustedNoRepeatStops(t *testing.T) {
	played := map[int]struct{}{0: {}, 1: {}, 2: {}}
	if next, ok := nextIndex(3, -1, true, false, played, testRNG()); ok {
		t.Fatalf("expected stop after exhaustion, got %d", next)
	}
}

func TestNextIndex_ShuffleExhaustedRepeatStartsFreshCycle(t *testing.T) {
	played := map[int]struct{}{0: {}, 1: {}, 2: {}}
	next, ok := nextIndex(3, -1, true, true, played, testRNG())
	if !ok {
		t.Fatal("expected a pick after reset")
	}
	if next < 0 || next > 2 {
		t.Fatalf("pick %d out of range", next)
	}
	// The bag was reset and now holds only the fresh pick.
	if len(played) != 1 {
		t.Fatalf("bag size after reset = %d, want 1", len(played))
	}
	if _, marked := played[next]; !marked {
		t.Fatal("fresh pick not marked as dispensed")
	}
}
