package session

import "math/rand"

// nextIndex picks the queue position to play after the current one.
//
// Ordered mode walks the queue; at the tail it wraps to the head only when
// repeat is on. Shuffle mode dispenses each position exactly once per cycle,
// tracked in played; when the cycle exhausts with repeat on, the bag resets
// and a fresh pick is made among all positions (which may repeat the
// just-played one — a weak shuffle, not a derangement).
func nextIndex(count, current int, shuffle, repeat bool, played map[int]struct{}, rng *rand.Rand) (int, bool) {
	if count == 0 {
		return -1, false
	}

	if shuffle {
		available := make([]int, 0, count)
		for i := 0; i < count; i++ {
			if _, done := played[i]; !done {
				available = append(available, i)
			}
		}
		if len(available) == 0 {
			if !repeat {
				return -1, false
			}
			for k := range played {
				delete(played, k)
			}
			pick := rng.Intn(count)
			played[pick] = struct{}{}
			return pick, true
		}
		pick := available[rng.Intn(len(available))]
		played[pick] = struct{}{}
		return pick, true
	}

	if current >= 0 && current < count-1 {
		return current + 1, true
	}
	if repeat {
		return 0, true
	}
	return -1, false
}
