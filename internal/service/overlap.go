package service

import (
	"sync"
)

// overlapTracker counts refresh pipelines running concurrently for the same city.
// Within one trigger the single flight prevents this, so a count above 1 means
// on-demand and periodic refreshes are racing on the store.
type overlapTracker struct {
	mu     sync.Mutex
	active map[string]int
}

func newOverlapTracker() *overlapTracker {
	return &overlapTracker{
		active: make(map[string]int),
	}
}

// Begin records a pipeline start for key and returns the concurrent count after incrementing.
// Caller should defer End(key).
func (ot *overlapTracker) Begin(key string) int {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	ot.active[key]++
	return ot.active[key]
}

// End records completion of a pipeline for key.
func (ot *overlapTracker) End(key string) {
	ot.mu.Lock()
	defer ot.mu.Unlock()
	if count, ok := ot.active[key]; ok && count > 0 {
		ot.active[key]--
		if ot.active[key] == 0 {
			delete(ot.active, key)
		}
	}
}
