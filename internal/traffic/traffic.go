// Package traffic keeps a short sliding window of request and refresh outcomes.
// It is the single source of truth for overload (admitted vs denied requests) and
// degraded (refresh error rate).
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies one recorded event.
type Outcome int

const (
	Success Outcome = iota // refresh persisted
	Failure                // refresh reported an error
	Accepted               // request admitted by the rate limiter
	Denied                 // request rejected by the rate limiter
)

// retention bounds how far back any window can look.
const retention = 5 * time.Minute

var defaultTracker Tracker

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// Count returns the number of events of the given outcomes within window.
func Count(window time.Duration, outcomes ...Outcome) int {
	return defaultTracker.Count(window, outcomes...)
}

// Reset clears the process-wide tracker. For tests only.
func Reset() {
	defaultTracker.Reset()
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker is a time-ordered log of outcomes pruned to the retention period.
type Tracker struct {
	mu     sync.Mutex
	events []event
	now    func() time.Time
}

func (t *Tracker) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// Count returns events inside window matching any of outcomes. No outcomes means all.
func (t *Tracker) Count(window time.Duration, outcomes ...Outcome) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-window)
	n := 0
	for i := len(t.events) - 1; i >= 0; i-- {
		ev := t.events[i]
		if ev.at.Before(cutoff) {
			break
		}
		if matches(ev.outcome, outcomes) {
			n++
		}
	}
	return n
}

// Reset drops all events.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func matches(o Outcome, want []Outcome) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if o == w {
			return true
		}
	}
	return false
}

// pruneLocked drops events older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
