// Package alerts derives threshold breaches from zone counts.
package alerts

import (
	"sort"
	"time"
)

// DefaultThreshold is the process-wide count limit applied to every zone.
const DefaultThreshold = 20

// Evaluate returns the ids of zones whose count strictly exceeds threshold,
// in ascending order.
func Evaluate(counts map[int]int, threshold int) []int {
	out := make([]int, 0)
	for id, n := range counts {
		if n > threshold {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// Breach describes one zone that has just started alerting.
type Breach struct {
	ZoneID    int
	ZoneName  string
	Count     int
	Threshold int
	At        time.Time
}

// Tracker remembers which zones were alerting on the previous evaluation so
// callers can act only on transitions. Owned by the producer goroutine.
type Tracker struct {
	active map[int]bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[int]bool)}
}

// Observe records the current alert set and returns the ids that were not
// alerting last time. Zones that dropped out are forgotten and will be
// reported again if they re-enter.
func (t *Tracker) Observe(alerting []int) []int {
	var entered []int
	next := make(map[int]bool, len(alerting))
	for _, id := range alerting {
		next[id] = true
		if !t.active[id] {
			entered = append(entered, id)
		}
	}
	t.active = next
	return entered
}

// Reset forgets every active alert.
func (t *Tracker) Reset() {
	t.active = make(map[int]bool)
}
