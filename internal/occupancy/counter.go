// Package occupancy counts unique visitors per zone. A track identity is
// counted at most once per zone until Reset; counts never decrease.
package occupancy

import (
	"maps"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/internal/zones"
	"github.com/crowdcount/zonecount/pkg/types"
)

type zoneState struct {
	id      int
	region  geometry.Region
	counted map[string]struct{}
	count   int
}

// Counter holds per-zone counted-id sets for a fixed zone set. It is owned by
// a single goroutine; zone-set changes require building a new Counter.
type Counter struct {
	policy geometry.EntryPolicy
	states []*zoneState
	byID   map[int]*zoneState
}

// New creates a counter for the given zones with zeroed state.
func New(zs []zones.Zone, policy geometry.EntryPolicy) *Counter {
	c := &Counter{
		policy: policy,
		states: make([]*zoneState, 0, len(zs)),
		byID:   make(map[int]*zoneState, len(zs)),
	}
	for _, z := range zs {
		st := &zoneState{
			id:      z.ID,
			region:  geometry.NewRegion(z.Points),
			counted: make(map[string]struct{}),
		}
		c.states = append(c.states, st)
		c.byID[z.ID] = st
	}
	return c
}

// Update counts every track whose anchor falls inside a zone and whose id has
// not been counted there before.
func (c *Counter) Update(tracks []types.Track) {
	for _, tr := range tracks {
		anchor := geometry.Anchor(tr.BBox, c.policy)
		for _, st := range c.states {
			if !st.region.Contains(anchor) {
				continue
			}
			if _, seen := st.counted[tr.TrackID]; seen {
				continue
			}
			st.counted[tr.TrackID] = struct{}{}
			st.count++
		}
	}
}

// Counts returns a copy of the per-zone counts.
func (c *Counter) Counts() map[int]int {
	out := make(map[int]int, len(c.states))
	for _, st := range c.states {
		out[st.id] = st.count
	}
	return out
}

// Total returns the sum of all zone counts.
func (c *Counter) Total() int {
	total := 0
	for _, st := range c.states {
		total += st.count
	}
	return total
}

// Len returns the number of zones being counted.
func (c *Counter) Len() int {
	return len(c.states)
}

// Reset clears every counted-id set and zeroes the counts. The zone key set
// is preserved.
func (c *Counter) Reset() {
	for _, st := range c.states {
		st.counted = make(map[string]struct{})
		st.count = 0
	}
}

// Carry copies the state of every zone present in both counters from prev,
// so rebuilding after a zone edit keeps the surviving zones' tallies.
func (c *Counter) Carry(prev *Counter) {
	if prev == nil {
		return
	}
	for id, st := range c.byID {
		old, ok := prev.byID[id]
		if !ok {
			continue
		}
		st.counted = maps.Clone(old.counted)
		st.count = old.count
	}
}
