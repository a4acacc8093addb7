package occupancy

import (
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/internal/zones"
	"github.com/crowdcount/zonecount/pkg/types"
)

func squareZone(id, x0, y0, x1, y1 int) zones.Zone {
	return zones.Zone{
		ID:     id,
		Points: geometry.Polygon{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}},
	}
}

func track(id string, l, t, r, b float64) types.Track {
	return types.Track{TrackID: id, BBox: types.BBox{Left: l, Top: t, Right: r, Bottom: b}}
}

func TestSquareScenario(t *testing.T) {
	c := New([]zones.Zone{squareZone(1, 0, 0, 100, 100)}, geometry.BottomCenter)

	a := track("A", 40, 40, 60, 80) // anchor (50,80), inside
	c.Update([]types.Track{a})
	assert.Equal(t, 1, c.Counts()[1])

	c.Update([]types.Track{a})
	assert.Equal(t, 1, c.Counts()[1], "same identity is not re-counted")

	b := track("B", 200, 200, 220, 220) // anchor (210,220), outside
	c.Update([]types.Track{b})
	assert.Equal(t, 1, c.Counts()[1])
}

func TestIdempotentOnIdentity(t *testing.T) {
	c := New([]zones.Zone{squareZone(1, 0, 0, 100, 100)}, geometry.BottomCenter)
	for i := 0; i < 25; i++ {
		c.Update([]types.Track{track("7", 10, 10, 30, 50)})
	}
	assert.Equal(t, map[int]int{1: 1}, c.Counts())
}

func TestReentryNotRecounted(t *testing.T) {
	c := New([]zones.Zone{squareZone(1, 0, 0, 100, 100)}, geometry.BottomCenter)
	c.Update([]types.Track{track("1", 10, 10, 30, 50)})
	c.Update([]types.Track{track("1", 300, 300, 320, 350)}) // leaves
	c.Update([]types.Track{track("1", 10, 10, 30, 50)})     // returns
	assert.Equal(t, 1, c.Counts()[1])
}

func TestOverlappingZonesCountIndependently(t *testing.T) {
	c := New([]zones.Zone{
		squareZone(1, 0, 0, 100, 100),
		squareZone(2, 50, 50, 150, 150),
	}, geometry.BottomCenter)

	c.Update([]types.Track{track("x", 60, 40, 80, 75)}) // anchor (70,75) in both
	c.Update([]types.Track{track("y", 120, 100, 140, 140)})

	if diff := cmp.Diff(map[int]int{1: 1, 2: 2}, c.Counts()); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, c.Total())
}

func TestEmptyTracksAndDegenerateZones(t *testing.T) {
	degenerate := zones.Zone{ID: 2, Points: geometry.Polygon{{X: 0, Y: 0}, {X: 100, Y: 100}}}
	c := New([]zones.Zone{squareZone(1, 0, 0, 100, 100), degenerate}, geometry.BottomCenter)

	c.Update(nil)
	assert.Equal(t, map[int]int{1: 0, 2: 0}, c.Counts())

	c.Update([]types.Track{track("a", 40, 40, 60, 50)})
	assert.Equal(t, map[int]int{1: 1, 2: 0}, c.Counts())
}

func TestResetThenRecount(t *testing.T) {
	c := New([]zones.Zone{squareZone(1, 0, 0, 100, 100), squareZone(5, 200, 200, 300, 300)}, geometry.BottomCenter)
	tracks := []types.Track{track("a", 10, 10, 20, 20), track("b", 210, 210, 220, 220)}

	c.Update(tracks)
	assert.Equal(t, map[int]int{1: 1, 5: 1}, c.Counts())

	c.Reset()
	assert.Equal(t, map[int]int{1: 0, 5: 0}, c.Counts(), "keys survive reset")

	c.Update(tracks)
	assert.Equal(t, map[int]int{1: 1, 5: 1}, c.Counts())
}

func TestCountsIsACopy(t *testing.T) {
	c := New([]zones.Zone{squareZone(1, 0, 0, 100, 100)}, geometry.BottomCenter)
	got := c.Counts()
	got[1] = 99
	assert.Equal(t, 0, c.Counts()[1])
}

func TestEntryPolicyCenter(t *testing.T) {
	z := squareZone(1, 0, 0, 100, 100)
	tr := track("tall", 40, 60, 60, 140) // bottom (50,140) outside, center (50,100) on edge

	bottom := New([]zones.Zone{z}, geometry.BottomCenter)
	bottom.Update([]types.Track{tr})
	assert.Equal(t, 0, bottom.Counts()[1])

	center := New([]zones.Zone{z}, geometry.Center)
	center.Update([]types.Track{tr})
	assert.Equal(t, 1, center.Counts()[1])
}

func TestCarryKeepsSurvivingZones(t *testing.T) {
	old := New([]zones.Zone{squareZone(1, 0, 0, 100, 100), squareZone(2, 200, 0, 300, 100)}, geometry.BottomCenter)
	for i := 0; i < 4; i++ {
		old.Update([]types.Track{track(strconv.Itoa(i), 10, 10, 20, 20)})
	}
	old.Update([]types.Track{track("z", 210, 10, 220, 20)})

	// zone 2 deleted, zone 3 added
	next := New([]zones.Zone{squareZone(1, 0, 0, 100, 100), squareZone(3, 0, 0, 50, 50)}, geometry.BottomCenter)
	next.Carry(old)
	assert.Equal(t, map[int]int{1: 4, 3: 0}, next.Counts())

	// carried identities are still deduplicated
	next.Update([]types.Track{track("0", 10, 10, 20, 20)})
	assert.Equal(t, 4, next.Counts()[1])
	assert.Equal(t, 1, next.Counts()[3])

	// the old counter is not aliased
	old.Update([]types.Track{track("new", 10, 10, 20, 20)})
	assert.Equal(t, 4, next.Counts()[1])
}
