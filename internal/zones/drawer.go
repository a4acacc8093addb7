package zones

import (
	"sync"

	"github.com/crowdcount/zonecount/pkg/types"
)

// Drawer is the idle/drawing state machine behind interactive zone creation.
// The first point moves it from idle to drawing; Finish adds the polygon to
// the store when it has at least 3 points and returns to idle either way.
type Drawer struct {
	mu     sync.Mutex
	store  *Store
	points []types.Point
}

// NewDrawer creates a drawer that commits finished polygons to store.
func NewDrawer(store *Store) *Drawer {
	return &Drawer{store: store}
}

// AddPoint appends a vertex, entering the drawing state if idle. It returns
// the number of accumulated points.
func (d *Drawer) AddPoint(p types.Point) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.points = append(d.points, p)
	return len(d.points)
}

// Finish ends drawing. With fewer than 3 points the in-progress polygon is
// discarded and ErrTooFewPoints is returned.
func (d *Drawer) Finish() (int, error) {
	d.mu.Lock()
	pts := d.points
	d.points = nil
	d.mu.Unlock()

	if len(pts) < minPoints {
		return 0, ErrTooFewPoints
	}
	return d.store.Add(pts)
}

// Cancel discards the in-progress polygon.
func (d *Drawer) Cancel() {
	d.mu.Lock()
	d.points = nil
	d.mu.Unlock()
}

// Drawing reports whether a polygon is in progress.
func (d *Drawer) Drawing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.points) > 0
}

// Preview returns a copy of the in-progress vertices.
func (d *Drawer) Preview() []types.Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.Point, len(d.points))
	copy(out, d.points)
	return out
}
