package geometry

import (
	"fmt"
	"math"

	"github.com/crowdcount/zonecount/pkg/types"
)

// EntryPolicy selects the point of a bounding box used for zone membership.
type EntryPolicy int

const (
	// BottomCenter approximates ground contact and is the default.
	BottomCenter EntryPolicy = iota
	// Center uses the box centroid.
	Center
)

var policyNames = map[EntryPolicy]string{
	BottomCenter: "bottom_center",
	Center:       "center",
}

// String returns the config name of the policy
func (p EntryPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParseEntryPolicy parses a config value such as "bottom_center".
func ParseEntryPolicy(s string) (EntryPolicy, error) {
	switch s {
	case "", "bottom_center", "bottom-center", "foot":
		return BottomCenter, nil
	case "center", "centroid":
		return Center, nil
	default:
		return BottomCenter, fmt.Errorf("invalid entry policy: %s", s)
	}
}

// Anchor returns the integer anchor point of box under policy. Coordinates are
// truncated to whole pixels before the midpoint is taken.
func Anchor(box types.BBox, policy EntryPolicy) types.Point {
	l, t := int(box.Left), int(box.Top)
	r, b := int(box.Right), int(box.Bottom)

	cx := floorDiv(l+r, 2)
	if policy == Center {
		return types.Point{X: cx, Y: floorDiv(t+b, 2)}
	}
	return types.Point{X: cx, Y: b}
}

func floorDiv(a, b int) int {
	return int(math.Floor(float64(a) / float64(b)))
}
