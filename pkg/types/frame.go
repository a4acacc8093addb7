package types

import (
	"image"
	"time"
)

// BBox is a pixel-space bounding box (left, top, right, bottom).
type BBox struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

// Track is one confirmed, identity-persistent detection for a single frame.
type Track struct {
	BBox    BBox
	TrackID string // Stable across frames for one physical entity
	ClassID int
}

// Frame is a decoded video frame together with the tracks produced for it
type Frame struct {
	Image     *image.RGBA
	Tracks    []Track
	Timestamp time.Time // Capture timestamp
	FrameNum  uint64    // Sequential frame number within the source
}

// Point is an integer pixel coordinate
type Point struct {
	X int
	Y int
}
