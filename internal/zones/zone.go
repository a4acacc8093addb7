// Package zones owns the operator-drawn polygon collection: CRUD, selection,
// the interactive drawing state machine, JSON persistence, and the outline
// overlay drawn on every composited frame.
package zones

import (
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"time"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/pkg/types"
)

const (
	// documentVersion is written into every saved zones file.
	documentVersion = 1
	timeLayout      = "2006-01-02 15:04:05"
	minPoints       = 3
)

var (
	// ErrTooFewPoints rejects a polygon with fewer than 3 vertices.
	ErrTooFewPoints = errors.New("zone needs at least 3 points")
	// ErrNotFound is returned for operations on an unknown zone id.
	ErrNotFound = errors.New("zone not found")
)

// Palette is the cyclic zone color table, indexed by (id-1) mod len(Palette).
var Palette = []color.RGBA{
	{R: 0, G: 255, B: 0, A: 255},   // Green
	{R: 0, G: 0, B: 255, A: 255},   // Blue
	{R: 255, G: 0, B: 0, A: 255},   // Red
	{R: 0, G: 255, B: 255, A: 255}, // Cyan
	{R: 255, G: 0, B: 255, A: 255}, // Magenta
	{R: 255, G: 255, B: 0, A: 255}, // Yellow
}

// ColorFor returns the palette color for a zone id.
func ColorFor(id int) color.RGBA {
	n := len(Palette)
	return Palette[((id-1)%n+n)%n]
}

// Zone is one polygonal region of interest.
type Zone struct {
	ID        int
	Name      string
	Points    geometry.Polygon
	Color     color.RGBA
	CreatedAt time.Time
	UpdatedAt time.Time // zero until the first edit
}

func (z Zone) clone() Zone {
	pts := make(geometry.Polygon, len(z.Points))
	copy(pts, z.Points)
	z.Points = pts
	return z
}

// zoneWire is the persisted shape of a zone.
type zoneWire struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Points    [][2]int `json:"points"`
	Color     [3]int   `json:"color"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// document is the zones file: {"version":1,"next_id":4,"zones":[...]}.
// Files written without version/next_id are accepted.
type document struct {
	Version int        `json:"version,omitempty"`
	NextID  int        `json:"next_id,omitempty"`
	Zones   []zoneWire `json:"zones"`
}

func toWire(z Zone) zoneWire {
	w := zoneWire{
		ID:        z.ID,
		Name:      z.Name,
		Points:    make([][2]int, len(z.Points)),
		Color:     [3]int{int(z.Color.R), int(z.Color.G), int(z.Color.B)},
		CreatedAt: z.CreatedAt.Format(timeLayout),
	}
	for i, p := range z.Points {
		w.Points[i] = [2]int{p.X, p.Y}
	}
	if !z.UpdatedAt.IsZero() {
		w.UpdatedAt = z.UpdatedAt.Format(timeLayout)
	}
	return w
}

// MarshalJSON encodes the zone in its persisted shape.
func (z Zone) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(z))
}

func fromWire(w zoneWire) (Zone, error) {
	if w.ID <= 0 {
		return Zone{}, fmt.Errorf("zone id %d is not positive", w.ID)
	}
	if len(w.Points) < minPoints {
		return Zone{}, fmt.Errorf("zone %d: %w", w.ID, ErrTooFewPoints)
	}
	for i, c := range w.Color {
		if c < 0 || c > 255 {
			return Zone{}, fmt.Errorf("zone %d: color component %d out of range", w.ID, i)
		}
	}

	z := Zone{
		ID:        w.ID,
		Name:      w.Name,
		Points:    make(geometry.Polygon, len(w.Points)),
		Color:     color.RGBA{R: uint8(w.Color[0]), G: uint8(w.Color[1]), B: uint8(w.Color[2]), A: 255},
		CreatedAt: parseTime(w.CreatedAt),
		UpdatedAt: parseTime(w.UpdatedAt),
	}
	for i, p := range w.Points {
		z.Points[i] = types.Point{X: p[0], Y: p[1]}
	}
	if z.Name == "" {
		z.Name = defaultName(z.ID)
	}
	return z, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339Nano} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

func defaultName(id int) string {
	return fmt.Sprintf("Zone %d", id)
}

// decodeDocument parses and validates a zones file.
func decodeDocument(data []byte) ([]Zone, int, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("parse zones document: %w", err)
	}
	if doc.Version > documentVersion {
		return nil, 0, fmt.Errorf("unsupported zones document version %d", doc.Version)
	}

	seen := make(map[int]bool, len(doc.Zones))
	zones := make([]Zone, 0, len(doc.Zones))
	maxID := 0
	for _, w := range doc.Zones {
		z, err := fromWire(w)
		if err != nil {
			return nil, 0, err
		}
		if seen[z.ID] {
			return nil, 0, fmt.Errorf("duplicate zone id %d", z.ID)
		}
		seen[z.ID] = true
		maxID = max(maxID, z.ID)
		zones = append(zones, z)
	}

	return zones, max(doc.NextID, maxID+1), nil
}

func encodeDocument(zones []Zone, nextID int) ([]byte, error) {
	doc := document{
		Version: documentVersion,
		NextID:  nextID,
		Zones:   make([]zoneWire, len(zones)),
	}
	for i, z := range zones {
		doc.Zones[i] = toWire(z)
	}
	return json.MarshalIndent(doc, "", "  ")
}
