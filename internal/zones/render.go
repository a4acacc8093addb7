package zones

import (
	"image"
	"image/color"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/internal/overlay"
	"github.com/crowdcount/zonecount/pkg/types"
)

const (
	fillAlpha        = 0.2
	outlineThickness = 2
)

var previewColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Draw paints every zone onto dst: translucent fill, outline, and a name
// label at the centroid. The selected zone's label is marked, and a non-empty
// preview is drawn as an open white polyline with vertex dots.
func Draw(dst *image.RGBA, zones []Zone, selected int, preview []types.Point) {
	for _, z := range zones {
		overlay.FillPolygon(dst, z.Points, z.Color, fillAlpha)
		overlay.Polyline(dst, z.Points, true, z.Color, outlineThickness)

		label := z.Name
		if z.ID == selected {
			label += " (Selected)"
		}
		cx, cy := geometry.Centroid(z.Points)
		overlay.Text(dst, int(cx)-30, int(cy), label, z.Color, nil)
	}

	if len(preview) > 0 {
		overlay.Polyline(dst, preview, false, previewColor, outlineThickness)
		for _, p := range preview {
			overlay.Dot(dst, p, 5, previewColor)
		}
	}
}
