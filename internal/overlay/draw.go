// Package overlay holds the raster primitives used to annotate composited
// frames: alpha fills, thick lines, boxes, and bitmap-font labels.
package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/pkg/types"
)

// ToRGBA returns img as an *image.RGBA anchored at the origin. RGBA inputs
// already anchored at the origin are returned as-is.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// blendPixel mixes c into dst at (x, y) with weight alpha in [0,1].
func blendPixel(dst *image.RGBA, x, y int, c color.RGBA, alpha float64) {
	if !(image.Point{X: x, Y: y}).In(dst.Rect) {
		return
	}
	i := dst.PixOffset(x, y)
	p := dst.Pix[i : i+4 : i+4]
	inv := 1 - alpha
	p[0] = uint8(float64(p[0])*inv + float64(c.R)*alpha + 0.5)
	p[1] = uint8(float64(p[1])*inv + float64(c.G)*alpha + 0.5)
	p[2] = uint8(float64(p[2])*inv + float64(c.B)*alpha + 0.5)
	p[3] = 255
}

func setPixel(dst *image.RGBA, x, y int, c color.RGBA) {
	if !(image.Point{X: x, Y: y}).In(dst.Rect) {
		return
	}
	i := dst.PixOffset(x, y)
	dst.Pix[i+0] = c.R
	dst.Pix[i+1] = c.G
	dst.Pix[i+2] = c.B
	dst.Pix[i+3] = 255
}

// FillPolygon blends c over every pixel inside poly.
func FillPolygon(dst *image.RGBA, poly geometry.Polygon, c color.RGBA, alpha float64) {
	if len(poly) < 3 {
		return
	}
	region := geometry.NewRegion(poly)
	b := geometry.Bounds(poly)
	area := image.Rect(int(b.X.Lo), int(b.Y.Lo), int(b.X.Hi)+1, int(b.Y.Hi)+1).Intersect(dst.Rect)
	for y := area.Min.Y; y < area.Max.Y; y++ {
		for x := area.Min.X; x < area.Max.X; x++ {
			if region.Contains(types.Point{X: x, Y: y}) {
				blendPixel(dst, x, y, c, alpha)
			}
		}
	}
}

// Line draws a segment of the given thickness (Bresenham with a square brush).
// The segment is clipped to dst first, so cost is bounded by the image size.
func Line(dst *image.RGBA, a, b types.Point, c color.RGBA, thickness int) {
	half := max(thickness, 1) / 2
	a, b, ok := clipSegment(a, b, dst.Rect.Inset(-half))
	if !ok {
		return
	}
	dx, dy := abs(b.X-a.X), -abs(b.Y-a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		for oy := -half; oy <= half; oy++ {
			for ox := -half; ox <= half; ox++ {
				setPixel(dst, x+ox, y+oy, c)
			}
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// clipSegment clips a-b to r (Liang-Barsky).
func clipSegment(a, b types.Point, r image.Rectangle) (types.Point, types.Point, bool) {
	if r.Empty() {
		return a, b, false
	}
	x0, y0 := float64(a.X), float64(a.Y)
	dx, dy := float64(b.X)-x0, float64(b.Y)-y0
	xmin, xmax := float64(r.Min.X), float64(r.Max.X-1)
	ymin, ymax := float64(r.Min.Y), float64(r.Max.Y-1)

	t0, t1 := 0.0, 1.0
	edges := [4][2]float64{
		{-dx, x0 - xmin},
		{dx, xmax - x0},
		{-dy, y0 - ymin},
		{dy, ymax - y0},
	}
	for _, e := range edges {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return a, b, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return a, b, false
			}
			t0 = max(t0, t)
		} else {
			if t < t0 {
				return a, b, false
			}
			t1 = min(t1, t)
		}
	}
	ca, cb := a, b
	if t0 > 0 {
		ca = types.Point{X: int(math.Round(x0 + t0*dx)), Y: int(math.Round(y0 + t0*dy))}
	}
	if t1 < 1 {
		cb = types.Point{X: int(math.Round(x0 + t1*dx)), Y: int(math.Round(y0 + t1*dy))}
	}
	return ca, cb, true
}

// Polyline draws consecutive segments through pts, closing the ring if closed.
func Polyline(dst *image.RGBA, pts []types.Point, closed bool, c color.RGBA, thickness int) {
	for i := 1; i < len(pts); i++ {
		Line(dst, pts[i-1], pts[i], c, thickness)
	}
	if closed && len(pts) > 2 {
		Line(dst, pts[len(pts)-1], pts[0], c, thickness)
	}
}

// Rect outlines r.
func Rect(dst *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	pts := []types.Point{
		{X: r.Min.X, Y: r.Min.Y}, {X: r.Max.X, Y: r.Min.Y},
		{X: r.Max.X, Y: r.Max.Y}, {X: r.Min.X, Y: r.Max.Y},
	}
	Polyline(dst, pts, true, c, thickness)
}

// Dot fills a disc of radius r around center.
func Dot(dst *image.RGBA, center types.Point, r int, c color.RGBA) {
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y <= r*r {
				setPixel(dst, center.X+x, center.Y+y, c)
			}
		}
	}
}

// Text draws s with its baseline-left corner near (x, y) using a 7x13 bitmap
// font. A non-nil bg paints a padded box behind the text.
func Text(dst *image.RGBA, x, y int, s string, fg color.RGBA, bg *color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(fg),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	if bg != nil {
		w := d.MeasureString(s).Ceil()
		box := image.Rect(x-2, y-face.Ascent-2, x+w+2, y+face.Descent+2).Intersect(dst.Rect)
		draw.Draw(dst, box, image.NewUniform(*bg), image.Point{}, draw.Src)
	}
	d.DrawString(s)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
