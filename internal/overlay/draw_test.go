package overlay

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/crowdcount/zonecount/pkg/types"
)

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func TestLineClipsFarEndpoints(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 10))
	start := time.Now()
	Line(img, types.Point{X: -1_000_000_000, Y: 5}, types.Point{X: 1_000_000_000, Y: 5}, white, 1)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	for _, x := range []int{0, 50, 99} {
		assert.Equal(t, white, img.RGBAAt(x, 5), "x=%d", x)
	}
	assert.Equal(t, color.RGBA{}, img.RGBAAt(50, 4))
}

func TestLineClipsDiagonal(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	Line(img, types.Point{X: -10, Y: -10}, types.Point{X: 20, Y: 20}, white, 1)

	for i := 0; i < 10; i++ {
		assert.Equal(t, white, img.RGBAAt(i, i), "i=%d", i)
	}
	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 1))
}

func TestLineOutsideImageDrawsNothing(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	Line(img, types.Point{X: -50, Y: -5}, types.Point{X: 50, Y: -5}, white, 3)
	Line(img, types.Point{X: 30, Y: 30}, types.Point{X: 30, Y: 30}, white, 3)

	for _, v := range img.Pix {
		assert.Zero(t, v)
	}
}

func TestLineInsideIsUnchanged(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	Line(img, types.Point{X: 2, Y: 3}, types.Point{X: 7, Y: 3}, white, 1)

	for x := 2; x <= 7; x++ {
		assert.Equal(t, white, img.RGBAAt(x, 3))
	}
	assert.Equal(t, color.RGBA{}, img.RGBAAt(1, 3))
	assert.Equal(t, color.RGBA{}, img.RGBAAt(8, 3))
}

func TestRectWithHugeCornersIsBounded(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	start := time.Now()
	Rect(img, image.Rect(5, 5, 1<<40, 1<<40), white, 2)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, white, img.RGBAAt(63, 5))
	assert.Equal(t, white, img.RGBAAt(5, 47))
}
