package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"time"

	"golang.org/x/image/draw"

	"github.com/crowdcount/zonecount/pkg/types"
)

const (
	walkerW = 24
	walkerH = 60
)

type walker struct {
	id     int
	x, y   float64
	vx, vy float64
	ttl    int
}

// Synthetic renders a test pattern with a handful of walkers bouncing around
// the frame. Walkers expire and are replaced with new identities so counts
// keep moving.
type Synthetic struct {
	w, h    int
	period  time.Duration
	rng     *rand.Rand
	walkers []*walker
	nextID  int
	seq     uint64
	bg      *image.RGBA
	closed  bool
}

// NewSynthetic creates a generator with n walkers at fps frames per second.
func NewSynthetic(w, h, n int, fps float64) *Synthetic {
	s := &Synthetic{
		w:   w,
		h:   h,
		rng: rand.New(rand.NewPCG(uint64(w), uint64(h))),
		bg:  background(w, h),
	}
	if fps > 0 {
		s.period = time.Duration(float64(time.Second) / fps)
	}
	for i := 0; i < n; i++ {
		s.walkers = append(s.walkers, s.spawn())
	}
	return s
}

func background(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		shade := uint8(60 + 40*y/max(h, 1))
		for x := 0; x < w; x++ {
			c := color.RGBA{R: shade, G: shade, B: shade + 10, A: 255}
			if x%80 == 0 || y%80 == 0 {
				c = color.RGBA{R: 90, G: 90, B: 100, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func (s *Synthetic) spawn() *walker {
	s.nextID++
	return &walker{
		id:  s.nextID,
		x:   s.rng.Float64() * float64(max(s.w-walkerW, 1)),
		y:   s.rng.Float64() * float64(max(s.h-walkerH, 1)),
		vx:  (s.rng.Float64()*2 - 1) * 6,
		vy:  (s.rng.Float64()*2 - 1) * 4,
		ttl: 100 + s.rng.IntN(200),
	}
}

func (s *Synthetic) step() {
	for i, wk := range s.walkers {
		wk.x += wk.vx
		wk.y += wk.vy
		if wk.x < 0 || wk.x > float64(s.w-walkerW) {
			wk.vx = -wk.vx
			wk.x = min(max(wk.x, 0), float64(s.w-walkerW))
		}
		if wk.y < 0 || wk.y > float64(s.h-walkerH) {
			wk.vy = -wk.vy
			wk.y = min(max(wk.y, 0), float64(s.h-walkerH))
		}
		wk.ttl--
		if wk.ttl <= 0 {
			s.walkers[i] = s.spawn()
		}
	}
}

// Name implements Source.
func (s *Synthetic) Name() string {
	return fmt.Sprintf("synthetic:%dx%d:%d", s.w, s.h, len(s.walkers))
}

// Next implements Source.
func (s *Synthetic) Next(ctx context.Context) (*types.Frame, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.period > 0 {
		t := time.NewTimer(s.period)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.step()
	img := image.NewRGBA(s.bg.Rect)
	copy(img.Pix, s.bg.Pix)
	tracks := make([]types.Track, 0, len(s.walkers))
	for _, wk := range s.walkers {
		r := image.Rect(int(wk.x), int(wk.y), int(wk.x)+walkerW, int(wk.y)+walkerH)
		body := color.RGBA{R: uint8(80 + wk.id*37%150), G: 160, B: uint8(200 - wk.id*23%120), A: 255}
		draw.Draw(img, r, &image.Uniform{C: body}, image.Point{}, draw.Src)
		tracks = append(tracks, types.Track{
			BBox:    types.BBox{Left: float64(r.Min.X), Top: float64(r.Min.Y), Right: float64(r.Max.X), Bottom: float64(r.Max.Y)},
			TrackID: fmt.Sprintf("%d", wk.id),
		})
	}
	s.seq++
	return &types.Frame{Image: img, Tracks: tracks, Timestamp: time.Now(), FrameNum: s.seq}, nil
}

// Close implements Source.
func (s *Synthetic) Close() error {
	s.closed = true
	return nil
}
