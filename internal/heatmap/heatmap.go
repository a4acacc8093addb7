// Package heatmap renders a per-frame density overlay from track anchors.
//
// Each track stamps a filled disc into a float field which is diffused with a
// wide separable Gaussian, normalized, colorized through a jet lookup table
// and blended over the source frame. With the decay strategy the blurred
// field is carried across frames as an exponential moving sum.
package heatmap

import (
	"fmt"
	"image"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/pkg/types"
)

// Strategy selects how the density field evolves between frames.
type Strategy int

const (
	// Instant rebuilds the field from scratch every frame.
	Instant Strategy = iota
	// Decay keeps decay*previous + current.
	Decay
)

func (s Strategy) String() string {
	if s == Decay {
		return "decay"
	}
	return "instant"
}

// ParseStrategy maps a config value onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "instant":
		return Instant, nil
	case "decay", "ema":
		return Decay, nil
	}
	return Instant, fmt.Errorf("unknown heatmap strategy %q", s)
}

const (
	idleWeight = 0.9
	idleShade  = 40.0
	// values below this are treated as empty so a decaying field reaches idle
	decayFloor = 1e-4
)

// Config controls rendering.
type Config struct {
	Radius   int
	Kernel   int // odd
	Alpha    float64
	Strategy Strategy
	Decay    float64
	Policy   geometry.EntryPolicy
}

// DefaultConfig returns the stock rendering parameters.
func DefaultConfig() Config {
	return Config{
		Radius:   35,
		Kernel:   91,
		Alpha:    0.3,
		Strategy: Instant,
		Decay:    0.85,
		Policy:   geometry.BottomCenter,
	}
}

// Accumulator owns the scratch buffers used by Render. It is not safe for
// concurrent use.
type Accumulator struct {
	cfg    Config
	kernel []float64

	w, h  int
	stamp []float64
	tmp   []float64
	field []float64
}

// New builds an accumulator, fixing up out-of-range parameters.
func New(cfg Config) *Accumulator {
	def := DefaultConfig()
	if cfg.Radius <= 0 {
		cfg.Radius = def.Radius
	}
	if cfg.Kernel <= 0 {
		cfg.Kernel = def.Kernel
	}
	if cfg.Kernel%2 == 0 {
		cfg.Kernel++
	}
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = def.Alpha
	}
	if cfg.Decay <= 0 || cfg.Decay >= 1 {
		cfg.Decay = def.Decay
	}
	return &Accumulator{cfg: cfg, kernel: gaussianKernel(cfg.Kernel)}
}

// Config returns the effective configuration.
func (a *Accumulator) Config() Config {
	return a.cfg
}

// Reset drops any carried density.
func (a *Accumulator) Reset() {
	for i := range a.field {
		a.field[i] = 0
	}
}

// gaussianKernel returns normalized weights for an odd kernel size, with sigma
// derived from the size the way OpenCV does when sigma is left at zero.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	norm := distuv.Normal{Mu: 0, Sigma: sigma}
	half := size / 2
	k := make([]float64, size)
	for i := range k {
		k[i] = norm.Prob(float64(i - half))
	}
	floats.Scale(1/floats.Sum(k), k)
	return k
}

func (a *Accumulator) ensure(w, h int) {
	if a.w == w && a.h == h {
		return
	}
	a.w, a.h = w, h
	a.stamp = make([]float64, w*h)
	a.tmp = make([]float64, w*h)
	a.field = make([]float64, w*h)
}

// Render composites the density overlay for tracks onto a copy of frame.
// When the field is empty the frame is returned lightly darkened instead.
func (a *Accumulator) Render(frame *image.RGBA, tracks []types.Track) *image.RGBA {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	a.ensure(w, h)

	for i := range a.stamp {
		a.stamp[i] = 0
	}
	rows := make([]bool, h)
	for _, tr := range tracks {
		p := geometry.Anchor(tr.BBox, a.cfg.Policy)
		a.stampDisc(p.X-b.Min.X, p.Y-b.Min.Y, rows)
	}
	a.blur(rows)

	if a.cfg.Strategy == Decay {
		for i, v := range a.tmp {
			f := a.cfg.Decay*a.field[i] + v
			if f < decayFloor {
				f = 0
			}
			a.field[i] = f
		}
	} else {
		copy(a.field, a.tmp)
	}

	peak := floats.Max(a.field)
	if peak <= 0 {
		shade(out, frame)
		return out
	}
	a.colorize(out, frame, peak)
	return out
}

// stampDisc sets every pixel within radius of (cx, cy) to one.
func (a *Accumulator) stampDisc(cx, cy int, rows []bool) {
	r := a.cfg.Radius
	r2 := r * r
	for dy := -r; dy <= r; dy++ {
		y := cy + dy
		if y < 0 || y >= a.h {
			continue
		}
		span := int(math.Sqrt(float64(r2 - dy*dy)))
		x0, x1 := max(cx-span, 0), min(cx+span, a.w-1)
		if x0 > x1 {
			continue
		}
		row := a.stamp[y*a.w : (y+1)*a.w]
		for x := x0; x <= x1; x++ {
			row[x] = 1
		}
		rows[y] = true
	}
}

// blur runs the separable Gaussian from stamp into tmp. Only rows that
// received a stamp and columns that are nonzero after the horizontal pass
// are convolved; everything else is known to be zero.
func (a *Accumulator) blur(rows []bool) {
	w, h := a.w, a.h
	half := len(a.kernel) / 2
	for i := range a.tmp {
		a.tmp[i] = 0
	}

	horiz := a.tmp
	cols := make([]bool, w)
	active := false
	for y := 0; y < h; y++ {
		if !rows[y] {
			continue
		}
		active = true
		src := a.stamp[y*w : (y+1)*w]
		dst := horiz[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var sum float64
			for k, kv := range a.kernel {
				sum += kv * src[reflect101(x+k-half, w)]
			}
			if sum != 0 {
				dst[x] = sum
				cols[x] = true
			}
		}
	}
	if !active {
		return
	}

	col := make([]float64, h)
	for x := 0; x < w; x++ {
		if !cols[x] {
			continue
		}
		for y := 0; y < h; y++ {
			col[y] = horiz[y*w+x]
		}
		for y := 0; y < h; y++ {
			var sum float64
			for k, kv := range a.kernel {
				sum += kv * col[reflect101(y+k-half, h)]
			}
			horiz[y*w+x] = sum
		}
	}
}

// reflect101 maps i into [0, n) mirroring about the edge pixels (gfedcb|abcdefgh|gfedcba).
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*(n-1) - i
		}
	}
	return i
}

func shade(dst, src *image.RGBA) {
	b := src.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			si := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			di := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				dst.Pix[di+c] = clamp8(idleWeight*float64(src.Pix[si+c]) + (1-idleWeight)*idleShade)
			}
			dst.Pix[di+3] = 0xff
		}
	}
}

func (a *Accumulator) colorize(dst, src *image.RGBA, peak float64) {
	b := src.Bounds()
	alpha := a.cfg.Alpha
	for y := 0; y < a.h; y++ {
		for x := 0; x < a.w; x++ {
			level := uint8(255 * a.field[y*a.w+x] / peak)
			heat := jet[level]
			si := src.PixOffset(b.Min.X+x, b.Min.Y+y)
			di := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				dst.Pix[di+c] = clamp8((1-alpha)*float64(src.Pix[si+c]) + alpha*float64(heat[c]))
			}
			dst.Pix[di+3] = 0xff
		}
	}
}

func clamp8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
