// Package pipeline runs the single producer loop: read a frame and its
// tracks, count zone visitors, render the density overlay, evaluate alerts
// and publish the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/crowdcount/zonecount/internal/alerts"
	"github.com/crowdcount/zonecount/internal/analytics"
	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/internal/heatmap"
	"github.com/crowdcount/zonecount/internal/logger"
	"github.com/crowdcount/zonecount/internal/metrics"
	"github.com/crowdcount/zonecount/internal/occupancy"
	"github.com/crowdcount/zonecount/internal/overlay"
	"github.com/crowdcount/zonecount/internal/source"
	"github.com/crowdcount/zonecount/internal/zones"
	"github.com/crowdcount/zonecount/pkg/types"
)

// ErrNotRunning is returned by Restart before Start or after Stop.
var ErrNotRunning = errors.New("pipeline: producer not running")

// Config tunes the producer.
type Config struct {
	SourceURI   string
	Policy      geometry.EntryPolicy
	Heatmap     heatmap.Config
	JPEGQuality int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the stock producer settings.
func DefaultConfig() Config {
	return Config{
		SourceURI:   "synthetic",
		Policy:      geometry.BottomCenter,
		Heatmap:     heatmap.DefaultConfig(),
		JPEGQuality: 80,
		BackoffMin:  100 * time.Millisecond,
		BackoffMax:  5 * time.Second,
	}
}

// FrameSink receives every composited JPEG the producer publishes. Sinks
// must not block.
type FrameSink interface {
	WriteFrame(jpeg []byte)
}

// Deps are the collaborators the producer drives.
type Deps struct {
	State      *analytics.State
	Store      *zones.Store
	Drawer     *zones.Drawer
	Opener     *source.Opener
	Metrics    *metrics.Metrics
	Dispatcher *alerts.Dispatcher // optional
	Sinks      []FrameSink
}

// Status describes the running generation.
type Status struct {
	Running    bool      `json:"running"`
	Source     string    `json:"source"`
	RunID      string    `json:"run_id"`
	Generation uint64    `json:"generation"`
	Healthy    bool      `json:"healthy"`
	LastError  string    `json:"last_error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
}

type run struct {
	gen     uint64
	id      string
	uri     string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}

	healthy atomic.Bool
	lastErr atomic.Pointer[string]
}

// Producer owns the processing goroutine. Restart swaps the source under a
// new generation; the outgoing loop can no longer publish once Restart
// returns.
type Producer struct {
	cfg  Config
	deps Deps

	mu     sync.Mutex
	parent context.Context
	cur    *run

	resetReq atomic.Bool
}

// New creates a producer. Call Start to begin processing.
func New(cfg Config, deps Deps) *Producer {
	def := DefaultConfig()
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = def.BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = max(def.BackoffMax, cfg.BackoffMin)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Producer{cfg: cfg, deps: deps}
}

// Start launches the first generation on the configured source. The
// producer stops when ctx is cancelled or Stop is called.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.parent != nil {
		p.mu.Unlock()
		return fmt.Errorf("pipeline: already started")
	}
	p.parent = ctx
	p.mu.Unlock()
	return p.Restart(p.cfg.SourceURI)
}

// Restart replaces the running generation with one reading from uri. A
// malformed uri is rejected with source.ErrInvalidURI; otherwise the new
// source is opened by the new loop, so an unreachable source degrades to
// retry-with-backoff instead of failing the call. The outgoing loop has
// exited by the time the new generation begins.
func (p *Producer) Restart(uri string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.parent == nil || p.parent.Err() != nil {
		return ErrNotRunning
	}
	if err := p.deps.Opener.Check(uri); err != nil {
		return err
	}

	old := p.cur
	if old != nil {
		old.cancel()
		<-old.done
	}
	// after this no publish from old can land
	gen := p.deps.State.BeginGeneration()

	ctx, cancel := context.WithCancel(p.parent)
	r := &run{
		gen:     gen,
		id:      uuid.NewString(),
		uri:     uri,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	p.cur = r
	p.deps.Metrics.Generation.Store(gen)

	if old != nil {
		logger.Info("Producer", "Restart: %s (gen %d) -> %s (gen %d, run %s)", old.uri, old.gen, uri, gen, r.id)
	} else {
		logger.Info("Producer", "Starting on %s (gen %d, run %s)", uri, gen, r.id)
	}
	go p.loop(ctx, r)
	return nil
}

// Stop cancels the running generation and waits for it to exit.
func (p *Producer) Stop() {
	p.mu.Lock()
	r := p.cur
	p.cur = nil
	p.parent = nil
	p.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	<-r.done
	logger.Info("Producer", "Stopped (gen %d)", r.gen)
}

// ResetCounts asks the running loop to clear every zone's tally before the
// next frame.
func (p *Producer) ResetCounts() {
	p.resetReq.Store(true)
	logger.Info("Producer", "Count reset requested")
}

// Status reports on the running generation.
func (p *Producer) Status() Status {
	p.mu.Lock()
	r := p.cur
	p.mu.Unlock()
	if r == nil {
		return Status{}
	}
	st := Status{
		Running:    true,
		Source:     r.uri,
		RunID:      r.id,
		Generation: r.gen,
		Healthy:    r.healthy.Load(),
		StartedAt:  r.started,
	}
	if e := r.lastErr.Load(); e != nil {
		st.LastError = *e
	}
	return st
}

// Done returns a channel closed when the current generation exits, or nil
// when nothing is running.
func (p *Producer) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	return p.cur.done
}

func (r *run) fail(err error) {
	msg := err.Error()
	r.lastErr.Store(&msg)
	r.healthy.Store(false)
}

// sleep waits for d or until ctx is done, reporting whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (p *Producer) loop(ctx context.Context, r *run) {
	defer close(r.done)
	m := p.deps.Metrics

	var src source.Source
	defer func() {
		if src != nil {
			src.Close()
		}
	}()

	w := newWorker(p, r.gen)
	backoff := p.cfg.BackoffMin
	retry := func(err error) bool {
		m.SourceErrors.Add(1)
		m.SourceHealthy.Store(0)
		r.fail(err)
		logger.Warn("Producer", "Source %s: %v (retrying in %v)", r.uri, err, backoff)
		ok := sleep(ctx, backoff)
		backoff = min(backoff*2, p.cfg.BackoffMax)
		return ok
	}

	for ctx.Err() == nil {
		if src == nil {
			s, err := p.deps.Opener.Open(r.uri)
			if err != nil {
				if !retry(err) {
					return
				}
				continue
			}
			src = s
			logger.Info("Producer", "Source opened: %s", s.Name())
		}

		frame, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, source.ErrFrameSkipped) {
				m.FramesSkipped.Add(1)
				logger.Warn("Producer", "%v", err)
				continue
			}
			if errors.Is(err, source.ErrEndOfStream) {
				logger.Info("Producer", "Source %s finished; holding last snapshot", src.Name())
				m.SourceHealthy.Store(0)
				<-ctx.Done()
				return
			}
			src.Close()
			src = nil
			if !retry(err) {
				return
			}
			continue
		}

		backoff = p.cfg.BackoffMin
		if !r.healthy.Swap(true) {
			m.SourceHealthy.Store(1)
		}
		m.FramesRead.Add(1)
		w.processSafely(frame)
	}
}

// worker holds the per-generation state. It is only touched by its loop.
type worker struct {
	p           *Producer
	gen         uint64
	counter     *occupancy.Counter
	zoneVersion uint64
	heat        *heatmap.Accumulator
	tracker     *alerts.Tracker
}

func newWorker(p *Producer, gen uint64) *worker {
	hc := p.cfg.Heatmap
	hc.Policy = p.cfg.Policy
	return &worker{
		p:       p,
		gen:     gen,
		heat:    heatmap.New(hc),
		tracker: alerts.NewTracker(),
	}
}

func (w *worker) processSafely(frame *types.Frame) {
	defer func() {
		if rec := recover(); rec != nil {
			w.p.deps.Metrics.FramesSkipped.Add(1)
			logger.Error("Producer", "Frame %d skipped: panic: %v", frame.FrameNum, rec)
		}
	}()
	if err := w.process(frame); err != nil {
		if errors.Is(err, analytics.ErrStaleGeneration) {
			w.p.deps.Metrics.PublishRejected.Add(1)
			logger.Debug("Producer", "Gen %d publish rejected", w.gen)
			return
		}
		w.p.deps.Metrics.FramesSkipped.Add(1)
		logger.Warn("Producer", "Frame %d skipped: %v", frame.FrameNum, err)
	}
}

var trackColor = color.RGBA{R: 255, G: 255, A: 255}

func (w *worker) process(frame *types.Frame) error {
	if frame == nil || frame.Image == nil {
		return errors.New("frame has no image")
	}
	start := time.Now()
	p := w.p
	m := p.deps.Metrics

	zs, selected, version := p.deps.Store.View()
	if w.counter == nil || version != w.zoneVersion {
		next := occupancy.New(zs, p.cfg.Policy)
		next.Carry(w.counter)
		if w.counter != nil {
			logger.Debug("Producer", "Zones changed (v%d -> v%d), counter rebuilt for %d zone(s)", w.zoneVersion, version, next.Len())
		}
		w.counter = next
		w.zoneVersion = version
	}
	if p.resetReq.Swap(false) {
		w.counter.Reset()
		w.tracker.Reset()
		logger.Info("Producer", "Counts reset")
	}

	w.counter.Update(frame.Tracks)
	counts := w.counter.Counts()
	total := len(frame.Tracks)
	if len(zs) > 0 {
		total = w.counter.Total()
	}

	img := w.heat.Render(frame.Image, frame.Tracks)
	var preview []types.Point
	if p.deps.Drawer != nil {
		preview = p.deps.Drawer.Preview()
	}
	zones.Draw(img, zs, selected, preview)
	for _, tr := range frame.Tracks {
		drawTrack(img, tr)
	}
	jpeg, err := overlay.EncodeJPEG(img, p.cfg.JPEGQuality)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	names := make(map[int]string, len(zs))
	for _, z := range zs {
		names[z.ID] = z.Name
	}
	threshold := p.deps.State.Threshold()
	alerting := alerts.Evaluate(counts, threshold)

	err = p.deps.State.Publish(w.gen, analytics.Frame{
		Counts: counts,
		Names:  names,
		Total:  total,
		Tracks: len(frame.Tracks),
		Image:  jpeg,
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
		At:     frame.Timestamp,
	})
	if err != nil {
		return err
	}

	if entered := w.tracker.Observe(alerting); len(entered) > 0 {
		w.notify(entered, counts, names, threshold)
	}
	for _, s := range p.deps.Sinks {
		s.WriteFrame(jpeg)
	}

	m.FramesProcessed.Add(1)
	m.TracksInFrame.Store(uint64(len(frame.Tracks)))
	m.TotalCount.Store(uint64(total))
	m.AlertingZones.Store(uint64(len(alerting)))
	m.Threshold.Store(uint64(threshold))
	m.UpdateZones(counts, names)
	m.UpdateProcessLatency(time.Since(start))
	if !frame.Timestamp.IsZero() {
		m.UpdateFrameLatency(frame.Timestamp)
	}
	return nil
}

func (w *worker) notify(entered []int, counts map[int]int, names map[int]string, threshold int) {
	now := time.Now()
	breaches := make([]alerts.Breach, 0, len(entered))
	for _, id := range entered {
		breaches = append(breaches, alerts.Breach{
			ZoneID:    id,
			ZoneName:  names[id],
			Count:     counts[id],
			Threshold: threshold,
			At:        now,
		})
		logger.Warn("Alerts", "Zone %d (%s) over threshold: %d > %d", id, names[id], counts[id], threshold)
	}
	if d := w.p.deps.Dispatcher; d != nil && !d.Enqueue(breaches) {
		w.p.deps.Metrics.NotifyDropped.Add(1)
	}
}

// drawTrack outlines a track box and labels it with its identity. Box edges
// are clamped to just outside the frame.
func drawTrack(img *image.RGBA, tr types.Track) {
	b := img.Rect
	clampX := func(v float64) int { return clampCoord(v, b.Min.X, b.Max.X) }
	clampY := func(v float64) int { return clampCoord(v, b.Min.Y, b.Max.Y) }
	r := image.Rect(clampX(tr.BBox.Left), clampY(tr.BBox.Top), clampX(tr.BBox.Right), clampY(tr.BBox.Bottom))
	overlay.Rect(img, r, trackColor, 2)
	overlay.Text(img, r.Min.X, r.Min.Y-10, "ID:"+tr.TrackID, trackColor, nil)
}

// clampCoord maps v into [lo-margin, hi+margin]. NaN maps to lo-margin.
func clampCoord(v float64, lo, hi int) int {
	const margin = 8
	switch {
	case !(v >= float64(lo-margin)):
		return lo - margin
	case v > float64(hi+margin):
		return hi + margin
	}
	return int(v)
}
