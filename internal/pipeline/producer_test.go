package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdcount/zonecount/internal/alerts"
	"github.com/crowdcount/zonecount/internal/analytics"
	"github.com/crowdcount/zonecount/internal/metrics"
	"github.com/crowdcount/zonecount/internal/source"
	"github.com/crowdcount/zonecount/internal/zones"
	"github.com/crowdcount/zonecount/pkg/types"
)

type harness struct {
	producer *Producer
	state    *analytics.State
	store    *zones.Store
	push     *source.PushSource
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, deps Deps) *harness {
	t.Helper()
	h := &harness{
		state:   analytics.New(0),
		store:   zones.NewStore(filepath.Join(t.TempDir(), "zones.json")),
		push:    source.NewPushSource(),
		metrics: metrics.New(),
	}
	deps.State = h.state
	deps.Store = h.store
	deps.Drawer = zones.NewDrawer(h.store)
	deps.Opener = &source.Opener{Push: h.push}
	deps.Metrics = h.metrics

	cfg := DefaultConfig()
	cfg.SourceURI = "push"
	cfg.BackoffMin = 5 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	h.producer = New(cfg, deps)

	require.NoError(t, h.producer.Start(context.Background()))
	t.Cleanup(h.producer.Stop)
	return h
}

func square(x0, y0, x1, y1 int) []types.Point {
	return []types.Point{{X: x0, Y: y0}, {X: x1, Y: y0}, {X: x1, Y: y1}, {X: x0, Y: y1}}
}

func frameWith(tracks ...types.Track) *types.Frame {
	return &types.Frame{Image: image.NewRGBA(image.Rect(0, 0, 320, 240)), Tracks: tracks}
}

func track(id string, l, t, r, b float64) types.Track {
	return types.Track{TrackID: id, BBox: types.BBox{Left: l, Top: t, Right: r, Bottom: b}}
}

func (h *harness) pushAndWait(t *testing.T, f *types.Frame) analytics.View {
	t.Helper()
	before := h.state.Snapshot(0).Seq
	h.push.Push(f)
	var v analytics.View
	require.Eventually(t, func() bool {
		v = h.state.Snapshot(0)
		return v.Seq > before
	}, 2*time.Second, 2*time.Millisecond)
	return v
}

func TestProducerCountsAndPublishes(t *testing.T) {
	h := newHarness(t, Deps{})
	_, err := h.store.Add(square(0, 0, 100, 100))
	require.NoError(t, err)

	a := track("A", 40, 40, 60, 80)
	v := h.pushAndWait(t, frameWith(a))
	assert.Equal(t, map[int]int{1: 1}, v.Counts)
	assert.Equal(t, 1, v.Total)
	assert.Equal(t, "Zone 1", v.Names[1])
	assert.Equal(t, 1, v.Tracks)
	assert.Equal(t, 320, v.Width)

	img, err := jpeg.Decode(bytes.NewReader(v.Frame))
	require.NoError(t, err)
	assert.Equal(t, 240, img.Bounds().Dy())

	v = h.pushAndWait(t, frameWith(a, track("B", 200, 200, 220, 220)))
	assert.Equal(t, 1, v.Counts[1], "same identity and outside track do not count")
	assert.Len(t, v.History, 2)
	assert.Equal(t, uint64(2), h.metrics.FramesProcessed.Load())
}

func TestTotalFallsBackToTrackCountWithoutZones(t *testing.T) {
	h := newHarness(t, Deps{})
	v := h.pushAndWait(t, frameWith(track("1", 0, 0, 10, 10), track("2", 20, 20, 30, 30)))
	assert.Empty(t, v.Counts)
	assert.Equal(t, 2, v.Total)
}

func TestZoneEditRebuildsCounterKeepingTallies(t *testing.T) {
	h := newHarness(t, Deps{})
	_, _ = h.store.Add(square(0, 0, 100, 100))
	h.pushAndWait(t, frameWith(track("A", 40, 40, 60, 80)))

	_, err := h.store.Add(square(150, 150, 250, 250))
	require.NoError(t, err)
	v := h.pushAndWait(t, frameWith(track("A", 40, 40, 60, 80), track("C", 190, 190, 210, 210)))
	assert.Equal(t, map[int]int{1: 1, 2: 1}, v.Counts)

	require.NoError(t, h.store.Delete(1))
	v = h.pushAndWait(t, frameWith())
	assert.Equal(t, map[int]int{2: 1}, v.Counts)
}

func TestResetCounts(t *testing.T) {
	h := newHarness(t, Deps{})
	_, _ = h.store.Add(square(0, 0, 100, 100))
	a := track("A", 40, 40, 60, 80)
	h.pushAndWait(t, frameWith(a, track("B", 10, 10, 20, 20)))

	h.producer.ResetCounts()
	v := h.pushAndWait(t, frameWith(a))
	assert.Equal(t, 1, v.Counts[1], "reset then recount from zero")
}

func TestRestartBumpsGenerationAndFencesOldPublishes(t *testing.T) {
	h := newHarness(t, Deps{})
	h.pushAndWait(t, frameWith())
	first := h.producer.Status()
	require.True(t, first.Running)

	require.NoError(t, h.producer.Restart("push"))
	second := h.producer.Status()
	assert.Greater(t, second.Generation, first.Generation)
	assert.NotEqual(t, first.RunID, second.RunID)

	assert.ErrorIs(t, h.state.Publish(first.Generation, analytics.Frame{}), analytics.ErrStaleGeneration)

	v := h.pushAndWait(t, frameWith())
	assert.Equal(t, second.Generation, v.Generation)
}

func TestRestartWaitsForOutgoingLoop(t *testing.T) {
	h := newHarness(t, Deps{})
	h.pushAndWait(t, frameWith())
	done := h.producer.Done()
	require.NotNil(t, done)

	require.NoError(t, h.producer.Restart("push"))
	select {
	case <-done:
	default:
		t.Fatal("previous generation still running after Restart returned")
	}
}

func TestRestartRejectsInvalidURI(t *testing.T) {
	h := newHarness(t, Deps{})
	before := h.producer.Status()

	for _, uri := range []string{"rtsp://camera", "", "synthetic:0x0"} {
		assert.ErrorIs(t, h.producer.Restart(uri), source.ErrInvalidURI, uri)
	}
	after := h.producer.Status()
	assert.Equal(t, before.Generation, after.Generation)
	assert.Equal(t, before.RunID, after.RunID)
}

func writeJPEG(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48)), nil))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestUnreadableReplayFrameIsSkipped(t *testing.T) {
	h := newHarness(t, Deps{})
	dir := t.TempDir()
	writeJPEG(t, filepath.Join(dir, "000.jpg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001.jpg"), []byte("not a jpeg"), 0o644))
	writeJPEG(t, filepath.Join(dir, "002.jpg"))

	require.NoError(t, h.producer.Restart("replay:"+dir))
	require.Eventually(t, func() bool {
		return h.metrics.FramesProcessed.Load() == 2 && h.metrics.FramesSkipped.Load() == 1
	}, 2*time.Second, 2*time.Millisecond)

	// the finished replay holds its last snapshot instead of starting over
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(2), h.metrics.FramesProcessed.Load())
	assert.Equal(t, uint64(0), h.metrics.SourceErrors.Load())
	v := h.state.Snapshot(0)
	assert.Len(t, v.History, 2)
	assert.Equal(t, 64, v.Width)
}

func TestDrawTrackWithOutOfRangeBoxIsBounded(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	start := time.Now()
	drawTrack(img, track("7", 10, 10, 1e9, 200))
	drawTrack(img, track("8", -1e18, -1e18, 1e18, 1e18))
	drawTrack(img, track("9", math.NaN(), 5, math.Inf(1), 20))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, trackColor, img.RGBAAt(10, 100), "left edge")
	assert.Equal(t, trackColor, img.RGBAAt(319, 10), "top edge runs to the border")
}

func TestSourceFailureBacksOffAndKeepsLastSnapshot(t *testing.T) {
	h := newHarness(t, Deps{})
	_, _ = h.store.Add(square(0, 0, 100, 100))
	good := h.pushAndWait(t, frameWith(track("A", 40, 40, 60, 80)))

	require.NoError(t, h.producer.Restart("replay:"+filepath.Join(t.TempDir(), "missing")))
	require.Eventually(t, func() bool { return h.metrics.SourceErrors.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	st := h.producer.Status()
	assert.False(t, st.Healthy)
	assert.NotEmpty(t, st.LastError)
	v := h.state.Snapshot(0)
	assert.Equal(t, good.Seq, v.Seq)
	assert.Equal(t, good.Frame, v.Frame)
}

type panicSink struct{ calls atomic.Int32 }

func (p *panicSink) WriteFrame([]byte) {
	if p.calls.Add(1) == 1 {
		panic("sink exploded")
	}
}

func TestPanicSkipsFrameAndLoopSurvives(t *testing.T) {
	sink := &panicSink{}
	h := newHarness(t, Deps{Sinks: []FrameSink{sink}})

	h.pushAndWait(t, frameWith())
	require.Eventually(t, func() bool { return h.metrics.FramesSkipped.Load() == 1 }, time.Second, 2*time.Millisecond)

	v := h.pushAndWait(t, frameWith())
	assert.Equal(t, uint64(2), v.Seq)
	require.Eventually(t, func() bool { return sink.calls.Load() == 2 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, uint64(1), h.metrics.FramesSkipped.Load())
}

func TestFrameWithoutImageIsSkipped(t *testing.T) {
	h := newHarness(t, Deps{})
	h.push.Push(&types.Frame{})
	require.Eventually(t, func() bool { return h.metrics.FramesSkipped.Load() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, uint64(0), h.state.Snapshot(0).Seq)
}

type collectNotifier struct {
	mu      sync.Mutex
	batches [][]alerts.Breach
}

func (c *collectNotifier) Notify(_ context.Context, b []alerts.Breach) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return nil
}

func (c *collectNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func TestAlertTransitionsAreDispatched(t *testing.T) {
	n := &collectNotifier{}
	d := alerts.NewDispatcher(n, 4)
	h := newHarness(t, Deps{Dispatcher: d})
	require.NoError(t, h.state.SetThreshold(1))
	_, _ = h.store.Add(square(0, 0, 100, 100))

	h.pushAndWait(t, frameWith(track("A", 10, 10, 20, 20)))
	v := h.pushAndWait(t, frameWith(track("B", 30, 30, 40, 40)))
	assert.Equal(t, []int{1}, v.Alerts)
	h.pushAndWait(t, frameWith(track("C", 50, 50, 60, 60)))

	h.producer.Stop()
	d.Close()
	require.Equal(t, 1, n.count(), "only the transition is notified")
	assert.Equal(t, 2, n.batches[0][0].Count)
	assert.Equal(t, "Zone 1", n.batches[0][0].ZoneName)
}

func TestRestartRequiresStart(t *testing.T) {
	p := New(DefaultConfig(), Deps{State: analytics.New(0)})
	assert.ErrorIs(t, p.Restart("push"), ErrNotRunning)
	assert.False(t, p.Status().Running)
	assert.Nil(t, p.Done())
}
