package recorder

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdcount/zonecount/internal/metrics"
)

var fakeJPEG = []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9}

func TestRecordAndStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	m := metrics.New()
	r := NewRecorder(dir, m)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC) }

	r.WriteFrame(fakeJPEG) // ignored while idle

	path, err := r.Start()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "recording_20260301_123000.mjpeg"), path)
	assert.Equal(t, uint64(1), m.RecordingActive.Load())

	_, err = r.Start()
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	for range 3 {
		r.WriteFrame(fakeJPEG)
	}
	stopped, err := r.Stop()
	require.NoError(t, err)
	assert.Equal(t, path, stopped)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat(fakeJPEG, 3), data)

	st := r.Status()
	assert.False(t, st.Recording)
	assert.Equal(t, uint64(3), st.FrameCount)
	assert.Equal(t, uint64(len(fakeJPEG)*3), st.BytesWritten)
	assert.Equal(t, uint64(0), m.RecordingActive.Load())
	assert.Equal(t, uint64(3), m.RecordingFrames.Load())
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRecorder(t.TempDir(), nil)
	_, err := r.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)
	assert.NoError(t, r.Close())
}

func TestRestartRecordingResetsCounters(t *testing.T) {
	r := NewRecorder(t.TempDir(), nil)
	tick := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	_, err := r.Start()
	require.NoError(t, err)
	r.WriteFrame(fakeJPEG)
	_, err = r.Stop()
	require.NoError(t, err)

	second, err := r.Start()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.Status().FrameCount)
	require.NoError(t, r.Close())

	info, err := os.Stat(second)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}
