package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crowdcount/zonecount/internal/logger"
	"github.com/crowdcount/zonecount/internal/metrics"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

// Recorder appends composited JPEG frames to a raw MJPEG file. It is a
// pipeline frame sink: WriteFrame never blocks the producer.
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	filename     string
	basePath     string
	recording    bool
	frameCount   uint64
	bytesWritten uint64
	dropped      uint64
	startTime    time.Time
	frameChan    chan []byte
	stopChan     chan struct{}
	wg           sync.WaitGroup

	metrics *metrics.Metrics // optional
	now     func() time.Time
}

// NewRecorder creates a recorder writing into basePath.
func NewRecorder(basePath string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		basePath: basePath,
		metrics:  m,
		now:      time.Now,
	}
}

// Start opens a new timestamped file and begins recording. It returns the
// file path.
func (r *Recorder) Start() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}
	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recording dir: %w", err)
	}

	r.startTime = r.now()
	filename := fmt.Sprintf("recording_%s.mjpeg", r.startTime.Format("20060102_150405"))
	path := filepath.Join(r.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.filename = path
	r.recording = true
	r.frameCount = 0
	r.bytesWritten = 0
	r.dropped = 0
	r.frameChan = make(chan []byte, 60) // Buffer ~6 seconds at 10fps
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeFrames(r.frameChan, r.stopChan)

	if r.metrics != nil {
		r.metrics.RecordingActive.Store(1)
	}
	logger.Info("Recorder", "Recording to %s", path)
	return path, nil
}

// Stop finishes the current file and returns its path.
func (r *Recorder) Stop() (string, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	// Wait for write goroutine to drain
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.filename
	if r.metrics != nil {
		r.metrics.RecordingActive.Store(0)
	}
	if r.file != nil {
		defer func() { r.file = nil }()
		if err := r.file.Sync(); err != nil {
			r.file.Close()
			return path, fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return path, fmt.Errorf("failed to close file: %w", err)
		}
	}

	logger.Info("Recorder", "Stopped %s (%d frames, %d bytes, %d dropped)", path, r.frameCount, r.bytesWritten, r.dropped)
	return path, nil
}

// WriteFrame queues one JPEG for writing. Frames are dropped when the
// writer falls behind or nothing is recording.
func (r *Recorder) WriteFrame(jpeg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recording {
		return
	}
	select {
	case r.frameChan <- jpeg:
	default:
		r.dropped++
	}
}

func (r *Recorder) writeFrames(frames <-chan []byte, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case data := <-frames:
			r.writeFrame(data)
		case <-stop:
			// Drain remaining frames
			for {
				select {
				case data := <-frames:
					r.writeFrame(data)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeFrame(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return
	}
	n, err := r.file.Write(data)
	if err != nil {
		logger.Warn("Recorder", "Write failed: %v", err)
		return
	}

	r.bytesWritten += uint64(n)
	r.frameCount++
	if r.metrics != nil {
		r.metrics.RecordingBytes.Store(r.bytesWritten)
		r.metrics.RecordingFrames.Store(r.frameCount)
	}
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// Status returns the current recording status
func (r *Recorder) Status() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var duration time.Duration
	if r.recording {
		duration = r.now().Sub(r.startTime)
	}

	return RecordingStatus{
		Recording:    r.recording,
		Filename:     r.filename,
		FrameCount:   r.frameCount,
		BytesWritten: r.bytesWritten,
		Dropped:      r.dropped,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops any active recording.
func (r *Recorder) Close() error {
	if !r.IsRecording() {
		return nil
	}
	_, err := r.Stop()
	return err
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	Filename     string    `json:"filename,omitempty"`
	FrameCount   uint64    `json:"frame_count"`
	BytesWritten uint64    `json:"bytes_written"`
	Dropped      uint64    `json:"dropped"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
