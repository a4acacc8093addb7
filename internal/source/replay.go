package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/crowdcount/zonecount/internal/logger"
	"github.com/crowdcount/zonecount/pkg/types"
)

// TracksFile is the per-directory track log read by replay sources. Line i
// holds the JSON track array for the i-th frame in name order.
const TracksFile = "tracks.jsonl"

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".webp": true}

// Replay plays back a directory of still frames at a fixed rate.
type Replay struct {
	dir    string
	frames []string
	tracks [][]types.Track
	loop   bool
	period time.Duration

	idx    int
	bad    int // consecutive frames that failed to load
	seq    uint64
	next   time.Time
	closed bool
}

// OpenReplay indexes dir. Frames are played in lexical file-name order.
func OpenReplay(dir string, opts Options) (*Replay, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("source: open replay: %w", err)
	}
	var frames []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		frames = append(frames, filepath.Join(dir, e.Name()))
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("source: no frames in %s", dir)
	}
	sort.Strings(frames)

	tracks, err := readTracks(filepath.Join(dir, TracksFile))
	if err != nil {
		return nil, err
	}
	if len(tracks) != 0 && len(tracks) != len(frames) {
		logger.Warn("Source", "Replay %s: %d frames but %d track lines", dir, len(frames), len(tracks))
	}

	var period time.Duration
	if opts.FPS > 0 {
		period = time.Duration(float64(time.Second) / opts.FPS)
	}
	logger.Info("Source", "Replay %s: %d frames, loop=%v, fps=%.1f", dir, len(frames), opts.Loop, opts.FPS)
	return &Replay{dir: dir, frames: frames, tracks: tracks, loop: opts.Loop, period: period}, nil
}

func readTracks(path string) ([][]types.Track, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("source: read tracks: %w", err)
	}
	var out [][]types.Track
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		var ts []types.Track
		if text != "" && text != "null" {
			if err := json.Unmarshal([]byte(text), &ts); err != nil {
				return nil, fmt.Errorf("source: %s line %d: %w", path, line, err)
			}
		}
		out = append(out, ts)
	}
	return out, sc.Err()
}

// Name implements Source.
func (r *Replay) Name() string {
	return "replay:" + r.dir
}

// Len returns the number of frames in one pass.
func (r *Replay) Len() int {
	return len(r.frames)
}

// Next implements Source, pacing frames to the configured rate.
func (r *Replay) Next(ctx context.Context) (*types.Frame, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.idx >= len(r.frames) {
		if !r.loop {
			return nil, ErrEndOfStream
		}
		r.idx = 0
	}

	if r.period > 0 {
		now := time.Now()
		if r.next.IsZero() {
			r.next = now
		}
		if wait := r.next.Sub(now); wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		r.next = r.next.Add(r.period)
		if behind := time.Since(r.next); behind > r.period {
			r.next = time.Now()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	i := r.idx
	r.idx++
	img, err := loadFrame(r.frames[i])
	if err != nil {
		r.bad++
		if r.bad >= len(r.frames) {
			return nil, fmt.Errorf("source: no readable frames in %s: %w", r.dir, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrFrameSkipped, filepath.Base(r.frames[i]), err)
	}
	r.bad = 0

	var tracks []types.Track
	if i < len(r.tracks) {
		tracks = r.tracks[i]
	}
	r.seq++
	return &types.Frame{Image: img, Tracks: tracks, Timestamp: time.Now(), FrameNum: r.seq}, nil
}

func loadFrame(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeImage(f)
}

// Close implements Source.
func (r *Replay) Close() error {
	r.closed = true
	return nil
}
