// Package analytics holds the published view of the counting pipeline.
//
// A single producer publishes one Frame per processed video frame; any number
// of readers take snapshots concurrently. Each publish builds a complete
// immutable snapshot and installs it with one atomic pointer swap, so a
// reader always sees counts, history and the rendered image of the same
// frame. Publishes carry a generation token; after BeginGeneration returns,
// publishes from older generations are rejected.
package analytics

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crowdcount/zonecount/internal/alerts"
)

// DefaultHistoryCapacity is the number of history entries retained.
const DefaultHistoryCapacity = 500

var (
	// ErrStaleGeneration is returned by Publish when a newer generation has
	// been started.
	ErrStaleGeneration = errors.New("analytics: stale producer generation")
	// ErrInvalidThreshold is returned for negative thresholds.
	ErrInvalidThreshold = errors.New("analytics: threshold must be non-negative")
)

// Frame is what the producer hands over for one processed video frame.
type Frame struct {
	Counts map[int]int
	Names  map[int]string
	Total  int
	Tracks int
	Image  []byte // encoded JPEG
	Width  int
	Height int
	At     time.Time
}

// HistoryEntry is one row of the count history.
type HistoryEntry struct {
	Seq   uint64
	Time  time.Time
	Total int
	Zones map[int]int
}

type snapshot struct {
	seq        uint64
	generation uint64
	frame      Frame
	history    []HistoryEntry
}

// View is a coherent point-in-time read of the state. Maps and slices in a
// View are shared with other readers and must not be modified.
type View struct {
	Seq        uint64
	Generation uint64
	Total      int
	Counts     map[int]int
	Names      map[int]string
	Tracks     int
	History    []HistoryEntry
	Threshold  int
	Alerts     []int
	Frame      []byte
	Width      int
	Height     int
	UpdatedAt  time.Time
}

// Stats reports publish bookkeeping.
type Stats struct {
	Published  uint64
	Rejected   uint64
	Generation uint64
}

// State is the shared analytics state. The zero value is not usable; call New.
type State struct {
	current   atomic.Pointer[snapshot]
	threshold atomic.Int64

	mu         sync.Mutex // serializes publish and generation changes
	generation uint64
	seq        uint64
	capacity   int
	ring       []HistoryEntry // published windows are never overwritten

	published atomic.Uint64
	rejected  atomic.Uint64

	now func() time.Time
}

// New creates an empty state retaining capacity history entries
// (DefaultHistoryCapacity when capacity <= 0).
func New(capacity int) *State {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	s := &State{
		capacity: capacity,
		ring:     make([]HistoryEntry, 0, 2*capacity),
		now:      time.Now,
	}
	s.threshold.Store(alerts.DefaultThreshold)
	s.current.Store(&snapshot{frame: Frame{Counts: map[int]int{}, Names: map[int]string{}}})
	return s
}

// Capacity returns the history capacity.
func (s *State) Capacity() int {
	return s.capacity
}

// BeginGeneration starts a new producer generation and returns its token.
// Once it returns, no publish tagged with an earlier token can land.
func (s *State) BeginGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// Generation returns the latest generation token.
func (s *State) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Publish records f as the latest frame of generation gen, appends a history
// entry and swaps in a new snapshot. It never blocks on readers.
func (s *State) Publish(gen uint64, f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation {
		s.rejected.Add(1)
		if gen < s.generation {
			return ErrStaleGeneration
		}
		return fmt.Errorf("analytics: unknown generation %d (current %d)", gen, s.generation)
	}

	if f.At.IsZero() {
		f.At = s.now()
	}
	f.Counts = maps.Clone(f.Counts)
	if f.Counts == nil {
		f.Counts = map[int]int{}
	}
	f.Names = maps.Clone(f.Names)
	if f.Names == nil {
		f.Names = map[int]string{}
	}

	s.seq++
	s.append(HistoryEntry{Seq: s.seq, Time: f.At, Total: f.Total, Zones: f.Counts})

	s.current.Store(&snapshot{
		seq:        s.seq,
		generation: gen,
		frame:      f,
		history:    s.window(),
	})
	s.published.Add(1)
	return nil
}

// append adds e to the ring. Entries already visible to readers are never
// overwritten: when the backing array fills up, the live window is moved to
// a fresh array.
func (s *State) append(e HistoryEntry) {
	if len(s.ring) == cap(s.ring) {
		fresh := make([]HistoryEntry, 0, 2*s.capacity)
		fresh = append(fresh, s.ring[len(s.ring)-(s.capacity-1):]...)
		s.ring = fresh
	}
	s.ring = append(s.ring, e)
}

func (s *State) window() []HistoryEntry {
	start := max(len(s.ring)-s.capacity, 0)
	end := len(s.ring)
	return s.ring[start:end:end]
}

// Snapshot returns a coherent view including at most historyLimit of the
// newest history entries (all retained entries when historyLimit <= 0).
// Alerts are evaluated against the threshold current at call time.
func (s *State) Snapshot(historyLimit int) View {
	snap := s.current.Load()
	threshold := s.Threshold()
	return View{
		Seq:        snap.seq,
		Generation: snap.generation,
		Total:      snap.frame.Total,
		Counts:     snap.frame.Counts,
		Names:      snap.frame.Names,
		Tracks:     snap.frame.Tracks,
		History:    tail(snap.history, historyLimit),
		Threshold:  threshold,
		Alerts:     alerts.Evaluate(snap.frame.Counts, threshold),
		Frame:      snap.frame.Image,
		Width:      snap.frame.Width,
		Height:     snap.frame.Height,
		UpdatedAt:  snap.frame.At,
	}
}

func tail(h []HistoryEntry, limit int) []HistoryEntry {
	if limit <= 0 || limit >= len(h) {
		return h
	}
	return h[len(h)-limit:]
}

// SetThreshold replaces the alert threshold. The next Snapshot observes it.
func (s *State) SetThreshold(v int) error {
	if v < 0 {
		return ErrInvalidThreshold
	}
	s.threshold.Store(int64(v))
	return nil
}

// Threshold returns the current alert threshold.
func (s *State) Threshold() int {
	return int(s.threshold.Load())
}

// Counts returns a copy of the latest per-zone counts.
func (s *State) Counts() map[int]int {
	return maps.Clone(s.current.Load().frame.Counts)
}

// Total returns the latest total.
func (s *State) Total() int {
	return s.current.Load().frame.Total
}

// History returns a copy of at most limit of the newest entries.
func (s *State) History(limit int) []HistoryEntry {
	h := tail(s.current.Load().history, limit)
	out := make([]HistoryEntry, len(h))
	copy(out, h)
	return out
}

// Alerts returns the zones currently above the threshold.
func (s *State) Alerts() []int {
	return alerts.Evaluate(s.current.Load().frame.Counts, s.Threshold())
}

// LatestFrame returns the most recent rendered image and its sequence number.
// ok is false until a frame with an image has been published.
func (s *State) LatestFrame() ([]byte, uint64, bool) {
	snap := s.current.Load()
	return snap.frame.Image, snap.seq, len(snap.frame.Image) > 0
}

// Stats returns publish counters.
func (s *State) Stats() Stats {
	return Stats{
		Published:  s.published.Load(),
		Rejected:   s.rejected.Load(),
		Generation: s.Generation(),
	}
}
