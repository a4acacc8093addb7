package source

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/crowdcount/zonecount/pkg/types"
)

// PushSource receives frames from an external tracker over HTTP. Only the
// newest undelivered frame is kept; a slow consumer skips frames rather
// than stalling the sender.
type PushSource struct {
	mu      sync.Mutex
	pending *types.Frame
	signal  chan struct{}

	seq      atomic.Uint64
	received atomic.Uint64
	replaced atomic.Uint64
}

// NewPushSource returns an empty push hub.
func NewPushSource() *PushSource {
	return &PushSource{signal: make(chan struct{}, 1)}
}

// Push queues f, replacing any frame not yet consumed. It reports whether
// an unconsumed frame was replaced.
func (p *PushSource) Push(f *types.Frame) bool {
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	f.FrameNum = p.seq.Add(1)

	p.mu.Lock()
	replaced := p.pending != nil
	if replaced {
		p.replaced.Add(1)
	}
	p.pending = f
	p.mu.Unlock()
	p.received.Add(1)

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return replaced
}

// Next implements Source.
func (p *PushSource) Next(ctx context.Context) (*types.Frame, error) {
	for {
		p.mu.Lock()
		f := p.pending
		p.pending = nil
		p.mu.Unlock()
		if f != nil {
			return f, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.signal:
		}
	}
}

// Stats returns the number of frames received and the number overwritten
// before they were consumed.
func (p *PushSource) Stats() (received, replaced uint64) {
	return p.received.Load(), p.replaced.Load()
}

// Name implements Source.
func (p *PushSource) Name() string {
	return "push"
}

// Close implements Source. The hub outlives producer generations, so Close
// only drops the pending frame.
func (p *PushSource) Close() error {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	return nil
}
