package alerts

import (
	"context"
	"sync/atomic"

	"github.com/crowdcount/zonecount/internal/logger"
)

// Notifier delivers breach notifications to an external channel.
type Notifier interface {
	Notify(ctx context.Context, breaches []Breach) error
}

// Dispatcher hands breaches to a Notifier on its own goroutine so the caller
// never waits on delivery. Batches that arrive while the queue is full are
// dropped.
type Dispatcher struct {
	notifier Notifier
	queue    chan []Breach
	dropped  atomic.Uint64
	done     chan struct{}
}

// NewDispatcher starts a dispatcher with the given queue depth.
func NewDispatcher(n Notifier, depth int) *Dispatcher {
	if depth <= 0 {
		depth = 8
	}
	d := &Dispatcher{
		notifier: n,
		queue:    make(chan []Breach, depth),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Enqueue schedules a batch without blocking. It reports whether the batch
// was accepted.
func (d *Dispatcher) Enqueue(breaches []Breach) bool {
	if len(breaches) == 0 {
		return true
	}
	select {
	case d.queue <- breaches:
		return true
	default:
		d.dropped.Add(1)
		logger.Warn("Alerts", "Notification queue full, dropped %d breach(es)", len(breaches))
		return false
	}
}

// Dropped returns the number of batches discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting work and waits for queued batches to be delivered.
func (d *Dispatcher) Close() {
	close(d.queue)
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for batch := range d.queue {
		if err := d.notifier.Notify(context.Background(), batch); err != nil {
			logger.Error("Alerts", "Notification failed: %v", err)
		}
	}
}
