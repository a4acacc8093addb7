package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/crowdcount/zonecount/internal/analytics"
	"github.com/crowdcount/zonecount/internal/logger"
)

// FrameBroadcaster fans the latest composited JPEG out to MJPEG clients.
// It polls the analytics state and only sends frames with a new sequence
// number.
type FrameBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	state     *analytics.State
	interval  time.Duration
	stop      chan struct{}
	stopped   bool
	lastSeq   uint64
	skipCount int // poll cycles skipped with no clients
}

// NewFrameBroadcaster creates a broadcaster polling state every interval.
func NewFrameBroadcaster(state *analytics.State, interval time.Duration) *FrameBroadcaster {
	return &FrameBroadcaster{
		clients:  make(map[int]chan []byte),
		state:    state,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The current frame, if any, is queued immediately. After Stop the channel
// is returned already closed.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.stopped {
		ch := make(chan []byte)
		close(ch)
		return -1, ch
	}

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if data, _, ok := fb.state.LatestFrame(); ok {
		ch <- data
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Clients returns the number of subscribers.
func (fb *FrameBroadcaster) Clients() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Start begins the poll and broadcast loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the broadcaster and disconnects every client.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.stopped {
		return
	}
	close(fb.stop)
	fb.stopped = true
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

func (fb *FrameBroadcaster) run() {
	ticker := time.NewTicker(fb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-fb.stop:
			return
		case <-ticker.C:
		}

		if fb.Clients() == 0 {
			fb.skipCount++
			if fb.skipCount%100 == 0 {
				logger.Debug("FrameBroadcaster", "No clients connected (idle for %d cycles)", fb.skipCount)
			}
			continue
		}
		fb.skipCount = 0

		data, seq, ok := fb.state.LatestFrame()
		if !ok || seq == fb.lastSeq {
			continue
		}
		fb.lastSeq = seq
		fb.broadcast(data)
	}
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	Seq          uint64
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// StatusBroadcaster fans analytics snapshots out to SSE clients and any
// registered listeners (the WebRTC data-channel push).
type StatusBroadcaster struct {
	mu        sync.Mutex
	clients   map[int]chan *SerializedEvent
	listeners []func(*SerializedEvent)
	nextID    int
	state     *analytics.State
	limit     int
	stop      chan struct{}
	stopped   bool
	interval  time.Duration

	lastSeq       uint64
	lastThreshold int
}

// NewStatusBroadcaster creates a broadcaster for status events.
func NewStatusBroadcaster(state *analytics.State, interval time.Duration, historyLimit int) *StatusBroadcaster {
	return &StatusBroadcaster{
		clients:       make(map[int]chan *SerializedEvent),
		state:         state,
		limit:         historyLimit,
		stop:          make(chan struct{}),
		interval:      interval,
		lastThreshold: -1,
	}
}

// Subscribe adds a new client and returns a channel for receiving status
// events. The current snapshot is queued immediately. After Stop the
// channel is returned already closed.
func (sb *StatusBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	event := sb.Current()

	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.stopped {
		ch := make(chan *SerializedEvent)
		close(ch)
		return -1, ch
	}

	id := sb.nextID
	sb.nextID++
	ch := make(chan *SerializedEvent, 2) // Buffer 2 events to avoid blocking
	if event != nil {
		ch <- event
	}
	sb.clients[id] = ch

	logger.Debug("StatusBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(sb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (sb *StatusBroadcaster) Unsubscribe(id int) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if ch, ok := sb.clients[id]; ok {
		close(ch)
		delete(sb.clients, id)
		logger.Debug("StatusBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(sb.clients))
	}
}

// OnEvent registers fn to receive every broadcast event. fn must not block.
func (sb *StatusBroadcaster) OnEvent(fn func(*SerializedEvent)) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.listeners = append(sb.listeners, fn)
}

// Start begins the status event loop.
func (sb *StatusBroadcaster) Start() {
	go sb.run()
}

// Stop halts the broadcaster and disconnects every client.
func (sb *StatusBroadcaster) Stop() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	if sb.stopped {
		return
	}
	close(sb.stop)
	sb.stopped = true
	for id, ch := range sb.clients {
		close(ch)
		delete(sb.clients, id)
	}
}

func (sb *StatusBroadcaster) run() {
	logger.Info("StatusBroadcaster", "Starting status event broadcaster (interval=%v)...", sb.interval)
	ticker := time.NewTicker(sb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sb.stop:
			return
		case <-ticker.C:
			sb.tick()
		}
	}
}

// tick broadcasts the current snapshot when it changed since the last one.
func (sb *StatusBroadcaster) tick() {
	sb.mu.Lock()
	idle := len(sb.clients) == 0 && len(sb.listeners) == 0
	sb.mu.Unlock()
	if idle {
		return
	}

	v := sb.state.Snapshot(sb.limit)
	if v.Seq == sb.lastSeq && v.Threshold == sb.lastThreshold {
		return
	}
	event := serializeView(v)
	if event == nil {
		return
	}
	sb.lastSeq, sb.lastThreshold = v.Seq, v.Threshold
	sb.broadcast(event)
}

// Current serializes the latest snapshot.
func (sb *StatusBroadcaster) Current() *SerializedEvent {
	return serializeView(sb.state.Snapshot(sb.limit))
}

func (sb *StatusBroadcaster) broadcast(event *SerializedEvent) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	for _, ch := range sb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
	for _, fn := range sb.listeners {
		fn(event)
	}
}

func serializeView(v analytics.View) *SerializedEvent {
	payload := dataResponse(v)
	jsonData, err := json.Marshal(payload)
	if err != nil {
		logger.Error("StatusBroadcaster", "JSON marshal error: %v", err)
		return nil
	}

	pbEvent, err := buildProtoStatus(payload)
	if err != nil {
		logger.Error("StatusBroadcaster", "Protobuf build error: %v", err)
		return nil
	}
	pbData, err := proto.Marshal(pbEvent)
	if err != nil {
		logger.Error("StatusBroadcaster", "Protobuf marshal error: %v", err)
		return nil
	}

	return &SerializedEvent{
		Seq:          v.Seq,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}
}

// buildProtoStatus encodes the status payload as a google.protobuf.Struct.
// Zone ids become string keys.
func buildProtoStatus(d DataResponse) (*structpb.Struct, error) {
	zones := make(map[string]any, len(d.Zones))
	for id, n := range d.Zones {
		zones[zoneLabel(id)] = n
	}
	names := make(map[string]any, len(d.Names))
	for id, name := range d.Names {
		names[zoneLabel(id)] = name
	}
	alerts := make([]any, len(d.Alerts))
	for i, id := range d.Alerts {
		alerts[i] = id
	}
	history := make([]any, len(d.History))
	for i, h := range d.History {
		hz := make(map[string]any, len(h.Zones))
		for id, n := range h.Zones {
			hz[zoneLabel(id)] = n
		}
		history[i] = map[string]any{
			"seq":   h.Seq,
			"time":  h.Time,
			"total": h.Total,
			"zones": hz,
		}
	}

	return structpb.NewStruct(map[string]any{
		"total":      d.Total,
		"zones":      zones,
		"names":      names,
		"history":    history,
		"threshold":  d.Threshold,
		"alerts":     alerts,
		"tracks":     d.Tracks,
		"seq":        d.Seq,
		"generation": d.Generation,
		"updated_at": d.UpdatedAt,
	})
}
