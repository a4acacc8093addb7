// Package webrtc pushes analytics snapshots to browsers over WebRTC data
// channels. The browser opens the channel in its offer; the server answers
// and then sends every status event on it.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/crowdcount/zonecount/internal/logger"
	"github.com/crowdcount/zonecount/internal/metrics"
)

// ErrTooManyClients is returned by HandleOffer when the client limit is reached.
var ErrTooManyClients = errors.New("maximum clients reached")

const clientQueue = 4

// Client represents a connected WebRTC client
type Client struct {
	id       string
	peerConn *webrtc.PeerConnection

	mu        sync.Mutex
	channel   *webrtc.DataChannel
	queue     chan []byte
	closeChan chan struct{}
	closeOnce sync.Once

	sent    uint64
	dropped uint64
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	metrics    *metrics.Metrics // optional

	latestMu sync.RWMutex
	latest   []byte // replayed to channels as soon as they open
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}
	if maxClients <= 0 {
		maxClients = 10
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.LoggerFactory = logger.PionFactory{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine))

	return &Server{
		clients: make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        api,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.SDP == "" {
		return nil, errors.New("offer has no sdp")
	}

	if s.ClientCount() >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        "client-" + uuid.NewString(),
		peerConn:  peerConn,
		queue:     make(chan []byte, clientQueue),
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Debug("WebRTC", "Client %s opened channel %q", client.id, dc.Label())
		dc.OnOpen(func() {
			client.mu.Lock()
			client.channel = dc
			client.mu.Unlock()

			s.latestMu.RLock()
			latest := s.latest
			s.latestMu.RUnlock()
			if latest != nil {
				client.enqueue(latest)
			}
			go client.sendLoop()
		})
		dc.OnClose(func() {
			s.RemoveClient(client.id)
		})
	})

	// Handle peer connection state changes
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	s.clients[client.id] = client
	n := len(s.clients)
	s.clientsMu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveClients.Store(uint64(n))
		s.metrics.TotalClients.Add(1)
	}
	logger.Info("WebRTC", "Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// Broadcast sends payload to every client with an open channel. Slow
// clients drop messages instead of delaying the others.
func (s *Server) Broadcast(payload []byte) {
	s.latestMu.Lock()
	s.latest = payload
	s.latestMu.Unlock()

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, client := range s.clients {
		client.enqueue(payload)
	}
}

func (c *Client) enqueue(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return
	}
	select {
	case c.queue <- payload:
	default:
		c.dropped++
	}
}

func (c *Client) sendLoop() {
	for {
		select {
		case <-c.closeChan:
			return
		case payload := <-c.queue:
			c.mu.Lock()
			dc := c.channel
			c.mu.Unlock()
			if err := dc.SendText(string(payload)); err != nil {
				logger.Debug("WebRTC", "Send to client %s failed: %v", c.id, err)
				continue
			}
			c.mu.Lock()
			c.sent++
			c.mu.Unlock()
		}
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	n := len(s.clients)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	client.closeOnce.Do(func() {
		close(client.closeChan)
		client.peerConn.Close()
	})
	if s.metrics != nil {
		s.metrics.ActiveClients.Store(uint64(n))
	}

	client.mu.Lock()
	sent, dropped := client.sent, client.dropped
	client.mu.Unlock()
	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)", clientID, sent, dropped)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// ClientStats returns stats for all clients
func (s *Server) ClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64, len(s.clients))
	for id, client := range s.clients {
		client.mu.Lock()
		stats[id] = map[string]uint64{
			"messages_sent":    client.sent,
			"messages_dropped": client.dropped,
		}
		client.mu.Unlock()
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}
