package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crowdcount/zonecount/internal/alerts"
	"github.com/crowdcount/zonecount/internal/analytics"
	"github.com/crowdcount/zonecount/internal/archive"
	"github.com/crowdcount/zonecount/internal/logger"
	"github.com/crowdcount/zonecount/internal/metrics"
	"github.com/crowdcount/zonecount/internal/pipeline"
	"github.com/crowdcount/zonecount/internal/recorder"
	"github.com/crowdcount/zonecount/internal/source"
	"github.com/crowdcount/zonecount/internal/zones"
)

// Controller is the producer surface the dashboard drives.
type Controller interface {
	Restart(uri string) error
	ResetCounts()
	Status() pipeline.Status
}

// Pusher answers WebRTC offers and pushes status payloads over data channels.
type Pusher interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
	Broadcast(payload []byte)
	ClientCount() int
}

// HistoryArchive serves archived history beyond the in-memory window.
type HistoryArchive interface {
	Recent(ctx context.Context, limit int) ([]archive.Record, error)
	RunID() string
	Written() uint64
}

// Deps are the collaborators behind the HTTP surface. Optional ones disable
// their endpoints when nil.
type Deps struct {
	State    *analytics.State
	Store    *zones.Store
	Drawer   *zones.Drawer
	Producer Controller
	Metrics  *metrics.Metrics
	Push     *source.PushSource // optional, enables /api/ingest
	Recorder *recorder.Recorder // optional
	WebRTC   Pusher             // optional
	Archive  HistoryArchive     // optional
}

// Server serves the dashboard, the query API and the live streams.
type Server struct {
	cfg    Config
	deps   Deps
	frames *FrameBroadcaster
	status *StatusBroadcaster
}

// NewServer returns a configured dashboard server. Call Close to stop its
// broadcasters.
func NewServer(cfg Config, deps Deps) *Server {
	cfg = cfg.withDefaults()
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	frames := NewFrameBroadcaster(deps.State, cfg.MJPEGInterval)
	frames.Start()

	status := NewStatusBroadcaster(deps.State, cfg.StatusInterval, cfg.HistoryLimit)
	if deps.WebRTC != nil {
		push := deps.WebRTC
		status.OnEvent(func(e *SerializedEvent) { push.Broadcast(e.JSONData) })
	}
	status.Start()

	return &Server{
		cfg:    cfg,
		deps:   deps,
		frames: frames,
		status: status,
	}
}

// Close stops the broadcasters and disconnects streaming clients.
func (s *Server) Close() {
	s.frames.Stop()
	s.status.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /assets/", http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /api/frame.jpg", s.handleFrame)

	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("GET /api/counts", s.handleCounts)
	mux.HandleFunc("POST /api/counts/reset", s.handleCountsReset)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/archive", s.handleHistoryArchive)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.HandleFunc("GET /api/threshold", s.handleThresholdGet)
	mux.HandleFunc("POST /api/threshold", s.handleThresholdSet)
	mux.HandleFunc("GET /api/export/csv", s.handleExportCSV)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)

	mux.HandleFunc("GET /api/zones", s.handleZonesList)
	mux.HandleFunc("POST /api/zones", s.handleZoneCreate)
	mux.HandleFunc("PUT /api/zones/{id}", s.handleZoneUpdate)
	mux.HandleFunc("DELETE /api/zones/{id}", s.handleZoneDelete)
	mux.HandleFunc("POST /api/zones/clear", s.handleZonesClear)
	mux.HandleFunc("POST /api/zones/select", s.handleZoneSelect)
	mux.HandleFunc("POST /api/zones/draw/point", s.handleDrawPoint)
	mux.HandleFunc("POST /api/zones/draw/finish", s.handleDrawFinish)
	mux.HandleFunc("POST /api/zones/draw/cancel", s.handleDrawCancel)

	mux.HandleFunc("GET /api/source", s.handleSourceStatus)
	mux.HandleFunc("POST /api/source", s.handleSourceChange)
	mux.HandleFunc("POST /api/ingest", s.handleIngest)

	mux.HandleFunc("GET /charts/history", s.handleHistoryChart)

	mux.HandleFunc("POST /api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("POST /api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("GET /api/recording/status", s.handleRecordingStatus)

	mux.HandleFunc("POST /api/webrtc/offer", s.handleWebRTCOffer)

	mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	return withCORS(mux)
}

// withCORS allows the dashboard to be served from another origin.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)

	s.deps.Metrics.StreamClients.Add(1)
	defer s.deps.Metrics.StreamClients.Add(-1)

	streamMJPEGFromChannel(w, r, frameCh)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, seq, ok := s.deps.State.LatestFrame()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no frame published yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
	_, _ = w.Write(data)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, dataResponse(s.deps.State.Snapshot(s.cfg.HistoryLimit)))
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	v := s.deps.State.Snapshot(1)
	writeJSON(w, map[string]any{
		"total":  v.Total,
		"zones":  v.Counts,
		"names":  v.Names,
		"seq":    v.Seq,
		"tracks": v.Tracks,
	})
}

func (s *Server) handleCountsReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Producer == nil {
		writeError(w, http.StatusServiceUnavailable, "producer is not configured")
		return
	}
	s.deps.Producer.ResetCounts()
	logger.Info("WebMonitor", "Count reset requested")
	writeJSON(w, map[string]any{"status": "reset requested"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r, 0)
	if !ok {
		return
	}
	h := s.deps.State.History(limit)
	writeJSON(w, map[string]any{
		"capacity": s.deps.State.Capacity(),
		"history":  historyPoints(h),
	})
}

func (s *Server) handleHistoryArchive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Archive == nil {
		writeError(w, http.StatusNotFound, "history archive is disabled")
		return
	}
	limit, ok := queryLimit(w, r, 500)
	if !ok {
		return
	}
	recs, err := s.deps.Archive.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, len(recs))
	for i, rec := range recs {
		out[i] = map[string]any{
			"run_id": rec.RunID,
			"seq":    rec.Seq,
			"time":   rec.Time.Format(analytics.ExportTimeLayout),
			"total":  rec.Total,
			"zones":  rec.Zones,
		}
	}
	writeJSON(w, map[string]any{"history": out})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	v := s.deps.State.Snapshot(1)
	writeJSON(w, map[string]any{
		"alerts":    v.Alerts,
		"threshold": v.Threshold,
		"zones":     v.Counts,
	})
}

func (s *Server) handleThresholdGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"threshold": s.deps.State.Threshold()})
}

func (s *Server) handleThresholdSet(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Threshold *json.Number `json:"threshold"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	threshold := int64(alerts.DefaultThreshold)
	if body.Threshold != nil {
		n, err := strconv.ParseInt(body.Threshold.String(), 10, 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, "threshold must be an integer")
			return
		}
		threshold = n
	}
	if err := s.deps.State.SetThreshold(int(threshold)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Info("WebMonitor", "Threshold set to %d", threshold)
	writeJSON(w, map[string]any{"status": "Threshold updated", "threshold": threshold})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	filename := fmt.Sprintf("zone_counts_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := s.deps.State.WriteCSV(w); err != nil {
		logger.Warn("WebMonitor", "CSV export failed: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.deps.State.Stats()
	payload := map[string]any{
		"analytics": map[string]any{
			"published":  stats.Published,
			"rejected":   stats.Rejected,
			"generation": stats.Generation,
			"capacity":   s.deps.State.Capacity(),
		},
		"clients": map[string]any{
			"mjpeg":  s.frames.Clients(),
			"stream": s.deps.Metrics.StreamClients.Load(),
		},
		"zones": map[string]any{
			"count":   s.deps.Store.Len(),
			"version": s.deps.Store.Version(),
		},
		"timestamp": float64(time.Now().Unix()),
	}
	if s.deps.Producer != nil {
		payload["producer"] = s.deps.Producer.Status()
	}
	if err := s.deps.Store.PersistError(); err != nil {
		payload["zones"].(map[string]any)["save_error"] = err.Error()
	}
	if s.deps.WebRTC != nil {
		payload["clients"].(map[string]any)["webrtc"] = s.deps.WebRTC.ClientCount()
	}
	if s.deps.Archive != nil {
		payload["archive"] = map[string]any{
			"run_id":  s.deps.Archive.RunID(),
			"written": s.deps.Archive.Written(),
		}
	}
	writeJSON(w, payload)
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.status.Subscribe()
	defer s.status.Unsubscribe(id)

	s.deps.Metrics.StreamClients.Add(1)
	defer s.deps.Metrics.StreamClients.Add(-1)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamStatusEventsFromChannel(w, r, eventCh, useProtobuf)
}

func (s *Server) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Producer == nil {
		writeError(w, http.StatusServiceUnavailable, "producer is not configured")
		return
	}
	writeJSON(w, s.deps.Producer.Status())
}

func (s *Server) handleSourceChange(w http.ResponseWriter, r *http.Request) {
	if s.deps.Producer == nil {
		writeError(w, http.StatusServiceUnavailable, "producer is not configured")
		return
	}
	var body struct {
		Source string `json:"source"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	body.Source = strings.TrimSpace(body.Source)
	if body.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	if err := s.deps.Producer.Restart(body.Source); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, source.ErrInvalidURI):
			status = http.StatusBadRequest
		case errors.Is(err, pipeline.ErrNotRunning):
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"status": "Source changed to " + body.Source,
		"source": s.deps.Producer.Status(),
	})
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "recorder is not configured")
		return
	}
	filename, err := s.deps.Recorder.Start()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "recorder is not configured")
		return
	}
	filename, err := s.deps.Recorder.Stop()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       filename,
		"stats":      s.deps.Recorder.Status(),
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.deps.Recorder.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebRTC == nil {
		writeError(w, http.StatusServiceUnavailable, "WebRTC is disabled")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offer data")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeError(w, http.StatusBadRequest, "Invalid offer data")
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		logger.Warn("WebMonitor", "WebRTC offer failed: %v", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func queryLimit(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	q := r.URL.Query().Get("limit")
	if q == "" {
		return def, true
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// decodeJSON treats an empty body as an empty object.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONWithStatus(w, map[string]any{"error": msg}, status)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
