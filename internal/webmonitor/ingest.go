package webmonitor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/crowdcount/zonecount/internal/source"
	"github.com/crowdcount/zonecount/pkg/types"
)

// handleIngest accepts one frame from an external tracker: a multipart form
// with a "frame" image file and a "tracks" JSON array. An optional
// "timestamp" field carries the capture time in unix seconds.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Push == nil {
		writeError(w, http.StatusServiceUnavailable, "push ingest is disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxIngestBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxIngestBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("frame")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing frame file")
		return
	}
	defer file.Close()

	img, err := source.DecodeImage(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var tracks []types.Track
	if raw := r.FormValue("tracks"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &tracks); err != nil {
			writeError(w, http.StatusBadRequest, "invalid tracks: "+err.Error())
			return
		}
	}

	frame := &types.Frame{Image: img, Tracks: tracks}
	if ts := r.FormValue("timestamp"); ts != "" {
		sec, err := strconv.ParseFloat(ts, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "timestamp must be unix seconds")
			return
		}
		frame.Timestamp = time.UnixMilli(int64(sec * 1000))
	}

	replaced := s.deps.Push.Push(frame)
	s.deps.Metrics.FramesIngested.Add(1)
	if replaced {
		s.deps.Metrics.IngestDropped.Add(1)
	}

	writeJSONWithStatus(w, map[string]any{
		"accepted":  true,
		"frame_num": frame.FrameNum,
		"tracks":    len(tracks),
		"replaced":  replaced,
	}, http.StatusAccepted)
}
