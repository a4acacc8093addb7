package webmonitor

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/crowdcount/zonecount/internal/zones"
	"github.com/crowdcount/zonecount/pkg/types"
)

func toPairs(pts []types.Point) [][2]int {
	out := make([][2]int, len(pts))
	for i, p := range pts {
		out[i] = [2]int{p.X, p.Y}
	}
	return out
}

func fromPairs(pairs [][2]int) []types.Point {
	out := make([]types.Point, len(pairs))
	for i, p := range pairs {
		out[i] = types.Point{X: p[0], Y: p[1]}
	}
	return out
}

// zoneError maps store errors to HTTP statuses.
func zoneError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, zones.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, zones.ErrTooFewPoints):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "zone id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) zonesResponse() ZonesResponse {
	zs, selected, version := s.deps.Store.View()
	counts := s.deps.State.Counts()

	out := ZonesResponse{
		Zones:    make([]ZoneResponse, len(zs)),
		Selected: selected,
		Preview:  [][2]int{},
		Version:  version,
	}
	for i, z := range zs {
		out.Zones[i] = zoneResponse(z, counts[z.ID], z.ID == selected)
	}
	if s.deps.Drawer != nil {
		out.Drawing = s.deps.Drawer.Drawing()
		out.Preview = toPairs(s.deps.Drawer.Preview())
	}
	if err := s.deps.Store.PersistError(); err != nil {
		out.SaveErr = err.Error()
	}
	return out
}

func (s *Server) handleZonesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.zonesResponse())
}

func (s *Server) handleZoneCreate(w http.ResponseWriter, r *http.Request) {
	var body pointsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	id, err := s.deps.Store.AddNamed(fromPairs(body.Points), body.Name)
	if err != nil {
		zoneError(w, err)
		return
	}
	z, _ := s.deps.Store.Get(id)
	writeJSONWithStatus(w, zoneResponse(z, 0, false), http.StatusCreated)
}

func (s *Server) handleZoneUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body pointsRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.Points == nil && body.Name == "" {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if body.Points != nil {
		if err := s.deps.Store.Edit(id, fromPairs(body.Points)); err != nil {
			zoneError(w, err)
			return
		}
	}
	if body.Name != "" {
		if err := s.deps.Store.Rename(id, body.Name); err != nil {
			zoneError(w, err)
			return
		}
	}
	z, ok := s.deps.Store.Get(id)
	if !ok {
		zoneError(w, zones.ErrNotFound)
		return
	}
	writeJSON(w, zoneResponse(z, s.deps.State.Counts()[id], s.deps.Store.Selected() == id))
}

func (s *Server) handleZoneDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Store.Delete(id); err != nil {
		zoneError(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "deleted", "id": id})
}

func (s *Server) handleZonesClear(w http.ResponseWriter, r *http.Request) {
	s.deps.Store.Clear()
	if s.deps.Drawer != nil {
		s.deps.Drawer.Cancel()
	}
	writeJSON(w, map[string]any{"status": "cleared"})
}

func (s *Server) handleZoneSelect(w http.ResponseWriter, r *http.Request) {
	var body pointRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	id, found := s.deps.Store.Select(types.Point{X: body.X, Y: body.Y})
	writeJSON(w, map[string]any{"selected_id": id, "found": found})
}

func (s *Server) handleDrawPoint(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drawer == nil {
		writeError(w, http.StatusServiceUnavailable, "drawing is not available")
		return
	}
	var body pointRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	n := s.deps.Drawer.AddPoint(types.Point{X: body.X, Y: body.Y})
	writeJSON(w, map[string]any{"drawing": true, "points": n})
}

func (s *Server) handleDrawFinish(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drawer == nil {
		writeError(w, http.StatusServiceUnavailable, "drawing is not available")
		return
	}
	id, err := s.deps.Drawer.Finish()
	if err != nil {
		zoneError(w, err)
		return
	}
	z, _ := s.deps.Store.Get(id)
	writeJSONWithStatus(w, zoneResponse(z, 0, false), http.StatusCreated)
}

func (s *Server) handleDrawCancel(w http.ResponseWriter, r *http.Request) {
	if s.deps.Drawer == nil {
		writeError(w, http.StatusServiceUnavailable, "drawing is not available")
		return
	}
	s.deps.Drawer.Cancel()
	writeJSON(w, map[string]any{"drawing": false})
}
