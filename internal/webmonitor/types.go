package webmonitor

import (
	"strconv"
	"time"

	"github.com/crowdcount/zonecount/internal/analytics"
	"github.com/crowdcount/zonecount/internal/zones"
)

// historyTimeLayout matches the dashboard chart labels.
const historyTimeLayout = "15:04:05"

// HistoryPoint is one chart sample in /api/data and /api/history.
type HistoryPoint struct {
	Seq   uint64      `json:"seq"`
	Time  string      `json:"time"`
	Total int         `json:"total"`
	Zones map[int]int `json:"zones"`
}

// DataResponse is the dashboard polling payload.
type DataResponse struct {
	Total      int            `json:"total"`
	Zones      map[int]int    `json:"zones"`
	Names      map[int]string `json:"names"`
	History    []HistoryPoint `json:"history"`
	Threshold  int            `json:"threshold"`
	Alerts     []int          `json:"alerts"`
	Tracks     int            `json:"tracks"`
	Seq        uint64         `json:"seq"`
	Generation uint64         `json:"generation"`
	UpdatedAt  float64        `json:"updated_at"`
}

// ZoneResponse is the API shape of a zone.
type ZoneResponse struct {
	ID        int      `json:"id"`
	Name      string   `json:"name"`
	Points    [][2]int `json:"points"`
	Color     [3]int   `json:"color"`
	Count     int      `json:"count"`
	Selected  bool     `json:"selected"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// ZonesResponse lists the zones with the current selection.
type ZonesResponse struct {
	Zones    []ZoneResponse `json:"zones"`
	Selected int            `json:"selected_id"`
	Drawing  bool           `json:"drawing"`
	Preview  [][2]int       `json:"preview"`
	Version  uint64         `json:"version"`
	SaveErr  string         `json:"save_error,omitempty"`
}

// pointsRequest is the body of zone create/edit calls.
type pointsRequest struct {
	Name   string   `json:"name"`
	Points [][2]int `json:"points"`
}

// pointRequest is the body of select and draw/point calls.
type pointRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func unixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixMilli()) / 1000
}

func historyPoints(h []analytics.HistoryEntry) []HistoryPoint {
	out := make([]HistoryPoint, len(h))
	for i, e := range h {
		out[i] = HistoryPoint{
			Seq:   e.Seq,
			Time:  e.Time.Format(historyTimeLayout),
			Total: e.Total,
			Zones: e.Zones,
		}
	}
	return out
}

func dataResponse(v analytics.View) DataResponse {
	return DataResponse{
		Total:      v.Total,
		Zones:      v.Counts,
		Names:      v.Names,
		History:    historyPoints(v.History),
		Threshold:  v.Threshold,
		Alerts:     v.Alerts,
		Tracks:     v.Tracks,
		Seq:        v.Seq,
		Generation: v.Generation,
		UpdatedAt:  unixSeconds(v.UpdatedAt),
	}
}

func zoneResponse(z zones.Zone, count int, selected bool) ZoneResponse {
	out := ZoneResponse{
		ID:        z.ID,
		Name:      z.Name,
		Points:    toPairs(z.Points),
		Color:     [3]int{int(z.Color.R), int(z.Color.G), int(z.Color.B)},
		Count:     count,
		Selected:  selected,
		CreatedAt: z.CreatedAt.Format(analytics.ExportTimeLayout),
	}
	if !z.UpdatedAt.IsZero() {
		out.UpdatedAt = z.UpdatedAt.Format(analytics.ExportTimeLayout)
	}
	return out
}

// zoneLabel is the metric/SSE key for a zone id.
func zoneLabel(id int) string {
	return strconv.Itoa(id)
}
