package webmonitor

import (
	"bytes"
	"fmt"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/crowdcount/zonecount/internal/analytics"
)

// handleHistoryChart renders the occupancy history as a line chart and the
// current per-zone counts as a bar chart, both via go-echarts.
func (s *Server) handleHistoryChart(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.HistoryLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	v := s.deps.State.Snapshot(limit)

	page := components.NewPage()
	page.PageTitle = "Zone Occupancy"
	page.AddCharts(historyLine(v), countsBar(v))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func zoneIDs(v analytics.View) []int {
	seen := make(map[int]struct{})
	for id := range v.Counts {
		seen[id] = struct{}{}
	}
	for _, h := range v.History {
		for id := range h.Zones {
			seen[id] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func zoneName(v analytics.View, id int) string {
	if name := v.Names[id]; name != "" {
		return name
	}
	return "Zone " + strconv.Itoa(id)
}

func historyLine(v analytics.View) *charts.Line {
	x := make([]string, len(v.History))
	total := make([]opts.LineData, len(v.History))
	for i, h := range v.History {
		x[i] = h.Time.Format(historyTimeLayout)
		total[i] = opts.LineData{Value: h.Total}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Zone Occupancy", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Occupancy Over Time", Subtitle: fmt.Sprintf("entries=%d threshold=%d", len(v.History), v.Threshold)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Visitors", Min: 0}),
	)
	line.SetXAxis(x).AddSeries("Total", total)

	for _, id := range zoneIDs(v) {
		data := make([]opts.LineData, len(v.History))
		for i, h := range v.History {
			data[i] = opts.LineData{Value: h.Zones[id]}
		}
		line.AddSeries(zoneName(v, id), data)
	}
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))
	return line
}

func countsBar(v analytics.View) *charts.Bar {
	ids := zoneIDs(v)
	x := make([]string, len(ids))
	y := make([]opts.BarData, len(ids))
	for i, id := range ids {
		x[i] = zoneName(v, id)
		bd := opts.BarData{Value: v.Counts[id]}
		if v.Counts[id] > v.Threshold {
			bd.ItemStyle = &opts.ItemStyle{Color: "#dc3545"}
		}
		y[i] = bd
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Current Zone Counts", Subtitle: fmt.Sprintf("total=%d alerts=%d", v.Total, len(v.Alerts))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("visitors", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}
