package dashcompat

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestDashboardIndex(t *testing.T) {
	client := newDashClient(t)
	resp, body := client.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("GET / content-type = %q", resp.Header.Get("Content-Type"))
	}
	html := string(body)
	for _, needle := range []string{
		"<title>Zone Occupancy Monitor</title>",
		"/stream",
		"/api/status/stream",
		"/api/export/csv",
	} {
		if !strings.Contains(html, needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}
}

func TestDashboardStatus(t *testing.T) {
	client := newDashClient(t)
	resp, body := client.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	assertStatusPayload(t, decodeJSONMap(t, body))
}

func TestDashboardData(t *testing.T) {
	client := newDashClient(t)
	resp, body := client.get(t, "/api/data")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/data status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	assertDataPayload(t, payload)
	if n := len(requireSlice(t, payload["history"], "history")); n > 50 {
		t.Fatalf("history has %d entries, want at most 50", n)
	}
}

func TestDashboardThresholdRoundTrip(t *testing.T) {
	client := newDashClient(t)
	_, body := client.get(t, "/api/threshold")
	original := requireNumber(t, decodeJSONMap(t, body)["threshold"], "threshold")
	t.Cleanup(func() { client.postJSON(t, "/api/threshold", map[string]any{"threshold": original}) })

	resp, body := client.postJSON(t, "/api/threshold", map[string]any{"threshold": 3})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/threshold status = %d body=%s", resp.StatusCode, body)
	}
	_, body = client.get(t, "/api/data")
	if got := requireNumber(t, decodeJSONMap(t, body)["threshold"], "threshold"); got != 3 {
		t.Fatalf("threshold = %v, want 3", got)
	}

	resp, _ = client.postJSON(t, "/api/threshold", map[string]any{"threshold": -4})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative threshold status = %d", resp.StatusCode)
	}
}

func TestDashboardZonesList(t *testing.T) {
	client := newDashClient(t)
	resp, body := client.get(t, "/api/zones")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/zones status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	requireNumber(t, payload["selected_id"], "selected_id")
	requireNumber(t, payload["version"], "version")
	for i, raw := range requireSlice(t, payload["zones"], "zones") {
		z := requireMap(t, raw, fmt.Sprintf("zones[%d]", i))
		requireNumber(t, z["id"], "zones.id")
		requireString(t, z["name"], "zones.name")
		if pts := requireSlice(t, z["points"], "zones.points"); len(pts) < 3 {
			t.Fatalf("zone %v has %d points", z["id"], len(pts))
		}
	}
}

func TestDashboardZoneNotFound(t *testing.T) {
	client := newDashClient(t)
	resp, _ := client.do(t, http.MethodDelete, "/api/zones/999999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("DELETE unknown zone status = %d", resp.StatusCode)
	}
}

func TestDashboardExportCSV(t *testing.T) {
	client := newDashClient(t)
	resp, body := client.get(t, "/api/export/csv")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/export/csv status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "attachment") {
		t.Fatalf("csv content-disposition = %q", resp.Header.Get("Content-Disposition"))
	}
	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) == 0 || records[0][0] != "time" || records[0][1] != "total" {
		t.Fatalf("unexpected csv header: %v", records)
	}
}

func TestDashboardWebRTCOfferInvalid(t *testing.T) {
	client := newDashClient(t)
	resp, body := client.postJSON(t, "/api/webrtc/offer", map[string]any{})
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("webrtc disabled on target server")
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /api/webrtc/offer status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["error"], "error") != "Invalid offer data" {
		t.Fatalf("unexpected error: %v", payload["error"])
	}
}
