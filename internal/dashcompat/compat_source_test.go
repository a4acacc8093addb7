package dashcompat

import (
	"net/http"
	"os"
	"testing"
)

// Changing the source restarts the producer and resets counts on the target.
func TestDashboardSourceChange(t *testing.T) {
	if os.Getenv("DASHBOARD_SWITCH_SOURCE") == "" {
		t.Skip("set DASHBOARD_SWITCH_SOURCE=1 to enable the source change check")
	}
	client := newDashClient(t)
	resp, body := client.get(t, "/api/source")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/source status = %d", resp.StatusCode)
	}
	before := decodeJSONMap(t, body)
	original := requireString(t, before["source"], "source")
	runID := requireString(t, before["run_id"], "run_id")
	t.Cleanup(func() { client.postJSON(t, "/api/source", map[string]any{"source": original}) })

	resp, body = client.postJSON(t, "/api/source", map[string]any{"source": "synthetic"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/source status = %d body=%s", resp.StatusCode, body)
	}
	payload := decodeJSONMap(t, body)
	requireString(t, payload["status"], "status")
	after := requireMap(t, payload["source"], "source")
	if requireString(t, after["run_id"], "source.run_id") == runID {
		t.Fatalf("run id unchanged after restart")
	}

	resp, body = client.postJSON(t, "/api/source", map[string]any{"source": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty source status = %d", resp.StatusCode)
	}
	requireString(t, decodeJSONMap(t, body)["error"], "error")
}
