// Package dashcompat checks a running zonecount server against the dashboard
// API contract. Tests skip unless the server is reachable.
package dashcompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

type dashClient struct {
	baseURL string
	client  *http.Client
}

func newDashClient(t *testing.T) *dashClient {
	t.Helper()
	baseURL := os.Getenv("DASHBOARD_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/status") {
		t.Skipf("dashboard not reachable at %s (set DASHBOARD_BASE_URL to run)", baseURL)
	}

	return &dashClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *dashClient) do(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *dashClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path, nil)
}

func (c *dashClient) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	if payload == nil {
		payload = map[string]any{}
	}
	return c.do(t, http.MethodPost, path, payload)
}

func (c *dashClient) getResponse(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				return string(buf[:idx]), resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
		select {
		case <-ctx.Done():
			return "", nil, fmt.Errorf("timeout waiting for sse event")
		default:
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

// assertCountMap checks a zone id to count object.
func assertCountMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	counts := requireMap(t, value, field)
	for id, n := range counts {
		if v := requireNumber(t, n, field+"."+id); v < 0 {
			t.Fatalf("%s.%s is negative: %v", field, id, v)
		}
	}
	return counts
}

func assertHistoryEntry(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireNumber(t, payload["seq"], field+".seq")
	requireString(t, payload["time"], field+".time")
	requireNumber(t, payload["total"], field+".total")
	assertCountMap(t, payload["zones"], field+".zones")
}

// assertDataPayload checks the /api/data and status stream shape.
func assertDataPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	total := requireNumber(t, payload["total"], "total")
	if total < 0 {
		t.Fatalf("total is negative: %v", total)
	}
	counts := assertCountMap(t, payload["zones"], "zones")
	requireMap(t, payload["names"], "names")
	threshold := requireNumber(t, payload["threshold"], "threshold")
	requireNumber(t, payload["seq"], "seq")

	history := requireSlice(t, payload["history"], "history")
	for i, raw := range history {
		assertHistoryEntry(t, requireMap(t, raw, fmt.Sprintf("history[%d]", i)), fmt.Sprintf("history[%d]", i))
	}

	for i, raw := range requireSlice(t, payload["alerts"], "alerts") {
		id := requireNumber(t, raw, fmt.Sprintf("alerts[%d]", i))
		n, ok := counts[fmt.Sprintf("%d", int(id))]
		if !ok {
			t.Fatalf("alert for zone %v not in zones", id)
		}
		if n.(float64) <= threshold {
			t.Fatalf("zone %v alerting with count %v at threshold %v", id, n, threshold)
		}
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	analytics := requireMap(t, payload["analytics"], "analytics")
	requireNumber(t, analytics["published"], "analytics.published")
	requireNumber(t, analytics["rejected"], "analytics.rejected")
	requireNumber(t, analytics["generation"], "analytics.generation")
	requireNumber(t, analytics["capacity"], "analytics.capacity")

	clients := requireMap(t, payload["clients"], "clients")
	requireNumber(t, clients["mjpeg"], "clients.mjpeg")
	requireNumber(t, clients["stream"], "clients.stream")

	zones := requireMap(t, payload["zones"], "zones")
	requireNumber(t, zones["count"], "zones.count")
	requireNumber(t, zones["version"], "zones.version")

	requireNumber(t, payload["timestamp"], "timestamp")

	if payload["producer"] != nil {
		producer := requireMap(t, payload["producer"], "producer")
		requireString(t, producer["source"], "producer.source")
		requireString(t, producer["run_id"], "producer.run_id")
	}
}
