package dashcompat

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestDashboardMJPEGStream(t *testing.T) {
	client := newDashClient(t)
	resp := client.getResponse(t, "/stream")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /stream status = %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "multipart/x-mixed-replace") ||
		!strings.Contains(contentType, "boundary=frame") {
		t.Fatalf("GET /stream content-type = %q", contentType)
	}
}

func TestDashboardStatusStream(t *testing.T) {
	client := newDashClient(t)
	event, headers, err := readSSEEvent(client.baseURL+"/api/status/stream", 3*time.Second)
	if err != nil {
		t.Fatalf("status stream error: %v", err)
	}
	if !strings.Contains(headers.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("status stream content-type = %q", headers.Get("Content-Type"))
	}
	assertDataPayload(t, parseSSEData(t, event))
}

func TestDashboardFrameSnapshot(t *testing.T) {
	client := newDashClient(t)
	resp, body := client.get(t, "/api/frame.jpg")
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("no frame published yet")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/frame.jpg status = %d", resp.StatusCode)
	}
	if len(body) < 2 || body[0] != 0xFF || body[1] != 0xD8 {
		t.Fatalf("frame is not a JPEG")
	}
	if resp.Header.Get("X-Frame-Seq") == "" {
		t.Fatalf("frame missing X-Frame-Seq")
	}
}
