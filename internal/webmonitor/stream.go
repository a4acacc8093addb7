package webmonitor

import (
	"fmt"
	"image"
	"image/color"
	"net/http"
	"sync"
	"time"

	"github.com/crowdcount/zonecount/internal/logger"
	"github.com/crowdcount/zonecount/internal/overlay"
)

const (
	mjpegBoundary = "frame"
	// a blank frame is re-sent when nothing new arrives in this window
	mjpegKeepalive = 5 * time.Second
	sseKeepalive   = 30 * time.Second
)

var (
	loadingOnce sync.Once
	loadingJPEG []byte
)

// blankJPEG returns the placeholder shown before the first frame is published.
func blankJPEG() []byte {
	loadingOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 640, 480))
		bg := color.RGBA{R: 32, G: 32, B: 32, A: 255}
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = bg.R, bg.G, bg.B, bg.A
		}
		white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
		overlay.Text(img, 260, 236, "Camera Loading...", white, nil)

		data, err := overlay.EncodeJPEG(img, 75)
		if err != nil {
			logger.Error("MJPEG", "Failed to render placeholder: %v", err)
			return
		}
		loadingJPEG = data
	})
	return loadingJPEG
}

func writeMJPEGPart(w http.ResponseWriter, data []byte) error {
	if _, err := fmt.Fprintf(w, "--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", mjpegBoundary, len(data)); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern) until
// the client goes away or the channel closes.
func streamMJPEGFromChannel(w http.ResponseWriter, r *http.Request, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")

	blank := blankJPEG()
	var first []byte
	select {
	case first = <-frameCh:
	default:
	}
	if first == nil {
		first = blank
	}
	if err := writeMJPEGPart(w, first); err != nil {
		return
	}
	flusher.Flush()

	keepalive := time.NewTimer(mjpegKeepalive)
	defer keepalive.Stop()

	for {
		var jpegData []byte
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			jpegData = data
		case <-keepalive.C:
			jpegData = blank
		}
		keepalive.Reset(mjpegKeepalive)

		// if client disconnected, exit immediately
		if err := writeMJPEGPart(w, jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()
	}
}

// streamStatusEventsFromChannel streams pre-serialized status events to an
// SSE client.
func streamStatusEventsFromChannel(w http.ResponseWriter, r *http.Request, eventCh <-chan *SerializedEvent, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", event.Seq, data); err != nil {
				logger.Debug("SSE", "Client disconnected during status event write: %v", err)
				return
			}
			flusher.Flush()

		case <-keepalive.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
