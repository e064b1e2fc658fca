package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// DefaultStreamInterval paces the MJPEG stream at about 15 FPS.
const DefaultStreamInterval = 66 * time.Millisecond

// Preview keeps the latest annotated frame as JPEG. It is a pipeline
// frame observer; encoding is throttled to the stream rate.
type Preview struct {
	interval time.Duration

	mu      sync.RWMutex
	jpeg    []byte
	seq     uint64
	encoded time.Time
}

// NewPreview creates a Preview. An interval <= 0 uses DefaultStreamInterval.
func NewPreview(interval time.Duration) *Preview {
	if interval <= 0 {
		interval = DefaultStreamInterval
	}
	return &Preview{interval: interval}
}

// Observe encodes img unless the previous encode is more recent than the interval.
func (p *Preview) Observe(img *gocv.Mat) {
	if img == nil || img.Empty() {
		return
	}

	p.mu.RLock()
	recent := time.Since(p.encoded) < p.interval
	p.mu.RUnlock()
	if recent {
		return
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *img)
	if err != nil {
		slog.Debug("preview encode failed", "error", err)
		return
	}
	defer buf.Close()

	// The native buffer is freed on Close, so keep a copy
	p.publish(append([]byte(nil), buf.GetBytes()...))
}

func (p *Preview) publish(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jpeg = data
	p.seq++
	p.encoded = time.Now()
}

// Latest returns the newest JPEG and its sequence number.
func (p *Preview) Latest() ([]byte, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.jpeg, p.seq
}

// StreamHandler serves the preview as MJPEG.
type StreamHandler struct {
	preview *Preview
}

// NewStreamHandler creates a new StreamHandler for the given preview.
func NewStreamHandler(preview *Preview) *StreamHandler {
	return &StreamHandler{preview: preview}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.preview.interval)
	defer ticker.Stop()

	var sent uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		data, seq := h.preview.Latest()
		if data == nil || seq == sent {
			continue
		}
		sent = seq

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
		if _, err := w.Write(data); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
