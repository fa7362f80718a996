package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type SnapshotSource interface {
	Latest() ([]byte, time.Time, bool)
}

type SnapshotHandler struct {
	Source SnapshotSource

	// StreamInterval is the MJPEG re-send period. Defaults to one second.
	StreamInterval time.Duration
}

// Snapshot serves the latest still as a plain JPEG.
func (h *SnapshotHandler) Snapshot(c *gin.Context) {
	img, takenAt, ok := h.Source.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No snapshot yet"})
		return
	}
	c.Header("Last-Modified", takenAt.UTC().Format(http.TimeFormat))
	c.Data(http.StatusOK, "image/jpeg", img)
}

const streamBoundary = "frame"

// Stream re-sends the latest snapshot as an MJPEG multipart stream until the
// client goes away. The doorbell is not a continuous camera; the stream
// simply repeats the newest still.
func (h *SnapshotHandler) Stream(c *gin.Context) {
	interval := h.StreamInterval
	if interval <= 0 {
		interval = time.Second
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	flusher, canFlush := c.Writer.(http.Flusher)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	writeFrame := func() bool {
		img, _, ok := h.Source.Latest()
		if !ok {
			return true
		}
		_, err := fmt.Fprintf(c.Writer,
			"--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", streamBoundary, len(img))
		if err != nil {
			return false
		}
		if _, err := c.Writer.Write(img); err != nil {
			return false
		}
		if _, err := fmt.Fprint(c.Writer, "\r\n"); err != nil {
			return false
		}
		if canFlush {
			flusher.Flush()
		}
		return true
	}

	if !writeFrame() {
		return
	}
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			if !writeFrame() {
				return
			}
		}
	}
}
