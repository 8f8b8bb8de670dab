package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/lidarcap/internal/preview"
)

// PreviewSource publishes live preview updates.
type PreviewSource interface {
	Subscribe() (<-chan preview.Update, func())
	Latest() *preview.Update
}

// MJPEGBoundary separates parts of the MJPEG stream.
const MJPEGBoundary = "lidarcapframe"

// PreviewHandler serves the live preview as MJPEG, as server-sent depth
// events and as a single still image.
type PreviewHandler struct {
	source            PreviewSource
	logger            *slog.Logger
	heartbeatInterval time.Duration
}

// NewPreviewHandler creates a new preview handler.
func NewPreviewHandler(source PreviewSource, logger *slog.Logger) *PreviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreviewHandler{
		source:            source,
		logger:            logger,
		heartbeatInterval: 15 * time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *PreviewHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// RegisterRoutes registers the streaming routes, which bypass huma.
func (h *PreviewHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/v1/preview.mjpeg", h.handleMJPEG)
	r.Get("/api/v1/preview.jpg", h.handleStill)
	r.Get("/api/v1/preview/events", h.handleEvents)
}

func (h *PreviewHandler) handleStill(w http.ResponseWriter, r *http.Request) {
	u := h.source.Latest()
	if u == nil {
		http.Error(w, "no preview available", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(u.JPEG)))
	_, _ = w.Write(u.JPEG)
}

func (h *PreviewHandler) handleMJPEG(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+MJPEGBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	updates, cancel := h.source.Subscribe()
	defer cancel()
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	if u := h.source.Latest(); u != nil {
		if err := writeJPEGPart(w, u); err != nil {
			return
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := writeJPEGPart(w, &u); err != nil {
				h.logger.Debug("mjpeg write failed, client likely disconnected", slog.String("error", err.Error()))
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeJPEGPart(w http.ResponseWriter, u *preview.Update) error {
	header := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\nX-Frame-Number: %d\r\n\r\n",
		MJPEGBoundary, len(u.JPEG), u.FrameNumber)
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(u.JPEG); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// handleEvents streams preview metadata and the depth grid as SSE.
func (h *PreviewHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	updates, cancel := h.source.Subscribe()
	defer cancel()
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush initial SSE connection", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				return
			}
		case u, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(u)
			if err != nil {
				h.logger.Error("failed to marshal preview event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: preview\ndata: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
