// Package encoder turns raw color frames into H.264 access units.
//
// An Encoder accepts frames without blocking the caller. When its input
// queue is full Ready reports false and Encode returns ErrBackpressure so
// the caller can count the drop and move on.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/models"
)

// Encoder kinds.
const (
	KindFFmpeg = "ffmpeg"
	KindNull   = "null"
)

var (
	// ErrBackpressure is returned by Encode when the input queue is full.
	ErrBackpressure = errors.New("encoder input queue full")
	// ErrNotStarted is returned when encoding before Start.
	ErrNotStarted = errors.New("encoder not started")
	// ErrClosed is returned when encoding after Close.
	ErrClosed = errors.New("encoder closed")
	// ErrFrameSize is returned for frames that do not match the format.
	ErrFrameSize = errors.New("frame size does not match format")
	// ErrUnsupportedPixelFormat is returned for formats the encoder cannot ingest.
	ErrUnsupportedPixelFormat = errors.New("unsupported pixel format")
)

// Format describes the raw frames fed to an encoder.
type Format struct {
	Width       int
	Height      int
	PixelFormat models.PixelFormat
	FPS         float64
}

// FrameSize returns the byte length of one packed frame.
func (f Format) FrameSize() int {
	return f.Width * f.Height * f.PixelFormat.BytesPerPixel()
}

// Validate checks that the format can be encoded.
func (f Format) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", f.Width, f.Height)
	}
	if f.Width%2 != 0 || f.Height%2 != 0 {
		return fmt.Errorf("dimensions %dx%d must be even for yuv420p", f.Width, f.Height)
	}
	if f.FPS <= 0 {
		return fmt.Errorf("invalid frame rate %v", f.FPS)
	}
	return nil
}

// AccessUnitFunc receives each encoded access unit in output order.
type AccessUnitFunc func(pts time.Duration, au [][]byte)

// Encoder is an asynchronous H.264 encoder.
type Encoder interface {
	// Start launches the encoder. onAU is called from an encoder-owned
	// goroutine.
	Start(format Format, onAU AccessUnitFunc) error
	// Ready reports whether Encode would accept a frame now.
	Ready() bool
	// Encode queues a packed frame presented at pts. It never blocks.
	Encode(frame []byte, pts time.Duration) error
	// Close flushes pending frames, delivers the remaining access units
	// and waits for the encoder to exit.
	Close() error
	// Stats returns encoder counters.
	Stats() Stats
}

// Stats holds encoder counters.
type Stats struct {
	FramesIn     uint64 `json:"frames_in"`
	AccessUnits  uint64 `json:"access_units"`
	Backpressure uint64 `json:"backpressure"`
}

// Factory creates a fresh Encoder for each recording.
type Factory func() Encoder

// NewFactory returns a Factory for the configured encoder kind.
func NewFactory(cfg config.EncoderConfig, logger *slog.Logger) (Factory, error) {
	switch cfg.Kind {
	case KindFFmpeg, "":
		return func() Encoder { return NewFFmpeg(cfg, logger) }, nil
	case KindNull:
		return func() Encoder { return NewNull(cfg.QueueDepth) }, nil
	}
	return nil, fmt.Errorf("unknown encoder kind %q", cfg.Kind)
}

func pixFmtName(f models.PixelFormat) (string, error) {
	switch f {
	case models.PixelFormatRGBA:
		return "rgba", nil
	case models.PixelFormatBGRA:
		return "bgra", nil
	case models.PixelFormatGray8:
		return "gray", nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedPixelFormat, f)
}
