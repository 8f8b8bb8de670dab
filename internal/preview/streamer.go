// Package preview produces the live preview shown while recording: a
// throttled, downscaled JPEG of the color frame plus a sparse depth grid,
// fanned out to any number of subscribers.
package preview

import (
	"bytes"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/observability"
	"github.com/jmylchreest/lidarcap/internal/worker"
)

// Update is one preview image.
type Update struct {
	FrameNumber uint64        `json:"frame_number"`
	Timestamp   time.Duration `json:"timestamp"`
	JPEG        []byte        `json:"-"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	// Depth holds every DepthStride-th depth sample in both directions,
	// row-major, with NaN replaced by -1.
	Depth       []float32 `json:"depth,omitempty"`
	DepthWidth  int       `json:"depth_width,omitempty"`
	DepthHeight int       `json:"depth_height,omitempty"`
}

// Stats holds streamer counters.
type Stats struct {
	Offered     uint64 `json:"offered"`
	Encoded     uint64 `json:"encoded"`
	Throttled   uint64 `json:"throttled"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

// Streamer renders preview updates on its own queue.
type Streamer struct {
	cfg      config.PreviewConfig
	logger   *slog.Logger
	interval time.Duration
	queue    *worker.Serial

	mu     sync.Mutex
	last   time.Duration
	primed bool
	latest *Update
	subs   map[chan Update]struct{}
	closed bool

	offered   atomic.Uint64
	encoded   atomic.Uint64
	throttled atomic.Uint64
	dropped   atomic.Uint64
}

// NewStreamer creates a streamer. A disabled config yields a streamer that
// ignores every frame.
func NewStreamer(cfg config.PreviewConfig, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 10
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 2
	}
	if cfg.DepthStride <= 0 {
		cfg.DepthStride = 8
	}
	logger = observability.WithComponent(logger, "preview")
	return &Streamer{
		cfg:      cfg,
		logger:   logger,
		interval: time.Second / time.Duration(cfg.FPS),
		queue:    worker.NewSerial("preview", 2, logger),
		subs:     make(map[chan Update]struct{}),
	}
}

// Offer considers a frame for preview. It never blocks; frames arriving
// faster than the configured rate, or while an encode is pending, are
// skipped. The frame must not be modified afterwards.
func (s *Streamer) Offer(frame *models.Frame) {
	if !s.cfg.Enabled || frame == nil || frame.Color == nil {
		return
	}
	s.offered.Add(1)

	s.mu.Lock()
	if s.closed || (s.primed && frame.Timestamp-s.last < s.interval && frame.Timestamp >= s.last) {
		s.mu.Unlock()
		s.throttled.Add(1)
		return
	}
	s.last = frame.Timestamp
	s.primed = true
	s.mu.Unlock()

	if !s.queue.TryPost(func() { s.render(frame) }) {
		s.throttled.Add(1)
	}
}

func (s *Streamer) render(frame *models.Frame) {
	img, err := ToImage(frame.Color)
	if err != nil {
		observability.WithError(s.logger, err).Debug("preview frame skipped")
		return
	}
	img = Scale(img, s.cfg.Scale)
	if s.cfg.Rotate {
		img = Rotate90(img, false)
	}

	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, img, s.cfg.JPEGQuality); err != nil {
		observability.WithError(s.logger, err).Warn("preview encode failed")
		return
	}

	u := Update{
		FrameNumber: frame.Number,
		Timestamp:   frame.Timestamp,
		JPEG:        buf.Bytes(),
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}
	if frame.Depth != nil {
		u.Depth, u.DepthWidth, u.DepthHeight = sampleDepth(frame.Depth, s.cfg.DepthStride)
	}
	s.encoded.Add(1)
	s.publish(u)
}

func sampleDepth(plane *models.PixelBuffer, stride int) ([]float32, int, int) {
	w := (plane.Width + stride - 1) / stride
	h := (plane.Height + stride - 1) / stride
	out := make([]float32, 0, w*h)
	for y := 0; y < plane.Height; y += stride {
		for x := 0; x < plane.Width; x += stride {
			v := plane.Float32At(x, y)
			if math.IsNaN(float64(v)) {
				v = -1
			}
			out = append(out, v)
		}
	}
	return out, w, h
}

// publish delivers u to every subscriber, replacing the oldest pending
// update of subscribers that have fallen behind.
func (s *Streamer) publish(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &u
	for ch := range s.subs {
		select {
		case ch <- u:
			continue
		default:
		}
		select {
		case <-ch:
			s.dropped.Add(1)
		default:
		}
		select {
		case ch <- u:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of updates and a function that ends the
// subscription. The channel is closed when the subscription ends.
func (s *Streamer) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, s.cfg.SubscriberBuffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

// Latest returns the most recent update, or nil.
func (s *Streamer) Latest() *Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Reset forgets the throttle state and the latest update between sessions.
func (s *Streamer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.primed = false
	s.latest = nil
}

// Stats returns streamer counters.
func (s *Streamer) Stats() Stats {
	s.mu.Lock()
	subs := len(s.subs)
	s.mu.Unlock()
	return Stats{
		Offered:     s.offered.Load(),
		Encoded:     s.encoded.Load(),
		Throttled:   s.throttled.Load(),
		Dropped:     s.dropped.Load(),
		Subscribers: subs,
	}
}

// Close stops rendering and closes every subscriber channel.
func (s *Streamer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.queue.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
}
