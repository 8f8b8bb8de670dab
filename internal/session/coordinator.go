// Package session coordinates a recording session: it routes sensor frames
// to the frame pool, the live preview and the stream recorders, curates
// "good" frames on request, and on stop finalizes, merges and catalogs the
// outputs.
//
// Frame handling is serialized on a single frame queue which owns the
// active session and the most recent frame. Control operations (start,
// stop, curated capture) are serialized with respect to each other and
// attach to the frame queue through synchronous tasks, so a frame is
// either fully routed to a session or not at all.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/lidarcap/internal/compress"
	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/encoder"
	"github.com/jmylchreest/lidarcap/internal/framepool"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/observability"
	"github.com/jmylchreest/lidarcap/internal/preview"
	"github.com/jmylchreest/lidarcap/internal/recorder"
	"github.com/jmylchreest/lidarcap/internal/storage"
	"github.com/jmylchreest/lidarcap/internal/worker"
)

// State is the coordinator state.
type State int32

// Coordinator states.
const (
	StateIdle State = iota
	StateCapturing
	StateCurating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateCurating:
		return "curating"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Coordinator errors.
var (
	ErrResourceUnavailable = errors.New("recording resources unavailable")
	ErrAlreadyCapturing    = errors.New("recording already in progress")
	ErrNotCapturing        = errors.New("no recording in progress")
	ErrAlreadyCurating     = errors.New("curated capture already started")
	ErrNotCurating         = errors.New("curated capture not active")
	ErrMissingOutput       = errors.New("expected recording output missing")
)

// Catalog persists finished recordings.
type Catalog interface {
	Create(ctx context.Context, rec *models.Recording) error
}

// Options configures a Coordinator.
type Options struct {
	Config *config.Config
	// Recordings is the sandbox every session directory is created in.
	Recordings *storage.Sandbox
	Device     models.DeviceInfo
	// Encoder overrides the configured encoder factory.
	Encoder encoder.Factory
	// Catalog is optional; without it finished recordings are only written
	// to disk.
	Catalog Catalog
	// ResourceCheck runs before a session starts, after the storage checks.
	// Defaults to EncoderCheck for the configured encoder.
	ResourceCheck func(ctx context.Context) error
	Logger        *slog.Logger
}

// Coordinator owns the frame pool, the preview streamer and at most one
// active recording session.
type Coordinator struct {
	cfg        *config.Config
	recordings *storage.Sandbox
	device     models.DeviceInfo
	newEncoder encoder.Factory
	codec      compress.Codec
	catalog    Catalog
	check      func(ctx context.Context) error
	logger     *slog.Logger

	pool    *framepool.Pool
	preview *preview.Streamer
	frames  *worker.Serial

	// owned by the frame queue
	active *session
	latest *models.Frame

	// ctl serializes control operations; sess is only touched under it.
	ctl  sync.Mutex
	sess *session

	current atomic.Pointer[session]
	state   atomic.Int32
	dropped atomic.Uint64
}

// New creates a coordinator. It does not start capturing.
func New(opts Options) (*Coordinator, error) {
	if opts.Config == nil {
		return nil, errors.New("session: config is required")
	}
	if opts.Recordings == nil {
		return nil, errors.New("session: recordings sandbox is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "session")
	cfg := opts.Config

	factory := opts.Encoder
	if factory == nil {
		f, err := encoder.NewFactory(cfg.Encoder, logger)
		if err != nil {
			return nil, err
		}
		factory = f
	}
	codec, err := compress.Lookup(cfg.Compression.Codec, cfg.Compression.Level)
	if err != nil {
		return nil, err
	}
	check := opts.ResourceCheck
	if check == nil {
		check = EncoderCheck(cfg.Encoder)
	}

	return &Coordinator{
		cfg:        cfg,
		recordings: opts.Recordings,
		device:     opts.Device,
		newEncoder: factory,
		codec:      codec,
		catalog:    opts.Catalog,
		check:      check,
		logger:     logger,
		pool:       framepool.New(framepool.Config{Capacity: cfg.Capture.PoolCapacity}),
		preview:    preview.NewStreamer(cfg.Preview, logger),
		frames:     worker.NewSerial("frames", cfg.Capture.FrameQueueDepth, logger),
	}, nil
}

// State returns the current coordinator state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Preview returns the live preview streamer.
func (c *Coordinator) Preview() *preview.Streamer {
	return c.preview
}

// OnFrame accepts a frame from the sensor. The frame is copied, so the
// caller may reuse its buffers. It never blocks; when the frame queue is
// full the frame is dropped and counted.
func (c *Coordinator) OnFrame(frame *models.Frame) {
	if frame == nil || frame.Color == nil {
		return
	}
	f := frame.Clone()
	if !c.frames.TryPost(func() { c.route(f) }) {
		c.dropped.Add(1)
		if s := c.current.Load(); s != nil {
			s.dropped.Add(1)
		}
	}
}

// route runs on the frame queue.
func (c *Coordinator) route(f *models.Frame) {
	c.pool.Store(f)
	c.latest = f
	c.preview.Offer(f)

	s := c.active
	if s == nil {
		return
	}
	if !s.started {
		s.started = true
		s.videoStart = f.Timestamp
		s.snapshot(f)
	}
	s.lastTimestamp = f.Timestamp
	s.full.Update(f.Color, f.Timestamp)
	if s.aux != nil {
		s.aux.Update(f.Color, f.Timestamp)
	}
	s.totalFrames.Add(1)
}

// OnAudio accepts one AAC access unit captured at ts. Audio reaches the
// auxiliary video, and the full video when configured to carry audio.
func (c *Coordinator) OnAudio(au []byte, ts time.Duration) {
	s := c.current.Load()
	if s == nil || len(au) == 0 {
		return
	}
	buf := append([]byte(nil), au...)
	if s.aux != nil {
		s.aux.UpdateAudio(buf, ts)
	}
	if s.fullAudio {
		s.full.UpdateAudio(buf, ts)
	}
}

// Close stops any active recording and shuts the frame and preview queues
// down.
func (c *Coordinator) Close(ctx context.Context) error {
	var err error
	if c.State() != StateIdle {
		_, err = c.StopRecording(ctx)
	}
	c.frames.Close()
	c.preview.Close()
	return err
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	State         string           `json:"state"`
	RecordingID   string           `json:"recording_id,omitempty"`
	Directory     string           `json:"directory,omitempty"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	TotalFrames   uint64           `json:"total_frames"`
	CuratedFrames uint64           `json:"curated_frames"`
	DroppedFrames uint64           `json:"dropped_frames"`
	Pool          framepool.Stats  `json:"pool"`
	FrameQueue    worker.Stats     `json:"frame_queue"`
	Preview       preview.Stats    `json:"preview"`
	Recorders     []recorder.Stats `json:"recorders,omitempty"`
}

// Status returns the current coordinator status. It never blocks on the
// frame queue.
func (c *Coordinator) Status() Status {
	st := Status{
		State:         c.State().String(),
		DroppedFrames: c.dropped.Load(),
		Pool:          c.pool.Stats(),
		FrameQueue:    c.frames.Stats(),
		Preview:       c.preview.Stats(),
	}
	s := c.current.Load()
	if s == nil {
		return st
	}
	started := s.startedAt
	st.RecordingID = s.id
	st.Directory = s.dir
	st.StartedAt = &started
	st.TotalFrames = s.totalFrames.Load()
	st.CuratedFrames = s.curatedFrames.Load()
	st.DroppedFrames = s.dropped.Load()
	st.Recorders = s.recorderStats()
	return st
}
