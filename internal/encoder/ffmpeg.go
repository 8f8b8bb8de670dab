package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/ffmpeg"
	"github.com/jmylchreest/lidarcap/internal/observability"
)

type queuedFrame struct {
	data []byte
	pts  time.Duration
}

// FFmpeg encodes frames by piping raw video through an ffmpeg process
// running libx264 with B-frames disabled, so output order equals input
// order and each access unit maps to the oldest pending timestamp.
type FFmpeg struct {
	cfg    config.EncoderConfig
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	format  Format
	input   chan queuedFrame
	pending []time.Duration

	cmd    *ffmpeg.Command
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	framesIn     atomic.Uint64
	accessUnits  atomic.Uint64
	backpressure atomic.Uint64
}

// NewFFmpeg creates an ffmpeg-backed encoder.
func NewFFmpeg(cfg config.EncoderConfig, logger *slog.Logger) *FFmpeg {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 8
	}
	if cfg.Codec == "" {
		cfg.Codec = "libx264"
	}
	return &FFmpeg{
		cfg:    cfg,
		logger: observability.WithComponent(logger, "encoder"),
	}
}

// Args returns the ffmpeg arguments used for format.
func (e *FFmpeg) Args(binary string, format Format) ([]string, error) {
	cmd, err := e.command(binary, format)
	if err != nil {
		return nil, err
	}
	return cmd.Args, nil
}

func (e *FFmpeg) command(binary string, format Format) (*ffmpeg.Command, error) {
	pixFmt, err := pixFmtName(format.PixelFormat)
	if err != nil {
		return nil, err
	}
	gop := e.cfg.GOP
	if gop <= 0 {
		gop = int(format.FPS)
	}
	return ffmpeg.NewCommandBuilder(binary).
		HideBanner().
		RawVideoInput(pixFmt, format.Width, format.Height, format.FPS).
		Input("pipe:0").
		OutputArgs("-an").
		VideoCodec(e.cfg.Codec).
		VideoPreset(e.cfg.Preset).
		VideoBitrate(e.cfg.Bitrate).
		OutputArgs(
			"-tune", "zerolatency",
			"-bf", "0",
			"-g", strconv.Itoa(gop),
			"-pix_fmt", "yuv420p",
			"-bsf:v", "h264_metadata=aud=insert",
			"-f", "h264",
		).
		Output("pipe:1").
		Build(), nil
}

// Start launches the ffmpeg process.
func (e *FFmpeg) Start(format Format, onAU AccessUnitFunc) error {
	if err := format.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("encoder already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	info, err := ffmpeg.NewBinaryDetector(e.cfg.BinaryPath).Detect(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("locating ffmpeg: %w", err)
	}
	if len(info.Encoders) > 0 && !info.HasEncoder(e.cfg.Codec) {
		cancel()
		return fmt.Errorf("ffmpeg %s lacks encoder %s", info.Version, e.cfg.Codec)
	}

	cmd, err := e.command(info.Path, format)
	if err != nil {
		cancel()
		return err
	}
	stdin, stdout, err := cmd.StartPiped(ctx)
	if err != nil {
		cancel()
		return err
	}

	e.format = format
	e.cmd = cmd
	e.cancel = cancel
	e.input = make(chan queuedFrame, e.cfg.QueueDepth)
	e.done = make(chan struct{})
	e.started = true

	e.logger.Debug("encoder started",
		slog.String("command", cmd.String()),
		slog.String("ffmpeg_version", info.Version))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.feed(stdin)
	}()
	go func() {
		defer wg.Done()
		e.drain(stdout, onAU)
	}()
	go func() {
		wg.Wait()
		waitErr := cmd.Wait()
		e.mu.Lock()
		if e.err == nil && waitErr != nil {
			e.err = fmt.Errorf("ffmpeg exited: %w", waitErr)
		}
		e.mu.Unlock()
		close(e.done)
	}()
	return nil
}

// Ready reports whether the input queue has room.
func (e *FFmpeg) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started && !e.closed && len(e.input) < cap(e.input)
}

// Encode queues a frame without blocking.
func (e *FFmpeg) Encode(frame []byte, pts time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case !e.started:
		return ErrNotStarted
	case e.closed:
		return ErrClosed
	case len(frame) != e.format.FrameSize():
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), e.format.FrameSize())
	}

	select {
	case e.input <- queuedFrame{data: frame, pts: pts}:
		e.pending = append(e.pending, pts)
		e.framesIn.Add(1)
		return nil
	default:
		e.backpressure.Add(1)
		return ErrBackpressure
	}
}

// Close stops accepting frames and waits for ffmpeg to flush.
func (e *FFmpeg) Close() error {
	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.input)
	done := e.done
	e.mu.Unlock()

	<-done
	e.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Debug("encoder closed",
		slog.Uint64("frames_in", e.framesIn.Load()),
		slog.Uint64("access_units", e.accessUnits.Load()))
	return e.err
}

// Stats returns encoder counters.
func (e *FFmpeg) Stats() Stats {
	return Stats{
		FramesIn:     e.framesIn.Load(),
		AccessUnits:  e.accessUnits.Load(),
		Backpressure: e.backpressure.Load(),
	}
}

func (e *FFmpeg) feed(stdin io.WriteCloser) {
	defer stdin.Close()
	for f := range e.input {
		if _, err := stdin.Write(f.data); err != nil {
			e.fail(fmt.Errorf("writing frame: %w", err))
			// Keep draining so Close never blocks on a full channel.
			for range e.input {
			}
			return
		}
	}
}

func (e *FFmpeg) drain(stdout io.Reader, onAU AccessUnitFunc) {
	var splitter auSplitter
	buf := make([]byte, 64*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			for _, raw := range splitter.Write(buf[:n]) {
				e.deliver(raw, onAU)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				e.fail(fmt.Errorf("reading encoder output: %w", err))
			}
			break
		}
	}
	if raw := splitter.Flush(); raw != nil {
		e.deliver(raw, onAU)
	}
}

func (e *FFmpeg) deliver(raw []byte, onAU AccessUnitFunc) {
	au, err := parseAccessUnit(raw)
	if err != nil {
		observability.WithError(e.logger, err).Warn("discarding malformed access unit")
		return
	}

	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		e.logger.Warn("encoder produced more access units than frames")
		return
	}
	pts := e.pending[0]
	e.pending = e.pending[1:]
	e.mu.Unlock()

	e.accessUnits.Add(1)
	if onAU != nil {
		onAU(pts, au)
	}
}

func (e *FFmpeg) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err == nil {
		e.err = err
	}
	observability.WithError(e.logger, err).Error("encoder failed")
}
