// Package sensor provides a synthetic frame source used by the record and
// serve commands when no hardware sensor is attached.
package sensor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/observability"
)

// SilentAACFrame is one raw AAC-LC access unit that decodes to 1024
// samples of mono silence.
var SilentAACFrame = []byte{0x21, 0x00, 0x49, 0x90, 0x02, 0x19, 0x00, 0x23, 0x80}

// AudioSampleRate is the rate the synthetic microphone runs at.
const AudioSampleRate = 48000

const samplesPerAAC = 1024

// FrameSink receives frames. The frame and its buffers are only valid for
// the duration of the call.
type FrameSink interface {
	OnFrame(frame *models.Frame)
}

// AudioSink receives AAC access units.
type AudioSink interface {
	OnAudio(au []byte, ts time.Duration)
}

// Synthetic generates a moving color gradient, a depth ramp with invalid
// holes, a confidence plane and an orbiting pose. It reuses one set of
// buffers for every frame.
type Synthetic struct {
	cfg    config.SensorConfig
	fps    int
	logger *slog.Logger

	frame      models.Frame
	audioClock time.Duration
}

// NewSynthetic creates a synthetic sensor producing fps frames per second.
func NewSynthetic(cfg config.SensorConfig, fps int, logger *slog.Logger) *Synthetic {
	if logger == nil {
		logger = slog.Default()
	}
	if fps <= 0 {
		fps = 30
	}
	s := &Synthetic{
		cfg:    cfg,
		fps:    fps,
		logger: observability.WithComponent(logger, "sensor"),
	}
	s.frame.Color = models.NewPixelBuffer(cfg.Width, cfg.Height, models.PixelFormatRGBA)
	if cfg.DepthWidth > 0 && cfg.DepthHeight > 0 {
		s.frame.Depth = models.NewPixelBuffer(cfg.DepthWidth, cfg.DepthHeight, models.PixelFormatDepthFloat32)
		s.frame.Confidence = models.NewPixelBuffer(cfg.DepthWidth, cfg.DepthHeight, models.PixelFormatGray8)
	}
	return s
}

// FrameInterval returns the time between frames.
func (s *Synthetic) FrameInterval() time.Duration {
	return time.Second / time.Duration(s.fps)
}

// Next fills the shared buffers for frame n at ts and returns them.
func (s *Synthetic) Next(n uint64, ts time.Duration) *models.Frame {
	f := &s.frame
	f.Number = n
	f.Timestamp = ts

	fillGradient(f.Color, n)
	if f.Depth != nil {
		fillDepth(f.Depth, f.Confidence, n)
	}
	f.Pose = s.pose(ts)
	return f
}

// Run emits frames, and audio when configured, until ctx is done. Audio
// access units are interleaved so the audio clock never trails the frame
// clock by more than one access unit.
func (s *Synthetic) Run(ctx context.Context, frames FrameSink, audio AudioSink) error {
	interval := s.FrameInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	s.logger.Info("synthetic sensor started",
		slog.Int("width", s.cfg.Width),
		slog.Int("height", s.cfg.Height),
		slog.Int("fps", s.fps),
		slog.Bool("audio", s.cfg.Audio && audio != nil))

	var n uint64
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synthetic sensor stopped", slog.Uint64("frames", n))
			return nil
		case now := <-ticker.C:
			ts := now.Sub(start)
			frames.OnFrame(s.Next(n, ts))
			n++
			if s.cfg.Audio && audio != nil {
				s.emitAudio(audio, ts)
			}
		}
	}
}

func (s *Synthetic) emitAudio(sink AudioSink, until time.Duration) {
	step := time.Duration(samplesPerAAC) * time.Second / AudioSampleRate
	for s.audioClock <= until {
		sink.OnAudio(SilentAACFrame, s.audioClock)
		s.audioClock += step
	}
}

func (s *Synthetic) pose(ts time.Duration) models.PoseInfo {
	w, h := float32(s.cfg.Width), float32(s.cfg.Height)
	angle := float32(ts.Seconds() * 0.5)
	sin, cos := float32(math.Sin(float64(angle))), float32(math.Cos(float64(angle)))

	var p models.PoseInfo
	p.Timestamp = ts
	p.ExposureDuration = 8 * time.Millisecond
	p.Intrinsics[0][0] = w
	p.Intrinsics[1][1] = w
	p.Intrinsics[2][0] = w / 2
	p.Intrinsics[2][1] = h / 2
	p.Intrinsics[2][2] = 1

	// rotation about the y axis plus a slow orbit
	p.Transform[0] = [4]float32{cos, 0, -sin, 0}
	p.Transform[1] = [4]float32{0, 1, 0, 0}
	p.Transform[2] = [4]float32{sin, 0, cos, 0}
	p.Transform[3] = [4]float32{sin * 0.5, 0, cos * 0.5, 1}
	p.EulerAngles = [3]float32{0, angle, 0}
	return p
}

func fillGradient(pb *models.PixelBuffer, n uint64) {
	shift := int(n % 256)
	for y := 0; y < pb.Height; y++ {
		row := pb.Data[y*pb.Stride:]
		g := byte(y * 255 / max(pb.Height-1, 1))
		for x := 0; x < pb.Width; x++ {
			i := x * 4
			row[i] = byte((x + shift) % 256)
			row[i+1] = g
			row[i+2] = byte(shift)
			row[i+3] = 0xff
		}
	}
}

// fillDepth writes a ramp from 0.5m to 5m and punches a NaN hole that
// moves across the plane, with zero confidence inside the hole.
func fillDepth(depth, conf *models.PixelBuffer, n uint64) {
	holeX := int(n) % depth.Width
	holeR := max(depth.Width/16, 1)
	for y := 0; y < depth.Height; y++ {
		for x := 0; x < depth.Width; x++ {
			dx, dy := x-holeX, y-depth.Height/2
			if dx*dx+dy*dy <= holeR*holeR {
				depth.SetFloat32(x, y, float32(math.NaN()))
				conf.Data[y*conf.Stride+x] = 0
				continue
			}
			v := 0.5 + 4.5*float32(x)/float32(max(depth.Width-1, 1))
			depth.SetFloat32(x, y, v)
			conf.Data[y*conf.Stride+x] = byte(2 - min(2, (x*3)/max(depth.Width, 1)))
		}
	}
}
