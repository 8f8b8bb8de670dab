package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"

	"github.com/jmylchreest/lidarcap/internal/encoder"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/mux"
)

// TimestampMode selects how video presentation times are derived.
type TimestampMode int

const (
	// WallClock presents each frame at its capture time relative to the
	// first frame.
	WallClock TimestampMode = iota
	// IndexTimestamps presents frame i at i/TargetFPS, producing a gapless
	// clip from sparse frames.
	IndexTimestamps
)

// ErrEmptyVideo is returned by Finish when no frame was ever encoded.
// The output file is removed.
var ErrEmptyVideo = errors.New("no video frames encoded")

// VideoConfig configures a Video recorder.
type VideoConfig struct {
	// Stream is the manifest stream id, also used in logs.
	Stream string
	// Suffix is appended to the recording id to form the file name.
	Suffix    string
	Encoder   encoder.Factory
	Mode      TimestampMode
	TargetFPS int
	// Audio adds an AAC track fed through UpdateAudio.
	Audio            *mpeg4audio.AudioSpecificConfig
	RotationDegrees  int
	FragmentDuration time.Duration
}

// Video encodes color frames to H.264 and muxes them, with optional AAC,
// into a fragmented MP4.
type Video struct {
	lifecycle
	cfg VideoConfig

	file    *os.File
	muxer   *mux.Writer
	enc     encoder.Encoder
	start   time.Duration
	index   int
	format  encoder.Format
	started bool
}

// NewVideo creates a video recorder.
func NewVideo(cfg VideoConfig, opts Options) *Video {
	if cfg.TargetFPS <= 0 {
		cfg.TargetFPS = 30
	}
	v := &Video{cfg: cfg}
	v.setup(cfg.Stream, opts)
	return v
}

func (v *Video) Prepare(dir, recordingID string) error {
	return v.prepare(recordingID, func() (string, error) {
		path := filepath.Join(dir, recordingID+v.cfg.Suffix)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
		v.file = f
		v.muxer = mux.NewWriter(f, mux.WriterConfig{
			Logger:               v.logger,
			Audio:                v.cfg.Audio,
			FragmentDuration:     v.cfg.FragmentDuration,
			DefaultFrameDuration: time.Second / time.Duration(v.cfg.TargetFPS),
		})
		return path, nil
	})
}

// Update queues one color frame captured at ts. The buffer must not be
// modified afterwards.
func (v *Video) Update(pixels *models.PixelBuffer, ts time.Duration) {
	if pixels == nil {
		return
	}
	v.post(func() {
		if !v.started {
			if err := v.startEncoder(pixels, ts); err != nil {
				v.sampleFailed(err)
				return
			}
		}
		if !v.enc.Ready() {
			v.dropped.Add(1)
			return
		}

		pts := ts - v.start
		if v.cfg.Mode == IndexTimestamps {
			pts = time.Duration(v.index) * time.Second / time.Duration(v.cfg.TargetFPS)
		}
		if err := v.enc.Encode(pixels.Packed(), pts); err != nil {
			if errors.Is(err, encoder.ErrBackpressure) {
				v.dropped.Add(1)
				return
			}
			v.sampleFailed(err)
			return
		}
		v.index++
		v.written.Add(1)
	})
}

// UpdateAudio queues one raw AAC access unit captured at ts. Audio before
// the first video frame is discarded.
func (v *Video) UpdateAudio(au []byte, ts time.Duration) {
	if v.cfg.Audio == nil || len(au) == 0 {
		return
	}
	v.post(func() {
		if !v.started || v.cfg.Mode == IndexTimestamps || ts < v.start {
			return
		}
		if err := v.muxer.WriteAudio(ts-v.start, au); err != nil {
			v.sampleFailed(err)
		}
	})
}

func (v *Video) startEncoder(pixels *models.PixelBuffer, ts time.Duration) error {
	v.format = encoder.Format{
		Width:       pixels.Width,
		Height:      pixels.Height,
		PixelFormat: pixels.Format,
		FPS:         float64(v.cfg.TargetFPS),
	}
	enc := v.cfg.Encoder()
	if err := enc.Start(v.format, v.onAccessUnit); err != nil {
		return fmt.Errorf("starting encoder: %w", err)
	}
	v.mu.Lock()
	v.enc = enc
	v.mu.Unlock()
	v.start = ts
	v.started = true
	v.logger.Info("video encoding started",
		slog.Int("width", v.format.Width),
		slog.Int("height", v.format.Height),
		slog.String("pixel_format", v.format.PixelFormat.String()))
	return nil
}

// onAccessUnit runs on the encoder's output goroutine.
func (v *Video) onAccessUnit(pts time.Duration, au [][]byte) {
	if err := v.muxer.WriteVideo(pts, au); err != nil {
		v.sampleFailed(err)
	}
}

func (v *Video) Finish(ctx context.Context) error {
	return v.finish(ctx, func(context.Context) error {
		path := v.Path()

		var encErr error
		if v.enc != nil {
			encErr = v.enc.Close()
		}
		muxErr := v.muxer.Close()
		closeErr := v.file.Close()

		if errors.Is(muxErr, mux.ErrNoVideo) {
			os.Remove(path)
			return fmt.Errorf("%s: %w", v.name, ErrEmptyVideo)
		}
		if err := errors.Join(encErr, muxErr, closeErr); err != nil {
			return err
		}

		if err := mux.SetRotation(path, v.cfg.RotationDegrees); err != nil {
			return fmt.Errorf("setting rotation: %w", err)
		}

		stats := v.muxer.Stats()
		v.logger.Debug("video finalized",
			slog.String("path", path),
			slog.Int("video_samples", stats.VideoSamples),
			slog.Int("audio_samples", stats.AudioSamples),
			slog.Int("fragments", stats.Fragments),
			slog.Uint64("dropped", v.dropped.Load()))
		return nil
	})
}

// EncoderStats returns the encoder counters, zero before the first frame.
func (v *Video) EncoderStats() encoder.Stats {
	if enc := v.encoder(); enc != nil {
		return enc.Stats()
	}
	return encoder.Stats{}
}

func (v *Video) encoder() encoder.Encoder {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.enc
}
