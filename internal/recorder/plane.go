package recorder

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmylchreest/lidarcap/internal/compress"
	"github.com/jmylchreest/lidarcap/internal/models"
)

// planeRecorder appends fixed-format planes to a raw file and compresses
// it on finish. Depth and Confidence differ only in how a plane is
// serialized.
type planeRecorder struct {
	lifecycle

	ext    string
	codec  compress.Codec
	encode func(dst []byte, plane *models.PixelBuffer) []byte

	rawPath string
	file    *os.File
	w       *bufio.Writer
	scratch []byte
}

func (r *planeRecorder) Prepare(dir, recordingID string) error {
	return r.prepare(recordingID, func() (string, error) {
		r.rawPath = filepath.Join(dir, recordingID+"."+r.ext)
		f, err := os.OpenFile(r.rawPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", r.rawPath, err)
		}
		r.file = f
		r.w = bufio.NewWriterSize(f, 256*1024)
		return r.rawPath + "." + r.codec.Extension(), nil
	})
}

// Update queues one plane. The plane must not be modified afterwards.
func (r *planeRecorder) Update(plane *models.PixelBuffer) {
	if plane == nil {
		return
	}
	r.post(func() {
		r.scratch = r.encode(r.scratch[:0], plane)
		if _, err := r.w.Write(r.scratch); err != nil {
			r.sampleFailed(err)
			return
		}
		r.written.Add(1)
	})
}

func (r *planeRecorder) Finish(ctx context.Context) error {
	return r.finish(ctx, func(ctx context.Context) error {
		if err := r.w.Flush(); err != nil {
			r.file.Close()
			return fmt.Errorf("flushing %s: %w", r.rawPath, err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", r.rawPath, err)
		}

		res, err := compress.File(ctx, r.codec, r.rawPath, r.Path())
		if err != nil {
			return err
		}
		if err := os.Remove(r.rawPath); err != nil {
			return fmt.Errorf("removing %s: %w", r.rawPath, err)
		}
		r.logger.Debug("stream compressed",
			slog.String("path", res.Path),
			slog.Int64("in_bytes", res.InBytes),
			slog.Int64("out_bytes", res.OutBytes),
			slog.Uint64("frames", r.written.Load()))
		return nil
	})
}

// Depth records float32 depth planes as compressed float16.
type Depth struct {
	planeRecorder
}

// NewDepth creates a depth recorder compressing with codec.
func NewDepth(codec compress.Codec, opts Options) *Depth {
	d := &Depth{planeRecorder{ext: models.ExtDepth, codec: codec, encode: AppendDepth}}
	d.setup(models.StreamDepth, opts)
	return d
}

// Confidence records uint8 confidence planes, compressed.
type Confidence struct {
	planeRecorder
}

// NewConfidence creates a confidence recorder compressing with codec.
func NewConfidence(codec compress.Codec, opts Options) *Confidence {
	c := &Confidence{planeRecorder{ext: models.ExtConfidence, codec: codec, encode: appendPacked}}
	c.setup(models.StreamConfidence, opts)
	return c
}

func appendPacked(dst []byte, plane *models.PixelBuffer) []byte {
	return append(dst, plane.Packed()...)
}
