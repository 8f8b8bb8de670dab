package session

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/encoder"
	"github.com/jmylchreest/lidarcap/internal/ffmpeg"
)

// checkResources verifies the recordings volume and the encoder before a
// session starts.
func (c *Coordinator) checkResources(ctx context.Context) error {
	if err := c.recordings.CheckWritable(); err != nil {
		return err
	}
	if minFree := c.cfg.Storage.MinFreeSpace.Bytes(); minFree > 0 {
		free, err := c.recordings.FreeSpace(ctx)
		if err != nil {
			return err
		}
		if free < uint64(minFree) {
			return fmt.Errorf("%s free on recordings volume, %s required",
				humanize.IBytes(free), humanize.IBytes(uint64(minFree)))
		}
	}
	return c.check(ctx)
}

// EncoderCheck returns a check that the configured encoder can run. The
// null encoder always passes; ffmpeg must be installed and provide the
// configured codec.
func EncoderCheck(cfg config.EncoderConfig) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if cfg.Kind == encoder.KindNull {
			return nil
		}
		info, err := ffmpeg.NewBinaryDetector(cfg.BinaryPath).Detect(ctx)
		if err != nil {
			return err
		}
		if cfg.Codec != "" && !info.HasEncoder(cfg.Codec) {
			return fmt.Errorf("ffmpeg %s has no %s encoder", info.Version, cfg.Codec)
		}
		return nil
	}
}
