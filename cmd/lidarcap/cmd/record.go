package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/lidarcap/internal/manifest"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/sensor"
	"github.com/jmylchreest/lidarcap/internal/session"
)

var recordFlags struct {
	duration  time.Duration
	lidar     bool
	ar        bool
	goodEvery time.Duration
	noCatalog bool
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a single session without the HTTP server",
	Long: `Record one session from the synthetic sensor and exit.

The session runs for --duration or until interrupted. With --lidar the
curated streams are captured as well, and --good-every commits the most
recent frame window at a fixed interval, as a user tapping "good frame"
would.

Example:
  lidarcap record --duration 30s --lidar --good-every 2s`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)

	recordCmd.Flags().DurationVar(&recordFlags.duration, "duration", 10*time.Second, "Recording length")
	recordCmd.Flags().BoolVar(&recordFlags.lidar, "lidar", false, "Capture the curated depth, confidence and pose streams")
	recordCmd.Flags().BoolVar(&recordFlags.ar, "ar", true, "Record the audio-bearing auxiliary video")
	recordCmd.Flags().DurationVar(&recordFlags.goodEvery, "good-every", 0, "Commit a good frame at this interval (requires --lidar)")
	recordCmd.Flags().BoolVar(&recordFlags.noCatalog, "no-catalog", false, "Do not add the recording to the catalog")
	recordCmd.Flags().String("data-dir", "./data", "Base directory for recordings and device state")
	recordCmd.Flags().String("encoder", "ffmpeg", "Encoder kind (ffmpeg, null)")

	mustBindPFlag("encoder.kind", recordCmd.Flags().Lookup("encoder"))
}

// frameTap remembers the newest frame number before handing frames on.
type frameTap struct {
	next sensor.FrameSink
	last atomic.Uint64
	seen atomic.Bool
}

func (t *frameTap) OnFrame(f *models.Frame) {
	t.last.Store(f.Number)
	t.seen.Store(true)
	t.next.OnFrame(f)
}

func runRecord(cmd *cobra.Command, _ []string) error {
	if recordFlags.goodEvery > 0 && !recordFlags.lidar {
		return errors.New("--good-every requires --lidar")
	}
	// A headless run has nobody watching the preview.
	viper.Set("preview.enabled", false)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := openCatalog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cat.Close()

	device, err := manifest.ResolveDevice(ctx, cfg.Device, cat.base)
	if err != nil {
		return fmt.Errorf("resolving device identity: %w", err)
	}

	opts := session.Options{
		Config:     cfg,
		Recordings: cat.recordings,
		Device:     device,
		Logger:     logger,
	}
	if !recordFlags.noCatalog {
		opts.Catalog = cat.repo
	}
	coord, err := session.New(opts)
	if err != nil {
		return fmt.Errorf("creating session coordinator: %w", err)
	}
	defer coord.Close(context.Background())

	sensorCtx, stopSensor := context.WithCancel(context.Background())
	defer stopSensor()
	tap := &frameTap{next: coord}
	src := sensor.NewSynthetic(cfg.Sensor, cfg.Capture.TargetFPS, logger)
	sensorDone := make(chan error, 1)
	go func() { sensorDone <- src.Run(sensorCtx, tap, coord) }()

	id, err := coord.StartRecording(ctx, recordFlags.ar)
	if err != nil {
		stopSensor()
		<-sensorDone
		return fmt.Errorf("starting recording: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Recording %s for %s\n", id, recordFlags.duration)

	if recordFlags.lidar && !cfg.Capture.AutoLidar {
		offset, err := coord.StartLidarRecording(ctx)
		if err != nil {
			logger.Warn("starting curated capture failed", slog.String("error", err.Error()))
		} else {
			logger.Info("curated capture started", slog.Int64("offset_ms", offset))
		}
	}

	committed := captureLoop(ctx, coord, tap, logger)

	// Stopping must complete even after an interrupt.
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, stopErr := coord.StopRecording(stopCtx)
	stopSensor()
	<-sensorDone

	if res != nil {
		var size int64
		if res.Directory != "" {
			size, _ = cat.recordings.DirSize(filepath.Base(res.Directory))
		}
		printStopResult(cmd.OutOrStdout(), res, committed, size)
	}
	if stopErr != nil {
		return fmt.Errorf("stopping recording: %w", stopErr)
	}
	return nil
}

// captureLoop waits for the recording duration, committing good frames
// along the way. It returns the number of frames committed.
func captureLoop(ctx context.Context, coord *session.Coordinator, tap *frameTap, logger *slog.Logger) int {
	deadline := time.NewTimer(recordFlags.duration)
	defer deadline.Stop()

	var good <-chan time.Time
	if recordFlags.goodEvery > 0 {
		t := time.NewTicker(recordFlags.goodEvery)
		defer t.Stop()
		good = t.C
	}

	committed := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info("interrupted, stopping recording")
			return committed
		case <-deadline.C:
			return committed
		case <-good:
			if !tap.seen.Load() {
				continue
			}
			n, err := coord.RecordGoodFrame(ctx, tap.last.Load())
			if err != nil {
				logger.Warn("committing good frame failed", slog.String("error", err.Error()))
				continue
			}
			committed += n
		}
	}
}

func printStopResult(w io.Writer, res *session.StopResult, committed int, size int64) {
	fmt.Fprintf(w, "Recording:  %s\n", res.RecordingID)
	fmt.Fprintf(w, "Directory:  %s\n", res.Directory)
	fmt.Fprintf(w, "Status:     %s\n", res.Status)
	fmt.Fprintf(w, "Audio:      %t\n", res.HasAudio)
	if res.MergeErr != nil {
		fmt.Fprintf(w, "Merge:      %v\n", res.MergeErr)
	}
	if committed > 0 {
		fmt.Fprintf(w, "Committed:  %s frames\n", count(int64(committed)))
	}
	for _, m := range res.Missing {
		fmt.Fprintf(w, "Missing:    %s\n", m)
	}
	if len(res.Streams) > 0 {
		fmt.Fprintln(w, "Streams:")
		for _, s := range res.Streams {
			if s.FileName == "" {
				continue
			}
			fmt.Fprintf(w, "  %-16s %-22s %10s frames @ %d Hz\n",
				s.ID, s.FileName, count(int64(s.NumberOfFrames)), s.Frequency)
		}
	}
	if size > 0 {
		fmt.Fprintf(w, "Size:       %s\n", humanize.IBytes(uint64(size)))
	}
}
