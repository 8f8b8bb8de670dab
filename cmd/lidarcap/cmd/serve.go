package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/jmylchreest/lidarcap/internal/http"
	"github.com/jmylchreest/lidarcap/internal/http/handlers"
	"github.com/jmylchreest/lidarcap/internal/manifest"
	"github.com/jmylchreest/lidarcap/internal/observability"
	"github.com/jmylchreest/lidarcap/internal/scheduler"
	"github.com/jmylchreest/lidarcap/internal/sensor"
	"github.com/jmylchreest/lidarcap/internal/session"
	"github.com/jmylchreest/lidarcap/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lidarcap server",
	Long: `Start the capture pipeline and the HTTP control API.

The server provides:
- Session control (start/stop recording, curated capture, good frames)
- Live preview as MJPEG, a still JPEG and server-sent depth events
- The recording catalog with manifest lookup, deletion and purge
- Health checks and OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("database", "lidarcap.db", "Database DSN")
	serveCmd.Flags().String("data-dir", "./data", "Base directory for recordings and device state")
	serveCmd.Flags().Bool("retention", false, "Enable the scheduled retention purge")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("retention.enabled", serveCmd.Flags().Lookup("retention"))
}

func runServe(cmd *cobra.Command, _ []string) error {
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
	logger.Info("device resolved",
		slog.String("device_id", device.ID),
		slog.String("device_type", device.Type),
		slog.String("device_name", device.Name))

	coord, err := session.New(session.Options{
		Config:     cfg,
		Recordings: cat.recordings,
		Device:     device,
		Catalog:    cat.repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating session coordinator: %w", err)
	}

	retention := scheduler.NewRetentionScheduler(cfg.Retention, cat.repo, cat.recordings).WithLogger(logger)
	if err := retention.Start(ctx); err != nil {
		return fmt.Errorf("starting retention scheduler: %w", err)
	}
	defer retention.Stop()

	server := internalhttp.NewServer(cfg.Server, logger, version.Short())
	handlers.NewHealthHandler(version.Short()).
		WithDB(cat.db.DB).
		WithRecordingsPath(cat.recordings.BaseDir()).
		WithSessionState(func() string { return coord.State().String() }).
		Register(server.API())
	handlers.NewRecordingHandler(cat.repo, retention).Register(server.API())
	handlers.NewSessionHandler(coord).Register(server.API())
	handlers.NewPreviewHandler(coord.Preview(), logger).RegisterRoutes(server.Router())

	src := sensor.NewSynthetic(cfg.Sensor, cfg.Capture.TargetFPS, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return src.Run(gctx, coord, coord)
	})
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	runErr := g.Wait()

	// Finalize an active recording even though the request context is gone.
	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := coord.Close(closeCtx); err != nil && !errors.Is(err, session.ErrMissingOutput) {
		observability.WithError(logger, err).Error("finalizing active recording failed")
	}

	if runErr != nil {
		return fmt.Errorf("serving: %w", runErr)
	}
	logger.Info("lidarcap stopped")
	return nil
}
