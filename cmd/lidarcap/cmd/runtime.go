package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/database"
	"github.com/jmylchreest/lidarcap/internal/repository"
	"github.com/jmylchreest/lidarcap/internal/storage"
)

// catalog bundles the pieces every recording-aware command needs.
type catalog struct {
	db         *database.DB
	repo       repository.RecordingRepository
	base       *storage.Sandbox
	recordings *storage.Sandbox
}

// openCatalog opens and migrates the database and prepares the storage
// sandboxes. Callers must Close the result.
func openCatalog(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*catalog, error) {
	base, err := storage.NewSandbox(cfg.Storage.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	recordings, err := base.SubSandbox(cfg.Storage.RecordingsDir)
	if err != nil {
		return nil, fmt.Errorf("initializing recordings directory: %w", err)
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &catalog{
		db:         db,
		repo:       repository.NewRecordingRepository(db.DB),
		base:       base,
		recordings: recordings,
	}, nil
}

func (c *catalog) Close() error {
	return c.db.Close()
}
