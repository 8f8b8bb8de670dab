// Package migrations versions the recording catalog schema. Each step runs
// inside its own transaction together with its schema_migrations row, so a
// failed step leaves neither the schema change nor the bookkeeping behind.
package migrations

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Migration is one reversible schema step.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// appliedRow is the schema_migrations bookkeeping row.
type appliedRow struct {
	Version     string    `gorm:"primaryKey;size:32"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

func (appliedRow) TableName() string { return "schema_migrations" }

// State reports whether a known migration has been applied.
type State struct {
	Version     string     `json:"version"`
	Description string     `json:"description"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`
}

// Applied reports whether the migration has run.
func (s State) Applied() bool { return s.AppliedAt != nil }

// Migrator applies and reverts a fixed, version-ordered migration set.
type Migrator struct {
	db     *gorm.DB
	logger *slog.Logger
	steps  []Migration
}

// NewMigrator returns a Migrator over steps, ordered by version.
func NewMigrator(db *gorm.DB, logger *slog.Logger, steps ...Migration) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	ordered := slices.Clone(steps)
	slices.SortFunc(ordered, func(a, b Migration) int {
		return strings.Compare(a.Version, b.Version)
	})
	return &Migrator{db: db, logger: logger.With(slog.String("component", "migrations")), steps: ordered}
}

// Up applies every migration that has no bookkeeping row and returns how many
// ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	ran := 0
	for _, step := range m.steps {
		if _, ok := applied[step.Version]; ok {
			continue
		}
		started := time.Now()
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx); err != nil {
				return err
			}
			return tx.Create(&appliedRow{
				Version:     step.Version,
				Description: step.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return ran, fmt.Errorf("applying migration %s (%s): %w", step.Version, step.Description, err)
		}
		ran++
		m.logger.InfoContext(ctx, "migration applied",
			slog.String("version", step.Version),
			slog.String("description", step.Description),
			slog.Duration("took", time.Since(started)))
	}
	return ran, nil
}

// Rollback reverts up to n of the most recently applied migrations, newest
// first, and returns the reverted versions. n <= 0 reverts nothing.
func (m *Migrator) Rollback(ctx context.Context, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	var reverted []string
	for i := len(m.steps) - 1; i >= 0 && len(reverted) < n; i-- {
		step := m.steps[i]
		if _, ok := applied[step.Version]; !ok {
			continue
		}
		if step.Down == nil {
			return reverted, fmt.Errorf("migration %s cannot be rolled back", step.Version)
		}
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := step.Down(tx); err != nil {
				return err
			}
			return tx.Delete(&appliedRow{}, "version = ?", step.Version).Error
		})
		if err != nil {
			return reverted, fmt.Errorf("reverting migration %s: %w", step.Version, err)
		}
		reverted = append(reverted, step.Version)
		m.logger.InfoContext(ctx, "migration reverted", slog.String("version", step.Version))
	}
	return reverted, nil
}

// Status lists every known migration in version order.
func (m *Migrator) Status(ctx context.Context) ([]State, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]State, 0, len(m.steps))
	for _, step := range m.steps {
		st := State{Version: step.Version, Description: step.Description}
		if at, ok := applied[step.Version]; ok {
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

// applied creates the bookkeeping table on first use and returns the applied
// versions with their timestamps.
func (m *Migrator) applied(ctx context.Context) (map[string]time.Time, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&appliedRow{}); err != nil {
		return nil, fmt.Errorf("creating schema_migrations: %w", err)
	}
	var rows []appliedRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reading schema_migrations: %w", err)
	}
	out := make(map[string]time.Time, len(rows))
	for _, r := range rows {
		out[r.Version] = r.AppliedAt
	}
	return out, nil
}
