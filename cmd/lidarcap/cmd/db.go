package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/lidarcap/internal/database"
	"github.com/jmylchreest/lidarcap/internal/database/migrations"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect and migrate the recording catalog schema",
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending catalog migrations",
	RunE:  runDBStatus,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending catalog migrations",
	RunE:  runDBMigrate,
}

var dbRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Revert the most recently applied catalog migrations",
	RunE:  runDBRollback,
}

var rollbackSteps int

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbStatusCmd, dbMigrateCmd, dbRollbackCmd)

	dbCmd.PersistentFlags().String("database", "lidarcap.db", "Database DSN")
	dbRollbackCmd.Flags().IntVar(&rollbackSteps, "steps", 1, "Number of migrations to revert")
}

// withMigrator opens the catalog database without migrating it.
func withMigrator(cmd *cobra.Command, fn func(m *migrations.Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := database.New(cfg.Database, slog.Default(), nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()
	return fn(db.SchemaMigrator())
}

func runDBStatus(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m *migrations.Migrator) error {
		states, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		return printMigrationStatus(cmd.OutOrStdout(), states)
	})
}

func runDBMigrate(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m *migrations.Migrator) error {
		ran, err := m.Up(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migrations\n", ran)
		return nil
	})
}

func runDBRollback(cmd *cobra.Command, _ []string) error {
	if rollbackSteps < 1 {
		return fmt.Errorf("--steps must be at least 1, got %d", rollbackSteps)
	}
	return withMigrator(cmd, func(m *migrations.Migrator) error {
		reverted, err := m.Rollback(cmd.Context(), rollbackSteps)
		for _, v := range reverted {
			fmt.Fprintf(cmd.OutOrStdout(), "Reverted %s\n", v)
		}
		if err != nil {
			return err
		}
		if len(reverted) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to roll back")
		}
		return nil
	})
}

func printMigrationStatus(out io.Writer, states []migrations.State) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tDESCRIPTION\tAPPLIED")
	pending := 0
	for _, s := range states {
		applied := "pending"
		if s.Applied() {
			applied = humanize.Time(*s.AppliedAt)
		} else {
			pending++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Description, applied)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d pending\n", pending)
	return nil
}
