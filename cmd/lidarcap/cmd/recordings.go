package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/manifest"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/repository"
	"github.com/jmylchreest/lidarcap/internal/scheduler"
	"github.com/jmylchreest/lidarcap/pkg/duration"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"rec"},
	Short:   "Inspect and manage cataloged recordings",
}

var recordingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recordings, newest first",
	RunE:  runRecordingsList,
}

var recordingsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the manifest of a recording",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordingsShow,
}

var recordingsRemoveCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a recording from disk and the catalog",
	Args:    cobra.ExactArgs(1),
	RunE:    runRecordingsRemove,
}

var recordingsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete recordings older than a given age",
	Long: `Delete every recording that ended longer than --older-than ago.

Ages accept Go durations and day, week and month units:
  lidarcap recordings purge --older-than 30d`,
	RunE: runRecordingsPurge,
}

var (
	listStatus     string
	listLimit      int
	purgeOlderThan string
)

func init() {
	rootCmd.AddCommand(recordingsCmd)
	recordingsCmd.AddCommand(recordingsListCmd, recordingsShowCmd, recordingsRemoveCmd, recordingsPurgeCmd)

	recordingsCmd.PersistentFlags().String("data-dir", "./data", "Base directory for recordings and device state")

	recordingsListCmd.Flags().StringVar(&listStatus, "status", "", "Only list recordings with this status (completed, partial, failed)")
	recordingsListCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum number of recordings")
	recordingsPurgeCmd.Flags().StringVar(&purgeOlderThan, "older-than", "", "Minimum age of purged recordings (required)")
	_ = recordingsPurgeCmd.MarkFlagRequired("older-than")
}

func withCatalog(cmd *cobra.Command, fn func(cfg *config.Config, cat *catalog) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cat, err := openCatalog(cmd.Context(), cfg, slog.Default())
	if err != nil {
		return err
	}
	defer cat.Close()
	return fn(cfg, cat)
}

func runRecordingsList(cmd *cobra.Command, _ []string) error {
	return withCatalog(cmd, func(_ *config.Config, cat *catalog) error {
		opts := repository.ListOptions{Status: models.RecordingStatus(listStatus), Limit: listLimit}
		recs, err := cat.repo.List(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("listing recordings: %w", err)
		}
		total, err := cat.repo.Count(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("counting recordings: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tENDED\tLENGTH\tFRAMES\tCURATED\tSIZE")
		for _, r := range recs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.Status, ago(r.EndedAt),
				duration.Format(r.Duration()),
				count(int64(r.TotalFrames)),
				count(int64(r.CuratedFrames)),
				humanize.IBytes(uint64(max(r.SizeBytes, 0))))
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s of %s recordings\n",
			count(int64(len(recs))), count(total))
		return nil
	})
}

func lookupRecording(cmd *cobra.Command, cat *catalog, raw string) (*models.Recording, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid recording id %q: %w", raw, err)
	}
	return cat.repo.GetByID(cmd.Context(), id)
}

func runRecordingsShow(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(_ *config.Config, cat *catalog) error {
		rec, err := lookupRecording(cmd, cat, args[0])
		if err != nil {
			return err
		}
		m, err := manifest.Read(filepath.Join(rec.Directory, manifest.FileName(rec.ID.String())))
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
}

func runRecordingsRemove(cmd *cobra.Command, args []string) error {
	return withCatalog(cmd, func(cfg *config.Config, cat *catalog) error {
		id, err := models.ParseULID(args[0])
		if err != nil {
			return fmt.Errorf("invalid recording id %q: %w", args[0], err)
		}
		freed, err := scheduler.NewRetentionScheduler(cfg.Retention, cat.repo, cat.recordings).
			WithLogger(slog.Default()).
			Remove(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s (%s freed)\n", id, humanize.IBytes(uint64(freed)))
		return nil
	})
}

func runRecordingsPurge(cmd *cobra.Command, _ []string) error {
	maxAge, err := duration.Parse(purgeOlderThan)
	if err != nil || maxAge <= 0 {
		return fmt.Errorf("--older-than must be a positive duration, got %q", purgeOlderThan)
	}
	return withCatalog(cmd, func(cfg *config.Config, cat *catalog) error {
		result, err := scheduler.NewRetentionScheduler(cfg.Retention, cat.repo, cat.recordings).
			WithLogger(slog.Default()).
			Purge(cmd.Context(), maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s recordings, freed %s",
			count(int64(result.Removed)), humanize.IBytes(uint64(result.FreedBytes)))
		if result.Failed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", %d failed", result.Failed)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	})
}
