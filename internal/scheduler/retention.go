// Package scheduler runs the recording retention purge on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/observability"
	"github.com/jmylchreest/lidarcap/internal/repository"
	"github.com/jmylchreest/lidarcap/internal/storage"
)

// ErrAlreadyStarted is returned by Start on a running scheduler.
var ErrAlreadyStarted = errors.New("retention scheduler already started")

// parser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @daily.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// PurgeResult summarizes one purge run.
type PurgeResult struct {
	Removed    int           `json:"removed"`
	FreedBytes int64         `json:"freed_bytes"`
	Failed     int           `json:"failed"`
	Cutoff     time.Time     `json:"cutoff"`
	Duration   time.Duration `json:"duration"`
}

// RetentionScheduler deletes recordings, catalog rows and directories,
// that ended longer than max_age ago.
type RetentionScheduler struct {
	mu sync.Mutex

	cfg     config.RetentionConfig
	repo    repository.RecordingRepository
	storage *storage.Sandbox
	logger  *slog.Logger
	now     func() time.Time

	cron *cron.Cron
	last *PurgeResult
}

// NewRetentionScheduler creates a scheduler purging recordings below
// recordings.
func NewRetentionScheduler(cfg config.RetentionConfig, repo repository.RecordingRepository, recordings *storage.Sandbox) *RetentionScheduler {
	return &RetentionScheduler{
		cfg:     cfg,
		repo:    repo,
		storage: recordings,
		logger:  slog.Default(),
		now:     time.Now,
	}
}

// WithLogger sets a custom logger.
func (s *RetentionScheduler) WithLogger(logger *slog.Logger) *RetentionScheduler {
	s.logger = observability.WithComponent(logger, "retention")
	return s
}

// Start schedules the purge. It is a no-op when retention is disabled.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.logger.Debug("retention disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Purge(ctx, s.cfg.MaxAge); err != nil {
			observability.WithError(s.logger, err).Error("retention purge failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c

	next := c.Entries()[0].Next
	s.logger.Info("retention scheduler started",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("max_age", s.cfg.MaxAge),
		slog.Time("next_run", next),
		slog.String("next_run_in", humanize.Time(next)))
	return nil
}

// Stop stops scheduling and waits for a running purge to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("retention scheduler stopped")
}

// Purge removes every recording that ended more than maxAge ago. A
// recording whose directory cannot be removed keeps its catalog row so a
// later run retries it.
func (s *RetentionScheduler) Purge(ctx context.Context, maxAge time.Duration) (result PurgeResult, err error) {
	done := observability.TimedOperationWithError(ctx, s.logger, "retention purge", &err)
	defer done()

	start := s.now()
	result.Cutoff = start.Add(-maxAge)

	recs, err := s.repo.ListOlderThan(ctx, result.Cutoff)
	if err != nil {
		return result, err
	}

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		freed, err := s.removeRecording(ctx, rec)
		if err != nil {
			result.Failed++
			observability.WithError(observability.WithRecordingID(s.logger, rec.ID.String()), err).
				Warn("failed to purge recording")
			continue
		}
		result.Removed++
		result.FreedBytes += freed
	}

	result.Duration = s.now().Sub(start)
	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()

	s.logger.Info("retention purge complete",
		slog.Int("removed", result.Removed),
		slog.Int("failed", result.Failed),
		slog.Int64("freed_bytes", result.FreedBytes))
	return result, nil
}

// Remove deletes one recording's directory and catalog row and returns
// the bytes freed.
func (s *RetentionScheduler) Remove(ctx context.Context, id models.ULID) (int64, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.removeRecording(ctx, rec)
}

func (s *RetentionScheduler) removeRecording(ctx context.Context, rec *models.Recording) (int64, error) {
	var freed int64
	if rec.Directory != "" && s.storage.Contains(rec.Directory) {
		rel, err := filepath.Rel(s.storage.BaseDir(), rec.Directory)
		if err != nil {
			return 0, err
		}
		if size, err := s.storage.DirSize(rel); err == nil {
			freed = size
		}
		if err := s.storage.RemoveAll(rel); err != nil {
			return 0, err
		}
	} else if rec.Directory != "" {
		s.logger.Warn("recording directory outside storage, keeping files",
			slog.String("directory", rec.Directory))
	}

	if err := s.repo.Delete(ctx, rec.ID); err != nil && !errors.Is(err, models.ErrRecordingNotFound) {
		return freed, err
	}
	return freed, nil
}

// LastRun returns the result of the most recent purge, or nil.
func (s *RetentionScheduler) LastRun() *PurgeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// ValidateCron validates a cron expression.
func ValidateCron(expr string) error {
	_, err := parser.Parse(expr)
	return err
}

// NextRun returns the next time expr fires after t.
func NextRun(expr string, t time.Time) (time.Time, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(t), nil
}
