package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/lidarcap/internal/config"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/repository"
	"github.com/jmylchreest/lidarcap/internal/storage"
)

type fixture struct {
	repo    repository.RecordingRepository
	sandbox *storage.Sandbox
	sched   *RetentionScheduler
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Recording{}, &models.RecordingStream{}))

	sb, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	repo := repository.NewRecordingRepository(db)
	f := &fixture{
		repo:    repo,
		sandbox: sb,
		now:     time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC),
	}
	f.sched = NewRetentionScheduler(config.RetentionConfig{
		Enabled:  true,
		Schedule: "@daily",
		MaxAge:   24 * time.Hour,
	}, repo, sb)
	f.sched.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addRecording(t *testing.T, ended time.Time) *models.Recording {
	t.Helper()
	id := models.NewULID()
	dir, err := f.sandbox.MkdirAll(id.String())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.String()+".json"), []byte("{}"), 0o600))

	rec := &models.Recording{
		Model:     models.Model{ID: id},
		Directory: dir,
		Status:    models.RecordingStatusCompleted,
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   ended,
	}
	require.NoError(t, f.repo.Create(context.Background(), rec))
	return rec
}

func TestPurge_RemovesOldRecordings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.addRecording(t, f.now.Add(-72*time.Hour))
	fresh := f.addRecording(t, f.now.Add(-time.Hour))

	result, err := f.sched.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, int64(2), result.FreedBytes)
	assert.Zero(t, result.Failed)

	assert.NoDirExists(t, old.Directory)
	assert.DirExists(t, fresh.Directory)

	_, err = f.repo.GetByID(ctx, old.ID)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
	_, err = f.repo.GetByID(ctx, fresh.ID)
	assert.NoError(t, err)

	require.NotNil(t, f.sched.LastRun())
	assert.Equal(t, 1, f.sched.LastRun().Removed)
}

func TestPurge_KeepsFilesOutsideStorage(t *testing.T) {
	f := newFixture(t)
	outside := t.TempDir()
	rec := &models.Recording{
		Directory: outside,
		Status:    models.RecordingStatusFailed,
		StartedAt: f.now.Add(-50 * time.Hour),
		EndedAt:   f.now.Add(-49 * time.Hour),
	}
	require.NoError(t, f.repo.Create(context.Background(), rec))

	result, err := f.sched.Purge(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Removed)
	assert.DirExists(t, outside)
}

func TestRemove_SingleRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.addRecording(t, f.now)

	freed, err := f.sched.Remove(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), freed)
	assert.NoDirExists(t, rec.Directory)

	_, err = f.sched.Remove(ctx, rec.ID)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
}

func TestStart_DisabledIsNoop(t *testing.T) {
	f := newFixture(t)
	f.sched.cfg.Enabled = false
	require.NoError(t, f.sched.Start(context.Background()))
	assert.Nil(t, f.sched.cron)
	f.sched.Stop()
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	f.sched.cfg.Schedule = "not a schedule"
	assert.Error(t, f.sched.Start(context.Background()))
}

func TestStart_Twice(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sched.Start(context.Background()))
	defer f.sched.Stop()
	assert.ErrorIs(t, f.sched.Start(context.Background()), ErrAlreadyStarted)
}

func TestCronExpressions(t *testing.T) {
	assert.NoError(t, ValidateCron("0 0 3 * * *"))
	assert.NoError(t, ValidateCron("0 3 * * *"))
	assert.NoError(t, ValidateCron("@hourly"))
	assert.Error(t, ValidateCron("61 * * * *"))

	from := time.Date(2026, 5, 10, 1, 0, 0, 0, time.UTC)
	next, err := NextRun("0 0 3 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 10, 3, 0, 0, 0, time.UTC), next)
}
