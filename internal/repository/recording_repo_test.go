package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/lidarcap/internal/models"
)

func setupRecordingTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.Recording{}, &models.RecordingStream{}))
	return db
}

func newRecording(started time.Time, status models.RecordingStatus) *models.Recording {
	return &models.Recording{
		Directory: "/data/recordings/" + started.Format("150405"),
		Status:    status,
		StartedAt: started,
		EndedAt:   started.Add(time.Minute),
		Streams: []models.RecordingStream{
			{StreamID: models.StreamFullVideo, Encoding: models.EncodingH264, Frequency: 30, NumberOfFrames: 1800},
			{StreamID: models.StreamCameraInfo, Encoding: models.EncodingJSONL, Frequency: 30},
		},
	}
}

func TestRecordingRepo_CreateAndGet(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()

	rec := newRecording(time.Now(), models.RecordingStatusCompleted)
	require.NoError(t, repo.Create(ctx, rec))
	require.False(t, rec.ID.IsZero())

	found, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Directory, found.Directory)
	require.Len(t, found.Streams, 2)
	assert.Equal(t, models.StreamCameraInfo, found.Streams[0].StreamID)
	assert.Equal(t, rec.ID, found.Streams[1].RecordingID)
}

func TestRecordingRepo_CreateKeepsPresetID(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()

	id := models.NewULID()
	rec := newRecording(time.Now(), models.RecordingStatusPartial)
	rec.ID = id
	require.NoError(t, repo.Create(ctx, rec))
	assert.Equal(t, id, rec.ID)
}

func TestRecordingRepo_CreateValidates(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	rec := newRecording(time.Now(), "bogus")
	err := repo.Create(context.Background(), rec)
	assert.ErrorIs(t, err, models.ErrInvalidRecordingStatus)
}

func TestRecordingRepo_GetByIDNotFound(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	_, err := repo.GetByID(context.Background(), models.NewULID())
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)
}

func TestRecordingRepo_ListAndCount(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newRecording(base, models.RecordingStatusCompleted)))
	require.NoError(t, repo.Create(ctx, newRecording(base.Add(time.Hour), models.RecordingStatusFailed)))
	require.NoError(t, repo.Create(ctx, newRecording(base.Add(2*time.Hour), models.RecordingStatusCompleted)))

	all, err := repo.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartedAt.After(all[1].StartedAt), "newest first")

	completed, err := repo.List(ctx, ListOptions{Status: models.RecordingStatusCompleted, Limit: 1})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.True(t, completed[0].StartedAt.Equal(base.Add(2*time.Hour)))

	n, err := repo.Count(ctx, ListOptions{Status: models.RecordingStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	page, err := repo.List(ctx, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestRecordingRepo_ListOlderThan(t *testing.T) {
	repo := NewRecordingRepository(setupRecordingTestDB(t))
	ctx := context.Background()
	now := time.Now()

	old := newRecording(now.Add(-48*time.Hour), models.RecordingStatusCompleted)
	fresh := newRecording(now.Add(-time.Hour), models.RecordingStatusCompleted)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))

	recs, err := repo.ListOlderThan(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, old.ID, recs[0].ID)
}

func TestRecordingRepo_Delete(t *testing.T) {
	db := setupRecordingTestDB(t)
	repo := NewRecordingRepository(db)
	ctx := context.Background()

	rec := newRecording(time.Now(), models.RecordingStatusCompleted)
	require.NoError(t, repo.Create(ctx, rec))
	require.NoError(t, repo.Delete(ctx, rec.ID))

	_, err := repo.GetByID(ctx, rec.ID)
	assert.ErrorIs(t, err, models.ErrRecordingNotFound)

	var streams int64
	require.NoError(t, db.Unscoped().Model(&models.RecordingStream{}).Count(&streams).Error)
	assert.Zero(t, streams)

	assert.ErrorIs(t, repo.Delete(ctx, rec.ID), models.ErrRecordingNotFound)
}
