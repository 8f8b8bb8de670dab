package migrations

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

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return db
}

func TestAllMigrations_VersionsAreUniqueAndOrdered(t *testing.T) {
	all := AllMigrations()
	require.Len(t, all, 2)

	seen := make(map[string]bool)
	for i, m := range all {
		assert.False(t, seen[m.Version], "duplicate version: %s", m.Version)
		seen[m.Version] = true
		assert.NotNil(t, m.Down, "migration %s must support rollback", m.Version)
		if i > 0 {
			assert.Less(t, all[i-1].Version, m.Version)
		}
	}
}

func TestNewMigrator_OrdersByVersion(t *testing.T) {
	all := AllMigrations()
	m := NewMigrator(setupTestDB(t), nil, all[1], all[0])

	statuses, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "001", statuses[0].Version)
	assert.Equal(t, "002", statuses[1].Version)
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, nil, AllMigrations()...)

	ran, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ran)

	ran, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Zero(t, ran)

	assert.True(t, db.Migrator().HasTable("recordings"))
	assert.True(t, db.Migrator().HasTable("recording_streams"))
	assert.True(t, db.Migrator().HasIndex("recording_streams", streamIndexName))
}

func TestMigrator_Status(t *testing.T) {
	ctx := context.Background()
	m := NewMigrator(setupTestDB(t), nil, AllMigrations()...)

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		assert.False(t, s.Applied(), s.Version)
	}

	_, err = m.Up(ctx)
	require.NoError(t, err)

	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	for _, s := range statuses {
		require.True(t, s.Applied(), s.Version)
		assert.WithinDuration(t, time.Now(), *s.AppliedAt, time.Minute)
	}
}

func TestMigrator_RollbackNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	m := NewMigrator(db, nil, AllMigrations()...)
	_, err := m.Up(ctx)
	require.NoError(t, err)

	reverted, err := m.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"002"}, reverted)
	assert.False(t, db.Migrator().HasIndex("recording_streams", streamIndexName))
	assert.True(t, db.Migrator().HasTable("recording_streams"))

	reverted, err = m.Rollback(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, reverted)
	assert.False(t, db.Migrator().HasTable("recordings"))

	reverted, err = m.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, reverted, "nothing left to roll back")

	// Reapplying after a full rollback restores the schema.
	ran, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ran)
}

func TestMigrator_RollbackZeroIsNoop(t *testing.T) {
	ctx := context.Background()
	m := NewMigrator(setupTestDB(t), nil, AllMigrations()...)
	_, err := m.Up(ctx)
	require.NoError(t, err)

	reverted, err := m.Rollback(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, reverted)
}

func TestMigrator_FailedStepLeavesNoRow(t *testing.T) {
	ctx := context.Background()
	broken := Migration{
		Version:     "001",
		Description: "broken",
		Up: func(tx *gorm.DB) error {
			return tx.Exec("CREATE TABLE nope (").Error
		},
	}
	m := NewMigrator(setupTestDB(t), nil, broken)

	_, err := m.Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "applying migration 001")

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	assert.False(t, statuses[0].Applied())
}

func TestMigrations_RejectDuplicateStreams(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, err := NewMigrator(db, nil, AllMigrations()...).Up(ctx)
	require.NoError(t, err)

	rec := &models.Recording{
		Directory: "/data/recordings/x",
		Status:    models.RecordingStatusCompleted,
		StartedAt: time.Now(),
	}
	require.NoError(t, db.Create(rec).Error)

	stream := models.RecordingStream{RecordingID: rec.ID, StreamID: models.StreamDepth}
	require.NoError(t, db.Create(&stream).Error)

	dup := models.RecordingStream{RecordingID: rec.ID, StreamID: models.StreamDepth}
	assert.Error(t, db.Create(&dup).Error)
}
