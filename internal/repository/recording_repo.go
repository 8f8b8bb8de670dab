package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/jmylchreest/lidarcap/internal/models"
)

// recordingRepo implements RecordingRepository using GORM.
type recordingRepo struct {
	db *gorm.DB
}

// NewRecordingRepository creates a new RecordingRepository.
func NewRecordingRepository(db *gorm.DB) *recordingRepo {
	return &recordingRepo{db: db}
}

// Create stores a recording and its streams in one transaction.
func (r *recordingRepo) Create(ctx context.Context, recording *models.Recording) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(recording).Error
	})
	if err != nil {
		return fmt.Errorf("creating recording: %w", err)
	}
	return nil
}

// GetByID retrieves a recording by ID with its streams.
func (r *recordingRepo) GetByID(ctx context.Context, id models.ULID) (*models.Recording, error) {
	var rec models.Recording
	err := r.db.WithContext(ctx).
		Preload("Streams", func(db *gorm.DB) *gorm.DB { return db.Order("stream_id ASC") }).
		Where("id = ?", id).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrRecordingNotFound
		}
		return nil, fmt.Errorf("getting recording by ID: %w", err)
	}
	return &rec, nil
}

func (r *recordingRepo) filtered(ctx context.Context, opts ListOptions) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Recording{})
	if opts.Status != "" {
		q = q.Where("status = ?", opts.Status)
	}
	return q
}

// List returns recordings, newest first, without their streams.
func (r *recordingRepo) List(ctx context.Context, opts ListOptions) ([]*models.Recording, error) {
	q := r.filtered(ctx, opts).Order("started_at DESC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	var recs []*models.Recording
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	return recs, nil
}

// Count returns the number of recordings matching the status filter.
func (r *recordingRepo) Count(ctx context.Context, opts ListOptions) (int64, error) {
	var n int64
	if err := r.filtered(ctx, opts).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting recordings: %w", err)
	}
	return n, nil
}

// ListOlderThan returns recordings whose session ended before cutoff,
// oldest first.
func (r *recordingRepo) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Recording, error) {
	var recs []*models.Recording
	err := r.db.WithContext(ctx).
		Where("ended_at < ?", cutoff).
		Order("ended_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing recordings older than %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return recs, nil
}

// Delete permanently removes a recording and its streams.
func (r *recordingRepo) Delete(ctx context.Context, id models.ULID) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("recording_id = ?", id).Delete(&models.RecordingStream{}).Error; err != nil {
			return err
		}
		res := tx.Unscoped().Where("id = ?", id).Delete(&models.Recording{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrRecordingNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrRecordingNotFound) {
			return err
		}
		return fmt.Errorf("deleting recording: %w", err)
	}
	return nil
}
