// Package repository defines data access interfaces for the recording
// catalog. All database access goes through these interfaces.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/lidarcap/internal/models"
)

// ListOptions filters and pages a recording listing.
type ListOptions struct {
	Status models.RecordingStatus
	Limit  int
	Offset int
}

// RecordingRepository defines operations for recording persistence.
type RecordingRepository interface {
	// Create stores a recording together with its streams.
	Create(ctx context.Context, recording *models.Recording) error
	// GetByID retrieves a recording and its streams. Returns
	// models.ErrRecordingNotFound when absent.
	GetByID(ctx context.Context, id models.ULID) (*models.Recording, error)
	// List returns recordings, newest first.
	List(ctx context.Context, opts ListOptions) ([]*models.Recording, error)
	// Count returns the number of recordings matching opts.Status.
	Count(ctx context.Context, opts ListOptions) (int64, error)
	// ListOlderThan returns recordings that ended before cutoff.
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.Recording, error)
	// Delete permanently removes a recording and its streams.
	Delete(ctx context.Context, id models.ULID) error
}
