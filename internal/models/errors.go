package models

import "errors"

// Validation errors for catalog models.
var (
	// ErrDirectoryRequired indicates a recording without a directory.
	ErrDirectoryRequired = errors.New("directory is required")

	// ErrStartTimeRequired indicates a required start time field is empty.
	ErrStartTimeRequired = errors.New("start time is required")

	// ErrInvalidRecordingStatus indicates an unknown recording status.
	ErrInvalidRecordingStatus = errors.New("invalid recording status: must be 'completed', 'partial' or 'failed'")

	// ErrRecordingNotFound indicates a recording was not found.
	ErrRecordingNotFound = errors.New("recording not found")
)
