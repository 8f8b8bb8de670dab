package models

import (
	"time"

	"gorm.io/gorm"
)

// RecordingStatus is the outcome of a recording session.
type RecordingStatus string

const (
	// RecordingStatusCompleted means every expected file was produced.
	RecordingStatusCompleted RecordingStatus = "completed"
	// RecordingStatusPartial means the files exist but the audio merge failed.
	RecordingStatusPartial RecordingStatus = "partial"
	// RecordingStatusFailed means an expected output file is missing.
	RecordingStatusFailed RecordingStatus = "failed"
)

// Recording is the catalog entry for one finished session. Its ID is the
// recording id used in file names.
type Recording struct {
	Model

	Directory     string            `gorm:"not null" json:"directory"`
	Status        RecordingStatus   `gorm:"type:varchar(16);not null;index" json:"status"`
	StartedAt     time.Time         `gorm:"not null;index" json:"started_at"`
	EndedAt       time.Time         `json:"ended_at"`
	TotalFrames   int               `json:"total_frames"`
	CuratedFrames int               `json:"curated_frames"`
	DroppedFrames int               `json:"dropped_frames"`
	HasAudio      bool              `json:"has_audio"`
	MergeError    string            `gorm:"type:text" json:"merge_error,omitempty"`
	SizeBytes     int64             `json:"size_bytes"`
	DeviceName    string            `json:"device_name"`
	Streams       []RecordingStream `gorm:"foreignKey:RecordingID;constraint:OnDelete:CASCADE" json:"streams,omitempty"`
}

// TableName returns the table name for Recording.
func (Recording) TableName() string {
	return "recordings"
}

// Duration returns the wall-clock length of the session.
func (r *Recording) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Validate checks required fields before persistence.
func (r *Recording) Validate() error {
	if r.Directory == "" {
		return ErrDirectoryRequired
	}
	if r.StartedAt.IsZero() {
		return ErrStartTimeRequired
	}
	switch r.Status {
	case RecordingStatusCompleted, RecordingStatusPartial, RecordingStatusFailed:
	default:
		return ErrInvalidRecordingStatus
	}
	return nil
}

// BeforeCreate validates the recording and assigns an id.
func (r *Recording) BeforeCreate(tx *gorm.DB) error {
	if err := r.Model.BeforeCreate(tx); err != nil {
		return err
	}
	return r.Validate()
}

// RecordingStream mirrors one manifest stream in the catalog.
type RecordingStream struct {
	Model

	RecordingID    ULID   `gorm:"type:varchar(26);not null;index" json:"recording_id"`
	StreamID       string `gorm:"not null" json:"stream_id"`
	Encoding       string `json:"encoding"`
	Frequency      int    `json:"frequency"`
	NumberOfFrames int    `json:"number_of_frames"`
	FileName       string `json:"file_name"`
}

// TableName returns the table name for RecordingStream.
func (RecordingStream) TableName() string {
	return "recording_streams"
}

// StreamsFromDescriptors converts manifest descriptors into catalog rows.
func StreamsFromDescriptors(descs []StreamDescriptor) []RecordingStream {
	out := make([]RecordingStream, 0, len(descs))
	for _, d := range descs {
		out = append(out, RecordingStream{
			StreamID:       d.ID,
			Encoding:       d.Encoding,
			Frequency:      d.Frequency,
			NumberOfFrames: d.NumberOfFrames,
			FileName:       d.FileName,
		})
	}
	return out
}
