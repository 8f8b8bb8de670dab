// Package handlers provides HTTP API handlers for lidarcap.
package handlers

import (
	"time"

	"github.com/jmylchreest/lidarcap/internal/models"
)

// PaginationMeta describes a page of a listing.
type PaginationMeta struct {
	Total      int64 `json:"total"`
	Offset     int   `json:"offset"`
	Limit      int   `json:"limit"`
	TotalPages int64 `json:"total_pages"`
}

func newPagination(total int64, offset, limit int) PaginationMeta {
	meta := PaginationMeta{Total: total, Offset: offset, Limit: limit}
	if limit > 0 {
		meta.TotalPages = total / int64(limit)
		if total%int64(limit) > 0 {
			meta.TotalPages++
		}
	}
	return meta
}

// RecordingResponse represents a recording in API responses.
type RecordingResponse struct {
	ID            models.ULID      `json:"id"`
	Status        string           `json:"status"`
	Directory     string           `json:"directory"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       time.Time        `json:"ended_at"`
	Duration      string           `json:"duration"`
	TotalFrames   int              `json:"total_frames"`
	CuratedFrames int              `json:"curated_frames"`
	DroppedFrames int              `json:"dropped_frames"`
	HasAudio      bool             `json:"has_audio"`
	MergeError    string           `json:"merge_error,omitempty"`
	SizeBytes     int64            `json:"size_bytes"`
	DeviceName    string           `json:"device_name,omitempty"`
	Streams       []StreamResponse `json:"streams,omitempty"`
}

// StreamResponse represents one recorded stream.
type StreamResponse struct {
	StreamID       string `json:"stream_id"`
	Encoding       string `json:"encoding"`
	Frequency      int    `json:"frequency"`
	NumberOfFrames int    `json:"number_of_frames"`
	FileName       string `json:"file_name,omitempty"`
}

// RecordingFromModel converts a recording model to its response form.
func RecordingFromModel(r *models.Recording) RecordingResponse {
	resp := RecordingResponse{
		ID:            r.ID,
		Status:        string(r.Status),
		Directory:     r.Directory,
		StartedAt:     r.StartedAt,
		EndedAt:       r.EndedAt,
		Duration:      r.Duration().Round(time.Millisecond).String(),
		TotalFrames:   r.TotalFrames,
		CuratedFrames: r.CuratedFrames,
		DroppedFrames: r.DroppedFrames,
		HasAudio:      r.HasAudio,
		MergeError:    r.MergeError,
		SizeBytes:     r.SizeBytes,
		DeviceName:    r.DeviceName,
	}
	for _, s := range r.Streams {
		resp.Streams = append(resp.Streams, StreamResponse{
			StreamID:       s.StreamID,
			Encoding:       s.Encoding,
			Frequency:      s.Frequency,
			NumberOfFrames: s.NumberOfFrames,
			FileName:       s.FileName,
		})
	}
	return resp
}

// Health types

// HealthResponse is the full health report.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Storage       StorageHealth     `json:"storage"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo holds CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds memory usage information.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
	ProcessMemoryMB   float64 `json:"process_memory_mb"`
	// EncoderProcesses counts child processes, normally one ffmpeg per
	// active video recorder.
	EncoderProcesses int     `json:"encoder_processes"`
	EncoderMemoryMB  float64 `json:"encoder_memory_mb"`
}

// StorageHealth describes the recordings volume.
type StorageHealth struct {
	Status      string  `json:"status"`
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	Free        string  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// HealthComponents holds per-component health.
type HealthComponents struct {
	Database DatabaseHealth `json:"database"`
	Session  string         `json:"session"`
}

// DatabaseHealth holds catalog database health.
type DatabaseHealth struct {
	Status             string  `json:"status"`
	Driver             string  `json:"driver,omitempty"`
	ConnectionPoolSize int     `json:"connection_pool_size"`
	ActiveConnections  int     `json:"active_connections"`
	IdleConnections    int     `json:"idle_connections"`
	ResponseTimeMS     float64 `json:"response_time_ms"`
	ResponseTimeStatus string  `json:"response_time_status"`
}
