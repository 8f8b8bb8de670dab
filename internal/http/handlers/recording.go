package handlers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/lidarcap/internal/manifest"
	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/repository"
	"github.com/jmylchreest/lidarcap/internal/scheduler"
	"github.com/jmylchreest/lidarcap/pkg/duration"
)

// RecordingRemover deletes recordings from disk and the catalog.
type RecordingRemover interface {
	Remove(ctx context.Context, id models.ULID) (int64, error)
	Purge(ctx context.Context, maxAge time.Duration) (scheduler.PurgeResult, error)
}

// RecordingHandler handles recording catalog endpoints.
type RecordingHandler struct {
	repo    repository.RecordingRepository
	remover RecordingRemover
}

// NewRecordingHandler creates a new recording handler.
func NewRecordingHandler(repo repository.RecordingRepository, remover RecordingRemover) *RecordingHandler {
	return &RecordingHandler{repo: repo, remover: remover}
}

// Register registers the recording routes with the API.
func (h *RecordingHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRecordings",
		Method:      "GET",
		Path:        "/api/v1/recordings",
		Summary:     "List recordings",
		Description: "Returns cataloged recordings, newest first",
		Tags:        []string{"Recordings"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRecording",
		Method:      "GET",
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Get recording",
		Description: "Returns a recording and its streams by ID",
		Tags:        []string{"Recordings"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "getRecordingManifest",
		Method:      "GET",
		Path:        "/api/v1/recordings/{id}/manifest",
		Summary:     "Get recording manifest",
		Description: "Returns the manifest written alongside the recording",
		Tags:        []string{"Recordings"},
	}, h.GetManifest)

	huma.Register(api, huma.Operation{
		OperationID: "deleteRecording",
		Method:      "DELETE",
		Path:        "/api/v1/recordings/{id}",
		Summary:     "Delete recording",
		Description: "Deletes a recording's files and catalog entry",
		Tags:        []string{"Recordings"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "purgeRecordings",
		Method:      "POST",
		Path:        "/api/v1/recordings/purge",
		Summary:     "Purge old recordings",
		Description: "Deletes every recording that ended longer than max_age ago",
		Tags:        []string{"Recordings"},
	}, h.Purge)
}

// ListRecordingsInput is the input for listing recordings.
type ListRecordingsInput struct {
	Status string `query:"status" doc:"Filter by status" enum:"completed,partial,failed,"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Offset for pagination"`
	Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"1000" doc:"Limit for pagination"`
}

// ListRecordingsOutput is the output for listing recordings.
type ListRecordingsOutput struct {
	Body struct {
		Recordings []RecordingResponse `json:"recordings"`
		Pagination PaginationMeta      `json:"pagination"`
	}
}

// List returns cataloged recordings.
func (h *RecordingHandler) List(ctx context.Context, input *ListRecordingsInput) (*ListRecordingsOutput, error) {
	opts := repository.ListOptions{
		Status: models.RecordingStatus(input.Status),
		Offset: input.Offset,
		Limit:  input.Limit,
	}
	recs, err := h.repo.List(ctx, opts)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list recordings", err)
	}
	total, err := h.repo.Count(ctx, opts)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to count recordings", err)
	}

	resp := &ListRecordingsOutput{}
	resp.Body.Recordings = make([]RecordingResponse, 0, len(recs))
	for _, r := range recs {
		resp.Body.Recordings = append(resp.Body.Recordings, RecordingFromModel(r))
	}
	resp.Body.Pagination = newPagination(total, input.Offset, input.Limit)
	return resp, nil
}

// RecordingIDInput identifies a recording.
type RecordingIDInput struct {
	ID string `path:"id" doc:"Recording ID (ULID)"`
}

// GetRecordingOutput is the output for getting a recording.
type GetRecordingOutput struct {
	Body RecordingResponse
}

// GetByID returns a recording by ID.
func (h *RecordingHandler) GetByID(ctx context.Context, input *RecordingIDInput) (*GetRecordingOutput, error) {
	rec, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &GetRecordingOutput{Body: RecordingFromModel(rec)}, nil
}

// GetManifestOutput is the output for getting a recording manifest.
type GetManifestOutput struct {
	Body *models.Manifest
}

// GetManifest returns the recording's manifest file.
func (h *RecordingHandler) GetManifest(ctx context.Context, input *RecordingIDInput) (*GetManifestOutput, error) {
	rec, err := h.lookup(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Read(filepath.Join(rec.Directory, manifest.FileName(rec.ID.String())))
	if err != nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("manifest for recording %s not readable", input.ID), err)
	}
	return &GetManifestOutput{Body: m}, nil
}

// DeleteRecordingOutput is the output for deleting a recording.
type DeleteRecordingOutput struct {
	Body struct {
		FreedBytes int64 `json:"freed_bytes"`
	}
}

// Delete removes a recording.
func (h *RecordingHandler) Delete(ctx context.Context, input *RecordingIDInput) (*DeleteRecordingOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	freed, err := h.remover.Remove(ctx, id)
	if errors.Is(err, models.ErrRecordingNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", input.ID))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to delete recording", err)
	}
	resp := &DeleteRecordingOutput{}
	resp.Body.FreedBytes = freed
	return resp, nil
}

// PurgeRecordingsInput is the input for purging recordings.
type PurgeRecordingsInput struct {
	MaxAge string `query:"max_age" required:"true" doc:"Minimum age of purged recordings, e.g. 720h or 30d"`
}

// PurgeRecordingsOutput is the output for purging recordings.
type PurgeRecordingsOutput struct {
	Body scheduler.PurgeResult
}

// Purge removes recordings older than max_age.
func (h *RecordingHandler) Purge(ctx context.Context, input *PurgeRecordingsInput) (*PurgeRecordingsOutput, error) {
	maxAge, err := duration.Parse(input.MaxAge)
	if err != nil || maxAge <= 0 {
		return nil, huma.Error400BadRequest("max_age must be a positive duration")
	}
	result, err := h.remover.Purge(ctx, maxAge)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to purge recordings", err)
	}
	return &PurgeRecordingsOutput{Body: result}, nil
}

func (h *RecordingHandler) lookup(ctx context.Context, rawID string) (*models.Recording, error) {
	id, err := models.ParseULID(rawID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	rec, err := h.repo.GetByID(ctx, id)
	if errors.Is(err, models.ErrRecordingNotFound) {
		return nil, huma.Error404NotFound(fmt.Sprintf("recording %s not found", rawID))
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get recording", err)
	}
	return rec, nil
}
