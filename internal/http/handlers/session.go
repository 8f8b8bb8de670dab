package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/session"
)

// SessionController drives the recording session.
type SessionController interface {
	StartRecording(ctx context.Context, arEnabled bool) (string, error)
	StopRecording(ctx context.Context) (*session.StopResult, error)
	StartLidarRecording(ctx context.Context) (int64, error)
	StopLidarRecording(ctx context.Context) error
	RecordGoodFrame(ctx context.Context, n uint64) (int, error)
	Status() session.Status
}

// SessionHandler handles recording session control endpoints.
type SessionHandler struct {
	controller SessionController
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(controller SessionController) *SessionHandler {
	return &SessionHandler{controller: controller}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/session",
		Summary:     "Get session status",
		Description: "Returns the coordinator state, the active recording and pipeline counters",
		Tags:        []string{"Session"},
	}, h.GetStatus)

	huma.Register(api, huma.Operation{
		OperationID: "startRecording",
		Method:      "POST",
		Path:        "/api/v1/session/start",
		Summary:     "Start recording",
		Tags:        []string{"Session"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopRecording",
		Method:      "POST",
		Path:        "/api/v1/session/stop",
		Summary:     "Stop recording",
		Description: "Finalizes every stream, merges audio and writes the manifest",
		Tags:        []string{"Session"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "startLidarRecording",
		Method:      "POST",
		Path:        "/api/v1/session/lidar/start",
		Summary:     "Start curated capture",
		Tags:        []string{"Session"},
	}, h.StartLidar)

	huma.Register(api, huma.Operation{
		OperationID: "stopLidarRecording",
		Method:      "POST",
		Path:        "/api/v1/session/lidar/stop",
		Summary:     "Stop curated capture",
		Tags:        []string{"Session"},
	}, h.StopLidar)

	huma.Register(api, huma.Operation{
		OperationID: "recordGoodFrame",
		Method:      "POST",
		Path:        "/api/v1/session/good-frames/{number}",
		Summary:     "Commit a good frame",
		Description: "Commits the frame and its neighbours to the curated streams",
		Tags:        []string{"Session"},
	}, h.RecordGoodFrame)
}

// GetSessionInput is the input for the session status endpoint.
type GetSessionInput struct{}

// GetSessionOutput is the output for the session status endpoint.
type GetSessionOutput struct {
	Body session.Status
}

// GetStatus returns the session status.
func (h *SessionHandler) GetStatus(ctx context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
	return &GetSessionOutput{Body: h.controller.Status()}, nil
}

// StartRecordingInput is the input for starting a recording.
type StartRecordingInput struct {
	Body struct {
		AREnabled bool `json:"ar_enabled,omitempty" doc:"Also record the audio-bearing auxiliary video"`
	}
}

// StartRecordingOutput is the output for starting a recording.
type StartRecordingOutput struct {
	Body struct {
		RecordingID string `json:"recording_id"`
	}
}

// Start starts a recording.
func (h *SessionHandler) Start(ctx context.Context, input *StartRecordingInput) (*StartRecordingOutput, error) {
	id, err := h.controller.StartRecording(ctx, input.Body.AREnabled)
	if err != nil {
		return nil, sessionError(err)
	}
	resp := &StartRecordingOutput{}
	resp.Body.RecordingID = id
	return resp, nil
}

// StopRecordingInput is the input for stopping a recording.
type StopRecordingInput struct{}

// StopRecordingOutput is the output for stopping a recording.
type StopRecordingOutput struct {
	Body StopResponse
}

// StopResponse describes the outcome of a stop request.
type StopResponse struct {
	Stopped     bool                      `json:"stopped"`
	RecordingID string                    `json:"recording_id,omitempty"`
	Directory   string                    `json:"directory,omitempty"`
	Status      models.RecordingStatus    `json:"status,omitempty"`
	HasAudio    bool                      `json:"has_audio"`
	MergeError  string                    `json:"merge_error,omitempty"`
	Streams     []models.StreamDescriptor `json:"streams,omitempty"`
}

// Stop stops the active recording. Stopping while idle succeeds with
// stopped=false.
func (h *SessionHandler) Stop(ctx context.Context, input *StopRecordingInput) (*StopRecordingOutput, error) {
	res, err := h.controller.StopRecording(ctx)
	if err != nil {
		return nil, sessionError(err)
	}
	resp := &StopRecordingOutput{}
	if res == nil {
		return resp, nil
	}
	resp.Body = StopResponse{
		Stopped:     true,
		RecordingID: res.RecordingID,
		Directory:   res.Directory,
		Status:      res.Status,
		HasAudio:    res.HasAudio,
		Streams:     res.Streams,
	}
	if res.MergeErr != nil {
		resp.Body.MergeError = res.MergeErr.Error()
	}
	return resp, nil
}

// StartLidarInput is the input for starting curated capture.
type StartLidarInput struct{}

// StartLidarOutput is the output for starting curated capture.
type StartLidarOutput struct {
	Body struct {
		OffsetMS int64 `json:"offset_ms" doc:"Offset of curated capture into the full video"`
	}
}

// StartLidar starts curated capture.
func (h *SessionHandler) StartLidar(ctx context.Context, input *StartLidarInput) (*StartLidarOutput, error) {
	offset, err := h.controller.StartLidarRecording(ctx)
	if err != nil {
		return nil, sessionError(err)
	}
	resp := &StartLidarOutput{}
	resp.Body.OffsetMS = offset
	return resp, nil
}

// StopLidarInput is the input for stopping curated capture.
type StopLidarInput struct{}

// StopLidarOutput is the output for stopping curated capture.
type StopLidarOutput struct {
	Body struct {
		State string `json:"state"`
	}
}

// StopLidar stops curated capture.
func (h *SessionHandler) StopLidar(ctx context.Context, input *StopLidarInput) (*StopLidarOutput, error) {
	if err := h.controller.StopLidarRecording(ctx); err != nil {
		return nil, sessionError(err)
	}
	resp := &StopLidarOutput{}
	resp.Body.State = h.controller.Status().State
	return resp, nil
}

// RecordGoodFrameInput is the input for committing a good frame.
type RecordGoodFrameInput struct {
	Number uint64 `path:"number" doc:"Frame number"`
}

// RecordGoodFrameOutput is the output for committing a good frame.
type RecordGoodFrameOutput struct {
	Body struct {
		Committed int `json:"committed"`
	}
}

// RecordGoodFrame commits a frame window to the curated streams.
func (h *SessionHandler) RecordGoodFrame(ctx context.Context, input *RecordGoodFrameInput) (*RecordGoodFrameOutput, error) {
	n, err := h.controller.RecordGoodFrame(ctx, input.Number)
	if err != nil {
		return nil, sessionError(err)
	}
	resp := &RecordGoodFrameOutput{}
	resp.Body.Committed = n
	return resp, nil
}

func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrAlreadyCapturing),
		errors.Is(err, session.ErrAlreadyCurating),
		errors.Is(err, session.ErrNotCapturing),
		errors.Is(err, session.ErrNotCurating):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, session.ErrResourceUnavailable):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, session.ErrMissingOutput):
		return huma.Error500InternalServerError("recording incomplete", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request cancelled", err)
	}
	return huma.Error500InternalServerError("session operation failed", err)
}
