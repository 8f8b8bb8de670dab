package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/lidarcap/internal/models"
	"github.com/jmylchreest/lidarcap/internal/session"
)

// mockController implements SessionController for testing.
type mockController struct {
	startErr  error
	stop      *session.StopResult
	stopErr   error
	lidarErr  error
	committed int
	goodErr   error
	arEnabled bool
	lastFrame uint64
}

func (m *mockController) StartRecording(_ context.Context, arEnabled bool) (string, error) {
	m.arEnabled = arEnabled
	if m.startErr != nil {
		return "", m.startErr
	}
	return "01JREC", nil
}

func (m *mockController) StopRecording(context.Context) (*session.StopResult, error) {
	return m.stop, m.stopErr
}

func (m *mockController) StartLidarRecording(context.Context) (int64, error) {
	return 1500, m.lidarErr
}

func (m *mockController) StopLidarRecording(context.Context) error {
	return m.lidarErr
}

func (m *mockController) RecordGoodFrame(_ context.Context, n uint64) (int, error) {
	m.lastFrame = n
	return m.committed, m.goodErr
}

func (m *mockController) Status() session.Status {
	return session.Status{State: session.StateCapturing.String(), RecordingID: "01JREC"}
}

func newSessionAPI(t *testing.T, m *mockController) humatest.TestAPI {
	t.Helper()
	_, api := humatest.New(t)
	NewSessionHandler(m).Register(api)
	return api
}

func TestSessionHandler_Start(t *testing.T) {
	m := &mockController{}
	api := newSessionAPI(t, m)

	resp := api.Post("/api/v1/session/start", map[string]any{"ar_enabled": true})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, m.arEnabled)

	var body struct {
		RecordingID string `json:"recording_id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "01JREC", body.RecordingID)
}

func TestSessionHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{session.ErrAlreadyCapturing, http.StatusConflict},
		{fmt.Errorf("%w: disk full", session.ErrResourceUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			api := newSessionAPI(t, &mockController{startErr: tt.err})
			resp := api.Post("/api/v1/session/start", map[string]any{})
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestSessionHandler_StopIdle(t *testing.T) {
	api := newSessionAPI(t, &mockController{})

	resp := api.Post("/api/v1/session/stop")
	require.Equal(t, http.StatusOK, resp.Code)
	var body StopResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.False(t, body.Stopped)
}

func TestSessionHandler_StopWithMergeError(t *testing.T) {
	api := newSessionAPI(t, &mockController{stop: &session.StopResult{
		RecordingID: "01JREC",
		Status:      models.RecordingStatusPartial,
		MergeErr:    errors.New("no audio track"),
	}})

	resp := api.Post("/api/v1/session/stop")
	require.Equal(t, http.StatusOK, resp.Code)
	var body StopResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Stopped)
	assert.Equal(t, "01JREC", body.RecordingID)
	assert.Equal(t, "no audio track", body.MergeError)
}

func TestSessionHandler_StopMissingOutput(t *testing.T) {
	api := newSessionAPI(t, &mockController{stopErr: session.ErrMissingOutput})
	assert.Equal(t, http.StatusInternalServerError, api.Post("/api/v1/session/stop").Code)
}

func TestSessionHandler_Lidar(t *testing.T) {
	api := newSessionAPI(t, &mockController{})

	resp := api.Post("/api/v1/session/lidar/start")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"offset_ms":1500`)

	resp = api.Post("/api/v1/session/lidar/stop")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "capturing")

	api = newSessionAPI(t, &mockController{lidarErr: session.ErrNotCapturing})
	assert.Equal(t, http.StatusConflict, api.Post("/api/v1/session/lidar/start").Code)
}

func TestSessionHandler_RecordGoodFrame(t *testing.T) {
	m := &mockController{committed: 11}
	api := newSessionAPI(t, m)

	resp := api.Post("/api/v1/session/good-frames/150")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, uint64(150), m.lastFrame)
	assert.Contains(t, resp.Body.String(), `"committed":11`)

	api = newSessionAPI(t, &mockController{goodErr: session.ErrNotCurating})
	assert.Equal(t, http.StatusConflict, api.Post("/api/v1/session/good-frames/1").Code)
}

func TestSessionHandler_Status(t *testing.T) {
	api := newSessionAPI(t, &mockController{})

	resp := api.Get("/api/v1/session")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"state":"capturing"`)
}
