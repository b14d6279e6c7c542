package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WVU-ASEL/glidar/domain/diagnostic"
	domainpreview "github.com/WVU-ASEL/glidar/domain/preview"
	"github.com/WVU-ASEL/glidar/domain/simulator"
	"github.com/WVU-ASEL/glidar/pkg/config"
	"github.com/WVU-ASEL/glidar/pkg/preview"
	"github.com/WVU-ASEL/glidar/pkg/raster"
	"github.com/WVU-ASEL/glidar/services"
)

type fakeSink struct {
	mu     sync.Mutex
	full   bool
	queued []simulator.Command
}

func (s *fakeSink) Submit(cmd simulator.Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return false
	}
	s.queued = append(s.queued, cmd)
	return true
}

type recordingListener struct {
	got []config.PoseConfig
}

func (l *recordingListener) PoseConfigUpdated(cfg config.PoseConfig) bool {
	l.got = append(l.got, cfg)
	return true
}

func newPoseService(t *testing.T) services.PoseConfigService {
	t.Helper()
	svc, err := services.NewPoseConfigService(filepath.Join(t.TempDir(), "pose.yaml"), nil)
	require.NoError(t, err)
	return svc
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthAndRoot(t *testing.T) {
	app := NewApp("test", Deps{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode(t, resp)["status"])

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "glidar", decode(t, resp)["service"])
}

func TestUnknownRouteUsesJSONErrors(t *testing.T) {
	app := NewApp("test", Deps{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/status", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decode(t, resp), "error")
}

func TestStatus(t *testing.T) {
	diag := diagnostic.NewDiagnosticService(nil, nil)
	diag.UpdateMetrics(diagnostic.SimulatorMetrics{Frame: 42, PoseSource: "free-running"})
	app := NewApp("test", Deps{Diagnostics: diag})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/status", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode(t, resp)
	metrics, ok := body["metrics"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(42), metrics["frame"])
	assert.Equal(t, "free-running", metrics["pose_source"])
	assert.NotContains(t, body, "recorder")
}

func TestGetPose(t *testing.T) {
	app := NewApp("test", Deps{Pose: newPoseService(t)})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/config/pose", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-yaml", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	cfg, err := config.ParsePoseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPoseConfig(), *cfg)
}

func TestUpdatePose(t *testing.T) {
	svc := newPoseService(t)
	listener := &recordingListener{}
	svc.SetListener(listener)
	app := NewApp("test", Deps{Pose: svc})

	body := "version: \"1.0\"\nconfig_id: spin\ntranslation: {x: 0, y: 0, z: 25}\n"
	req := httptest.NewRequest(http.MethodPut, "/api/v1/config/pose", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-yaml")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	assert.Equal(t, "spin", svc.GetCurrentConfig().ConfigID)
	require.Len(t, listener.got, 1)
	assert.Equal(t, 25.0, listener.got[0].Translation.Z)
}

func TestUpdatePoseRejectsBadInput(t *testing.T) {
	svc := newPoseService(t)
	app := NewApp("test", Deps{Pose: svc})

	tests := map[string]string{
		"empty":       "",
		"not yaml":    "version: [",
		"missing ids": "camera_speed: 3\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/v1/config/pose", strings.NewReader(body))
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, decode(t, resp), "error")
		})
	}
	assert.Equal(t, "default", svc.GetCurrentConfig().ConfigID)
}

func TestPreview(t *testing.T) {
	svc := domainpreview.NewPreviewService(preview.TGA, 1, nil)
	app := NewApp("test", Deps{Preview: svc})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/preview", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	fb := raster.NewFramebuffer(4, 4)
	fb.Set(1, 1, 1, 0.5)
	_, err = svc.Update(fb, 7)
	require.NoError(t, err)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/preview", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/x-tga", resp.Header.Get("Content-Type"))
	assert.Equal(t, "7", resp.Header.Get("X-Frame-Timestamp"))
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestPreviewDisabledHasNoRoute(t *testing.T) {
	app := NewApp("test", Deps{Preview: domainpreview.NewPreviewService(preview.None, 1, nil)})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/preview", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestControlRouteRequiresUpgrade(t *testing.T) {
	app := NewApp("test", Deps{Commands: &fakeSink{}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/ws/control", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	resp.Body.Close()
}

func TestHandleControlMessage(t *testing.T) {
	sink := &fakeSink{}

	reply := handleControlMessage([]byte(`{"command": "forward"}`), sink)
	assert.Equal(t, ControlReply{Command: "forward", Accepted: true}, reply)

	reply = handleControlMessage([]byte(" SAVE\n"), sink)
	assert.Equal(t, ControlReply{Command: "save", Accepted: true}, reply)

	reply = handleControlMessage([]byte(`{"command": "fly"}`), sink)
	assert.False(t, reply.Accepted)
	assert.NotEmpty(t, reply.Error)

	reply = handleControlMessage([]byte(`{"command": `), sink)
	assert.False(t, reply.Accepted)
	assert.Contains(t, reply.Error, "malformed")

	require.Len(t, sink.queued, 2)
	assert.Equal(t, simulator.CommandForward, sink.queued[0].Kind)
	assert.Equal(t, simulator.CommandSave, sink.queued[1].Kind)

	sink.full = true
	reply = handleControlMessage([]byte("quit"), sink)
	assert.Equal(t, "quit", reply.Command)
	assert.False(t, reply.Accepted)
	assert.Equal(t, "command queue full", reply.Error)
}
