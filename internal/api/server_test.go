// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capso/media-server/internal/audio"
	"github.com/capso/media-server/internal/config"
	"github.com/capso/media-server/internal/health"
	"github.com/capso/media-server/internal/jobs"
	"github.com/capso/media-server/internal/netbridge"
	"github.com/capso/media-server/internal/probe"
	"github.com/capso/media-server/internal/procpool"
	"github.com/capso/media-server/internal/tempfile"
	"github.com/capso/media-server/internal/transcode"
	"github.com/capso/media-server/internal/uploader"
)

// newTestServer wires a router against a pool whose encode class is closed,
// so async handlers reject before any worker goroutine starts. No ffmpeg is
// available in the test environment.
func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	t.Setenv("MEDIA_IN_CONTAINER", "0")

	cfg := config.Default()
	cfg.Version = "test"
	cfg.RateLimitEnabled = false

	pool := procpool.New(procpool.Limits{Audio: 2, Probe: 2, Encode: 0})
	store, err := tempfile.NewStore(filepath.Join(t.TempDir(), "scratch"))
	require.NoError(t, err)
	bridge := netbridge.New(cfg.HostAlias)
	client := uploader.New(bridge, store)

	s := New(Deps{
		Config:  cfg,
		Pool:    pool,
		Prober:  probe.NewEngine(pool, bridge, "/nonexistent/ffprobe"),
		Audio:   audio.NewService(pool, bridge, "true"),
		Engine:  transcode.NewEngine(pool, store, bridge, client, "/nonexistent/ffmpeg"),
		Manager: jobs.NewManager(nil, 0, 0),
		Worker:  &jobs.Worker{},
		Store:   store,
		Health:  health.NewManager("test", health.NewFFmpegChecker("/nonexistent/ffmpeg")),
	})
	return s, s.Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestIndex(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "media-server", body["name"])
	assert.NotEmpty(t, body["endpoints"])
}

func TestHealthUnavailableFFmpeg(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body health.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, health.StatusUnhealthy, body.Status)
	assert.False(t, body.FFmpeg.Available)
}

func TestAudioStatus(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/audio/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["activeProcesses"])
	assert.Equal(t, true, body["canAcceptNewProcess"])
}

func TestVideoStatusReportsClosedEncodePool(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/video/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["canAcceptNewJob"])
}

func TestAudioCheckValidation(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/audio/check", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, rec))

	rec = doJSON(t, h, http.MethodPost, "/audio/check", `{"videoUrl":"ftp://nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, rec))
}

func TestProcessValidation(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing videoId", `{"userId":"u","videoUrl":"https://x/v.mp4","outputPresignedUrl":"https://x/out"}`, "videoId"},
		{"missing userId", `{"videoId":"v","videoUrl":"https://x/v.mp4","outputPresignedUrl":"https://x/out"}`, "userId"},
		{"bad videoUrl", `{"videoId":"v","userId":"u","videoUrl":"nope","outputPresignedUrl":"https://x/out"}`, "videoUrl"},
		{"bad crf", `{"videoId":"v","userId":"u","videoUrl":"https://x/v.mp4","outputPresignedUrl":"https://x/out","crf":99}`, "crf"},
		{"bad preset", `{"videoId":"v","userId":"u","videoUrl":"https://x/v.mp4","outputPresignedUrl":"https://x/out","preset":"veryslow"}`, "preset"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/video/process", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "INVALID_REQUEST", errCode(t, rec))
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestProcessRejectedWhenPoolFull(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/video/process",
		`{"videoId":"v","userId":"u","videoUrl":"https://x/v.mp4","outputPresignedUrl":"https://x/out"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "SERVER_BUSY", errCode(t, rec))
}

func TestEditorProcessRejectsBadConfig(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/video/editor/process",
		`{"videoId":"v","userId":"u","videoUrl":"https://x/v.mp4","outputPresignedUrl":"https://x/out",
		  "projectConfig":{"aspectRatio":"21:9"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_CONFIG", errCode(t, rec))
}

func TestEditorProcessRequiresUserID(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/video/editor/process",
		`{"videoId":"v","videoUrl":"https://x/v.mp4","outputPresignedUrl":"https://x/out","projectConfig":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, rec))
	assert.Contains(t, rec.Body.String(), "userId")
}

func TestEditorProcessRejectsBadSegment(t *testing.T) {
	_, h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/video/editor/process",
		`{"videoId":"v","userId":"u","videoUrl":"https://x/v.mp4","outputPresignedUrl":"https://x/out",
		  "projectConfig":{"timeline":{"segments":[{"start":5,"end":2,"timescale":1}]}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, rec))
	assert.Contains(t, rec.Body.String(), "segments[0]")
}

func TestJobStatusNotFound(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/video/process/nope/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, rec))
}

func TestJobStatusSnapshot(t *testing.T) {
	s, h := newTestServer(t)
	j := s.manager.Create("video-1", "user-1", "", func() {})

	rec := doJSON(t, h, http.MethodGet, "/video/process/"+j.ID+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap jobs.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, j.ID, snap.JobID)
	assert.Equal(t, jobs.PhaseQueued, snap.Phase)
}

func TestJobStatusSSETerminal(t *testing.T) {
	s, h := newTestServer(t)
	j := s.manager.Create("video-1", "", "", func() {})
	j.Complete("https://x/out")

	req := httptest.NewRequest(http.MethodGet, "/video/process/"+j.ID+"/status", nil)
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "data: ")
	assert.Contains(t, rec.Body.String(), `"phase":"complete"`)
}

func TestJobCancel(t *testing.T) {
	s, h := newTestServer(t)
	j := s.manager.Create("video-1", "", "", func() {})

	rec := doJSON(t, h, http.MethodPost, "/video/process/"+j.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	// A second cancel hits a terminal job.
	rec = doJSON(t, h, http.MethodPost, "/video/process/"+j.ID+"/cancel", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATE", errCode(t, rec))
}

func TestCleanupEmptyScratch(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/video/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cleanedFiles":0`)
}
