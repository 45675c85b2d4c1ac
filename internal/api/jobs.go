// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/capso/media-server/internal/jobs"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/procpool"
	"github.com/capso/media-server/internal/renderspec"
)

// sseTick is the cadence of SSE status events.
const sseTick = time.Second

var validPresets = map[string]bool{
	"ultrafast": true,
	"fast":      true,
	"medium":    true,
	"slow":      true,
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req jobs.ProcessRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if details := validateProcess(req); details != "" {
		writeInvalid(w, details)
		return
	}
	if !s.pool.CanAccept(procpool.ClassEncode) {
		writeErr(w, mediaerr.New(mediaerr.KindServerBusy, "encode pool at capacity"))
		return
	}

	// The job outlives the request; its lifetime is owned by the cancel
	// handle stored in the registry.
	jobCtx, cancel := context.WithCancel(context.Background())
	j := s.manager.Create(req.VideoID, req.UserID, req.WebhookURL, cancel)
	go s.worker.RunProcess(jobCtx, j, req)

	writeJSON(w, http.StatusOK, map[string]string{
		"jobId":   j.ID,
		"status":  "queued",
		"message": "processing started",
	})
}

func validateProcess(req jobs.ProcessRequest) string {
	switch {
	case req.VideoID == "":
		return "videoId: required"
	case req.UserID == "":
		return "userId: required"
	case !validURL(req.VideoURL):
		return "videoUrl: must be a valid URL"
	case !validURL(req.OutputPresignedURL):
		return "outputPresignedUrl: must be a valid URL"
	case req.MaxWidth < 0 || req.MaxWidth > 4096:
		return "maxWidth: must be in [0, 4096]"
	case req.MaxHeight < 0 || req.MaxHeight > 4096:
		return "maxHeight: must be in [0, 4096]"
	case req.CRF < 0 || req.CRF > 51:
		return "crf: must be in [0, 51]"
	case req.Preset != "" && !validPresets[req.Preset]:
		return "preset: must be one of ultrafast, fast, medium, slow"
	}
	return ""
}

func (s *Server) handleEditorProcess(w http.ResponseWriter, r *http.Request) {
	var req jobs.EditorRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch {
	case req.VideoID == "":
		writeInvalid(w, "videoId: required")
		return
	case req.UserID == "":
		writeInvalid(w, "userId: required")
		return
	case !validURL(req.VideoURL):
		writeInvalid(w, "videoUrl: must be a valid URL")
		return
	case !validURL(req.OutputPresignedURL):
		writeInvalid(w, "outputPresignedUrl: must be a valid URL")
		return
	}

	// Surface configuration problems synchronously: a bad aspect ratio or
	// background must fail the request, not the job. Probe dimensions are not
	// known yet, so validation runs against a nominal frame.
	if _, err := renderspec.Compute(req.ProjectConfig.Config, 1920, 1080); err != nil {
		writeErr(w, mediaerr.Wrap(mediaerr.KindUnsupportedConfig, "invalid project configuration", err))
		return
	}
	for i, seg := range req.ProjectConfig.Timeline.Segments {
		if seg.Start < 0 || seg.End < seg.Start || seg.Timescale < 0 {
			writeInvalid(w, fmt.Sprintf("projectConfig.timeline.segments[%d]: invalid range", i))
			return
		}
	}

	if !s.pool.CanAccept(procpool.ClassEncode) {
		writeErr(w, mediaerr.New(mediaerr.KindServerBusy, "encode pool at capacity"))
		return
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	j := s.manager.Create(req.VideoID, req.UserID, req.WebhookURL, cancel)
	go s.worker.RunEditor(jobCtx, j, req)

	writeJSON(w, http.StatusOK, map[string]string{
		"jobId":   j.ID,
		"status":  "queued",
		"message": "render started",
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	j, ok := s.manager.Get(chi.URLParam(r, "jobID"))
	if !ok {
		writeErr(w, mediaerr.New(mediaerr.KindNotFound, "job not found"))
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamJobStatus(w, r, j)
		return
	}
	writeJSON(w, http.StatusOK, j.Snapshot())
}

// streamJobStatus emits one SSE event per second until the job reaches a
// terminal phase or the client disconnects. The terminal snapshot is always
// the last event sent.
func (s *Server) streamJobStatus(w http.ResponseWriter, r *http.Request, j *jobs.Job) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusOK, j.Snapshot())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(sseTick)
	defer ticker.Stop()

	for {
		snap := j.Snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()

		if snap.Phase.Terminal() {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Cancel(chi.URLParam(r, "jobID")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
