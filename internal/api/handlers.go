// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/procpool"
	"github.com/capso/media-server/internal/transcode"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// decodeJSON parses a bounded JSON body, rejecting unknown shapes lazily;
// field-level validation happens per handler.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeInvalid(w, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func validURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") ||
		strings.HasPrefix(raw, "/")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "media-server",
		"version": s.cfg.Version,
		"endpoints": []string{
			"GET /health",
			"GET /audio/status",
			"POST /audio/check",
			"POST /audio/extract",
			"GET /video/status",
			"POST /video/probe",
			"POST /video/thumbnail",
			"POST /video/process",
			"POST /video/editor/process",
			"GET /video/process/{jobId}/status",
			"POST /video/process/{jobId}/cancel",
			"POST /video/cleanup",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	resp := s.health.Health(r.Context(), verbose)
	code := http.StatusOK
	if resp.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleAudioStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"activeProcesses":     s.pool.Active(procpool.ClassAudio),
		"canAcceptNewProcess": s.pool.CanAccept(procpool.ClassAudio),
	})
}

func (s *Server) handleVideoStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pools": map[string]any{
			"audio":  s.pool.Active(procpool.ClassAudio),
			"probe":  s.pool.Active(procpool.ClassProbe),
			"encode": s.pool.Active(procpool.ClassEncode),
		},
		"canAcceptNewJob": s.pool.CanAccept(procpool.ClassEncode),
		"jobs":            s.manager.List(),
	})
}

type urlRequest struct {
	VideoURL string `json:"videoUrl"`
}

func (s *Server) handleAudioCheck(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validURL(req.VideoURL) {
		writeInvalid(w, "videoUrl: must be a valid URL")
		return
	}

	hasAudio, err := s.audio.HasAudioTrack(r.Context(), req.VideoURL)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasAudio": hasAudio})
}

type extractRequest struct {
	VideoURL string `json:"videoUrl"`
	Stream   *bool  `json:"stream,omitempty"`
}

func (s *Server) handleAudioExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validURL(req.VideoURL) {
		writeInvalid(w, "videoUrl: must be a valid URL")
		return
	}

	hasAudio, err := s.audio.HasAudioTrack(r.Context(), req.VideoURL)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !hasAudio {
		writeErr(w, mediaerr.New(mediaerr.KindNoAudioTrack, "source has no audio track"))
		return
	}

	streaming := req.Stream == nil || *req.Stream
	if streaming {
		s.extractStreaming(w, r, req.VideoURL)
		return
	}

	data, err := s.audio.Extract(r.Context(), req.VideoURL)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// extractStreaming copies MP3 chunks to the client as they arrive. Client
// disconnect cancels the request context, which converges on the stream's
// cleanup and returns the pool slot.
func (s *Server) extractStreaming(w http.ResponseWriter, r *http.Request, url string) {
	stream, err := s.audio.ExtractStream(r.Context(), url)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer stream.Cleanup()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	wrote := false
	for chunk := range stream.Chunks() {
		if _, err := w.Write(chunk); err != nil {
			stream.Cleanup()
			return
		}
		wrote = true
		if canFlush {
			flusher.Flush()
		}
	}

	if err := stream.Err(); err != nil && !wrote {
		// Headers already went out; nothing sensible left to send.
		logger := log.FromContext(r.Context())
		logger.Warn().Err(err).Msg("audio stream failed before first chunk")
	}
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !validURL(req.VideoURL) {
		writeInvalid(w, "videoUrl: must be a valid URL")
		return
	}

	meta, err := s.prober.Probe(r.Context(), req.VideoURL)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metadata": meta})
}

type thumbnailRequest struct {
	VideoURL  string   `json:"videoUrl"`
	Timestamp *float64 `json:"timestamp,omitempty"`
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
	Quality   int      `json:"quality,omitempty"`
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	var req thumbnailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	switch {
	case !validURL(req.VideoURL):
		writeInvalid(w, "videoUrl: must be a valid URL")
		return
	case req.Width < 0 || req.Width > 2000:
		writeInvalid(w, "width: must be in [0, 2000]")
		return
	case req.Height < 0 || req.Height > 2000:
		writeInvalid(w, "height: must be in [0, 2000]")
		return
	case req.Quality < 0 || req.Quality > 100:
		writeInvalid(w, "quality: must be in [1, 100]")
		return
	}

	meta, err := s.prober.Probe(r.Context(), req.VideoURL)
	if err != nil {
		writeErr(w, err)
		return
	}

	ts := -1.0
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}
	frame, err := s.engine.Thumbnail(r.Context(), req.VideoURL, meta.Duration, transcode.ThumbnailOptions{
		Timestamp: ts,
		MaxWidth:  req.Width,
		MaxHeight: req.Height,
		Quality:   req.Quality,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	cleaned := s.store.Sweep(60 * time.Minute)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"cleanedFiles": cleaned,
	})
}
