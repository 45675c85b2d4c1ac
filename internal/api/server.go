// SPDX-License-Identifier: MIT

// Package api is the HTTP surface of the media server: synchronous probe,
// thumbnail and audio endpoints, async job endpoints with SSE status, and
// the operational health/status routes.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/capso/media-server/internal/audio"
	"github.com/capso/media-server/internal/config"
	"github.com/capso/media-server/internal/health"
	"github.com/capso/media-server/internal/jobs"
	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/probe"
	"github.com/capso/media-server/internal/procpool"
	"github.com/capso/media-server/internal/tempfile"
	"github.com/capso/media-server/internal/transcode"
)

// Server bundles the handler dependencies.
type Server struct {
	cfg     config.Config
	pool    *procpool.Pool
	prober  *probe.Engine
	audio   *audio.Service
	engine  *transcode.Engine
	manager *jobs.Manager
	worker  *jobs.Worker
	store   *tempfile.Store
	health  *health.Manager
}

// Deps carries everything the server needs; all fields are required except
// Health.
type Deps struct {
	Config  config.Config
	Pool    *procpool.Pool
	Prober  *probe.Engine
	Audio   *audio.Service
	Engine  *transcode.Engine
	Manager *jobs.Manager
	Worker  *jobs.Worker
	Store   *tempfile.Store
	Health  *health.Manager
}

// New creates the server.
func New(d Deps) *Server {
	return &Server{
		cfg:     d.Config,
		pool:    d.Pool,
		prober:  d.Prober,
		audio:   d.Audio,
		engine:  d.Engine,
		manager: d.Manager,
		worker:  d.Worker,
		store:   d.Store,
		health:  d.Health,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(35 * time.Minute))
	if s.cfg.RateLimitEnabled {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitRPM, time.Minute))
	}

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)

	r.Route("/audio", func(r chi.Router) {
		r.Get("/status", s.handleAudioStatus)
		r.Post("/check", s.handleAudioCheck)
		r.Post("/extract", s.handleAudioExtract)
	})

	r.Route("/video", func(r chi.Router) {
		r.Get("/status", s.handleVideoStatus)
		r.Post("/probe", s.handleProbe)
		r.Post("/thumbnail", s.handleThumbnail)
		r.Post("/cleanup", s.handleCleanup)

		r.Post("/process", s.handleProcess)
		r.Get("/process/{jobID}/status", s.handleJobStatus)
		r.Post("/process/{jobID}/cancel", s.handleJobCancel)

		r.Post("/editor/process", s.handleEditorProcess)
		r.Get("/editor/process/{jobID}/status", s.handleJobStatus)
		r.Post("/editor/process/{jobID}/cancel", s.handleJobCancel)
	})

	return r
}

// requestLogger threads the chi request id into the zerolog context and logs
// each request on completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())
		ctx := log.ContextWithRequestID(r.Context(), reqID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		logger := log.FromContext(ctx)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
