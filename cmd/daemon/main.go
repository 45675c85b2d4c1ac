// SPDX-License-Identifier: MIT

// Command daemon runs the media processing server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capso/media-server/internal/api"
	"github.com/capso/media-server/internal/audio"
	"github.com/capso/media-server/internal/canvas"
	"github.com/capso/media-server/internal/config"
	"github.com/capso/media-server/internal/health"
	"github.com/capso/media-server/internal/jobs"
	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/netbridge"
	"github.com/capso/media-server/internal/probe"
	"github.com/capso/media-server/internal/procpool"
	"github.com/capso/media-server/internal/tempfile"
	"github.com/capso/media-server/internal/transcode"
	"github.com/capso/media-server/internal/uploader"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownGrace = 15 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{
		Level:   "info",
		Service: "media-server",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	cfg, err := config.Load(*configPath, version)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.SetLevel(cfg.LogLevel)

	store, err := tempfile.NewStore(cfg.ScratchDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create scratch directory")
	}

	pool := procpool.New(procpool.Limits{
		Audio:  cfg.MaxAudioProcs,
		Probe:  cfg.MaxProbeProcs,
		Encode: cfg.MaxEncodeJobs,
	})

	bridge := netbridge.New(cfg.HostAlias)
	client := uploader.New(bridge, store)
	prober := probe.NewEngine(pool, bridge, cfg.FFprobeBin)
	audioSvc := audio.NewService(pool, bridge, cfg.FFmpegBin)
	engine := transcode.NewEngine(pool, store, bridge, client, cfg.FFmpegBin)
	pipeline := canvas.New(pool, store, bridge, prober, cfg.FFmpegBin, cfg.CompositorBin)

	notifier := jobs.NewNotifier(bridge)
	manager := jobs.NewManager(notifier, cfg.JobTTL, cfg.JobTerminalGrace)
	worker := &jobs.Worker{
		Prober:    prober,
		Engine:    engine,
		Canvas:    pipeline,
		Uploader:  client,
		Store:     store,
		UseCanvas: cfg.CanvasRenderer,
	}

	healthMgr := health.NewManager(version, health.NewFFmpegChecker(cfg.FFmpegBin))

	server := api.New(api.Deps{
		Config:  cfg,
		Pool:    pool,
		Prober:  prober,
		Audio:   audioSvc,
		Engine:  engine,
		Manager: manager,
		Worker:  worker,
		Store:   store,
		Health:  healthMgr,
	})

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.Handle("/", server.Router())

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go manager.Run(ctx)
	go scratchSweeper(ctx, store)

	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("version", version).
			Bool("canvas_renderer", cfg.CanvasRenderer).
			Msg("media server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown incomplete")
	}
	logger.Info().Msg("media server stopped")
}

// scratchSweeper periodically removes stale temp files so crashed or evicted
// jobs cannot fill the disk between manual cleanups.
func scratchSweeper(ctx context.Context, store *tempfile.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Sweep(60 * time.Minute)
		}
	}
}
