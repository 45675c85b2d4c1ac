// SPDX-License-Identifier: MIT

// Package config loads service configuration with precedence ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// scratchSubdir is the fixed directory name under the OS temp dir that owns
// every temp file the service creates.
const scratchSubdir = "cap-media-server"

// Config holds the full runtime configuration of the media server.
type Config struct {
	ListenAddr string `yaml:"listenAddr"`
	LogLevel   string `yaml:"logLevel"`

	FFmpegBin     string `yaml:"ffmpegBin"`
	FFprobeBin    string `yaml:"ffprobeBin"`
	CompositorBin string `yaml:"compositorBin"`

	ScratchDir string `yaml:"scratchDir"`

	// Subprocess pool ceilings.
	MaxAudioProcs int `yaml:"maxAudioProcs"`
	MaxProbeProcs int `yaml:"maxProbeProcs"`
	MaxEncodeJobs int `yaml:"maxEncodeJobs"`

	// CanvasRenderer selects the 3-process compositor pipeline for editor renders.
	CanvasRenderer bool `yaml:"canvasRenderer"`

	// HostAlias is the hostname that replaces loopback addresses when the
	// service runs inside a container.
	HostAlias string `yaml:"hostAlias"`

	MetricsEnabled bool   `yaml:"metricsEnabled"`
	MetricsAddr    string `yaml:"metricsAddr"`

	RateLimitEnabled bool `yaml:"rateLimitEnabled"`
	RateLimitRPM     int  `yaml:"rateLimitRpm"`

	// Job registry housekeeping.
	JobTTL           time.Duration `yaml:"jobTTL"`
	JobTerminalGrace time.Duration `yaml:"jobTerminalGrace"`

	Version string `yaml:"-"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		ListenAddr:       ":3456",
		LogLevel:         "info",
		FFmpegBin:        "ffmpeg",
		FFprobeBin:       "ffprobe",
		CompositorBin:    "",
		ScratchDir:       filepath.Join(os.TempDir(), scratchSubdir),
		MaxAudioProcs:    6,
		MaxProbeProcs:    6,
		MaxEncodeJobs:    3,
		CanvasRenderer:   false,
		HostAlias:        "host.docker.internal",
		MetricsEnabled:   true,
		MetricsAddr:      "",
		RateLimitEnabled: true,
		RateLimitRPM:     120,
		JobTTL:           60 * time.Minute,
		JobTerminalGrace: 5 * time.Minute,
	}
}

// Load builds the effective configuration. A missing config file is not an
// error; environment variables always win over file values.
func Load(path, version string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to env + defaults
		default:
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg.Version = version

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := ParseInt("PORT", 0); port > 0 {
		cfg.ListenAddr = fmt.Sprintf(":%d", port)
	}
	cfg.LogLevel = ParseString("LOG_LEVEL", cfg.LogLevel)
	cfg.FFmpegBin = ParseString("MEDIA_FFMPEG_BIN", cfg.FFmpegBin)
	cfg.FFprobeBin = ParseString("MEDIA_FFPROBE_BIN", cfg.FFprobeBin)
	cfg.CompositorBin = ParseString("MEDIA_COMPOSITOR_BIN", cfg.CompositorBin)
	cfg.ScratchDir = ParseString("MEDIA_SCRATCH_DIR", cfg.ScratchDir)
	cfg.MaxAudioProcs = ParseInt("MEDIA_MAX_AUDIO_PROCS", cfg.MaxAudioProcs)
	cfg.MaxProbeProcs = ParseInt("MEDIA_MAX_PROBE_PROCS", cfg.MaxProbeProcs)
	cfg.MaxEncodeJobs = ParseInt("MEDIA_MAX_ENCODE_JOBS", cfg.MaxEncodeJobs)
	cfg.CanvasRenderer = ParseBool("CAP_CANVAS_RENDERER", cfg.CanvasRenderer)
	cfg.HostAlias = ParseString("MEDIA_HOST_ALIAS", cfg.HostAlias)
	cfg.MetricsEnabled = ParseBool("MEDIA_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.MetricsAddr = ParseString("MEDIA_METRICS_ADDR", cfg.MetricsAddr)
	cfg.RateLimitEnabled = ParseBool("MEDIA_RATE_LIMIT_ENABLED", cfg.RateLimitEnabled)
	cfg.RateLimitRPM = ParseInt("MEDIA_RATE_LIMIT_RPM", cfg.RateLimitRPM)
	cfg.JobTTL = ParseDuration("MEDIA_JOB_TTL", cfg.JobTTL)
	cfg.JobTerminalGrace = ParseDuration("MEDIA_JOB_TERMINAL_GRACE", cfg.JobTerminalGrace)
}

func (c Config) validate() error {
	if c.MaxAudioProcs <= 0 || c.MaxProbeProcs <= 0 || c.MaxEncodeJobs <= 0 {
		return fmt.Errorf("pool ceilings must be positive (audio=%d probe=%d encode=%d)",
			c.MaxAudioProcs, c.MaxProbeProcs, c.MaxEncodeJobs)
	}
	if c.ScratchDir == "" {
		return fmt.Errorf("scratch directory must not be empty")
	}
	if c.JobTTL <= 0 || c.JobTerminalGrace <= 0 {
		return fmt.Errorf("job TTL and terminal grace must be positive")
	}
	return nil
}
