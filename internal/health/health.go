// SPDX-License-Identifier: MIT

// Package health reports service liveness: ffmpeg availability, subprocess
// census and job counts. Suitable for Docker HEALTHCHECK and load-balancer
// probes.
package health

import (
	"context"
	"time"
)

// Status is the overall health verdict.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is one component's verdict.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Response is the full health payload.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	FFmpeg    FFmpegStatus           `json:"ffmpeg"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// FFmpegStatus reports whether the encoder binary is usable.
type FFmpegStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

// Checker is a named component check.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager aggregates component checks into one verdict.
type Manager struct {
	version  string
	ffmpeg   *FFmpegChecker
	checkers []Checker
}

// NewManager creates a manager. The ffmpeg checker is mandatory: a media
// server without a working ffmpeg is unhealthy by definition.
func NewManager(version string, ffmpeg *FFmpegChecker) *Manager {
	return &Manager{version: version, ffmpeg: ffmpeg}
}

// RegisterChecker adds an optional component check.
func (m *Manager) RegisterChecker(c Checker) {
	m.checkers = append(m.checkers, c)
}

// Health runs all checks. verbose includes per-component results.
func (m *Manager) Health(ctx context.Context, verbose bool) Response {
	resp := Response{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		FFmpeg:    m.ffmpeg.Status(ctx),
	}
	if !resp.FFmpeg.Available {
		resp.Status = StatusUnhealthy
	}

	if verbose && len(m.checkers) > 0 {
		resp.Checks = make(map[string]CheckResult, len(m.checkers))
		for _, c := range m.checkers {
			result := c.Check(ctx)
			resp.Checks[c.Name()] = result
			switch result.Status {
			case StatusUnhealthy:
				resp.Status = StatusUnhealthy
			case StatusDegraded:
				if resp.Status == StatusHealthy {
					resp.Status = StatusDegraded
				}
			}
		}
	}

	return resp
}
