// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	ffmpegCheckTimeout = 5 * time.Second
	// ffmpegCacheTTL bounds how often the version probe actually runs; health
	// endpoints may be polled every few seconds.
	ffmpegCacheTTL = 30 * time.Second
)

// FFmpegChecker probes the ffmpeg binary and caches the result.
type FFmpegChecker struct {
	bin string

	mu        sync.Mutex
	cached    FFmpegStatus
	checkedAt time.Time
}

// NewFFmpegChecker creates a checker for the given binary.
func NewFFmpegChecker(bin string) *FFmpegChecker {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegChecker{bin: bin}
}

// Status returns the cached availability, refreshing it when stale.
func (c *FFmpegChecker) Status(ctx context.Context) FFmpegStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.checkedAt) < ffmpegCacheTTL {
		return c.cached
	}

	ctx, cancel := context.WithTimeout(ctx, ffmpegCheckTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, c.bin, "-version").Output()
	status := FFmpegStatus{}
	if err == nil {
		status.Available = true
		status.Version = parseFFmpegVersion(string(out))
	}

	c.cached = status
	c.checkedAt = time.Now()
	return status
}

// parseFFmpegVersion extracts the version token from the banner's first
// line, e.g. "ffmpeg version 6.1.1 Copyright ...".
func parseFFmpegVersion(banner string) string {
	line, _, _ := strings.Cut(banner, "\n")
	fields := strings.Fields(line)
	for i, f := range fields {
		if f == "version" && i+1 < len(fields) {
			return fields[i+1]
		}
	}
	return ""
}
