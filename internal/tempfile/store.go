// SPDX-License-Identifier: MIT

// Package tempfile allocates uniquely named scratch files and guarantees
// their cleanup. Every file the service writes to disk lives under a single
// service-owned directory so a sweep can purge leftovers.
package tempfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/metrics"
)

// Handle is an exclusively owned scratch file. Cleanup is idempotent and
// tolerates the file already being gone.
type Handle struct {
	Path string

	once sync.Once
}

// Cleanup unlinks the file. Calling it twice is a no-op on the second call.
func (h *Handle) Cleanup() {
	h.once.Do(func() {
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			logger := log.WithComponent("tempfile")
			logger.Warn().
				Err(err).
				Str("path", h.Path).
				Msg("failed to remove temp file")
		}
	})
}

// Store allocates temp files under a fixed scratch directory.
type Store struct {
	dir string
}

// NewStore creates the scratch directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the scratch directory path.
func (s *Store) Dir() string { return s.dir }

// New allocates a unique path with the given extension. The file itself is
// not created; ownership of the path transfers to the returned handle.
func (s *Store) New(ext string) *Handle {
	ext = strings.TrimPrefix(ext, ".")
	name := uuid.NewString()
	if ext != "" {
		name = name + "." + ext
	}
	return &Handle{Path: filepath.Join(s.dir, name)}
}

// Sweep removes files older than maxAge and returns how many were deleted.
func (s *Store) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		logger := log.WithComponent("tempfile")
		logger.Warn().Err(err).Str("dir", s.dir).Msg("sweep failed to read scratch dir")
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	cleaned := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			cleaned++
		}
	}
	if cleaned > 0 {
		metrics.TempFilesCleaned.Add(float64(cleaned))
		logger := log.WithComponent("tempfile")
		logger.Info().Int("cleaned", cleaned).Msg("scratch sweep removed stale files")
	}
	return cleaned
}
