// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/metrics"
)

const (
	// DefaultTTL evicts any job untouched for this long.
	DefaultTTL = 60 * time.Minute
	// DefaultTerminalGrace keeps finished jobs visible to late pollers.
	DefaultTerminalGrace = 5 * time.Minute
	// sweepInterval is the eviction cadence.
	sweepInterval = 5 * time.Minute
)

// Manager is the in-memory job registry.
type Manager struct {
	mu   sync.Mutex
	jobs map[string]*Job

	notifier *Notifier
	ttl      time.Duration
	grace    time.Duration
}

// NewManager creates a registry. Zero durations select the defaults.
func NewManager(notifier *Notifier, ttl, grace time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if grace <= 0 {
		grace = DefaultTerminalGrace
	}
	return &Manager{
		jobs:     make(map[string]*Job),
		notifier: notifier,
		ttl:      ttl,
		grace:    grace,
	}
}

// Create registers a new queued job. The cancel function aborts the job's
// background work; ownership of registered cleanups transfers to the job.
func (m *Manager) Create(videoID, userID, webhookURL string, cancel context.CancelFunc) *Job {
	now := time.Now()
	j := &Job{
		ID:         uuid.NewString(),
		VideoID:    videoID,
		UserID:     userID,
		WebhookURL: webhookURL,
		phase:      PhaseQueued,
		createdAt:  now,
		updatedAt:  now,
		cancel:     cancel,
		notifier:   m.notifier,
	}

	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()

	metrics.JobsActive.Inc()
	metrics.JobTransitions.WithLabelValues(string(PhaseQueued)).Inc()
	logger := log.WithComponent("jobs")
	logger.Info().
		Str("job_id", j.ID).
		Str("video_id", videoID).
		Msg("job created")
	return j
}

// Get returns the job with the given id.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// List returns snapshots of every registered job.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	all := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		all = append(all, j)
	}
	m.mu.Unlock()

	out := make([]Snapshot, 0, len(all))
	for _, j := range all {
		out = append(out, j.Snapshot())
	}
	return out
}

// Cancel aborts a running job. Terminal jobs reject with INVALID_STATE;
// unknown ids with NOT_FOUND. Partial outputs are never uploaded because the
// abort kills the active subprocess before the upload phase.
func (m *Manager) Cancel(id string) error {
	j, ok := m.Get(id)
	if !ok {
		return mediaerr.New(mediaerr.KindNotFound, "job not found")
	}
	if j.Phase().Terminal() {
		return mediaerr.New(mediaerr.KindInvalidState, "job already finished")
	}
	if j.cancel != nil {
		j.cancel()
	}
	j.markCancelled()
	return nil
}

// Run drives the eviction sweep until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(time.Now())
		}
	}
}

// sweep removes jobs untouched beyond the TTL and terminal jobs past their
// grace window, firing their cleanups.
func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	var evict []*Job
	for id, j := range m.jobs {
		age := now.Sub(j.UpdatedAt())
		if age > m.ttl || (j.Phase().Terminal() && age > m.grace) {
			evict = append(evict, j)
			delete(m.jobs, id)
		}
	}
	m.mu.Unlock()

	for _, j := range evict {
		// An evicted non-terminal job was abandoned; abort whatever is left
		// and settle it so the active gauge drops exactly once.
		if !j.Phase().Terminal() {
			if j.cancel != nil {
				j.cancel()
			}
			j.markCancelled()
		}
		j.runCleanups()
		logger := log.WithComponent("jobs")
		logger.Info().
			Str("job_id", j.ID).
			Str("phase", string(j.Phase())).
			Msg("job evicted")
	}
}
