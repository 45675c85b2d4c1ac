// SPDX-License-Identifier: MIT

// Package jobs holds the in-memory registry of async processing jobs: phase
// transitions, progress accounting, webhook fan-out and TTL eviction.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/metrics"
	"github.com/capso/media-server/internal/probe"
)

// Phase is a job lifecycle state.
type Phase string

const (
	PhaseQueued      Phase = "queued"
	PhaseDownloading Phase = "downloading"
	PhaseProbing     Phase = "probing"
	PhaseProcessing  Phase = "processing"
	PhaseUploading   Phase = "uploading"
	PhaseThumbnail   Phase = "generating_thumbnail"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
	PhaseCancelled   Phase = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

// phaseOrder enforces forward-only movement between non-terminal phases.
var phaseOrder = map[Phase]int{
	PhaseQueued:      0,
	PhaseDownloading: 1,
	PhaseProbing:     2,
	PhaseProcessing:  3,
	PhaseUploading:   4,
	PhaseThumbnail:   5,
}

// ErrorInfo is the wire shape of a failed job's error.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Snapshot is the externally visible job state.
type Snapshot struct {
	JobID     string               `json:"jobId"`
	VideoID   string               `json:"videoId"`
	UserID    string               `json:"userId,omitempty"`
	Phase     Phase                `json:"phase"`
	Progress  float64              `json:"progress"`
	Message   string               `json:"message,omitempty"`
	Error     *ErrorInfo           `json:"error,omitempty"`
	Metadata  *probe.VideoMetadata `json:"metadata,omitempty"`
	OutputURL string               `json:"outputUrl,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Job is one async processing job. All mutation goes through its methods;
// the registry only ever holds the pointer.
type Job struct {
	ID         string
	VideoID    string
	UserID     string
	WebhookURL string

	mu        sync.Mutex
	phase     Phase
	progress  float64
	message   string
	errInfo   *ErrorInfo
	metadata  *probe.VideoMetadata
	outputURL string
	createdAt time.Time
	updatedAt time.Time

	cancel      context.CancelFunc
	cleanups    []func()
	cleanupOnce sync.Once

	notifier *Notifier
}

// Snapshot returns a copy of the current state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() Snapshot {
	return Snapshot{
		JobID:     j.ID,
		VideoID:   j.VideoID,
		UserID:    j.UserID,
		Phase:     j.phase,
		Progress:  j.progress,
		Message:   j.message,
		Error:     j.errInfo,
		Metadata:  j.metadata,
		OutputURL: j.outputURL,
		CreatedAt: j.createdAt,
		UpdatedAt: j.updatedAt,
	}
}

// Phase returns the current phase.
func (j *Job) Phase() Phase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase
}

// UpdatedAt returns the last-touched time, driving TTL eviction.
func (j *Job) UpdatedAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.updatedAt
}

// Transition moves the job forward. Backwards moves between non-terminal
// phases and any move out of a terminal phase are ignored.
func (j *Job) Transition(phase Phase, message string) bool {
	j.mu.Lock()
	if j.phase.Terminal() {
		j.mu.Unlock()
		return false
	}
	if !phase.Terminal() && phaseOrder[phase] < phaseOrder[j.phase] {
		j.mu.Unlock()
		return false
	}
	j.phase = phase
	j.message = message
	j.updatedAt = time.Now()
	snap := j.snapshotLocked()
	j.mu.Unlock()

	metrics.JobTransitions.WithLabelValues(string(phase)).Inc()
	if phase.Terminal() {
		metrics.JobsActive.Dec()
	}
	logger := log.WithComponent("jobs")
	logger.Info().
		Str("job_id", j.ID).
		Str("phase", string(phase)).
		Msg("job transition")

	j.notify(snap)
	return true
}

// SetProgress records measured progress. Readings never go backwards during
// a run; out-of-order updates from racing readers are dropped.
func (j *Job) SetProgress(pct float64) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	j.mu.Lock()
	if j.phase.Terminal() || pct <= j.progress {
		j.mu.Unlock()
		return
	}
	j.progress = pct
	j.updatedAt = time.Now()
	snap := j.snapshotLocked()
	j.mu.Unlock()

	j.notify(snap)
}

// SetMetadata attaches probe output for status and webhook consumers.
func (j *Job) SetMetadata(meta *probe.VideoMetadata) {
	j.mu.Lock()
	j.metadata = meta
	j.updatedAt = time.Now()
	j.mu.Unlock()
}

// Complete marks the job done with its delivered output location.
func (j *Job) Complete(outputURL string) {
	j.mu.Lock()
	if j.phase.Terminal() {
		j.mu.Unlock()
		return
	}
	j.phase = PhaseComplete
	j.progress = 100
	j.message = ""
	j.outputURL = outputURL
	j.updatedAt = time.Now()
	snap := j.snapshotLocked()
	j.mu.Unlock()

	metrics.JobTransitions.WithLabelValues(string(PhaseComplete)).Inc()
	metrics.JobsActive.Dec()
	logger := log.WithComponent("jobs")
	logger.Info().Str("job_id", j.ID).Msg("job complete")

	j.notify(snap)
	j.runCleanups()
}

// Fail marks the job failed with a classified error and runs its cleanups.
func (j *Job) Fail(err error) {
	info := &ErrorInfo{Code: string(mediaerr.KindFFmpegError), Message: "processing failed"}
	if kind := mediaerr.KindOf(err); kind != "" {
		info.Code = string(kind)
	}
	if err != nil {
		info.Message = err.Error()
		info.Details = mediaerr.DetailsOf(err)
	}

	j.mu.Lock()
	if j.phase.Terminal() {
		j.mu.Unlock()
		return
	}
	j.phase = PhaseError
	j.errInfo = info
	j.updatedAt = time.Now()
	snap := j.snapshotLocked()
	j.mu.Unlock()

	metrics.JobTransitions.WithLabelValues(string(PhaseError)).Inc()
	metrics.JobsActive.Dec()
	logger := log.WithComponent("jobs")
	logger.Error().
		Str("job_id", j.ID).
		Str("code", info.Code).
		Str("error", info.Message).
		Msg("job failed")

	j.notify(snap)
	j.runCleanups()
}

// markCancelled is driven by Manager.Cancel, which already fired the abort.
func (j *Job) markCancelled() {
	j.mu.Lock()
	if j.phase.Terminal() {
		j.mu.Unlock()
		return
	}
	j.phase = PhaseCancelled
	j.updatedAt = time.Now()
	snap := j.snapshotLocked()
	j.mu.Unlock()

	metrics.JobTransitions.WithLabelValues(string(PhaseCancelled)).Inc()
	metrics.JobsActive.Dec()
	logger := log.WithComponent("jobs")
	logger.Info().Str("job_id", j.ID).Msg("job cancelled")

	j.notify(snap)
	j.runCleanups()
}

// AddCleanup registers a function run exactly once when the job reaches a
// terminal state or is evicted. Typically temp-file handles.
func (j *Job) AddCleanup(fn func()) {
	j.mu.Lock()
	j.cleanups = append(j.cleanups, fn)
	j.mu.Unlock()
}

func (j *Job) runCleanups() {
	j.cleanupOnce.Do(func() {
		j.mu.Lock()
		fns := j.cleanups
		j.cleanups = nil
		j.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}

func (j *Job) notify(snap Snapshot) {
	if j.notifier == nil || j.WebhookURL == "" {
		return
	}
	j.notifier.Send(j.WebhookURL, snap)
}
