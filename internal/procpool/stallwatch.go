// SPDX-License-Identifier: MIT

package procpool

import (
	"sync"
	"time"

	"github.com/capso/media-server/internal/metrics"
)

const (
	// DefaultStallTimeout is the bound on time without measured progress.
	DefaultStallTimeout = 180 * time.Second
	// NearEndStallTimeout replaces the bound once progress reaches 98%.
	// The final muxing pass emits no out_time updates, so a long stall bound
	// there only delays failure detection.
	NearEndStallTimeout = 60 * time.Second
	// nearEndThreshold is the progress percentage that shortens the bound.
	nearEndThreshold = 98.0
)

// StallWatchdog kills an encode whose progress counter stops advancing.
// It is armed on creation and re-armed by every Touch.
type StallWatchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	base    time.Duration
	nearEnd time.Duration
	stalled bool
	stopped bool
	onStall func()
}

// NewStallWatchdog arms a watchdog. onStall runs at most once, from the
// timer goroutine.
func NewStallWatchdog(base, nearEnd time.Duration, onStall func()) *StallWatchdog {
	if base <= 0 {
		base = DefaultStallTimeout
	}
	if nearEnd <= 0 {
		nearEnd = NearEndStallTimeout
	}
	w := &StallWatchdog{base: base, nearEnd: nearEnd, onStall: onStall}
	w.timer = time.AfterFunc(base, w.fire)
	return w
}

func (w *StallWatchdog) fire() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stalled = true
	w.mu.Unlock()

	metrics.TranscodeStalls.Inc()
	if w.onStall != nil {
		w.onStall()
	}
}

// Touch records measured progress and re-arms the timer.
func (w *StallWatchdog) Touch(progressPct float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || w.stalled {
		return
	}
	d := w.base
	if progressPct >= nearEndThreshold {
		d = w.nearEnd
	}
	w.timer.Reset(d)
}

// Stop disarms the watchdog.
func (w *StallWatchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.timer.Stop()
}

// Stalled reports whether the watchdog fired.
func (w *StallWatchdog) Stalled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stalled
}
