// SPDX-License-Identifier: MIT

package procpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStallWatchdogFires(t *testing.T) {
	var fired atomic.Int32
	w := NewStallWatchdog(50*time.Millisecond, 50*time.Millisecond, func() {
		fired.Add(1)
	})
	defer w.Stop()

	assert.Eventually(t, func() bool { return w.Stalled() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestStallWatchdogTouchRearms(t *testing.T) {
	w := NewStallWatchdog(150*time.Millisecond, 150*time.Millisecond, nil)
	defer w.Stop()

	for i := 0; i < 5; i++ {
		time.Sleep(50 * time.Millisecond)
		w.Touch(float64(i * 10))
	}
	assert.False(t, w.Stalled())
}

func TestStallWatchdogStopPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	w := NewStallWatchdog(50*time.Millisecond, 50*time.Millisecond, func() {
		fired.Add(1)
	})
	w.Stop()

	time.Sleep(150 * time.Millisecond)
	assert.False(t, w.Stalled())
	assert.Zero(t, fired.Load())
}

func TestStallWatchdogNearEndShortens(t *testing.T) {
	w := NewStallWatchdog(10*time.Second, 50*time.Millisecond, nil)
	defer w.Stop()

	// Crossing the near-end threshold swaps in the short bound.
	w.Touch(99)
	assert.Eventually(t, func() bool { return w.Stalled() }, 2*time.Second, 10*time.Millisecond)
}

func TestStallWatchdogDefaults(t *testing.T) {
	w := NewStallWatchdog(0, 0, nil)
	defer w.Stop()
	assert.Equal(t, DefaultStallTimeout, w.base)
	assert.Equal(t, NearEndStallTimeout, w.nearEnd)
}
