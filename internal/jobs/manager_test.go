// SPDX-License-Identifier: MIT

package jobs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/metrics"
)

func TestCreateAndGet(t *testing.T) {
	m := NewManager(nil, 0, 0)
	j := m.Create("video-1", "user-1", "https://example.com/hook", func() {})

	got, ok := m.Get(j.ID)
	require.True(t, ok)
	assert.Equal(t, PhaseQueued, got.Phase())
	assert.Equal(t, "video-1", got.VideoID)

	_, ok = m.Get("nope")
	assert.False(t, ok)
}

func TestList(t *testing.T) {
	m := NewManager(nil, 0, 0)
	m.Create("a", "", "", func() {})
	m.Create("b", "", "", func() {})
	assert.Len(t, m.List(), 2)
}

func TestCancelRunningJob(t *testing.T) {
	m := NewManager(nil, 0, 0)

	aborted := false
	j := m.Create("video-1", "", "", func() { aborted = true })
	j.Transition(PhaseProcessing, "")

	cleaned := false
	j.AddCleanup(func() { cleaned = true })

	require.NoError(t, m.Cancel(j.ID))
	assert.True(t, aborted)
	assert.True(t, cleaned)
	assert.Equal(t, PhaseCancelled, j.Phase())
}

func TestCancelTerminalJob(t *testing.T) {
	m := NewManager(nil, 0, 0)
	j := m.Create("video-1", "", "", func() {})
	j.Complete("url")

	err := m.Cancel(j.ID)
	assert.True(t, mediaerr.Is(err, mediaerr.KindInvalidState))
}

func TestCancelUnknownJob(t *testing.T) {
	m := NewManager(nil, 0, 0)
	err := m.Cancel("nope")
	assert.True(t, mediaerr.Is(err, mediaerr.KindNotFound))
}

func TestActiveGaugeCountsNonTerminalOnly(t *testing.T) {
	base := testutil.ToFloat64(metrics.JobsActive)
	m := NewManager(nil, time.Hour, 5*time.Minute)

	j := m.Create("video-1", "", "", func() {})
	assert.Equal(t, base+1, testutil.ToFloat64(metrics.JobsActive))

	// A terminal job riding out the grace window no longer counts as active,
	// even while it is still visible in the registry.
	j.Complete("url")
	_, ok := m.Get(j.ID)
	require.True(t, ok)
	assert.Equal(t, base, testutil.ToFloat64(metrics.JobsActive))

	// Eviction after the grace window must not decrement a second time.
	m.sweep(time.Now().Add(10 * time.Minute))
	assert.Equal(t, base, testutil.ToFloat64(metrics.JobsActive))

	// An abandoned job settles through cancellation exactly once.
	abandoned := m.Create("video-2", "", "", func() {})
	assert.Equal(t, base+1, testutil.ToFloat64(metrics.JobsActive))
	m.sweep(time.Now().Add(2 * time.Hour))
	assert.Equal(t, base, testutil.ToFloat64(metrics.JobsActive))
	assert.Equal(t, PhaseCancelled, abandoned.Phase())
}

func TestSweepEvictsExpiredJobs(t *testing.T) {
	m := NewManager(nil, time.Hour, 5*time.Minute)

	aborted := false
	cleaned := false
	j := m.Create("video-1", "", "", func() { aborted = true })
	j.AddCleanup(func() { cleaned = true })

	// Within the TTL nothing happens.
	m.sweep(time.Now())
	_, ok := m.Get(j.ID)
	assert.True(t, ok)

	// Past the TTL the abandoned job is aborted, cleaned and removed.
	m.sweep(time.Now().Add(2 * time.Hour))
	_, ok = m.Get(j.ID)
	assert.False(t, ok)
	assert.True(t, aborted)
	assert.True(t, cleaned)
}

func TestSweepEvictsTerminalAfterGrace(t *testing.T) {
	m := NewManager(nil, time.Hour, 5*time.Minute)
	j := m.Create("video-1", "", "", func() {})
	j.Complete("url")

	// Inside the grace window late pollers still see the final state.
	m.sweep(time.Now().Add(time.Minute))
	_, ok := m.Get(j.ID)
	assert.True(t, ok)

	m.sweep(time.Now().Add(10 * time.Minute))
	_, ok = m.Get(j.ID)
	assert.False(t, ok)
}
