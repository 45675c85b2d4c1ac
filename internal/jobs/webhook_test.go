// SPDX-License-Identifier: MIT

package jobs

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capso/media-server/internal/netbridge"
)

func TestNotifierPostsPayload(t *testing.T) {
	t.Setenv("MEDIA_IN_CONTAINER", "0")

	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(netbridge.New("host.docker.internal"))
	n.Send(srv.URL, Snapshot{
		JobID:    "job-1",
		VideoID:  "video-1",
		Phase:    PhaseComplete,
		Progress: 100,
	})

	select {
	case p := <-received:
		assert.Equal(t, "job-1", p.JobID)
		assert.Equal(t, PhaseComplete, p.Phase)
		assert.Equal(t, 100.0, p.Progress)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestNotifierSwallowsFailures(t *testing.T) {
	t.Setenv("MEDIA_IN_CONTAINER", "0")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(netbridge.New("host.docker.internal"))

	// Neither a failing receiver nor an unreachable one may panic or block.
	n.Send(srv.URL, Snapshot{JobID: "job-1", Phase: PhaseError})
	n.Send("http://127.0.0.1:1/unreachable", Snapshot{JobID: "job-2", Phase: PhaseComplete})
	time.Sleep(100 * time.Millisecond)
}

func TestNotifierRateLimitsProgressTicks(t *testing.T) {
	t.Setenv("MEDIA_IN_CONTAINER", "0")
	n := NewNotifier(netbridge.New("host.docker.internal"))

	// Exhaust the burst; subsequent non-terminal sends are dropped before any
	// network activity, so an unroutable URL is safe here.
	for i := 0; i < 100; i++ {
		n.Send("http://127.0.0.1:1/hook", Snapshot{JobID: "job-1", Phase: PhaseProcessing, Progress: float64(i)})
	}
	assert.False(t, n.limiter.Allow())
}
