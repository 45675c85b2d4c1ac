// SPDX-License-Identifier: MIT

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/metrics"
	"github.com/capso/media-server/internal/netbridge"
)

const webhookTimeout = 10 * time.Second

// Notifier posts job state to a caller-provided webhook. Delivery is
// best-effort: failures are logged and never affect job state. A token
// bucket caps the outbound rate so a fast encode cannot flood the receiver
// with per-second progress ticks.
type Notifier struct {
	bridge  *netbridge.Bridge
	limiter *rate.Limiter
}

// NewNotifier creates a notifier. Progress updates beyond the rate cap are
// dropped; transitions always go out because they carry state changes.
func NewNotifier(bridge *netbridge.Bridge) *Notifier {
	return &Notifier{
		bridge:  bridge,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

// webhookPayload is the wire shape posted on every transition and progress
// update.
type webhookPayload struct {
	JobID     string      `json:"jobId"`
	VideoID   string      `json:"videoId"`
	Phase     Phase       `json:"phase"`
	Progress  float64     `json:"progress"`
	Message   string      `json:"message,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Metadata  interface{} `json:"metadata,omitempty"`
	OutputURL string      `json:"outputUrl,omitempty"`
}

// Send posts the snapshot asynchronously.
func (n *Notifier) Send(url string, snap Snapshot) {
	// Terminal and transition events always deliver; pure progress ticks are
	// subject to the rate cap.
	if !snap.Phase.Terminal() && !n.limiter.Allow() {
		return
	}
	go n.post(url, snap)
}

func (n *Notifier) post(url string, snap Snapshot) {
	payload := webhookPayload{
		JobID:     snap.JobID,
		VideoID:   snap.VideoID,
		Phase:     snap.Phase,
		Progress:  snap.Progress,
		Message:   snap.Message,
		Error:     snap.Error,
		OutputURL: snap.OutputURL,
	}
	if snap.Metadata != nil {
		payload.Metadata = snap.Metadata
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := n.bridge.NewRequest(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logFailure(snap.JobID, url, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.bridge.Do(req)
	if err != nil {
		n.logFailure(snap.JobID, url, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.WebhookFailures.Inc()
		logger := log.WithComponent("webhook")
		logger.Warn().
			Str("job_id", snap.JobID).
			Str("url", url).
			Int("status", resp.StatusCode).
			Msg("webhook returned non-2xx")
	}
}

func (n *Notifier) logFailure(jobID, url string, err error) {
	metrics.WebhookFailures.Inc()
	logger := log.WithComponent("webhook")
	logger.Warn().
		Str("job_id", jobID).
		Str("url", url).
		Err(err).
		Msg("webhook delivery failed")
}
