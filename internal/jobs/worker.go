// SPDX-License-Identifier: MIT

package jobs

import (
	"context"

	"github.com/capso/media-server/internal/canvas"
	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/probe"
	"github.com/capso/media-server/internal/renderspec"
	"github.com/capso/media-server/internal/tempfile"
	"github.com/capso/media-server/internal/timeline"
	"github.com/capso/media-server/internal/transcode"
	"github.com/capso/media-server/internal/uploader"
)

// ProcessRequest is the validated body of a plain transcode job.
type ProcessRequest struct {
	VideoID                string `json:"videoId"`
	UserID                 string `json:"userId"`
	VideoURL               string `json:"videoUrl"`
	OutputPresignedURL     string `json:"outputPresignedUrl"`
	ThumbnailPresignedURL  string `json:"thumbnailPresignedUrl,omitempty"`
	WebhookURL             string `json:"webhookUrl,omitempty"`
	MaxWidth               int    `json:"maxWidth,omitempty"`
	MaxHeight              int    `json:"maxHeight,omitempty"`
	CRF                    int    `json:"crf,omitempty"`
	Preset                 string `json:"preset,omitempty"`
	RemuxOnly              bool   `json:"remuxOnly,omitempty"`
}

// TimelineConfig carries the editor's segment list.
type TimelineConfig struct {
	Segments []timeline.Segment `json:"segments"`
}

// ProjectConfig is the editor render configuration: the timeline plus the
// canvas decoration settings.
type ProjectConfig struct {
	Timeline TimelineConfig `json:"timeline"`
	renderspec.Config
	CameraURL string `json:"cameraUrl,omitempty"`
}

// EditorRequest is the validated body of an editor render job.
type EditorRequest struct {
	VideoID            string        `json:"videoId"`
	UserID             string        `json:"userId"`
	VideoURL           string        `json:"videoUrl"`
	OutputPresignedURL string        `json:"outputPresignedUrl"`
	WebhookURL         string        `json:"webhookUrl,omitempty"`
	ProjectConfig      ProjectConfig `json:"projectConfig"`
}

// Worker executes jobs in the background, driving the phase machine.
type Worker struct {
	Prober    *probe.Engine
	Engine    *transcode.Engine
	Canvas    *canvas.Pipeline
	Uploader  *uploader.Client
	Store     *tempfile.Store
	UseCanvas bool
}

// finish resolves the job's outcome: cancellation wins over any error the
// killed subprocess surfaced afterwards.
func (w *Worker) finish(ctx context.Context, j *Job, err error) {
	if j.Phase().Terminal() {
		return
	}
	if ctx.Err() != nil {
		j.markCancelled()
		return
	}
	if err != nil {
		j.Fail(err)
	}
}

// RunProcess drives a plain transcode job to completion.
func (w *Worker) RunProcess(ctx context.Context, j *Job, req ProcessRequest) {
	ctx = log.ContextWithJobID(ctx, j.ID)

	j.Transition(PhaseDownloading, "downloading source")
	src, _, err := w.Uploader.DownloadToTemp(ctx, req.VideoURL, "mp4")
	if err != nil {
		w.finish(ctx, j, err)
		return
	}
	j.AddCleanup(src.Cleanup)

	j.Transition(PhaseProbing, "probing source")
	meta, err := w.Prober.Probe(ctx, src.Path)
	if err != nil {
		w.finish(ctx, j, err)
		return
	}
	j.SetMetadata(meta)

	j.Transition(PhaseProcessing, "transcoding")
	res, err := w.Engine.ProcessVideo(ctx, src.Path, meta, transcode.Options{
		MaxWidth:  req.MaxWidth,
		MaxHeight: req.MaxHeight,
		CRF:       req.CRF,
		Preset:    req.Preset,
		RemuxOnly: req.RemuxOnly,
	}, j.SetProgress)
	if err != nil {
		w.finish(ctx, j, err)
		return
	}
	j.AddCleanup(res.Output.Cleanup)

	j.Transition(PhaseUploading, "uploading output")
	if err := w.Uploader.UploadFile(ctx, res.Output.Path, req.OutputPresignedURL, "video/mp4"); err != nil {
		w.finish(ctx, j, err)
		return
	}

	if req.ThumbnailPresignedURL != "" {
		j.Transition(PhaseThumbnail, "generating thumbnail")
		frame, err := w.Engine.Thumbnail(ctx, res.Output.Path, res.Duration, transcode.ThumbnailOptions{Timestamp: -1})
		if err != nil {
			// A missing thumbnail does not fail an already-delivered video.
			logger := log.FromContext(ctx)
			logger.Warn().Err(err).Msg("thumbnail generation failed")
		} else if err := w.Uploader.UploadBytes(ctx, frame, req.ThumbnailPresignedURL, "image/jpeg"); err != nil {
			logger := log.FromContext(ctx)
			logger.Warn().Err(err).Msg("thumbnail upload failed")
		}
	}

	j.Complete(req.OutputPresignedURL)
}

// RunEditor drives an editor render job to completion, choosing between the
// filter-graph renderer and the canvas pipeline.
func (w *Worker) RunEditor(ctx context.Context, j *Job, req EditorRequest) {
	ctx = log.ContextWithJobID(ctx, j.ID)

	j.Transition(PhaseDownloading, "downloading source")
	src, _, err := w.Uploader.DownloadToTemp(ctx, req.VideoURL, "mp4")
	if err != nil {
		w.finish(ctx, j, err)
		return
	}
	j.AddCleanup(src.Cleanup)

	j.Transition(PhaseProbing, "probing source")
	meta, err := w.Prober.Probe(ctx, src.Path)
	if err != nil {
		w.finish(ctx, j, err)
		return
	}
	j.SetMetadata(meta)

	j.Transition(PhaseProcessing, "rendering timeline")

	cfg := req.ProjectConfig
	renderCfg := cfg.Config

	var output *tempfile.Handle
	if w.UseCanvas && w.Canvas != nil {
		res, err := w.Canvas.Render(ctx, canvas.Request{
			URL:       src.Path,
			CameraURL: cfg.CameraURL,
			Meta:      meta,
			Segments:  cfg.Timeline.Segments,
			Render:    &renderCfg,
		}, j.SetProgress)
		if err != nil {
			w.finish(ctx, j, err)
			return
		}
		output = res.Output
	} else {
		res, err := w.Engine.ProcessVideoWithTimeline(ctx, src.Path, meta, cfg.Timeline.Segments, &renderCfg, j.SetProgress)
		if err != nil {
			w.finish(ctx, j, err)
			return
		}
		output = res.Output
	}
	j.AddCleanup(output.Cleanup)

	j.Transition(PhaseUploading, "uploading output")
	if err := w.Uploader.UploadFile(ctx, output.Path, req.OutputPresignedURL, "video/mp4"); err != nil {
		w.finish(ctx, j, err)
		return
	}

	j.Complete(req.OutputPresignedURL)
}
