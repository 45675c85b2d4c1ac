// SPDX-License-Identifier: MIT

// Package transcode runs ffmpeg encode jobs: the plain web-compatible
// transcode, the timeline render with canvas decoration, and thumbnail
// capture. Every child runs under the encode admission class with both an
// absolute timeout and a progress stall watchdog.
package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/netbridge"
	"github.com/capso/media-server/internal/probe"
	"github.com/capso/media-server/internal/procpool"
	"github.com/capso/media-server/internal/renderspec"
	"github.com/capso/media-server/internal/tempfile"
	"github.com/capso/media-server/internal/timeline"
	"github.com/capso/media-server/internal/uploader"
)

const (
	// EncodeTimeout is the absolute bound on any single encode.
	EncodeTimeout = 30 * time.Minute

	// Default ceiling for "web compatible" output dimensions.
	defaultMaxWidth  = 1920
	defaultMaxHeight = 1080
)

// Options tunes the plain transcode.
type Options struct {
	// MaxWidth/MaxHeight cap the output; larger sources are scaled down
	// preserving aspect. Zero selects the 1920x1080 default.
	MaxWidth  int
	MaxHeight int

	// CRF selects x264 quality (0-51); zero keeps the default 23.
	CRF int
	// Preset selects the x264 speed/size tradeoff; empty keeps "fast".
	Preset string

	// RemuxOnly skips all re-encoding and only rewrites the container.
	RemuxOnly bool
}

// Result describes a finished encode.
type Result struct {
	Output *tempfile.Handle

	VideoReencoded bool
	AudioReencoded bool
	Duration       float64
}

// Engine runs ffmpeg under the encode pool class.
type Engine struct {
	pool   *procpool.Pool
	store  *tempfile.Store
	bridge *netbridge.Bridge
	client *uploader.Client
	bin    string
}

// NewEngine creates a transcode engine.
func NewEngine(pool *procpool.Pool, store *tempfile.Store, bridge *netbridge.Bridge, client *uploader.Client, bin string) *Engine {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Engine{pool: pool, store: store, bridge: bridge, client: client, bin: bin}
}

// inputArgs renders the -i argument list for a source URL, carrying the
// original authority as a Host header when the loopback bridge rewrote it.
func (e *Engine) inputArgs(rawURL string) ([]string, error) {
	target, hostHeader, err := e.bridge.Rewrite(rawURL)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindInvalidRequest, "invalid source URL", err)
	}
	var args []string
	if hostHeader != "" {
		args = append(args, "-headers", fmt.Sprintf("Host: %s\r\n", hostHeader))
	}
	return append(args, "-i", target), nil
}

// scaleFilter caps dimensions at maxW x maxH preserving aspect, then snaps
// both down to even values for yuv420p.
func scaleFilter(maxW, maxH int) string {
	return fmt.Sprintf(
		"scale=min(iw\\,%d):min(ih\\,%d):force_original_aspect_ratio=decrease,scale=trunc(iw/2)*2:trunc(ih/2)*2",
		maxW, maxH)
}

// ProcessVideo transcodes a source into a faststart MP4. Streams already
// within the target envelope are copied, not re-encoded.
func (e *Engine) ProcessVideo(ctx context.Context, url string, meta *probe.VideoMetadata, opts Options, onProgress func(pct float64)) (*Result, error) {
	maxW, maxH := opts.MaxWidth, opts.MaxHeight
	if maxW <= 0 {
		maxW = defaultMaxWidth
	}
	if maxH <= 0 {
		maxH = defaultMaxHeight
	}

	reencodeVideo := meta.Width > maxW || meta.Height > maxH || meta.VideoCodec != "h264"
	reencodeAudio := meta.HasAudio() && meta.AudioCodec != nil && *meta.AudioCodec != "aac"
	if opts.RemuxOnly {
		reencodeVideo = false
		reencodeAudio = false
	}

	input, err := e.inputArgs(url)
	if err != nil {
		return nil, err
	}

	out := e.store.New("mp4")
	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "error", "-progress", "pipe:1"}
	args = append(args, input...)

	crf := opts.CRF
	if crf <= 0 {
		crf = 23
	}
	preset := opts.Preset
	if preset == "" {
		preset = "fast"
	}

	if reencodeVideo {
		args = append(args,
			"-c:v", "libx264",
			"-preset", preset,
			"-crf", fmt.Sprintf("%d", crf),
			"-pix_fmt", "yuv420p",
			"-vf", scaleFilter(maxW, maxH),
		)
	} else {
		args = append(args, "-c:v", "copy")
	}

	if meta.HasAudio() {
		if reencodeAudio {
			args = append(args, "-c:a", "aac", "-b:a", "192k")
		} else {
			args = append(args, "-c:a", "copy")
		}
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-movflags", "+faststart", "-f", "mp4", out.Path)

	logger := log.FromContext(ctx)
	logger.Info().
		Str("component", "transcode").
		Bool("reencode_video", reencodeVideo).
		Bool("reencode_audio", reencodeAudio).
		Bool("remux_only", opts.RemuxOnly).
		Msg("starting transcode")

	if err := e.runEncode(ctx, args, meta.Duration, onProgress); err != nil {
		out.Cleanup()
		return nil, err
	}

	res := &Result{
		Output:         out,
		VideoReencoded: reencodeVideo,
		AudioReencoded: reencodeAudio,
		Duration:       meta.Duration,
	}
	if err := e.writeSidecar(res, meta); err != nil {
		logger := log.FromContext(ctx)
		logger.Warn().Err(err).Msg("failed to write metadata sidecar")
	}
	return res, nil
}

// ProcessVideoWithTimeline renders the edited timeline: per-segment trims
// with tempo correction, plus the canvas decoration when the project
// configuration asks for one.
func (e *Engine) ProcessVideoWithTimeline(ctx context.Context, url string, meta *probe.VideoMetadata, segments []timeline.Segment, renderCfg *renderspec.Config, onProgress func(pct float64)) (*Result, error) {
	segs := timeline.Normalize(segments, meta.Duration)
	total := timeline.TotalOutputDuration(segs)

	var layout renderspec.Layout
	if renderCfg != nil {
		var err error
		layout, err = renderspec.Compute(*renderCfg, meta.Width, meta.Height)
		if err != nil {
			return nil, mediaerr.Wrap(mediaerr.KindUnsupportedConfig, "invalid render configuration", err)
		}
	}

	input, err := e.inputArgs(url)
	if err != nil {
		return nil, err
	}
	args := []string{"-y", "-hide_banner", "-nostdin", "-loglevel", "error", "-progress", "pipe:1"}
	args = append(args, input...)

	// Remote background images are fetched up front. A failed fetch degrades
	// to the solid-color fill rather than failing the render.
	bgInput := -1
	var bgHandle *tempfile.Handle
	if layout.ShouldApply && layout.BackgroundImagePath != "" {
		path := layout.BackgroundImagePath
		if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
			handle, _, err := e.client.DownloadToTemp(ctx, path, "img")
			if err != nil {
				logger := log.FromContext(ctx)
				logger.Warn().
					Err(err).
					Str("url", path).
					Msg("background image fetch failed, falling back to solid color")
				layout.BackgroundImagePath = ""
			} else {
				bgHandle = handle
				path = handle.Path
			}
		}
		if layout.BackgroundImagePath != "" {
			args = append(args, "-loop", "1", "-i", path)
			bgInput = 1
		}
	}
	if bgHandle != nil {
		defer bgHandle.Cleanup()
	}

	graph := timeline.BuildVideoGraph(segs)
	videoLabel := timeline.VideoOut
	if layout.ShouldApply {
		graph.Append(timeline.BuildLayoutGraph(layout, total, bgInput))
		videoLabel = timeline.LayoutOut
	}

	hasAudio := meta.HasAudio()
	if hasAudio {
		graph.Append(timeline.BuildAudioGraph(segs, 0))
	}

	out := e.store.New("mp4")
	args = append(args,
		"-filter_complex", graph.String(),
		"-map", "["+videoLabel+"]",
	)
	if hasAudio {
		args = append(args, "-map", "["+timeline.AudioOut+"]", "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-t", timeline.Num(total),
		"-f", "mp4", out.Path,
	)

	logger := log.FromContext(ctx)
	logger.Info().
		Str("component", "transcode").
		Int("segments", len(segs)).
		Float64("output_duration", total).
		Bool("layout", layout.ShouldApply).
		Msg("starting timeline render")

	if err := e.runEncode(ctx, args, total, onProgress); err != nil {
		out.Cleanup()
		return nil, err
	}

	res := &Result{
		Output:         out,
		VideoReencoded: true,
		AudioReencoded: hasAudio,
		Duration:       total,
	}
	if err := e.writeSidecar(res, meta); err != nil {
		logger := log.FromContext(ctx)
		logger.Warn().Err(err).Msg("failed to write metadata sidecar")
	}
	return res, nil
}

// runEncode spawns ffmpeg, follows its -progress stream on stdout and
// classifies the outcome. The stall watchdog kills the child when the
// progress counter stops advancing.
func (e *Engine) runEncode(ctx context.Context, args []string, durationSec float64, onProgress func(pct float64)) error {
	proc, err := e.pool.Spawn(ctx, e.bin, args, procpool.SpawnOpts{
		Class:   procpool.ClassEncode,
		Timeout: EncodeTimeout,
	})
	if err != nil {
		return err
	}

	watchdog := procpool.NewStallWatchdog(0, 0, proc.Kill)
	defer watchdog.Stop()

	stderrCh := make(chan []byte, 1)
	go func() {
		tail, _ := procpool.ReadLimit(proc.Stderr, procpool.StderrTailLimit)
		stderrCh <- tail
	}()

	totalUs := int64(durationSec * 1e6)
	ParseProgress(proc.Stdout, totalUs, func(pct float64) {
		watchdog.Touch(pct)
		if onProgress != nil {
			onProgress(pct)
		}
	})

	exitCode, _ := proc.Wait(context.Background())
	watchdog.Stop()
	stderrTail := <-stderrCh

	switch {
	case watchdog.Stalled():
		return mediaerr.New(mediaerr.KindProgressStalled, "encode made no progress").
			WithDetails(string(stderrTail))
	case proc.TimedOut():
		return mediaerr.New(mediaerr.KindTimeout, "encode exceeded the time limit").
			WithDetails(string(stderrTail))
	case ctx.Err() != nil:
		return ctx.Err()
	case exitCode != 0:
		return mediaerr.New(mediaerr.KindFFmpegError,
			fmt.Sprintf("ffmpeg exited with code %d", exitCode)).
			WithDetails(string(stderrTail))
	}
	return nil
}

// sidecar is the metadata file written next to each encode output.
type sidecar struct {
	Duration       float64 `json:"duration"`
	SourceWidth    int     `json:"sourceWidth"`
	SourceHeight   int     `json:"sourceHeight"`
	VideoReencoded bool    `json:"videoReencoded"`
	AudioReencoded bool    `json:"audioReencoded"`
	CreatedAt      string  `json:"createdAt"`
}

// writeSidecar atomically records what was produced alongside the output, so
// a later upload retry does not need to re-probe the file.
func (e *Engine) writeSidecar(res *Result, meta *probe.VideoMetadata) error {
	data, err := json.Marshal(sidecar{
		Duration:       res.Duration,
		SourceWidth:    meta.Width,
		SourceHeight:   meta.Height,
		VideoReencoded: res.VideoReencoded,
		AudioReencoded: res.AudioReencoded,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return renameio.WriteFile(res.Output.Path+".meta.json", data, 0o644)
}
