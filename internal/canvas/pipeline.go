// SPDX-License-Identifier: MIT

// Package canvas orchestrates the three-process render path: an ffmpeg
// decoder streaming raw RGBA frames, an external compositor worker, and an
// ffmpeg encoder producing the final MP4. It is selected over the filter
// graph renderer when effects need in-process rasterization.
package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/netbridge"
	"github.com/capso/media-server/internal/probe"
	"github.com/capso/media-server/internal/procpool"
	"github.com/capso/media-server/internal/renderspec"
	"github.com/capso/media-server/internal/tempfile"
	"github.com/capso/media-server/internal/timeline"
	"github.com/capso/media-server/internal/transcode"
)

// Timeout bounds the whole pipeline, matching the single-process encode.
const Timeout = 30 * time.Minute

// defaultFPS is used when the probe could not determine a frame rate.
const defaultFPS = 30.0

// Result is the finished render.
type Result struct {
	Output   *tempfile.Handle
	Duration float64
}

// Pipeline wires the decoder, compositor and encoder stages.
type Pipeline struct {
	pool          *procpool.Pool
	store         *tempfile.Store
	bridge        *netbridge.Bridge
	prober        *probe.Engine
	ffmpegBin     string
	compositorBin string
}

// New creates a pipeline. compositorBin is the worker executable invoked
// with the config JSON path as its single argument.
func New(pool *procpool.Pool, store *tempfile.Store, bridge *netbridge.Bridge, prober *probe.Engine, ffmpegBin, compositorBin string) *Pipeline {
	if ffmpegBin == "" {
		ffmpegBin = "ffmpeg"
	}
	return &Pipeline{
		pool:          pool,
		store:         store,
		bridge:        bridge,
		prober:        prober,
		ffmpegBin:     ffmpegBin,
		compositorBin: compositorBin,
	}
}

// compositorConfig is the contract with the worker process. Frames arrive on
// its stdin at the source geometry and leave on its stdout at the output
// geometry.
type compositorConfig struct {
	SourceWidth  int     `json:"sourceWidth"`
	SourceHeight int     `json:"sourceHeight"`
	OutputWidth  int     `json:"outputWidth"`
	OutputHeight int     `json:"outputHeight"`
	FPS          float64 `json:"fps"`
	FrameCount   int64   `json:"frameCount"`

	InnerWidth   int `json:"innerWidth"`
	InnerHeight  int `json:"innerHeight"`
	BorderRadius int `json:"borderRadius"`

	CameraHeight int `json:"cameraHeight,omitempty"`

	Shadow             renderspec.Shadow    `json:"shadow"`
	BackgroundColor    string               `json:"backgroundColor,omitempty"`
	BackgroundGradient *renderspec.Gradient `json:"backgroundGradient,omitempty"`
	BackgroundImage    string               `json:"backgroundImage,omitempty"`
}

// Request carries everything a render needs.
type Request struct {
	URL       string
	CameraURL string
	Meta      *probe.VideoMetadata
	Segments  []timeline.Segment
	Render    *renderspec.Config
}

// Render runs the full decoder -> compositor -> encoder chain. Any stage
// failing, the context being cancelled or the 30-minute bound expiring kills
// every child in the group.
func (p *Pipeline) Render(ctx context.Context, req Request, onProgress func(pct float64)) (*Result, error) {
	if p.compositorBin == "" {
		return nil, mediaerr.New(mediaerr.KindUnsupportedConfig, "canvas renderer selected but no compositor binary configured")
	}

	segs := timeline.Normalize(req.Segments, req.Meta.Duration)
	total := timeline.TotalOutputDuration(segs)

	var cfg renderspec.Config
	if req.Render != nil {
		cfg = *req.Render
	}
	layout, err := renderspec.Compute(cfg, req.Meta.Width, req.Meta.Height)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindUnsupportedConfig, "invalid render configuration", err)
	}

	fps := req.Meta.FPS
	if fps <= 0 {
		fps = defaultFPS
	}

	// The camera feed is scaled to the main frame width and stacked below it
	// before compositing, so its height must be known up front.
	cameraHeight := 0
	if req.CameraURL != "" {
		camMeta, err := p.prober.Probe(ctx, req.CameraURL)
		if err != nil {
			return nil, err
		}
		if camMeta.Width > 0 {
			cameraHeight = evenDim(camMeta.Height * req.Meta.Width / camMeta.Width)
		}
	}

	srcW := evenDim(req.Meta.Width)
	srcH := evenDim(req.Meta.Height)

	cfgHandle, err := p.writeCompositorConfig(layout, srcW, srcH, cameraHeight, fps, total)
	if err != nil {
		return nil, err
	}
	defer cfgHandle.Cleanup()

	out := p.store.New("mp4")

	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	decoder, err := p.spawnDecoder(pipeCtx, req, segs, srcW, srcH, cameraHeight, fps)
	if err != nil {
		out.Cleanup()
		return nil, err
	}
	compositor, err := p.pool.Spawn(pipeCtx, p.compositorBin, []string{cfgHandle.Path}, procpool.SpawnOpts{
		Class:   procpool.ClassAudio,
		Stdin:   true,
		Timeout: Timeout,
	})
	if err != nil {
		decoder.Kill()
		out.Cleanup()
		return nil, err
	}
	encoder, err := p.spawnEncoder(pipeCtx, req, segs, layout, fps, total, out.Path)
	if err != nil {
		decoder.Kill()
		compositor.Kill()
		out.Cleanup()
		return nil, err
	}

	killAll := func() {
		decoder.Kill()
		compositor.Kill()
		encoder.Kill()
	}

	watchdog := procpool.NewStallWatchdog(0, 0, killAll)
	defer watchdog.Stop()

	g, gctx := errgroup.WithContext(pipeCtx)

	// First stage failure cancels the group; the mass kill keeps the other
	// stages from lingering on a half-open pipe.
	go func() {
		<-gctx.Done()
		killAll()
	}()

	// Byte pumps between the stages. Closing the downstream stdin on pump
	// exit is what lets the next stage see EOF and finish.
	g.Go(func() error {
		defer compositor.Stdin.Close()
		_, err := io.Copy(compositor.Stdin, decoder.Stdout)
		return pumpErr("decoder->compositor", err)
	})
	g.Go(func() error {
		defer encoder.Stdin.Close()
		_, err := io.Copy(encoder.Stdin, compositor.Stdout)
		return pumpErr("compositor->encoder", err)
	})

	// Encoder stdout is unused but must not back up.
	go procpool.Drain(encoder.Stdout)

	// Progress arrives on the encoder's stderr, interleaved with any log
	// lines; the parser ignores everything that is not a key=value pair.
	g.Go(func() error {
		transcode.ParseProgress(encoder.Stderr, int64(total*1e6), func(pct float64) {
			watchdog.Touch(pct)
			if onProgress != nil {
				onProgress(pct)
			}
		})
		return nil
	})

	decoderErrCh := tailStderr(decoder.Stderr)
	compositorErrCh := tailStderr(compositor.Stderr)

	g.Go(func() error { return waitStage(gctx, "decoder", decoder, decoderErrCh) })
	g.Go(func() error { return waitStage(gctx, "compositor", compositor, compositorErrCh) })
	g.Go(func() error { return waitStage(gctx, "encoder", encoder, nil) })

	err = g.Wait()
	watchdog.Stop()
	killAll()

	switch {
	case watchdog.Stalled():
		out.Cleanup()
		return nil, mediaerr.New(mediaerr.KindProgressStalled, "canvas render made no progress")
	case encoder.TimedOut() || decoder.TimedOut() || compositor.TimedOut():
		out.Cleanup()
		return nil, mediaerr.New(mediaerr.KindTimeout, "canvas render exceeded the time limit")
	case ctx.Err() != nil:
		out.Cleanup()
		return nil, ctx.Err()
	case err != nil:
		out.Cleanup()
		return nil, err
	}

	logger := log.FromContext(ctx)
	logger.Info().
		Str("component", "canvas").
		Float64("duration", total).
		Msg("canvas render completed")

	return &Result{Output: out, Duration: total}, nil
}

// spawnDecoder starts the ffmpeg stage that realizes the timeline and emits
// raw RGBA frames, with the camera feed vstacked below when present.
func (p *Pipeline) spawnDecoder(ctx context.Context, req Request, segs []timeline.Segment, srcW, srcH, cameraHeight int, fps float64) (*procpool.Process, error) {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}

	mainInput, err := p.inputArgs(req.URL)
	if err != nil {
		return nil, err
	}
	args = append(args, mainInput...)

	graph := timeline.BuildVideoGraph(segs)
	outLabel := timeline.VideoOut

	if cameraHeight > 0 {
		camInput, err := p.inputArgs(req.CameraURL)
		if err != nil {
			return nil, err
		}
		args = append(args, camInput...)

		graph.Add(timeline.Chain{
			Inputs: []string{"1:v"},
			Filters: []timeline.Filter{
				{Name: "scale", Params: []timeline.Param{
					{Value: timeline.NumInt(srcW)},
					{Value: timeline.NumInt(cameraHeight)},
				}},
				{Name: "setsar", Params: []timeline.Param{{Value: "1"}}},
			},
			Outputs: []string{"cam"},
		})
		graph.Add(timeline.Chain{
			Inputs:  []string{timeline.VideoOut, "cam"},
			Filters: []timeline.Filter{{Name: "vstack"}},
			Outputs: []string{"stacked"},
		})
		outLabel = "stacked"
	}

	// Fix the raster geometry so the compositor can rely on the frame size.
	graph.Add(timeline.Chain{
		Inputs: []string{outLabel},
		Filters: []timeline.Filter{
			{Name: "scale", Params: []timeline.Param{
				{Value: timeline.NumInt(srcW)},
				{Value: timeline.NumInt(srcH + cameraHeight)},
			}},
			{Name: "fps", Params: []timeline.Param{{Value: timeline.Num(fps)}}},
			{Name: "format", Params: []timeline.Param{{Value: "rgba"}}},
		},
		Outputs: []string{"raw"},
	})

	args = append(args,
		"-filter_complex", graph.String(),
		"-map", "[raw]",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	)

	return p.pool.Spawn(ctx, p.ffmpegBin, args, procpool.SpawnOpts{
		Class:   procpool.ClassAudio,
		Timeout: Timeout,
	})
}

// spawnEncoder starts the ffmpeg stage that consumes composited RGBA on
// stdin and muxes the timeline audio from the original source.
func (p *Pipeline) spawnEncoder(ctx context.Context, req Request, segs []timeline.Segment, layout renderspec.Layout, fps, total float64, outPath string) (*procpool.Process, error) {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error", "-progress", "pipe:2",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", layout.OutputWidth, layout.OutputHeight),
		"-r", timeline.Num(fps),
		"-i", "pipe:0",
	}

	hasAudio := req.Meta.HasAudio()
	if hasAudio {
		audioInput, err := p.inputArgs(req.URL)
		if err != nil {
			return nil, err
		}
		args = append(args, audioInput...)
		graph := timeline.BuildAudioGraph(segs, 1)
		args = append(args,
			"-filter_complex", graph.String(),
			"-map", "0:v",
			"-map", "["+timeline.AudioOut+"]",
			"-c:a", "aac", "-b:a", "192k",
		)
	} else {
		args = append(args, "-map", "0:v")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-t", timeline.Num(total),
		"-f", "mp4", outPath,
	)

	return p.pool.Spawn(ctx, p.ffmpegBin, args, procpool.SpawnOpts{
		Class:   procpool.ClassEncode,
		Stdin:   true,
		Timeout: Timeout,
	})
}

func (p *Pipeline) inputArgs(rawURL string) ([]string, error) {
	target, hostHeader, err := p.bridge.Rewrite(rawURL)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindInvalidRequest, "invalid source URL", err)
	}
	var args []string
	if hostHeader != "" {
		args = append(args, "-headers", fmt.Sprintf("Host: %s\r\n", hostHeader))
	}
	return append(args, "-i", target), nil
}

func (p *Pipeline) writeCompositorConfig(layout renderspec.Layout, srcW, srcH, cameraHeight int, fps, total float64) (*tempfile.Handle, error) {
	cfg := compositorConfig{
		SourceWidth:  srcW,
		SourceHeight: srcH + cameraHeight,
		OutputWidth:  layout.OutputWidth,
		OutputHeight: layout.OutputHeight,
		FPS:          fps,
		FrameCount:   int64(total * fps),
		InnerWidth:   layout.InnerWidth,
		InnerHeight:  layout.InnerHeight,
		BorderRadius: layout.BorderRadius,
		CameraHeight: cameraHeight,
		Shadow:       layout.Shadow,
	}
	if layout.BackgroundGradient != nil {
		cfg.BackgroundGradient = layout.BackgroundGradient
	}
	if layout.BackgroundImagePath != "" {
		cfg.BackgroundImage = layout.BackgroundImagePath
	}
	if layout.BackgroundColor != 0 || layout.BackgroundColorAlpha != 1 {
		cfg.BackgroundColor = fmt.Sprintf("#%06x", layout.BackgroundColor)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal compositor config: %w", err)
	}
	handle := p.store.New("json")
	if err := os.WriteFile(handle.Path, data, 0o644); err != nil {
		return nil, fmt.Errorf("write compositor config: %w", err)
	}
	return handle, nil
}

// tailStderr captures a bounded stderr tail without blocking the child.
func tailStderr(r io.Reader) <-chan []byte {
	ch := make(chan []byte, 1)
	go func() {
		tail, _ := procpool.ReadLimit(r, procpool.StderrTailLimit)
		ch <- tail
	}()
	return ch
}

// waitStage blocks on one child and converts a non-zero exit into a
// classified error carrying its stderr tail.
func waitStage(ctx context.Context, name string, proc *procpool.Process, stderrCh <-chan []byte) error {
	exitCode, _ := proc.Wait(context.Background())
	if exitCode == 0 || ctx.Err() != nil || proc.TimedOut() {
		return nil
	}
	var tail []byte
	if stderrCh != nil {
		tail = <-stderrCh
	}
	return mediaerr.New(mediaerr.KindFFmpegError,
		fmt.Sprintf("canvas %s exited with code %d", name, exitCode)).
		WithDetails(string(tail))
}

// pumpErr swallows the broken-pipe noise a killed downstream produces; the
// stage waiters report the real failure.
func pumpErr(name string, err error) error {
	if err == nil {
		return nil
	}
	logger := log.WithComponent("canvas")
	logger.Debug().Err(err).Str("pump", name).Msg("pump terminated")
	return nil
}

func evenDim(v int) int {
	v -= v % 2
	if v < 2 {
		v = 2
	}
	return v
}
