// SPDX-License-Identifier: MIT

package transcode

import (
	"context"
	"fmt"
	"time"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/procpool"
)

const (
	// ThumbnailTimeout bounds a single frame capture.
	ThumbnailTimeout = 60 * time.Second

	// maxThumbnailBytes caps the captured JPEG held in memory.
	maxThumbnailBytes = 16 << 20
)

// ThumbnailOptions selects the capture point and output envelope.
type ThumbnailOptions struct {
	// Timestamp in seconds; negative selects the default point
	// min(duration/4, 1s).
	Timestamp float64
	// MaxWidth/MaxHeight cap the frame, preserving aspect. Zero keeps the
	// 1280x720 default.
	MaxWidth  int
	MaxHeight int
	// Quality 1-100, mapped onto ffmpeg's inverted 2-31 JPEG scale. Zero
	// selects 80.
	Quality int
}

// thumbnailTime resolves the capture timestamp against the source duration.
func thumbnailTime(requested, duration float64) float64 {
	t := requested
	if t < 0 {
		t = duration / 4
		if t > 1 {
			t = 1
		}
	}
	if duration > 0.1 && t > duration-0.1 {
		t = duration - 0.1
	}
	if t < 0 {
		t = 0
	}
	return t
}

// jpegQScale maps a 1-100 quality onto ffmpeg's -q:v range, where 2 is best
// and 31 is worst.
func jpegQScale(quality int) int {
	if quality <= 0 {
		quality = 80
	}
	if quality > 100 {
		quality = 100
	}
	return 2 + (100-quality)*29/99
}

// Thumbnail captures one frame as a JPEG and returns its bytes. Capture runs
// under the general class: it is short-lived and must not consume an encode
// slot.
func (e *Engine) Thumbnail(ctx context.Context, url string, duration float64, opts ThumbnailOptions) ([]byte, error) {
	maxW, maxH := opts.MaxWidth, opts.MaxHeight
	if maxW <= 0 {
		maxW = 1280
	}
	if maxH <= 0 {
		maxH = 720
	}

	input, err := e.inputArgs(url)
	if err != nil {
		return nil, err
	}

	ts := thumbnailTime(opts.Timestamp, duration)
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", ts),
	}
	args = append(args, input...)
	args = append(args,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", maxW, maxH),
		"-q:v", fmt.Sprintf("%d", jpegQScale(opts.Quality)),
		"-f", "image2",
		"pipe:1",
	)

	proc, err := e.pool.Spawn(ctx, e.bin, args, procpool.SpawnOpts{
		Class:   procpool.ClassAudio,
		Timeout: ThumbnailTimeout,
	})
	if err != nil {
		return nil, err
	}

	stderrCh := make(chan []byte, 1)
	go func() {
		tail, _ := procpool.ReadLimit(proc.Stderr, procpool.StderrTailLimit)
		stderrCh <- tail
	}()

	frame, overflow, readErr := procpool.ReadAllLimit(proc.Stdout, maxThumbnailBytes)
	if readErr != nil {
		proc.Kill()
	}
	exitCode, _ := proc.Wait(context.Background())
	stderrTail := <-stderrCh

	switch {
	case proc.TimedOut():
		return nil, mediaerr.New(mediaerr.KindTimeout, "thumbnail capture timed out")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case overflow:
		return nil, mediaerr.New(mediaerr.KindFFmpegError, "thumbnail output exceeded size limit")
	case exitCode != 0 || len(frame) == 0:
		return nil, mediaerr.New(mediaerr.KindFFmpegError,
			fmt.Sprintf("thumbnail capture failed (exit code %d)", exitCode)).
			WithDetails(string(stderrTail))
	}

	logger := log.FromContext(ctx)
	logger.Debug().
		Str("component", "transcode").
		Float64("timestamp", ts).
		Int("bytes", len(frame)).
		Msg("thumbnail captured")

	return frame, nil
}
