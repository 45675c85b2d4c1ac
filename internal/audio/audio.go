// SPDX-License-Identifier: MIT

// Package audio detects and extracts compressed audio from media URLs.
package audio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/netbridge"
	"github.com/capso/media-server/internal/procpool"
)

const (
	// CheckTimeout bounds the banner scan used for track detection.
	CheckTimeout = 30 * time.Second
	// ExtractTimeout bounds a full audio extraction.
	ExtractTimeout = 120 * time.Second
	// MaxExtractBytes bounds the in-memory extraction buffer.
	MaxExtractBytes = 100 << 20
)

// Service runs ffmpeg audio work under the audio pool.
type Service struct {
	pool   *procpool.Pool
	bridge *netbridge.Bridge
	bin    string
}

// NewService creates an audio service.
func NewService(pool *procpool.Pool, bridge *netbridge.Bridge, bin string) *Service {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Service{pool: pool, bridge: bridge, bin: bin}
}

// Pool exposes the underlying pool for status reporting.
func (s *Service) Pool() *procpool.Pool { return s.pool }

// inputArgs renders the -i argument list for a source URL, carrying the
// original authority as a Host header when the loopback bridge rewrote it.
func (s *Service) inputArgs(rawURL string) ([]string, error) {
	target, hostHeader, err := s.bridge.Rewrite(rawURL)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindInvalidRequest, "invalid source URL", err)
	}
	var args []string
	if hostHeader != "" {
		args = append(args, "-headers", fmt.Sprintf("Host: %s\r\n", hostHeader))
	}
	return append(args, "-i", target), nil
}

// HasAudioTrack inspects the ffmpeg input banner for an audio stream line.
// ffmpeg exits non-zero because no output is requested; only the banner
// content matters.
func (s *Service) HasAudioTrack(ctx context.Context, url string) (bool, error) {
	input, err := s.inputArgs(url)
	if err != nil {
		return false, err
	}
	proc, err := s.pool.Spawn(ctx, s.bin, append([]string{"-hide_banner"}, input...), procpool.SpawnOpts{
		Class:   procpool.ClassAudio,
		Timeout: CheckTimeout,
	})
	if err != nil {
		return false, err
	}

	go procpool.Drain(proc.Stdout)
	banner, _ := procpool.ReadLimit(proc.Stderr, procpool.StderrTailLimit)
	_, _ = proc.Wait(context.Background())

	if proc.TimedOut() {
		return false, mediaerr.New(mediaerr.KindTimeout, "audio check timed out")
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	text := string(banner)
	if !strings.Contains(text, "Stream #") && !strings.Contains(text, "Duration:") {
		// Banner never appeared: the input itself could not be opened.
		return false, mediaerr.New(mediaerr.KindFFmpegError, "failed to open input").
			WithDetails(text)
	}

	hasAudio := strings.Contains(text, "Audio:")
	logger := log.WithComponent("audio")
	logger.Debug().
		Str("url", url).
		Bool("has_audio", hasAudio).
		Msg("audio track check completed")
	return hasAudio, nil
}

// Extract transcodes the source's audio track to MP3 and returns it as a
// bounded buffer. Output above MaxExtractBytes fails with AUDIO_TOO_LARGE.
func (s *Service) Extract(ctx context.Context, url string) ([]byte, error) {
	input, err := s.inputArgs(url)
	if err != nil {
		return nil, err
	}
	args := append(append([]string{"-hide_banner"}, input...),
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", "128k",
		"-f", "mp3",
		"pipe:1",
	)

	proc, err := s.pool.Spawn(ctx, s.bin, args, procpool.SpawnOpts{
		Class:   procpool.ClassAudio,
		Timeout: ExtractTimeout,
	})
	if err != nil {
		return nil, err
	}

	stderrCh := make(chan []byte, 1)
	go func() {
		tail, _ := procpool.ReadLimit(proc.Stderr, procpool.StderrTailLimit)
		stderrCh <- tail
	}()

	data, overflow, readErr := procpool.ReadAllLimit(proc.Stdout, MaxExtractBytes)
	if overflow || readErr != nil {
		proc.Kill()
	}
	exitCode, _ := proc.Wait(context.Background())
	stderrTail := <-stderrCh

	switch {
	case overflow:
		return nil, mediaerr.New(mediaerr.KindAudioTooLarge,
			fmt.Sprintf("extracted audio exceeds %d bytes", MaxExtractBytes))
	case proc.TimedOut():
		return nil, mediaerr.New(mediaerr.KindTimeout, "audio extraction timed out")
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case readErr != nil:
		return nil, mediaerr.Wrap(mediaerr.KindFFmpegError, "failed to read extracted audio", readErr).
			WithDetails(string(stderrTail))
	case exitCode != 0:
		return nil, mediaerr.New(mediaerr.KindFFmpegError,
			fmt.Sprintf("ffmpeg exited with code %d", exitCode)).
			WithDetails(string(stderrTail))
	}

	return data, nil
}
