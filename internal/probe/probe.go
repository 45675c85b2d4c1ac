// SPDX-License-Identifier: MIT

// Package probe extracts stream metadata from a media URL via ffprobe.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/capso/media-server/internal/log"
	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/netbridge"
	"github.com/capso/media-server/internal/procpool"
)

// Timeout is the absolute watchdog for a probe.
const Timeout = 30 * time.Second

// maxProbeOutput bounds ffprobe stdout capture.
const maxProbeOutput = 1 << 20

// VideoMetadata describes the first video stream (and first audio stream,
// when present) of a source.
type VideoMetadata struct {
	Duration      float64 `json:"duration"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	FPS           float64 `json:"fps"`
	VideoCodec    string  `json:"videoCodec"`
	AudioCodec    *string `json:"audioCodec"`
	AudioChannels *int    `json:"audioChannels"`
	SampleRate    *int    `json:"sampleRate"`
	Bitrate       int64   `json:"bitrate"`
	FileSize      int64   `json:"fileSize"`
}

// HasAudio reports whether an audio stream was found.
func (m *VideoMetadata) HasAudio() bool { return m.AudioCodec != nil }

// Engine runs ffprobe under the probe pool.
type Engine struct {
	pool   *procpool.Pool
	bridge *netbridge.Bridge
	bin    string
}

// NewEngine creates a probe engine.
func NewEngine(pool *procpool.Pool, bridge *netbridge.Bridge, bin string) *Engine {
	if bin == "" {
		bin = "ffprobe"
	}
	return &Engine{pool: pool, bridge: bridge, bin: bin}
}

// inputArgs renders the trailing input arguments for a source URL, carrying
// the original authority as a Host header when the loopback bridge rewrote
// it. Local paths pass through unchanged.
func (e *Engine) inputArgs(rawURL string) ([]string, error) {
	target, hostHeader, err := e.bridge.Rewrite(rawURL)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindInvalidRequest, "invalid source URL", err)
	}
	var args []string
	if hostHeader != "" {
		args = append(args, "-headers", fmt.Sprintf("Host: %s\r\n", hostHeader))
	}
	return append(args, target), nil
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		Channels     int    `json:"channels"`
		SampleRate   string `json:"sample_rate"`
	} `json:"streams"`
}

// Probe inspects url and returns its metadata. A source without a video
// stream fails with NO_VIDEO_STREAM.
func (e *Engine) Probe(ctx context.Context, url string) (*VideoMetadata, error) {
	input, err := e.inputArgs(url)
	if err != nil {
		return nil, err
	}
	args := append([]string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
	}, input...)

	proc, err := e.pool.Spawn(ctx, e.bin, args, procpool.SpawnOpts{
		Class:   procpool.ClassProbe,
		Timeout: Timeout,
	})
	if err != nil {
		return nil, err
	}

	// Stderr is quiet but must still be drained.
	stderrCh := make(chan []byte, 1)
	go func() {
		tail, _ := procpool.ReadLimit(proc.Stderr, procpool.StderrTailLimit)
		stderrCh <- tail
	}()

	out, err := procpool.ReadLimit(proc.Stdout, maxProbeOutput)
	if err != nil {
		proc.Kill()
	}
	exitCode, _ := proc.Wait(context.Background())
	stderrTail := <-stderrCh

	if proc.TimedOut() {
		return nil, mediaerr.New(mediaerr.KindTimeout, "ffprobe timed out")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if exitCode != 0 {
		return nil, mediaerr.New(mediaerr.KindFFprobeError,
			fmt.Sprintf("ffprobe exited with code %d", exitCode)).
			WithDetails(string(stderrTail))
	}

	meta, err := parseProbeOutput(out)
	if err != nil {
		return nil, err
	}

	logger := log.WithComponent("probe")
	logger.Debug().
		Str("url", url).
		Float64("duration", meta.Duration).
		Str("video_codec", meta.VideoCodec).
		Int("width", meta.Width).
		Int("height", meta.Height).
		Msg("probe completed")

	return meta, nil
}

func parseProbeOutput(out []byte) (*VideoMetadata, error) {
	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindFFprobeError, "failed to parse ffprobe output", err)
	}

	meta := &VideoMetadata{}

	foundVideo := false
	for _, s := range probed.Streams {
		switch s.CodecType {
		case "video":
			if foundVideo {
				continue
			}
			foundVideo = true
			meta.VideoCodec = s.CodecName
			meta.Width = s.Width
			meta.Height = s.Height
			fps := parseFrameRate(s.RFrameRate)
			if fps == 0 {
				fps = parseFrameRate(s.AvgFrameRate)
			}
			meta.FPS = math.Round(fps*100) / 100
		case "audio":
			if meta.AudioCodec != nil {
				continue
			}
			codec := s.CodecName
			meta.AudioCodec = &codec
			if s.Channels > 0 {
				ch := s.Channels
				meta.AudioChannels = &ch
			}
			if rate, err := strconv.Atoi(s.SampleRate); err == nil && rate > 0 {
				meta.SampleRate = &rate
			}
		}
	}

	if !foundVideo {
		return nil, mediaerr.New(mediaerr.KindNoVideoStream, "no video stream found")
	}

	if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil && d >= 0 {
		meta.Duration = d
	}
	if br, err := strconv.ParseInt(probed.Format.BitRate, 10, 64); err == nil {
		meta.Bitrate = br
	}
	if size, err := strconv.ParseInt(probed.Format.Size, 10, 64); err == nil {
		meta.FileSize = size
	}

	return meta, nil
}

// parseFrameRate evaluates an ffprobe rational like "30000/1001".
func parseFrameRate(raw string) float64 {
	if raw == "" || raw == "0/0" {
		return 0
	}
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) == 1 {
		v, _ := strconv.ParseFloat(parts[0], 64)
		return v
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
