// SPDX-License-Identifier: MIT

package probe

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capso/media-server/internal/mediaerr"
	"github.com/capso/media-server/internal/netbridge"
	"github.com/capso/media-server/internal/procpool"
)

func ptr[T any](v T) *T { return &v }

const fullProbeJSON = `{
  "format": {"duration": "12.480000", "size": "1048576", "bit_rate": "672000"},
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001"},
    {"codec_type": "audio", "codec_name": "aac", "channels": 2, "sample_rate": "48000"}
  ]
}`

func TestParseProbeOutput(t *testing.T) {
	meta, err := parseProbeOutput([]byte(fullProbeJSON))
	require.NoError(t, err)
	require.True(t, meta.HasAudio())

	want := &VideoMetadata{
		Duration:      12.48,
		Width:         1920,
		Height:        1080,
		FPS:           29.97,
		VideoCodec:    "h264",
		AudioCodec:    ptr("aac"),
		AudioChannels: ptr(2),
		SampleRate:    ptr(48000),
		Bitrate:       672000,
		FileSize:      1048576,
	}
	if diff := cmp.Diff(want, meta); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestParseProbeOutputVideoOnly(t *testing.T) {
	meta, err := parseProbeOutput([]byte(`{
	  "format": {"duration": "3.0"},
	  "streams": [{"codec_type": "video", "codec_name": "vp9", "width": 640, "height": 360, "r_frame_rate": "30/1"}]
	}`))
	require.NoError(t, err)
	assert.False(t, meta.HasAudio())
	assert.Nil(t, meta.AudioChannels)
	assert.Equal(t, "vp9", meta.VideoCodec)
}

func TestParseProbeOutputFirstStreamsWin(t *testing.T) {
	meta, err := parseProbeOutput([]byte(`{
	  "format": {"duration": "1.0"},
	  "streams": [
	    {"codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "r_frame_rate": "25/1"},
	    {"codec_type": "video", "codec_name": "mjpeg", "width": 320, "height": 180, "r_frame_rate": "1/1"},
	    {"codec_type": "audio", "codec_name": "aac", "channels": 2, "sample_rate": "44100"},
	    {"codec_type": "audio", "codec_name": "mp3", "channels": 1, "sample_rate": "22050"}
	  ]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "h264", meta.VideoCodec)
	assert.Equal(t, 1280, meta.Width)
	assert.Equal(t, "aac", *meta.AudioCodec)
}

func TestParseProbeOutputNoVideoStream(t *testing.T) {
	_, err := parseProbeOutput([]byte(`{
	  "format": {"duration": "3.0"},
	  "streams": [{"codec_type": "audio", "codec_name": "mp3", "channels": 2, "sample_rate": "44100"}]
	}`))
	assert.True(t, mediaerr.Is(err, mediaerr.KindNoVideoStream))
}

func TestParseProbeOutputMalformed(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	assert.True(t, mediaerr.Is(err, mediaerr.KindFFprobeError))
}

func TestParseProbeOutputFallsBackToAvgFrameRate(t *testing.T) {
	meta, err := parseProbeOutput([]byte(`{
	  "format": {"duration": "1.0"},
	  "streams": [{"codec_type": "video", "codec_name": "h264", "width": 2, "height": 2,
	    "r_frame_rate": "0/0", "avg_frame_rate": "24/1"}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 24.0, meta.FPS)
}

func newTestEngine(t *testing.T, inContainer bool) *Engine {
	t.Helper()
	if inContainer {
		t.Setenv("MEDIA_IN_CONTAINER", "1")
	} else {
		t.Setenv("MEDIA_IN_CONTAINER", "0")
	}
	pool := procpool.New(procpool.Limits{Audio: 2, Probe: 2, Encode: 1})
	return NewEngine(pool, netbridge.New("host.docker.internal"), "ffprobe")
}

func TestInputArgsRewritesLoopback(t *testing.T) {
	e := newTestEngine(t, true)

	args, err := e.inputArgs("http://localhost:9000/v.mp4?sig=abc")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"-headers", "Host: localhost:9000\r\n",
		"http://host.docker.internal:9000/v.mp4?sig=abc",
	}, args)
}

func TestInputArgsOutsideContainer(t *testing.T) {
	e := newTestEngine(t, false)

	args, err := e.inputArgs("http://localhost:9000/v.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:9000/v.mp4"}, args)
}

func TestInputArgsLocalPath(t *testing.T) {
	e := newTestEngine(t, true)

	args, err := e.inputArgs("/tmp/scratch/abc.mp4")
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/scratch/abc.mp4"}, args)
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"30/0", 0},
		{"abc/def", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, parseFrameRate(tt.raw), 1e-9, "raw=%q", tt.raw)
	}
}
