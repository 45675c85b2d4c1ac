// SPDX-License-Identifier: MIT

package timeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capso/media-server/internal/renderspec"
)

func baseLayout() renderspec.Layout {
	return renderspec.Layout{
		OutputWidth:          1920,
		OutputHeight:         1080,
		InnerWidth:           1536,
		InnerHeight:          864,
		BackgroundColorAlpha: 1,
		ShouldApply:          true,
	}
}

func TestBuildLayoutGraphSolidColor(t *testing.T) {
	l := baseLayout()
	l.BackgroundColor = 0x112233

	got := BuildLayoutGraph(l, 3, -1).String()

	assert.Contains(t, got, "color=c=0x112233:size=1920x1080:duration=3")
	assert.Contains(t, got, "scale=1536:864:force_original_aspect_ratio=decrease")
	assert.Contains(t, got, "pad=1536:864:(ow-iw)/2:(oh-ih)/2:color=0x00000000")
	assert.True(t, strings.HasSuffix(got, "[outv]"), got)
	// No rounding, no shadow: the card overlays the plain background.
	assert.NotContains(t, got, "geq")
	assert.NotContains(t, got, "alphaextract")
}

func TestBuildLayoutGraphColorAlpha(t *testing.T) {
	l := baseLayout()
	l.BackgroundColor = 0xFF0000
	l.BackgroundColorAlpha = 0.5

	got := BuildLayoutGraph(l, 1, -1).String()
	assert.Contains(t, got, "color=c=0xFF0000@0.5")
}

func TestBuildLayoutGraphGradient(t *testing.T) {
	l := baseLayout()
	l.BackgroundGradient = &renderspec.Gradient{
		From:  [3]int{255, 0, 0},
		To:    [3]int{0, 0, 255},
		Angle: 0,
	}

	got := BuildLayoutGraph(l, 2, -1).String()

	assert.Contains(t, got, "nullsrc=size=1920x1080:duration=2")
	// Channel interpolation is clamped because geq has no clip().
	assert.Contains(t, got, "max(0\\,min(1\\,")
	assert.Contains(t, got, "r='255+(0-255)*")
	assert.Contains(t, got, "b='0+(255-0)*")
}

func TestBuildLayoutGraphImageBackground(t *testing.T) {
	l := baseLayout()
	l.BackgroundImagePath = "/tmp/bg.png"

	got := BuildLayoutGraph(l, 2, 1).String()

	require.True(t, strings.HasPrefix(got, "[1:v]"), got)
	assert.Contains(t, got, "force_original_aspect_ratio=increase")
	assert.Contains(t, got, "crop=1920:1080")
}

func TestBuildLayoutGraphRoundedCorners(t *testing.T) {
	l := baseLayout()
	l.BorderRadius = 24

	got := BuildLayoutGraph(l, 2, -1).String()

	assert.Contains(t, got, "geq=r='r(X,Y)'")
	assert.Contains(t, got, "hypot")
	// All four corner quadrants are tested.
	assert.Contains(t, got, "lt(X\\,24)*lt(Y\\,24)")
	assert.Contains(t, got, "gt(X\\,1511)*gt(Y\\,839)")
}

func TestBuildLayoutGraphShadow(t *testing.T) {
	l := baseLayout()
	l.Shadow = renderspec.Shadow{
		Enabled: true,
		OffsetY: 12,
		Blur:    16,
		Spread:  2,
		Opacity: 0.6,
	}

	got := BuildLayoutGraph(l, 2, -1).String()

	assert.Contains(t, got, "split[card][shsrc]")
	assert.Contains(t, got, "alphaextract,dilation,dilation,boxblur=4")
	assert.Contains(t, got, "colorchannelmixer=aa=0.6")
	assert.Contains(t, got, "y=(H-h)/2+12")
	// The shadowed background feeds the final overlay.
	assert.Contains(t, got, "[bgshadow][card]overlay")
}

func TestRoundedMaskExprCommasEscaped(t *testing.T) {
	expr := roundedMaskExpr(100, 100, 10)
	// Raw commas would split the geq parameter list.
	assert.NotRegexp(t, `[^\\],`, expr)
}
