// SPDX-License-Identifier: MIT

package renderspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIdentity(t *testing.T) {
	layout, err := Compute(Config{}, 1920, 1080)
	require.NoError(t, err)

	assert.Equal(t, 1920, layout.OutputWidth)
	assert.Equal(t, 1080, layout.OutputHeight)
	assert.Equal(t, 1920, layout.InnerWidth)
	assert.Equal(t, 1080, layout.InnerHeight)
	assert.False(t, layout.ShouldApply)
}

func TestComputeAspectPresets(t *testing.T) {
	tests := []struct {
		name       string
		ratio      string
		srcW, srcH int
		wantW      int
		wantH      int
	}{
		{"vertical covers wide source", "vertical", 1920, 1080, 1920, 3412},
		{"square covers wide source", "square", 1920, 1080, 1920, 1920},
		{"wide is identity for 16:9 source", "wide", 1920, 1080, 1920, 1080},
		{"classic covers wide source", "classic", 1920, 1080, 1920, 1440},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			layout, err := Compute(Config{AspectRatio: tt.ratio}, tt.srcW, tt.srcH)
			require.NoError(t, err)
			assert.Equal(t, tt.wantW, layout.OutputWidth)
			assert.Equal(t, tt.wantH, layout.OutputHeight)
			assert.Zero(t, layout.OutputWidth%2)
			assert.Zero(t, layout.OutputHeight%2)
		})
	}
}

func TestComputeUnknownAspect(t *testing.T) {
	_, err := Compute(Config{AspectRatio: "cinema"}, 1920, 1080)
	assert.Error(t, err)
}

func TestComputeInvalidSource(t *testing.T) {
	_, err := Compute(Config{}, 0, 1080)
	assert.Error(t, err)
}

func TestComputePadding(t *testing.T) {
	layout, err := Compute(Config{
		Background: &BackgroundConfig{Padding: 10},
	}, 1920, 1080)
	require.NoError(t, err)

	// 10% of the smaller dimension on each side.
	assert.Less(t, layout.InnerWidth, layout.OutputWidth)
	assert.Less(t, layout.InnerHeight, layout.OutputHeight)
	assert.Zero(t, layout.InnerWidth%2)
	assert.Zero(t, layout.InnerHeight%2)
	assert.True(t, layout.ShouldApply)
}

func TestComputePaddingOutOfRange(t *testing.T) {
	_, err := Compute(Config{Background: &BackgroundConfig{Padding: 41}}, 1920, 1080)
	assert.Error(t, err)

	_, err = Compute(Config{Background: &BackgroundConfig{Rounding: 51}}, 1920, 1080)
	assert.Error(t, err)
}

func TestComputeRounding(t *testing.T) {
	layout, err := Compute(Config{
		Background: &BackgroundConfig{Padding: 10, Rounding: 20},
	}, 1920, 1080)
	require.NoError(t, err)
	assert.Greater(t, layout.BorderRadius, 0)
}

func TestComputeBackgroundSources(t *testing.T) {
	t.Run("color", func(t *testing.T) {
		layout, err := Compute(Config{Background: &BackgroundConfig{
			Source: &BackgroundSource{Type: "color", Color: "#336699"},
		}}, 1280, 720)
		require.NoError(t, err)
		assert.Equal(t, 0x336699, layout.BackgroundColor)
		assert.True(t, layout.ShouldApply)
	})

	t.Run("gradient", func(t *testing.T) {
		layout, err := Compute(Config{Background: &BackgroundConfig{
			Source: &BackgroundSource{Type: "gradient", Gradient: &Gradient{
				From: [3]int{255, 0, 0}, To: [3]int{0, 0, 255}, Angle: 45,
			}},
		}}, 1280, 720)
		require.NoError(t, err)
		require.NotNil(t, layout.BackgroundGradient)
		assert.Equal(t, 45.0, layout.BackgroundGradient.Angle)
	})

	t.Run("gradient without stops", func(t *testing.T) {
		_, err := Compute(Config{Background: &BackgroundConfig{
			Source: &BackgroundSource{Type: "gradient"},
		}}, 1280, 720)
		assert.Error(t, err)
	})

	t.Run("image", func(t *testing.T) {
		layout, err := Compute(Config{Background: &BackgroundConfig{
			Source: &BackgroundSource{Type: "image", Path: "https://example.com/bg.png"},
		}}, 1280, 720)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/bg.png", layout.BackgroundImagePath)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := Compute(Config{Background: &BackgroundConfig{
			Source: &BackgroundSource{Type: "video"},
		}}, 1280, 720)
		assert.Error(t, err)
	})
}

func TestComputeShadowDefaults(t *testing.T) {
	layout, err := Compute(Config{Background: &BackgroundConfig{
		Shadow: &Shadow{Enabled: true, Blur: 10},
	}}, 1280, 720)
	require.NoError(t, err)
	assert.True(t, layout.Shadow.Enabled)
	assert.InDelta(t, 0.5, layout.Shadow.Opacity, 1e-9)
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		in        string
		wantColor int
		wantAlpha float64
		wantErr   bool
	}{
		{"#ffffff", 0xffffff, 1, false},
		{"#000000", 0, 1, false},
		{"336699", 0x336699, 1, false},
		{"#ff000080", 0xff0000, 128.0 / 255, false},
		{"#fff", 0, 0, true},
		{"#zzzzzz", 0, 0, true},
		{"", 0, 0, true},
	}
	for _, tt := range tests {
		color, alpha, err := ParseHexColor(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.wantColor, color, tt.in)
		assert.InDelta(t, tt.wantAlpha, alpha, 1e-9, tt.in)
	}
}

func TestEven(t *testing.T) {
	assert.Equal(t, 2, even(0))
	assert.Equal(t, 2, even(3))
	assert.Equal(t, 4, even(4))
	assert.Equal(t, 4, even(5))
}
