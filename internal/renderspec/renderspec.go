// SPDX-License-Identifier: MIT

// Package renderspec computes the canvas layout of an editor render from the
// declarative project configuration and the source dimensions. It is a pure
// computation: the filter builder and the compositor both consume its output
// without re-deriving geometry.
package renderspec

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Shadow describes the drop shadow behind the content card.
type Shadow struct {
	Enabled bool    `json:"enabled"`
	OffsetY int     `json:"offsetY"`
	Blur    int     `json:"blur"`
	Spread  int     `json:"spread"`
	Opacity float64 `json:"opacity"`
}

// Gradient is a linear two-stop background gradient.
type Gradient struct {
	From  [3]int  `json:"from"`
	To    [3]int  `json:"to"`
	Angle float64 `json:"angle"`
}

// Layout is the resolved render geometry. All rasterized dimensions are even.
type Layout struct {
	OutputWidth  int
	OutputHeight int
	InnerWidth   int
	InnerHeight  int
	BorderRadius int

	Shadow Shadow

	BackgroundColor      int // 24-bit RGB
	BackgroundColorAlpha float64
	BackgroundGradient   *Gradient
	BackgroundImagePath  string

	// ShouldApply is false when the layout is identical to the source frame,
	// letting the renderer skip the overlay graph entirely.
	ShouldApply bool
}

// Config is the background/canvas portion of a project configuration.
type Config struct {
	AspectRatio string            `json:"aspectRatio,omitempty"`
	Background  *BackgroundConfig `json:"background,omitempty"`
}

// BackgroundConfig describes canvas decoration around the content.
type BackgroundConfig struct {
	// Source is the canvas fill behind the content card.
	Source *BackgroundSource `json:"source,omitempty"`
	// Padding is the content inset as a percentage of the output's smaller
	// dimension (0–40).
	Padding float64 `json:"padding,omitempty"`
	// Rounding is the corner radius as a percentage of the content's smaller
	// dimension (0–50).
	Rounding float64 `json:"rounding,omitempty"`
	Shadow   *Shadow `json:"shadow,omitempty"`
}

// BackgroundSource is a tagged union: color, gradient or image.
type BackgroundSource struct {
	Type     string    `json:"type"`
	Color    string    `json:"color,omitempty"` // "#rrggbb" or "#rrggbbaa"
	Gradient *Gradient `json:"gradient,omitempty"`
	Path     string    `json:"path,omitempty"` // local path or URL
}

// aspectRatios maps the preset names the editor exposes.
var aspectRatios = map[string][2]int{
	"wide":     {16, 9},
	"vertical": {9, 16},
	"square":   {1, 1},
	"classic":  {4, 3},
	"tall":     {3, 4},
}

// even rounds down to the nearest even value with a floor of 2. Every
// rasterized buffer must have even dimensions for yuv420p.
func even(v int) int {
	v -= v % 2
	if v < 2 {
		v = 2
	}
	return v
}

// Compute resolves the layout for the given source dimensions. An invalid
// configuration returns an error the API maps to UNSUPPORTED_CONFIG.
func Compute(cfg Config, srcWidth, srcHeight int) (Layout, error) {
	if srcWidth <= 0 || srcHeight <= 0 {
		return Layout{}, fmt.Errorf("invalid source dimensions %dx%d", srcWidth, srcHeight)
	}

	layout := Layout{
		OutputWidth:          even(srcWidth),
		OutputHeight:         even(srcHeight),
		BackgroundColorAlpha: 1,
	}

	// Output canvas from the aspect-ratio preset, sized to cover the source.
	if cfg.AspectRatio != "" && cfg.AspectRatio != "auto" {
		ratio, ok := aspectRatios[cfg.AspectRatio]
		if !ok {
			return Layout{}, fmt.Errorf("unknown aspect ratio %q", cfg.AspectRatio)
		}
		rw, rh := ratio[0], ratio[1]
		outW, outH := srcWidth, srcHeight
		if srcWidth*rh >= srcHeight*rw {
			outH = srcWidth * rh / rw
		} else {
			outW = srcHeight * rw / rh
		}
		layout.OutputWidth = even(outW)
		layout.OutputHeight = even(outH)
	}

	bg := cfg.Background
	if bg != nil {
		if bg.Padding < 0 || bg.Padding > 40 {
			return Layout{}, fmt.Errorf("padding %v out of range [0, 40]", bg.Padding)
		}
		if bg.Rounding < 0 || bg.Rounding > 50 {
			return Layout{}, fmt.Errorf("rounding %v out of range [0, 50]", bg.Rounding)
		}
		if err := applySource(&layout, bg.Source); err != nil {
			return Layout{}, err
		}
		if bg.Shadow != nil && bg.Shadow.Enabled {
			layout.Shadow = *bg.Shadow
			if layout.Shadow.Opacity <= 0 {
				layout.Shadow.Opacity = 0.5
			}
			if layout.Shadow.Opacity > 1 {
				layout.Shadow.Opacity = 1
			}
		}
	}

	// Inner content rect after padding, preserving the source aspect.
	padding := 0.0
	if bg != nil {
		padding = bg.Padding
	}
	minDim := math.Min(float64(layout.OutputWidth), float64(layout.OutputHeight))
	inset := minDim * padding / 100
	availW := float64(layout.OutputWidth) - 2*inset
	availH := float64(layout.OutputHeight) - 2*inset
	scale := math.Min(availW/float64(srcWidth), availH/float64(srcHeight))
	if scale > 1 {
		scale = 1
	}
	layout.InnerWidth = even(int(float64(srcWidth) * scale))
	layout.InnerHeight = even(int(float64(srcHeight) * scale))

	if bg != nil && bg.Rounding > 0 {
		innerMin := math.Min(float64(layout.InnerWidth), float64(layout.InnerHeight))
		layout.BorderRadius = int(innerMin * bg.Rounding / 100 / 2)
	}

	layout.ShouldApply = layout.OutputWidth != even(srcWidth) ||
		layout.OutputHeight != even(srcHeight) ||
		layout.InnerWidth != layout.OutputWidth ||
		layout.InnerHeight != layout.OutputHeight ||
		layout.BorderRadius > 0 ||
		layout.Shadow.Enabled ||
		layout.BackgroundGradient != nil ||
		layout.BackgroundImagePath != "" ||
		layout.BackgroundColor != 0 ||
		layout.BackgroundColorAlpha != 1

	return layout, nil
}

func applySource(layout *Layout, src *BackgroundSource) error {
	if src == nil {
		return nil
	}
	switch src.Type {
	case "", "none":
		return nil
	case "color":
		color, alpha, err := ParseHexColor(src.Color)
		if err != nil {
			return err
		}
		layout.BackgroundColor = color
		layout.BackgroundColorAlpha = alpha
	case "gradient":
		if src.Gradient == nil {
			return fmt.Errorf("gradient source without gradient stops")
		}
		g := *src.Gradient
		layout.BackgroundGradient = &g
	case "image":
		if src.Path == "" {
			return fmt.Errorf("image source without path")
		}
		layout.BackgroundImagePath = src.Path
	default:
		return fmt.Errorf("unknown background source type %q", src.Type)
	}
	return nil
}

// ParseHexColor parses "#rrggbb" or "#rrggbbaa" into a 24-bit color and an
// alpha in [0, 1].
func ParseHexColor(s string) (color int, alpha float64, err error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	switch len(raw) {
	case 6:
		v, perr := strconv.ParseUint(raw, 16, 32)
		if perr != nil {
			return 0, 0, fmt.Errorf("invalid color %q", s)
		}
		return int(v), 1, nil
	case 8:
		v, perr := strconv.ParseUint(raw, 16, 64)
		if perr != nil {
			return 0, 0, fmt.Errorf("invalid color %q", s)
		}
		return int(v >> 8), float64(v&0xff) / 255, nil
	default:
		return 0, 0, fmt.Errorf("invalid color %q", s)
	}
}
