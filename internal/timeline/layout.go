// SPDX-License-Identifier: MIT

package timeline

import (
	"fmt"
	"math"

	"github.com/capso/media-server/internal/renderspec"
)

// LayoutOut is the output label of the layout overlay graph.
const LayoutOut = "outv"

// BuildLayoutGraph renders the canvas decoration around the trimmed video:
// background fill, inner content card, rounded corner mask and drop shadow.
// The graph consumes [vout] and produces [outv]. bgImageInput is the ffmpeg
// input index carrying the background image, or -1 when none is wired.
func BuildLayoutGraph(l renderspec.Layout, duration float64, bgImageInput int) Graph {
	var g Graph

	g.Add(backgroundChain(l, duration, bgImageInput))

	// Scale the content into the inner rect preserving aspect, pad to the
	// exact card size with transparent bars.
	g.Add(Chain{
		Inputs: []string{VideoOut},
		Filters: []Filter{
			{Name: "scale", Params: []Param{
				{Value: NumInt(l.InnerWidth)},
				{Value: NumInt(l.InnerHeight)},
				{Key: "force_original_aspect_ratio", Value: "decrease"},
			}},
			{Name: "format", Params: []Param{{Value: "rgba"}}},
			{Name: "pad", Params: []Param{
				{Value: NumInt(l.InnerWidth)},
				{Value: NumInt(l.InnerHeight)},
				{Value: "(ow-iw)/2"},
				{Value: "(oh-ih)/2"},
				{Key: "color", Value: "0x00000000"},
			}},
			{Name: "setsar", Params: []Param{{Value: "1"}}},
		},
		Outputs: []string{"vscaled"},
	})

	cardLabel := "vscaled"
	if l.BorderRadius > 0 {
		g.Add(Chain{
			Inputs: []string{cardLabel},
			Filters: []Filter{
				{Name: "geq", Params: []Param{
					{Key: "r", Value: "'r(X,Y)'"},
					{Key: "g", Value: "'g(X,Y)'"},
					{Key: "b", Value: "'b(X,Y)'"},
					{Key: "a", Value: fmt.Sprintf("'alpha(X,Y)*%s'", roundedMaskExpr(l.InnerWidth, l.InnerHeight, l.BorderRadius))},
				}},
			},
			Outputs: []string{"vcard"},
		})
		cardLabel = "vcard"
	}

	bgLabel := "bg"
	if l.Shadow.Enabled {
		g.Append(shadowGraph(l, duration, cardLabel))
		cardLabel = "card"
		bgLabel = "bgshadow"
	}

	g.Add(Chain{
		Inputs: []string{bgLabel, cardLabel},
		Filters: []Filter{
			{Name: "overlay", Params: []Param{
				{Key: "x", Value: "(W-w)/2"},
				{Key: "y", Value: "(H-h)/2"},
			}},
			{Name: "format", Params: []Param{{Value: "yuv420p"}}},
		},
		Outputs: []string{LayoutOut},
	})

	return g
}

// backgroundChain produces [bg] at the output resolution for the full render
// duration: image cover-crop, gradient via geq, or solid color.
func backgroundChain(l renderspec.Layout, duration float64, bgImageInput int) Chain {
	size := fmt.Sprintf("%dx%d", l.OutputWidth, l.OutputHeight)

	if l.BackgroundImagePath != "" && bgImageInput >= 0 {
		return Chain{
			Inputs: []string{fmt.Sprintf("%d:v", bgImageInput)},
			Filters: []Filter{
				{Name: "scale", Params: []Param{
					{Value: NumInt(l.OutputWidth)},
					{Value: NumInt(l.OutputHeight)},
					{Key: "force_original_aspect_ratio", Value: "increase"},
				}},
				{Name: "crop", Params: []Param{
					{Value: NumInt(l.OutputWidth)},
					{Value: NumInt(l.OutputHeight)},
				}},
				{Name: "setsar", Params: []Param{{Value: "1"}}},
			},
			Outputs: []string{"bg"},
		}
	}

	if grad := l.BackgroundGradient; grad != nil {
		return Chain{
			Filters: []Filter{
				{Name: "nullsrc", Params: []Param{
					{Key: "size", Value: size},
					{Key: "duration", Value: Num(duration)},
				}},
				{Name: "format", Params: []Param{{Value: "rgba"}}},
				{Name: "geq", Params: []Param{
					{Key: "r", Value: gradientChannelExpr(grad.From[0], grad.To[0], grad.Angle)},
					{Key: "g", Value: gradientChannelExpr(grad.From[1], grad.To[1], grad.Angle)},
					{Key: "b", Value: gradientChannelExpr(grad.From[2], grad.To[2], grad.Angle)},
					{Key: "a", Value: "255"},
				}},
			},
			Outputs: []string{"bg"},
		}
	}

	color := fmt.Sprintf("0x%06X", l.BackgroundColor)
	if l.BackgroundColorAlpha < 1 {
		color = fmt.Sprintf("%s@%s", color, Num(l.BackgroundColorAlpha))
	}
	return Chain{
		Filters: []Filter{
			{Name: "color", Params: []Param{
				{Key: "c", Value: color},
				{Key: "size", Value: size},
				{Key: "duration", Value: Num(duration)},
			}},
			{Name: "format", Params: []Param{{Value: "rgba"}}},
		},
		Outputs: []string{"bg"},
	}
}

// gradientChannelExpr interpolates one color channel along the gradient
// angle. The projection of the pixel onto the gradient axis is clamped to
// [0,1] with the max/min pair because geq has no clip().
func gradientChannelExpr(from, to int, angleDeg float64) string {
	rad := angleDeg * math.Pi / 180
	dx := Num(math.Cos(rad))
	dy := Num(math.Sin(rad))
	t := fmt.Sprintf("max(0\\,min(1\\,(X/W-0.5)*%s+(Y/H-0.5)*%s+0.5))", dx, dy)
	return fmt.Sprintf("'%d+(%d-%d)*%s'", from, to, from, t)
}

// roundedMaskExpr yields 1 inside the rounded rect and 0 in the corner
// cut-outs. Each corner quadrant is tested against its circle center.
func roundedMaskExpr(w, h, radius int) string {
	r := NumInt(radius)
	right := NumInt(w - 1 - radius)
	bottom := NumInt(h - 1 - radius)

	corner := func(condX, condY, distX, distY string) string {
		return fmt.Sprintf("%s*%s*lte(hypot(%s\\,%s)\\,%s)", condX, condY, distX, distY, r)
	}

	tl := corner(fmt.Sprintf("lt(X\\,%s)", r), fmt.Sprintf("lt(Y\\,%s)", r),
		fmt.Sprintf("%s-X", r), fmt.Sprintf("%s-Y", r))
	tr := corner(fmt.Sprintf("gt(X\\,%s)", right), fmt.Sprintf("lt(Y\\,%s)", r),
		fmt.Sprintf("X-%s", right), fmt.Sprintf("%s-Y", r))
	bl := corner(fmt.Sprintf("lt(X\\,%s)", r), fmt.Sprintf("gt(Y\\,%s)", bottom),
		fmt.Sprintf("%s-X", r), fmt.Sprintf("Y-%s", bottom))
	br := corner(fmt.Sprintf("gt(X\\,%s)", right), fmt.Sprintf("gt(Y\\,%s)", bottom),
		fmt.Sprintf("X-%s", right), fmt.Sprintf("Y-%s", bottom))

	inCorner := fmt.Sprintf(
		"lt(X\\,%[1]s)*lt(Y\\,%[1]s)+gt(X\\,%[2]s)*lt(Y\\,%[1]s)+lt(X\\,%[1]s)*gt(Y\\,%[3]s)+gt(X\\,%[2]s)*gt(Y\\,%[3]s)",
		r, right, bottom)

	// Outside every corner quadrant the mask is 1; inside a quadrant it is
	// the circle test for that corner.
	return fmt.Sprintf("(1-min(1\\,%s))+%s+%s+%s+%s", inCorner, tl, tr, bl, br)
}

// shadowGraph splits the card into card + shadow branches and composites the
// shadow onto the background. Produces [card] and [bgshadow].
func shadowGraph(l renderspec.Layout, duration float64, cardLabel string) Graph {
	var g Graph

	g.Add(Chain{
		Inputs:  []string{cardLabel},
		Filters: []Filter{{Name: "split"}},
		Outputs: []string{"card", "shsrc"},
	})

	blurRadius := int(math.Round(float64(l.Shadow.Blur) / 4))
	if blurRadius < 1 {
		blurRadius = 1
	}

	alphaFilters := []Filter{{Name: "alphaextract"}}
	for i := 0; i < l.Shadow.Spread; i++ {
		alphaFilters = append(alphaFilters, Filter{Name: "dilation"})
	}
	alphaFilters = append(alphaFilters, Filter{Name: "boxblur", Params: []Param{{Value: NumInt(blurRadius)}}})

	g.Add(Chain{
		Inputs:  []string{"shsrc"},
		Filters: alphaFilters,
		Outputs: []string{"shalpha"},
	})

	// Constant-color plate carrying the shadow opacity, shaped by the
	// blurred alpha.
	g.Add(Chain{
		Filters: []Filter{
			{Name: "color", Params: []Param{
				{Key: "c", Value: "black"},
				{Key: "size", Value: fmt.Sprintf("%dx%d", l.InnerWidth, l.InnerHeight)},
				{Key: "duration", Value: Num(duration)},
			}},
			{Name: "format", Params: []Param{{Value: "rgba"}}},
		},
		Outputs: []string{"shplate"},
	})
	g.Add(Chain{
		Inputs: []string{"shplate", "shalpha"},
		Filters: []Filter{
			{Name: "alphamerge"},
			{Name: "colorchannelmixer", Params: []Param{{Key: "aa", Value: Num(l.Shadow.Opacity)}}},
		},
		Outputs: []string{"shadow"},
	})

	g.Add(Chain{
		Inputs: []string{"bg", "shadow"},
		Filters: []Filter{
			{Name: "overlay", Params: []Param{
				{Key: "x", Value: "(W-w)/2"},
				{Key: "y", Value: fmt.Sprintf("(H-h)/2+%s", NumInt(l.Shadow.OffsetY))},
			}},
		},
		Outputs: []string{"bgshadow"},
	})

	return g
}
