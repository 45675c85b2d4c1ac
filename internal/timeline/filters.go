// SPDX-License-Identifier: MIT

package timeline

import (
	"fmt"
	"math"
)

// atempoEpsilon is the tolerance below which a residual tempo factor is
// skipped entirely.
const atempoEpsilon = 1e-6

// VideoOut is the output label of the video timeline graph.
const VideoOut = "vout"

// AudioOut is the output label of the audio timeline graph.
const AudioOut = "aout"

// BuildVideoGraph renders per-segment trims and the concat joining them.
// Input is stream 0's video; the result lands in [vout].
func BuildVideoGraph(segments []Segment) Graph {
	var g Graph
	labels := make([]string, 0, len(segments))

	for i, seg := range segments {
		label := fmt.Sprintf("v%d", i)
		labels = append(labels, label)

		setpts := "PTS-STARTPTS"
		if math.Abs(seg.Timescale-1) > atempoEpsilon {
			setpts = fmt.Sprintf("(PTS-STARTPTS)/%s", Num(seg.Timescale))
		}

		g.Add(Chain{
			Inputs: []string{"0:v"},
			Filters: []Filter{
				{Name: "trim", Params: []Param{
					{Key: "start", Value: Num(seg.Start)},
					{Key: "end", Value: Num(seg.End)},
				}},
				{Name: "setpts", Params: []Param{{Value: setpts}}},
			},
			Outputs: []string{label},
		})
	}

	g.Add(Chain{
		Inputs: labels,
		Filters: []Filter{
			{Name: "concat", Params: []Param{
				{Key: "n", Value: NumInt(len(labels))},
				{Key: "v", Value: "1"},
				{Key: "a", Value: "0"},
			}},
		},
		Outputs: []string{VideoOut},
	})

	return g
}

// BuildAudioGraph renders per-segment audio trims with tempo correction and
// the concat joining them. audioInput selects which ffmpeg input carries the
// audio track.
func BuildAudioGraph(segments []Segment, audioInput int) Graph {
	var g Graph
	labels := make([]string, 0, len(segments))

	for i, seg := range segments {
		label := fmt.Sprintf("a%d", i)
		labels = append(labels, label)

		filters := []Filter{
			{Name: "atrim", Params: []Param{
				{Key: "start", Value: Num(seg.Start)},
				{Key: "end", Value: Num(seg.End)},
			}},
			{Name: "asetpts", Params: []Param{{Value: "PTS-STARTPTS"}}},
		}
		filters = append(filters, atempoChain(seg.Timescale)...)

		g.Add(Chain{
			Inputs:  []string{fmt.Sprintf("%d:a", audioInput)},
			Filters: filters,
			Outputs: []string{label},
		})
	}

	g.Add(Chain{
		Inputs: labels,
		Filters: []Filter{
			{Name: "concat", Params: []Param{
				{Key: "n", Value: NumInt(len(labels))},
				{Key: "v", Value: "0"},
				{Key: "a", Value: "1"},
			}},
		},
		Outputs: []string{AudioOut},
	})

	return g
}

// atempoChain decomposes a timescale into atempo factors, each within
// ffmpeg's supported [0.5, 2] range.
func atempoChain(timescale float64) []Filter {
	if timescale <= 0 {
		return nil
	}

	var filters []Filter
	remaining := timescale
	for remaining > 2 {
		filters = append(filters, Filter{Name: "atempo", Params: []Param{{Value: "2"}}})
		remaining /= 2
	}
	for remaining < 0.5 {
		filters = append(filters, Filter{Name: "atempo", Params: []Param{{Value: "0.5"}}})
		remaining *= 2
	}
	if math.Abs(remaining-1) > atempoEpsilon {
		filters = append(filters, Filter{Name: "atempo", Params: []Param{{Value: Num(remaining)}}})
	}
	return filters
}
