// SPDX-License-Identifier: MIT

// Package timeline normalizes editor timeline segments and builds the ffmpeg
// filter graphs that realize them.
package timeline

import (
	"sort"
)

// minSegmentLen drops segments too short to survive a trim filter.
const minSegmentLen = 0.01

// Segment is a half-open time range within the source with a playback rate
// multiplier. Timescale 2 plays twice as fast (half the output duration).
type Segment struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Timescale float64 `json:"timescale"`
}

// OutputDuration is the segment's contribution to the rendered timeline.
func (s Segment) OutputDuration() float64 {
	if s.Timescale <= 0 {
		return 0
	}
	return (s.End - s.Start) / s.Timescale
}

// Normalize clamps segments to [0, duration], sorts them by start, drops
// sub-10ms leftovers and defaults timescale to 1. If nothing survives, a
// single full-length segment is substituted so a render always has input.
func Normalize(segments []Segment, duration float64) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		start := clamp(seg.Start, 0, duration)
		end := clamp(seg.End, 0, duration)
		if end-start < minSegmentLen {
			continue
		}
		ts := seg.Timescale
		if ts <= 0 {
			ts = 1
		}
		out = append(out, Segment{Start: start, End: end, Timescale: ts})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	if len(out) == 0 {
		end := duration
		if end < 0.1 {
			end = 0.1
		}
		return []Segment{{Start: 0, End: end, Timescale: 1}}
	}
	return out
}

// TotalOutputDuration sums the output durations of all segments, with the
// same 0.1s floor the renderer enforces.
func TotalOutputDuration(segments []Segment) float64 {
	total := 0.0
	for _, seg := range segments {
		total += seg.OutputDuration()
	}
	if total < 0.1 {
		total = 0.1
	}
	return total
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
