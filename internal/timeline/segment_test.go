// SPDX-License-Identifier: MIT

package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		segments []Segment
		duration float64
		want     []Segment
	}{
		{
			name:     "clamps to source duration",
			segments: []Segment{{Start: -1, End: 20, Timescale: 1}},
			duration: 10,
			want:     []Segment{{Start: 0, End: 10, Timescale: 1}},
		},
		{
			name: "sorts by start",
			segments: []Segment{
				{Start: 5, End: 7, Timescale: 1},
				{Start: 0, End: 2, Timescale: 1},
			},
			duration: 10,
			want: []Segment{
				{Start: 0, End: 2, Timescale: 1},
				{Start: 5, End: 7, Timescale: 1},
			},
		},
		{
			name: "drops sub-10ms leftovers",
			segments: []Segment{
				{Start: 1, End: 1.005, Timescale: 1},
				{Start: 2, End: 3, Timescale: 1},
			},
			duration: 10,
			want:     []Segment{{Start: 2, End: 3, Timescale: 1}},
		},
		{
			name:     "defaults timescale to 1",
			segments: []Segment{{Start: 0, End: 5, Timescale: 0}},
			duration: 10,
			want:     []Segment{{Start: 0, End: 5, Timescale: 1}},
		},
		{
			name:     "empty input substitutes full span",
			segments: nil,
			duration: 10,
			want:     []Segment{{Start: 0, End: 10, Timescale: 1}},
		},
		{
			name:     "zero duration substitutes minimum span",
			segments: nil,
			duration: 0,
			want:     []Segment{{Start: 0, End: 0.1, Timescale: 1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.segments, tt.duration)
			require.Equal(t, tt.want, got)

			for i, seg := range got {
				assert.GreaterOrEqual(t, seg.Start, 0.0)
				assert.GreaterOrEqual(t, seg.End, seg.Start)
				assert.GreaterOrEqual(t, seg.End-seg.Start, minSegmentLen)
				if i > 0 {
					assert.LessOrEqual(t, got[i-1].Start, seg.Start)
				}
			}
		})
	}
}

func TestTotalOutputDuration(t *testing.T) {
	segs := []Segment{
		{Start: 0, End: 2, Timescale: 1},
		{Start: 5, End: 7, Timescale: 2},
	}
	assert.InDelta(t, 3.0, TotalOutputDuration(segs), 1e-9)

	// The floor keeps degenerate timelines renderable.
	assert.InDelta(t, 0.1, TotalOutputDuration(nil), 1e-9)
}

func TestOutputDuration(t *testing.T) {
	assert.InDelta(t, 1.0, Segment{Start: 0, End: 2, Timescale: 2}.OutputDuration(), 1e-9)
	assert.Zero(t, Segment{Start: 0, End: 2, Timescale: 0}.OutputDuration())
}
