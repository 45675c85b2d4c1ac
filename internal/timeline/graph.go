// SPDX-License-Identifier: MIT

package timeline

import (
	"strconv"
	"strings"
)

// The filter graph is assembled from a small AST instead of raw string
// interpolation so individual subgraphs stay unit-testable.

// Param is a single filter parameter. A param without a key renders as a
// bare positional value.
type Param struct {
	Key   string
	Value string
}

// Filter is one node in a chain, e.g. trim=start=0:end=2.
type Filter struct {
	Name   string
	Params []Param
}

func (f Filter) render(b *strings.Builder) {
	b.WriteString(f.Name)
	for i, p := range f.Params {
		if i == 0 {
			b.WriteByte('=')
		} else {
			b.WriteByte(':')
		}
		if p.Key != "" {
			b.WriteString(p.Key)
			b.WriteByte('=')
		}
		b.WriteString(p.Value)
	}
}

// Chain is a linear filter sequence with input and output labels.
type Chain struct {
	Inputs  []string
	Filters []Filter
	Outputs []string
}

func (c Chain) render(b *strings.Builder) {
	for _, in := range c.Inputs {
		b.WriteByte('[')
		b.WriteString(in)
		b.WriteByte(']')
	}
	for i, f := range c.Filters {
		if i > 0 {
			b.WriteByte(',')
		}
		f.render(b)
	}
	for _, out := range c.Outputs {
		b.WriteByte('[')
		b.WriteString(out)
		b.WriteByte(']')
	}
}

// Graph is a set of chains joined by ";" in render order.
type Graph struct {
	Chains []Chain
}

// Add appends a chain.
func (g *Graph) Add(c Chain) { g.Chains = append(g.Chains, c) }

// Append merges another graph's chains.
func (g *Graph) Append(other Graph) { g.Chains = append(g.Chains, other.Chains...) }

// String renders the graph to ffmpeg filter_complex syntax.
func (g Graph) String() string {
	var b strings.Builder
	for i, c := range g.Chains {
		if i > 0 {
			b.WriteByte(';')
		}
		c.render(&b)
	}
	return b.String()
}

// Num formats a numeric filter argument with up to 6 decimals, stripping
// trailing zeros so filter strings stay stable across runs.
func Num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

// NumInt formats an integer filter argument.
func NumInt(v int) string { return strconv.Itoa(v) }
