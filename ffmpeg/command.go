// Package ffmpeg builds and executes transcoding commands for the external
// ffmpeg/ffprobe binaries. Filter graphs are constructed as typed values by
// pure functions and only serialized to argv at the executor boundary.
package ffmpeg

import (
	"fmt"
	"strings"
)

// Input is a single -i entry, with any per-input options that must precede it
// (e.g. -loop 1 -t 4.5 for a still image, or -f lavfi for a generated source).
type Input struct {
	Options []string
	Path    string
}

// Filter is one node of a filter_complex graph: input labels, the filter
// expression, and output labels. Labels carry no brackets.
type Filter struct {
	Inputs  []string
	Expr    string
	Outputs []string
}

func (f Filter) String() string {
	var b strings.Builder
	for _, in := range f.Inputs {
		fmt.Fprintf(&b, "[%s]", in)
	}
	b.WriteString(f.Expr)
	for _, out := range f.Outputs {
		fmt.Fprintf(&b, "[%s]", out)
	}
	return b.String()
}

// Command is a fully resolved transcoding instruction. It is built once by a
// graph builder and consumed once by the Executor; nothing mutates it in
// between.
type Command struct {
	Inputs     []Input
	Filters    []Filter
	Maps       []string
	OutputArgs []string
	OutputPath string

	// Duration is the expected duration of the output in seconds, computed
	// by the builder from the probed input durations.
	Duration float64
}

// FilterComplex renders the graph as a single filter_complex expression.
func (c Command) FilterComplex() string {
	parts := make([]string, len(c.Filters))
	for i, f := range c.Filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, ";")
}

// Args serializes the command into ffmpeg argv form (without the binary name).
func (c Command) Args() []string {
	args := []string{"-y"}
	for _, in := range c.Inputs {
		args = append(args, in.Options...)
		args = append(args, "-i", in.Path)
	}
	if len(c.Filters) > 0 {
		args = append(args, "-filter_complex", c.FilterComplex())
	}
	for _, m := range c.Maps {
		args = append(args, "-map", m)
	}
	args = append(args, c.OutputArgs...)
	args = append(args, c.OutputPath)
	return args
}
