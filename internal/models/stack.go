package models

import (
	"fmt"
	"sort"
)

// Stack represents one channel of one time-lapse image
type Stack struct {
	// Data holds the samples in [time][row][col] order as a flat array
	Data []float64

	// Frames is the number of time points
	Frames int

	// Rows and Cols are the spatial extents of every frame
	Rows, Cols int

	// Degenerate counts frames that could not be normalised and were
	// filled with NaN
	Degenerate int
}

// NewStack allocates a zeroed stack with the given extents
func NewStack(frames, rows, cols int) Stack {
	return Stack{
		Data:   make([]float64, frames*rows*cols),
		Frames: frames,
		Rows:   rows,
		Cols:   cols,
	}
}

// FrameSize returns the number of pixels in a single frame
func (s Stack) FrameSize() int {
	return s.Rows * s.Cols
}

// Frame returns the t-th frame as a Map sharing the stack's storage
func (s Stack) Frame(t int) Map {
	n := s.FrameSize()
	return Map{Data: s.Data[t*n : (t+1)*n], Rows: s.Rows, Cols: s.Cols}
}

// At returns the sample at (t, r, c)
func (s Stack) At(t, r, c int) float64 {
	return s.Data[t*s.Rows*s.Cols+r*s.Cols+c]
}

// SameShape reports whether two stacks have identical extents
func (s Stack) SameShape(o Stack) bool {
	return s.Frames == o.Frames && s.Rows == o.Rows && s.Cols == o.Cols
}

// Map is a 2D array of samples stored row-major
type Map struct {
	Data       []float64
	Rows, Cols int
}

// NewMap allocates a zeroed map
func NewMap(rows, cols int) Map {
	return Map{Data: make([]float64, rows*cols), Rows: rows, Cols: cols}
}

// At returns the value at (r, c)
func (m Map) At(r, c int) float64 {
	return m.Data[r*m.Cols+c]
}

// Set stores v at (r, c)
func (m Map) Set(r, c int, v float64) {
	m.Data[r*m.Cols+c] = v
}

// CorrelationMap holds one per-pixel coefficient map per lag, lag 0 first
type CorrelationMap struct {
	Lags []Map

	// Degenerate counts pixels, summed over lags, whose coefficient is
	// undefined and stored as NaN
	Degenerate int
}

// VariationMap is the per-pixel coefficient of variation of one stack
type VariationMap struct {
	Map

	// Degenerate counts pixels stored as NaN
	Degenerate int
}

// ChannelSet holds the normalised stacks of every channel of one image
type ChannelSet struct {
	// Image is the image name without extension
	Image string

	// Stacks maps channel name to its normalised stack
	Stacks map[string]Stack
}

// NewChannelSet creates an empty channel set for an image
func NewChannelSet(image string) *ChannelSet {
	return &ChannelSet{Image: image, Stacks: make(map[string]Stack)}
}

// Channels returns the channel names in sorted order
func (cs *ChannelSet) Channels() []string {
	names := make([]string, 0, len(cs.Stacks))
	for name := range cs.Stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the set is non-empty and every stack shares
// the same spatial extents
func (cs *ChannelSet) Validate() error {
	if len(cs.Stacks) == 0 {
		return fmt.Errorf("image %s has no channels", cs.Image)
	}
	var ref *Stack
	var refName string
	for _, name := range cs.Channels() {
		s := cs.Stacks[name]
		if ref == nil {
			ref, refName = &s, name
			continue
		}
		if s.Rows != ref.Rows || s.Cols != ref.Cols {
			return fmt.Errorf("channel %s is %dx%d but %s is %dx%d",
				name, s.Rows, s.Cols, refName, ref.Rows, ref.Cols)
		}
	}
	return nil
}

// ChannelPair is an unordered pair of channel names. First is never
// lexically smaller than Second, so {a,b} and {b,a} are the same pair.
type ChannelPair struct {
	First, Second string
}

// NewChannelPair orders the two names
func NewChannelPair(a, b string) ChannelPair {
	if a < b {
		a, b = b, a
	}
	return ChannelPair{First: a, Second: b}
}

// IsSelf reports whether both sides name the same channel
func (p ChannelPair) IsSelf() bool {
	return p.First == p.Second
}

// String joins the two names the way output files are named
func (p ChannelPair) String() string {
	return p.First + p.Second
}

// Pairs enumerates every unordered pair, self-pairs included, over the
// given channel names. The result has n(n+1)/2 entries in a stable order.
func Pairs(channels []string) []ChannelPair {
	names := append([]string(nil), channels...)
	sort.Strings(names)
	seen := make(map[ChannelPair]bool)
	var pairs []ChannelPair
	for i := range names {
		for j := i; j < len(names); j++ {
			p := NewChannelPair(names[i], names[j])
			if seen[p] {
				continue
			}
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	return pairs
}
