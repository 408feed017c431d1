// Package interpolation resamples 2D maps and image stacks with cubic
// convolution. Only the spatial axes are ever resampled; the time axis of
// a stack is left untouched.
package interpolation

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"covcorr/internal/models"
)

// kernelWidth is the support of the cubic kernel in input samples
const kernelWidth = 4.0

// cubicA is the free parameter of the Keys kernel. -0.5 matches the
// bicubic kernel used by MATLAB's imresize.
const cubicA = -0.5

// cubic evaluates the Keys cubic convolution kernel
func cubic(x float64) float64 {
	ax := math.Abs(x)
	ax2 := ax * ax
	ax3 := ax2 * ax
	switch {
	case ax <= 1:
		return (cubicA+2)*ax3 - (cubicA+3)*ax2 + 1
	case ax < 2:
		return cubicA*ax3 - 5*cubicA*ax2 + 8*cubicA*ax - 4*cubicA
	default:
		return 0
	}
}

// DownscaledExtent is the output length when shrinking extent by factor
func DownscaledExtent(extent int, factor float64) int {
	return int(math.Ceil(float64(extent) * factor))
}

// UpscaledExtent is the output length when undoing a downscale by
// factor, i.e. resampling by 1/factor back to the original resolution
func UpscaledExtent(extent int, factor float64) int {
	return int(math.Round(float64(extent) / factor))
}

// contributions lists, for every output sample along one axis, the input
// samples it draws from and their normalised weights
type contributions struct {
	indices [][]int
	weights [][]float64
}

// mirror folds an out-of-range index back into [0, n) by symmetric
// reflection, repeating the edge sample
func mirror(j, n int) int {
	period := 2 * n
	m := j % period
	if m < 0 {
		m += period
	}
	if m < n {
		return m
	}
	return period - 1 - m
}

// computeContributions builds the resampling weights for one axis.
//
// Output sample u (1-based) maps to input coordinate
// x = u/scale + 0.5*(1-1/scale); the four nearest input samples are
// weighted by the cubic kernel and the weights are normalised to sum to 1.
// No antialiasing is applied when shrinking.
func computeContributions(inLen, outLen int, scale float64) contributions {
	c := contributions{
		indices: make([][]int, outLen),
		weights: make([][]float64, outLen),
	}
	for u := 1; u <= outLen; u++ {
		x := float64(u)/scale + 0.5*(1-1/scale)
		left := int(math.Floor(x - kernelWidth/2))

		acc := make(map[int]float64, int(kernelWidth))
		var order []int
		for j := left + 1; j <= left+int(kernelWidth); j++ {
			w := cubic(x - float64(j))
			if w == 0 {
				continue
			}
			idx := mirror(j-1, inLen)
			if _, ok := acc[idx]; !ok {
				order = append(order, idx)
			}
			acc[idx] += w
		}

		idx := make([]int, 0, len(order))
		ws := make([]float64, 0, len(order))
		for _, i := range order {
			if acc[i] == 0 {
				continue
			}
			idx = append(idx, i)
			ws = append(ws, acc[i])
		}
		if sum := floats.Sum(ws); sum != 0 {
			floats.Scale(1/sum, ws)
		}
		c.indices[u-1] = idx
		c.weights[u-1] = ws
	}
	return c
}

// Resizer resamples maps of one fixed size to another. The weights are
// computed once and shared by every frame passed through Apply.
type Resizer struct {
	inRows, inCols   int
	outRows, outCols int
	rowContrib       contributions
	colContrib       contributions
}

// NewResizer prepares a resampler from inRows x inCols to
// outRows x outCols using the given scale factor.
// A non-positive factor or extent is a programming error and panics.
func NewResizer(inRows, inCols, outRows, outCols int, factor float64) *Resizer {
	if !(factor > 0) || math.IsInf(factor, 0) {
		panic(fmt.Sprintf("interpolation: invalid scale factor %v", factor))
	}
	if inRows <= 0 || inCols <= 0 || outRows <= 0 || outCols <= 0 {
		panic(fmt.Sprintf("interpolation: invalid extents %dx%d -> %dx%d",
			inRows, inCols, outRows, outCols))
	}
	return &Resizer{
		inRows:     inRows,
		inCols:     inCols,
		outRows:    outRows,
		outCols:    outCols,
		rowContrib: computeContributions(inRows, outRows, factor),
		colContrib: computeContributions(inCols, outCols, factor),
	}
}

// Apply resamples src (inRows*inCols, row-major) into dst
// (outRows*outCols, row-major). NaN inputs only reach the outputs whose
// kernel covers them.
func (r *Resizer) Apply(dst, src []float64) {
	// Columns first: inRows x outCols intermediate
	tmp := make([]float64, r.inRows*r.outCols)
	for y := 0; y < r.inRows; y++ {
		row := src[y*r.inCols : (y+1)*r.inCols]
		for x := 0; x < r.outCols; x++ {
			var v float64
			for k, idx := range r.colContrib.indices[x] {
				v += r.colContrib.weights[x][k] * row[idx]
			}
			tmp[y*r.outCols+x] = v
		}
	}

	// Then rows
	for y := 0; y < r.outRows; y++ {
		out := dst[y*r.outCols : (y+1)*r.outCols]
		for x := range out {
			out[x] = 0
		}
		for k, idx := range r.rowContrib.indices[y] {
			w := r.rowContrib.weights[y][k]
			floats.AddScaled(out, w, tmp[idx*r.outCols:(idx+1)*r.outCols])
		}
	}
}

// Resize resamples a 2D map to rows x cols
func Resize(m models.Map, factor float64, rows, cols int) models.Map {
	out := models.NewMap(rows, cols)
	NewResizer(m.Rows, m.Cols, rows, cols, factor).Apply(out.Data, m.Data)
	return out
}

// Downscale shrinks a map by factor to ceil(extent*factor)
func Downscale(m models.Map, factor float64) models.Map {
	return Resize(m, factor, DownscaledExtent(m.Rows, factor), DownscaledExtent(m.Cols, factor))
}

// Upscale undoes a previous Downscale by factor, producing
// round(extent/factor) samples per axis
func Upscale(m models.Map, factor float64) models.Map {
	return Resize(m, 1/factor, UpscaledExtent(m.Rows, factor), UpscaledExtent(m.Cols, factor))
}

// ResizeStack resamples every frame of a stack to rows x cols. Frames are
// spread over the available CPU cores.
func ResizeStack(s models.Stack, factor float64, rows, cols int) models.Stack {
	out := models.NewStack(s.Frames, rows, cols)
	out.Degenerate = s.Degenerate
	if s.Frames == 0 {
		return out
	}
	resizer := NewResizer(s.Rows, s.Cols, rows, cols, factor)

	numCores := runtime.NumCPU()
	if numCores > s.Frames {
		numCores = s.Frames
	}
	framesPerCore := (s.Frames + numCores - 1) / numCores

	var wg sync.WaitGroup
	for c := 0; c < numCores; c++ {
		start := c * framesPerCore
		end := start + framesPerCore
		if end > s.Frames {
			end = s.Frames
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for t := start; t < end; t++ {
				resizer.Apply(out.Frame(t).Data, s.Frame(t).Data)
			}
		}(start, end)
	}
	wg.Wait()

	return out
}

// DownscaleStack shrinks every frame of a stack by factor
func DownscaleStack(s models.Stack, factor float64) models.Stack {
	return ResizeStack(s, factor, DownscaledExtent(s.Rows, factor), DownscaledExtent(s.Cols, factor))
}

// UpscaleStack undoes a previous DownscaleStack by factor
func UpscaleStack(s models.Stack, factor float64) models.Stack {
	return ResizeStack(s, 1/factor, UpscaledExtent(s.Rows, factor), UpscaledExtent(s.Cols, factor))
}
