// Package correlation computes the per-pixel temporal statistics of
// normalised stacks: lag-resolved cross-correlation between two channels
// and the coefficient of variation of a single channel.
package correlation

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/stat"

	"covcorr/internal/models"
)

// Engine runs the per-pixel computations. Rows of the image are split
// across Workers goroutines; results do not depend on the worker count.
type Engine struct {
	// Workers is the number of goroutines per computation.
	// Zero or negative means runtime.NumCPU().
	Workers int
}

// NewEngine creates an engine using the given number of workers
func NewEngine(workers int) *Engine {
	return &Engine{Workers: workers}
}

func (e *Engine) workers(rows int) int {
	n := e.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > rows {
		n = rows
	}
	if n < 1 {
		n = 1
	}
	return n
}

// forEachRow calls fn for every row in [0, rows), spreading contiguous
// row blocks over the engine's workers
func (e *Engine) forEachRow(rows int, fn func(r int)) {
	numWorkers := e.workers(rows)
	rowsPerWorker := (rows + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * rowsPerWorker
		end := start + rowsPerWorker
		if end > rows {
			end = rows
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for r := start; r < end; r++ {
				fn(r)
			}
		}(start, end)
	}
	wg.Wait()
}

// EffectiveMaxLag clamps maxLag to the largest lag that still leaves a
// non-empty window in a stack of the given length
func EffectiveMaxLag(maxLag, frames int) int {
	if maxLag > frames-1 {
		return frames - 1
	}
	return maxLag
}

// CrossCorrelate computes the Pearson correlation between the temporal
// series of a and b at every pixel, for every lag from 0 to maxLag.
//
// At lag k, b is delayed by k frames: frame t of a is paired with frame
// t-k of b for t in [k, frames). Each series is centred on its own mean over
// that window, and the coefficient is the Bessel-corrected covariance over
// the product of the Bessel-corrected standard deviations.
//
// maxLag is clamped to frames-1. A pixel whose window has zero variance on
// either side, or a window of a single frame, gets NaN and is counted in
// Degenerate.
func (e *Engine) CrossCorrelate(a, b models.Stack, maxLag int) (models.CorrelationMap, error) {
	if maxLag < 0 {
		return models.CorrelationMap{}, models.Errorf(models.KindConfiguration, "cross-correlate",
			"max lag %d must not be negative", maxLag)
	}
	if !a.SameShape(b) {
		return models.CorrelationMap{}, fmt.Errorf("cross-correlate: shape mismatch %dx%dx%d vs %dx%dx%d",
			a.Frames, a.Rows, a.Cols, b.Frames, b.Rows, b.Cols)
	}
	if a.Frames == 0 {
		return models.CorrelationMap{}, fmt.Errorf("cross-correlate: empty stack")
	}

	numLags := EffectiveMaxLag(maxLag, a.Frames) + 1
	result := models.CorrelationMap{Lags: make([]models.Map, numLags)}
	for k := range result.Lags {
		result.Lags[k] = models.NewMap(a.Rows, a.Cols)
	}

	degenerate := make([]int, a.Rows)
	e.forEachRow(a.Rows, func(r int) {
		seriesA := make([]float64, a.Frames)
		seriesB := make([]float64, a.Frames)
		for c := 0; c < a.Cols; c++ {
			for t := 0; t < a.Frames; t++ {
				seriesA[t] = a.At(t, r, c)
				seriesB[t] = b.At(t, r, c)
			}
			for k := 0; k < numLags; k++ {
				coeff := pearson(seriesA[k:], seriesB[:a.Frames-k])
				if math.IsNaN(coeff) {
					degenerate[r]++
				}
				result.Lags[k].Set(r, c, coeff)
			}
		}
	})

	for _, n := range degenerate {
		result.Degenerate += n
	}
	return result, nil
}

// flatTolerance is the standard deviation, relative to the mean, below
// which a series counts as constant. Resampling leaves rounding noise of
// order 1e-16 on flat regions that must not produce a coefficient.
const flatTolerance = 1e-10

// isFlat reports whether a series with the given mean and standard
// deviation has no usable variance
func isFlat(mean, sd float64) bool {
	if math.IsNaN(sd) || math.IsNaN(mean) {
		return true
	}
	return sd <= flatTolerance*math.Abs(mean)
}

// pearson returns the sample correlation of x and y, or NaN when it is
// undefined
func pearson(x, y []float64) float64 {
	if len(x) < 2 {
		return math.NaN()
	}
	meanX, sdX := stat.MeanStdDev(x, nil)
	meanY, sdY := stat.MeanStdDev(y, nil)
	if isFlat(meanX, sdX) || isFlat(meanY, sdY) {
		return math.NaN()
	}
	return stat.Covariance(x, y, nil) / (sdX * sdY)
}
