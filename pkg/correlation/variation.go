package correlation

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"covcorr/internal/models"
)

// CoefficientOfVariation computes, for every pixel, the Bessel-corrected
// standard deviation of its temporal series divided by the global mean
// intensity of the stack (the mean of the per-pixel temporal means).
//
// The denominator is shared by all pixels so values stay comparable across
// regions of different brightness. Stacks with fewer than two frames, or a
// global mean of zero, give NaN pixels counted in Degenerate.
func (e *Engine) CoefficientOfVariation(s models.Stack) models.VariationMap {
	result := models.VariationMap{Map: models.NewMap(s.Rows, s.Cols)}
	if s.FrameSize() == 0 {
		return result
	}

	means := models.NewMap(s.Rows, s.Cols)
	stds := models.NewMap(s.Rows, s.Cols)
	e.forEachRow(s.Rows, func(r int) {
		series := make([]float64, s.Frames)
		for c := 0; c < s.Cols; c++ {
			for t := 0; t < s.Frames; t++ {
				series[t] = s.At(t, r, c)
			}
			mean, sd := stat.MeanStdDev(series, nil)
			if s.Frames < 2 {
				sd = math.NaN()
			}
			means.Set(r, c, mean)
			stds.Set(r, c, sd)
		}
	})

	globalMean := floats.Sum(means.Data) / float64(len(means.Data))
	for i, sd := range stds.Data {
		v := sd / globalMean
		if globalMean == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			v = math.NaN()
			result.Degenerate++
		}
		result.Data[i] = v
	}
	return result
}
