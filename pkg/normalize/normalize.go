// Package normalize prepares raw stacks for temporal statistics by
// shrinking them spatially and removing per-frame intensity drift.
package normalize

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"covcorr/internal/models"
	"covcorr/pkg/interpolation"
)

// Normalize downscales every frame of raw by scaleFactor and divides each
// frame by its own mean intensity.
//
// scaleFactor must lie in the open interval (0, 1); anything else is a
// configuration error. A frame whose mean is zero or not finite cannot be
// normalised: it is filled with NaN and counted in the returned stack's
// Degenerate field.
func Normalize(raw models.Stack, scaleFactor float64) (models.Stack, error) {
	if !(scaleFactor > 0 && scaleFactor < 1) {
		return models.Stack{}, models.Errorf(models.KindConfiguration, "normalize",
			"scale factor %v must be in (0, 1)", scaleFactor)
	}
	if raw.Frames == 0 || raw.Rows == 0 || raw.Cols == 0 {
		return models.Stack{}, models.Errorf(models.KindLoad, "normalize",
			"empty stack %dx%dx%d", raw.Frames, raw.Rows, raw.Cols)
	}

	out := interpolation.DownscaleStack(raw, scaleFactor)
	out.Degenerate = 0
	for t := 0; t < out.Frames; t++ {
		frame := out.Frame(t).Data
		mean := stat.Mean(frame, nil)
		if mean == 0 || math.IsNaN(mean) || math.IsInf(mean, 0) {
			for i := range frame {
				frame[i] = math.NaN()
			}
			out.Degenerate++
			continue
		}
		floats.Scale(1/mean, frame)
	}
	return out, nil
}
