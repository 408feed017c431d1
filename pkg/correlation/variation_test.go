package correlation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"covcorr/internal/models"
)

func TestCoefficientOfVariationFlatStack(t *testing.T) {
	s := models.NewStack(5, 3, 3)
	for i := range s.Data {
		s.Data[i] = 2
	}

	cov := NewEngine(2).CoefficientOfVariation(s)
	assert.Equal(t, 3, cov.Rows)
	assert.Equal(t, 3, cov.Cols)
	assert.Zero(t, cov.Degenerate)
	for _, v := range cov.Data {
		assert.InDelta(t, 0.0, v, 1e-15)
	}
}

func TestCoefficientOfVariationSinglePixel(t *testing.T) {
	s := models.NewStack(4, 3, 3)
	for i := range s.Data {
		s.Data[i] = 2
	}
	// Pixel (1,2) alternates between 1 and 3
	for t := 0; t < s.Frames; t++ {
		s.Frame(t).Set(1, 2, float64(1+2*(t%2)))
	}

	cov := NewEngine(1).CoefficientOfVariation(s)

	// Temporal mean is 2 everywhere, so the global mean is 2. The sample
	// variance of {1,3,1,3} is 4/3.
	want := math.Sqrt(4.0/3.0) / 2
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			if r == 1 && c == 2 {
				assert.InDelta(t, want, cov.At(r, c), 1e-12)
				continue
			}
			assert.InDelta(t, 0.0, cov.At(r, c), 1e-15, "pixel (%d,%d)", r, c)
		}
	}
}

// TestCoefficientOfVariationUsesGlobalMean checks that two pixels with the
// same temporal spread but different brightness get the same value
func TestCoefficientOfVariationUsesGlobalMean(t *testing.T) {
	s := models.NewStack(2, 1, 2)
	// pixel 0: {1, 3}, mean 2; pixel 1: {9, 11}, mean 10
	s.Frame(0).Set(0, 0, 1)
	s.Frame(1).Set(0, 0, 3)
	s.Frame(0).Set(0, 1, 9)
	s.Frame(1).Set(0, 1, 11)

	cov := NewEngine(1).CoefficientOfVariation(s)
	want := math.Sqrt2 / 6
	assert.InDelta(t, want, cov.At(0, 0), 1e-12)
	assert.InDelta(t, want, cov.At(0, 1), 1e-12)
}

func TestCoefficientOfVariationDegenerate(t *testing.T) {
	single := models.NewStack(1, 2, 2)
	for i := range single.Data {
		single.Data[i] = 1
	}
	cov := NewEngine(1).CoefficientOfVariation(single)
	assert.Equal(t, 4, cov.Degenerate)
	for _, v := range cov.Data {
		assert.True(t, math.IsNaN(v))
	}

	zero := models.NewStack(3, 2, 2)
	cov = NewEngine(1).CoefficientOfVariation(zero)
	assert.Equal(t, 4, cov.Degenerate)
}
