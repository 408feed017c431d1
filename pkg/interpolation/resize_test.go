package interpolation

import (
	"math"
	"testing"

	"covcorr/internal/models"
)

// createRamp creates a rows x cols map whose value increases by one per row
func createRamp(rows, cols int) models.Map {
	m := models.NewMap(rows, cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			m.Set(y, x, float64(y+1))
		}
	}
	return m
}

// TestCubicKernel checks the kernel at its knots and a few interior points
func TestCubicKernel(t *testing.T) {
	cases := []struct {
		x, want float64
	}{
		{0, 1},
		{1, 0},
		{-1, 0},
		{2, 0},
		{2.5, 0},
		{0.5, 0.5625},
		{-0.5, 0.5625},
		{1.5, -0.0625},
	}
	for _, c := range cases {
		if got := cubic(c.x); math.Abs(got-c.want) > 1e-12 {
			t.Errorf("cubic(%v) = %v, want %v", c.x, got, c.want)
		}
	}
}

func TestMirror(t *testing.T) {
	n := 4
	cases := map[int]int{-2: 1, -1: 0, 0: 0, 3: 3, 4: 3, 5: 2, 8: 0}
	for in, want := range cases {
		if got := mirror(in, n); got != want {
			t.Errorf("mirror(%d, %d) = %d, want %d", in, n, got, want)
		}
	}
}

// TestContributionsSumToOne verifies the weight normalisation on both
// shrinking and enlarging axes
func TestContributionsSumToOne(t *testing.T) {
	for _, tc := range []struct {
		in, out int
		scale   float64
	}{
		{8, 4, 0.5},
		{10, 3, 0.25},
		{4, 8, 2},
		{3, 12, 4},
	} {
		c := computeContributions(tc.in, tc.out, tc.scale)
		for u, ws := range c.weights {
			sum := 0.0
			for _, w := range ws {
				sum += w
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Errorf("in=%d out=%d: weights of output %d sum to %v", tc.in, tc.out, u, sum)
			}
			for _, idx := range c.indices[u] {
				if idx < 0 || idx >= tc.in {
					t.Errorf("in=%d out=%d: index %d out of range", tc.in, tc.out, idx)
				}
			}
		}
	}
}

func TestExtents(t *testing.T) {
	if got := DownscaledExtent(10, 0.25); got != 3 {
		t.Errorf("DownscaledExtent(10, 0.25) = %d, want 3", got)
	}
	if got := DownscaledExtent(8, 0.5); got != 4 {
		t.Errorf("DownscaledExtent(8, 0.5) = %d, want 4", got)
	}
	if got := UpscaledExtent(4, 0.5); got != 8 {
		t.Errorf("UpscaledExtent(4, 0.5) = %d, want 8", got)
	}
	if got := UpscaledExtent(3, 0.3); got != 10 {
		t.Errorf("UpscaledExtent(3, 0.3) = %d, want 10", got)
	}
}

// TestConstantPreserved checks that a flat map stays flat
func TestConstantPreserved(t *testing.T) {
	m := models.NewMap(9, 7)
	for i := range m.Data {
		m.Data[i] = 3.25
	}
	for _, out := range []models.Map{Downscale(m, 0.3), Upscale(m, 0.5)} {
		for i, v := range out.Data {
			if math.Abs(v-3.25) > 1e-12 {
				t.Fatalf("pixel %d = %v, want 3.25", i, v)
			}
		}
	}
}

// TestRoundTripRamp downscales and upscales a ramp and checks extents and
// interpolation error
func TestRoundTripRamp(t *testing.T) {
	src := createRamp(8, 8)

	small := Downscale(src, 0.5)
	if small.Rows != 4 || small.Cols != 4 {
		t.Fatalf("downscaled to %dx%d, want 4x4", small.Rows, small.Cols)
	}
	// Interior samples of a linear ramp are reproduced exactly
	if v := small.At(1, 0); math.Abs(v-3.5) > 1e-12 {
		t.Errorf("small(1,0) = %v, want 3.5", v)
	}
	if v := small.At(0, 0); math.Abs(v-1.4375) > 1e-12 {
		t.Errorf("small(0,0) = %v, want 1.4375", v)
	}

	back := Upscale(small, 0.5)
	if back.Rows != src.Rows || back.Cols != src.Cols {
		t.Fatalf("round trip gave %dx%d, want %dx%d", back.Rows, back.Cols, src.Rows, src.Cols)
	}
	for y := 0; y < back.Rows; y++ {
		for x := 0; x < back.Cols; x++ {
			diff := math.Abs(back.At(y, x) - src.At(y, x))
			limit := 0.5
			if y >= 2 && y <= 5 {
				limit = 0.1
			}
			if diff > limit {
				t.Errorf("pixel (%d,%d): got %v, want %v within %v", y, x, back.At(y, x), src.At(y, x), limit)
			}
		}
	}
}

// TestNaNStaysLocal verifies that an undefined sample does not poison
// outputs outside its kernel footprint
func TestNaNStaysLocal(t *testing.T) {
	m := models.NewMap(16, 16)
	for i := range m.Data {
		m.Data[i] = 1
	}
	m.Set(0, 0, math.NaN())

	out := Downscale(m, 0.5)
	if !math.IsNaN(out.At(0, 0)) {
		t.Errorf("expected NaN next to the undefined sample")
	}
	if v := out.At(7, 7); math.IsNaN(v) || math.Abs(v-1) > 1e-12 {
		t.Errorf("far pixel = %v, want 1", v)
	}
}

// TestResizeStackKeepsTimeAxis checks that only spatial axes change
func TestResizeStackKeepsTimeAxis(t *testing.T) {
	s := models.NewStack(5, 10, 8)
	for f := 0; f < s.Frames; f++ {
		frame := s.Frame(f)
		for i := range frame.Data {
			frame.Data[i] = float64(f + 1)
		}
	}

	out := DownscaleStack(s, 0.5)
	if out.Frames != 5 || out.Rows != 5 || out.Cols != 4 {
		t.Fatalf("got %dx%dx%d, want 5x5x4", out.Frames, out.Rows, out.Cols)
	}
	for f := 0; f < out.Frames; f++ {
		for _, v := range out.Frame(f).Data {
			if math.Abs(v-float64(f+1)) > 1e-12 {
				t.Fatalf("frame %d: got %v, want %v", f, v, f+1)
			}
		}
	}

	back := UpscaleStack(out, 0.5)
	if back.Frames != 5 || back.Rows != 10 || back.Cols != 8 {
		t.Errorf("got %dx%dx%d, want 5x10x8", back.Frames, back.Rows, back.Cols)
	}
}

func TestInvalidFactorPanics(t *testing.T) {
	for _, factor := range []float64{0, -0.5, math.NaN()} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("expected panic for factor %v", factor)
				}
			}()
			NewResizer(4, 4, 2, 2, factor)
		}()
	}
}
