// Package visualization renders the CoV against cross-correlation scatter
// plots produced for every channel pair and lag.
package visualization

import (
	"fmt"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"covcorr/internal/models"
)

// Fixed axis ranges shared by every scatter plot so figures can be
// compared side by side
const (
	XMin, XMax = 0.0, 1.5
	YMin, YMax = -1.0, 1.0
)

var (
	positiveColor = color.RGBA{B: 255, A: 255}
	negativeColor = color.RGBA{R: 255, A: 255}
)

// ScatterRenderer draws reference-channel CoV (x) against correlation
// coefficients (y) and saves the figure as PNG
type ScatterRenderer struct {
	// XLabel and YLabel are the axis titles
	XLabel string
	YLabel string

	// Width and Height are the figure size
	Width  vg.Length
	Height vg.Length
}

// NewScatterRenderer creates a renderer whose x axis is labelled after the
// reference channel
func NewScatterRenderer(referenceChannel string) *ScatterRenderer {
	return &ScatterRenderer{
		XLabel: fmt.Sprintf("%s Coeff of Variation", referenceChannel),
		YLabel: "Cross correlation value",
		Width:  6.4 * vg.Inch,
		Height: 4.8 * vg.Inch,
	}
}

// splitBySign partitions the (x, y) pairs into non-negative and negative
// y values. Pairs with an undefined coordinate or outside the plotted
// range are left out.
func splitBySign(x, y []float64) (positive, negative plotter.XYs) {
	for i := range x {
		xv, yv := x[i], y[i]
		if math.IsNaN(xv) || math.IsNaN(yv) {
			continue
		}
		if xv < XMin || xv > XMax || yv < YMin || yv > YMax {
			continue
		}
		pt := plotter.XY{X: xv, Y: yv}
		if yv >= 0 {
			positive = append(positive, pt)
		} else {
			negative = append(negative, pt)
		}
	}
	return positive, negative
}

func addScatter(p *plot.Plot, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	s.GlyphStyle.Shape = draw.CircleGlyph{}
	s.GlyphStyle.Color = c
	s.GlyphStyle.Radius = vg.Points(2)
	p.Add(s)
	return nil
}

// RenderScatter writes <dir>/<title>.png. x and y must have the same
// length; non-negative y values are drawn in blue, negative ones in red.
func (r *ScatterRenderer) RenderScatter(x, y []float64, title, dir string) error {
	op := "render " + title
	if len(x) != len(y) {
		return models.Errorf(models.KindIOWrite, op, "x has %d values, y has %d", len(x), len(y))
	}
	if info, err := os.Stat(dir); err != nil {
		return models.Wrap(models.KindIOWrite, op, err)
	} else if !info.IsDir() {
		return models.Errorf(models.KindIOWrite, op, "%s is not a directory", dir)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = r.XLabel
	p.Y.Label.Text = r.YLabel

	positive, negative := splitBySign(x, y)
	if err := addScatter(p, positive, positiveColor); err != nil {
		return models.Wrap(models.KindIOWrite, op, err)
	}
	if err := addScatter(p, negative, negativeColor); err != nil {
		return models.Wrap(models.KindIOWrite, op, err)
	}

	// Add widens the axes to the data, so the fixed range goes last
	p.X.Min, p.X.Max = XMin, XMax
	p.Y.Min, p.Y.Max = YMin, YMax

	if err := p.Save(r.Width, r.Height, filepath.Join(dir, title+".png")); err != nil {
		return models.Wrap(models.KindIOWrite, op, err)
	}
	return nil
}
