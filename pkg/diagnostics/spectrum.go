package diagnostics

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Spectrum is a TOF trace with an optional fitted curve and variance
type Spectrum struct {
	Title    string
	TOF      []float64
	Data     []float64
	Variance []float64
	Fit      []float64
}

type pointsWithErrors struct {
	plotter.XYs
	plotter.YErrors
}

// PlotSpectrum draws data as points, with error bars when Variance is set,
// and the fitted curve as a line, then saves the figure to filename. The
// image format follows the file extension.
func PlotSpectrum(s Spectrum, filename string) error {
	n := len(s.TOF)
	if n == 0 || len(s.Data) != n {
		return fmt.Errorf("diagnostics: spectrum has %d TOF bins and %d data points", n, len(s.Data))
	}

	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = "TOF (us)"
	p.Y.Label.Text = "Counts"

	pts := make(plotter.XYs, n)
	for i := range pts {
		pts[i].X = s.TOF[i]
		pts[i].Y = s.Data[i]
	}
	data, err := plotter.NewScatter(pts)
	if err != nil {
		return fmt.Errorf("failed to plot data: %w", err)
	}
	data.GlyphStyle.Shape = draw.CircleGlyph{}
	data.GlyphStyle.Radius = vg.Points(2)
	p.Add(data)
	p.Legend.Add("data", data)

	if len(s.Variance) == n {
		errs := make(plotter.YErrors, n)
		for i, v := range s.Variance {
			e := math.Sqrt(math.Max(v, 0))
			errs[i].Low, errs[i].High = e, e
		}
		bars, err := plotter.NewYErrorBars(pointsWithErrors{XYs: pts, YErrors: errs})
		if err != nil {
			return fmt.Errorf("failed to plot error bars: %w", err)
		}
		p.Add(bars)
	}

	if len(s.Fit) == n {
		curve := make(plotter.XYs, n)
		for i := range curve {
			curve[i].X = s.TOF[i]
			curve[i].Y = s.Fit[i]
		}
		line, err := plotter.NewLine(curve)
		if err != nil {
			return fmt.Errorf("failed to plot fit: %w", err)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = color.RGBA{R: 220, G: 40, B: 40, A: 255}
		p.Add(line)
		p.Legend.Add("fit", line)
	}

	if err := p.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
