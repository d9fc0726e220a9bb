package detector

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"braggflood/internal/models"
	"braggflood/pkg/profile"
)

// SimPeak is one reflection placed on a simulated bank
type SimPeak struct {
	Row, Col  int
	DSpacing  float64
	Intensity float64

	// SpreadRows and SpreadCols are the gaussian widths of the spot on the
	// detector face, in pixels
	SpreadRows float64
	SpreadCols float64

	H, K, L int
}

// SimOptions describes a synthetic bank
type SimOptions struct {
	Name    string
	Rows    int
	Cols    int
	FirstID int

	TOFMin   float64
	TOFMax   float64
	BinWidth float64

	Constants models.DiffConstants

	// Background is the mean count per bin on every pixel
	Background float64

	// Shape seeds the exponential constants from d-spacing. Sigma is the
	// gaussian width as a fraction of the peak TOF.
	Shape profile.BackToBackExponential
	Sigma float64

	Peaks []SimPeak
	Seed  uint64
}

// Simulate fills a bank with back-to-back exponential peaks on a flat
// background and draws Poisson counts. It returns the bank and the peak
// candidates pointing at the simulated reflections. Variance is the count,
// with empty bins given variance 1.
func Simulate(opts SimOptions) (*Bank, []models.PeakCandidate, error) {
	if opts.Rows < 1 || opts.Cols < 1 {
		return nil, nil, fmt.Errorf("detector: simulated bank must be at least 1x1")
	}
	if opts.BinWidth <= 0 || opts.TOFMax <= opts.TOFMin {
		return nil, nil, fmt.Errorf("detector: bad simulated TOF axis [%g, %g) step %g", opts.TOFMin, opts.TOFMax, opts.BinWidth)
	}
	nBins := int(math.Floor((opts.TOFMax - opts.TOFMin) / opts.BinWidth))
	tof := make([]float64, nBins)
	for i := range tof {
		tof[i] = opts.TOFMin + (float64(i)+0.5)*opts.BinWidth
	}

	b := NewBank(opts.Name, opts.Rows, opts.Cols, tof, opts.FirstID, opts.Constants)
	if err := b.Validate(); err != nil {
		return nil, nil, err
	}

	expected := make([]float64, len(b.Counts))
	for i := range expected {
		expected[i] = opts.Background
	}

	var candidates []models.PeakCandidate
	for _, p := range opts.Peaks {
		if p.Row < 0 || p.Col < 0 || p.Row >= opts.Rows || p.Col >= opts.Cols {
			return nil, nil, fmt.Errorf("detector: simulated peak at (%d, %d) is off the bank", p.Row, p.Col)
		}
		centre := opts.Constants.TOFFromDSpacing(p.DSpacing)
		a, bb := opts.Shape.Exponents(p.DSpacing)
		params := []float64{1, a, bb, centre, opts.Sigma * centre}

		profileBins := make([]float64, nBins)
		for k, t := range tof {
			profileBins[k] = opts.Shape.Eval(t, params) * opts.BinWidth
		}

		weights, total := spotWeights(opts.Rows, opts.Cols, p)
		for r := 0; r < opts.Rows; r++ {
			for c := 0; c < opts.Cols; c++ {
				w := weights[b.Pixel(r, c)] / total
				if w < 1e-12 {
					continue
				}
				off := b.Pixel(r, c) * nBins
				for k, v := range profileBins {
					expected[off+k] += p.Intensity * w * v
				}
			}
		}

		candidates = append(candidates, models.PeakCandidate{
			DetectorID: b.DetectorIDs[b.Pixel(p.Row, p.Col)],
			Bank:       opts.Name,
			TOF:        centre,
			DSpacing:   p.DSpacing,
			H:          p.H,
			K:          p.K,
			L:          p.L,
		})
	}

	src := rand.NewSource(opts.Seed)
	for i, lambda := range expected {
		n := 0.0
		if lambda > 0 {
			n = distuv.Poisson{Lambda: lambda, Src: src}.Rand()
		}
		b.Counts[i] = n
		b.Variance[i] = math.Max(n, 1)
	}
	return b, candidates, nil
}

func spotWeights(rows, cols int, p SimPeak) ([]float64, float64) {
	sr, sc := math.Max(p.SpreadRows, 1e-3), math.Max(p.SpreadCols, 1e-3)
	w := make([]float64, rows*cols)
	total := 0.0
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dr, dc := float64(r-p.Row)/sr, float64(c-p.Col)/sc
			v := math.Exp(-0.5 * (dr*dr + dc*dc))
			w[r*cols+c] = v
			total += v
		}
	}
	return w, total
}
