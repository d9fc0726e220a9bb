// Package background estimates the background level and a first intensity
// seed from a single pixel's TOF trace.
package background

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// minBackgroundBins is the smallest background seed the skewness search
// will shrink to
const minBackgroundBins = 3

// Seed is the cheap trapezoidal estimate of a pixel's peak
type Seed struct {
	Intensity  float64
	Sigma      float64
	Background float64

	// BackgroundBins are the TOF bins judged to contain background only
	BackgroundBins []int
}

// Empty reports whether the trace carried no positive signal at all
func (s Seed) Empty() bool {
	return s.Intensity == 0 && s.Sigma == 0 && s.Background == 0
}

// IOverSigma returns Intensity/Sigma, or 0 when Sigma is not positive
func (s Seed) IOverSigma() float64 {
	if s.Sigma <= 0 {
		return 0
	}
	return s.Intensity / s.Sigma
}

// SelectBackgroundBins picks the bins of y that look like background.
// Bins are removed from the top of the sorted intensities until the
// remaining distribution is no longer positively skewed: a peak on a flat
// background produces a long upper tail, pure noise does not.
func SelectBackgroundBins(y []float64) []int {
	order := make([]int, len(y))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return y[order[a]] < y[order[b]] })

	sorted := make([]float64, len(y))
	for i, idx := range order {
		sorted[i] = y[idx]
	}

	end := len(sorted)
	for end > minBackgroundBins {
		skew := stat.Skew(sorted[:end], nil)
		if math.IsNaN(skew) || skew <= 0 {
			break
		}
		end--
	}

	bins := append([]int(nil), order[:end]...)
	sort.Ints(bins)
	return bins
}

// Estimate computes the background level and the trapezoidal intensity and
// sigma of one trace. A trace with no positive sample yields the zero Seed,
// which callers treat as "skip this pixel".
func Estimate(y, variance, tof []float64) Seed {
	positive := false
	for _, v := range y {
		if v > 0 {
			positive = true
			break
		}
	}
	if !positive || len(y) < 2 {
		return Seed{}
	}

	bins := SelectBackgroundBins(y)
	bgValues := make([]float64, len(bins))
	for i, b := range bins {
		bgValues[i] = y[b]
	}
	bg := stat.Mean(bgValues, nil)

	intensity, varSum := 0.0, 0.0
	for i := 0; i < len(y)-1; i++ {
		dt := tof[i+1] - tof[i]
		intensity += (0.5*(y[i]+y[i+1]) - bg) * dt
		varSum += 0.5 * (variance[i] + variance[i+1]) * dt * dt
	}

	return Seed{
		Intensity:      intensity,
		Sigma:          math.Sqrt(varSum),
		Background:     bg,
		BackgroundBins: bins,
	}
}
