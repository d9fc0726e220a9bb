package background

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gaussianTrace builds a noise-free gaussian on a flat background
func gaussianTrace(n int, bg, height, centre, sigma float64) (y, variance, tof []float64) {
	y = make([]float64, n)
	variance = make([]float64, n)
	tof = make([]float64, n)
	for i := 0; i < n; i++ {
		tof[i] = float64(i)
		d := (tof[i] - centre) / sigma
		y[i] = bg + height*math.Exp(-0.5*d*d)
		variance[i] = y[i]
	}
	return y, variance, tof
}

func TestEstimateAllNonPositiveIsEmpty(t *testing.T) {
	y := []float64{0, -1, 0, -3}
	seed := Estimate(y, []float64{1, 1, 1, 1}, []float64{0, 1, 2, 3})

	assert.True(t, seed.Empty())
	assert.Zero(t, seed.IOverSigma())
}

func TestSelectBackgroundBinsExcludesPeak(t *testing.T) {
	y, _, _ := gaussianTrace(60, 10, 200, 30, 3)
	bins := SelectBackgroundBins(y)

	require.NotEmpty(t, bins)
	for _, b := range bins {
		assert.False(t, b > 24 && b < 36, "bin %d sits on the peak", b)
	}
	for i := 1; i < len(bins); i++ {
		assert.Less(t, bins[i-1], bins[i])
	}
}

func TestSelectBackgroundBinsKeepsMinimum(t *testing.T) {
	y := []float64{1, 1, 1, 1, 1000}
	bins := SelectBackgroundBins(y)
	assert.GreaterOrEqual(t, len(bins), minBackgroundBins)
	assert.NotContains(t, bins, 4)
}

func TestEstimateRecoversArea(t *testing.T) {
	height, sigma := 200.0, 3.0
	y, variance, tof := gaussianTrace(60, 10, height, 30, sigma)

	seed := Estimate(y, variance, tof)

	area := height * sigma * math.Sqrt(2*math.Pi)
	assert.InDelta(t, 10, seed.Background, 0.5)
	assert.InDelta(t, area, seed.Intensity, 0.05*area)
	assert.Greater(t, seed.Sigma, 0.0)
	assert.Greater(t, seed.IOverSigma(), 10.0)
}

func TestEstimateVarianceUsesBinWidth(t *testing.T) {
	y := []float64{1, 1, 1}
	variance := []float64{4, 4, 4}
	tof := []float64{0, 2, 4}

	seed := Estimate(y, variance, tof)

	// two intervals of width 2 with variance 4: 4*4 + 4*4
	assert.InDelta(t, math.Sqrt(32), seed.Sigma, 1e-12)
	assert.InDelta(t, 0, seed.Intensity, 1e-12)
}
