package integration

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braggflood/internal/models"
	"braggflood/pkg/fitting"
	"braggflood/pkg/profile"
)

func gaussianModel(height, centre, sigma float64) *profile.Model {
	return &profile.Model{
		Peak: profile.Gaussian{},
		Params: []profile.Parameter{
			{Name: "Height", Value: height},
			{Name: "PeakCentre", Value: centre},
			{Name: "Sigma", Value: sigma},
		},
	}
}

func TestSummationErrorsSumsCentralVariance(t *testing.T) {
	tof := make([]float64, 21)
	variance := make([]float64, 21)
	for i := range tof {
		tof[i] = 1000 + float64(i)
		variance[i] = 2
	}
	peak := gaussianModel(10, 1010, 4.04/2.3548200450309493)

	lo, hi := CentralRegion(peak.Curve(tof), 0.025)
	assert.Equal(t, 7, lo)
	assert.Equal(t, 13, hi)

	sigma, err := SummationErrors{TailFraction: 0.025}.Sigma(PixelFit{TOF: tof, Variance: variance, Peak: peak})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(2*6), sigma, 1e-12)

	// a wider tail cut keeps fewer bins
	narrow, err := SummationErrors{TailFraction: 0.2}.Sigma(PixelFit{TOF: tof, Variance: variance, Peak: peak})
	require.NoError(t, err)
	assert.Less(t, narrow, sigma)
}

func TestSummationErrorsRejectsFlatCurve(t *testing.T) {
	tof := []float64{1, 2, 3, 4}
	_, err := SummationErrors{TailFraction: 0.025}.Sigma(PixelFit{
		TOF:      tof,
		Variance: []float64{1, 1, 1, 1},
		Peak:     gaussianModel(0, 2.5, 1),
	})
	assert.Error(t, err)
}

func TestHessianErrorsNeedFiniteError(t *testing.T) {
	shape := profile.BackToBackExponential{Alpha0: 1, Beta0: 1}
	peak := &profile.Model{Peak: shape, Params: []profile.Parameter{
		{Name: "I", Value: 100}, {Name: "A", Value: 1}, {Name: "B", Value: 1}, {Name: "X0", Value: 5}, {Name: "S", Value: 1},
	}}

	s, err := HessianErrors{}.Sigma(PixelFit{Peak: peak, Outcome: fitting.Outcome{Errors: []float64{4, 0, 0, 0, 0}}})
	require.NoError(t, err)
	assert.Equal(t, 4.0, s)

	_, err = HessianErrors{}.Sigma(PixelFit{Peak: peak, Outcome: fitting.Outcome{Errors: []float64{math.NaN(), 0, 0, 0, 0}}})
	assert.Error(t, err)

	_, err = HessianErrors{}.Sigma(PixelFit{Peak: peak})
	assert.Error(t, err)

	assert.NoError(t, HessianErrors{}.Check(shape, []string{"A", "B"}))
	assert.ErrorIs(t, HessianErrors{}.Check(shape, []string{"A", "I"}), ErrHessianUnsupported)
	assert.ErrorIs(t, HessianErrors{}.Check(profile.Gaussian{}, nil), ErrHessianUnsupported)
	assert.NoError(t, SummationErrors{}.Check(profile.Gaussian{}, nil))
	assert.NoError(t, SummationErrors{}.Check(shape, []string{"I"}))
}

// b2bWindow is a single noise-free pixel holding a back-to-back exponential
// peak of the given intensity, with variance equal to the counts
func b2bWindow(intensity float64) *models.PixelWindow {
	shape := profile.BackToBackExponential{}
	params := []float64{intensity, 2, 2, 1000, 8}
	n := 81
	tof := make([]float64, n)
	y := make([]float64, n)
	for i := range tof {
		tof[i] = 960 + float64(i)
		y[i] = shape.Eval(tof[i], params)
	}
	return &models.PixelWindow{
		Intensity:  [][][]float64{{y}},
		Variance:   [][][]float64{{append([]float64(nil), y...)}},
		TOF:        tof,
		SpectrumID: [][]int{{0}},
		Edge:       [][]bool{{false}},
	}
}

// For Poisson-like variance both strategies estimate roughly sqrt(I): the
// Hessian from the curvature of chi-squared, the summation from the counts
// under the central part of the peak.
func TestErrorStrategiesAgreeForCountingStatistics(t *testing.T) {
	const intensity = 5000.0
	win := b2bWindow(intensity)
	peak := models.PeakCandidate{DetectorID: 1, TOF: 1000, DSpacing: 1}

	integrate := func(strategy ErrorStrategy) *Result {
		builder, err := profile.NewBuilder(profile.BackToBackExponential{Alpha0: 2, Beta0: 2}, profile.Flat{}, []string{"A", "B"}, 0.02)
		require.NoError(t, err)
		driver := &fitting.Driver{
			Engine:        fitting.NewGonumEngine(),
			Cost:          fitting.ChiSquared,
			Minimizer:     fitting.LBFGS,
			MaxIterations: 500,
			Rule:          fitting.AcceptSmallFunctionChange,
			Log:           zerolog.Nop(),
		}
		eng, err := NewEngine(builder, driver, strategy, 2.5, EdgePolicy{}, zerolog.Nop())
		require.NoError(t, err)
		res, err := eng.Integrate(peak, win, uniformLookup(1000))
		require.NoError(t, err)
		require.Equal(t, models.Valid, res.Status, "attempts: %+v", res.State.Attempts)
		return res
	}

	hessian := integrate(HessianErrors{})
	summation := integrate(SummationErrors{TailFraction: 0.025})

	assert.InEpsilon(t, intensity, hessian.Intensity, 0.01)
	assert.InEpsilon(t, intensity, summation.Intensity, 0.01)
	assert.InEpsilon(t, math.Sqrt(intensity), hessian.Sigma, 0.1)
	assert.InEpsilon(t, hessian.Sigma, summation.Sigma, 0.1)
}
