package integration

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braggflood/internal/models"
	"braggflood/pkg/config"
	"braggflood/pkg/profile"
)

// fakeExtractor serves the cross window for detector 12 and nothing else
type fakeExtractor struct{}

func (fakeExtractor) Constants(int) (models.DiffConstants, bool) {
	return models.DiffConstants{DIFC: testDIFC}, true
}

func (fakeExtractor) PeakData(peak models.PeakCandidate, detectorID int, bank string, nRows, nCols, edgeRows, edgeCols int) (*models.PixelWindow, error) {
	if detectorID != 12 {
		return nil, fmt.Errorf("no detector %d", detectorID)
	}
	return crossWindow(), nil
}

func gaussianConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Window.NRows, cfg.Window.NCols = 5, 5
	cfg.Profile.PeakFunction = config.Gaussian
	cfg.Profile.FixPeakParameters = nil
	cfg.Integration.FractionalChangeDSpacing = 0.004
	cfg.Processing.NumWorkers = 3
	return cfg
}

func TestIntegratePeaksKeepsInputOrder(t *testing.T) {
	ig, err := NewIntegrator(gaussianConfig(), fakeExtractor{}, &echoEngine{}, zerolog.Nop())
	require.NoError(t, err)

	var progress []int
	ig.SetProgressCallback(func(completed, total int) {
		assert.Equal(t, 6, total)
		progress = append(progress, completed)
	})

	var peaks []models.PeakCandidate
	for h := 0; h < 6; h++ {
		p := testPeak()
		p.H = h
		if h == 3 {
			p.DetectorID = 99
		}
		peaks = append(peaks, p)
	}

	outputs := ig.IntegratePeaks(peaks)
	require.Len(t, outputs, 6)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, progress)

	for h, out := range outputs {
		assert.Equal(t, h, out.Peak.H)
		if h == 3 {
			assert.Error(t, out.Err)
			assert.Equal(t, models.NoPeak, out.Status)
			assert.Nil(t, out.Detail)
			continue
		}
		require.NoError(t, out.Err)
		assert.Equal(t, models.Valid, out.Status)
		assert.InDelta(t, 680, out.Intensity, 1e-6)
		assert.NotNil(t, out.Window)
	}

	s := Summarize(outputs)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 5, s.Valid)
	assert.Equal(t, 1, s.Failed)
	assert.Zero(t, s.OnEdge)
	assert.Zero(t, s.NoPeak)
	assert.Equal(t, 25, s.Pixels)
	assert.InDelta(t, outputs[0].Intensity/outputs[0].Sigma, s.MeanIOverSigma, 1e-9)
}

// panickingExtractor behaves like fakeExtractor except that the window of
// detector 66 maps onto spectra whose constants lookup panics
type panickingExtractor struct{ fakeExtractor }

func (panickingExtractor) Constants(spectrum int) (models.DiffConstants, bool) {
	if spectrum >= 1000 {
		panic("corrupt constants table")
	}
	return fakeExtractor{}.Constants(spectrum)
}

func (e panickingExtractor) PeakData(peak models.PeakCandidate, detectorID int, bank string, nRows, nCols, edgeRows, edgeCols int) (*models.PixelWindow, error) {
	if detectorID != 66 {
		return e.fakeExtractor.PeakData(peak, detectorID, bank, nRows, nCols, edgeRows, edgeCols)
	}
	win := crossWindow()
	for r := range win.SpectrumID {
		for c := range win.SpectrumID[r] {
			win.SpectrumID[r][c] += 1000
		}
	}
	return win, nil
}

func TestIntegratePeaksSurvivesPanickingPeak(t *testing.T) {
	ig, err := NewIntegrator(gaussianConfig(), panickingExtractor{}, &echoEngine{}, zerolog.Nop())
	require.NoError(t, err)

	peaks := []models.PeakCandidate{testPeak(), testPeak(), testPeak()}
	peaks[1].DetectorID = 66
	var outputs []PeakOutput
	require.NotPanics(t, func() { outputs = ig.IntegratePeaks(peaks) })
	require.Len(t, outputs, 3)

	assert.Equal(t, models.Valid, outputs[0].Status)
	assert.Equal(t, models.Valid, outputs[2].Status)
	assert.ErrorIs(t, outputs[1].Err, ErrPeakPanicked)
	assert.Equal(t, models.NoPeak, outputs[1].Status)
	assert.Nil(t, outputs[1].Detail)
}

func TestIntegratePeaksEmpty(t *testing.T) {
	ig, err := NewIntegrator(gaussianConfig(), fakeExtractor{}, &echoEngine{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, ig.IntegratePeaks(nil))
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestNewIntegratorConfigErrors(t *testing.T) {
	cfg := gaussianConfig()
	cfg.Integration.ErrorStrategy = config.ErrorHessian
	_, err := NewIntegrator(cfg, fakeExtractor{}, &echoEngine{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrHessianUnsupported)

	cfg = gaussianConfig()
	cfg.Profile.FixPeakParameters = []string{"A"}
	_, err = NewIntegrator(cfg, fakeExtractor{}, &echoEngine{}, zerolog.Nop())
	assert.ErrorIs(t, err, profile.ErrUnknownParameter)

	cfg = config.DefaultConfig()
	cfg.Profile.FixPeakParameters = []string{"A", "I"}
	cfg.Integration.ErrorStrategy = config.ErrorHessian
	_, err = NewIntegrator(cfg, fakeExtractor{}, &echoEngine{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrHessianUnsupported)

	cfg = gaussianConfig()
	cfg.Fit.CostFunction = "Huber"
	_, err = NewIntegrator(cfg, fakeExtractor{}, &echoEngine{}, zerolog.Nop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	ig, err := NewIntegrator(config.DefaultConfig(), fakeExtractor{}, &echoEngine{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "BackToBackExponential", ig.Engine().builder.Peak().Name())
}
