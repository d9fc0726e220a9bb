package detector_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braggflood/internal/models"
	"braggflood/pkg/config"
	"braggflood/pkg/detector"
	"braggflood/pkg/fitting"
	"braggflood/pkg/integration"
	"braggflood/pkg/profile"
)

func TestIntegrateSimulatedBank(t *testing.T) {
	if testing.Short() {
		t.Skip("fits a few hundred pixels")
	}

	cfg := config.DefaultConfig()
	cfg.Processing.NumWorkers = 2
	b2b := cfg.Profile.BackToBack

	bank, peaks, err := detector.Simulate(detector.SimOptions{
		Name:      "bank1",
		Rows:      20,
		Cols:      20,
		TOFMin:    3500,
		TOFMax:    5500,
		BinWidth:  8,
		Constants: models.DiffConstants{DIFC: 3000},
		Shape:     profile.BackToBackExponential{Alpha0: b2b.Alpha0, Alpha1: b2b.Alpha1, Beta0: b2b.Beta0, Beta1: b2b.Beta1},
		Sigma:     0.004,
		Peaks: []detector.SimPeak{
			{Row: 10, Col: 6, DSpacing: 1.5, Intensity: 2e5, SpreadRows: 0.8, SpreadCols: 0.8, H: 1, K: 2, L: 3},
			{Row: 1, Col: 15, DSpacing: 1.4, Intensity: 2e5, SpreadRows: 0.8, SpreadCols: 0.8, H: 2, K: 0, L: 0},
		},
		Seed: 2024,
	})
	require.NoError(t, err)

	// nothing was placed around this pixel
	empty := models.PeakCandidate{DetectorID: bank.DetectorIDs[bank.Pixel(16, 16)], Bank: "bank1", TOF: 4800, DSpacing: 1.6, H: 3, K: 3, L: 3}
	peaks = append(peaks, empty)

	crop := detector.CropSpec{NBins: cfg.Window.NBins, NFWHM: cfg.Window.NFWHM, FWHMFraction: cfg.Integration.FractionalChangeDSpacing}
	inst, err := detector.NewInstrument(crop, bank)
	require.NoError(t, err)

	ig, err := integration.NewIntegrator(cfg, inst, fitting.NewGonumEngine(), zerolog.Nop())
	require.NoError(t, err)
	outputs := ig.IntegratePeaks(peaks)
	require.Len(t, outputs, 3)
	for _, out := range outputs {
		require.NoError(t, out.Err)
	}

	// fitted areas are in counts x microseconds
	valid := outputs[0]
	assert.Equal(t, models.Valid, valid.Status)
	assert.InEpsilon(t, 2e5*8, valid.Intensity, 0.15)
	assert.Greater(t, valid.Intensity/valid.Sigma, 50.0)
	assert.GreaterOrEqual(t, valid.Detail.State.Sum.N, 9)

	onEdge := outputs[1]
	assert.Equal(t, models.OnEdge, onEdge.Status)
	assert.Zero(t, onEdge.Intensity)
	assert.Zero(t, onEdge.Sigma)
	assert.Positive(t, onEdge.Detail.State.Sum.N)

	assert.Equal(t, models.NoPeak, outputs[2].Status)
	assert.Zero(t, outputs[2].Intensity)

	s := integration.Summarize(outputs)
	assert.Equal(t, integration.Summary{
		Total:          3,
		Valid:          1,
		OnEdge:         1,
		NoPeak:         1,
		Pixels:         valid.Detail.State.Sum.N + onEdge.Detail.State.Sum.N,
		MeanIOverSigma: valid.Intensity / valid.Sigma,
	}, s)
}
