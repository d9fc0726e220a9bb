package detector

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"braggflood/internal/models"
	"braggflood/pkg/profile"
)

// rampBank is a 5x5 bank with 10 bins at TOF 100..109 where each count is
// 100*pixel + bin
func rampBank(t *testing.T) *Bank {
	t.Helper()
	tof := make([]float64, 10)
	for i := range tof {
		tof[i] = 100 + float64(i)
	}
	b := NewBank("bank1", 5, 5, tof, 100, models.DiffConstants{DIFC: 1000})
	for p := 0; p < 25; p++ {
		for k := 0; k < 10; k++ {
			b.Counts[p*10+k] = float64(100*p + k)
			b.Variance[p*10+k] = float64(100*p+k) + 0.5
		}
	}
	require.NoError(t, b.Validate())
	return b
}

func TestPeakDataCentredWindow(t *testing.T) {
	b := rampBank(t)
	in, err := NewInstrument(CropSpec{NBins: 5}, b)
	require.NoError(t, err)

	peak := models.PeakCandidate{DetectorID: 112, TOF: 104}
	win, err := in.PeakData(peak, 112, "bank1", 3, 3, 2, 2)
	require.NoError(t, err)

	assert.Equal(t, []float64{102, 103, 104, 105, 106}, win.TOF)
	assert.Equal(t, 1, win.CentreRow)
	assert.Equal(t, 1, win.CentreCol)
	assert.Equal(t, [][]int{{6, 7, 8}, {11, 12, 13}, {16, 17, 18}}, win.SpectrumID)
	assert.Equal(t, [][]bool{{true, true, true}, {true, false, true}, {true, true, true}}, win.Edge)
	assert.Equal(t, []float64{1202, 1203, 1204, 1205, 1206}, win.Intensity[1][1])
	assert.Equal(t, 1202.5, win.Variance[1][1][0])

	// the window owns its data
	win.Intensity[1][1][0] = -1
	counts, _ := b.Trace(2, 2)
	assert.Equal(t, 1202.0, counts[2])
}

func TestPeakDataBeyondBankBoundary(t *testing.T) {
	in, err := NewInstrument(CropSpec{NBins: 5}, rampBank(t))
	require.NoError(t, err)

	win, err := in.PeakData(models.PeakCandidate{TOF: 104}, 100, "", 3, 3, 1, 1)
	require.NoError(t, err)

	assert.Equal(t, [][]int{{-1, -1, -1}, {-1, 0, 1}, {-1, 5, 6}}, win.SpectrumID)
	assert.False(t, win.Valid(0, 1))
	assert.True(t, win.Valid(1, 1))
	assert.Len(t, win.Intensity[0][0], 5)
	assert.True(t, win.Edge[1][1])
	assert.False(t, win.Edge[2][2])
}

func TestPeakDataCropsByFWHM(t *testing.T) {
	in, err := NewInstrument(CropSpec{NBins: 3, NFWHM: 2, FWHMFraction: 0.02}, rampBank(t))
	require.NoError(t, err)

	win, err := in.PeakData(models.PeakCandidate{TOF: 104}, 112, "", 1, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{102, 103, 104, 105, 106}, win.TOF)
}

func TestPeakDataNearAxisEnd(t *testing.T) {
	in, err := NewInstrument(CropSpec{NBins: 4}, rampBank(t))
	require.NoError(t, err)

	win, err := in.PeakData(models.PeakCandidate{TOF: 108.7}, 112, "", 1, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{106, 107, 108, 109}, win.TOF)
}

func TestPeakDataErrors(t *testing.T) {
	in, err := NewInstrument(CropSpec{NBins: 5}, rampBank(t))
	require.NoError(t, err)

	_, err = in.PeakData(models.PeakCandidate{TOF: 104}, 999, "", 3, 3, 0, 0)
	assert.ErrorIs(t, err, ErrUnknownDetector)

	_, err = in.PeakData(models.PeakCandidate{TOF: 104}, 112, "bank2", 3, 3, 0, 0)
	assert.ErrorIs(t, err, ErrUnknownDetector)

	_, err = in.PeakData(models.PeakCandidate{TOF: 250}, 112, "", 3, 3, 0, 0)
	assert.ErrorIs(t, err, ErrEmptyWindow)

	in.Crop = CropSpec{NBins: 2}
	_, err = in.PeakData(models.PeakCandidate{TOF: 104}, 112, "", 3, 3, 0, 0)
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestInstrumentSpectrumNumbering(t *testing.T) {
	tof := []float64{1, 2, 3}
	a := NewBank("a", 2, 2, tof, 0, models.DiffConstants{DIFC: 1000})
	b := NewBank("b", 2, 2, tof, 10, models.DiffConstants{DIFC: 2000, TZERO: 5})
	in, err := NewInstrument(CropSpec{NBins: 3}, a, b)
	require.NoError(t, err)

	c, ok := in.Constants(2)
	require.True(t, ok)
	assert.Equal(t, 1000.0, c.DIFC)

	c, ok = in.Constants(5)
	require.True(t, ok)
	assert.Equal(t, models.DiffConstants{DIFC: 2000, TZERO: 5}, c)

	_, ok = in.Constants(8)
	assert.False(t, ok)
	_, ok = in.Constants(-1)
	assert.False(t, ok)

	win, err := in.PeakData(models.PeakCandidate{TOF: 2}, 11, "b", 1, 1, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, win.SpectrumID[0][0])

	got, ok := in.Bank("b")
	require.True(t, ok)
	assert.Same(t, b, got)

	_, err = NewInstrument(CropSpec{}, a, NewBank("c", 1, 1, tof, 3, models.DiffConstants{}))
	assert.ErrorIs(t, err, ErrMalformedBank)
	_, err = NewInstrument(CropSpec{}, a, a)
	assert.ErrorIs(t, err, ErrMalformedBank)
}

func TestBankValidate(t *testing.T) {
	b := NewBank("x", 2, 2, []float64{1, 2, 3}, 0, models.DiffConstants{})
	require.NoError(t, b.Validate())

	b.Counts = b.Counts[:5]
	assert.ErrorIs(t, b.Validate(), ErrMalformedBank)

	b = NewBank("x", 2, 2, []float64{1, 3, 2}, 0, models.DiffConstants{})
	assert.ErrorIs(t, b.Validate(), ErrMalformedBank)
}

func TestBankFileRoundTrip(t *testing.T) {
	a := rampBank(t)
	a.Constants[3] = models.DiffConstants{DIFC: 1234.5, DIFA: -0.25, TZERO: 3}
	b := NewBank("second bank", 1, 3, []float64{5, 6, 7, 8}, 500, models.DiffConstants{DIFC: 900})

	path := filepath.Join(t.TempDir(), "banks.bin")
	require.NoError(t, SaveBanks(path, []*Bank{a, b}))

	banks, err := LoadBanks(path)
	require.NoError(t, err)
	require.Len(t, banks, 2)
	assert.Equal(t, a, banks[0])
	assert.Equal(t, b, banks[1])
}

func TestReadBanksRejectsForeignData(t *testing.T) {
	_, err := ReadBanks(bytes.NewReader([]byte("solid cube\n")))
	assert.ErrorIs(t, err, ErrBadBankFile)

	_, err = ReadBanks(bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrBadBankFile)

	var buf bytes.Buffer
	require.NoError(t, WriteBanks(&buf, []*Bank{rampBank(t)}))
	_, err = ReadBanks(bytes.NewReader(buf.Bytes()[:buf.Len()-8]))
	assert.Error(t, err)
}

func simOptions() SimOptions {
	return SimOptions{
		Name:      "sim",
		Rows:      6,
		Cols:      6,
		FirstID:   1000,
		TOFMin:    900,
		TOFMax:    1100,
		BinWidth:  2,
		Constants: models.DiffConstants{DIFC: 1000},
		Shape:     profile.BackToBackExponential{Alpha0: 0.5, Beta0: 0.2},
		Sigma:     0.004,
		Peaks: []SimPeak{
			{Row: 3, Col: 2, DSpacing: 1, Intensity: 1e4, SpreadRows: 0.7, SpreadCols: 0.7, H: 1, K: 1, L: 0},
		},
		Seed: 42,
	}
}

func TestSimulate(t *testing.T) {
	b, peaks, err := Simulate(simOptions())
	require.NoError(t, err)

	assert.Equal(t, 100, b.Bins())
	assert.InDelta(t, 901, b.TOF[0], 1e-12)
	require.Len(t, peaks, 1)
	assert.Equal(t, models.PeakCandidate{DetectorID: 1000 + 3*6 + 2, Bank: "sim", TOF: 1000, DSpacing: 1, H: 1, K: 1}, peaks[0])

	total := 0.0
	for i, c := range b.Counts {
		assert.GreaterOrEqual(t, c, 0.0)
		assert.Equal(t, max(c, 1), b.Variance[i])
		total += c
	}
	// no background, so every count belongs to the peak
	assert.InEpsilon(t, 1e4, total, 0.05)

	again, _, err := Simulate(simOptions())
	require.NoError(t, err)
	assert.Equal(t, b.Counts, again.Counts)

	opts := simOptions()
	opts.Peaks[0].Row = 6
	_, _, err = Simulate(opts)
	assert.Error(t, err)
}

func TestPeaksFile(t *testing.T) {
	peaks := []models.PeakCandidate{
		{DetectorID: 1020, Bank: "sim", TOF: 1000, DSpacing: 1, H: 1, K: 1},
		{DetectorID: 7, Bank: "bank7", TOF: 4521.5, DSpacing: 1.507, H: -2, K: 0, L: 4},
	}
	path := filepath.Join(t.TempDir(), "peaks", "peaks.yaml")
	require.NoError(t, SavePeaks(path, peaks))

	got, err := LoadPeaks(path)
	require.NoError(t, err)
	assert.Equal(t, peaks, got)

	_, err = LoadPeaks(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
