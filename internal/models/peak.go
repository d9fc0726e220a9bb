package models

import "fmt"

// PeakCandidate identifies a single predicted Bragg reflection
type PeakCandidate struct {
	// DetectorID is the detector pixel the reflection is predicted to hit
	DetectorID int `yaml:"detectorId"`

	// Bank is the name of the detector bank holding DetectorID
	Bank string `yaml:"bank"`

	// TOF is the nominal time-of-flight of the reflection in microseconds
	TOF float64 `yaml:"tof"`

	// DSpacing is the d-spacing of the reflection in Angstrom
	DSpacing float64 `yaml:"dSpacing"`

	// H, K, L are the Miller indices, only used for output and diagnostics
	H int `yaml:"h"`
	K int `yaml:"k"`
	L int `yaml:"l"`
}

// String formats the peak for log messages
func (p PeakCandidate) String() string {
	return fmt.Sprintf("(%d %d %d) det=%d tof=%.1f", p.H, p.K, p.L, p.DetectorID, p.TOF)
}

// DiffConstants are the per-pixel diffractometer constants used to convert
// d-spacing into time-of-flight
type DiffConstants struct {
	DIFC  float64 `yaml:"difc"`
	DIFA  float64 `yaml:"difa"`
	TZERO float64 `yaml:"tzero"`
}

// TOFFromDSpacing converts a d-spacing into a time-of-flight using
// TOF = DIFC*d + DIFA*d^2 + TZERO
func (c DiffConstants) TOFFromDSpacing(d float64) float64 {
	return c.DIFC*d + c.DIFA*d*d + c.TZERO
}

// ConstantsLookup resolves the diffractometer constants of a spectrum
type ConstantsLookup interface {
	Constants(spectrumID int) (DiffConstants, bool)
}

// PixelWindow is the rectangular row x col x TOF region around one peak.
// It is read-only once built by the extractor.
type PixelWindow struct {
	// Intensity and Variance are indexed [row][col][bin]
	Intensity [][][]float64
	Variance  [][][]float64

	// TOF is the time-of-flight axis shared by all pixels
	TOF []float64

	// SpectrumID is the spectrum index of each pixel, -1 when the pixel
	// falls outside the detector
	SpectrumID [][]int

	// Edge marks pixels inside the configured detector edge margin
	Edge [][]bool

	// CentreRow and CentreCol locate the nominal peak pixel in the window
	CentreRow int
	CentreCol int
}

// Rows returns the number of window rows
func (w *PixelWindow) Rows() int { return len(w.Intensity) }

// Cols returns the number of window columns
func (w *PixelWindow) Cols() int {
	if len(w.Intensity) == 0 {
		return 0
	}
	return len(w.Intensity[0])
}

// Bins returns the length of the TOF axis
func (w *PixelWindow) Bins() int { return len(w.TOF) }

// Valid reports whether (row, col) is inside the window and maps onto a
// real detector pixel
func (w *PixelWindow) Valid(row, col int) bool {
	if row < 0 || col < 0 || row >= w.Rows() || col >= w.Cols() {
		return false
	}
	return w.SpectrumID == nil || w.SpectrumID[row][col] >= 0
}

// Integrated returns the TOF-integrated counts of a pixel
func (w *PixelWindow) Integrated(row, col int) float64 {
	sum := 0.0
	for _, y := range w.Intensity[row][col] {
		sum += y
	}
	return sum
}

// Status is the final classification of an integrated peak
type Status int

const (
	NoPeak Status = iota
	Valid
	OnEdge
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "Valid"
	case OnEdge:
		return "OnEdge"
	default:
		return "NoPeak"
	}
}

// PeakResult is the integration outcome of one PeakCandidate
type PeakResult struct {
	Peak      PeakCandidate
	Intensity float64
	Sigma     float64
	Status    Status

	// Err is set when the peak could not be integrated at all, for example
	// when its detector is unknown to the extractor
	Err error
}
