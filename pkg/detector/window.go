package detector

import (
	"fmt"
	"math"
	"sort"

	"braggflood/internal/models"
)

// cropRange returns the half-open bin range kept around tof
func (c CropSpec) cropRange(axis []float64, tof float64) (lo, hi int) {
	n := len(axis)
	if c.NFWHM > 0 && c.FWHMFraction > 0 {
		half := 0.5 * c.NFWHM * c.FWHMFraction * tof
		lo = sort.SearchFloat64s(axis, tof-half)
		hi = sort.SearchFloat64s(axis, tof+half)
		if hi < n && axis[hi] == tof+half {
			hi++
		}
		return lo, hi
	}

	nearest := sort.SearchFloat64s(axis, tof)
	if nearest == n || (nearest > 0 && tof-axis[nearest-1] < axis[nearest]-tof) {
		nearest--
	}
	width := c.NBins
	if width <= 0 || width > n {
		width = n
	}
	lo = nearest - width/2
	lo = max(0, min(lo, n-width))
	return lo, lo + width
}

// PeakData cuts the nRows x nCols window centred on detectorID. Window
// pixels beyond the bank boundary get spectrum ID -1. Pixels within
// edgeRows/edgeCols of the boundary are flagged as edge pixels. An empty
// bank name accepts whichever bank holds the detector.
func (in *Instrument) PeakData(peak models.PeakCandidate, detectorID int, bank string, nRows, nCols, edgeRows, edgeCols int) (*models.PixelWindow, error) {
	b, row, col, ok := in.Locate(detectorID)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownDetector, detectorID)
	}
	if bank != "" && bank != b.Name {
		return nil, fmt.Errorf("%w: id %d is in bank %q, not %q", ErrUnknownDetector, detectorID, b.Name, bank)
	}
	if nRows < 1 || nCols < 1 {
		return nil, fmt.Errorf("detector: window must be at least 1x1, got %dx%d", nRows, nCols)
	}
	if math.IsNaN(peak.TOF) || peak.TOF < b.TOF[0] || peak.TOF > b.TOF[b.Bins()-1] {
		return nil, fmt.Errorf("%w: nominal TOF %.2f outside bank %q", ErrEmptyWindow, peak.TOF, b.Name)
	}

	lo, hi := in.Crop.cropRange(b.TOF, peak.TOF)
	if hi-lo < 3 {
		return nil, fmt.Errorf("%w: %d bins around TOF %.2f", ErrEmptyWindow, hi-lo, peak.TOF)
	}
	bins := hi - lo

	offset := in.offsets[in.byName[b.Name]]
	top, left := row-nRows/2, col-nCols/2
	win := &models.PixelWindow{
		Intensity:  make([][][]float64, nRows),
		Variance:   make([][][]float64, nRows),
		TOF:        append([]float64(nil), b.TOF[lo:hi]...),
		SpectrumID: make([][]int, nRows),
		Edge:       make([][]bool, nRows),
		CentreRow:  nRows / 2,
		CentreCol:  nCols / 2,
	}

	for r := 0; r < nRows; r++ {
		win.Intensity[r] = make([][]float64, nCols)
		win.Variance[r] = make([][]float64, nCols)
		win.SpectrumID[r] = make([]int, nCols)
		win.Edge[r] = make([]bool, nCols)
		for c := 0; c < nCols; c++ {
			br, bc := top+r, left+c
			if br < 0 || bc < 0 || br >= b.Rows || bc >= b.Cols {
				win.Intensity[r][c] = make([]float64, bins)
				win.Variance[r][c] = make([]float64, bins)
				win.SpectrumID[r][c] = -1
				win.Edge[r][c] = true
				continue
			}
			counts, variance := b.Trace(br, bc)
			win.Intensity[r][c] = append([]float64(nil), counts[lo:hi]...)
			win.Variance[r][c] = append([]float64(nil), variance[lo:hi]...)
			win.SpectrumID[r][c] = offset + b.Pixel(br, bc)
			win.Edge[r][c] = br < edgeRows || bc < edgeCols || br >= b.Rows-edgeRows || bc >= b.Cols-edgeCols
		}
	}
	return win, nil
}
