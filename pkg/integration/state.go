package integration

import (
	"math"
)

// Pixel addresses one (row, col) of a PixelWindow
type Pixel struct {
	Row, Col int
}

// offsets4 are the 4-connected neighbour offsets (N, E, S, W)
var offsets4 = [4][2]int{{-1, 0}, {0, 1}, {1, 0}, {0, -1}}

// Verdict records why a pixel was accepted or rejected
type Verdict int

const (
	Accepted Verdict = iota
	// NoSignal means the trace had no positive sample
	NoSignal
	// BelowThreshold means the seed I/sigma was under the threshold
	BelowThreshold
	// NoConstants means the pixel's diffractometer constants were unknown
	NoConstants
	// CentreOutOfRange means the expected centre fell outside the TOF window
	CentreOutOfRange
	// FitFailed means the fit driver reported failure
	FitFailed
	// DegenerateWidth means the fitted FWHM left the allowed range
	DegenerateWidth
	// PostFitBelowThreshold means the fitted I/sigma was not above the threshold
	PostFitBelowThreshold
	// BuildFailed means no model could be built for the pixel
	BuildFailed
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case NoSignal:
		return "no signal"
	case BelowThreshold:
		return "seed below threshold"
	case NoConstants:
		return "no diffractometer constants"
	case CentreOutOfRange:
		return "centre out of range"
	case FitFailed:
		return "fit failed"
	case DegenerateWidth:
		return "degenerate width"
	case PostFitBelowThreshold:
		return "fit below threshold"
	case BuildFailed:
		return "model build failed"
	}
	return "unknown"
}

// Attempt is the record of one pixel fit attempt
type Attempt struct {
	Pixel     Pixel
	Round     int
	Verdict   Verdict
	Intensity float64
	Sigma     float64
}

// Aggregate accumulates accepted per-pixel intensities. Sigma is the
// square root of the summed per-pixel variances.
type Aggregate struct {
	Intensity float64
	Variance  float64
	N         int
}

// Add includes one accepted pixel
func (a *Aggregate) Add(intensity, sigma float64) {
	a.Intensity += intensity
	a.Variance += sigma * sigma
	a.N++
}

// Sigma returns the combined uncertainty
func (a Aggregate) Sigma() float64 { return math.Sqrt(a.Variance) }

// FitState is the per-window flood-fill state. successful implies
// attempted, and attempted never reverts.
type FitState struct {
	rows, cols int
	attempted  []bool
	successful []bool
	round      []int

	Sum Aggregate

	// YFitFocused is the sum of the accepted pixels' fitted curves and
	// YFocused the sum of their data
	YFitFocused []float64
	YFocused    []float64

	Attempts []Attempt
}

// NewFitState returns an empty state for a rows x cols window with bins TOF bins
func NewFitState(rows, cols, bins int) *FitState {
	s := &FitState{
		rows:        rows,
		cols:        cols,
		attempted:   make([]bool, rows*cols),
		successful:  make([]bool, rows*cols),
		round:       make([]int, rows*cols),
		YFitFocused: make([]float64, bins),
		YFocused:    make([]float64, bins),
	}
	for i := range s.round {
		s.round[i] = -1
	}
	return s
}

func (s *FitState) index(p Pixel) int { return p.Row*s.cols + p.Col }

func (s *FitState) inBounds(p Pixel) bool {
	return p.Row >= 0 && p.Col >= 0 && p.Row < s.rows && p.Col < s.cols
}

// Attempted reports whether p has been fit
func (s *FitState) Attempted(p Pixel) bool { return s.attempted[s.index(p)] }

// Successful reports whether p was accepted
func (s *FitState) Successful(p Pixel) bool { return s.successful[s.index(p)] }

// AcceptedRound returns the round in which p was accepted, or -1
func (s *FitState) AcceptedRound(p Pixel) int { return s.round[s.index(p)] }

// markAttempted records that p is being fit
func (s *FitState) markAttempted(p Pixel) { s.attempted[s.index(p)] = true }

// accept records p as accepted in round and adds its contribution
func (s *FitState) accept(p Pixel, round int, intensity, sigma float64, data, fitted []float64) {
	i := s.index(p)
	s.successful[i] = true
	s.round[i] = round
	s.Sum.Add(intensity, sigma)
	for k := range s.YFitFocused {
		s.YFitFocused[k] += fitted[k]
		s.YFocused[k] += data[k]
	}
}

// Mask returns the accepted pixels as a [row][col] grid
func (s *FitState) Mask() [][]bool {
	mask := make([][]bool, s.rows)
	for r := range mask {
		mask[r] = append([]bool(nil), s.successful[r*s.cols:(r+1)*s.cols]...)
	}
	return mask
}

// NextFrontier dilates the accepted set with 4-connectivity and keeps the
// pixels that have not been attempted, filtered by valid
func (s *FitState) NextFrontier(valid func(Pixel) bool) []Pixel {
	var next []Pixel
	seen := make([]bool, len(s.attempted))
	for r := 0; r < s.rows; r++ {
		for c := 0; c < s.cols; c++ {
			if !s.successful[r*s.cols+c] {
				continue
			}
			for _, off := range offsets4 {
				n := Pixel{Row: r + off[0], Col: c + off[1]}
				if !s.inBounds(n) {
					continue
				}
				i := s.index(n)
				if s.attempted[i] || seen[i] || !valid(n) {
					continue
				}
				seen[i] = true
				next = append(next, n)
			}
		}
	}
	return next
}
