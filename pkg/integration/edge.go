package integration

import (
	"braggflood/internal/models"
)

// EdgePolicy classifies a finished flood fill
type EdgePolicy struct {
	// IntegrateIfOnEdge keeps peaks whose attempted pixels touch the
	// detector edge margin
	IntegrateIfOnEdge bool
}

// Classify returns the status and reported intensity and sigma. Any
// attempted pixel inside the edge margin invalidates the whole peak unless
// IntegrateIfOnEdge is set.
func (p EdgePolicy) Classify(state *FitState, win *models.PixelWindow) (models.Status, float64, float64) {
	if state.Sum.N == 0 {
		return models.NoPeak, 0, 0
	}
	if !p.IntegrateIfOnEdge && touchesEdge(state, win) {
		return models.OnEdge, 0, 0
	}
	return models.Valid, state.Sum.Intensity, state.Sum.Sigma()
}

func touchesEdge(state *FitState, win *models.PixelWindow) bool {
	if win.Edge == nil {
		return false
	}
	for r := 0; r < state.rows; r++ {
		for c := 0; c < state.cols; c++ {
			if win.Edge[r][c] && state.Attempted(Pixel{Row: r, Col: c}) {
				return true
			}
		}
	}
	return false
}
