// Package integration grows a region of accepted pixels from a seed pixel,
// fitting each pixel's TOF trace, and turns the accepted set into a single
// integrated intensity per peak.
package integration

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"braggflood/internal/models"
	"braggflood/pkg/background"
	"braggflood/pkg/fitting"
	"braggflood/pkg/profile"
)

// ErrEmptyWindow indicates a window without pixels or TOF bins
var ErrEmptyWindow = errors.New("integration: empty pixel window")

// Result is the outcome of integrating one window
type Result struct {
	Intensity float64
	Sigma     float64
	Status    models.Status

	// Seed is the re-centred root pixel of the flood fill
	Seed  Pixel
	State *FitState
}

// Engine is the flood-fill propagation engine. It holds no per-peak state
// and may be shared by concurrent Integrate calls.
type Engine struct {
	builder   *profile.Builder
	driver    *fitting.Driver
	errors    ErrorStrategy
	threshold float64
	edge      EdgePolicy
	log       zerolog.Logger
}

// NewEngine checks that the error strategy suits the builder's peak shape
// before any fitting happens
func NewEngine(builder *profile.Builder, driver *fitting.Driver, strategy ErrorStrategy, threshold float64, edge EdgePolicy, log zerolog.Logger) (*Engine, error) {
	if err := strategy.Check(builder.Peak(), builder.FixedParams()); err != nil {
		return nil, err
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("integration: I/sigma threshold must be positive, got %g", threshold)
	}
	return &Engine{
		builder:   builder,
		driver:    driver,
		errors:    strategy,
		threshold: threshold,
		edge:      edge,
		log:       log,
	}, nil
}

// Integrate runs the flood fill over win for one peak. Per-pixel failures
// only reject that pixel; an error is returned for malformed windows only.
func (e *Engine) Integrate(peak models.PeakCandidate, win *models.PixelWindow, lookup models.ConstantsLookup) (*Result, error) {
	if err := checkWindow(win); err != nil {
		return nil, err
	}
	rows, cols, bins := win.Rows(), win.Cols(), win.Bins()

	log := e.log.With().Int("h", peak.H).Int("k", peak.K).Int("l", peak.L).Logger()
	state := NewFitState(rows, cols, bins)
	res := &Result{Status: models.NoPeak, State: state}

	integrated := make([][]float64, rows)
	for r := range integrated {
		integrated[r] = make([]float64, cols)
		for c := range integrated[r] {
			integrated[r][c] = win.Integrated(r, c)
		}
	}

	seed, ok := recentre(win, integrated)
	if !ok {
		log.Debug().Msg("no valid pixel near the nominal position")
		return res, nil
	}
	res.Seed = seed

	valid := func(p Pixel) bool { return win.Valid(p.Row, p.Col) }
	frontier := []Pixel{seed}
	for round := 0; len(frontier) > 0; round++ {
		sort.SliceStable(frontier, func(a, b int) bool {
			return integrated[frontier[a].Row][frontier[a].Col] > integrated[frontier[b].Row][frontier[b].Col]
		})

		accepted := 0
		for _, px := range frontier {
			state.markAttempted(px)
			att := e.fitPixel(peak, win, lookup, px)
			att.Round = round
			if att.Verdict == Accepted {
				state.accept(px, round, att.Intensity, att.Sigma, win.Intensity[px.Row][px.Col], att.fitted)
				accepted++
			} else {
				log.Debug().Int("row", px.Row).Int("col", px.Col).Str("reason", att.Verdict.String()).Msg("pixel rejected")
			}
			state.Attempts = append(state.Attempts, att.Attempt)
		}
		if accepted == 0 {
			break
		}
		frontier = state.NextFrontier(valid)
	}

	res.Status, res.Intensity, res.Sigma = e.edge.Classify(state, win)
	log.Debug().
		Str("status", res.Status.String()).
		Int("pixels", state.Sum.N).
		Float64("intensity", res.Intensity).
		Float64("sigma", res.Sigma).
		Msg("peak integrated")
	return res, nil
}

// checkWindow verifies that every per-pixel array of win has the shape
// implied by its Intensity grid and TOF axis
func checkWindow(win *models.PixelWindow) error {
	rows, cols, bins := win.Rows(), win.Cols(), win.Bins()
	if rows == 0 || cols == 0 || bins < 3 {
		return ErrEmptyWindow
	}
	if len(win.Variance) != rows {
		return fmt.Errorf("%w: variance has %d rows, want %d", ErrEmptyWindow, len(win.Variance), rows)
	}
	if win.SpectrumID != nil && len(win.SpectrumID) != rows {
		return fmt.Errorf("%w: spectrum IDs have %d rows, want %d", ErrEmptyWindow, len(win.SpectrumID), rows)
	}
	if win.Edge != nil && len(win.Edge) != rows {
		return fmt.Errorf("%w: edge flags have %d rows, want %d", ErrEmptyWindow, len(win.Edge), rows)
	}
	for r := 0; r < rows; r++ {
		if len(win.Intensity[r]) != cols || len(win.Variance[r]) != cols {
			return fmt.Errorf("%w: row %d has %d/%d columns, want %d", ErrEmptyWindow, r, len(win.Intensity[r]), len(win.Variance[r]), cols)
		}
		if win.SpectrumID != nil && len(win.SpectrumID[r]) != cols {
			return fmt.Errorf("%w: row %d has %d spectrum IDs, want %d", ErrEmptyWindow, r, len(win.SpectrumID[r]), cols)
		}
		if win.Edge != nil && len(win.Edge[r]) != cols {
			return fmt.Errorf("%w: row %d has %d edge flags, want %d", ErrEmptyWindow, r, len(win.Edge[r]), cols)
		}
		for c := 0; c < cols; c++ {
			if len(win.Intensity[r][c]) != bins || len(win.Variance[r][c]) != bins {
				return fmt.Errorf("%w: pixel (%d, %d) has %d counts and %d variances, want %d bins",
					ErrEmptyWindow, r, c, len(win.Intensity[r][c]), len(win.Variance[r][c]), bins)
			}
		}
	}
	return nil
}

// recentre picks the pixel with the largest TOF-integrated counts in the
// 3x3 neighbourhood of the nominal peak pixel
func recentre(win *models.PixelWindow, integrated [][]float64) (Pixel, bool) {
	best, found := Pixel{}, false
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			p := Pixel{Row: win.CentreRow + dr, Col: win.CentreCol + dc}
			if !win.Valid(p.Row, p.Col) {
				continue
			}
			if !found || integrated[p.Row][p.Col] > integrated[best.Row][best.Col] {
				best, found = p, true
			}
		}
	}
	return best, found
}

// pixelAttempt carries the fitted curve of an accepted pixel alongside its
// Attempt record
type pixelAttempt struct {
	Attempt
	fitted []float64
}

// fitPixel runs the seed test, the constrained fit and the post-fit
// acceptance tests for one pixel
func (e *Engine) fitPixel(peak models.PeakCandidate, win *models.PixelWindow, lookup models.ConstantsLookup, px Pixel) pixelAttempt {
	att := pixelAttempt{Attempt: Attempt{Pixel: px}}
	y := win.Intensity[px.Row][px.Col]
	variance := win.Variance[px.Row][px.Col]

	seed := background.Estimate(y, variance, win.TOF)
	if seed.Empty() {
		att.Verdict = NoSignal
		return att
	}
	att.Intensity, att.Sigma = seed.Intensity, seed.Sigma
	if seed.IOverSigma() < e.threshold {
		att.Verdict = BelowThreshold
		return att
	}

	spectrum := -1
	if win.SpectrumID != nil {
		spectrum = win.SpectrumID[px.Row][px.Col]
	}
	constants, ok := lookup.Constants(spectrum)
	if !ok {
		att.Verdict = NoConstants
		return att
	}

	model, limits, err := e.builder.Build(profile.Input{
		DSpacing:  peak.DSpacing,
		Constants: constants,
		TOF:       win.TOF,
		Seed:      seed,
	})
	if err != nil {
		att.Verdict = buildVerdict(err)
		return att
	}

	outcome := e.driver.Fit(win.TOF, y, variance, model)
	if !outcome.Success {
		att.Verdict = FitFailed
		return att
	}

	peakModel := outcome.Model.PeakModel()
	if !limits.ContainsFWHM(peakModel.FWHM()) {
		att.Verdict = DegenerateWidth
		return att
	}

	intensity := peakModel.Intensity()
	sigma, err := e.errors.Sigma(PixelFit{TOF: win.TOF, Variance: variance, Peak: peakModel, Outcome: outcome})
	att.Intensity, att.Sigma = intensity, sigma
	if err != nil || !(sigma > 0) || intensity/sigma <= e.threshold {
		att.Verdict = PostFitBelowThreshold
		return att
	}

	att.Verdict = Accepted
	att.fitted = outcome.Model.Curve(win.TOF)
	return att
}

// buildVerdict maps a model build error onto a pixel verdict
func buildVerdict(err error) Verdict {
	if errors.Is(err, profile.ErrCentreOutOfRange) {
		return CentreOutOfRange
	}
	return BuildFailed
}
