package integration

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"braggflood/internal/models"
	"braggflood/pkg/config"
	"braggflood/pkg/fitting"
	"braggflood/pkg/profile"
)

// ErrPeakPanicked marks a peak whose integration panicked
var ErrPeakPanicked = errors.New("integration: peak integration panicked")

// WindowExtractor supplies the pixel window around a peak and the
// diffractometer constants of its spectra
type WindowExtractor interface {
	models.ConstantsLookup
	PeakData(peak models.PeakCandidate, detectorID int, bank string, nRows, nCols, edgeRows, edgeCols int) (*models.PixelWindow, error)
}

// ProgressCallback is a function that reports progress during a batch
type ProgressCallback func(completed, total int)

// PeakOutput couples a peak's final triple with its diagnostics
type PeakOutput struct {
	models.PeakResult

	Window *models.PixelWindow
	Detail *Result
}

// Summary holds the batch statistics printed after integration
type Summary struct {
	Total  int
	Valid  int
	OnEdge int
	NoPeak int
	Failed int
	Pixels int

	// MeanIOverSigma is the mean I/sigma of valid peaks
	MeanIOverSigma float64
}

// Integrator integrates a list of independent peaks. Each peak owns its
// window and fit state; peaks are spread over NumWorkers goroutines.
type Integrator struct {
	cfg       *config.Config
	engine    *Engine
	extractor WindowExtractor
	log       zerolog.Logger
	progress  ProgressCallback
}

// NewIntegrator builds the flood-fill engine described by cfg on top of
// the given fit engine. Configuration errors are reported here, before any
// peak is fitted.
func NewIntegrator(cfg *config.Config, extractor WindowExtractor, fitEngine fitting.Engine, log zerolog.Logger) (*Integrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var peak profile.PeakShape
	switch cfg.Profile.PeakFunction {
	case config.Gaussian:
		peak = profile.Gaussian{}
	default:
		b := cfg.Profile.BackToBack
		peak = profile.BackToBackExponential{Alpha0: b.Alpha0, Alpha1: b.Alpha1, Beta0: b.Beta0, Beta1: b.Beta1}
	}
	var bg profile.Background = profile.Flat{}
	if cfg.Profile.BackgroundFunction == config.LinearBackground {
		bg = profile.Linear{}
	}
	builder, err := profile.NewBuilder(peak, bg, cfg.Profile.FixPeakParameters, cfg.Integration.FractionalChangeDSpacing)
	if err != nil {
		return nil, err
	}

	cost, err := fitting.ParseCostFunction(cfg.Fit.CostFunction)
	if err != nil {
		return nil, err
	}
	minimizer, err := fitting.ParseMinimizer(cfg.Fit.Minimizer)
	if err != nil {
		return nil, err
	}
	rule := fitting.StrictSuccess
	if cfg.Fit.AcceptSmallFunctionChange {
		rule = fitting.AcceptSmallFunctionChange
	}
	driver := &fitting.Driver{
		Engine:        fitEngine,
		Cost:          cost,
		Minimizer:     minimizer,
		MaxIterations: cfg.Fit.MaxIterations,
		Rule:          rule,
		Log:           log,
	}

	var strategy ErrorStrategy = SummationErrors{TailFraction: cfg.Integration.TailFraction}
	if cfg.Integration.ErrorStrategy == config.ErrorHessian {
		strategy = HessianErrors{}
	}

	engine, err := NewEngine(builder, driver, strategy, cfg.Integration.IOverSigmaThreshold,
		EdgePolicy{IntegrateIfOnEdge: cfg.Integration.IntegrateIfOnEdge}, log)
	if err != nil {
		return nil, err
	}

	return &Integrator{cfg: cfg, engine: engine, extractor: extractor, log: log}, nil
}

// SetProgressCallback sets a callback invoked after every finished peak
func (ig *Integrator) SetProgressCallback(callback ProgressCallback) {
	ig.progress = callback
}

// Engine returns the flood-fill engine
func (ig *Integrator) Engine() *Engine { return ig.engine }

// IntegratePeak extracts the window of one peak and integrates it. A panic
// while handling the peak is reported through the output's Err.
func (ig *Integrator) IntegratePeak(peak models.PeakCandidate) (out PeakOutput) {
	out = PeakOutput{PeakResult: models.PeakResult{Peak: peak, Status: models.NoPeak}}
	defer func() {
		if r := recover(); r != nil {
			out.PeakResult = models.PeakResult{Peak: peak, Status: models.NoPeak}
			out.Detail = nil
			out.Err = fmt.Errorf("integrating %v: %w: %v", peak, ErrPeakPanicked, r)
		}
	}()
	w := ig.cfg.Window
	win, err := ig.extractor.PeakData(peak, peak.DetectorID, peak.Bank, w.NRows, w.NCols, w.EdgeMarginRows, w.EdgeMarginCols)
	if err != nil {
		out.Err = fmt.Errorf("extracting window for %v: %w", peak, err)
		return out
	}
	out.Window = win

	res, err := ig.engine.Integrate(peak, win, ig.extractor)
	if err != nil {
		out.Err = fmt.Errorf("integrating %v: %w", peak, err)
		return out
	}
	out.Detail = res
	out.Intensity, out.Sigma, out.Status = res.Intensity, res.Sigma, res.Status
	return out
}

// IntegratePeaks integrates every peak and returns the outputs in input
// order. Peaks share no mutable state, so each worker writes only its own
// slots of the output slice.
func (ig *Integrator) IntegratePeaks(peaks []models.PeakCandidate) []PeakOutput {
	outputs := make([]PeakOutput, len(peaks))
	jobs := make(chan int)
	done := make(chan struct{})

	workers := ig.cfg.Processing.NumWorkers
	if workers > len(peaks) {
		workers = len(peaks)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outputs[i] = ig.IntegratePeak(peaks[i])
				done <- struct{}{}
			}
		}()
	}

	go func() {
		for i := range peaks {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(done)
	}()

	completed := 0
	for range done {
		completed++
		if ig.progress != nil {
			ig.progress(completed, len(peaks))
		}
	}

	for _, out := range outputs {
		var ev *zerolog.Event
		if out.Err != nil {
			ev = ig.log.Warn().Err(out.Err)
		} else {
			ev = ig.log.Info()
		}
		ev.Str("peak", out.Peak.String()).
			Str("status", out.Status.String()).
			Float64("intensity", out.Intensity).
			Float64("sigma", out.Sigma).
			Msg("peak done")
	}
	return outputs
}

// Summarize computes batch statistics over integrated peaks
func Summarize(outputs []PeakOutput) Summary {
	s := Summary{Total: len(outputs)}
	var ratios []float64
	for _, out := range outputs {
		if out.Err != nil {
			s.Failed++
			continue
		}
		if out.Detail != nil {
			s.Pixels += out.Detail.State.Sum.N
		}
		switch out.Status {
		case models.Valid:
			s.Valid++
			if out.Sigma > 0 {
				ratios = append(ratios, out.Intensity/out.Sigma)
			}
		case models.OnEdge:
			s.OnEdge++
		default:
			s.NoPeak++
		}
	}
	if len(ratios) > 0 {
		s.MeanIOverSigma = stat.Mean(ratios, nil)
	}
	return s
}
