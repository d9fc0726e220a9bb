package integration

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"braggflood/pkg/fitting"
	"braggflood/pkg/profile"
)

// ErrHessianUnsupported is returned when Hessian errors are requested for a
// peak shape whose intensity is not a fitted parameter
var ErrHessianUnsupported = errors.New("integration: Hessian errors need a peak shape with an intensity parameter")

// PixelFit is the fitted state of one pixel handed to an ErrorStrategy
type PixelFit struct {
	TOF      []float64
	Variance []float64
	Peak     *profile.Model
	Outcome  fitting.Outcome
}

// ErrorStrategy computes the uncertainty of one pixel's fitted intensity
type ErrorStrategy interface {
	Name() string
	// Check rejects peak shapes and parameter fixes the strategy cannot
	// work with
	Check(shape profile.PeakShape, fixed []string) error
	Sigma(fit PixelFit) (float64, error)
}

// HessianErrors reads sigma from the propagated error of the intensity
// parameter
type HessianErrors struct{}

func (HessianErrors) Name() string { return "Hessian" }

func (HessianErrors) Check(shape profile.PeakShape, fixed []string) error {
	i, ok := shape.IntensityIndex()
	if !ok {
		return fmt.Errorf("%w: %s", ErrHessianUnsupported, shape.Name())
	}
	name := shape.ParamNames()[i]
	for _, f := range fixed {
		if f == name {
			return fmt.Errorf("%w: intensity parameter %s is fixed", ErrHessianUnsupported, name)
		}
	}
	return nil
}

func (HessianErrors) Sigma(fit PixelFit) (float64, error) {
	i, ok := fit.Peak.Peak.IntensityIndex()
	if !ok {
		return 0, ErrHessianUnsupported
	}
	if i >= len(fit.Outcome.Errors) {
		return 0, errors.New("integration: fit reported no parameter errors")
	}
	s := fit.Outcome.Errors[i]
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, errors.New("integration: intensity error unavailable")
	}
	return s, nil
}

// SummationErrors sums the data variance under the central part of the
// fitted peak, after trimming TailFraction of the fitted area from each tail
type SummationErrors struct {
	TailFraction float64
}

func (SummationErrors) Name() string { return "Summation" }

func (SummationErrors) Check(profile.PeakShape, []string) error { return nil }

func (s SummationErrors) Sigma(fit PixelFit) (float64, error) {
	curve := fit.Peak.Curve(fit.TOF)
	lo, hi := CentralRegion(curve, s.TailFraction)
	if hi <= lo {
		return 0, errors.New("integration: fitted curve has no area")
	}
	v := 0.0
	for i := lo; i < hi; i++ {
		dt := fit.TOF[i+1] - fit.TOF[i]
		v += 0.5 * (fit.Variance[i] + fit.Variance[i+1]) * dt * dt
	}
	return math.Sqrt(v), nil
}

// CentralRegion returns the bin range [lo, hi] holding the central part of
// curve, bounded where the cumulative sum crosses tail and 1-tail of the
// total. It returns hi <= lo when the curve has no positive area.
func CentralRegion(curve []float64, tail float64) (lo, hi int) {
	n := len(curve)
	if n < 2 {
		return 0, 0
	}
	cum := make([]float64, n)
	floats.CumSum(cum, curve)
	total := cum[n-1]
	if !(total > 0) {
		return 0, 0
	}

	lo, hi = 0, n-1
	for i, c := range cum {
		if c >= tail*total {
			lo = i
			break
		}
	}
	for i, c := range cum {
		if c >= (1-tail)*total {
			hi = i
			break
		}
	}
	if hi <= lo {
		if lo < n-1 {
			hi = lo + 1
		} else {
			lo = n - 2
		}
	}
	return lo, hi
}
