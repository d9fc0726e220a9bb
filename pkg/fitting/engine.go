// Package fitting wraps a nonlinear least-squares engine behind the
// Engine interface and drives the two-stage constrained fit of one pixel.
package fitting

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"braggflood/pkg/profile"
)

// ErrNoPoints indicates the fit range contained no usable data points
var ErrNoPoints = errors.New("fitting: no usable points in fit range")

// CostFunction selects the quantity minimised by the engine
type CostFunction int

const (
	// LeastSquares is the unweighted sum of squared residuals
	LeastSquares CostFunction = iota
	// ChiSquared weights residuals by 1/variance and ignores points whose
	// variance is not a positive finite number
	ChiSquared
	// Poisson is the Poisson negative log-likelihood. It always uses a
	// derivative-free minimiser.
	Poisson
)

func (c CostFunction) String() string {
	switch c {
	case LeastSquares:
		return "RSq"
	case ChiSquared:
		return "ChiSq"
	case Poisson:
		return "Poisson"
	}
	return fmt.Sprintf("CostFunction(%d)", int(c))
}

// ParseCostFunction maps a config name onto a CostFunction
func ParseCostFunction(name string) (CostFunction, error) {
	switch name {
	case "RSq":
		return LeastSquares, nil
	case "ChiSq":
		return ChiSquared, nil
	case "Poisson":
		return Poisson, nil
	}
	return 0, fmt.Errorf("fitting: unknown cost function %q", name)
}

// Minimizer selects the optimisation method
type Minimizer int

const (
	LBFGS Minimizer = iota
	NelderMead
)

func (m Minimizer) String() string {
	if m == NelderMead {
		return "NelderMead"
	}
	return "LBFGS"
}

// ParseMinimizer maps a config name onto a Minimizer
func ParseMinimizer(name string) (Minimizer, error) {
	switch name {
	case "LBFGS":
		return LBFGS, nil
	case "NelderMead":
		return NelderMead, nil
	}
	return 0, fmt.Errorf("fitting: unknown minimizer %q", name)
}

// Status is the termination state reported by an Engine
type Status int

const (
	StatusFailed Status = iota
	StatusSuccess
	// StatusFunctionChangeTooSmall means the engine stopped because
	// changes in the cost function value became too small
	StatusFunctionChangeTooSmall
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFunctionChangeTooSmall:
		return "changes in function value are too small"
	}
	return "failed"
}

// Problem is one fit request. Model carries the starting values, fixed
// flags and bounds; only points with StartX <= x <= EndX are used.
type Problem struct {
	Model    *profile.Model
	X        []float64
	Y        []float64
	Variance []float64

	StartX float64
	EndX   float64

	Cost          CostFunction
	Minimizer     Minimizer
	MaxIterations int
}

// Result is what an Engine reports back
type Result struct {
	Status  Status
	Message string

	// Values holds every parameter, fixed ones included
	Values []float64
	// Errors holds the propagated standard error of each parameter, NaN
	// for fixed parameters or when the covariance is singular
	Errors []float64
	// Covariance is over the free parameters only, nil when singular
	Covariance *mat.SymDense

	Cost       float64
	Iterations int
}

// Engine is the nonlinear fit capability
type Engine interface {
	Fit(p Problem) (Result, error)
}
