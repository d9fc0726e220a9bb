package fitting

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"braggflood/pkg/profile"
)

// invalidCost is returned for parameter sets the Poisson likelihood cannot
// evaluate (non-positive model)
const invalidCost = 1e300

// GonumEngine fits models with gonum/optimize. Bounded parameters are
// minimised through boundTransform; the covariance comes from the inverse
// of the weighted normal matrix at the solution.
type GonumEngine struct {
	// FunctionTolerance is the relative cost change below which the
	// minimiser reports StatusFunctionChangeTooSmall
	FunctionTolerance float64
}

// NewGonumEngine returns an engine with default tolerances
func NewGonumEngine() *GonumEngine {
	return &GonumEngine{FunctionTolerance: 1e-10}
}

// points is the subset of the data a Problem is fitted to
type points struct {
	x, y, w []float64
}

func selectPoints(p Problem) points {
	var pts points
	useRange := p.EndX > p.StartX
	for i, x := range p.X {
		if useRange && (x < p.StartX || x > p.EndX) {
			continue
		}
		y := p.Y[i]
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		w := 1.0
		switch p.Cost {
		case ChiSquared:
			v := p.Variance[i]
			if !(v > 0) || math.IsInf(v, 0) {
				continue
			}
			w = 1 / v
		case Poisson:
			if y < 0 {
				continue
			}
		}
		pts.x = append(pts.x, x)
		pts.y = append(pts.y, y)
		pts.w = append(pts.w, w)
	}
	return pts
}

// cost evaluates the configured cost function for a full value vector
func (pts points) cost(m *profile.Model, c CostFunction, v []float64) float64 {
	sum := 0.0
	for i, x := range pts.x {
		f := m.Eval(x, v)
		if c == Poisson {
			if f <= 0 {
				if pts.y[i] > 0 {
					return invalidCost
				}
				continue
			}
			sum += f - pts.y[i]*math.Log(f)
			continue
		}
		r := pts.y[i] - f
		sum += pts.w[i] * r * r
	}
	return sum
}

// Fit implements Engine
func (e *GonumEngine) Fit(p Problem) (Result, error) {
	pts := selectPoints(p)
	if len(pts.x) == 0 {
		return Result{Status: StatusFailed, Message: ErrNoPoints.Error()}, ErrNoPoints
	}

	full := p.Model.Values()
	var free []int
	var transforms []boundTransform
	for i, par := range p.Model.Params {
		if par.Fixed {
			continue
		}
		free = append(free, i)
		transforms = append(transforms, boundTransform{lower: par.Lower, upper: par.Upper})
	}

	expand := func(u []float64) []float64 {
		v := append([]float64(nil), full...)
		for k, i := range free {
			v[i] = transforms[k].external(u[k])
		}
		return v
	}
	objective := func(u []float64) float64 {
		return pts.cost(p.Model, p.Cost, expand(u))
	}

	res := Result{Values: full}
	if len(free) == 0 {
		res.Status = StatusSuccess
		res.Cost = pts.cost(p.Model, p.Cost, full)
		res.Errors = nanSlice(len(full))
		return res, nil
	}

	u0 := make([]float64, len(free))
	for k, i := range free {
		u0[k] = transforms[k].internal(full[i])
	}

	problem := optimize.Problem{Func: objective}
	var method optimize.Method
	if p.Cost == Poisson || p.Minimizer == NelderMead {
		method = &optimize.NelderMead{}
	} else {
		method = &optimize.LBFGS{}
		problem.Grad = func(grad, u []float64) {
			fd.Gradient(grad, objective, u, &fd.Settings{Formula: fd.Central})
		}
	}

	tol := e.FunctionTolerance
	if tol <= 0 {
		tol = 1e-10
	}
	settings := &optimize.Settings{
		MajorIterations:   p.MaxIterations,
		GradientThreshold: 1e-8,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   tol,
			Iterations: 20,
		},
	}

	out, err := optimize.Minimize(problem, u0, settings, method)
	if out == nil {
		return Result{Status: StatusFailed, Message: fmt.Sprint(err)}, err
	}
	res.Values = expand(out.X)
	res.Cost = out.F
	res.Iterations = out.Stats.MajorIterations
	res.Status, res.Message = classify(out.Status, err)
	if res.Status == StatusFailed {
		if err == nil {
			err = fmt.Errorf("fitting: minimiser stopped with status %v", out.Status)
		}
		return res, err
	}

	res.Errors, res.Covariance = covariance(p.Model, pts, p.Cost, res.Values, free)
	return res, nil
}

// classify maps a gonum termination onto an engine Status. A line search
// that can no longer move the point means the cost stopped changing, which
// is reported the same way as function convergence.
func classify(status optimize.Status, err error) (Status, string) {
	if err != nil {
		if errors.Is(err, optimize.ErrNoProgress) || errors.Is(err, optimize.ErrLinesearcherFailure) {
			return StatusFunctionChangeTooSmall, StatusFunctionChangeTooSmall.String()
		}
		return StatusFailed, err.Error()
	}
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.StepConvergence,
		optimize.MethodConverge, optimize.FunctionThreshold:
		return StatusSuccess, StatusSuccess.String()
	case optimize.FunctionConvergence:
		return StatusFunctionChangeTooSmall, StatusFunctionChangeTooSmall.String()
	}
	return StatusFailed, status.String()
}

// covariance estimates parameter errors from the Jacobian J of the model
// with respect to the free parameters: cov = (J^T W J)^-1. Unweighted
// least squares is rescaled by the residual variance.
func covariance(m *profile.Model, pts points, c CostFunction, values []float64, free []int) ([]float64, *mat.SymDense) {
	errs := nanSlice(len(values))
	n, k := len(pts.x), len(free)
	if n < k {
		return errs, nil
	}

	pFree := make([]float64, k)
	for j, i := range free {
		pFree[j] = values[i]
	}
	eval := func(y, x []float64) {
		v := append([]float64(nil), values...)
		for j, i := range free {
			v[i] = x[j]
		}
		for r, xr := range pts.x {
			y[r] = m.Eval(xr, v)
		}
	}
	jac := mat.NewDense(n, k, nil)
	fd.Jacobian(jac, eval, pFree, &fd.JacobianSettings{Formula: fd.Central})

	weights := append([]float64(nil), pts.w...)
	if c == Poisson {
		for r, xr := range pts.x {
			f := m.Eval(xr, values)
			if f > 0 {
				weights[r] = 1 / f
			} else {
				weights[r] = 0
			}
		}
	}

	fisher := mat.NewSymDense(k, nil)
	for a := 0; a < k; a++ {
		for b := a; b < k; b++ {
			s := 0.0
			for r := 0; r < n; r++ {
				s += weights[r] * jac.At(r, a) * jac.At(r, b)
			}
			fisher.SetSym(a, b, s)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(fisher); !ok {
		return errs, nil
	}
	cov := mat.NewSymDense(k, nil)
	if err := chol.InverseTo(cov); err != nil {
		return errs, nil
	}

	if c == LeastSquares && n > k {
		ssr := pts.cost(m, LeastSquares, values)
		cov.ScaleSym(ssr/float64(n-k), cov)
	}

	for j, i := range free {
		if d := cov.At(j, j); d >= 0 {
			errs[i] = math.Sqrt(d)
		}
	}
	return errs, cov
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
