package fitting

import (
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"braggflood/pkg/profile"
)

// AcceptanceRule decides which engine statuses count as a converged fit
type AcceptanceRule int

const (
	// AcceptSmallFunctionChange treats "changes in function value are too
	// small" as converged alongside outright success.
	// TODO: review against the engine's own convergence criteria; a fit
	// that stalls far from the minimum is accepted by this rule too.
	AcceptSmallFunctionChange AcceptanceRule = iota
	// StrictSuccess accepts StatusSuccess only
	StrictSuccess
)

// Converged reports whether status is acceptable under the rule
func (r AcceptanceRule) Converged(status Status) bool {
	switch status {
	case StatusSuccess:
		return true
	case StatusFunctionChangeTooSmall:
		return r == AcceptSmallFunctionChange
	}
	return false
}

// Outcome is the driver's verdict on one pixel
type Outcome struct {
	Success bool
	// Model is the fitted model, nil when the first stage failed
	Model      *profile.Model
	Errors     []float64
	Covariance *mat.SymDense
	// Stage is the last stage whose result was kept (1 or 2)
	Stage   int
	Message string
}

// Driver runs the two-stage constrained fit. The first stage freezes the
// peak shape parameters on top of the permanent fixes; the second frees
// everything except the permanent fixes and refines from the first result.
type Driver struct {
	Engine        Engine
	Cost          CostFunction
	Minimizer     Minimizer
	MaxIterations int
	Rule          AcceptanceRule
	Log           zerolog.Logger
}

// Fit fits model to (x, y, variance). Engine errors and panics are
// converted into an unsuccessful Outcome; they never escape.
func (d *Driver) Fit(x, y, variance []float64, model *profile.Model) Outcome {
	first := model.Clone()
	for _, name := range model.ShapeParams() {
		if err := first.Fix(name); err != nil {
			return Outcome{Message: err.Error()}
		}
	}

	res, ok := d.stage(x, y, variance, first)
	if !ok {
		return Outcome{Message: res.Message}
	}
	fitted := first.Clone()
	fitted.SetValues(res.Values)
	out := Outcome{Success: true, Model: fitted, Errors: res.Errors, Covariance: res.Covariance, Stage: 1, Message: res.Message}

	// Restore the caller's fixed flags: shape parameters frozen above
	// become free again unless they were permanently fixed.
	second := model.Clone()
	second.SetValues(res.Values)
	for i := range second.Params {
		second.Params[i].Value = second.Params[i].Clip(second.Params[i].Value)
	}
	res2, ok := d.stage(x, y, variance, second)
	if !ok {
		d.Log.Debug().Str("message", res2.Message).Msg("refinement fit rejected, keeping first stage")
		return out
	}
	refined := second.Clone()
	refined.SetValues(res2.Values)
	return Outcome{Success: true, Model: refined, Errors: res2.Errors, Covariance: res2.Covariance, Stage: 2, Message: res2.Message}
}

func (d *Driver) stage(x, y, variance []float64, m *profile.Model) (res Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Status: StatusFailed, Message: fmt.Sprintf("fit engine panic: %v", r)}
			ok = false
		}
	}()

	res, err := d.Engine.Fit(Problem{
		Model:         m,
		X:             x,
		Y:             y,
		Variance:      variance,
		StartX:        x[0],
		EndX:          x[len(x)-1],
		Cost:          d.Cost,
		Minimizer:     d.Minimizer,
		MaxIterations: d.MaxIterations,
	})
	if err != nil && res.Status == StatusFailed {
		if res.Message == "" {
			res.Message = err.Error()
		}
		return res, false
	}
	return res, d.Rule.Converged(res.Status)
}
