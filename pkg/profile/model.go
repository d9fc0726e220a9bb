// Package profile builds the peak-shape plus background models fitted to a
// single pixel's TOF trace.
package profile

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrUnknownParameter indicates a parameter name the model does not have
	ErrUnknownParameter = errors.New("profile: unknown parameter")
	// ErrCentreOutOfRange indicates the expected peak centre lies outside
	// the cropped TOF window
	ErrCentreOutOfRange = errors.New("profile: expected centre outside TOF window")
	// ErrShortWindow indicates a TOF axis too short to build a model on
	ErrShortWindow = errors.New("profile: TOF window needs at least three bins")
)

// Parameter is one named model parameter with its bounds
type Parameter struct {
	Name  string
	Value float64
	Fixed bool
	Lower float64
	Upper float64
}

// Clip returns v limited to the parameter bounds
func (p Parameter) Clip(v float64) float64 {
	return math.Max(p.Lower, math.Min(p.Upper, v))
}

// Model is a peak shape optionally composed with a background. Params holds
// the peak parameters first, then the background parameters.
type Model struct {
	Peak       PeakShape
	Background Background
	Params     []Parameter
}

// NumPeakParams is the number of leading parameters owned by the peak
func (m *Model) NumPeakParams() int { return len(m.Peak.ParamNames()) }

// Values returns a copy of the current parameter values
func (m *Model) Values() []float64 {
	v := make([]float64, len(m.Params))
	for i, p := range m.Params {
		v[i] = p.Value
	}
	return v
}

// SetValues overwrites the parameter values, leaving flags and bounds alone
func (m *Model) SetValues(v []float64) {
	for i := range m.Params {
		m.Params[i].Value = v[i]
	}
}

// Eval evaluates the model at x for an arbitrary value vector
func (m *Model) Eval(x float64, v []float64) float64 {
	np := m.NumPeakParams()
	y := m.Peak.Eval(x, v[:np])
	if m.Background != nil {
		y += m.Background.Eval(x, v[np:])
	}
	return y
}

// Curve evaluates the model at its current values over xs
func (m *Model) Curve(xs []float64) []float64 {
	v := m.Values()
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = m.Eval(x, v)
	}
	return out
}

// Index returns the position of the named parameter, or -1
func (m *Model) Index(name string) int {
	for i, p := range m.Params {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Fix freezes the named parameter at its current value
func (m *Model) Fix(name string) error {
	i := m.Index(name)
	if i < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	m.Params[i].Fixed = true
	return nil
}

// Clone returns a deep copy sharing only the stateless shape descriptors
func (m *Model) Clone() *Model {
	return &Model{
		Peak:       m.Peak,
		Background: m.Background,
		Params:     append([]Parameter(nil), m.Params...),
	}
}

// PeakModel returns the peak-only sub-model, used to read back intensity
// and FWHM without the background contribution
func (m *Model) PeakModel() *Model {
	return &Model{
		Peak:   m.Peak,
		Params: append([]Parameter(nil), m.Params[:m.NumPeakParams()]...),
	}
}

// Intensity is the integrated peak intensity at the current values
func (m *Model) Intensity() float64 {
	return m.Peak.Intensity(m.Values()[:m.NumPeakParams()])
}

// FWHM is the peak full width at half maximum at the current values
func (m *Model) FWHM() float64 {
	return m.Peak.FWHM(m.Values()[:m.NumPeakParams()])
}

// ShapeParams names the peak parameters that only change the profile shape
func (m *Model) ShapeParams() []string {
	names := m.Peak.ParamNames()
	var out []string
	for _, i := range m.Peak.ShapeIndices() {
		out = append(out, names[i])
	}
	return out
}

// String renders the model as a function expression
func (m *Model) String() string {
	var sb strings.Builder
	np := m.NumPeakParams()
	sb.WriteString("name=" + m.Peak.Name())
	for _, p := range m.Params[:np] {
		fmt.Fprintf(&sb, ",%s=%g", p.Name, p.Value)
	}
	if m.Background != nil {
		sb.WriteString(";name=" + m.Background.Name())
		for _, p := range m.Params[np:] {
			fmt.Fprintf(&sb, ",%s=%g", p.Name, p.Value)
		}
	}
	return sb.String()
}
