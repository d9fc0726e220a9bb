package profile

import (
	"fmt"
	"math"

	"braggflood/internal/models"
	"braggflood/pkg/background"
)

// Input carries the per-pixel data the Builder needs
type Input struct {
	DSpacing  float64
	Constants models.DiffConstants
	TOF       []float64
	Seed      background.Seed
}

// Limits are the centre and width ranges a fit must stay inside
type Limits struct {
	Centre    float64
	CentreMin float64
	CentreMax float64
	FWHMMin   float64
	FWHMMax   float64
}

// ContainsFWHM reports whether fwhm lies within [FWHMMin, FWHMMax],
// allowing for rounding in the width readback
func (l Limits) ContainsFWHM(fwhm float64) bool {
	tol := 1e-9 * l.FWHMMax
	return fwhm >= l.FWHMMin-tol && fwhm <= l.FWHMMax+tol
}

// Builder constructs a fresh model for every pixel fit attempt. The expected
// centre depends on the pixel's own diffractometer constants, so models are
// never shared between pixels.
type Builder struct {
	peak          PeakShape
	background    Background
	fixed         []string
	fracTolerance float64
}

// NewBuilder validates the requested parameter fixes against the model
func NewBuilder(peak PeakShape, bg Background, fixed []string, fracTolerance float64) (*Builder, error) {
	if fracTolerance <= 0 {
		return nil, fmt.Errorf("profile: fractional tolerance must be positive, got %g", fracTolerance)
	}
	names := append(append([]string(nil), peak.ParamNames()...), bg.ParamNames()...)
	for _, f := range fixed {
		found := false
		for _, n := range names {
			if n == f {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %q is not a parameter of %s+%s", ErrUnknownParameter, f, peak.Name(), bg.Name())
		}
	}
	return &Builder{
		peak:          peak,
		background:    bg,
		fixed:         append([]string(nil), fixed...),
		fracTolerance: fracTolerance,
	}, nil
}

// Peak returns the peak shape the builder uses
func (b *Builder) Peak() PeakShape { return b.peak }

// FixedParams returns the caller-requested permanent fixes
func (b *Builder) FixedParams() []string { return append([]string(nil), b.fixed...) }

// WidthLimits returns the FWHM range allowed on a TOF axis: one bin at the
// window centre up to a third of the window span
func WidthLimits(tof []float64) (minFWHM, maxFWHM float64) {
	n := len(tof)
	mid := n / 2
	if mid+1 >= n {
		mid = n - 2
	}
	return tof[mid+1] - tof[mid], (tof[n-1] - tof[0]) / 3
}

// Build returns the composite model for one pixel and the limits its fit
// must respect. It returns ErrCentreOutOfRange when the pixel's expected
// centre is outside the TOF window.
func (b *Builder) Build(in Input) (*Model, Limits, error) {
	n := len(in.TOF)
	if n < 3 {
		return nil, Limits{}, ErrShortWindow
	}
	lo, hi := in.TOF[0], in.TOF[n-1]

	centre := in.Constants.TOFFromDSpacing(in.DSpacing)
	if centre < lo || centre > hi {
		return nil, Limits{}, fmt.Errorf("%w: %.2f not in [%.2f, %.2f]", ErrCentreOutOfRange, centre, lo, hi)
	}

	minFWHM, maxFWHM := WidthLimits(in.TOF)
	lim := Limits{
		Centre:    centre,
		CentreMin: math.Max(lo, centre*(1-b.fracTolerance)),
		CentreMax: math.Min(hi, centre*(1+b.fracTolerance)),
		FWHMMin:   minFWHM,
		FWHMMax:   maxFWHM,
	}
	fwhm := math.Max(minFWHM, math.Min(maxFWHM, b.fracTolerance*centre))

	bg := b.background
	if lin, ok := bg.(Linear); ok {
		lin.Origin = centre
		bg = lin
	}

	intensity := math.Max(in.Seed.Intensity, 0)
	peakValues := b.peak.initial(intensity, centre, fwhm, in.DSpacing)
	bgValues := bg.initial(math.Max(in.Seed.Background, 0))

	m := &Model{Peak: b.peak, Background: bg}
	for i, name := range b.peak.ParamNames() {
		m.Params = append(m.Params, Parameter{Name: name, Value: peakValues[i], Lower: 0, Upper: math.Inf(1)})
	}
	for i, name := range bg.ParamNames() {
		p := Parameter{Name: name, Value: bgValues[i], Lower: 0, Upper: math.Inf(1)}
		if bg.Signed(i) {
			p.Lower = math.Inf(-1)
		}
		m.Params = append(m.Params, p)
	}

	c := b.peak.CentreIndex()
	m.Params[c].Lower, m.Params[c].Upper = lim.CentreMin, lim.CentreMax

	// The width parameter is bounded through the model's own width/FWHM
	// ratio so the fitted FWHM cannot leave [minFWHM, maxFWHM].
	w := b.peak.WidthIndex()
	if actual := b.peak.FWHM(peakValues); actual > 0 {
		ratio := peakValues[w] / actual
		m.Params[w].Lower, m.Params[w].Upper = minFWHM*ratio, maxFWHM*ratio
	}

	for i := range m.Params {
		m.Params[i].Value = m.Params[i].Clip(m.Params[i].Value)
	}
	for _, f := range b.fixed {
		if err := m.Fix(f); err != nil {
			return nil, Limits{}, err
		}
	}
	return m, lim, nil
}
