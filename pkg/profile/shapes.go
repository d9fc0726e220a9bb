package profile

import (
	"math"
)

// gaussianFWHMRatio is FWHM/sigma of a gaussian
var gaussianFWHMRatio = 2 * math.Sqrt(2*math.Ln2)

// PeakShape is the peak component of a Model. It is implemented only by
// BackToBackExponential and Gaussian.
type PeakShape interface {
	// Name is the function name used in expressions
	Name() string
	// ParamNames lists the parameters in the order Eval expects them
	ParamNames() []string
	// Eval evaluates the shape at x
	Eval(x float64, p []float64) float64
	// Intensity is the integrated area for the given parameters
	Intensity(p []float64) float64
	// FWHM is the full width at half maximum for the given parameters
	FWHM(p []float64) float64
	// IntensityIndex returns the parameter holding the intensity, if the
	// intensity is a fitted parameter at all
	IntensityIndex() (int, bool)
	CentreIndex() int
	WidthIndex() int
	// ShapeIndices are parameters that only change the profile shape
	ShapeIndices() []int

	initial(intensity, centre, fwhm, dSpacing float64) []float64
}

// BackToBackExponential is a gaussian convolved with a rising and a
// decaying exponential, the usual time-of-flight peak shape. Parameters
// are I (area), A (rise), B (decay), X0 (centre) and S (gaussian sigma).
// The coefficients seed A and B from the d-spacing.
type BackToBackExponential struct {
	Alpha0, Alpha1 float64
	Beta0, Beta1   float64
}

const (
	b2bI = iota
	b2bA
	b2bB
	b2bX0
	b2bS
)

func (BackToBackExponential) Name() string { return "BackToBackExponential" }

func (BackToBackExponential) ParamNames() []string { return []string{"I", "A", "B", "X0", "S"} }

func (BackToBackExponential) Eval(x float64, p []float64) float64 {
	return backToBack(x, p[b2bI], p[b2bA], p[b2bB], p[b2bX0], p[b2bS])
}

func (BackToBackExponential) Intensity(p []float64) float64 { return p[b2bI] }

func (b BackToBackExponential) FWHM(p []float64) float64 {
	scale := p[b2bS]
	if p[b2bA] > 0 {
		scale += 1 / p[b2bA]
	}
	if p[b2bB] > 0 {
		scale += 1 / p[b2bB]
	}
	return numericFWHM(func(x float64) float64 { return b.Eval(x, p) }, p[b2bX0], scale)
}

func (BackToBackExponential) IntensityIndex() (int, bool) { return b2bI, true }
func (BackToBackExponential) CentreIndex() int            { return b2bX0 }
func (BackToBackExponential) WidthIndex() int             { return b2bS }
func (BackToBackExponential) ShapeIndices() []int         { return []int{b2bA, b2bB} }

// Exponents returns the rise and decay constants A and B at d-spacing d
func (b BackToBackExponential) Exponents(d float64) (a, bb float64) {
	a, bb = b.Alpha0, b.Beta0
	if d > 0 {
		a += b.Alpha1 / d
		bb += b.Beta1 / (d * d * d * d)
	}
	return a, bb
}

// initial solves S so the profile FWHM matches fwhm for the seeded A and B
func (b BackToBackExponential) initial(intensity, centre, fwhm, d float64) []float64 {
	a, bb := b.Exponents(d)
	p := []float64{intensity, a, bb, centre, fwhm / gaussianFWHMRatio}
	minS := 1e-3 * fwhm
	for iter := 0; iter < 8; iter++ {
		got := b.FWHM(p)
		if got <= 0 || math.Abs(got-fwhm) < 1e-6*fwhm {
			break
		}
		p[b2bS] = math.Max(minS, p[b2bS]*fwhm/got)
		if p[b2bS] == minS {
			break
		}
	}
	return p
}

// backToBack evaluates the normalised back-to-back exponential. The
// exp(u)*erfc(y) products are rewritten as exp(-d^2/2s^2)*erfcx(y) when
// y >= 0 so neither factor overflows.
func backToBack(x, i, a, b, x0, s float64) float64 {
	if a <= 0 || b <= 0 || s <= 0 {
		return 0
	}
	d := x - x0
	gauss := math.Exp(-d * d / (2 * s * s))
	term := func(c, dd float64) float64 {
		y := (c*s*s + dd) / (math.Sqrt2 * s)
		if y < 0 {
			return math.Exp(c/2*(c*s*s+2*dd)) * math.Erfc(y)
		}
		return gauss * erfcx(y)
	}
	norm := i * a * b / (2 * (a + b))
	return norm * (term(a, d) + term(b, -d))
}

// erfcx is the scaled complementary error function exp(y^2)*erfc(y) for y >= 0
func erfcx(y float64) float64 {
	if y < 25 {
		return math.Exp(y*y) * math.Erfc(y)
	}
	y2 := 1 / (y * y)
	return (1 - 0.5*y2 + 0.75*y2*y2 - 1.875*y2*y2*y2) / (y * math.Sqrt(math.Pi))
}

// numericFWHM measures the width at half maximum of f on a fine grid
// spanning centre +/- 20*scale
func numericFWHM(f func(float64) float64, centre, scale float64) float64 {
	const n = 4001
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return 0
	}
	lo := centre - 20*scale
	step := 40 * scale / (n - 1)
	ys := make([]float64, n)
	imax := 0
	for k := range ys {
		ys[k] = f(lo + float64(k)*step)
		if ys[k] > ys[imax] {
			imax = k
		}
	}
	half := ys[imax] / 2
	if half <= 0 {
		return 0
	}

	left := lo
	for k := imax; k > 0; k-- {
		if ys[k-1] < half {
			left = lo + step*(float64(k-1)+(half-ys[k-1])/(ys[k]-ys[k-1]))
			break
		}
	}
	right := lo + float64(n-1)*step
	for k := imax; k < n-1; k++ {
		if ys[k+1] < half {
			right = lo + step*(float64(k)+(ys[k]-half)/(ys[k]-ys[k+1]))
			break
		}
	}
	return right - left
}

// Gaussian is the symmetric peak Height*exp(-(x-PeakCentre)^2/(2*Sigma^2)).
// Its intensity is derived from Height and Sigma rather than fitted directly.
type Gaussian struct{}

const (
	gaussHeight = iota
	gaussCentre
	gaussSigma
)

func (Gaussian) Name() string { return "Gaussian" }

func (Gaussian) ParamNames() []string { return []string{"Height", "PeakCentre", "Sigma"} }

func (Gaussian) Eval(x float64, p []float64) float64 {
	s := p[gaussSigma]
	if s <= 0 {
		return 0
	}
	d := (x - p[gaussCentre]) / s
	return p[gaussHeight] * math.Exp(-0.5*d*d)
}

func (Gaussian) Intensity(p []float64) float64 {
	return p[gaussHeight] * p[gaussSigma] * math.Sqrt(2*math.Pi)
}

func (Gaussian) FWHM(p []float64) float64 { return gaussianFWHMRatio * p[gaussSigma] }

func (Gaussian) IntensityIndex() (int, bool) { return -1, false }
func (Gaussian) CentreIndex() int            { return gaussCentre }
func (Gaussian) WidthIndex() int             { return gaussSigma }
func (Gaussian) ShapeIndices() []int         { return nil }

func (Gaussian) initial(intensity, centre, fwhm, _ float64) []float64 {
	sigma := fwhm / gaussianFWHMRatio
	return []float64{intensity / (sigma * math.Sqrt(2*math.Pi)), centre, sigma}
}

// Background is the smooth component added under the peak. It is
// implemented only by Flat and Linear.
type Background interface {
	Name() string
	ParamNames() []string
	Eval(x float64, p []float64) float64
	// Signed reports whether parameter i may go negative
	Signed(i int) bool

	initial(level float64) []float64
}

// Flat is a constant background A0
type Flat struct{}

func (Flat) Name() string                        { return "FlatBackground" }
func (Flat) ParamNames() []string                { return []string{"A0"} }
func (Flat) Eval(_ float64, p []float64) float64 { return p[0] }
func (Flat) Signed(int) bool                     { return false }
func (Flat) initial(level float64) []float64     { return []float64{level} }

// Linear is A0 + A1*(x-Origin). Origin is set to the expected peak centre
// so A0 is the background under the peak.
type Linear struct {
	Origin float64
}

func (Linear) Name() string         { return "LinearBackground" }
func (Linear) ParamNames() []string { return []string{"A0", "A1"} }
func (l Linear) Eval(x float64, p []float64) float64 {
	return p[0] + p[1]*(x-l.Origin)
}
func (Linear) Signed(i int) bool               { return i == 1 }
func (Linear) initial(level float64) []float64 { return []float64{level, 0} }
