package fitting

import (
	"math"
)

// boundTransform maps an unconstrained internal value onto a bounded
// parameter, so the minimiser never has to deal with the bounds itself
type boundTransform struct {
	lower, upper float64
}

func (b boundTransform) hasLower() bool { return !math.IsInf(b.lower, -1) }
func (b boundTransform) hasUpper() bool { return !math.IsInf(b.upper, 1) }

// external converts an internal value into the parameter value
func (b boundTransform) external(u float64) float64 {
	switch {
	case b.hasLower() && b.hasUpper():
		return b.lower + (b.upper-b.lower)*(math.Sin(u)+1)/2
	case b.hasLower():
		return b.lower - 1 + math.Sqrt(u*u+1)
	case b.hasUpper():
		return b.upper + 1 - math.Sqrt(u*u+1)
	}
	return u
}

// internal converts a parameter value into an internal value. Values
// outside the bounds are clipped first, and values sitting exactly on a
// bound are nudged inside, where the transform has a zero derivative.
func (b boundTransform) internal(p float64) float64 {
	p = math.Max(b.lower, math.Min(b.upper, p))
	if b.hasLower() && b.hasUpper() {
		eps := 1e-6 * (b.upper - b.lower)
		p = math.Max(b.lower+eps, math.Min(b.upper-eps, p))
	} else if b.hasLower() {
		p = math.Max(p, b.lower+1e-6*math.Max(1, math.Abs(b.lower)))
	} else if b.hasUpper() {
		p = math.Min(p, b.upper-1e-6*math.Max(1, math.Abs(b.upper)))
	}
	switch {
	case b.hasLower() && b.hasUpper():
		if b.upper == b.lower {
			return 0
		}
		return math.Asin(2*(p-b.lower)/(b.upper-b.lower) - 1)
	case b.hasLower():
		d := p - b.lower + 1
		return math.Sqrt(d*d - 1)
	case b.hasUpper():
		d := b.upper - p + 1
		return math.Sqrt(d*d - 1)
	}
	return p
}
