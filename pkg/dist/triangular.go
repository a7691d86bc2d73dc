package dist

import (
	"fmt"
	"math"
)

// Triangular is the three-point distribution used for expert elicitation:
// low and high are the support endpoints, mode is the most likely value.
type Triangular struct {
	low    float64
	mode   float64
	high   float64
	bounds *Bounds
}

// NewTriangular validates low <= mode <= high and constructs the
// distribution. An optional bounds pair restricts samples further.
func NewTriangular(low, mode, high float64, bounds *Bounds) (Triangular, error) {
	if !(low <= mode && mode <= high) {
		return Triangular{}, InvalidParametersError{
			Kind:   KindTriangular,
			Reason: fmt.Sprintf("require low <= mode <= high, got (%g, %g, %g)", low, mode, high),
		}
	}
	if err := validateBounds(KindTriangular, bounds); err != nil {
		return Triangular{}, err
	}
	return Triangular{low: low, mode: mode, high: high, bounds: cloneBounds(bounds)}, nil
}

// Kind returns KindTriangular.
func (d Triangular) Kind() Kind { return KindTriangular }

// Mean returns (low + mode + high) / 3.
func (d Triangular) Mean() float64 { return (d.low + d.mode + d.high) / 3 }

// Sample draws deterministically via the inverse CDF.
func (d Triangular) Sample(seed uint64) (float64, error) {
	return sampleBounded(KindTriangular, d.bounds, seed, d.quantile)
}

// Percentile returns the closed-form inverse CDF at p in [0, 100].
func (d Triangular) Percentile(p float64) (float64, error) {
	if err := validatePercentile(p); err != nil {
		return 0, err
	}
	return d.quantile(p / 100), nil
}

func (d Triangular) quantile(u float64) float64 {
	span := d.high - d.low
	if span == 0 {
		return d.low
	}
	cut := (d.mode - d.low) / span
	if u <= cut {
		return d.low + math.Sqrt(u*span*(d.mode-d.low))
	}
	return d.high - math.Sqrt((1-u)*span*(d.high-d.mode))
}

// Spec returns the serialized form.
func (d Triangular) Spec() Spec {
	return Spec{
		Type:       KindTriangular,
		Parameters: map[string]float64{"low": d.low, "mode": d.mode, "high": d.high},
		Bounds:     boundsToSlice(d.bounds),
	}
}
