// Package dist defines the stateless probability distributions used by
// trial entities: triangular, log-normal, gamma and Bernoulli variants with
// optional inclusive bounds, closed-form moments and seed-parameterized
// sampling. Sampling is a pure function of (parameters, seed); a
// distribution holds no RNG state and no memory of prior draws.
package dist

import "fmt"

// Kind identifies a concrete distribution variant.
type Kind string

// Supported distribution kinds, used as the "type" discriminator in the
// serialized form.
const (
	// KindTriangular is a three-point (low, mode, high) distribution used
	// for expert elicitation.
	KindTriangular Kind = "triangular"
	// KindLogNormal is a right-skewed positive distribution parameterized
	// by mean and coefficient of variation.
	KindLogNormal Kind = "lognormal"
	// KindGamma is parameterized by shape and scale; mean = shape * scale.
	KindGamma Kind = "gamma"
	// KindBernoulli yields 0 or 1 with probability p of 1.
	KindBernoulli Kind = "bernoulli"
)

// maxBoundedRetries caps rejection resampling for bounded distributions.
// Exhausting it signals bounds incompatible with the shape parameters.
const maxBoundedRetries = 100

// Distribution is the sampling contract shared by all variants. Values are
// immutable once constructed and safe to share across concurrent runs.
type Distribution interface {
	// Kind returns the variant discriminator.
	Kind() Kind
	// Sample draws a deterministic value for the given seed. Identical
	// seeds always yield identical values. When bounds are configured the
	// draw is rejection-resampled with derived seeds until it falls in
	// range, failing with BoundsExhaustedError after the retry cap.
	Sample(seed uint64) (float64, error)
	// Mean returns the closed-form expectation. No sampling occurs.
	Mean() float64
	// Percentile returns the value at percentile p in [0, 100]. It is
	// monotone in p for every variant.
	Percentile(p float64) (float64, error)
	// Spec returns the JSON-safe serialized form. Reconstructing via
	// FromSpec preserves exact sampling behavior.
	Spec() Spec
}

// Bounds restricts samples to the inclusive interval [Min, Max].
type Bounds struct {
	Min float64
	Max float64
}

func (b Bounds) contains(v float64) bool { return v >= b.Min && v <= b.Max }

// InvalidParametersError reports shape parameters that violate the
// variant's ordering or positivity constraints at construction time.
type InvalidParametersError struct {
	Kind   Kind
	Reason string
}

func (e InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid %s parameters: %s", e.Kind, e.Reason)
}

// BoundsExhaustedError reports a bounded distribution that failed to
// produce an in-range sample within the retry cap.
type BoundsExhaustedError struct {
	Kind    Kind
	Bounds  Bounds
	Retries int
}

func (e BoundsExhaustedError) Error() string {
	return fmt.Sprintf("%s sample outside bounds [%g, %g] after %d retries; bounds likely incompatible with shape parameters",
		e.Kind, e.Bounds.Min, e.Bounds.Max, e.Retries)
}

// validatePercentile rejects percentiles outside [0, 100].
func validatePercentile(p float64) error {
	if p < 0 || p > 100 {
		return fmt.Errorf("percentile %g out of range [0, 100]", p)
	}
	return nil
}

// sampleBounded draws via the quantile function, rejection-resampling with
// derived seeds while the value falls outside bounds.
func sampleBounded(kind Kind, bounds *Bounds, seed uint64, quantile func(u float64) float64) (float64, error) {
	next := seed
	v := quantile(uniform(next))
	if bounds == nil {
		return v, nil
	}
	for retries := 0; ; retries++ {
		if bounds.contains(v) {
			return v, nil
		}
		if retries == maxBoundedRetries {
			return 0, BoundsExhaustedError{Kind: kind, Bounds: *bounds, Retries: maxBoundedRetries}
		}
		next = rederive(next)
		v = quantile(uniform(next))
	}
}

// validateBounds rejects inverted bound pairs at construction time.
func validateBounds(kind Kind, bounds *Bounds) error {
	if bounds != nil && bounds.Min > bounds.Max {
		return InvalidParametersError{Kind: kind, Reason: fmt.Sprintf("bounds min %g exceeds max %g", bounds.Min, bounds.Max)}
	}
	return nil
}

func cloneBounds(b *Bounds) *Bounds {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}
