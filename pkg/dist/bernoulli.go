package dist

import "fmt"

// Bernoulli yields 1 with probability p and 0 otherwise.
type Bernoulli struct {
	p      float64
	bounds *Bounds
}

// NewBernoulli validates 0 <= p <= 1 and constructs the distribution.
func NewBernoulli(p float64, bounds *Bounds) (Bernoulli, error) {
	if p < 0 || p > 1 {
		return Bernoulli{}, InvalidParametersError{Kind: KindBernoulli, Reason: fmt.Sprintf("p must be in [0, 1], got %g", p)}
	}
	if err := validateBounds(KindBernoulli, bounds); err != nil {
		return Bernoulli{}, err
	}
	return Bernoulli{p: p, bounds: cloneBounds(bounds)}, nil
}

// Kind returns KindBernoulli.
func (d Bernoulli) Kind() Kind { return KindBernoulli }

// Mean returns p.
func (d Bernoulli) Mean() float64 { return d.p }

// Sample draws deterministically via the inverse CDF, returning 0 or 1.
func (d Bernoulli) Sample(seed uint64) (float64, error) {
	return sampleBounded(KindBernoulli, d.bounds, seed, d.quantile)
}

// Percentile returns 0 below the (1-p) mass cut and 1 above it.
func (d Bernoulli) Percentile(p float64) (float64, error) {
	if err := validatePercentile(p); err != nil {
		return 0, err
	}
	return d.quantile(p / 100), nil
}

func (d Bernoulli) quantile(u float64) float64 {
	if u <= 1-d.p {
		return 0
	}
	return 1
}

// Spec returns the serialized form.
func (d Bernoulli) Spec() Spec {
	return Spec{
		Type:       KindBernoulli,
		Parameters: map[string]float64{"p": d.p},
		Bounds:     boundsToSlice(d.bounds),
	}
}
