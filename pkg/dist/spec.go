package dist

import (
	"encoding/json"
	"fmt"
)

// Spec is the JSON-safe serialized form of any distribution:
//
//	{"type": "triangular", "parameters": {"low": 10, "mode": 30, "high": 60}, "bounds": [15, 55]}
//
// FromSpec dispatches on Type and reconstructs a distribution whose
// sampling behavior is identical to the original for every seed.
type Spec struct {
	Type       Kind               `json:"type"`
	Parameters map[string]float64 `json:"parameters"`
	Bounds     []float64          `json:"bounds,omitempty"`
}

// FromSpec reconstructs a distribution from its serialized form. Unknown
// types, missing parameters and malformed bounds are construction errors.
func FromSpec(s Spec) (Distribution, error) {
	bounds, err := boundsFromSlice(s.Type, s.Bounds)
	if err != nil {
		return nil, err
	}
	switch s.Type {
	case KindTriangular:
		low, mode, high, err := threeParams(s, "low", "mode", "high")
		if err != nil {
			return nil, err
		}
		return NewTriangular(low, mode, high, bounds)
	case KindLogNormal:
		mean, err := param(s, "mean")
		if err != nil {
			return nil, err
		}
		cv, err := param(s, "cv")
		if err != nil {
			return nil, err
		}
		return NewLogNormal(mean, cv, bounds)
	case KindGamma:
		shape, err := param(s, "shape")
		if err != nil {
			return nil, err
		}
		scale, err := param(s, "scale")
		if err != nil {
			return nil, err
		}
		return NewGamma(shape, scale, bounds)
	case KindBernoulli:
		p, err := param(s, "p")
		if err != nil {
			return nil, err
		}
		return NewBernoulli(p, bounds)
	default:
		return nil, fmt.Errorf("unknown distribution type %q", s.Type)
	}
}

// FromJSON reconstructs a distribution from its JSON encoding.
func FromJSON(data []byte) (Distribution, error) {
	var s Spec
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode distribution: %w", err)
	}
	return FromSpec(s)
}

func param(s Spec, name string) (float64, error) {
	v, ok := s.Parameters[name]
	if !ok {
		return 0, InvalidParametersError{Kind: s.Type, Reason: fmt.Sprintf("missing parameter %q", name)}
	}
	return v, nil
}

func threeParams(s Spec, a, b, c string) (float64, float64, float64, error) {
	va, err := param(s, a)
	if err != nil {
		return 0, 0, 0, err
	}
	vb, err := param(s, b)
	if err != nil {
		return 0, 0, 0, err
	}
	vc, err := param(s, c)
	if err != nil {
		return 0, 0, 0, err
	}
	return va, vb, vc, nil
}

func boundsFromSlice(kind Kind, raw []float64) (*Bounds, error) {
	switch len(raw) {
	case 0:
		return nil, nil
	case 2:
		return &Bounds{Min: raw[0], Max: raw[1]}, nil
	default:
		return nil, InvalidParametersError{Kind: kind, Reason: fmt.Sprintf("bounds must be a [min, max] pair, got %d values", len(raw))}
	}
}

func boundsToSlice(b *Bounds) []float64 {
	if b == nil {
		return nil
	}
	return []float64{b.Min, b.Max}
}
