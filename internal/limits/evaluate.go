package limits

import "math"

// Violation describes one measured value outside its pass band.
type Violation struct {
	Field      string  `json:"name"`
	Value      float64 `json:"measuredValue"`
	Limit      float64 `json:"limit"`
	Difference float64 `json:"difference"`
}

// Check compares a single value against the spec. ok is false when the value
// is outside [lo, hi]; limit is then the bound that was crossed.
func (s Spec) Check(v float64) (limit float64, ok bool) {
	lo, hi := s.Bounds()
	switch {
	case v < lo:
		return lo, false
	case v > hi:
		return hi, false
	}
	return 0, true
}

// Evaluate returns the violations of values against the profile, in field
// order. Fields missing from values and values for unknown fields are
// ignored.
func (p Profile) Evaluate(values map[string]float64) []Violation {
	var out []Violation
	for _, field := range p.Fields() {
		v, ok := values[field]
		if !ok {
			continue
		}
		limit, pass := p[field].Check(v)
		if pass {
			continue
		}
		out = append(out, Violation{
			Field:      field,
			Value:      v,
			Limit:      limit,
			Difference: round3(v - limit),
		})
	}
	return out
}

// Record exports the profile as a limits collection record: the motor type
// plus <field>_MIN and <field>_MAX for every field.
func (p Profile) Record(motorType string) map[string]any {
	out := make(map[string]any, 2*len(p)+1)
	out["motor_type"] = motorType
	for field, spec := range p {
		lo, hi := spec.Bounds()
		out[field+"_MIN"] = lo
		out[field+"_MAX"] = hi
	}
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
