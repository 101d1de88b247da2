package scoring

// DefaultLagCeiling is the lag factor above which checks refuse to raise
// the violation level (NCP convention).
const DefaultLagCeiling = 1.5

// Params tunes one check's violation-level behavior.
type Params struct {
	// FullLimit and ShortLimit are the allowed scores (or rates) over the
	// full and short-term horizons. Anything above them is a violation.
	FullLimit  float64
	ShortLimit float64

	// Decay is the multiplicative VL decay applied on clean evaluations.
	// Check-specific, typically within [0.8, 0.98]. Values outside (0, 1)
	// fall back to 0.95.
	Decay float64

	// LagCeiling caps the lag factor; above it the VL is held. Zero means
	// DefaultLagCeiling.
	LagCeiling float64

	// Raise maps the violation amount to the VL increment. Nil means
	// identity. Aggregator-style checks use violation/10 or violation/1000.
	Raise func(violation float64) float64
}

// Violation is the decaying per-player, per-check score. It lives inside a
// module's player state blob and survives batch boundaries through the
// state store.
type Violation struct {
	VL float64
}

// Outcome describes one evaluation step.
type Outcome struct {
	VL        float64
	Violation float64
	Raised    bool

	// Held is set when the lag factor exceeded the ceiling: the VL was
	// neither raised nor decayed.
	Held bool
}

// Amount is the standard violation amount: how far either horizon's score
// exceeds its limit, never negative.
func Amount(fullScore, fullLimit, shortScore, shortLimit float64) float64 {
	v := 0.0
	if d := fullScore - fullLimit; d > v {
		v = d
	}
	if d := shortScore - shortLimit; d > v {
		v = d
	}
	return v
}

// Evaluate applies one observation to the violation level. Scores are
// divided by the lag factor before comparison so server lag suppresses
// false positives; a lag factor above the ceiling holds the VL entirely
// (no raise, and no decay either — lag is not evidence of clean play).
func (v *Violation) Evaluate(p Params, fullScore, shortScore, lagFactor float64) Outcome {
	ceiling := p.LagCeiling
	if ceiling <= 0 {
		ceiling = DefaultLagCeiling
	}
	if lagFactor > ceiling {
		return Outcome{VL: v.VL, Held: true}
	}

	lag := lagFactor
	if lag < 1 {
		lag = 1
	}

	violation := Amount(fullScore/lag, p.FullLimit, shortScore/lag, p.ShortLimit)
	if violation > 0 {
		raise := violation
		if p.Raise != nil {
			raise = p.Raise(violation)
		}
		v.VL += raise
		if v.VL < 0 {
			v.VL = 0
		}
		return Outcome{VL: v.VL, Violation: violation, Raised: true}
	}

	decay := p.Decay
	if decay <= 0 || decay >= 1 {
		decay = 0.95
	}
	v.VL *= decay
	if v.VL < 0 {
		v.VL = 0
	}
	return Outcome{VL: v.VL}
}

// ToMap serializes the violation state for a module state blob.
func (v *Violation) ToMap() map[string]any {
	return map[string]any{"vl": v.VL}
}

// ViolationFromMap restores a violation serialized with ToMap. A nil map
// yields the zero state.
func ViolationFromMap(m map[string]any) Violation {
	if m == nil {
		return Violation{}
	}
	return Violation{VL: asFloat(m["vl"])}
}
