package ta

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind names an indicator.
type Kind string

const (
	SMA         Kind = "SMA"
	EMA         Kind = "EMA"
	WMA         Kind = "WMA"
	DEMA        Kind = "DEMA"
	TEMA        Kind = "TEMA"
	T3          Kind = "T3"
	TRIMA       Kind = "TRIMA"
	MidPoint    Kind = "MIDPOINT"
	MidPrice    Kind = "MIDPRICE"
	KAMA        Kind = "KAMA"
	SAR         Kind = "SAR"
	HTTrendline Kind = "HT_TRENDLINE"
)

// Kinds lists every supported indicator in display order.
var Kinds = []Kind{SMA, EMA, WMA, DEMA, TEMA, T3, TRIMA, MidPoint, MidPrice, KAMA, SAR, HTTrendline}

// HTLookback is the warm-up of the trendline approximation: the first output
// is produced on the 64th observation.
const HTLookback = 63

// ParseKind accepts any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownIndicator, s)
}

// Spec is the construction parameters of one indicator. Fields that do not
// apply to Kind are ignored.
type Spec struct {
	Kind         Kind    `json:"kind" yaml:"kind"`
	Period       int     `json:"period,omitempty" yaml:"period,omitempty"`
	VFactor      float64 `json:"vfactor,omitempty" yaml:"vfactor,omitempty"`
	Acceleration float64 `json:"acceleration,omitempty" yaml:"acceleration,omitempty"`
	Maximum      float64 `json:"maximum,omitempty" yaml:"maximum,omitempty"`
}

// Pair reports whether the indicator consumes (high, low) pairs.
func (s Spec) Pair() bool {
	return s.Kind == SAR || s.Kind == MidPrice
}

// Validate checks the parameters for Kind.
func (s Spec) Validate() error {
	if _, err := ParseKind(string(s.Kind)); err != nil {
		return err
	}
	switch s.Kind {
	case SAR:
		if !(s.Acceleration > 0) || !(s.Maximum > 0) || s.Acceleration > s.Maximum {
			return fmt.Errorf("%w: SAR requires 0 < acceleration <= maximum, got %g/%g",
				ErrInvalidParameter, s.Acceleration, s.Maximum)
		}
		return nil
	case HTTrendline:
		return nil
	}
	if s.Period < 2 {
		return fmt.Errorf("%w: %s period must be >= 2, got %d", ErrInvalidParameter, s.Kind, s.Period)
	}
	if s.Kind == T3 && (math.IsNaN(s.VFactor) || s.VFactor < 0 || s.VFactor > 1) {
		return fmt.Errorf("%w: T3 vfactor must be in [0, 1], got %g", ErrInvalidParameter, s.VFactor)
	}
	return nil
}

// Lookback is the number of leading "not ready" outputs, counted over present
// inputs.
func (s Spec) Lookback() int {
	switch s.Kind {
	case DEMA:
		return 2 * (s.Period - 1)
	case TEMA:
		return 3 * (s.Period - 1)
	case T3:
		return 6 * (s.Period - 1)
	case KAMA:
		return s.Period
	case SAR:
		return 1
	case HTTrendline:
		return HTLookback
	}
	return s.Period - 1
}

// Stages is the number of chained exponential smoothers behind EMA-family kinds.
func (s Spec) Stages() int {
	switch s.Kind {
	case EMA:
		return 1
	case DEMA:
		return 2
	case TEMA:
		return 3
	case T3:
		return 6
	}
	return 0
}

// Key is a stable display and storage name, e.g. "EMA_10" or "SAR_0.02_0.2".
func (s Spec) Key() string {
	switch s.Kind {
	case SAR:
		return string(s.Kind) + "_" + ftoa(s.Acceleration) + "_" + ftoa(s.Maximum)
	case HTTrendline:
		return string(s.Kind)
	case T3:
		return string(s.Kind) + "_" + strconv.Itoa(s.Period) + "_" + ftoa(s.VFactor)
	}
	return string(s.Kind) + "_" + strconv.Itoa(s.Period)
}

func (s Spec) String() string { return s.Key() }

// ParseSpec parses "KIND:PERIOD", "T3:PERIOD:VFACTOR", "SAR:ACCEL:MAX" and
// "HT_TRENDLINE". Missing T3 and SAR arguments take the conventional defaults
// (0.7 and 0.02/0.2). The result is validated.
func ParseSpec(s string) (Spec, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	kind, err := ParseKind(parts[0])
	if err != nil {
		return Spec{}, err
	}
	spec := Spec{Kind: kind}
	args := parts[1:]

	num := func(i int, def float64) (float64, error) {
		if i >= len(args) || strings.TrimSpace(args[i]) == "" {
			return def, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(args[i]), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: %v", ErrInvalidParameter, s, err)
		}
		return f, nil
	}

	switch kind {
	case SAR:
		if spec.Acceleration, err = num(0, 0.02); err != nil {
			return Spec{}, err
		}
		if spec.Maximum, err = num(1, 0.2); err != nil {
			return Spec{}, err
		}
	case HTTrendline:
	default:
		if len(args) == 0 {
			return Spec{}, fmt.Errorf("%w: %q: missing period", ErrInvalidParameter, s)
		}
		p, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil {
			return Spec{}, fmt.Errorf("%w: %q: bad period", ErrInvalidParameter, s)
		}
		spec.Period = p
		if kind == T3 {
			if spec.VFactor, err = num(1, 0.7); err != nil {
				return Spec{}, err
			}
		}
	}
	return spec, spec.Validate()
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
