// Package parity checks that batch and streaming transforms agree, and that
// two backends agree with each other.
package parity

import (
	"fmt"
	"math"

	"tastream/internal/ta"
)

// Tolerance is the largest absolute difference treated as equal.
const Tolerance = 1e-4

// Input is a series for either arity: Values for single-input indicators,
// High and Low for pair indicators.
type Input struct {
	Values []ta.Value
	High   []ta.Value
	Low    []ta.Value
}

// Len is the number of observations.
func (in Input) Len() int {
	if in.High != nil {
		return len(in.High)
	}
	return len(in.Values)
}

func (in Input) present(i int) bool {
	if in.High != nil {
		return in.High[i].Valid && in.Low[i].Valid
	}
	return in.Values[i].Valid
}

// withTail returns a copy of in[:n] whose last observation is taken from alt.
func (in Input) withTail(n int, alt Input) Input {
	out := Input{}
	if in.Values != nil {
		out.Values = append(append([]ta.Value(nil), in.Values[:n-1]...), alt.Values[n-1])
	}
	if in.High != nil {
		out.High = append(append([]ta.Value(nil), in.High[:n-1]...), alt.High[n-1])
		out.Low = append(append([]ta.Value(nil), in.Low[:n-1]...), alt.Low[n-1])
	}
	return out
}

// Mismatch is one position where two outputs disagree.
type Mismatch struct {
	Index int
	Want  ta.Value
	Got   ta.Value
}

func (m Mismatch) String() string {
	return fmt.Sprintf("[%d] want %s got %s", m.Index, m.Want, m.Got)
}

// Report is the outcome of one comparison.
type Report struct {
	Spec       ta.Spec
	Check      string
	Compared   int
	MaxDiff    float64
	Mismatches []Mismatch
}

// OK reports whether every compared position agreed.
func (r Report) OK() bool { return len(r.Mismatches) == 0 }

func (r Report) String() string {
	status := "ok"
	if !r.OK() {
		status = fmt.Sprintf("%d mismatches, first %s", len(r.Mismatches), r.Mismatches[0])
	}
	return fmt.Sprintf("%-18s %-28s n=%-6d maxdiff=%.3g %s", r.Spec.Key(), r.Check, r.Compared, r.MaxDiff, status)
}

func (r *Report) observe(i int, want, got ta.Value) {
	r.Compared++
	if want.Valid && got.Valid {
		r.MaxDiff = math.Max(r.MaxDiff, math.Abs(want.Float-got.Float))
	}
	if !ta.Close(want, got, Tolerance) {
		r.Mismatches = append(r.Mismatches, Mismatch{Index: i, Want: want, Got: got})
	}
}

// Compute runs the batch transform of b for in.
func Compute(b ta.Backend, spec ta.Spec, in Input) ([]ta.Value, error) {
	if spec.Pair() {
		return b.ComputePair(spec, in.High, in.Low)
	}
	return b.Compute(spec, in.Values)
}

// stepper adapts both stream arities to one call shape.
type stepper interface {
	step(in Input, i int, isAppend bool) ta.Value
	clone() stepper
	count() int
}

type single struct{ s ta.Stream }

func (x *single) step(in Input, i int, isAppend bool) ta.Value {
	var out ta.Value
	out, x.s = x.s.Next(in.Values[i], isAppend)
	return out
}
func (x *single) clone() stepper { return &single{s: x.s.Clone()} }
func (x *single) count() int     { return x.s.Count() }

type pair struct{ s ta.PairStream }

func (x *pair) step(in Input, i int, isAppend bool) ta.Value {
	var out ta.Value
	out, x.s = x.s.NextPair(in.High[i], in.Low[i], isAppend)
	return out
}
func (x *pair) clone() stepper { return &pair{s: x.s.Clone()} }
func (x *pair) count() int     { return x.s.Count() }

func open(b ta.Backend, spec ta.Spec) (stepper, error) {
	if spec.Pair() {
		s, err := b.NewPairStream(spec)
		if err != nil {
			return nil, err
		}
		return &pair{s: s}, nil
	}
	s, err := b.NewStream(spec)
	if err != nil {
		return nil, err
	}
	return &single{s: s}, nil
}

// Stream drives a fresh state of b through in with APPEND.
func Stream(b ta.Backend, spec ta.Spec, in Input) ([]ta.Value, error) {
	st, err := open(b, spec)
	if err != nil {
		return nil, err
	}
	out := make([]ta.Value, in.Len())
	for i := range out {
		out[i] = st.step(in, i, true)
	}
	return out, nil
}

func compare(spec ta.Spec, check string, want, got []ta.Value) Report {
	r := Report{Spec: spec, Check: check}
	if len(want) != len(got) {
		r.Mismatches = append(r.Mismatches, Mismatch{Index: -1})
		return r
	}
	for i := range want {
		r.observe(i, want[i], got[i])
	}
	return r
}

// Backends compares the batch transforms of a and b.
func Backends(a, b ta.Backend, spec ta.Spec, in Input) (Report, error) {
	want, err := Compute(a, spec, in)
	if err != nil {
		return Report{}, err
	}
	got, err := Compute(b, spec, in)
	if err != nil {
		return Report{}, err
	}
	return compare(spec, "batch "+a.Name()+"/"+b.Name(), want, got), nil
}

// Append compares b's batch transform with its APPEND fold.
func Append(b ta.Backend, spec ta.Spec, in Input) (Report, error) {
	want, err := Compute(b, spec, in)
	if err != nil {
		return Report{}, err
	}
	got, err := Stream(b, spec, in)
	if err != nil {
		return Report{}, err
	}
	return compare(spec, "append "+b.Name(), want, got), nil
}

// Update checks, for every prefix length n, that UPDATE with alt[n-1] after n
// APPENDs equals the batch transform of in[:n-1] followed by alt[n-1], and that
// UPDATE leaves Count unchanged. Positions where either series is absent are
// skipped: an absent APPEND commits nothing for UPDATE to revise.
func Update(b ta.Backend, spec ta.Spec, in, alt Input) (Report, error) {
	if alt.Len() != in.Len() {
		return Report{}, fmt.Errorf("%w: alternate series has %d values, want %d", ta.ErrLengthMismatch, alt.Len(), in.Len())
	}
	st, err := open(b, spec)
	if err != nil {
		return Report{}, err
	}
	r := Report{Spec: spec, Check: "update " + b.Name()}
	for n := 1; n <= in.Len(); n++ {
		st.step(in, n-1, true)
		if !in.present(n-1) || !alt.present(n-1) {
			continue
		}
		committed := st.count()

		revised := st.clone()
		got := revised.step(alt, n-1, false)
		want, err := Compute(b, spec, in.withTail(n, alt))
		if err != nil {
			return Report{}, err
		}
		r.observe(n-1, want[n-1], got)
		if revised.count() != committed {
			r.Mismatches = append(r.Mismatches, Mismatch{Index: n - 1, Want: ta.Of(float64(committed)), Got: ta.Of(float64(revised.count()))})
		}
	}
	return r, nil
}

// Check runs every comparison between a and b for spec and returns all reports.
func Check(a, b ta.Backend, spec ta.Spec, in, alt Input) ([]Report, error) {
	var reports []Report
	r, err := Backends(a, b, spec, in)
	if err != nil {
		return nil, err
	}
	reports = append(reports, r)

	for _, be := range []ta.Backend{a, b} {
		if r, err = Append(be, spec, in); err != nil {
			return nil, err
		}
		reports = append(reports, r)
		if alt.Len() == 0 {
			continue
		}
		if r, err = Update(be, spec, in, alt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}

	sa, err := Stream(a, spec, in)
	if err != nil {
		return nil, err
	}
	sb, err := Stream(b, spec, in)
	if err != nil {
		return nil, err
	}
	reports = append(reports, compare(spec, "stream "+a.Name()+"/"+b.Name(), sa, sb))
	return reports, nil
}
