package parity

import (
	"tastream/internal/ta"
)

// MismatchFunc is called when a shadowed step disagrees beyond Tolerance.
type MismatchFunc func(spec ta.Spec, primary, mirror ta.Value, isAppend bool)

// ShadowBackend serves every call from Primary and repeats it on Mirror,
// reporting disagreements to OnMismatch. Outputs always come from Primary.
type ShadowBackend struct {
	Primary    ta.Backend
	Mirror     ta.Backend
	OnMismatch MismatchFunc
}

func (b ShadowBackend) Name() string {
	return b.Primary.Name() + "+" + b.Mirror.Name()
}

func (b ShadowBackend) report(spec ta.Spec, p, m ta.Value, isAppend bool) {
	if b.OnMismatch != nil && !ta.Close(p, m, Tolerance) {
		b.OnMismatch(spec, p, m, isAppend)
	}
}

func (b ShadowBackend) NewStream(spec ta.Spec) (ta.Stream, error) {
	p, err := b.Primary.NewStream(spec)
	if err != nil {
		return nil, err
	}
	m, err := b.Mirror.NewStream(spec)
	if err != nil {
		return nil, err
	}
	return &shadowStream{b: b, p: p, m: m}, nil
}

func (b ShadowBackend) NewPairStream(spec ta.Spec) (ta.PairStream, error) {
	p, err := b.Primary.NewPairStream(spec)
	if err != nil {
		return nil, err
	}
	m, err := b.Mirror.NewPairStream(spec)
	if err != nil {
		return nil, err
	}
	return &shadowPair{b: b, p: p, m: m}, nil
}

func (b ShadowBackend) Compute(spec ta.Spec, in []ta.Value) ([]ta.Value, error) {
	p, err := b.Primary.Compute(spec, in)
	if err != nil {
		return nil, err
	}
	if m, err := b.Mirror.Compute(spec, in); err == nil {
		for i := range p {
			b.report(spec, p[i], m[i], true)
		}
	}
	return p, nil
}

func (b ShadowBackend) ComputePair(spec ta.Spec, high, low []ta.Value) ([]ta.Value, error) {
	p, err := b.Primary.ComputePair(spec, high, low)
	if err != nil {
		return nil, err
	}
	if m, err := b.Mirror.ComputePair(spec, high, low); err == nil {
		for i := range p {
			b.report(spec, p[i], m[i], true)
		}
	}
	return p, nil
}

type shadowStream struct {
	b    ShadowBackend
	p, m ta.Stream
}

func (s *shadowStream) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	var pv, mv ta.Value
	pv, s.p = s.p.Next(v, isAppend)
	mv, s.m = s.m.Next(v, isAppend)
	s.b.report(s.p.Spec(), pv, mv, isAppend)
	return pv, s
}

func (s *shadowStream) Count() int { return s.p.Count() }

func (s *shadowStream) Spec() ta.Spec { return s.p.Spec() }

func (s *shadowStream) Clone() ta.Stream {
	return &shadowStream{b: s.b, p: s.p.Clone(), m: s.m.Clone()}
}

type shadowPair struct {
	b    ShadowBackend
	p, m ta.PairStream
}

func (s *shadowPair) NextPair(high, low ta.Value, isAppend bool) (ta.Value, ta.PairStream) {
	var pv, mv ta.Value
	pv, s.p = s.p.NextPair(high, low, isAppend)
	mv, s.m = s.m.NextPair(high, low, isAppend)
	s.b.report(s.p.Spec(), pv, mv, isAppend)
	return pv, s
}

func (s *shadowPair) Count() int { return s.p.Count() }

func (s *shadowPair) Spec() ta.Spec { return s.p.Spec() }

func (s *shadowPair) Clone() ta.PairStream {
	return &shadowPair{b: s.b, p: s.p.Clone(), m: s.m.Clone()}
}
