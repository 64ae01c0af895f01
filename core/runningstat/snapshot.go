package runningstat

import (
	"math"

	"github.com/zyedidia/generic"
)

func combineMinMax(f func(a, b float64) float64, a, b *float64) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	return f(*a, *b), true
}

func scaleMinMax(x *float64, ratio float64) (float64, bool) {
	if x == nil {
		return 0, false
	}
	return *x * ratio, true
}

// Snapshot contains a snapshot of RunningStat reading.
type Snapshot struct {
	Count    uint64   `json:"count"`
	Len      uint64   `json:"len"`
	Mean     float64  `json:"mean"`
	Variance float64  `json:"variance"`
	Stdev    float64  `json:"stdev"`
	M1       float64  `json:"m1"`
	M2       float64  `json:"m2"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// Add combines stats with another instance.
func (s Snapshot) Add(o Snapshot) Snapshot {
	if s.Count == 0 {
		return o
	} else if o.Count == 0 {
		return s
	}
	i := s.Count + o.Count
	n := s.Len + o.Len
	aN, bN, cN := float64(s.Len), float64(o.Len), float64(n)
	delta := o.M1 - s.M1
	delta2 := delta * delta
	m1 := (aN*s.M1 + bN*o.M1) / cN
	m2 := s.M2 + o.M2 + delta2*aN*bN/cN
	min, hasMin := combineMinMax(generic.Min[float64], s.Min, o.Min)
	max, hasMax := combineMinMax(generic.Max[float64], s.Max, o.Max)
	return newSnapshot(i, n, m1, m2, hasMin && hasMax, min, max)
}

// Scale multiplies every number by a ratio.
func (s Snapshot) Scale(ratio float64) Snapshot {
	m1, m2 := s.M1*ratio, s.M2*ratio*ratio
	min, hasMin := scaleMinMax(s.Min, ratio)
	max, hasMax := scaleMinMax(s.Max, ratio)
	if ratio < 0 {
		min, max = max, min
	}
	return newSnapshot(s.Count, s.Len, m1, m2, hasMin && hasMax, min, max)
}

func newSnapshot(i, n uint64, m1, m2 float64, hasMinMax bool, min, max float64) (s Snapshot) {
	s.Count, s.Len = i, n
	s.M1, s.M2 = m1, m2
	if n > 0 {
		s.Mean = m1
	}
	if n > 1 {
		s.Variance = m2 / float64(n-1)
		s.Stdev = math.Sqrt(s.Variance)
	}
	if i > 0 && hasMinMax {
		s.Min, s.Max = &min, &max
	}
	return
}
