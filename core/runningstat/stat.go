// Package runningstat implements Knuth and Welford's method for computing the standard deviation.
package runningstat

import (
	"math"

	binutils "github.com/jfoster/binary-utilities"
	"github.com/zyedidia/generic"
)

// RunningStat collects statistics and allows computing min, max, mean, and variance.
// Algorithm comes from https://www.johndcook.com/blog/standard_deviation/ .
//
// The zero value collects every input.
type RunningStat struct {
	i    uint64
	n    uint64
	mask uint64
	m1   float64
	m2   float64
	min  float64
	max  float64
}

// New creates a RunningStat.
// sampleInterval: how often to collect sample, will be adjusted to nearest power of two and truncated between 1 and 2^30.
func New(sampleInterval int) (s *RunningStat) {
	s = &RunningStat{}
	s.Init(sampleInterval)
	return s
}

// Init initializes the instance and clears existing data.
func (s *RunningStat) Init(sampleInterval int) {
	interval := generic.Clamp(binutils.NearPowerOfTwo(int64(sampleInterval)), 1, 1<<30)
	*s = RunningStat{
		mask: uint64(interval) - 1,
		min:  math.Inf(1),
		max:  math.Inf(-1),
	}
}

// Push adds an input.
func (s *RunningStat) Push(x float64) {
	s.i++
	if s.n == 0 && s.min == 0 && s.max == 0 {
		s.min, s.max = math.Inf(1), math.Inf(-1)
	}
	s.min, s.max = generic.Min(s.min, x), generic.Max(s.max, x)
	if (s.i-1)&s.mask != 0 {
		return
	}

	s.n++
	if s.n == 1 {
		s.m1 = x
		s.m2 = 0
		return
	}
	delta := x - s.m1
	s.m1 += delta / float64(s.n)
	s.m2 += delta * (x - s.m1)
}

// Read returns current counters as Snapshot.
func (s *RunningStat) Read() Snapshot {
	return newSnapshot(s.i, s.n, s.m1, s.m2, s.i > 0, s.min, s.max)
}
