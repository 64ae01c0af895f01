// Package hwinfo gathers information about the host and the calling process.
package hwinfo

import (
	"github.com/usnistgov/pcidma/core/logging"
)

var logger = logging.New("hwinfo")

// Linux scheduling policies, as reported in /proc/[pid]/stat.
const (
	SchedOther = 0
	SchedFIFO  = 1
	SchedRR    = 2
	SchedBatch = 3
	SchedIdle  = 5
)

// Scheduling describes the scheduling policy of the calling process.
type Scheduling struct {
	Policy     int `json:"policy"`
	RtPriority int `json:"rtPriority"`
}

// IsRealtime determines whether the process runs under a realtime policy.
// Sleeping inside a polling loop is only worthwhile when the scheduler wakes the process up promptly.
func (s Scheduling) IsRealtime() bool {
	return s.Policy == SchedFIFO || s.Policy == SchedRR
}

// Provider provides information about the host.
type Provider interface {
	// Scheduling provides information about process scheduling.
	Scheduling() Scheduling
}

// Default is the default Provider implementation.
var Default Provider = &procinfoProvider{}

// Fixed is a Provider that returns fixed information, useful in unit tests.
type Fixed struct {
	Sched Scheduling
}

// Scheduling implements Provider interface.
func (p Fixed) Scheduling() Scheduling {
	return p.Sched
}
