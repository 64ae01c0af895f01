package dma

import (
	"runtime"
	"time"

	"go.uber.org/atomic"
)

// Deadline is an instant computed once per blocking call.
type Deadline struct {
	at       time.Time
	infinite bool
}

// NewDeadline computes the deadline for a timeout starting now.
func NewDeadline(timeout Timeout) (d Deadline) {
	d.Reset(timeout)
	return d
}

// Reset re-arms the deadline for a timeout starting now.
func (d *Deadline) Reset(timeout Timeout) {
	d.infinite = timeout < 0
	d.at = time.Now().Add(timeout.Duration())
}

// Expired determines whether the deadline has passed.
func (d Deadline) Expired() bool {
	return !d.infinite && !time.Now().Before(d.at)
}

// Poller determines how to wait between hardware status checks.
type Poller struct {
	// Interval is the sleep duration between checks.
	Interval time.Duration
	// Busy selects busy-polling: yield the processor instead of sleeping.
	Busy bool
	// Stop, if set, asks waits in progress to end early.
	Stop *atomic.Bool
}

// Stopped determines whether a stop has been requested.
func (p Poller) Stopped() bool {
	return p.Stop != nil && p.Stop.Load()
}

// Sleep waits one poll interval.
func (p Poller) Sleep() {
	if p.Busy || p.Interval <= 0 {
		runtime.Gosched()
		return
	}
	time.Sleep(p.Interval)
}

// Until polls ready until it returns true, the deadline expires, or a stop is requested.
// ready is invoked at least once.
func (p Poller) Until(d Deadline, ready func() bool) bool {
	for {
		if ready() {
			return true
		}
		if d.Expired() || p.Stopped() {
			return false
		}
		p.Sleep()
	}
}
