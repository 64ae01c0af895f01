// Package dmalock provides named locks that serialize access to DMA engines.
//
// Lock names look like "dma0r/nwl" and are shared by every process that opens the same device,
// when Flock provider is used.
package dmalock

import (
	"errors"

	"github.com/usnistgov/pcidma/core/logging"
)

var logger = logging.New("dmalock")

// ErrHeld indicates an attempt to close a lock that is still held.
var ErrHeld = errors.New("lock is held")

// Lock is a named non-recursive lock.
type Lock interface {
	// TryLock attempts to acquire the lock without blocking.
	TryLock() bool

	// Unlock releases the lock acquired by TryLock.
	Unlock()

	// Close releases resources.
	// Closing a held lock may fail with ErrHeld, leaving the lock open.
	Close() error
}

// Provider creates named locks.
type Provider interface {
	Acquire(name string) (Lock, error)
}
