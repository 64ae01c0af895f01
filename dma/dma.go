// Package dma provides the engine-agnostic DMA API.
//
// A Dispatcher wraps one Backend, which implements a hardware DMA engine family.
// The Dispatcher resolves logical engine addresses, serializes access with named locks, and
// implements convenience operations such as Read, Write, and Skip on top of backend primitives.
package dma

import (
	"errors"

	"github.com/usnistgov/pcidma/core/logging"
)

var logger = logging.New("dma")

// Error conditions.
var (
	ErrNotSupported    = errors.New("operation not supported by DMA backend")
	ErrNotAvailable    = errors.New("DMA engine not available")
	ErrNotFound        = errors.New("DMA engine not found")
	ErrDirection       = errors.New("DMA engine does not support the direction")
	ErrBusy            = errors.New("DMA engine is busy")
	ErrTimeout         = errors.New("DMA timeout")
	ErrStopped         = errors.New("DMA engine stop requested")
	ErrShortTransfer   = errors.New("DMA transfer is incomplete")
	ErrTooBig          = errors.New("DMA packet does not fit in buffer")
	ErrHardware        = errors.New("DMA descriptor reports hardware error")
	ErrShortPacket     = errors.New("DMA descriptor reports short packet")
	ErrInconsistent    = errors.New("DMA engine state is inconsistent")
	ErrInvalidArgument = errors.New("invalid DMA argument")
)
