// Package dmaemu provides software models of DMA engines.
//
// An emulator is a regio.Space that reacts to register writes the way the hardware does,
// reading descriptors and data from host memory through kmem.BusMemory.
// Processing happens synchronously within the register write that triggers it,
// so that tests are deterministic.
package dmaemu

import (
	"errors"

	"github.com/usnistgov/pcidma/core/logging"
)

var logger = logging.New("dmaemu")

// ErrNoEngine indicates the emulator does not have the requested engine.
var ErrNoEngine = errors.New("no such emulated engine")
