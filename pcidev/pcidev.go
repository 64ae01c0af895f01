// Package pcidev assembles a DMA dispatcher for a PCIe board.
//
// A device is either a physical PCI function, reached through a mapped BAR and pinned host memory,
// or a software emulator of the same register interface.
package pcidev

import (
	"github.com/usnistgov/pcidma/core/logging"
)

var logger = logging.New("pcidev")
