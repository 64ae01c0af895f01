// Package nwldma implements a DMA backend for NWL-style descriptor ring engines.
//
// Each hardware engine moves data in one direction through a ring of 64-octet descriptors.
// Software publishes the ring range hardware may process through the SW_NEXT_BD register,
// and hardware marks each processed descriptor with a completion status.
package nwldma

import (
	"github.com/pkg/math"
	"github.com/usnistgov/pcidma/core/logging"
	"github.com/usnistgov/pcidma/core/nnduration"

	binutils "github.com/jfoster/binary-utilities"
)

var logger = logging.New("nwldma")

// Engine register window.
const (
	MaxEngines     = 32
	EngineStride   = 0x100
	regEngCap      = 0x00
	regEngCtrl     = 0x04
	regEngNextBD   = 0x08
	regSwNextBD    = 0x0C
	regEngLastBD   = 0x10
	regCompBytes   = 0x1C
	regDMACtrl     = 0x4000
	capPresent     = 0x00000001
	capC2S         = 0x00000002
	capTypeMask    = 0x00000030
	capTypePacket  = 0x00000010
	capNumberMask  = 0x0000FF00
	capNumberShift = 8
	capAddrMask    = 0x3F000000
	capAddrShift   = 24
)

// Engine control and status bits.
const (
	ctrlIntEnable = 0x00000001
	ctrlIntActive = 0x00000002
	ctrlEnable    = 0x00000100
	ctrlStateMask = 0x00000C00
	ctrlRunning   = 0x00000400
	ctrlUserReset = 0x00004000
	ctrlReset     = 0x00008000
	ctrlAllInt    = 0x000000BE
)

// Global control bits.
const (
	dmaIntEnable     = 0x00000001
	dmaUserIntEnable = 0x00000010
	dmaUserIntAck    = 0x00000020
)

// Descriptor layout.
const (
	DescriptorSize = 64
	bdStatus       = 0x00
	bdUserLow      = 0x04
	bdUserHigh     = 0x08
	bdCardAddr     = 0x0C
	bdCtrl         = 0x10
	bdBufLow       = 0x14
	bdBufHigh      = 0x18
	bdNext         = 0x1C

	BDSizeMask  = 0x000FFFFF
	BDSOP       = 0x80000000
	BDEOP       = 0x40000000
	BDError     = 0x10000000
	BDShort     = 0x02000000
	BDComplete  = 0x01000000
	BDIntError  = 0x02000000
	BDIntComp   = 0x01000000
	bdAlignment = 64
)

// Loopback and packet generator registers.
const (
	RegRxConfig = 0x9100
	RegPktSize  = 0x9104
	RegTxConfig = 0x9108
	RxPktGen    = 0x00000001
	TxLoopback  = 0x00000002

	MaxPacketSize = 4096
)

// Defaults and limits.
const (
	DefaultRingSize = 256
	MinRingSize     = 2
	MaxRingSize     = 4096
	DefaultPageSize = 4096
	MinPageSize     = 64
	MaxPageSize     = 1 << 19

	DefaultRegisterTimeout nnduration.Microseconds = 10000
)

// Config contains backend configuration.
type Config struct {
	// RingSize is the number of descriptors per engine.
	RingSize int `json:"ringSize,omitempty"`

	// PageSize is the octets per buffer, adjusted to a power of two.
	PageSize int `json:"pageSize,omitempty"`

	// RegisterTimeout bounds waiting for engine reset.
	RegisterTimeout nnduration.Microseconds `json:"registerTimeout,omitempty"`

	// GenerateIRQ requests interrupts on descriptor completion and error.
	GenerateIRQ bool `json:"generateIRQ,omitempty"`
}

func (cfg *Config) applyDefaults() {
	if cfg.RingSize == 0 {
		cfg.RingSize = DefaultRingSize
	}
	cfg.RingSize = math.MinInt(math.MaxInt(MinRingSize, cfg.RingSize), MaxRingSize)

	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	cfg.PageSize = int(binutils.NextPowerOfTwo(int64(cfg.PageSize)))
	cfg.PageSize = math.MinInt(math.MaxInt(MinPageSize, cfg.PageSize), MaxPageSize)

	if cfg.RegisterTimeout == 0 {
		cfg.RegisterTimeout = DefaultRegisterTimeout
	}
}
