// Package ipedma implements a DMA backend for IPE-style packet engines.
//
// The engine has a single from-device channel. Software registers a fixed list of pages,
// hardware fills them in order and reports progress by writing the bus address of the last
// written page into a descriptor in host memory, and software returns pages by advancing
// the LAST_READ register.
package ipedma

import (
	"github.com/pkg/math"
	"github.com/usnistgov/pcidma/core/hwinfo"
	"github.com/usnistgov/pcidma/core/logging"
	"github.com/usnistgov/pcidma/core/nnduration"

	binutils "github.com/jfoster/binary-utilities"
)

var logger = logging.New("ipedma")

// Registers.
const (
	RegReset           = 0x00
	RegControl         = 0x04
	RegTLPSize         = 0x0C
	RegTLPCount        = 0x10
	RegPageAddr        = 0x50
	RegUpdateAddr      = 0x54
	RegLastRead        = 0x58
	RegPageCount       = 0x5C
	RegUpdateThreshold = 0x60
)

// Register values.
const (
	linkReadyGen3  = 0x14031700
	linkReadyGen2  = 0x14021700
	tlpAddress64   = 0x8000
	controlEnable  = 0x1
	resetAssert    = 0x1
	progressThresh = 1
	cores          = 1
)

// Geometry.
const (
	PageSize       = 4096
	DescriptorSize = 128
	descAlignment  = 64

	DefaultPages = 16
	MinPages     = 2
	MaxPages     = 4096

	DefaultTLPSize = 32
	MinTLPSize     = 32
	MaxTLPSize     = 256

	DefaultResetDelay  nnduration.Microseconds = 10000
	DefaultNoDataSleep nnduration.Microseconds = 10
)

// Config contains backend configuration.
type Config struct {
	// Pages is the number of DMA pages in the ring.
	Pages int `json:"pages,omitempty"`

	// TLPSize is the PCIe write payload size, adjusted to a power of two.
	TLPSize int `json:"tlpSize,omitempty"`

	// Mode32 disables 64-bit addressing.
	// In 64-bit mode, the last written page address is the fourth word of the progress descriptor;
	// in 32-bit mode, it is the fifth word.
	Mode32 bool `json:"mode32,omitempty"`

	// ResetDelay is the settle time after each step of engine reset.
	ResetDelay nnduration.Microseconds `json:"resetDelay,omitempty"`

	// NoDataSleep is the poll interval while waiting for data under a realtime scheduling policy.
	// Without a realtime policy, the engine is busy-polled.
	NoDataSleep nnduration.Microseconds `json:"noDataSleep,omitempty"`

	// EmptyDetected trusts the empty-detected flag, two words before the last written page address.
	// When hardware sets the flag, a stream that asked to continue stops waiting for more data.
	EmptyDetected bool `json:"emptyDetected,omitempty"`

	// Host provides scheduling information, default is hwinfo.Default.
	Host hwinfo.Provider `json:"-"`
}

func (cfg *Config) applyDefaults() {
	if cfg.Pages == 0 {
		cfg.Pages = DefaultPages
	}
	cfg.Pages = math.MinInt(math.MaxInt(MinPages, cfg.Pages), MaxPages)

	if cfg.TLPSize == 0 {
		cfg.TLPSize = DefaultTLPSize
	}
	cfg.TLPSize = int(binutils.NextPowerOfTwo(int64(cfg.TLPSize)))
	cfg.TLPSize = math.MinInt(math.MaxInt(MinTLPSize, cfg.TLPSize), MaxTLPSize)

	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = DefaultResetDelay
	}
	if cfg.NoDataSleep == 0 {
		cfg.NoDataSleep = DefaultNoDataSleep
	}
	if cfg.Host == nil {
		cfg.Host = hwinfo.Default
	}
}

func (cfg Config) lastWrittenOffset() uint32 {
	if cfg.Mode32 {
		return 4 * 4
	}
	return 3 * 4
}
