package dmaemu

import (
	"sync"

	"github.com/usnistgov/pcidma/kmem"
	"github.com/usnistgov/pcidma/regio"
	"go.uber.org/zap"
)

// IPE register map as seen by the emulator.
const (
	ipeRegReset           = 0x00
	ipeRegControl         = 0x04
	ipeRegTLPSize         = 0x0C
	ipeRegTLPCount        = 0x10
	ipeRegPageAddr        = 0x50
	ipeRegUpdateAddr      = 0x54
	ipeRegLastRead        = 0x58
	ipeRegPageCount       = 0x5C
	ipeRegUpdateThreshold = 0x60

	ipeLinkReady   = 0x14031700
	ipeAddr64      = 0x8000
	ipeDescSize    = 128
	ipeMaxPages    = 4096
	ipeDefaultPage = 4096
)

// IPEConfig contains IPE emulator configuration.
type IPEConfig struct {
	// PageSize is the octets written into each DMA page. Default is 4096.
	PageSize int
}

// IPE emulates an IPE-style packet DMA engine.
//
// Software registers a list of pages and a progress descriptor. The engine fills pages in order,
// publishes the bus address of the last written page in the descriptor, and never overwrites the
// page numbered by the LAST_READ register.
type IPE struct {
	mem      kmem.BusMemory
	pageSize int

	mu         sync.Mutex
	reset      uint32
	control    uint32
	tlpSize    uint32
	tlpCount   uint32
	updateAddr uint32
	lastRead   uint32
	threshold  uint32
	pages      []uint32
	written    int
	queue      [][]byte
	generator  bool
	genSeq     byte
	delivered  int
}

var _ regio.Space = (*IPE)(nil)

// NewIPE creates an IPE emulator that reaches host memory through mem.
func NewIPE(mem kmem.BusMemory, cfg IPEConfig) *IPE {
	if cfg.PageSize <= 0 {
		cfg.PageSize = ipeDefaultPage
	}
	return &IPE{
		mem:      mem,
		pageSize: cfg.PageSize,
		written:  -1,
	}
}

// Generate queues data for delivery, split into pages.
// The last page is padded with zeros.
func (ipe *IPE) Generate(data []byte) {
	ipe.mu.Lock()
	defer ipe.mu.Unlock()
	for len(data) > 0 {
		page := make([]byte, ipe.pageSize)
		data = data[copy(page, data):]
		ipe.queue = append(ipe.queue, page)
	}
	ipe.process()
}

// SetGenerator enables or disables continuous data generation.
func (ipe *IPE) SetGenerator(enable bool) {
	ipe.mu.Lock()
	defer ipe.mu.Unlock()
	ipe.generator = enable
	ipe.process()
}

// Pending returns number of queued pages not yet written into host memory.
func (ipe *IPE) Pending() int {
	ipe.mu.Lock()
	defer ipe.mu.Unlock()
	return len(ipe.queue)
}

// Delivered returns number of pages written into host memory.
func (ipe *IPE) Delivered() int {
	ipe.mu.Lock()
	defer ipe.mu.Unlock()
	return ipe.delivered
}

// Read32 implements regio.Space interface.
func (ipe *IPE) Read32(offset uint32) uint32 {
	ipe.mu.Lock()
	defer ipe.mu.Unlock()

	switch offset {
	case ipeRegReset:
		if ipe.reset != 0 {
			return ipe.reset
		}
		return ipeLinkReady
	case ipeRegControl:
		return ipe.control
	case ipeRegTLPSize:
		return ipe.tlpSize
	case ipeRegTLPCount:
		return ipe.tlpCount
	case ipeRegPageAddr:
		if len(ipe.pages) == 0 {
			return 0
		}
		return ipe.pages[len(ipe.pages)-1]
	case ipeRegUpdateAddr:
		return ipe.updateAddr
	case ipeRegLastRead:
		return ipe.lastRead
	case ipeRegPageCount:
		return uint32(len(ipe.pages))
	case ipeRegUpdateThreshold:
		return ipe.threshold
	}
	return 0
}

// Write32 implements regio.Space interface.
func (ipe *IPE) Write32(offset uint32, value uint32) {
	ipe.mu.Lock()
	defer ipe.mu.Unlock()

	switch offset {
	case ipeRegReset:
		ipe.reset = value & 1
		if ipe.reset != 0 {
			ipe.control = 0
			ipe.written = -1
		}
	case ipeRegControl:
		ipe.control = value
	case ipeRegTLPSize:
		ipe.tlpSize = value
	case ipeRegTLPCount:
		ipe.tlpCount = value
	case ipeRegPageAddr:
		if len(ipe.pages) < ipeMaxPages {
			ipe.pages = append(ipe.pages, value)
		}
	case ipeRegUpdateAddr:
		ipe.updateAddr = value
		ipe.written = -1
	case ipeRegLastRead:
		ipe.lastRead = value
	case ipeRegPageCount:
		if value == 0 {
			ipe.pages = nil
			ipe.written = -1
		}
	case ipeRegUpdateThreshold:
		ipe.threshold = value
	}
	ipe.process()
}

func (ipe *IPE) lastWrittenOffset() uint32 {
	if ipe.tlpSize&ipeAddr64 != 0 {
		return 3 * 4
	}
	return 4 * 4
}

func (ipe *IPE) process() {
	if ipe.control&1 == 0 || ipe.reset != 0 || len(ipe.pages) == 0 || ipe.updateAddr == 0 {
		return
	}
	descMem, e := ipe.mem.BusSlice(uint64(ipe.updateAddr), ipeDescSize)
	if e != nil {
		logger.Warn("progress descriptor unreachable, engine halted", zap.Error(e))
		ipe.control = 0
		return
	}
	desc := regio.NewBytes(descMem, regio.NativeOrder)
	lwOffset := ipe.lastWrittenOffset()

	lastReadIndex := int(ipe.lastRead) - 1
	if lastReadIndex < 0 || lastReadIndex >= len(ipe.pages) {
		lastReadIndex = len(ipe.pages) - 1
	}

	for len(ipe.queue) > 0 || ipe.generator {
		next := (ipe.written + 1) % len(ipe.pages)
		if next == lastReadIndex {
			break
		}
		page, e := ipe.mem.BusSlice(uint64(ipe.pages[next]), ipe.pageSize)
		if e != nil {
			logger.Warn("page unreachable, engine halted", zap.Int("page", next), zap.Error(e))
			ipe.control = 0
			return
		}

		if len(ipe.queue) > 0 {
			copy(page, ipe.queue[0])
			ipe.queue = ipe.queue[1:]
		} else {
			for i := range page {
				page[i] = ipe.genSeq
				ipe.genSeq++
			}
		}

		ipe.written = next
		ipe.delivered++
		empty := uint32(0)
		if len(ipe.queue) == 0 && !ipe.generator {
			empty = 1
		}
		desc.Write32(lwOffset-8, empty)
		desc.Write32(lwOffset, ipe.pages[next])
	}
}
