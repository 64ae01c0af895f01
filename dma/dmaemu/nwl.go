package dmaemu

import (
	"fmt"
	"sync"

	"github.com/pkg/math"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/kmem"
	"github.com/usnistgov/pcidma/regio"
	"go.uber.org/zap"
)

// NWL register map as seen by the emulator.
const (
	nwlEngineStride = 0x100
	nwlWindows      = 64
	nwlC2SWindow    = 32

	nwlRegCap       = 0x00
	nwlRegCtrl      = 0x04
	nwlRegEngNextBD = 0x08
	nwlRegSwNextBD  = 0x0C
	nwlRegEngLastBD = 0x10
	nwlRegCompBytes = 0x1C

	nwlRegDMACtrl  = 0x4000
	nwlRegRxConfig = 0x9100
	nwlRegPktSize  = 0x9104
	nwlRegTxConfig = 0x9108

	nwlCapPresent    = 0x00000001
	nwlCapC2S        = 0x00000002
	nwlCapTypePacket = 0x00000010

	nwlCtrlIntEnable = 0x00000001
	nwlCtrlIntActive = 0x00000002
	nwlCtrlAllInt    = 0x000000BE
	nwlCtrlEnable    = 0x00000100
	nwlCtrlRunning   = 0x00000400
	nwlCtrlUserReset = 0x00004000
	nwlCtrlReset     = 0x00008000

	nwlDMAIntEnable  = 0x00000001
	nwlDMAUserIntAck = 0x00000020

	nwlRxPktGen   = 0x00000001
	nwlTxLoopback = 0x00000002

	nwlBDStatus  = 0x00
	nwlBDCtrl    = 0x10
	nwlBDBufLow  = 0x14
	nwlBDBufHigh = 0x18
	nwlBDNext    = 0x1C

	nwlBDSizeMask  = 0x000FFFFF
	nwlBDSOP       = 0x80000000
	nwlBDEOP       = 0x40000000
	nwlBDError     = 0x10000000
	nwlBDShort     = 0x02000000
	nwlBDComplete  = 0x01000000
	nwlBDIntError  = 0x02000000
	nwlBDIntComp   = 0x01000000
	nwlDescriptor  = 64
	nwlDefaultBits = 32
)

// NWL status values for InjectStatus.
const (
	NWLStatusError = nwlBDError
	NWLStatusShort = nwlBDShort | nwlBDComplete
)

// NWLConfig contains NWL emulator configuration.
type NWLConfig struct {
	// Pairs is the number of engine pairs, each with a to-device and a from-device engine
	// sharing the same address. Default is 1.
	Pairs int

	// AddrBits is the bus address width reported in capability registers. Default is 32.
	AddrBits int

	// Block reports block engines instead of packet engines.
	Block bool
}

func (cfg *NWLConfig) applyDefaults() {
	if cfg.Pairs <= 0 {
		cfg.Pairs = 1
	}
	cfg.Pairs = math.MinInt(cfg.Pairs, nwlC2SWindow)
	if cfg.AddrBits <= 0 {
		cfg.AddrBits = nwlDefaultBits
	}
}

type nwlFragment struct {
	data []byte
	eop  bool
}

type nwlEngine struct {
	addr      int
	c2s       bool
	ctrl      uint32
	engNext   uint32
	swNext    uint32
	lastBD    uint32
	compBytes uint32

	paused    bool
	fault     uint32
	processed int

	pending []nwlFragment
	pktFill int
}

func (eng *nwlEngine) runnable() bool {
	return eng.ctrl&nwlCtrlEnable != 0 && !eng.paused
}

func (eng *nwlEngine) writeCtrl(v uint32) {
	eng.ctrl &^= v & nwlCtrlAllInt
	if v&(nwlCtrlUserReset|nwlCtrlReset) != 0 {
		eng.ctrl &^= nwlCtrlEnable | nwlCtrlIntEnable
		eng.pktFill = 0
		return
	}
	eng.ctrl = eng.ctrl&nwlCtrlAllInt | v&(nwlCtrlEnable|nwlCtrlIntEnable)
}

// NWL emulates an NWL-style DMA controller with loopback and packet generator.
//
// To-device engine of pair p occupies register window p; from-device engine occupies window 32+p.
// In loopback mode, data consumed by a to-device engine is delivered to the from-device engine
// of the same address, split into packets of the configured packet size.
// In generator mode, the from-device engines receive an endless stream of packets.
type NWL struct {
	cfg NWLConfig
	mem kmem.BusMemory

	mu       sync.Mutex
	engines  [nwlWindows]*nwlEngine
	dmaCtrl  uint32
	userAcks int
	rxConfig uint32
	txConfig uint32
	pktSize  uint32
	genSeq   byte
	other    map[uint32]uint32
}

var _ regio.Space = (*NWL)(nil)

// NewNWL creates an NWL emulator that reaches host memory through mem.
func NewNWL(mem kmem.BusMemory, cfg NWLConfig) *NWL {
	cfg.applyDefaults()
	n := &NWL{
		cfg:   cfg,
		mem:   mem,
		other: map[uint32]uint32{},
	}
	for p := 0; p < cfg.Pairs; p++ {
		n.engines[p] = &nwlEngine{addr: p}
		n.engines[nwlC2SWindow+p] = &nwlEngine{addr: p, c2s: true}
	}
	return n
}

// NWLEngineBase returns the register window offset of an engine.
func NWLEngineBase(addr int, dir dma.Direction) uint32 {
	if dir == dma.FromDevice {
		addr += nwlC2SWindow
	}
	return uint32(addr * nwlEngineStride)
}

func (n *NWL) find(addr int, dir dma.Direction) (*nwlEngine, error) {
	if addr < 0 || addr >= n.cfg.Pairs || (dir != dma.ToDevice && dir != dma.FromDevice) {
		return nil, fmt.Errorf("%w: %d %s", ErrNoEngine, addr, dir)
	}
	return n.engines[NWLEngineBase(addr, dir)/nwlEngineStride], nil
}

// Pause stops or resumes descriptor processing of an engine.
// A paused engine leaves published descriptors untouched.
func (n *NWL) Pause(addr int, dir dma.Direction, paused bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng, e := n.find(addr, dir)
	if e != nil {
		return e
	}
	eng.paused = paused
	n.process()
	return nil
}

// InjectStatus causes the next descriptor processed by an engine to complete with the given status
// instead of normal completion, such as NWLStatusError or NWLStatusShort.
func (n *NWL) InjectStatus(addr int, dir dma.Direction, status uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng, e := n.find(addr, dir)
	if e != nil {
		return e
	}
	eng.fault = status
	return nil
}

// Processed returns number of descriptors processed by an engine.
func (n *NWL) Processed(addr int, dir dma.Direction) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	eng, e := n.find(addr, dir)
	if e != nil {
		return 0
	}
	return eng.processed
}

// UserAcks returns number of user interrupt acknowledgements.
func (n *NWL) UserAcks() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.userAcks
}

func (n *NWL) window(offset uint32) (eng *nwlEngine, reg uint32, ok bool) {
	if offset >= nwlWindows*nwlEngineStride {
		return nil, 0, false
	}
	return n.engines[offset/nwlEngineStride], offset % nwlEngineStride, true
}

// Read32 implements regio.Space interface.
func (n *NWL) Read32(offset uint32) uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()

	if eng, reg, ok := n.window(offset); ok {
		if eng == nil {
			return 0
		}
		return n.readEngine(eng, reg)
	}

	switch offset {
	case nwlRegDMACtrl:
		return n.dmaCtrl
	case nwlRegRxConfig:
		return n.rxConfig
	case nwlRegTxConfig:
		return n.txConfig
	case nwlRegPktSize:
		return n.pktSize
	}
	return n.other[offset]
}

func (n *NWL) readEngine(eng *nwlEngine, reg uint32) uint32 {
	switch reg {
	case nwlRegCap:
		capa := uint32(nwlCapPresent) | uint32(eng.addr)<<8 | uint32(n.cfg.AddrBits)<<24
		if eng.c2s {
			capa |= nwlCapC2S
		}
		if !n.cfg.Block {
			capa |= nwlCapTypePacket
		}
		return capa
	case nwlRegCtrl:
		if eng.ctrl&nwlCtrlEnable != 0 {
			return eng.ctrl | nwlCtrlRunning
		}
		return eng.ctrl
	case nwlRegEngNextBD:
		return eng.engNext
	case nwlRegSwNextBD:
		return eng.swNext
	case nwlRegEngLastBD:
		return eng.lastBD
	case nwlRegCompBytes:
		return eng.compBytes
	}
	return 0
}

// Write32 implements regio.Space interface.
func (n *NWL) Write32(offset uint32, value uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if eng, reg, ok := n.window(offset); ok {
		if eng == nil {
			return
		}
		switch reg {
		case nwlRegCtrl:
			eng.writeCtrl(value)
		case nwlRegEngNextBD:
			eng.engNext = value
		case nwlRegSwNextBD:
			eng.swNext = value
		}
		n.process()
		return
	}

	switch offset {
	case nwlRegDMACtrl:
		if value&nwlDMAUserIntAck != 0 {
			n.userAcks++
		}
		n.dmaCtrl = value &^ nwlDMAUserIntAck
	case nwlRegRxConfig:
		n.rxConfig = value
	case nwlRegTxConfig:
		n.txConfig = value
	case nwlRegPktSize:
		n.pktSize = value
	default:
		n.other[offset] = value
	}
	n.process()
}

// process runs every engine until none can make progress.
func (n *NWL) process() {
	for progress := true; progress; {
		progress = false
		for _, eng := range n.engines {
			if eng == nil || !eng.runnable() {
				continue
			}
			for eng.engNext != eng.swNext {
				var ok bool
				if eng.c2s {
					ok = n.fillC2S(eng)
				} else {
					ok = n.drainS2C(eng)
				}
				if !ok {
					break
				}
				progress = true
			}
		}
	}
}

func (n *NWL) descriptor(eng *nwlEngine) (*regio.Bytes, bool) {
	b, e := n.mem.BusSlice(uint64(eng.engNext), nwlDescriptor)
	if e != nil {
		logger.Warn("descriptor unreachable, engine halted",
			zap.Int("addr", eng.addr), zap.Bool("c2s", eng.c2s), zap.Error(e))
		eng.ctrl &^= nwlCtrlEnable
		return nil, false
	}
	return regio.NewBytes(b, regio.NativeOrder), true
}

func bufferBus(desc *regio.Bytes) uint64 {
	return uint64(desc.Read32(nwlBDBufLow)) | uint64(desc.Read32(nwlBDBufHigh))<<32
}

func (n *NWL) peer(eng *nwlEngine) *nwlEngine {
	return n.engines[nwlC2SWindow+eng.addr]
}

func (n *NWL) drainS2C(eng *nwlEngine) bool {
	desc, ok := n.descriptor(eng)
	if !ok {
		return false
	}
	ctrl := desc.Read32(nwlBDCtrl)
	size := ctrl & nwlBDSizeMask
	status := nwlBDComplete | size | ctrl&(nwlBDSOP|nwlBDEOP)

	switch {
	case eng.fault != 0:
		status, eng.fault = eng.fault|size, 0
	case n.txConfig&nwlTxLoopback != 0:
		data, e := n.mem.BusSlice(bufferBus(desc), int(size))
		if e != nil {
			status = nwlBDError | size
			break
		}
		peer := n.peer(eng)
		peer.pending = append(peer.pending, nwlFragment{
			data: append([]byte(nil), data...),
			eop:  ctrl&nwlBDEOP != 0,
		})
	}

	n.complete(eng, desc, ctrl, status)
	return true
}

func (n *NWL) fillC2S(eng *nwlEngine) bool {
	if eng.fault == 0 && len(eng.pending) == 0 && n.rxConfig&nwlRxPktGen == 0 {
		return false
	}
	desc, ok := n.descriptor(eng)
	if !ok {
		return false
	}
	ctrl := desc.Read32(nwlBDCtrl)
	if eng.fault != 0 {
		status := eng.fault
		eng.fault = 0
		n.complete(eng, desc, ctrl, status)
		return true
	}

	limit := int(ctrl & nwlBDSizeMask)
	pktSize := int(n.pktSize)
	if pktSize > 0 {
		limit = math.MinInt(limit, pktSize-eng.pktFill)
	}

	var chunk []byte
	eop := false
	if len(eng.pending) > 0 {
		frag := &eng.pending[0]
		take := math.MinInt(limit, len(frag.data))
		chunk, frag.data = frag.data[:take], frag.data[take:]
		if len(frag.data) == 0 {
			eop = frag.eop
			eng.pending = eng.pending[1:]
		}
	} else {
		chunk = make([]byte, limit)
		for i := range chunk {
			chunk[i] = n.genSeq
			n.genSeq++
		}
	}
	if pktSize > 0 && eng.pktFill+len(chunk) == pktSize {
		eop = true
	}

	status := nwlBDComplete | uint32(len(chunk))
	if eng.pktFill == 0 {
		status |= nwlBDSOP
	}
	if eop {
		status |= nwlBDEOP
		eng.pktFill = 0
	} else {
		eng.pktFill += len(chunk)
	}

	buf, e := n.mem.BusSlice(bufferBus(desc), len(chunk))
	if e != nil {
		status = nwlBDError
	} else {
		copy(buf, chunk)
	}
	n.complete(eng, desc, ctrl, status)
	return true
}

func (n *NWL) complete(eng *nwlEngine, desc *regio.Bytes, ctrl, status uint32) {
	desc.Write32(nwlBDStatus, status)
	eng.lastBD = eng.engNext
	eng.engNext = desc.Read32(nwlBDNext)
	eng.compBytes += status & nwlBDSizeMask
	eng.processed++

	raise := (ctrl&nwlBDIntComp != 0 && status&nwlBDComplete != 0) ||
		(ctrl&nwlBDIntError != 0 && status&nwlBDError != 0)
	if raise && eng.ctrl&nwlCtrlIntEnable != 0 && n.dmaCtrl&nwlDMAIntEnable != 0 {
		eng.ctrl |= nwlCtrlIntActive
	}
}
