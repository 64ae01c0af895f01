package nwldma

import (
	"fmt"
	"sync"

	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/kmem"
	"github.com/usnistgov/pcidma/regio"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Backend is the NWL DMA backend.
type Backend struct {
	cfg     Config
	regs    regio.Space
	mem     kmem.Provider
	engines []*engine

	mu              sync.Mutex
	irqEnabled      dma.IRQType
	irqPreserve     bool
	loopbackStarted bool
}

var (
	_ dma.Backend     = (*Backend)(nil)
	_ dma.Starter     = (*Backend)(nil)
	_ dma.Pusher      = (*Backend)(nil)
	_ dma.Streamer    = (*Backend)(nil)
	_ dma.Benchmarker = (*Backend)(nil)
	_ dma.IRQBackend  = (*Backend)(nil)
)

// New creates a Backend, detecting engines present in the register space.
func New(regs regio.Space, mem kmem.Provider, cfg Config) (b *Backend, e error) {
	cfg.applyDefaults()
	b = &Backend{
		cfg:  cfg,
		regs: regs,
		mem:  mem,
	}

	for i := 0; i < 2*MaxEngines; i++ {
		base := uint32(i * EngineStride)
		eng, ok := b.detect(regio.Sub(regs, base))
		if !ok {
			continue
		}
		logger.Debug("engine detected",
			zap.String("name", eng.info.Name),
			zap.Uint32("base", base),
			zap.Int("addr-bits", eng.info.AddrBits),
		)
		b.engines = append(b.engines, eng)
	}

	if len(b.engines) == 0 {
		return nil, fmt.Errorf("%w: no NWL engine present", dma.ErrNotAvailable)
	}
	return b, nil
}

func (b *Backend) detect(regs regio.Space) (eng *engine, ok bool) {
	capa := regs.Read32(regEngCap)
	if capa&capPresent == 0 {
		return nil, false
	}

	eng = &engine{b: b, regs: regs}
	eng.info.Addr = int(capa&capNumberMask) >> capNumberShift
	if eng.info.Addr > MaxEngines {
		logger.Warn("engine number out of range", zap.Int("addr", eng.info.Addr))
		return nil, false
	}
	eng.info.Direction = dma.ToDevice
	if capa&capC2S != 0 {
		eng.info.Direction = dma.FromDevice
	}
	switch capa & capTypeMask {
	case 0:
		eng.info.Type = dma.TypeBlock
	case capTypePacket:
		eng.info.Type = dma.TypePacket
	default:
		eng.info.Type = dma.TypeUnknown
	}
	eng.info.AddrBits = int(capa&capAddrMask) >> capAddrShift

	dir := "s2c"
	if eng.info.Direction == dma.FromDevice {
		dir = "c2s"
	}
	eng.info.Name = fmt.Sprintf("nwl%d-%s", eng.info.Addr, dir)
	return eng, true
}

// Engines implements dma.Backend interface.
func (b *Backend) Engines() (list []dma.EngineInfo) {
	for _, eng := range b.engines {
		list = append(list, eng.info)
	}
	return list
}

func (b *Backend) engine(id dma.EngineID) (*engine, error) {
	if id < 0 || int(id) >= len(b.engines) {
		return nil, fmt.Errorf("%w: engine %d", dma.ErrNotAvailable, id)
	}
	return b.engines[id], nil
}

// Start implements dma.Starter interface.
// With dma.FlagPersistent, the engine is left running when stopped.
func (b *Backend) Start(req dma.Request) error {
	eng, e := b.engine(req.Engine)
	if e != nil {
		return e
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if req.Flags&dma.FlagPersistent != 0 {
		eng.preserve = true
	}
	return eng.start(req.Poller)
}

// Stop implements dma.Starter interface.
// With dma.FlagPersistent, a persistent engine is forced down.
func (b *Backend) Stop(req dma.Request) error {
	eng, e := b.engine(req.Engine)
	if e != nil {
		return e
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if req.Flags&dma.FlagPersistent != 0 {
		eng.preserve = false
	}
	return eng.stop()
}

// Close implements dma.Backend interface.
// Persistent engines are left running.
func (b *Backend) Close() (e error) {
	b.mu.Lock()
	loopback := b.loopbackStarted
	b.mu.Unlock()
	if loopback {
		b.stopLoopback()
	}

	for _, eng := range b.engines {
		eng.mu.Lock()
		e = multierr.Append(e, eng.stop())
		eng.mu.Unlock()
	}

	return multierr.Append(e, b.DisableIRQ(0))
}
