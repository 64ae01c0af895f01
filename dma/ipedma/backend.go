package ipedma

import (
	"fmt"
	"sync"
	"time"

	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/kmem"
	"github.com/usnistgov/pcidma/regio"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Backend is the IPE DMA backend.
type Backend struct {
	cfg  Config
	regs regio.Space
	mem  kmem.Provider
	info dma.EngineInfo

	// mu protects lifecycle: start, stop, status, and fields below.
	mu       sync.Mutex
	started  bool
	reused   bool
	preserve bool
	desc     kmem.Handle
	pages    kmem.Handle
	progress *regio.Bytes

	// Read position is accessed under the dispatcher read lock.
	lastRead     int
	lastReadAddr uint32

	rtWarn sync.Once
}

var (
	_ dma.Backend     = (*Backend)(nil)
	_ dma.Starter     = (*Backend)(nil)
	_ dma.Streamer    = (*Backend)(nil)
	_ dma.Benchmarker = (*Backend)(nil)
)

// New creates a Backend.
func New(regs regio.Space, mem kmem.Provider, cfg Config) *Backend {
	cfg.applyDefaults()
	b := &Backend{
		cfg:  cfg,
		regs: regs,
		mem:  mem,
	}
	b.info = dma.EngineInfo{
		Addr:      0,
		Direction: dma.FromDevice,
		Type:      dma.TypePacket,
		AddrBits:  64,
		Name:      "ipe0-c2s",
	}
	if cfg.Mode32 {
		b.info.AddrBits = 32
	}
	return b
}

// Engines implements dma.Backend interface.
func (b *Backend) Engines() []dma.EngineInfo {
	return []dma.EngineInfo{b.info}
}

func (b *Backend) check(id dma.EngineID) error {
	if id != 0 {
		return fmt.Errorf("%w: engine %d", dma.ErrNotAvailable, id)
	}
	return nil
}

// Start implements dma.Starter interface.
// With dma.FlagPersistent, the engine keeps running after Stop and Close.
func (b *Backend) Start(req dma.Request) error {
	if e := b.check(req.Engine); e != nil {
		return e
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.start(req.Flags)
}

// Stop implements dma.Starter interface.
// With dma.FlagPersistent, a persistent engine is forced down.
func (b *Backend) Stop(req dma.Request) error {
	if e := b.check(req.Engine); e != nil {
		return e
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop(req.Flags)
}

// Close implements dma.Backend interface.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stop(dma.FlagsDefault)
}

func (b *Backend) delay() {
	time.Sleep(b.cfg.ResetDelay.Duration())
}

func (b *Backend) pageBus(i int) uint32 {
	return uint32(b.pages.Block(i).Bus)
}

func (b *Backend) allocPair(descSpec, pagesSpec kmem.Spec) (desc, pages kmem.Handle, e error) {
	if desc, e = b.mem.Alloc(descSpec); e != nil {
		return nil, nil, fmt.Errorf("allocate descriptor %w", e)
	}
	if pages, e = b.mem.Alloc(pagesSpec); e != nil {
		desc.Free(kmem.FlagForce)
		return nil, nil, fmt.Errorf("allocate pages %w", e)
	}

	bad := desc.Block(0).Bus >= 1<<32
	for i := 0; i < pages.Count(); i++ {
		bad = bad || pages.Block(i).Bus >= 1<<32
	}
	if bad {
		return nil, nil, multierr.Combine(
			fmt.Errorf("%w: DMA buffers beyond 32-bit bus address", dma.ErrNotSupported),
			pages.Free(kmem.FlagForce), desc.Free(kmem.FlagForce))
	}
	return desc, pages, nil
}

func (b *Backend) start(flags dma.Flags) error {
	b.started = true
	if flags&dma.FlagPersistent != 0 {
		b.preserve = true
	}
	if b.pages != nil {
		return nil
	}

	kflags := kmem.FlagReuse | kmem.FlagExclusive | kmem.FlagHardware
	if b.preserve {
		kflags |= kmem.FlagPersistent
	}
	descSpec := kmem.Spec{
		Type:      kmem.TypeConsistent,
		Count:     1,
		Size:      DescriptorSize,
		Alignment: descAlignment,
		Use:       kmem.MakeUse(kmem.UseDMARing, 0),
		Flags:     kflags,
	}
	pagesSpec := kmem.Spec{
		Type:  kmem.TypeDMAC2SPage,
		Count: b.cfg.Pages,
		Size:  PageSize,
		Use:   kmem.MakeUse(kmem.UseDMAPages, 0),
		Flags: kflags,
	}

	desc, pages, e := b.allocPair(descSpec, pagesSpec)
	if e != nil {
		return e
	}

	reuseDesc, reusePages := desc.Reused(), pages.Reused()
	preserve := false
	switch {
	case reuseDesc != reusePages:
		logger.Warn("inconsistent DMA buffers (modes of descriptor and page buffers do not match), reinitializing",
			zap.Stringer("desc", reuseDesc), zap.Stringer("pages", reusePages))
	case reuseDesc.Kind() == kmem.ReusePartial:
		logger.Warn("inconsistent DMA buffers (only part of required buffers is available), reinitializing")
	case reuseDesc.Kind() == kmem.ReuseReused:
		switch {
		case !reuseDesc.IsPersistent():
			logger.Warn("lost DMA buffers found (non-persistent mode), reinitializing")
		case !reuseDesc.IsHardware():
			logger.Warn("lost DMA buffers found (missing hardware reference), reinitializing")
		default:
			if n := int(b.regs.Read32(RegPageCount)); n != b.cfg.Pages {
				logger.Warn("inconsistent DMA buffers (number of configured pages does not match), reinitializing",
					zap.Int("configured", n), zap.Int("requested", b.cfg.Pages))
			} else {
				preserve = true
			}
		}
	}

	if reuseDesc != reusePages || reuseDesc.Kind() == kmem.ReusePartial {
		if e = multierr.Combine(pages.Free(kmem.FlagForce), desc.Free(kmem.FlagForce)); e != nil {
			return e
		}
		if desc, pages, e = b.allocPair(descSpec, pagesSpec); e != nil {
			return e
		}
	}

	b.desc, b.pages = desc, pages
	b.progress = regio.NewBytes(desc.Block(0).User, regio.NativeOrder)

	if preserve {
		value := int(b.regs.Read32(RegLastRead))
		if value < 1 || value > b.cfg.Pages {
			logger.Warn("cannot attach to running engine, reinitializing",
				zap.Error(fmt.Errorf("%w: LAST_READ %d", dma.ErrInconsistent, value)))
			preserve = false
		} else {
			b.lastRead = value - 1
		}
	}

	b.reused = preserve
	if preserve {
		b.preserve = true
	} else if e = b.initEngine(); e != nil {
		b.free(kmem.FlagForce)
		return e
	}

	b.lastReadAddr = b.pageBus(b.lastRead)
	logger.Info("engine started",
		zap.Stringer("reuse", reuseDesc),
		zap.Bool("preserved", preserve),
		zap.Bool("persistent", b.preserve),
		zap.Int("last-read", b.lastRead),
	)
	return nil
}

func (b *Backend) resetEngine() {
	b.regs.Write32(RegControl, 0)
	b.delay()
	b.regs.Write32(RegReset, resetAssert)
	b.delay()
	b.regs.Write32(RegReset, 0)
	b.delay()
}

func (b *Backend) initEngine() error {
	b.resetEngine()
	if link := b.regs.Read32(RegReset); link != linkReadyGen3 && link != linkReadyGen2 {
		logger.Warn("PCIe link is not ready", zap.Uint32("code", link))
	}

	address64 := uint32(tlpAddress64)
	if b.cfg.Mode32 {
		address64 = 0
	}
	b.regs.Write32(RegTLPSize, address64|uint32(b.cfg.TLPSize>>2))
	b.regs.Write32(RegTLPCount, uint32(PageSize/(b.cfg.TLPSize*cores)))
	b.regs.Write32(RegUpdateThreshold, progressThresh)
	b.regs.Write32(RegPageCount, 0)
	b.regs.Write32(RegLastRead, uint32(b.cfg.Pages))
	b.regs.Write32(RegUpdateAddr, uint32(b.desc.Block(0).Bus))
	b.progress.Zero(0, DescriptorSize)

	for i := 0; i < b.cfg.Pages; i++ {
		bus := b.pageBus(i)
		if bus%PageSize != 0 {
			logger.Warn("page bus address is not page aligned", zap.Int("page", i), zap.Uint32("bus", bus))
		}
		b.regs.Write32(RegPageAddr, bus)
		if check := b.regs.Read32(RegPageAddr); check != bus {
			return fmt.Errorf("%w: page %d written 0x%X read 0x%X", dma.ErrHardware, i, bus, check)
		}
	}

	b.regs.Write32(RegControl, controlEnable)
	b.lastRead = b.cfg.Pages - 1
	return nil
}

func (b *Backend) stop(flags dma.Flags) error {
	if !b.started || b.pages == nil {
		return nil
	}
	if flags&dma.FlagPersistent != 0 {
		b.preserve = false
	}

	kflags := kmem.FlagReuse
	if !b.preserve {
		kflags = kmem.FlagHardware | kmem.FlagPersistent
		b.started = false
		b.resetEngine()
		b.regs.Write32(RegPageCount, 0)
		b.delay()
	}

	e := b.free(kflags)
	logger.Info("engine stopped", zap.Bool("persistent", b.preserve), zap.Error(e))
	return e
}

func (b *Backend) free(kflags kmem.Flags) (e error) {
	if b.desc != nil {
		e = multierr.Append(e, b.desc.Free(kflags))
	}
	if b.pages != nil {
		e = multierr.Append(e, b.pages.Free(kflags))
	}
	b.desc, b.pages, b.progress = nil, nil, nil
	b.reused = false
	return e
}

func (b *Backend) ensureStarted() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started && b.pages != nil {
		return nil
	}
	return b.start(dma.FlagsDefault)
}
