package nwldma

import (
	"fmt"
	"sync"

	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/kmem"
	"github.com/usnistgov/pcidma/regio"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type engine struct {
	b    *Backend
	info dma.EngineInfo
	regs regio.Space

	// mu protects lifecycle: start, stop, and fields below.
	mu       sync.Mutex
	ring     kmem.Handle
	pages    kmem.Handle
	desc     *regio.Bytes
	ringBus  uint32
	ringSize int
	pageSize int
	started  atomic.Bool
	reused   bool
	preserve bool

	// Ring indices are accessed only under the dispatcher lock of this engine's direction,
	// and read by Status.
	head    atomic.Int32
	tail    atomic.Int32
	writing bool
}

func (eng *engine) log() *zap.Logger {
	return logger.With(zap.String("engine", eng.info.Name))
}

func (eng *engine) subUse() uint16 {
	sub := uint16(eng.info.Addr)
	if eng.info.Direction == dma.ToDevice {
		sub |= 0x80
	}
	return sub
}

func (eng *engine) syncDirection() kmem.SyncDirection {
	if eng.info.Direction == dma.FromDevice {
		return kmem.SyncFromDevice
	}
	return kmem.SyncToDevice
}

// allocate obtains ring and page buffers, reusing buffers of a persistent engine if possible.
func (eng *engine) allocate() (e error) {
	if eng.pages != nil {
		return nil
	}

	cfg := eng.b.cfg
	flags := kmem.FlagReuse | kmem.FlagExclusive | kmem.FlagHardware
	if eng.preserve {
		flags |= kmem.FlagPersistent
	}
	pageType := kmem.TypeDMAS2CPage
	if eng.info.Direction == dma.FromDevice {
		pageType = kmem.TypeDMAC2SPage
	}
	ringSpec := kmem.Spec{
		Type:      kmem.TypeConsistent,
		Count:     1,
		Size:      cfg.RingSize * DescriptorSize,
		Alignment: bdAlignment,
		Use:       kmem.MakeUse(kmem.UseDMARing, eng.subUse()),
		Flags:     flags,
	}
	pagesSpec := kmem.Spec{
		Type:  pageType,
		Count: cfg.RingSize,
		Size:  cfg.PageSize,
		Use:   kmem.MakeUse(kmem.UseDMAPages, eng.subUse()),
		Flags: flags,
	}

	ring, pages, e := eng.allocPair(ringSpec, pagesSpec)
	if e != nil {
		return e
	}

	reuseRing, reusePages := ring.Reused(), pages.Reused()
	preserve := false
	switch {
	case reuseRing != reusePages:
		eng.log().Warn("inconsistent DMA buffers (modes of ring and page buffers do not match), reinitializing",
			zap.Stringer("ring", reuseRing), zap.Stringer("pages", reusePages))
	case reuseRing.Kind() == kmem.ReusePartial:
		eng.log().Warn("inconsistent DMA buffers (only part of required buffers is available), reinitializing")
	case reuseRing.Kind() == kmem.ReuseReused:
		switch {
		case !reuseRing.IsPersistent():
			eng.log().Warn("lost DMA buffers found (non-persistent mode), reinitializing")
		case !reuseRing.IsHardware():
			eng.log().Warn("lost DMA buffers found (missing hardware reference), reinitializing")
		case eng.regs.Read32(regEngCtrl)&ctrlRunning == 0:
			eng.log().Warn("lost DMA buffers found (engine is stopped), reinitializing")
		default:
			preserve = true
		}
	}

	if reuseRing != reusePages || reuseRing.Kind() == kmem.ReusePartial {
		// partial buffers must not be reused: release them and allocate afresh
		e = multierr.Combine(pages.Free(kmem.FlagForce), ring.Free(kmem.FlagForce))
		if e != nil {
			return e
		}
		if ring, pages, e = eng.allocPair(ringSpec, pagesSpec); e != nil {
			return e
		}
	}

	eng.ring, eng.pages = ring, pages
	eng.desc = regio.NewBytes(ring.Block(0).User, regio.NativeOrder)
	eng.ringSize = cfg.RingSize
	eng.pageSize = pages.Block(0).Size()
	eng.ringBus = uint32(ring.Block(0).Bus)

	if preserve {
		if e := eng.recomputePointers(); e != nil {
			eng.log().Warn("cannot attach to running engine, reinitializing", zap.Error(e))
			preserve = false
		}
	}

	eng.reused = preserve
	if !preserve {
		eng.initRing()
	}
	eng.log().Info("buffers allocated",
		zap.Stringer("ring-reuse", reuseRing),
		zap.Bool("preserved", preserve),
		zap.Int("ring-size", eng.ringSize),
		zap.Int("page-size", eng.pageSize),
	)
	return nil
}

func (eng *engine) allocPair(ringSpec, pagesSpec kmem.Spec) (ring, pages kmem.Handle, e error) {
	if ring, e = eng.b.mem.Alloc(ringSpec); e != nil {
		return nil, nil, fmt.Errorf("allocate ring %w", e)
	}
	if bus := ring.Block(0).Bus; bus+uint64(ringSpec.Size) > 1<<32 {
		ring.Free(kmem.FlagForce)
		return nil, nil, fmt.Errorf("%w: ring bus address 0x%X beyond 32 bits", dma.ErrNotSupported, bus)
	}
	if pages, e = eng.b.mem.Alloc(pagesSpec); e != nil {
		ring.Free(kmem.FlagForce)
		return nil, nil, fmt.Errorf("allocate pages %w", e)
	}
	for i := 0; i < pages.Count(); i++ {
		if e = pages.Sync(eng.syncDirection(), i); e != nil {
			return nil, nil, multierr.Combine(e, pages.Free(kmem.FlagForce), ring.Free(kmem.FlagForce))
		}
	}
	return ring, pages, nil
}

// ringIndex converts a descriptor bus address register value to a ring index.
func (eng *engine) ringIndex(reg uint32) (int, error) {
	val := eng.regs.Read32(reg)
	if val < eng.ringBus || (val-eng.ringBus)%DescriptorSize != 0 {
		return 0, fmt.Errorf("%w: register 0x%02X value 0x%X outside ring at 0x%X", dma.ErrInconsistent, reg, val, eng.ringBus)
	}
	index := int((val - eng.ringBus) / DescriptorSize)
	if index >= eng.ringSize {
		return 0, fmt.Errorf("%w: register 0x%02X index %d out of range", dma.ErrInconsistent, reg, index)
	}
	return index, nil
}

// recomputePointers derives head and tail of a running engine from its registers.
func (eng *engine) recomputePointers() error {
	head, e := eng.ringIndex(regSwNextBD)
	if e != nil {
		return e
	}
	eng.head.Store(int32(head))

	if eng.info.Direction == dma.FromDevice {
		eng.tail.Store(int32((head + 1) % eng.ringSize))
		return nil
	}

	tail, e := eng.ringIndex(regEngNextBD)
	if e != nil {
		return e
	}
	eng.tail.Store(int32(tail))
	return nil
}

func (eng *engine) ctrlBits() uint32 {
	if eng.b.cfg.GenerateIRQ {
		return BDIntError | BDIntComp
	}
	return 0
}

// initRing writes every descriptor and points hardware at the first one.
func (eng *engine) initRing() {
	eng.desc.Zero(0, eng.ringSize*DescriptorSize)
	for i := 0; i < eng.ringSize; i++ {
		off := uint32(i * DescriptorSize)
		block := eng.pages.Block(i)
		eng.desc.Write32(off+bdNext, eng.descBus((i+1)%eng.ringSize))
		eng.desc.Write32(off+bdBufLow, uint32(block.Bus))
		eng.desc.Write32(off+bdBufHigh, uint32(block.Bus>>32))
		eng.desc.Write32(off+bdCtrl, uint32(block.Size())|eng.ctrlBits())
	}
	eng.regs.Write32(regEngNextBD, eng.ringBus)
	eng.regs.Write32(regSwNextBD, eng.ringBus)
	eng.head.Store(0)
	eng.tail.Store(0)
}

func (eng *engine) descBus(i int) uint32 {
	return eng.ringBus + uint32(i*DescriptorSize)
}

// waitCtrl polls engine control register until bits are clear.
func (eng *engine) waitCtrl(p dma.Poller, bits uint32) error {
	deadline := dma.NewDeadline(dma.TimeoutFromDuration(eng.b.cfg.RegisterTimeout.Duration()))
	if !p.Until(deadline, func() bool { return eng.regs.Read32(regEngCtrl)&bits == 0 }) {
		return fmt.Errorf("%w: engine %s reset", dma.ErrTimeout, eng.info.Name)
	}
	return nil
}

func (eng *engine) reset(p dma.Poller) error {
	regio.ClearBits(eng.regs, regEngCtrl, ctrlIntEnable)

	eng.regs.Write32(regEngCtrl, ctrlUserReset)
	if e := eng.waitCtrl(p, ctrlStateMask|ctrlUserReset); e != nil {
		return e
	}
	eng.regs.Write32(regEngCtrl, ctrlReset)
	if e := eng.waitCtrl(p, ctrlReset); e != nil {
		return e
	}

	if val := eng.regs.Read32(regEngCtrl); val&ctrlIntActive != 0 {
		eng.regs.Write32(regEngCtrl, val|ctrlAllInt)
	}
	return nil
}

// start brings up the engine; no effect if already started.
func (eng *engine) start(p dma.Poller) error {
	if eng.started.Load() {
		return nil
	}
	if e := eng.allocate(); e != nil {
		return e
	}

	if eng.reused {
		eng.preserve = true
		eng.started.Store(true)
		eng.log().Info("attached to running engine",
			zap.Int32("head", eng.head.Load()), zap.Int32("tail", eng.tail.Load()))
		return nil
	}

	if e := eng.reset(p); e != nil {
		eng.free()
		return e
	}

	eng.regs.Write32(regEngNextBD, eng.ringBus)
	eng.regs.Write32(regSwNextBD, eng.ringBus)
	regio.SetBits(eng.regs, regEngCtrl, ctrlEnable)
	if eng.b.irqEnabledFor(dma.IRQDMA) {
		regio.SetBits(eng.regs, regEngCtrl, ctrlIntEnable)
	}

	eng.writing = false
	if eng.info.Direction == dma.FromDevice {
		eng.regs.Write32(regSwNextBD, eng.descBus(eng.ringSize-1))
		eng.head.Store(int32(eng.ringSize - 1))
	} else {
		eng.head.Store(0)
	}
	eng.tail.Store(0)
	eng.started.Store(true)
	eng.log().Info("engine started", zap.Bool("persistent", eng.preserve))
	return nil
}

// stop brings down the engine, or detaches from it when preserving; no effect if already stopped.
func (eng *engine) stop() (e error) {
	if !eng.started.Load() && eng.ring == nil {
		return nil
	}
	eng.started.Store(false)

	regio.ClearBits(eng.regs, regEngCtrl, ctrlIntEnable)
	if !eng.preserve {
		eng.regs.Write32(regEngCtrl, ctrlUserReset|ctrlReset)
		if eng.ring != nil {
			eng.regs.Write32(regEngNextBD, eng.ringBus)
			eng.regs.Write32(regSwNextBD, eng.ringBus)
		}
	}
	if val := eng.regs.Read32(regEngCtrl); val&ctrlIntActive != 0 {
		eng.regs.Write32(regEngCtrl, val|ctrlAllInt)
	}

	e = eng.free()
	eng.log().Info("engine stopped", zap.Bool("persistent", eng.preserve), zap.Error(e))
	return e
}

func (eng *engine) free() (e error) {
	flags := kmem.FlagHardware | kmem.FlagPersistent
	if eng.preserve {
		flags = kmem.FlagReuse
	}
	if eng.pages != nil {
		e = multierr.Append(e, eng.pages.Free(flags))
	}
	if eng.ring != nil {
		e = multierr.Append(e, eng.ring.Free(flags))
	}
	eng.ring, eng.pages, eng.desc = nil, nil, nil
	eng.reused = false
	return e
}

// descriptor word helpers

func (eng *engine) readDesc(slot int, field uint32) uint32 {
	return eng.desc.Read32(uint32(slot*DescriptorSize) + field)
}

func (eng *engine) writeDesc(slot int, field uint32, value uint32) {
	eng.desc.Write32(uint32(slot*DescriptorSize)+field, value)
}
