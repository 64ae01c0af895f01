package kmem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/usnistgov/pcidma/regio"
	"go.uber.org/zap"
)

// EmulatedBusBase is the lowest bus address assigned by Emulated.
// It is below 4 GiB so that bus addresses fit in 32-bit registers.
const EmulatedBusBase = 0x40000000

// Emulated is a Provider that keeps buffers in Go memory and assigns synthetic bus addresses.
// It models a kernel namespace: buffers marked persistent survive release and can be reused by
// a later allocation with the same use tag, such as from another Dispatcher sharing this Provider.
type Emulated struct {
	mu      sync.Mutex
	nextBus uint64
	blocks  []*emuBlock // sorted by bus address
	named   map[emuKey]*emuBlock
	syncs   map[SyncDirection]int
}

var (
	_ Provider  = (*Emulated)(nil)
	_ BusMemory = (*Emulated)(nil)
)

type emuKey struct {
	use   Use
	index int
}

type emuBlock struct {
	key        emuKey
	typ        Type
	mem        []byte
	bus        uint64
	refs       int
	persistent bool
	hardware   bool
}

// NewEmulated creates an Emulated provider.
func NewEmulated() *Emulated {
	return &Emulated{
		nextBus: EmulatedBusBase,
		named:   map[emuKey]*emuBlock{},
		syncs:   map[SyncDirection]int{},
	}
}

// Alloc implements Provider interface.
func (p *Emulated) Alloc(spec Spec) (Handle, error) {
	spec, e := spec.normalize()
	if e != nil {
		return nil, e
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h := &emuHandle{
		p:      p,
		blocks: make([]*emuBlock, spec.Count),
	}

	found, persistent, hardware := 0, true, true
	for i := range h.blocks {
		b := p.named[emuKey{spec.Use, i}]
		if b == nil {
			continue
		}
		if spec.Flags&FlagReuse == 0 || b.typ != spec.Type || len(b.mem) != spec.Size {
			if b.refs > 0 {
				return nil, fmt.Errorf("%w: use %s block %d", ErrBusy, spec.Use, i)
			}
			p.release(b)
			continue
		}
		if spec.Flags&FlagExclusive != 0 && b.refs > 0 {
			return nil, fmt.Errorf("%w: use %s block %d", ErrBusy, spec.Use, i)
		}
		h.blocks[i] = b
		found++
		persistent = persistent && b.persistent
		hardware = hardware && b.hardware
	}

	switch {
	case found == 0:
		h.reuse = ReuseAllocated
	case found < spec.Count:
		h.reuse = ReusePartial
	default:
		h.reuse = ReuseReused
		if persistent {
			h.reuse |= ReusePersistent
		}
		if hardware {
			h.reuse |= ReuseHardware
		}
	}

	for i, b := range h.blocks {
		if b == nil {
			b = p.allocBlock(emuKey{spec.Use, i}, spec)
			h.blocks[i] = b
		}
		b.refs++
		b.persistent = b.persistent || spec.Flags&FlagPersistent != 0
		b.hardware = b.hardware || spec.Flags&FlagHardware != 0
	}

	logger.Debug("emulated alloc",
		zap.Stringer("use", spec.Use),
		zap.Stringer("type", spec.Type),
		zap.Int("count", spec.Count),
		zap.Int("size", spec.Size),
		zap.Stringer("reuse", h.reuse),
	)
	return h, nil
}

func (p *Emulated) allocBlock(key emuKey, spec Spec) *emuBlock {
	bus := alignUp(p.nextBus, spec.Alignment)
	b := &emuBlock{
		key: key,
		typ: spec.Type,
		mem: regio.AlignedBytes(spec.Size),
		bus: bus,
	}
	p.nextBus = alignUp(bus+uint64(spec.Size), PageSize)
	p.blocks = append(p.blocks, b)
	p.named[key] = b
	return b
}

func (p *Emulated) release(b *emuBlock) {
	if p.named[b.key] == b {
		delete(p.named, b.key)
	}
	i := sort.Search(len(p.blocks), func(i int) bool { return p.blocks[i].bus >= b.bus })
	if i < len(p.blocks) && p.blocks[i] == b {
		p.blocks = append(p.blocks[:i], p.blocks[i+1:]...)
	}
}

// BusSlice implements BusMemory interface.
func (p *Emulated) BusSlice(bus uint64, n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := sort.Search(len(p.blocks), func(i int) bool { return p.blocks[i].bus+uint64(len(p.blocks[i].mem)) > bus })
	if i == len(p.blocks) || p.blocks[i].bus > bus {
		return nil, fmt.Errorf("%w: 0x%X", ErrBusAddress, bus)
	}
	b := p.blocks[i]
	offset := int(bus - b.bus)
	if offset+n > len(b.mem) {
		return nil, fmt.Errorf("%w: 0x%X+%d crosses block boundary", ErrBusAddress, bus, n)
	}
	return b.mem[offset : offset+n], nil
}

// Drop forgets one block of a named buffer, as if the kernel lost it.
// Later reuse of the buffer reports ReusePartial.
func (p *Emulated) Drop(use Use, index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b := p.named[emuKey{use, index}]; b != nil {
		p.release(b)
	}
}

// CountNamed returns number of blocks currently kept in the namespace.
func (p *Emulated) CountNamed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.named)
}

// SyncCount returns how many times blocks were synchronized in a direction.
func (p *Emulated) SyncCount(dir SyncDirection) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncs[dir]
}

type emuHandle struct {
	p      *Emulated
	blocks []*emuBlock
	reuse  ReuseState
	freed  bool
}

func (h *emuHandle) Count() int {
	return len(h.blocks)
}

func (h *emuHandle) Block(i int) Block {
	b := h.blocks[i]
	return Block{User: b.mem, Bus: b.bus}
}

func (h *emuHandle) Sync(dir SyncDirection, i int) error {
	if i < 0 || i >= len(h.blocks) {
		return fmt.Errorf("%w: block %d", ErrInvalidSpec, i)
	}
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	h.p.syncs[dir]++
	return nil
}

func (h *emuHandle) Reused() ReuseState {
	return h.reuse
}

func (h *emuHandle) Free(flags Flags) error {
	h.p.mu.Lock()
	defer h.p.mu.Unlock()
	if h.freed {
		return nil
	}
	h.freed = true

	for _, b := range h.blocks {
		b.refs--
		if flags&(FlagPersistent|FlagForce) != 0 {
			b.persistent = false
		}
		if flags&(FlagHardware|FlagForce) != 0 {
			b.hardware = false
		}
		if b.refs <= 0 && !b.persistent {
			h.p.release(b)
		}
	}
	return nil
}
