package kmem

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	hugePageSize   = 1 << 21
	pagemapPresent = 1 << 63
	pagemapPFNMask = 1<<55 - 1
)

// Pinned is a Provider that allocates locked anonymous memory and resolves its physical
// addresses through /proc/self/pagemap.
// It requires CAP_SYS_ADMIN and an IOMMU-less setup where bus address equals physical address.
// Buffers cannot outlive the process, so allocations always report ReuseAllocated.
type Pinned struct {
	mu      sync.Mutex
	pagemap *os.File
	pfn     *lru.Cache // virtual page number => PFN
}

var _ Provider = (*Pinned)(nil)

// NewPinned creates a Pinned provider.
// cacheSize is the number of page translations kept in memory.
func NewPinned(cacheSize int) (p *Pinned, e error) {
	p = &Pinned{}
	if p.pfn, e = lru.New(cacheSize); e != nil {
		return nil, e
	}
	if p.pagemap, e = os.Open("/proc/self/pagemap"); e != nil {
		return nil, fmt.Errorf("open pagemap %w", e)
	}
	return p, nil
}

// Close releases the pagemap file.
func (p *Pinned) Close() error {
	return p.pagemap.Close()
}

// Alloc implements Provider interface.
func (p *Pinned) Alloc(spec Spec) (Handle, error) {
	spec, e := spec.normalize()
	if e != nil {
		return nil, e
	}
	if spec.Flags&FlagPersistent != 0 {
		logger.Warn("persistent buffers are not supported, buffers are released with the process",
			zap.Stringer("use", spec.Use))
	}

	h := &pinnedHandle{p: p}
	for i := 0; i < spec.Count; i++ {
		mem, bus, e := p.allocBlock(spec)
		if e != nil {
			h.Free(FlagForce)
			return nil, e
		}
		h.blocks = append(h.blocks, Block{User: mem, Bus: bus})
	}
	return h, nil
}

func (p *Pinned) allocBlock(spec Spec) (mem []byte, bus uint64, e error) {
	size := int(alignUp(uint64(spec.Size), PageSize))
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS | unix.MAP_POPULATE | unix.MAP_LOCKED
	if size > PageSize || spec.Alignment > PageSize {
		size = int(alignUp(uint64(size), hugePageSize))
		flags |= unix.MAP_HUGETLB
	}
	if mem, e = unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, flags); e != nil {
		return nil, 0, fmt.Errorf("mmap(%d) %w", size, e)
	}
	if e = unix.Mlock(mem); e != nil {
		unix.Munmap(mem)
		return nil, 0, fmt.Errorf("mlock %w", e)
	}
	// touch the page so that it is backed before translation
	mem[0] = 0

	if bus, e = p.translate(mem); e != nil {
		unix.Munmap(mem)
		return nil, 0, e
	}
	if bus%uint64(spec.Alignment) != 0 {
		unix.Munmap(mem)
		return nil, 0, fmt.Errorf("%w: 0x%X is not %d-aligned", ErrNoPhysical, bus, spec.Alignment)
	}
	return mem[:spec.Size], bus, nil
}

func (p *Pinned) translate(mem []byte) (uint64, error) {
	vaddr := uint64(uintptrOf(mem))
	vpn := vaddr / PageSize

	p.mu.Lock()
	defer p.mu.Unlock()
	if pfn, ok := p.pfn.Get(vpn); ok {
		return pfn.(uint64)*PageSize + vaddr%PageSize, nil
	}

	var entry [8]byte
	if _, e := p.pagemap.ReadAt(entry[:], int64(vpn*8)); e != nil {
		return 0, fmt.Errorf("read pagemap %w", e)
	}
	v := binary.LittleEndian.Uint64(entry[:])
	pfn := v & pagemapPFNMask
	if v&pagemapPresent == 0 || pfn == 0 {
		return 0, ErrNoPhysical
	}
	p.pfn.Add(vpn, pfn)
	return pfn*PageSize + vaddr%PageSize, nil
}

func (p *Pinned) forget(mem []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pfn.Remove(uint64(uintptrOf(mem)) / PageSize)
}

type pinnedHandle struct {
	p      *Pinned
	blocks []Block
	freed  bool
}

func (h *pinnedHandle) Count() int {
	return len(h.blocks)
}

func (h *pinnedHandle) Block(i int) Block {
	return h.blocks[i]
}

func (h *pinnedHandle) Sync(dir SyncDirection, i int) error {
	if i < 0 || i >= len(h.blocks) {
		return fmt.Errorf("%w: block %d", ErrInvalidSpec, i)
	}
	// x86 DMA is cache coherent; a full fence orders CPU accesses against the device.
	fence()
	return nil
}

func (h *pinnedHandle) Reused() ReuseState {
	return ReuseAllocated
}

func (h *pinnedHandle) Free(flags Flags) (e error) {
	if h.freed {
		return nil
	}
	h.freed = true
	for _, b := range h.blocks {
		h.p.forget(b.User)
		e = multierr.Append(e, unix.Munmap(b.User[:cap(b.User)]))
	}
	h.blocks = nil
	return e
}
