// Package kmem defines the kernel buffer provider consumed by DMA engines.
//
// A kernel buffer is a set of blocks that are simultaneously mapped into the process
// and addressable by hardware through their bus addresses.
// Buffers are named by a use tag, so that an independently started process can rediscover
// buffers left behind by a persistent DMA engine.
package kmem

import (
	"errors"
	"fmt"

	"github.com/usnistgov/pcidma/core/logging"
)

var logger = logging.New("kmem")

// Error conditions.
var (
	ErrInvalidSpec = errors.New("invalid kernel buffer specification")
	ErrBusy        = errors.New("kernel buffer is exclusively held by another user")
	ErrNoPhysical  = errors.New("physical address unavailable")
	ErrBusAddress  = errors.New("bus address is not mapped")
)

// Type indicates kind of kernel memory.
type Type uint32

// Type values.
const (
	TypeConsistent Type = 0x00000
	TypePage       Type = 0x10000
	TypeDMAS2CPage Type = 0x10001
	TypeDMAC2SPage Type = 0x10002
)

func (t Type) String() string {
	switch t {
	case TypeConsistent:
		return "consistent"
	case TypePage:
		return "page"
	case TypeDMAS2CPage:
		return "s2c-page"
	case TypeDMAC2SPage:
		return "c2s-page"
	}
	return fmt.Sprintf("Type(0x%X)", uint32(t))
}

// Subsystems that appear in use tags.
const (
	UseDMARing  = 1
	UseDMAPages = 2
)

// Use is a composite key (subsystem, index) that names a kernel buffer.
type Use uint32

// MakeUse constructs Use from subsystem and per-subsystem index.
func MakeUse(subsystem uint16, index uint16) Use {
	return Use(subsystem)<<16 | Use(index)
}

// Subsystem returns the subsystem part.
func (u Use) Subsystem() uint16 {
	return uint16(u >> 16)
}

// Index returns the per-subsystem index part.
func (u Use) Index() uint16 {
	return uint16(u)
}

func (u Use) String() string {
	return fmt.Sprintf("%d:%02x", u.Subsystem(), u.Index())
}

// Flags modifies allocation and release.
type Flags uint32

// Flags values.
const (
	// FlagReuse on allocation attaches to existing buffers with the same use tag.
	// On release, it only drops this reference; persistent buffers stay in the kernel.
	FlagReuse Flags = 1 << iota

	// FlagExclusive fails allocation if the buffers are referenced by another user.
	FlagExclusive

	// FlagPersistent on allocation keeps buffers after the last reference is dropped.
	// On release, it clears the persistent mark so that buffers are freed.
	FlagPersistent

	// FlagHardware on allocation records that hardware holds a reference to the buffers.
	// On release, it drops the hardware reference.
	FlagHardware

	// FlagForce on release frees buffers regardless of other marks.
	FlagForce
)

// ReuseState reports whether allocated buffers already existed.
type ReuseState uint32

// ReuseState values.
// The low octet is one of ReuseAllocated, ReusePartial, ReuseReused.
// ReusePersistent and ReuseHardware may be OR'ed with ReuseReused.
const (
	ReuseAllocated  ReuseState = 0
	ReusePartial    ReuseState = 1
	ReuseReused     ReuseState = 2
	ReusePersistent ReuseState = 0x100
	ReuseHardware   ReuseState = 0x200
)

// Kind returns the low octet.
func (r ReuseState) Kind() ReuseState {
	return r & 0xFF
}

// IsPersistent determines whether reused buffers were persistent.
func (r ReuseState) IsPersistent() bool {
	return r&ReusePersistent != 0
}

// IsHardware determines whether reused buffers were referenced by hardware.
func (r ReuseState) IsHardware() bool {
	return r&ReuseHardware != 0
}

func (r ReuseState) String() string {
	s := "allocated"
	switch r.Kind() {
	case ReusePartial:
		s = "partial"
	case ReuseReused:
		s = "reused"
	}
	if r.IsPersistent() {
		s += "+persistent"
	}
	if r.IsHardware() {
		s += "+hardware"
	}
	return s
}

// SyncDirection indicates the direction of cache synchronization.
type SyncDirection int

// SyncDirection values.
const (
	// SyncToDevice flushes CPU writes before hardware reads the block.
	SyncToDevice SyncDirection = 1
	// SyncFromDevice invalidates CPU caches after hardware wrote the block.
	SyncFromDevice SyncDirection = 2
)

// Spec describes an allocation request.
type Spec struct {
	Type      Type
	Count     int // number of blocks
	Size      int // octets per block; zero means one page
	Alignment int // alignment of bus address; zero means one page
	Use       Use
	Flags     Flags
}

// Block is one block of a kernel buffer.
type Block struct {
	// User is the process mapping of the block.
	User []byte
	// Bus is the bus address hardware uses to reach the block.
	Bus uint64
}

// Size returns block size in octets.
func (b Block) Size() int {
	return len(b.User)
}

// Handle is an owning reference to an allocated kernel buffer.
type Handle interface {
	// Count returns number of blocks.
	Count() int

	// Block returns i-th block.
	Block(i int) Block

	// Sync synchronizes CPU caches of i-th block.
	Sync(dir SyncDirection, i int) error

	// Reused reports whether the buffer existed before allocation.
	Reused() ReuseState

	// Free releases the reference.
	// Calling Free more than once has no effect.
	Free(flags Flags) error
}

// Provider allocates kernel buffers.
type Provider interface {
	Alloc(spec Spec) (Handle, error)
}

// BusMemory translates bus addresses to memory.
// Emulated hardware accesses host memory through this interface.
type BusMemory interface {
	BusSlice(bus uint64, n int) ([]byte, error)
}
