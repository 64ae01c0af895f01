package regio

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"sync/atomic"
	"unsafe"
)

// Bytes provides word access to a memory region, such as a mapped BAR or a DMA descriptor ring.
// Every access is an atomic 32-bit load or store, so that concurrent hardware updates are observed.
type Bytes struct {
	b    []byte
	swap bool
}

var _ Space = (*Bytes)(nil)

// NewBytes creates Bytes over memory b, whose words are stored in the given byte order.
// Panics if b is not 4-octet aligned.
func NewBytes(b []byte, order binary.ByteOrder) *Bytes {
	if len(b) > 0 && uintptr(unsafe.Pointer(&b[0]))%4 != 0 {
		panic("regio.NewBytes: memory is not 4-octet aligned")
	}
	return &Bytes{
		b:    b,
		swap: order != NativeOrder,
	}
}

// Len returns memory length in octets.
func (m *Bytes) Len() int {
	return len(m.b)
}

// Slice returns the underlying memory in [offset, offset+n).
func (m *Bytes) Slice(offset, n int) []byte {
	return m.b[offset : offset+n]
}

func (m *Bytes) word(offset uint32) *uint32 {
	if offset%4 != 0 || int(offset)+4 > len(m.b) {
		panic(fmt.Errorf("regio: offset 0x%X out of range or misaligned (length 0x%X)", offset, len(m.b)))
	}
	return (*uint32)(unsafe.Pointer(&m.b[offset]))
}

// Read32 implements Space interface.
func (m *Bytes) Read32(offset uint32) uint32 {
	v := atomic.LoadUint32(m.word(offset))
	if m.swap {
		v = bits.ReverseBytes32(v)
	}
	return v
}

// Write32 implements Space interface.
func (m *Bytes) Write32(offset uint32, value uint32) {
	if m.swap {
		value = bits.ReverseBytes32(value)
	}
	atomic.StoreUint32(m.word(offset), value)
}

// Zero sets every octet in [offset, offset+n) to zero.
func (m *Bytes) Zero(offset, n int) {
	for i := offset; i < offset+n; i += 4 {
		m.Write32(uint32(i), 0)
	}
}

// AlignedBytes allocates n octets of Go memory aligned to 8 octets.
// Emulated hardware memory is allocated this way so that it can be wrapped by NewBytes.
func AlignedBytes(n int) []byte {
	if n <= 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}
