// Package regio provides access to device registers and to memory shared with hardware.
//
// Device registers and DMA descriptors are both reached as 32-bit words at byte offsets.
// Byte order conversion and access atomicity are isolated in this package,
// so that DMA engines never handle raw addresses.
package regio

import (
	"encoding/binary"
	"unsafe"

	"github.com/usnistgov/pcidma/core/logging"
)

var logger = logging.New("regio")

// Space represents a 32-bit register space.
type Space interface {
	// Read32 reads a 32-bit register at a byte offset.
	Read32(offset uint32) uint32

	// Write32 writes a 32-bit register at a byte offset.
	Write32(offset uint32, value uint32)
}

// NativeOrder is the byte order of the host CPU.
var NativeOrder binary.ByteOrder = func() binary.ByteOrder {
	x := uint16(0x0102)
	if *(*byte)(unsafe.Pointer(&x)) == 0x02 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

type window struct {
	space Space
	base  uint32
}

func (w window) Read32(offset uint32) uint32 {
	return w.space.Read32(w.base + offset)
}

func (w window) Write32(offset uint32, value uint32) {
	w.space.Write32(w.base+offset, value)
}

// Sub returns a Space that shifts offsets by base.
// This is commonly used to address one engine within a register bank.
func Sub(space Space, base uint32) Space {
	if w, ok := space.(window); ok {
		return window{w.space, w.base + base}
	}
	return window{space, base}
}

// SetBits performs read-modify-write to set bits in a register.
func SetBits(space Space, offset uint32, bits uint32) {
	space.Write32(offset, space.Read32(offset)|bits)
}

// ClearBits performs read-modify-write to clear bits in a register.
func ClearBits(space Space, offset uint32, bits uint32) {
	space.Write32(offset, space.Read32(offset)&^bits)
}
