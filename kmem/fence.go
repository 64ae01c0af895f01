package kmem

import (
	"sync/atomic"
	"unsafe"
)

var fenceWord int32

func fence() {
	atomic.AddInt32(&fenceWord, 1)
}

func uintptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}
