package dma

import "time"

// Callback receives one buffer during Stream.
// flags may contain FlagEOP. data is valid only until the callback returns.
// Returning a non-nil error aborts the stream.
type Callback func(flags Flags, data []byte) (Action, error)

// Request carries the arguments of a backend operation.
type Request struct {
	Engine  EngineID
	Addr    int
	Size    int
	Flags   Flags
	Timeout Timeout

	// DefaultTimeout is used for ActionContinue.
	DefaultTimeout Timeout
	Poller         Poller
}

// Backend is a hardware DMA engine family.
type Backend interface {
	// Engines returns detected engines, indexed by EngineID.
	Engines() []EngineInfo

	// Status reports engine state.
	// If buffers is non-empty, it is filled with per-slot status, up to its length.
	Status(id EngineID, buffers []BufferStatus) (EngineStatus, error)

	// Close stops every engine, honoring persistence, and releases resources.
	Close() error
}

// Starter is a Backend whose engines are explicitly started and stopped.
type Starter interface {
	Start(req Request) error
	Stop(req Request) error
}

// Pusher is a Backend that sends data to the device.
type Pusher interface {
	// Push writes data to a to-device engine, returning number of octets written.
	// On timeout, it returns the octets written so far and an error wrapping ErrTimeout.
	Push(req Request, data []byte) (int, error)
}

// Streamer is a Backend that receives data from the device.
type Streamer interface {
	// Stream delivers completed buffers to cb until cb returns ActionStop or an error.
	// After each callback, the next wait is governed by Action.NextWait.
	// When a wait expires, Stream returns an error wrapping ErrTimeout if the action requested
	// failing on timeout, otherwise nil.
	Stream(req Request, cb Callback) error
}

// Benchmarker is a Backend that measures throughput.
type Benchmarker interface {
	// Benchmark returns throughput in MiB/s.
	Benchmark(d *Dispatcher, req BenchmarkRequest) (float64, error)
}

// IRQBackend is a Backend that supports interrupts.
type IRQBackend interface {
	EnableIRQ(kind IRQType, flags Flags) error
	DisableIRQ(flags Flags) error
	AckIRQ(kind IRQType, source IRQSource) error
}

// BenchmarkRequest carries Benchmark arguments.
type BenchmarkRequest struct {
	Addr       int
	Size       int
	Iterations int
	Direction  Direction
}

// MiBps computes throughput in MiB/s.
func MiBps(octets int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		elapsed = time.Microsecond
	}
	return float64(octets) / (1024 * 1024) / elapsed.Seconds()
}
