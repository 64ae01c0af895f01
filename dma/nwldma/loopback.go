package nwldma

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/pkg/math"
	"github.com/usnistgov/pcidma/core/runningstat"
	"github.com/usnistgov/pcidma/dma"
	"go.uber.org/zap"
)

// ErrDataMismatch indicates loopback data differs from written data.
var ErrDataMismatch = errors.New("loopback data mismatch")

func (b *Backend) startLoopback(dir dma.Direction, packetSize int) error {
	b.stopLoopback()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs.Write32(RegPktSize, uint32(packetSize))
	switch dir {
	case dma.Bidirectional:
		b.regs.Write32(RegTxConfig, TxLoopback)
	case dma.FromDevice:
		b.regs.Write32(RegRxConfig, RxPktGen)
	default:
		return fmt.Errorf("%w: loopback direction %s", dma.ErrNotSupported, dir)
	}
	b.loopbackStarted = true
	return nil
}

func (b *Backend) stopLoopback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.regs.Write32(RegTxConfig, 0)
	b.regs.Write32(RegRxConfig, 0)
	b.loopbackStarted = false
}

// Benchmark implements dma.Benchmarker interface.
//
// Bidirectional benchmark writes through the to-device engine in loopback mode and verifies data
// read back from the from-device engine. From-device benchmark reads from the packet generator.
// To-device benchmark is not supported.
func (b *Backend) Benchmark(d *dma.Dispatcher, req dma.BenchmarkRequest) (float64, error) {
	if req.Direction == dma.ToDevice {
		return 0, fmt.Errorf("%w: to-device benchmark", dma.ErrNotSupported)
	}
	readID, e := d.Resolve(dma.FromDevice, req.Addr)
	if e != nil {
		return 0, e
	}
	writeID := dma.InvalidEngine
	if req.Direction.Has(dma.ToDevice) {
		if writeID, e = d.Resolve(dma.ToDevice, req.Addr); e != nil {
			return 0, e
		}
	}

	size := (req.Size + 3) / 4 * 4
	packetSize := math.MinInt(size, MaxPacketSize)
	blocks := (size + packetSize - 1) / packetSize
	timeout := dma.TimeoutFromDuration(d.Config().DefaultTimeout.Duration())

	b.stopLoopback()
	if _, e = d.Skip(readID, 0); e != nil {
		return 0, fmt.Errorf("device continuously writes unexpected data %w", e)
	}
	if e = b.startLoopback(req.Direction, packetSize); e != nil {
		return 0, e
	}
	defer func() {
		b.stopLoopback()
		if req.Direction == dma.FromDevice {
			d.Skip(readID, dma.FlagIgnoreErrors)
		}
	}()

	wbuf := make([]byte, size)
	rbuf := make([]byte, blocks*packetSize)
	var elapsed time.Duration
	var stat runningstat.RunningStat
	for iter := 0; iter < req.Iterations; iter++ {
		var iterTime time.Duration
		for i := range wbuf {
			wbuf[i] = byte(0x13 + iter)
		}

		if writeID != dma.InvalidEngine {
			t0 := time.Now()
			n, e := d.Write(writeID, req.Addr, wbuf)
			if e == nil && n != size {
				e = dma.ErrShortTransfer
			}
			if e != nil {
				return 0, fmt.Errorf("iteration %d write %d of %d octets %w", iter, n, size, e)
			}
			iterTime += time.Since(t0)
		}

		for i := range rbuf {
			rbuf[i] = 0
		}
		t0 := time.Now()
		nRead := 0
		for i := 0; i < blocks && e == nil; i++ {
			var n int
			n, e = d.Read(readID, req.Addr, rbuf[nRead:], 0, timeout)
			nRead += n
		}
		iterTime += time.Since(t0)
		if e == nil && nRead < size {
			e = dma.ErrShortTransfer
		}
		if e != nil {
			return 0, fmt.Errorf("iteration %d read %d of %d octets %w", iter, nRead, size, e)
		}

		if req.Direction == dma.Bidirectional && !bytes.Equal(rbuf[:size], wbuf) {
			offset := 0
			for rbuf[offset] == wbuf[offset] {
				offset++
			}
			return 0, fmt.Errorf("%w: iteration %d offset %d", ErrDataMismatch, iter, offset)
		}

		elapsed += iterTime
		stat.Push(dma.MiBps(size, iterTime))
	}

	result := dma.MiBps(size*req.Iterations, elapsed)
	snap := stat.Read()
	logger.Info("benchmark",
		zap.Int("addr", req.Addr),
		zap.Stringer("direction", req.Direction),
		zap.Int("size", size),
		zap.Int("iterations", req.Iterations),
		zap.Float64("mibps", result),
		zap.Float64("mean", snap.Mean),
		zap.Float64("stdev", snap.Stdev),
	)
	return result, nil
}
