package ipedma

import (
	"fmt"
	"time"

	"github.com/usnistgov/pcidma/core/runningstat"
	"github.com/usnistgov/pcidma/dma"
	"go.uber.org/zap"
)

// Benchmark implements dma.Benchmarker interface.
// Only from-device benchmark is supported; size is rounded up to whole pages.
func (b *Backend) Benchmark(d *dma.Dispatcher, req dma.BenchmarkRequest) (float64, error) {
	if req.Direction != dma.FromDevice {
		return 0, fmt.Errorf("%w: %s benchmark", dma.ErrNotSupported, req.Direction)
	}
	id, e := d.Resolve(dma.FromDevice, req.Addr)
	if e != nil {
		return 0, e
	}

	size := (req.Size + PageSize - 1) / PageSize * PageSize
	buf := make([]byte, size)
	timeout := dma.TimeoutFromDuration(d.Config().DefaultTimeout.Duration())

	var elapsed time.Duration
	var stat runningstat.RunningStat
	for iter := 0; iter < req.Iterations; iter++ {
		t0 := time.Now()
		n, e := d.Read(id, req.Addr, buf, dma.FlagMultiPacket|dma.FlagWait, timeout)
		iterTime := time.Since(t0)
		if e == nil && n != size {
			e = dma.ErrShortTransfer
		}
		if e != nil {
			return 0, fmt.Errorf("iteration %d read %d of %d octets %w", iter, n, size, e)
		}
		elapsed += iterTime
		stat.Push(dma.MiBps(size, iterTime))
	}

	result := dma.MiBps(size*req.Iterations, elapsed)
	snap := stat.Read()
	logger.Info("benchmark",
		zap.Int("size", size),
		zap.Int("iterations", req.Iterations),
		zap.Float64("mibps", result),
		zap.Float64("mean", snap.Mean),
		zap.Float64("stdev", snap.Stdev),
	)
	return result, nil
}
