package ipedma

import (
	"fmt"

	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/kmem"
	"go.uber.org/zap"
)

// poller selects the wait strategy: sleeping is only worthwhile under a realtime scheduling policy.
// Stop requests of the caller's poller are kept.
func (b *Backend) poller(caller dma.Poller) dma.Poller {
	if b.cfg.Host.Scheduling().IsRealtime() {
		return dma.Poller{Interval: b.cfg.NoDataSleep.Duration(), Stop: caller.Stop}
	}
	b.rtWarn.Do(func() {
		logger.Info("streaming DMA data using non real-time thread (may cause extra CPU load)")
	})
	return dma.Poller{Busy: true, Stop: caller.Stop}
}

func (b *Backend) lastWritten() uint32 {
	return b.progress.Read32(b.cfg.lastWrittenOffset())
}

// emptyDetected reports whether hardware has flagged that no more data is pending.
func (b *Backend) emptyDetected() bool {
	return b.cfg.EmptyDetected && b.progress.Read32(b.cfg.lastWrittenOffset()-8) != 0
}

// nextWait computes the wait after a callback action.
// With EmptyDetected, ActionContinue polls once if hardware reports no pending data.
func (b *Backend) nextWait(act dma.Action, req dma.Request) (timeout dma.Timeout, failOnTimeout bool) {
	timeout, failOnTimeout = act.NextWait(req.Timeout, req.DefaultTimeout)
	if act&dma.ActionTimeoutMask == dma.ActionContinue && b.emptyDetected() {
		timeout = dma.Immediate
	}
	return timeout, failOnTimeout
}

// Stream implements dma.Streamer interface.
// Every page is delivered as a complete packet.
func (b *Backend) Stream(req dma.Request, cb dma.Callback) error {
	if e := b.check(req.Engine); e != nil {
		return e
	}
	if e := b.ensureStarted(); e != nil {
		return e
	}
	p := b.poller(req.Poller)

	act := dma.ActionReqPacket
	for {
		if p.Stopped() {
			return fmt.Errorf("%w: %s last read %d", dma.ErrStopped, b.info.Name, b.lastRead)
		}
		timeout, failOnTimeout := b.nextWait(act, req)
		if !p.Until(dma.NewDeadline(timeout), func() bool {
			lw := b.lastWritten()
			// hardware drained: no need to keep waiting unless a packet is required
			return lw != 0 && lw != b.lastReadAddr || act != dma.ActionReqPacket && b.emptyDetected()
		}) && p.Stopped() {
			return fmt.Errorf("%w: %s last read %d", dma.ErrStopped, b.info.Name, b.lastRead)
		}
		if lw := b.lastWritten(); lw == 0 || lw == b.lastReadAddr {
			if failOnTimeout {
				return fmt.Errorf("%w: %s last read %d", dma.ErrTimeout, b.info.Name, b.lastRead)
			}
			return nil
		}

		cur := (b.lastRead + 1) % b.cfg.Pages
		if e := b.pages.Sync(kmem.SyncFromDevice, cur); e != nil {
			return e
		}
		var e error
		if act, e = cb(dma.FlagEOP, b.pages.Block(cur).User); e != nil {
			return e
		}

		// LAST_READ is numbered from 1
		b.regs.Write32(RegLastRead, uint32(cur+1))
		b.lastRead, b.lastReadAddr = cur, b.pageBus(cur)
		if logEntry := logger.Check(zap.DebugLevel, "buffer returned"); logEntry != nil {
			logEntry.Write(zap.Int("page", cur), zap.Uint32("last-written", b.lastWritten()), zap.Stringer("action", act))
		}

		if act == dma.ActionStop {
			return nil
		}
	}
}

func (b *Backend) findPage(bus uint32) int {
	for i := 0; i < b.cfg.Pages; i++ {
		if b.pageBus(i) == bus {
			return i
		}
	}
	return -1
}

// Status implements dma.Backend interface.
// Written buffers are those filled by hardware and not yet read.
func (b *Backend) Status(id dma.EngineID, buffers []dma.BufferStatus) (st dma.EngineStatus, e error) {
	if e = b.check(id); e != nil {
		return st, e
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st.Started = b.started
	if b.pages == nil {
		return st, nil
	}
	st.RingSize = b.cfg.Pages
	st.BufferSize = PageSize

	lw := b.lastWritten()
	tail := b.lastRead
	head := b.findPage(lw)
	if head < 0 {
		if lw != 0 {
			return st, fmt.Errorf("%w: last written address 0x%X is not a DMA page", dma.ErrInconsistent, lw)
		}
		head, tail = 0, 0
	}

	mark := func(i int) {
		st.WrittenBuffers++
		st.WrittenBytes += PageSize
		if i < len(buffers) {
			buffers[i] = dma.BufferStatus{Used: true, First: true, Last: true, Size: PageSize}
		}
	}
	for i := range buffers {
		buffers[i] = dma.BufferStatus{}
	}
	if head >= tail {
		for i := tail + 1; i <= head; i++ {
			mark(i)
		}
	} else {
		for i := 0; i <= head; i++ {
			mark(i)
		}
		for i := tail + 1; i < st.RingSize; i++ {
			mark(i)
		}
	}

	// tail points to the next page to read
	if tail != head {
		tail = (tail + 1) % st.RingSize
	}
	st.RingHead, st.RingTail = head, tail
	return st, nil
}
