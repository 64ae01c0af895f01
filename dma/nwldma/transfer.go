package nwldma

import (
	"errors"

	"github.com/pkg/math"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/kmem"
	"go.uber.org/zap"
)

// ensureStarted starts the engine with default flags if needed.
func (eng *engine) ensureStarted(p dma.Poller) error {
	if eng.started.Load() {
		return nil
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.start(p)
}

// Push implements dma.Pusher interface.
func (b *Backend) Push(req dma.Request, data []byte) (n int, e error) {
	eng, e := b.engine(req.Engine)
	if e != nil {
		return 0, e
	}
	if e = eng.ensureStarted(req.Poller); e != nil {
		return 0, e
	}

	for n < len(data) {
		chunk := math.MinInt(len(data)-n, eng.pageSize)
		if e = eng.waitFreeSlot(1, req.Timeout, req.Poller); e != nil {
			return n, e
		}

		head := int(eng.head.Load())
		copy(eng.pages.Block(head).User, data[n:n+chunk])
		if e = eng.pages.Sync(kmem.SyncToDevice, head); e != nil {
			return n, e
		}
		eng.pushBuffer(chunk, req.Flags&dma.FlagEOP != 0 && n+chunk == len(data))
		n += chunk
	}

	if req.Flags&dma.FlagWait != 0 {
		if e = eng.waitFreeSlot(eng.ringSize-1, req.Timeout, req.Poller); e != nil {
			return n, e
		}
	}
	return n, nil
}

// Stream implements dma.Streamer interface.
func (b *Backend) Stream(req dma.Request, cb dma.Callback) (e error) {
	eng, e := b.engine(req.Engine)
	if e != nil {
		return e
	}
	if e = eng.ensureStarted(req.Poller); e != nil {
		return e
	}

	timeout, failOnTimeout := req.Timeout, true
	for {
		slot, size, eop, e := eng.waitData(timeout, req.Poller)
		switch {
		case errors.Is(e, dma.ErrTimeout) && !failOnTimeout:
			return nil
		case e != nil:
			return e
		}

		if e = eng.pages.Sync(kmem.SyncFromDevice, slot); e != nil {
			return e
		}
		var flags dma.Flags
		if eop {
			flags |= dma.FlagEOP
		}
		act, e := cb(flags, eng.pages.Block(slot).User[:size])
		eng.returnBuffer()
		if e != nil {
			return e
		}
		if logEntry := logger.Check(zap.DebugLevel, "buffer delivered"); logEntry != nil {
			logEntry.Write(zap.String("engine", eng.info.Name), zap.Int("slot", slot), zap.Int("size", size),
				zap.Bool("eop", eop), zap.Stringer("action", act))
		}

		if act == dma.ActionStop {
			return nil
		}
		timeout, failOnTimeout = act.NextWait(req.Timeout, req.DefaultTimeout)
	}
}
