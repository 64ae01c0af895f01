package nwldma

import (
	"fmt"

	"github.com/usnistgov/pcidma/dma"
)

// freeSlots returns number of slots software may fill without reclaiming.
// One slot is always kept unused, so that a full ring is distinguishable from an empty ring.
func (eng *engine) freeSlots() int {
	head, tail := int(eng.head.Load()), int(eng.tail.Load())
	return (tail - head - 1 + eng.ringSize) % eng.ringSize
}

func (eng *engine) advance(i int) int {
	return (i + 1) % eng.ringSize
}

// reclaim advances tail over descriptors completed by hardware, until it reaches head.
// It fails without advancing past a descriptor that reports error or short packet.
func (eng *engine) reclaim() (n int, e error) {
	tail, head := int(eng.tail.Load()), int(eng.head.Load())
	defer func() { eng.tail.Store(int32(tail)) }()

	for tail != head {
		status := eng.readDesc(tail, bdStatus)
		switch {
		case status&BDError != 0:
			return n, fmt.Errorf("%w: %s slot %d", dma.ErrHardware, eng.info.Name, tail)
		case status&BDShort != 0:
			return n, fmt.Errorf("%w: %s slot %d", dma.ErrShortPacket, eng.info.Name, tail)
		case status&BDComplete == 0:
			return n, nil
		}
		tail = eng.advance(tail)
		n++
	}
	return n, nil
}

// waitFreeSlot waits until at least n slots are free.
// The deadline is re-armed whenever hardware makes progress.
func (eng *engine) waitFreeSlot(n int, timeout dma.Timeout, p dma.Poller) error {
	if n >= eng.ringSize {
		return fmt.Errorf("%w: %d free slots requested in ring of %d", dma.ErrInvalidArgument, n, eng.ringSize)
	}
	if eng.freeSlots() >= n {
		return nil
	}

	deadline := dma.NewDeadline(timeout)
	for {
		reclaimed, e := eng.reclaim()
		if e != nil {
			return e
		}
		if eng.freeSlots() >= n {
			return nil
		}
		if p.Stopped() {
			return fmt.Errorf("%w: %s", dma.ErrStopped, eng.info.Name)
		}
		if reclaimed > 0 {
			deadline.Reset(timeout)
		} else if deadline.Expired() {
			return fmt.Errorf("%w: %s has %d of %d free slots", dma.ErrTimeout, eng.info.Name, eng.freeSlots(), n)
		}
		p.Sleep()
	}
}

// pushBuffer hands the descriptor at head to hardware.
func (eng *engine) pushBuffer(size int, eop bool) {
	head := int(eng.head.Load())
	ctrl := uint32(size) | eng.ctrlBits()
	if !eng.writing {
		ctrl |= BDSOP
		eng.writing = true
	}
	if eop {
		ctrl |= BDEOP
		eng.writing = false
	}
	eng.writeDesc(head, bdCtrl, ctrl)
	eng.writeDesc(head, bdStatus, uint32(size))

	head = eng.advance(head)
	eng.head.Store(int32(head))
	eng.regs.Write32(regSwNextBD, eng.descBus(head))
}

// waitData waits until hardware completes the descriptor at tail.
// A requested stop is observed before the first descriptor check and between checks.
func (eng *engine) waitData(timeout dma.Timeout, p dma.Poller) (slot, size int, eop bool, e error) {
	slot = int(eng.tail.Load())
	if p.Stopped() {
		return slot, 0, false, fmt.Errorf("%w: %s slot %d", dma.ErrStopped, eng.info.Name, slot)
	}
	var status uint32
	if !p.Until(dma.NewDeadline(timeout), func() bool {
		status = eng.readDesc(slot, bdStatus)
		return status&(BDError|BDComplete) != 0
	}) {
		if p.Stopped() {
			return slot, 0, false, fmt.Errorf("%w: %s slot %d", dma.ErrStopped, eng.info.Name, slot)
		}
		return slot, 0, false, fmt.Errorf("%w: %s slot %d", dma.ErrTimeout, eng.info.Name, slot)
	}
	if status&BDError != 0 {
		return slot, 0, false, fmt.Errorf("%w: %s slot %d", dma.ErrHardware, eng.info.Name, slot)
	}
	return slot, int(status & BDSizeMask), status&BDEOP != 0, nil
}

// returnBuffer re-arms the descriptor at tail and lets hardware refill it.
func (eng *engine) returnBuffer() {
	tail := int(eng.tail.Load())
	eng.writeDesc(tail, bdCtrl, uint32(eng.pageSize)|eng.ctrlBits())
	eng.writeDesc(tail, bdStatus, 0)
	eng.regs.Write32(regSwNextBD, eng.descBus(tail))
	eng.tail.Store(int32(eng.advance(tail)))
}
