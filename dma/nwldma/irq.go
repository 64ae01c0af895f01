package nwldma

import (
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/regio"
	"go.uber.org/zap"
)

func (b *Backend) irqEnabledFor(kind dma.IRQType) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.irqEnabled&kind != 0
}

// EnableIRQ implements dma.IRQBackend interface.
// With dma.FlagPersistent, interrupts stay enabled after Close.
func (b *Backend) EnableIRQ(kind dma.IRQType, flags dma.Flags) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if flags&dma.FlagPersistent != 0 {
		b.irqPreserve = true
	}
	if b.irqEnabled == kind {
		return nil
	}

	val := b.regs.Read32(regDMACtrl) &^ (dmaIntEnable | dmaUserIntEnable)
	b.regs.Write32(regDMACtrl, val)
	if kind&dma.IRQDMA != 0 {
		val |= dmaIntEnable
	}
	if kind&dma.IRQEvent != 0 {
		val |= dmaUserIntEnable
	}
	b.regs.Write32(regDMACtrl, val)

	for _, eng := range b.engines {
		if kind&dma.IRQDMA != 0 && eng.started.Load() {
			regio.SetBits(eng.regs, regEngCtrl, ctrlIntEnable)
		} else {
			regio.ClearBits(eng.regs, regEngCtrl, ctrlIntEnable)
		}
	}
	b.irqEnabled = kind
	logger.Info("interrupts enabled", zap.Int("kind", int(kind)))
	return nil
}

// DisableIRQ implements dma.IRQBackend interface.
// With dma.FlagPersistent, persistent interrupts are disabled as well.
func (b *Backend) DisableIRQ(flags dma.Flags) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if flags&dma.FlagPersistent != 0 {
		b.irqPreserve = false
	}
	if b.irqPreserve {
		return nil
	}

	regio.ClearBits(b.regs, regDMACtrl, dmaIntEnable|dmaUserIntEnable)
	for _, eng := range b.engines {
		regio.ClearBits(eng.regs, regEngCtrl, ctrlIntEnable)
	}
	b.irqEnabled = dma.IRQNone
	return nil
}

// AckIRQ implements dma.IRQBackend interface.
// source is an EngineID or dma.IRQSourceAll.
func (b *Backend) AckIRQ(kind dma.IRQType, source dma.IRQSource) error {
	if kind&dma.IRQEvent != 0 {
		regio.SetBits(b.regs, regDMACtrl, dmaUserIntAck)
	}
	if kind&dma.IRQDMA == 0 {
		return nil
	}

	if source == dma.IRQSourceAll {
		for _, eng := range b.engines {
			eng.ackIRQ()
		}
		return nil
	}
	eng, e := b.engine(dma.EngineID(source))
	if e != nil {
		return e
	}
	eng.ackIRQ()
	return nil
}

func (eng *engine) ackIRQ() {
	if val := eng.regs.Read32(regEngCtrl); val&ctrlIntActive != 0 {
		eng.regs.Write32(regEngCtrl, val|ctrlIntActive)
	}
}
