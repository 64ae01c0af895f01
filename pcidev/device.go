package pcidev

import (
	"io"

	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/dma/dmaemu"
	"github.com/usnistgov/pcidma/dma/ipedma"
	"github.com/usnistgov/pcidma/dma/nwldma"
	"github.com/usnistgov/pcidma/dmalock"
	"github.com/usnistgov/pcidma/kmem"
	"github.com/usnistgov/pcidma/regio"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Device is an opened DMA device.
type Device struct {
	*dma.Dispatcher
	cfg     Config
	emu     regio.Space
	closers []io.Closer
}

// Open opens a device.
func Open(cfg Config) (dev *Device, e error) {
	cfg.applyDefaults()
	if e = cfg.check(); e != nil {
		return nil, e
	}

	dev = &Device{cfg: cfg}
	defer func() {
		if e != nil {
			dev.closeResources()
			dev = nil
		}
	}()

	var regs regio.Space
	var mem kmem.Provider
	if cfg.Emulate != nil {
		emem := kmem.NewEmulated()
		regs, mem = dev.openEmulator(emem), emem
	} else {
		bar, e := regio.MapBAR(*cfg.Device, cfg.BAR, cfg.order())
		if e != nil {
			return nil, e
		}
		dev.closers = append(dev.closers, bar)

		pinned, e := kmem.NewPinned(cfg.PinnedCache)
		if e != nil {
			return nil, e
		}
		dev.closers = append(dev.closers, pinned)
		regs, mem = bar, pinned
	}

	var locks dmalock.Provider = dmalock.NewLocal()
	if cfg.LockDir != "" {
		locks = dmalock.Flock{Dir: cfg.LockDir}
	}

	var backend dma.Backend
	switch cfg.Backend {
	case BackendNWL:
		if backend, e = nwldma.New(regs, mem, cfg.NWL); e != nil {
			return nil, e
		}
	case BackendIPE:
		backend = ipedma.New(regs, mem, cfg.IPE)
	}
	dev.Dispatcher = dma.New(backend, locks, cfg.DMA)

	logger.Info("device opened",
		zap.String("backend", cfg.Backend),
		zap.Bool("emulated", cfg.Emulate != nil),
		zap.Int("engines", len(dev.Engines())),
	)
	return dev, nil
}

func (dev *Device) openEmulator(mem *kmem.Emulated) regio.Space {
	ecfg := *dev.cfg.Emulate
	switch dev.cfg.Backend {
	case BackendIPE:
		emu := dmaemu.NewIPE(mem, dmaemu.IPEConfig{})
		emu.SetGenerator(ecfg.Generator)
		dev.emu = emu
	default:
		emu := dmaemu.NewNWL(mem, dmaemu.NWLConfig{Pairs: ecfg.Pairs})
		if ecfg.PacketSize <= 0 {
			ecfg.PacketSize = DefaultEmulatorPacketSize
		}
		emu.Write32(nwldma.RegPktSize, uint32(ecfg.PacketSize))
		if ecfg.Loopback {
			emu.Write32(nwldma.RegTxConfig, nwldma.TxLoopback)
		}
		if ecfg.Generator {
			emu.Write32(nwldma.RegRxConfig, nwldma.RxPktGen)
		}
		dev.emu = emu
	}
	return dev.emu
}

// Config returns device configuration.
// It shadows dma.Dispatcher.Config.
func (dev *Device) Config() Config {
	return dev.cfg
}

// Emulator returns the emulator, or nil for a physical device.
// It is either *dmaemu.NWL or *dmaemu.IPE.
func (dev *Device) Emulator() regio.Space {
	return dev.emu
}

func (dev *Device) closeResources() (e error) {
	for i := len(dev.closers) - 1; i >= 0; i-- {
		e = multierr.Append(e, dev.closers[i].Close())
	}
	dev.closers = nil
	return e
}

// Close stops non-persistent engines and releases the device.
func (dev *Device) Close() (e error) {
	if dev.Dispatcher != nil {
		e = dev.Dispatcher.Close()
		dev.Dispatcher = nil
	}
	return multierr.Append(e, dev.closeResources())
}
