package nwldma_test

import (
	"testing"

	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/dma/dmaemu"
	"github.com/usnistgov/pcidma/dma/nwldma"
	"github.com/usnistgov/pcidma/dmalock"
	"github.com/usnistgov/pcidma/kmem"
)

var fixtureDMAConfig = dma.Config{
	BusyPoll:       true,
	DefaultTimeout: 10000,
	SkipTimeout:    500000,
}

// Fixture is an NWL backend over emulated hardware.
type Fixture struct {
	t       testing.TB
	Mem     *kmem.Emulated
	Emu     *dmaemu.NWL
	Locks   *dmalock.Local
	Backend *nwldma.Backend
	D       *dma.Dispatcher
	S2C     dma.EngineID
	C2S     dma.EngineID
}

func NewFixture(t testing.TB, cfg nwldma.Config) (f *Fixture) {
	mem := kmem.NewEmulated()
	f = &Fixture{
		t:     t,
		Mem:   mem,
		Emu:   dmaemu.NewNWL(mem, dmaemu.NWLConfig{}),
		Locks: dmalock.NewLocal(),
	}
	f.Attach(cfg)
	return f
}

// Attach creates a new backend and dispatcher over the same hardware and kernel memory.
func (f *Fixture) Attach(cfg nwldma.Config) {
	_, require := makeAR(f.t)

	b, e := nwldma.New(f.Emu, f.Mem, cfg)
	require.NoError(e)
	d := dma.New(b, f.Locks, fixtureDMAConfig)
	f.t.Cleanup(func() { d.Close() })
	f.Backend, f.D = b, d

	f.S2C, e = d.Resolve(dma.ToDevice, 0)
	require.NoError(e)
	f.C2S, e = d.Resolve(dma.FromDevice, 0)
	require.NoError(e)
}

// Loopback enables or disables loopback without packetization.
func (f *Fixture) Loopback(enable bool) {
	var v uint32
	if enable {
		v = nwldma.TxLoopback
	}
	f.Emu.Write32(nwldma.RegPktSize, 0)
	f.Emu.Write32(nwldma.RegTxConfig, v)
}

func (f *Fixture) Status(id dma.EngineID) (st dma.EngineStatus, buffers []dma.BufferStatus) {
	_, require := makeAR(f.t)
	buffers = make([]dma.BufferStatus, nwldma.MaxRingSize)
	st, e := f.D.Status(id, buffers)
	require.NoError(e)
	return st, buffers[:st.RingSize]
}
