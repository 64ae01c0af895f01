package nwldma

import (
	"testing"

	"github.com/usnistgov/pcidma/core/testenv"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/dma/dmaemu"
	"github.com/usnistgov/pcidma/kmem"
)

func TestWaitFreeSlot(t *testing.T) {
	assert, require := testenv.MakeAR(t)

	mem := kmem.NewEmulated()
	emu := dmaemu.NewNWL(mem, dmaemu.NWLConfig{})
	b, e := New(emu, mem, Config{RingSize: 4, PageSize: 100})
	require.NoError(e)
	defer b.Close()

	p := dma.Poller{Busy: true}
	eng := b.engines[0]
	require.NoError(eng.ensureStarted(p))
	assert.Equal(128, eng.pageSize)
	assert.Equal(3, eng.freeSlots())

	assert.ErrorIs(eng.waitFreeSlot(4, dma.Infinite, p), dma.ErrInvalidArgument)
	assert.ErrorIs(eng.waitFreeSlot(5, dma.Immediate, p), dma.ErrInvalidArgument)
	assert.NoError(eng.waitFreeSlot(3, dma.Immediate, p))

	require.NoError(emu.Pause(0, dma.ToDevice, true))
	eng.pushBuffer(1, true)
	eng.pushBuffer(1, true)
	assert.Equal(1, eng.freeSlots())
	assert.ErrorIs(eng.waitFreeSlot(2, dma.Immediate, p), dma.ErrTimeout)

	n, e := eng.reclaim()
	assert.NoError(e)
	assert.Equal(0, n)

	require.NoError(emu.Pause(0, dma.ToDevice, false))
	n, e = eng.reclaim()
	assert.NoError(e)
	assert.Equal(2, n)
	assert.Equal(3, eng.freeSlots())
	assert.Equal(int32(2), eng.tail.Load())
}

func TestConfigDefaults(t *testing.T) {
	assert, _ := testenv.MakeAR(t)

	var cfg Config
	cfg.applyDefaults()
	assert.Equal(DefaultRingSize, cfg.RingSize)
	assert.Equal(DefaultPageSize, cfg.PageSize)
	assert.Equal(DefaultRegisterTimeout, cfg.RegisterTimeout)

	cfg = Config{RingSize: 1, PageSize: 3000}
	cfg.applyDefaults()
	assert.Equal(MinRingSize, cfg.RingSize)
	assert.Equal(4096, cfg.PageSize)

	cfg = Config{RingSize: 100000, PageSize: 1 << 24}
	cfg.applyDefaults()
	assert.Equal(MaxRingSize, cfg.RingSize)
	assert.Equal(MaxPageSize, cfg.PageSize)
}
