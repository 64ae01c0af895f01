package dmaemu_test

import (
	"testing"

	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/dma/dmaemu"
	"github.com/usnistgov/pcidma/kmem"
)

func TestNWLCapability(t *testing.T) {
	assert, _ := makeAR(t)

	emu := dmaemu.NewNWL(kmem.NewEmulated(), dmaemu.NWLConfig{Pairs: 2, AddrBits: 64})
	assert.Equal(uint32(0x0100), dmaemu.NWLEngineBase(1, dma.ToDevice))
	assert.Equal(uint32(0x2100), dmaemu.NWLEngineBase(1, dma.FromDevice))

	assert.Equal(uint32(0x40000111), emu.Read32(dmaemu.NWLEngineBase(1, dma.ToDevice)))
	assert.Equal(uint32(0x40000013), emu.Read32(dmaemu.NWLEngineBase(0, dma.FromDevice)))
	assert.Equal(uint32(0), emu.Read32(dmaemu.NWLEngineBase(2, dma.ToDevice)))

	block := dmaemu.NewNWL(kmem.NewEmulated(), dmaemu.NWLConfig{Block: true})
	assert.Equal(uint32(0x20000001), block.Read32(0))

	assert.ErrorIs(emu.Pause(2, dma.ToDevice, true), dmaemu.ErrNoEngine)
	assert.ErrorIs(emu.InjectStatus(0, dma.Bidirectional, dmaemu.NWLStatusError), dmaemu.ErrNoEngine)
	assert.NoError(emu.Pause(1, dma.FromDevice, true))
}

func TestNWLControl(t *testing.T) {
	assert, _ := makeAR(t)

	emu := dmaemu.NewNWL(kmem.NewEmulated(), dmaemu.NWLConfig{})
	ctrl := dmaemu.NWLEngineBase(0, dma.ToDevice) + 0x04

	emu.Write32(ctrl, 0x0101)
	assert.Equal(uint32(0x0501), emu.Read32(ctrl))

	emu.Write32(ctrl, 0x0103)
	assert.Equal(uint32(0x0501), emu.Read32(ctrl))

	emu.Write32(ctrl, 0x8000)
	assert.Equal(uint32(0), emu.Read32(ctrl))

	emu.Write32(0x4000, 0x21)
	assert.Equal(uint32(0x01), emu.Read32(0x4000))
	assert.Equal(1, emu.UserAcks())

	emu.Write32(0x9000, 0xCAFE)
	assert.Equal(uint32(0xCAFE), emu.Read32(0x9000))
}
