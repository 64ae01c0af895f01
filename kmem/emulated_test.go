package kmem_test

import (
	"testing"

	"github.com/usnistgov/pcidma/kmem"
)

func TestEmulatedAlloc(t *testing.T) {
	assert, require := makeAR(t)
	p := kmem.NewEmulated()

	spec := kmem.Spec{
		Type:      kmem.TypeConsistent,
		Count:     4,
		Size:      256,
		Alignment: 64,
		Use:       kmem.MakeUse(kmem.UseDMARing, 0x80),
		Flags:     kmem.FlagReuse | kmem.FlagExclusive | kmem.FlagHardware,
	}
	h, e := p.Alloc(spec)
	require.NoError(e)
	assert.Equal(kmem.ReuseAllocated, h.Reused())
	assert.Equal(4, h.Count())

	for i := 0; i < h.Count(); i++ {
		b := h.Block(i)
		assert.Equal(256, b.Size())
		assert.Zero(b.Bus % 64)
		assert.Less(b.Bus, uint64(1<<32))

		b.User[10] = byte(i + 1)
		view, e := p.BusSlice(b.Bus+10, 1)
		require.NoError(e)
		assert.Equal(byte(i+1), view[0])
	}

	_, e = p.BusSlice(h.Block(0).Bus+250, 16)
	assert.ErrorIs(e, kmem.ErrBusAddress)
	_, e = p.BusSlice(0x1000, 4)
	assert.ErrorIs(e, kmem.ErrBusAddress)

	_, e = p.Alloc(spec)
	assert.ErrorIs(e, kmem.ErrBusy)

	require.NoError(h.Sync(kmem.SyncToDevice, 1))
	assert.Equal(1, p.SyncCount(kmem.SyncToDevice))
	assert.Error(h.Sync(kmem.SyncToDevice, 4))

	assert.NoError(h.Free(kmem.FlagHardware))
	assert.NoError(h.Free(kmem.FlagHardware))
	assert.Equal(0, p.CountNamed())

	_, e = p.Alloc(kmem.Spec{Count: 0})
	assert.ErrorIs(e, kmem.ErrInvalidSpec)
	_, e = p.Alloc(kmem.Spec{Count: 1, Alignment: 48})
	assert.ErrorIs(e, kmem.ErrInvalidSpec)
}

func TestEmulatedPersistent(t *testing.T) {
	assert, require := makeAR(t)
	p := kmem.NewEmulated()

	use := kmem.MakeUse(kmem.UseDMAPages, 0x01)
	spec := kmem.Spec{
		Type:  kmem.TypeDMAC2SPage,
		Count: 3,
		Use:   use,
		Flags: kmem.FlagReuse | kmem.FlagExclusive | kmem.FlagHardware | kmem.FlagPersistent,
	}
	h0, e := p.Alloc(spec)
	require.NoError(e)
	assert.Equal(kmem.ReuseAllocated, h0.Reused())
	bus0 := h0.Block(2).Bus
	h0.Block(2).User[0] = 0xA0
	require.NoError(h0.Free(kmem.FlagReuse))
	assert.Equal(3, p.CountNamed())

	h1, e := p.Alloc(spec)
	require.NoError(e)
	assert.Equal(kmem.ReuseReused, h1.Reused().Kind())
	assert.True(h1.Reused().IsPersistent())
	assert.True(h1.Reused().IsHardware())
	assert.Equal(bus0, h1.Block(2).Bus)
	assert.Equal(byte(0xA0), h1.Block(2).User[0])
	require.NoError(h1.Free(kmem.FlagReuse))

	p.Drop(use, 1)
	h2, e := p.Alloc(spec)
	require.NoError(e)
	assert.Equal(kmem.ReusePartial, h2.Reused())
	require.NoError(h2.Free(kmem.FlagHardware | kmem.FlagPersistent))
	assert.Equal(0, p.CountNamed())

	h3, e := p.Alloc(spec)
	require.NoError(e)
	assert.Equal(kmem.ReuseAllocated, h3.Reused())
	require.NoError(h3.Free(kmem.FlagForce))
	assert.Equal(0, p.CountNamed())
}

func TestEmulatedNonPersistentReuse(t *testing.T) {
	assert, require := makeAR(t)
	p := kmem.NewEmulated()

	spec := kmem.Spec{
		Count: 2,
		Use:   kmem.MakeUse(kmem.UseDMARing, 0),
		Flags: kmem.FlagReuse,
	}
	h0, e := p.Alloc(spec)
	require.NoError(e)
	h1, e := p.Alloc(spec)
	require.NoError(e)
	assert.Equal(kmem.ReuseReused, h1.Reused())
	assert.Equal(h0.Block(0).Bus, h1.Block(0).Bus)

	require.NoError(h0.Free(0))
	assert.Equal(2, p.CountNamed())
	require.NoError(h1.Free(0))
	assert.Equal(0, p.CountNamed())
}

func TestUse(t *testing.T) {
	assert, _ := makeAR(t)
	u := kmem.MakeUse(kmem.UseDMAPages, 0x83)
	assert.EqualValues(kmem.UseDMAPages, u.Subsystem())
	assert.EqualValues(0x83, u.Index())
	assert.Equal("2:83", u.String())
	assert.Equal("reused+persistent+hardware", (kmem.ReuseReused | kmem.ReusePersistent | kmem.ReuseHardware).String())
	assert.Equal("c2s-page", kmem.TypeDMAC2SPage.String())
}
