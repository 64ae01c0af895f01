package dmalock_test

import (
	"testing"

	"github.com/usnistgov/pcidma/core/testenv"
	"github.com/usnistgov/pcidma/dmalock"
	"go4.org/must"
)

func testProvider(t testing.TB, p dmalock.Provider) {
	assert, require := makeAR(t)

	a, e := p.Acquire("dma0r/nwl")
	require.NoError(e)
	defer must.Close(a)
	b, e := p.Acquire("dma0r/nwl")
	require.NoError(e)
	defer must.Close(b)
	c, e := p.Acquire("dma0w/nwl")
	require.NoError(e)
	defer must.Close(c)

	assert.True(a.TryLock())
	assert.False(b.TryLock())
	assert.True(c.TryLock())
	a.Unlock()
	assert.True(b.TryLock())
	assert.False(a.TryLock())
	b.Unlock()
	c.Unlock()
}

func TestLocal(t *testing.T) {
	testProvider(t, dmalock.NewLocal())
}

func TestFlock(t *testing.T) {
	testProvider(t, dmalock.Flock{Dir: testenv.TempDir(t)})
}

func TestFlockCloseHeld(t *testing.T) {
	assert, require := makeAR(t)

	p := dmalock.Flock{Dir: testenv.TempDir(t)}
	a, e := p.Acquire("dma1w/nwl")
	require.NoError(e)
	require.True(a.TryLock())
	assert.ErrorIs(a.Close(), dmalock.ErrHeld)

	// lock stays usable until released
	b, e := p.Acquire("dma1w/nwl")
	require.NoError(e)
	defer must.Close(b)
	assert.False(b.TryLock())
	a.Unlock()
	assert.NoError(a.Close())
	assert.False(a.TryLock())
	assert.True(b.TryLock())
	b.Unlock()
}
