package pcidev_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/usnistgov/pcidma/core/pciaddr"
	"github.com/usnistgov/pcidma/core/testenv"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/dma/dmaemu"
	"github.com/usnistgov/pcidma/pcidev"
)

func TestEmulatedNWL(t *testing.T) {
	assert, require := makeAR(t)

	lockDir := testenv.TempDir(t)
	dev, e := pcidev.Open(pcidev.Config{
		Backend: pcidev.BackendNWL,
		Emulate: &pcidev.EmulatorConfig{Pairs: 2, Loopback: true, PacketSize: 1024},
		LockDir: lockDir,
		DMA:     dma.Config{BusyPoll: true},
	})
	require.NoError(e)
	defer dev.Close()

	assert.IsType(&dmaemu.NWL{}, dev.Emulator())
	assert.Len(dev.Engines(), 4)
	assert.Equal(2, dev.Addresses())
	assert.Equal(lockDir, dev.Config().LockDir)

	wID, e := dev.Resolve(dma.ToDevice, 1)
	require.NoError(e)
	rID, e := dev.Resolve(dma.FromDevice, 1)
	require.NoError(e)

	data := testenv.MakeBytes(1024)
	n, e := dev.Write(wID, 1, data)
	require.NoError(e)
	assert.Equal(len(data), n)

	buf := make([]byte, 4096)
	n, e = dev.Read(rID, 1, buf, 0, 10000)
	require.NoError(e)
	assert.Equal(len(data), n)
	testenv.BytesEqual(assert, data, buf[:n])

	matches, e := filepath.Glob(filepath.Join(lockDir, "pcidma-*.lock"))
	require.NoError(e)
	assert.Len(matches, 2)

	assert.NoError(dev.Close())
	assert.NoError(dev.Close())
}

func TestEmulatedIPE(t *testing.T) {
	assert, require := makeAR(t)

	dev, e := pcidev.Open(pcidev.Config{
		Backend: pcidev.BackendIPE,
		Emulate: &pcidev.EmulatorConfig{Generator: true},
	})
	require.NoError(e)
	defer dev.Close()

	assert.IsType(&dmaemu.IPE{}, dev.Emulator())
	require.Len(dev.Engines(), 1)
	assert.Equal(dma.FromDevice, dev.Engines()[0].Direction)

	buf := make([]byte, 8192)
	n, e := dev.Read(0, 0, buf, dma.FlagMultiPacket, 10000)
	require.NoError(e)
	assert.Equal(len(buf), n)
	assert.Equal(byte(1), buf[1])

	mibps, e := dev.Benchmark(0, 4096, 2, dma.FromDevice)
	require.NoError(e)
	assert.Greater(mibps, 0.0)
}

func TestPhysical(t *testing.T) {
	assert, require := makeAR(t)

	root := testenv.TempDir(t)
	saved := pciaddr.SysfsRoot
	pciaddr.SysfsRoot = root
	defer func() { pciaddr.SysfsRoot = saved }()

	addr := pciaddr.MustParse("0000:04:00.0")
	require.NoError(os.MkdirAll(addr.SysfsPath(), 0o755))
	require.NoError(os.WriteFile(addr.ResourcePath(0), make([]byte, 65536), 0o644))

	_, e := pcidev.Open(pcidev.Config{Backend: pcidev.BackendNWL, Device: &addr})
	assert.ErrorIs(e, dma.ErrNotAvailable)

	_, e = pcidev.Open(pcidev.Config{Backend: pcidev.BackendNWL, Device: &addr, BAR: 2})
	assert.Error(e)

	dev, e := pcidev.Open(pcidev.Config{Backend: pcidev.BackendIPE, Device: &addr, ByteOrder: pcidev.OrderBig})
	require.NoError(e)
	assert.Nil(dev.Emulator())
	assert.Len(dev.Engines(), 1)
	assert.NoError(dev.Close())
}

func TestOpenInvalid(t *testing.T) {
	assert, _ := makeAR(t)

	_, e := pcidev.Open(pcidev.Config{Backend: pcidev.BackendNWL})
	assert.ErrorIs(e, pcidev.ErrConfig)
	_, e = pcidev.Open(pcidev.Config{Backend: "xdma", Emulate: &pcidev.EmulatorConfig{}})
	assert.ErrorIs(e, pcidev.ErrConfig)
}
