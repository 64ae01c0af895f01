package pciaddr_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/usnistgov/pcidma/core/pciaddr"
	"github.com/usnistgov/pcidma/core/testenv"
)

var (
	makeAR   = testenv.MakeAR
	fromJSON = testenv.FromJSON
	toJSON   = testenv.ToJSON
)

func TestPCIAddress(t *testing.T) {
	assert, _ := makeAR(t)

	a, e := pciaddr.Parse("0000:8F:00.0")
	assert.NoError(e)
	assert.Equal("0000:8f:00.0", a.String())

	a, e = pciaddr.Parse("01:00.0")
	assert.NoError(e)
	assert.Equal("0000:01:00.0", a.String())

	_, e = pciaddr.Parse("bad")
	assert.ErrorIs(e, pciaddr.ErrPCIAddress)
	_, e = pciaddr.Parse("0000:01:20.0")
	assert.ErrorIs(e, pciaddr.ErrPCIAddress)
	_, e = pciaddr.Parse("0000:01:00.8")
	assert.ErrorIs(e, pciaddr.ErrPCIAddress)

	a.Bus, a.Slot, a.Function = 0x5e, 0x01, 0x0
	assert.Equal(`"0000:5e:01.0"`, toJSON(a))

	var decoded pciaddr.PCIAddress
	fromJSON(`"0000:5e:01.0"`, &decoded)
	assert.Equal(a, decoded)
}

func TestSysfs(t *testing.T) {
	assert, require := makeAR(t)

	root := testenv.TempDir(t)
	saved := pciaddr.SysfsRoot
	pciaddr.SysfsRoot = root
	defer func() { pciaddr.SysfsRoot = saved }()

	a := pciaddr.MustParse("04:00.0")
	assert.False(a.Exists())
	require.NoError(os.MkdirAll(a.SysfsPath(), 0o755))
	assert.True(a.Exists())
	assert.Equal(filepath.Join(root, "0000:04:00.0", "resource0"), a.ResourcePath(0))
}
