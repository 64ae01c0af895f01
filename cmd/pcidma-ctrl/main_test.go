package main

import (
	"testing"

	"github.com/usnistgov/pcidma/core/testenv"
	"github.com/usnistgov/pcidma/dma"
)

func TestMain(m *testing.M) {
	testenv.Exit(m.Run())
}

func runApp(args ...string) error {
	configDoc = map[string]any{}
	cmdout = false
	return app.Run(append([]string{"pcidma-ctrl"}, args...))
}

func TestEmulated(t *testing.T) {
	assert, _ := testenv.MakeAR(t)

	assert.NoError(runApp("--emulate", "--backend=nwl", "list-engines"))
	assert.NoError(runApp("--emulate", "--backend=nwl", "status", "--buffers"))
	assert.NoError(runApp("--emulate", "--backend=nwl", "read", "--size=8192", "--multi-packet"))
	assert.NoError(runApp("--emulate", "--backend=nwl", "write", "--hex=0102030405"))
	assert.NoError(runApp("--emulate", "--backend=nwl", "enable-irq", "--kind=dma"))
	assert.NoError(runApp("--emulate", "--backend=ipe", "read", "--size=4096", "--timeout=20ms"))
	assert.NoError(runApp("--emulate", "--backend=ipe", "benchmark", "--size=8192", "--iterations=2"))
	assert.NoError(runApp("--config", "{ backend: ipe, emulate: { generator: true } }", "start", "--dir=r"))

	assert.ErrorIs(runApp("--emulate", "--backend=ipe", "write", "--hex=00"), dma.ErrNotFound)
	assert.ErrorIs(runApp("--emulate", "--backend=ipe", "enable-irq"), dma.ErrNotSupported)
	assert.ErrorIs(runApp("--emulate", "--backend=nwl", "enable-irq", "--kind=x"), dma.ErrInvalidArgument)
	assert.Error(runApp("--emulate", "read"))
	assert.Error(runApp("--emulate", "--backend=nwl", "write"))
}

func TestCmdout(t *testing.T) {
	assert, _ := testenv.MakeAR(t)

	assert.NoError(runApp("--cmdout", "--device=0000:04:00.0", "--backend=nwl", "read", "--size=100"))
	assert.Error(runApp("--cmdout", "--backend=nwl", "read"))
}
