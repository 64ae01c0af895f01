package pcidev_test

import (
	"testing"

	"github.com/ghodss/yaml"
	"github.com/usnistgov/pcidma/core/pciaddr"
	"github.com/usnistgov/pcidma/pcidev"
)

func parseYAML(t testing.TB, doc string) map[string]any {
	m := map[string]any{}
	if e := yaml.Unmarshal([]byte(doc), &m); e != nil {
		t.Fatal(e)
	}
	return m
}

func TestParseConfig(t *testing.T) {
	assert, require := makeAR(t)

	cfg, e := pcidev.ParseConfig(parseYAML(t, `
device: "0000:04:00.0"
bar: 0
backend: nwl
lockDir: /run/pcidma
dma:
  pollInterval: 20
  defaultTimeout: 5ms
nwl:
  ringSize: 32
`), map[string]any{
		"nwl": map[string]any{"pageSize": 8192},
		"dma": map[string]any{"busyPoll": true},
	})
	require.NoError(e)
	require.NotNil(cfg.Device)
	assert.Equal(pciaddr.MustParse("0000:04:00.0"), *cfg.Device)
	assert.Equal(pcidev.BackendNWL, cfg.Backend)
	assert.Equal("/run/pcidma", cfg.LockDir)
	assert.EqualValues(20, cfg.DMA.PollInterval)
	assert.EqualValues(5000, cfg.DMA.DefaultTimeout)
	assert.True(cfg.DMA.BusyPoll)
	assert.Equal(32, cfg.NWL.RingSize)
	assert.Equal(8192, cfg.NWL.PageSize)
	assert.Nil(cfg.Emulate)

	cfg, e = pcidev.ParseConfig(parseYAML(t, `
backend: ipe
emulate:
  generator: true
ipe:
  pages: 64
  mode32: true
  emptyDetected: true
`))
	require.NoError(e)
	assert.Nil(cfg.Device)
	require.NotNil(cfg.Emulate)
	assert.True(cfg.Emulate.Generator)
	assert.Equal(64, cfg.IPE.Pages)
	assert.True(cfg.IPE.Mode32)
	assert.True(cfg.IPE.EmptyDetected)
}

func TestParseConfigInvalid(t *testing.T) {
	assert, _ := makeAR(t)

	for _, doc := range []string{
		`device: "0000:04:00.0"`,
		`{ backend: nwl }`,
		`{ backend: nwl, device: "0000:04:00.0", emulate: {} }`,
		`{ backend: xdma, device: "0000:04:00.0" }`,
		`{ backend: nwl, device: "04:00" }`,
		`{ backend: nwl, device: "0000:04:00.0", bar: 6 }`,
		`{ backend: nwl, device: "0000:04:00.0", unknown: 1 }`,
		`{ backend: nwl, emulate: { pairs: 0 } }`,
		`{ backend: ipe, emulate: {}, ipe: { pageSize: 4096 } }`,
		`{ backend: ipe, emulate: {}, dma: { defaultTimeout: -1 } }`,
	} {
		_, e := pcidev.ParseConfig(parseYAML(t, doc))
		assert.ErrorIs(e, pcidev.ErrConfig, doc)
		var schemaErr pcidev.SchemaError
		assert.ErrorAs(e, &schemaErr, doc)
	}

	_, e := pcidev.ParseConfig(parseYAML(t, `{ backend: ipe, emulate: { loopback: true } }`))
	assert.ErrorIs(e, pcidev.ErrConfig)
}
