package pcidev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/peterbourgon/mergemap"
	"github.com/usnistgov/pcidma/core/jsonhelper"
	"github.com/usnistgov/pcidma/core/pciaddr"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/dma/ipedma"
	"github.com/usnistgov/pcidma/dma/nwldma"
	"github.com/usnistgov/pcidma/regio"
	"github.com/xeipuuv/gojsonschema"
)

// Backend kinds.
const (
	BackendNWL = "nwl"
	BackendIPE = "ipe"
)

// Register byte orders.
const (
	OrderLittle = "little"
	OrderBig    = "big"
	OrderNative = "native"
)

// Default configuration values.
const (
	DefaultPinnedCache        = 4096
	DefaultEmulatorPacketSize = 4096
)

// ErrConfig indicates an invalid device configuration.
var ErrConfig = errors.New("invalid device configuration")

// EmulatorConfig selects a software emulator in place of a PCI device.
type EmulatorConfig struct {
	// Pairs is the number of NWL engine pairs.
	Pairs int `json:"pairs,omitempty"`

	// Loopback connects each NWL to-device engine to the from-device engine of the same address.
	Loopback bool `json:"loopback,omitempty"`

	// Generator makes from-device engines receive an endless stream of data.
	Generator bool `json:"generator,omitempty"`

	// PacketSize is the size of generated and looped-back NWL packets, default is 4096.
	PacketSize int `json:"packetSize,omitempty"`
}

// Config contains device configuration.
type Config struct {
	// Device is the PCI address of a physical device.
	Device *pciaddr.PCIAddress `json:"device,omitempty"`

	// BAR is the base address register that contains DMA registers.
	BAR int `json:"bar,omitempty"`

	// ByteOrder is the register byte order: little, big, or native.
	ByteOrder string `json:"byteOrder,omitempty"`

	// Emulate replaces the PCI device with an emulator.
	Emulate *EmulatorConfig `json:"emulate,omitempty"`

	// Backend is the DMA engine kind: nwl or ipe.
	Backend string `json:"backend"`

	// LockDir is the directory of engine lock files.
	// If empty, locks are effective within this process only.
	LockDir string `json:"lockDir,omitempty"`

	// PinnedCache is the number of page translations cached by the pinned memory provider.
	PinnedCache int `json:"pinnedCache,omitempty"`

	DMA dma.Config    `json:"dma,omitempty"`
	NWL nwldma.Config `json:"nwl,omitempty"`
	IPE ipedma.Config `json:"ipe,omitempty"`
}

func (cfg *Config) applyDefaults() {
	if cfg.ByteOrder == "" {
		cfg.ByteOrder = OrderLittle
	}
	if cfg.PinnedCache <= 0 {
		cfg.PinnedCache = DefaultPinnedCache
	}
}

func (cfg Config) check() error {
	switch {
	case cfg.Backend != BackendNWL && cfg.Backend != BackendIPE:
		return fmt.Errorf("%w: unknown backend %q", ErrConfig, cfg.Backend)
	case (cfg.Device == nil) == (cfg.Emulate == nil):
		return fmt.Errorf("%w: exactly one of device and emulate is required", ErrConfig)
	case cfg.Emulate != nil && cfg.Emulate.Loopback && cfg.Backend == BackendIPE:
		return fmt.Errorf("%w: ipe emulator has no loopback", ErrConfig)
	}
	return nil
}

func (cfg Config) order() binary.ByteOrder {
	switch cfg.ByteOrder {
	case OrderBig:
		return binary.BigEndian
	case OrderNative:
		return regio.NativeOrder
	}
	return binary.LittleEndian
}

// SchemaError indicates a configuration document failed schema validation.
type SchemaError struct {
	*gojsonschema.Result
}

func (e SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("device configuration failed schema validation:")
	for _, desc := range e.Result.Errors() {
		fmt.Fprintf(&b, "\n- %s", desc)
	}
	return b.String()
}

// Unwrap returns ErrConfig.
func (SchemaError) Unwrap() error {
	return ErrConfig
}

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// ParseConfig validates a configuration document and decodes it into Config.
// Each override is merged into the document before validation, so that command line flags can
// amend a configuration file.
func ParseConfig(doc map[string]any, overrides ...map[string]any) (cfg Config, e error) {
	merged := mergemap.Merge(map[string]any{}, doc)
	for _, override := range overrides {
		merged = mergemap.Merge(merged, override)
	}

	result, e := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(merged))
	if e != nil {
		return cfg, fmt.Errorf("schema validator %w", e)
	}
	if !result.Valid() {
		return cfg, SchemaError{result}
	}

	if e = jsonhelper.Roundtrip(merged, &cfg, jsonhelper.DisallowUnknownFields); e != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfig, e)
	}
	return cfg, cfg.check()
}
