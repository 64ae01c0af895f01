// Package pciaddr parses PCI addresses and locates PCI devices in sysfs.
package pciaddr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// ErrPCIAddress indicates the input PCI address is invalid.
var ErrPCIAddress = errors.New("bad PCI address")

// SysfsRoot is the sysfs directory that contains PCI devices.
// It may be changed in unit tests.
var SysfsRoot = "/sys/bus/pci/devices"

var rePCI = regexp.MustCompile(`^(?:([[:xdigit:]]{1,4}):)?([[:xdigit:]]{1,2}):([[:xdigit:]]{1,2})\.([[:xdigit:]])$`)

// PCIAddress represents a PCI address.
type PCIAddress struct {
	Domain   uint16
	Bus      uint8
	Slot     uint8
	Function uint8
}

// String returns the PCI address in 0000:00:01.0 format.
func (a PCIAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%01x", a.Domain, a.Bus, a.Slot, a.Function)
}

// MarshalText implements encoding.TextMarshaler interface.
func (a PCIAddress) MarshalText() (text []byte, e error) {
	if a.Slot > 0x1F || a.Function > 0x07 {
		return nil, ErrPCIAddress
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler interface.
func (a *PCIAddress) UnmarshalText(text []byte) (e error) {
	*a, e = Parse(string(text))
	return e
}

// SysfsPath returns the sysfs directory of this device.
func (a PCIAddress) SysfsPath() string {
	return filepath.Join(SysfsRoot, a.String())
}

// ResourcePath returns the sysfs file that maps a base address register.
func (a PCIAddress) ResourcePath(bar int) string {
	return filepath.Join(a.SysfsPath(), "resource"+strconv.Itoa(bar))
}

// Exists determines whether the device is present in sysfs.
func (a PCIAddress) Exists() bool {
	_, e := os.Stat(a.SysfsPath())
	return e == nil
}

// Parse parses a PCI address.
func Parse(input string) (a PCIAddress, e error) {
	m := rePCI.FindStringSubmatch(input)
	if m == nil {
		return PCIAddress{}, ErrPCIAddress
	}

	field := func(s string, bits int) uint64 {
		if e != nil || s == "" {
			return 0
		}
		var u uint64
		u, e = strconv.ParseUint(s, 16, bits)
		return u
	}
	a.Domain = uint16(field(m[1], 16))
	a.Bus = uint8(field(m[2], 8))
	a.Slot = uint8(field(m[3], 5))
	a.Function = uint8(field(m[4], 3))
	if e != nil {
		return PCIAddress{}, ErrPCIAddress
	}
	return a, nil
}

// MustParse parses a PCI address, and panics on failure.
func MustParse(input string) (a PCIAddress) {
	var e error
	if a, e = Parse(input); e != nil {
		panic(e)
	}
	return a
}
