package regio

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/usnistgov/pcidma/core/pciaddr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// BAR is a memory-mapped PCI base address register.
type BAR struct {
	*Bytes
	mem  []byte
	path string
}

// MapBAR maps a PCI base address register through its sysfs resource file.
func MapBAR(addr pciaddr.PCIAddress, index int, order binary.ByteOrder) (bar *BAR, e error) {
	path := addr.ResourcePath(index)
	file, e := os.OpenFile(path, os.O_RDWR|os.O_SYNC, 0)
	if e != nil {
		return nil, fmt.Errorf("open %s %w", path, e)
	}
	defer file.Close()

	st, e := file.Stat()
	if e != nil {
		return nil, fmt.Errorf("stat %s %w", path, e)
	}
	if st.Size() == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}

	mem, e := unix.Mmap(int(file.Fd()), 0, int(st.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if e != nil {
		return nil, fmt.Errorf("mmap %s %w", path, e)
	}

	logger.Debug("BAR mapped",
		zap.Stringer("device", addr),
		zap.Int("bar", index),
		zap.Int("size", len(mem)),
	)
	return &BAR{
		Bytes: NewBytes(mem, order),
		mem:   mem,
		path:  path,
	}, nil
}

// Close unmaps the BAR.
func (bar *BAR) Close() error {
	if bar.mem == nil {
		return nil
	}
	e := unix.Munmap(bar.mem)
	bar.mem, bar.Bytes = nil, nil
	return e
}

func (bar *BAR) String() string {
	return bar.path
}
