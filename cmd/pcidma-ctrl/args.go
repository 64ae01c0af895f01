package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/usnistgov/pcidma/core/nnduration"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/pcidev"
)

var addrFlag = &cli.IntFlag{
	Name:  "addr",
	Usage: "engine `address`",
}

var timeoutFlag = &cli.StringFlag{
	Name:        "timeout",
	Usage:       "`timeout` in microseconds or as duration, 'immediate', or 'infinite'",
	DefaultText: "DMA default timeout",
}

func dirFlag(dflt string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "dir",
		Usage: "`direction`: to-device, from-device, or both",
		Value: dflt,
	}
}

func parseDirection(c *cli.Context) (dir dma.Direction, e error) {
	if e = dir.UnmarshalText([]byte(c.String("dir"))); e != nil {
		return 0, fmt.Errorf("--dir %w", e)
	}
	return dir, nil
}

func parseTimeout(c *cli.Context, dev *pcidev.Device) (dma.Timeout, error) {
	switch s := c.String("timeout"); s {
	case "":
		return dma.TimeoutFromDuration(dev.Dispatcher.Config().DefaultTimeout.Duration()), nil
	case "infinite":
		return dma.Infinite, nil
	case "immediate":
		return dma.Immediate, nil
	default:
		var us nnduration.Microseconds
		if e := us.UnmarshalJSON([]byte(s)); e != nil {
			return 0, fmt.Errorf("--timeout %w", e)
		}
		return dma.TimeoutFromDuration(us.Duration()), nil
	}
}

// resolveEngines finds engines at --addr in every direction included in dir.
// With both directions, a missing engine in one direction is tolerated.
func resolveEngines(dev *pcidev.Device, addr int, dir dma.Direction) (list []dma.EngineID, e error) {
	for _, d := range []dma.Direction{dma.ToDevice, dma.FromDevice} {
		if !dir.Has(d) {
			continue
		}
		id, e := dev.Resolve(d, addr)
		if e != nil {
			if dir == dma.Bidirectional {
				continue
			}
			return nil, e
		}
		list = append(list, id)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: address %d", dma.ErrNotFound, addr)
	}
	return list, nil
}
