package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/pcidev"
)

var irqKinds = map[string]dma.IRQType{
	"dma":   dma.IRQDMA,
	"event": dma.IRQEvent,
	"all":   dma.IRQAll,
}

func persistentFlag(dest *bool) *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:        "persistent",
		Usage:       "keep interrupts enabled after exit, or force them off",
		Destination: dest,
	}
}

func init() {
	var kind string
	var persistent bool
	defineCommand(&cli.Command{
		Category: "irq",
		Name:     "enable-irq",
		Usage:    "Enable interrupts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "kind",
				Usage:       "interrupt `kind`: dma, event, or all",
				Value:       "all",
				Destination: &kind,
			},
			persistentFlag(&persistent),
		},
		Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
			irqType, ok := irqKinds[kind]
			if !ok {
				return fmt.Errorf("%w: --kind %s", dma.ErrInvalidArgument, kind)
			}
			flags := dma.FlagsDefault
			if persistent {
				flags |= dma.FlagPersistent
			}
			return dev.EnableIRQ(irqType, flags)
		}),
	})
}

func init() {
	var persistent bool
	defineCommand(&cli.Command{
		Category: "irq",
		Name:     "disable-irq",
		Usage:    "Disable interrupts",
		Flags: []cli.Flag{
			persistentFlag(&persistent),
		},
		Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
			flags := dma.FlagsDefault
			if persistent {
				flags |= dma.FlagPersistent
			}
			return dev.DisableIRQ(flags)
		}),
	})
}
