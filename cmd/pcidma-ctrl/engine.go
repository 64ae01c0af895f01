package main

import (
	"github.com/urfave/cli/v2"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/pcidev"
)

func init() {
	defineCommand(&cli.Command{
		Category: "engine",
		Name:     "list-engines",
		Aliases:  []string{"list-engine"},
		Usage:    "List DMA engines",
		Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
			printJSON(dev.Engines())
			return nil
		}),
	})
}

type statusOutput struct {
	Engine  dma.EngineInfo     `json:"engine"`
	Status  dma.EngineStatus   `json:"status"`
	Buffers []dma.BufferStatus `json:"buffers,omitempty"`
}

func init() {
	var withBuffers bool
	defineCommand(&cli.Command{
		Category: "engine",
		Name:     "status",
		Usage:    "Show engine status",
		Flags: []cli.Flag{
			addrFlag,
			dirFlag("both"),
			&cli.BoolFlag{
				Name:        "buffers",
				Usage:       "show per-buffer status",
				Destination: &withBuffers,
			},
		},
		Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
			dir, e := parseDirection(c)
			if e != nil {
				return e
			}
			ids, e := resolveEngines(dev, c.Int("addr"), dir)
			if e != nil {
				return e
			}

			var list []statusOutput
			for _, id := range ids {
				var out statusOutput
				out.Engine, _ = dev.Info(id)
				if out.Status, e = dev.Status(id, nil); e != nil {
					return e
				}
				if withBuffers && out.Status.RingSize > 0 {
					out.Buffers = make([]dma.BufferStatus, out.Status.RingSize)
					if out.Status, e = dev.Status(id, out.Buffers); e != nil {
						return e
					}
				}
				list = append(list, out)
			}
			printJSON(list)
			return nil
		}),
	})
}

func init() {
	define := func(name, usage string, op func(dev *pcidev.Device, id dma.EngineID, flags dma.Flags) error) {
		var persistent bool
		defineCommand(&cli.Command{
			Category: "engine",
			Name:     name,
			Usage:    usage,
			Flags: []cli.Flag{
				addrFlag,
				dirFlag("both"),
				&cli.BoolFlag{
					Name:        "persistent",
					Usage:       "keep engine running after exit, or force a persistent engine down",
					Destination: &persistent,
				},
			},
			Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
				dir, e := parseDirection(c)
				if e != nil {
					return e
				}
				ids, e := resolveEngines(dev, c.Int("addr"), dir)
				if e != nil {
					return e
				}
				flags := dma.FlagsDefault
				if persistent {
					flags |= dma.FlagPersistent
				}
				for _, id := range ids {
					if e = op(dev, id, flags); e != nil {
						return e
					}
				}
				return nil
			}),
		})
	}

	define("start", "Start engines", func(dev *pcidev.Device, id dma.EngineID, flags dma.Flags) error {
		return dev.Start(id, flags)
	})
	define("stop", "Stop engines", func(dev *pcidev.Device, id dma.EngineID, flags dma.Flags) error {
		return dev.Stop(id, flags)
	})
}
