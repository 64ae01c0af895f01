package main

import (
	"github.com/urfave/cli/v2"
	"github.com/usnistgov/pcidma/pcidev"
)

type benchmarkOutput struct {
	MiBps float64 `json:"mibps"`
}

func init() {
	var size, iterations int
	defineCommand(&cli.Command{
		Category: "transfer",
		Name:     "benchmark",
		Usage:    "Measure DMA throughput",
		Flags: []cli.Flag{
			addrFlag,
			dirFlag("from-device"),
			&cli.IntFlag{
				Name:        "size",
				Usage:       "transfer `size` in octets per iteration",
				Value:       1 << 20,
				Destination: &size,
			},
			&cli.IntFlag{
				Name:        "iterations",
				Usage:       "`count` of iterations",
				Value:       10,
				Destination: &iterations,
			},
		},
		Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
			dir, e := parseDirection(c)
			if e != nil {
				return e
			}
			mibps, e := dev.Benchmark(c.Int("addr"), size, iterations, dir)
			if e != nil {
				return e
			}
			printJSON(benchmarkOutput{MiBps: mibps})
			return nil
		}),
	})
}
