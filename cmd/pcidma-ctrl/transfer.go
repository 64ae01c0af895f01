package main

import (
	"encoding/hex"
	"errors"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/usnistgov/pcidma/dma"
	"github.com/usnistgov/pcidma/pcidev"
)

type readOutput struct {
	N    int    `json:"n"`
	Data []byte `json:"data,omitempty"`
}

func init() {
	var size int
	var multiPacket, wait bool
	var output string
	defineCommand(&cli.Command{
		Category: "transfer",
		Name:     "read",
		Usage:    "Read from a from-device engine",
		Flags: []cli.Flag{
			addrFlag,
			&cli.IntFlag{
				Name:        "size",
				Usage:       "buffer `size` in octets",
				Value:       4096,
				Destination: &size,
			},
			timeoutFlag,
			&cli.BoolFlag{
				Name:        "multi-packet",
				Usage:       "keep reading packets until the buffer is full",
				Destination: &multiPacket,
			},
			&cli.BoolFlag{
				Name:        "wait",
				Usage:       "wait for subsequent packets with the given timeout",
				Destination: &wait,
			},
			&cli.StringFlag{
				Name:        "output",
				Usage:       "write data to `file` instead of printing",
				Destination: &output,
			},
		},
		Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
			addr := c.Int("addr")
			id, e := dev.Resolve(dma.FromDevice, addr)
			if e != nil {
				return e
			}
			timeout, e := parseTimeout(c, dev)
			if e != nil {
				return e
			}
			flags := dma.FlagsDefault
			if multiPacket {
				flags |= dma.FlagMultiPacket
			}
			if wait {
				flags |= dma.FlagWait
			}

			buf := make([]byte, size)
			n, e := dev.Read(id, addr, buf, flags, timeout)
			if e != nil && !(errors.Is(e, dma.ErrTimeout) && n > 0) {
				return e
			}

			out := readOutput{N: n}
			if output == "" {
				out.Data = buf[:n]
			} else if e := os.WriteFile(output, buf[:n], 0o644); e != nil {
				return e
			}
			printJSON(out)
			return nil
		}),
	})
}

type writeOutput struct {
	N int `json:"n"`
}

func init() {
	var input, hexData string
	var noEOP bool
	defineCommand(&cli.Command{
		Category: "transfer",
		Name:     "write",
		Usage:    "Write to a to-device engine",
		Flags: []cli.Flag{
			addrFlag,
			&cli.StringFlag{
				Name:        "input",
				Usage:       "read data from `file`, - for stdin",
				Destination: &input,
			},
			&cli.StringFlag{
				Name:        "hex",
				Usage:       "data as `hex` string",
				Destination: &hexData,
			},
			timeoutFlag,
			&cli.BoolFlag{
				Name:        "no-eop",
				Usage:       "do not mark end of packet",
				Destination: &noEOP,
			},
		},
		Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
			var data []byte
			var e error
			switch {
			case hexData != "":
				data, e = hex.DecodeString(hexData)
			case input == "-":
				data, e = io.ReadAll(os.Stdin)
			case input != "":
				data, e = os.ReadFile(input)
			default:
				return errors.New("either --input or --hex is required")
			}
			if e != nil {
				return e
			}

			addr := c.Int("addr")
			id, e := dev.Resolve(dma.ToDevice, addr)
			if e != nil {
				return e
			}
			timeout, e := parseTimeout(c, dev)
			if e != nil {
				return e
			}
			flags := dma.FlagWait
			if !noEOP {
				flags |= dma.FlagEOP
			}

			n, e := dev.Push(id, addr, data, flags, timeout)
			printJSON(writeOutput{N: n})
			return e
		}),
	})
}

type skipOutput struct {
	Skipped int `json:"skipped"`
}

func init() {
	var ignoreErrors bool
	defineCommand(&cli.Command{
		Category: "transfer",
		Name:     "skip",
		Usage:    "Discard stale data of a from-device engine",
		Flags: []cli.Flag{
			addrFlag,
			&cli.BoolFlag{
				Name:        "ignore-errors",
				Usage:       "stop silently on descriptor errors",
				Destination: &ignoreErrors,
			},
		},
		Action: deviceAction(func(c *cli.Context, dev *pcidev.Device) error {
			id, e := dev.Resolve(dma.FromDevice, c.Int("addr"))
			if e != nil {
				return e
			}
			flags := dma.FlagsDefault
			if ignoreErrors {
				flags |= dma.FlagIgnoreErrors
			}
			skipped, e := dev.Skip(id, flags)
			if e != nil {
				return e
			}
			printJSON(skipOutput{Skipped: skipped})
			return nil
		}),
	})
}
