// Command pcidma-ctrl operates DMA engines of a PCIe board.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"
	"sort"

	"github.com/kballard/go-shellquote"
	"github.com/urfave/cli/v2"
	"github.com/usnistgov/pcidma/core/version"
	"github.com/usnistgov/pcidma/core/yamlflag"
	"github.com/usnistgov/pcidma/pcidev"
)

var (
	configDoc = map[string]any{}
	cmdout    bool
	dev       *pcidev.Device
)

var app = &cli.App{
	Version: version.Get().String(),
	Usage:   "Operate DMA engines of a PCIe board.",
	Flags: []cli.Flag{
		&cli.GenericFlag{
			Name:  "config",
			Usage: "device configuration `YAML` document, or @filename",
			Value: yamlflag.New(&configDoc),
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "PCI `address` of the device",
		},
		&cli.StringFlag{
			Name:  "backend",
			Usage: "DMA engine `kind`: nwl or ipe",
		},
		&cli.StringFlag{
			Name:  "lock-dir",
			Usage: "engine lock file `directory`",
		},
		&cli.BoolFlag{
			Name:  "emulate",
			Usage: "use a software emulator with packet generator instead of a PCI device",
		},
		&cli.BoolFlag{
			Name:        "cmdout",
			Usage:       "print command line instead of executing",
			Destination: &cmdout,
		},
	},
	After: func(c *cli.Context) (e error) {
		if dev != nil {
			e = dev.Close()
			dev = nil
		}
		return e
	},
}

func defineCommand(command *cli.Command) {
	app.Commands = append(app.Commands, command)
}

// flagOverrides collects global flags that amend the configuration document.
func flagOverrides(c *cli.Context) map[string]any {
	m := map[string]any{}
	if c.IsSet("device") {
		m["device"] = c.String("device")
	}
	if c.IsSet("backend") {
		m["backend"] = c.String("backend")
	}
	if c.IsSet("lock-dir") {
		m["lockDir"] = c.String("lock-dir")
	}
	if c.Bool("emulate") {
		m["emulate"] = map[string]any{"generator": true}
	}
	return m
}

func parseConfig(c *cli.Context) (pcidev.Config, error) {
	return pcidev.ParseConfig(configDoc, flagOverrides(c))
}

// printCommand prints a command line that repeats the current command with the effective configuration.
func printCommand(c *cli.Context) error {
	cfg, e := parseConfig(c)
	if e != nil {
		return e
	}
	j, e := json.Marshal(cfg)
	if e != nil {
		return e
	}

	args := []string{c.App.Name, "--config", string(j), c.Command.Name}
	for _, name := range c.LocalFlagNames() {
		args = append(args, fmt.Sprintf("--%s=%v", name, c.Value(name)))
	}
	fmt.Println(shellquote.Join(args...))
	return nil
}

// deviceAction wraps an action that requires an opened device.
func deviceAction(action func(c *cli.Context, dev *pcidev.Device) error) cli.ActionFunc {
	return func(c *cli.Context) (e error) {
		if cmdout {
			return printCommand(c)
		}
		cfg, e := parseConfig(c)
		if e != nil {
			return e
		}
		if dev, e = pcidev.Open(cfg); e != nil {
			return e
		}
		return action(c, dev)
	}
}

// printJSON prints a value as JSON; a slice is printed as one line per element.
func printJSON(value any) {
	if val := reflect.ValueOf(value); val.Kind() == reflect.Slice {
		for i, last := 0, val.Len(); i < last; i++ {
			j, _ := json.Marshal(val.Index(i).Interface())
			fmt.Println(string(j))
		}
		return
	}
	j, _ := json.Marshal(value)
	fmt.Println(string(j))
}

func main() {
	sort.Sort(cli.CommandsByName(app.Commands))
	e := app.Run(os.Args)
	if e != nil {
		log.Fatal(e)
	}
}

func init() {
	defineCommand(&cli.Command{
		Name:  "show-version",
		Usage: "Show program version",
		Action: func(c *cli.Context) error {
			printJSON(version.Get())
			return nil
		},
	})
}
