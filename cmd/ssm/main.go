// Command ssm loads and runs SSM object code.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/lumiknit/ssm"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:      "ssm",
		Usage:     "Simple Stack Machine",
		Version:   version,
		ArgsUsage: "[file ...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "stdin",
				Usage: "read ssm object code from stdin",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "TOML config `FILE`",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging (GC traces)",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() == 0 && !ctx.Bool("stdin") {
		cli.ShowAppHelp(ctx)
		return nil
	}

	config := ssm.DefaultConfig()
	if path := ctx.String("config"); path != "" {
		var err error
		if config, err = ssm.LoadConfigFile(path); err != nil {
			return err
		}
	}
	if ctx.Bool("debug") {
		config.Debug = true
	}

	vm := ssm.NewVM(config)

	for _, path := range ctx.Args().Slice() {
		c, err := vm.LoadFile(path)
		if err != nil {
			return err
		}
		vm.Run(c)
	}

	if ctx.Bool("stdin") {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		if err := vm.LoadAndRun(raw); err != nil {
			return err
		}
	}

	if ctx.Bool("debug") {
		stats := vm.Mem().Stats()
		fmt.Fprintf(os.Stderr, "minor: %d/%d words, major: %d words, GCs: %d minor / %d major\n",
			stats.MinorUsed, stats.MinorSize,
			stats.MajorAllocatedWords, stats.MinorGCCount, stats.MajorGCCount)
	}
	return nil
}
