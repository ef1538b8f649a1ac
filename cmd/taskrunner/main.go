// Command taskrunner is the CLI entry point: a thin shell around
// internal/engine, in the same mitchellh/cli-based shape as the teacher's
// own cmd/turbo, trimmed to the two commands this spec's surface needs.
package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/cli"

	"taskrunner/internal/runnerconfig"
)

func main() {
	os.Exit(realMain())
}

func realMain() int {
	args := os.Args[1:]

	colorize := isatty.IsTerminal(os.Stdout.Fd())
	color.NoColor = !colorize

	ui := &cli.ColoredUi{
		Ui: &cli.BasicUi{
			Reader:      os.Stdin,
			Writer:      os.Stdout,
			ErrorWriter: os.Stderr,
		},
		OutputColor: cli.UiColorNone,
		InfoColor:   cli.UiColorNone,
		WarnColor:   cli.UiColorYellow,
		ErrorColor:  cli.UiColorRed,
	}

	cfg, err := runnerconfig.Load()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	logger := cfg.Logger("taskrunner", os.Stderr, colorize)

	c := cli.NewCLI("taskrunner", version)
	c.Args = args
	c.HelpWriter = os.Stdout
	c.ErrorWriter = os.Stderr
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &runCommand{ui: ui, logger: logger, config: cfg}, nil
		},
		"list": func() (cli.Command, error) {
			return &listCommand{ui: ui, logger: logger, config: cfg}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		ui.Error(err.Error())
		return 1
	}
	return exitCode
}

// version is overridden at build time via -ldflags, matching the teacher's
// own turboVersion convention.
var version = "dev"
