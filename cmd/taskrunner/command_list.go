package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"taskrunner/internal/engine"
	"taskrunner/internal/loader"
	"taskrunner/internal/runnerconfig"
)

// listCommand prints every known task and its description.
type listCommand struct {
	ui     cli.Ui
	logger hclog.Logger
	config runnerconfig.Config
}

func (c *listCommand) Synopsis() string {
	return "List every known task"
}

func (c *listCommand) Help() string {
	return strings.TrimSpace(`
Usage: taskrunner list

  Prints every task defined in the project file, sorted by name.
`)
}

func (c *listCommand) Run(args []string) int {
	baseDir, path, err := loader.Find(".")
	if err != nil {
		c.ui.Error(fmt.Sprintf("locating %s: %v", loader.FileName, err))
		return 1
	}
	tasks, err := loader.Load(path)
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}

	eng, err := engine.New(engine.Options{
		Tasks:   tasks,
		BaseDir: baseDir,
		Logger:  c.logger,
	})
	if err != nil {
		c.ui.Error(err.Error())
		return 1
	}

	for _, info := range eng.ListTasks() {
		if info.Description == "" {
			c.ui.Output(info.Name)
			continue
		}
		c.ui.Output(fmt.Sprintf("%-24s %s", info.Name, info.Description))
	}
	return 0
}
