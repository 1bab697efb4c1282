package cmd

import (
	"encoding/json"

	"github.com/urfave/cli/v2"

	"github.com/touchline-analytics/touchline-host/config"
	"github.com/touchline-analytics/touchline-host/internal/execution/supervisor"
	"github.com/touchline-analytics/touchline-host/util/conf"
)

var pathsCmd = &cli.Command{
	Name:  "paths",
	Usage: "Print the resolved worker executable and database paths.",
	Before: func(ctx *cli.Context) error {
		return loadConfig(ctx, nil)
	},
	Action: pathsAction,
}

func pathsAction(ctx *cli.Context) error {
	cfg, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return err
	}

	paths, err := supervisor.NewLauncher(cfg.Runtime.Worker.Launch).Paths()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(ctx.App.Writer)
	enc.SetIndent("", "  ")

	return enc.Encode(paths)
}

func init() {
	rootApp.Commands = append(rootApp.Commands, pathsCmd)
}
