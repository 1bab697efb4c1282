package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/touchline-analytics/touchline-host/app"
	"github.com/touchline-analytics/touchline-host/app/serve"
	"github.com/touchline-analytics/touchline-host/config"
	"github.com/touchline-analytics/touchline-host/util/conf"
)

var (
	serveCmdDescription = `The serve command starts the worker and a local http server
	that exposes it to the UI process. Commands are posted to
	/commands/{command}, worker events are streamed from /events.

	The command blocks until it receives a termination signal,
	then stops the worker gracefully.`
	serveCmd = &cli.Command{
		Name:        "serve",
		Usage:       "Start the worker and the local http bridge.",
		Description: serveCmdDescription,
		Before: func(ctx *cli.Context) error {
			return loadConfig(ctx, nil)
		},
		Action: serveAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "host",
				Aliases:  []string{"H"},
				Usage:    "The host to listen on.",
				Category: "http",
				EnvVars:  []string{"HTTP_HOST"},
			},
			&cli.IntFlag{
				Name:     "port",
				Aliases:  []string{"P"},
				Usage:    "The port to listen on.",
				Category: "http",
				EnvVars:  []string{"HTTP_PORT"},
			},
			&cli.BoolFlag{
				Name:     "h2c",
				Usage:    "Enable HTTP/2 cleartext upgrade.",
				Category: "http",
				EnvVars:  []string{"HTTP_H2C"},
			},
			&cli.StringFlag{
				Name:     "api-key",
				Usage:    "Require this key in the api-key header.",
				Category: "http",
				EnvVars:  []string{"HTTP_API_KEY"},
			},
			&cli.BoolFlag{
				Name:     "autostart",
				Usage:    "Start the worker together with the server.",
				Value:    true,
				Category: "worker",
			},
		},
	}
)

func serveAction(ctx *cli.Context) error {
	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	cfg, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return err
	}

	return app.Run(ctx.Context, serve.Module(cfg.HTTP))
}

func init() {
	rootApp.Commands = append(rootApp.Commands, serveCmd)
}
