package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/touchline-analytics/touchline-host/app"
	"github.com/touchline-analytics/touchline-host/app/call"
)

var (
	callCmdDescription = `The call command starts the worker, sends a single command
	and prints the JSON result to stdout before stopping the
	worker again. The optional second argument is the command
	payload as a JSON object.

	With --wait-task, the result is expected to carry a task_id,
	which is polled with the given status command until the task
	completes.`
	callCmd = &cli.Command{
		Name:        "call",
		Usage:       "Send one command to the worker and print the result.",
		ArgsUsage:   "<command> [json]",
		Description: callCmdDescription,
		Before: func(ctx *cli.Context) error {
			// the call starts the worker itself
			return loadConfig(ctx, map[string]any{"autostart": false})
		},
		Action: callAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "wait-task",
				Usage:    "poll the returned task with this status command until it completes.",
				Category: "call",
			},
			&cli.DurationFlag{
				Name:     "poll-interval",
				Usage:    "the initial task polling interval.",
				Value:    time.Second,
				Category: "call",
			},
			&cli.StringSliceFlag{
				Name:     "event",
				Usage:    "print worker events with this name while waiting. Use * for all.",
				Aliases:  []string{"e"},
				Category: "call",
			},
		},
	}
)

func callAction(ctx *cli.Context) error {
	if ctx.NArg() < 1 || ctx.NArg() > 2 {
		return cli.Exit("expected <command> [json]", 2)
	}

	var data map[string]any
	if raw := ctx.Args().Get(1); raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return cli.Exit(fmt.Sprintf("invalid payload: %s", err), 2)
		}
	}

	app, err := app.New(ctx)
	if err != nil {
		return err
	}

	return app.Run(ctx.Context, call.Module(call.Config{
		Command:       ctx.Args().First(),
		Data:          data,
		StatusCommand: ctx.String("wait-task"),
		PollInterval:  ctx.Duration("poll-interval"),
		Events:        ctx.StringSlice("event"),
		Output:        ctx.App.Writer,
	}))
}

func init() {
	rootApp.Commands = append(rootApp.Commands, callCmd)
}
