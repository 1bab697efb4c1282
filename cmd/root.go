package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/touchline-analytics/touchline-host/config"
	"github.com/touchline-analytics/touchline-host/internal/shell"
	"github.com/touchline-analytics/touchline-host/util/conf"
	"github.com/touchline-analytics/touchline-host/util/logging"
)

// envPrefix namespaces env vars, nested keys are separated by __,
// e.g. TOUCHLINE_WORKER__START_TIMEOUT.
const envPrefix = "TOUCHLINE_"

var (
	appName  = "touchline-host"
	appUsage = `Host for the Touchline analytics worker. Starts the worker
process, correlates commands with their responses and forwards
worker events to subscribers.`
	rootApp = &cli.App{
		Name:            appName,
		Usage:           appUsage,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			// general flags
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "set the log level. Options: debug, info, warn, error, panic, fatal.",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "set the log format. Options: production, development.",
				EnvVars: []string{"LOG_FORMAT"},
			},
			&cli.PathFlag{
				Name:    "config",
				Usage:   "load configuration from a .json, .yaml or .env file.",
				EnvVars: []string{"TOUCHLINE_CONFIG"},
			},
			// worker flags
			&cli.StringFlag{
				Name:     "worker-command",
				Usage:    "run this command as the worker instead of the bundled executable.",
				Aliases:  []string{"c"},
				Category: "worker",
			},
			&cli.StringSliceFlag{
				Name:     "worker-arg",
				Usage:    "additional arguments to pass to the worker process.",
				Aliases:  []string{"a"},
				Category: "worker",
			},
			&cli.BoolFlag{
				Name:     "packaged",
				Usage:    "resolve the worker from the packaged resources layout.",
				Category: "worker",
			},
			&cli.PathFlag{
				Name:     "app-root",
				Usage:    "the application root used to resolve the worker in development.",
				Category: "worker",
			},
			&cli.PathFlag{
				Name:     "resources-path",
				Usage:    "the resources directory used to resolve the packaged worker.",
				Category: "worker",
			},
			&cli.PathFlag{
				Name:     "data-path",
				Usage:    "the database file handed to the worker.",
				Category: "worker",
			},
			&cli.DurationFlag{
				Name:     "start-timeout",
				Usage:    "how long to wait for the worker to report readiness.",
				Category: "worker",
			},
			&cli.DurationFlag{
				Name:     "request-timeout",
				Usage:    "how long to wait for the response to a command.",
				Category: "worker",
			},
			&cli.DurationFlag{
				Name:     "grace-period",
				Usage:    "how long to wait for the worker to exit before killing it.",
				Category: "worker",
			},
		},
		Before: func(ctx *cli.Context) error {
			// create the logger
			log, err := createLogger(ctx)
			if err != nil {
				return err
			}

			// inject logger into cli context
			ctx.Context = logging.ContextWithLogger(ctx.Context, log)

			return nil
		},
		After: func(ctx *cli.Context) error {
			log, err := logging.LoggerFromContext(ctx.Context)
			if err != nil {
				return err
			}

			_ = log.Sync()

			return nil
		},
	}
)

// cliMap maps flag names to config keys where they differ.
var cliMap = map[string]string{
	"worker-command":  "worker.launch.command",
	"worker-arg":      "worker.launch.args",
	"packaged":        "worker.launch.packaged",
	"app-root":        "worker.launch.app_root",
	"resources-path":  "worker.launch.resources_path",
	"data-path":       "worker.launch.data_path",
	"start-timeout":   "worker.start_timeout",
	"request-timeout": "worker.request_timeout",
	"grace-period":    "worker.grace_period",
	"host":            "http.host",
	"port":            "http.port",
	"h2c":             "http.h2c",
	"api-key":         "auth.key",
	// read directly from the cli context
	"config": "",
}

func init() {
	cli.VersionFlag = &cli.BoolFlag{
		Name:               "version",
		Usage:              "print the version",
		DisableDefaultText: true,
	}
}

// loadConfig parses the config from defaults, the config file, env vars
// and cli flags, and injects it into the cli context.
func loadConfig(ctx *cli.Context, overrides map[string]any) error {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return err
	}

	cfg, err := conf.Parse(conf.ParseOptions[config.Config]{
		Cli:       ctx,
		CliMap:    cliMap,
		Defaults:  config.DefaultConfig(),
		Overrides: overrides,
		EnvPrefix: envPrefix,
		FileName:  ctx.Path("config"),
		Log:       log,
	})
	if err != nil {
		return err
	}

	// inject the config into the cli context
	ctx.Context = conf.ContextWithConfig(ctx.Context, cfg)

	return nil
}

type ExecuteParams struct {
	Version  string
	Compiled time.Time
}

// Execute runs the cli and returns the process exit code.
func Execute(params ExecuteParams) int {
	rootApp.Version = params.Version
	rootApp.Compiled = params.Compiled

	return run(context.Background(), os.Args)
}

func run(ctx context.Context, args []string) int {
	err := rootApp.RunContext(ctx, args)

	// if app exited without error, return
	if err == nil {
		return 0
	}

	// if app exited with ExitError, exit with given exit code
	var exitErr *shell.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}

	fmt.Fprintf(os.Stderr, "exit error: %s\n", err.Error())

	// otherwise, exit with exit code 1
	return 1
}

func createLogger(ctx *cli.Context) (*zap.Logger, error) {
	level := getLogLevelFromCLI(ctx)
	format := getLogFormatFromCLI(ctx)

	var config zap.Config
	if format == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
	}

	config.InitialFields = map[string]any{
		"app": appName,
	}

	config.Level = level

	// stdout carries command results
	config.OutputPaths = []string{"stderr"}

	return config.Build()
}

func getLogFormatFromCLI(ctx *cli.Context) string {
	format := ctx.String("log-format")
	if format != "" {
		return format
	}

	return "production"
}

func getLogLevelFromCLI(ctx *cli.Context) zap.AtomicLevel {
	lvl := ctx.String("log-level")

	if atom, err := zap.ParseAtomicLevel(lvl); err == nil {
		return atom
	}

	return zap.NewAtomicLevelAt(zap.InfoLevel)
}
