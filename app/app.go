package app

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"

	"github.com/touchline-analytics/touchline-host/config"
	"github.com/touchline-analytics/touchline-host/internal/execution/supervisor"
	"github.com/touchline-analytics/touchline-host/internal/shell"
	"github.com/touchline-analytics/touchline-host/runtime"
	"github.com/touchline-analytics/touchline-host/util/conf"
	"github.com/touchline-analytics/touchline-host/util/logging"
)

// lifecycleSlack is added on top of the worker timeouts so fx never
// cancels a start or stop the supervisor is still bounding itself.
const lifecycleSlack = 5 * time.Second

func New(ctx *cli.Context) (*shell.Shell, error) {
	log, err := logging.LoggerFromContext(ctx.Context)
	if err != nil {
		return nil, err
	}

	config, err := conf.GetConfigFromContext[config.Config](ctx.Context)
	if err != nil {
		return nil, err
	}

	worker := config.Runtime.Worker

	sharedModule := fx.Module(
		"shared",
		// provide global config
		fx.Supply(config),
		// report worker failures
		fx.Provide(func() func(supervisor.StateChange) {
			return NewStateReporter(sentry.CurrentHub())
		}),
		// provide runtime
		runtime.Module(config.Runtime),
	)

	return shell.New(
		log,
		sharedModule,
		// worker start and stop must fit into the fx lifecycle
		fx.StartTimeout(worker.StartTimeout+lifecycleSlack),
		fx.StopTimeout(worker.GracePeriod+worker.DrainTimeout+lifecycleSlack),
	), nil
}
