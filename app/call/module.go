package call

import (
	"go.uber.org/fx"

	"github.com/touchline-analytics/touchline-host/util/logging"
)

func Module(config Config) fx.Option {
	return fx.Module(
		"call",
		// provide call config
		fx.Supply(config),
		// rename logger for module
		logging.DecorateLogger("call"),
		// provide runner
		fx.Provide(NewLifecycleRunner),
		// invoke runner
		fx.Invoke(func(*Runner) {}),
	)
}
