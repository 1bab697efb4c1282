package serve

import (
	"go.uber.org/fx"

	"github.com/touchline-analytics/touchline-host/handler"
	"github.com/touchline-analytics/touchline-host/internal/server"
	"github.com/touchline-analytics/touchline-host/util/logging"
)

func Module(config server.HttpConfig) fx.Option {
	return fx.Module(
		"serve",
		// rename logger for module
		logging.DecorateLogger("serve"),
		// provide handlers
		handler.Module(),
		// provide server
		server.Module(config),
	)
}
