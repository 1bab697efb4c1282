package handler

import "go.uber.org/fx"

func Module() fx.Option {
	return fx.Module("handler",
		fx.Provide(NewCommandHandler),
		fx.Provide(NewInitializeRoute),
		fx.Provide(NewCommandRoute),
		fx.Provide(NewCleanupRoute),
		fx.Provide(NewPathsRoute),
		fx.Provide(NewStatusRoute),
		fx.Provide(NewEventsRoute),
		fx.Provide(NewHealthRoute),
	)
}
