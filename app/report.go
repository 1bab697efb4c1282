package app

import (
	"github.com/getsentry/sentry-go"

	"github.com/touchline-analytics/touchline-host/internal/execution/supervisor"
)

// NewStateReporter records worker transitions as breadcrumbs and captures
// failures. It is a no-op unless sentry is initialized.
func NewStateReporter(hub *sentry.Hub) func(supervisor.StateChange) {
	return func(change supervisor.StateChange) {
		hub.AddBreadcrumb(&sentry.Breadcrumb{
			Category: "worker",
			Message:  change.From.String() + " -> " + change.To.String(),
			Level:    sentry.LevelInfo,
		}, nil)

		if change.To != supervisor.StateFailed || change.Err == nil {
			return
		}

		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("worker.previous_state", change.From.String())
			hub.CaptureException(change.Err)
		})
	}
}
