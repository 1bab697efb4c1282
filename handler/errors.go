package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/touchline-analytics/touchline-host/internal/execution/router"
	"github.com/touchline-analytics/touchline-host/internal/execution/supervisor"
)

// StatusFor maps runtime errors to HTTP status codes.
func StatusFor(err error) int {
	var (
		notReady  *supervisor.NotReadyError
		timeout   *router.RequestTimeoutError
		readiness *supervisor.ReadinessTimeoutError
		command   *router.CommandError
		exit      *supervisor.ProcessExitError
		stream    *supervisor.StreamError
	)

	switch {
	case errors.As(err, &command):
		return http.StatusUnprocessableEntity
	case errors.As(err, &timeout), errors.As(err, &readiness):
		return http.StatusGatewayTimeout
	case errors.As(err, &exit), errors.As(err, &stream):
		return http.StatusBadGateway
	case errors.As(err, &notReady),
		errors.Is(err, supervisor.ErrSupervisorStopped),
		errors.Is(err, router.ErrRouterClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
