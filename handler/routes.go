package handler

import (
	"net/http"

	"github.com/touchline-analytics/touchline-host/internal/server"
)

func NewInitializeRoute(handler *CommandHandler) server.HttpHandlerResult {
	return server.AsHttpHandler(http.MethodPost, "/initialize", handler.Authorize(http.HandlerFunc(handler.Initialize)))
}

func NewCommandRoute(handler *CommandHandler) server.HttpHandlerResult {
	return server.AsHttpHandler(http.MethodPost, "/commands/{command}", handler.Authorize(http.HandlerFunc(handler.Command)))
}

func NewCleanupRoute(handler *CommandHandler) server.HttpHandlerResult {
	return server.AsHttpHandler(http.MethodPost, "/cleanup", handler.Authorize(http.HandlerFunc(handler.Cleanup)))
}

func NewPathsRoute(handler *CommandHandler) server.HttpHandlerResult {
	return server.AsHttpHandler(http.MethodGet, "/paths", handler.Authorize(http.HandlerFunc(handler.Paths)))
}

func NewStatusRoute(handler *CommandHandler) server.HttpHandlerResult {
	return server.AsHttpHandler(http.MethodGet, "/status", handler.Authorize(http.HandlerFunc(handler.Status)))
}

func NewEventsRoute(handler *CommandHandler) server.HttpHandlerResult {
	return server.AsHttpHandler(http.MethodGet, "/events", handler.Authorize(http.HandlerFunc(handler.Events)))
}

func NewHealthRoute() server.HttpHandlerResult {
	return server.AsHttpHandler(http.MethodGet, "/health", http.HandlerFunc(HealthHandler))
}
