package server

import (
	"net/http"

	"go.uber.org/fx"
)

type HttpHandler struct {
	// Method restricts the route to one HTTP method. Empty matches all.
	Method string

	// Pattern is the chi route pattern, e.g. "/commands/{command}"
	Pattern string

	Handler http.Handler
}

type HttpHandlerResult struct {
	fx.Out

	Handler *HttpHandler `group:"handlers"`
}

func AsHttpHandler(
	method string,
	pattern string,
	handler http.Handler,
) HttpHandlerResult {
	return HttpHandlerResult{
		Handler: &HttpHandler{
			Method:  method,
			Pattern: pattern,
			Handler: handler,
		},
	}
}
