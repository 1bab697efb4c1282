package config

import (
	"github.com/touchline-analytics/touchline-host/internal/server"
	"github.com/touchline-analytics/touchline-host/runtime"
)

type AuthConfig struct {
	// Key is the shared secret clients send in the api-key header.
	// Auth is disabled when empty.
	Key string `conf:"key"`
}

type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// Runtime is the runtime configuration
	Runtime runtime.Config `conf:",squash"`

	// HTTP is the bridge server configuration
	HTTP server.HttpConfig `conf:"http"`

	// Auth is the bridge auth configuration
	Auth AuthConfig `conf:"auth"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "production",
		Runtime:   runtime.DefaultConfig(),
		HTTP:      server.DefaultHttpConfig(),
	}
}
