package redis

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the connection and tracing settings of a client. It is
// read from REDISTRACE_* environment variables by LoadConfig.
type Config struct {
	Addr     string `envconfig:"ADDR" default:"127.0.0.1:6379"`
	Password string `envconfig:"PASSWORD"`
	DB       int    `envconfig:"DB" default:"0"`

	// Prefix is prepended to span names.
	Prefix string `envconfig:"PREFIX"`

	// TraceAll decorates every client built by the fx module.
	TraceAll bool `envconfig:"TRACE_ALL" default:"true"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("REDISTRACE", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
