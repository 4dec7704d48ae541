package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/config"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadConfig reads the config file and environment and applies the log level.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	zerolog.SetGlobalLevel(cfg.Level())

	log.Debug().
		Str("api_url", cfg.API.URL).
		Str("protocol", cfg.API.Protocol).
		Str("transport", cfg.Channel.Transport).
		Msg("configuration loaded")
	return cfg, nil
}
