// Package config loads client settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/estimate/go/internal/dbconfig"
	"github.com/mcdev12/estimate/go/internal/session/remote"
	"github.com/mcdev12/estimate/go/internal/session/timer"
)

// Remote protocols.
const (
	ProtocolREST    = "rest"
	ProtocolConnect = "connect"
)

// Event channel transports.
const (
	TransportNATS      = "nats"
	TransportWebSocket = "websocket"
	TransportMemory    = "memory"
)

type Config struct {
	LogLevel string `yaml:"log_level"`

	API struct {
		URL            string `yaml:"url"`
		Protocol       string `yaml:"protocol"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		// H2C speaks cleartext HTTP/2 to the Connect endpoint.
		H2C bool `yaml:"h2c"`
	} `yaml:"api"`

	Channel struct {
		Transport    string `yaml:"transport"`
		NATSURL      string `yaml:"nats_url"`
		WebSocketURL string `yaml:"websocket_url"`
	} `yaml:"channel"`

	Store struct {
		DSN string `yaml:"dsn"`
	} `yaml:"store"`

	Invite struct {
		BaseURL string `yaml:"base_url"`
		Copy    bool   `yaml:"copy"`
	} `yaml:"invite"`

	// StatusAddr serves /health and /state when set, e.g. ":8090".
	StatusAddr string `yaml:"status_addr"`

	Demo struct {
		Bots         bool `yaml:"bots"`
		TimerSeconds int  `yaml:"timer_seconds"`
	} `yaml:"demo"`

	Serve struct {
		Port    string `yaml:"port"`
		NATSURL string `yaml:"nats_url"`
	} `yaml:"serve"`
}

// Default returns the built-in settings.
func Default() *Config {
	var c Config
	c.LogLevel = "info"
	c.API.URL = remote.DefaultBaseURL
	c.API.Protocol = ProtocolREST
	c.API.TimeoutSeconds = 10
	c.Channel.Transport = TransportWebSocket
	c.Channel.NATSURL = "nats://localhost:4222"
	c.Channel.WebSocketURL = "ws://localhost:8000/ws/session"
	c.Store.DSN = dbconfig.NewConfigFromEnv().DSN()
	c.Invite.BaseURL = "http://localhost:8000/"
	c.Invite.Copy = true
	c.Demo.Bots = true
	c.Demo.TimerSeconds = timer.DefaultCeiling
	c.Serve.Port = "8000"
	return &c
}

// Load reads path (when non-empty) over the defaults, then applies the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.API.URL = getEnv("API_URL", c.API.URL)
	c.API.Protocol = strings.ToLower(getEnv("API_PROTOCOL", c.API.Protocol))
	c.API.TimeoutSeconds = getEnvAsInt("API_TIMEOUT_SECONDS", c.API.TimeoutSeconds)
	c.API.H2C = getEnvAsBool("API_H2C", c.API.H2C)
	c.Channel.Transport = strings.ToLower(getEnv("CHANNEL_TRANSPORT", c.Channel.Transport))
	c.Channel.NATSURL = getEnv("NATS_URL", c.Channel.NATSURL)
	c.Channel.WebSocketURL = getEnv("WS_URL", c.Channel.WebSocketURL)
	c.Store.DSN = getEnv("STORE_DSN", c.Store.DSN)
	c.Invite.BaseURL = getEnv("INVITE_BASE_URL", c.Invite.BaseURL)
	c.Invite.Copy = getEnvAsBool("INVITE_COPY", c.Invite.Copy)
	c.StatusAddr = getEnv("STATUS_ADDR", c.StatusAddr)
	c.Demo.Bots = getEnvAsBool("DEMO_BOTS", c.Demo.Bots)
	c.Demo.TimerSeconds = getEnvAsInt("DEMO_TIMER_SECONDS", c.Demo.TimerSeconds)
	c.Serve.Port = getEnv("PORT", c.Serve.Port)
	c.Serve.NATSURL = getEnv("SERVE_NATS_URL", c.Serve.NATSURL)
}

// Validate rejects unknown protocol and transport names.
func (c *Config) Validate() error {
	var errs []error
	switch c.API.Protocol {
	case ProtocolREST, ProtocolConnect:
	default:
		errs = append(errs, fmt.Errorf("unknown api protocol %q", c.API.Protocol))
	}
	switch c.Channel.Transport {
	case TransportNATS, TransportWebSocket, TransportMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown channel transport %q", c.Channel.Transport))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Timeout bounds each remote call.
func (c *Config) Timeout() time.Duration {
	if c.API.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
