package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/config"
	"github.com/mcdev12/estimate/go/internal/session/channel"
	"github.com/mcdev12/estimate/go/internal/session/mockapi"
	"github.com/mcdev12/estimate/go/internal/session/remote"
	"github.com/mcdev12/estimate/go/internal/session/remotesync"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/session/store"
	"github.com/mcdev12/estimate/go/internal/session/watchdog"
)

type Services struct {
	Config    *config.Config
	Store     *store.Store
	Transport channel.Transport
	Adapter   *remotesync.Adapter
	Machine   *state.Machine
	Watchdog  *watchdog.Watchdog
	Mock      *mockapi.Service
	Notices   chan state.Notice
	// Changes is signalled, without blocking, after every state change.
	Changes chan struct{}

	signals *watchdog.SignalSource
}

// setupServices wires the session stack. With demo set the remote service
// is the in-process mock and nothing is persisted between runs.
func setupServices(ctx context.Context, cfg *config.Config, st *store.Store, demo bool) (*Services, error) {
	// Wire up dependency injection chain
	// Remote service + transport → Adapter → Machine → Watchdog
	s := &Services{
		Config:  cfg,
		Store:   st,
		Notices: make(chan state.Notice, 4),
		Changes: make(chan struct{}, 1),
	}

	var service state.Service
	if demo {
		bus := channel.NewMemory()
		opts := mockapi.Options{TimerSeconds: cfg.Demo.TimerSeconds}
		if cfg.Demo.Bots {
			opts.Bots = mockapi.DefaultBots()
		}
		s.Mock = mockapi.New(bus, opts)
		service = s.Mock
		s.Transport = bus
	} else {
		var err error
		if service, err = setupRemote(ctx, cfg, st); err != nil {
			return nil, err
		}
		if s.Transport, err = setupTransport(cfg); err != nil {
			return nil, err
		}
	}

	s.Adapter = remotesync.New(service, s.Transport)

	opts := state.Options{
		CallTimeout: cfg.Timeout(),
		OnNotice: func(n state.Notice) {
			select {
			case s.Notices <- n:
			default:
				log.Warn().Str("notice", n.Message).Msg("notice dropped")
			}
		},
		OnChange: func(state.State) {
			select {
			case s.Changes <- struct{}{}:
			default:
			}
		},
	}
	// a nil *store.Store must not become a non-nil interface
	if !demo && st != nil {
		opts.Store = st
	}
	s.Machine = state.NewMachine(s.Adapter, opts)

	s.signals = watchdog.NewSignalSource()
	s.Watchdog = watchdog.New(s.signals, s.Machine, s.Adapter)
	s.Watchdog.SetTimeout(cfg.Timeout())
	s.Machine.AddObserver(s.Watchdog)

	return s, nil
}

func setupRemote(ctx context.Context, cfg *config.Config, st *store.Store) (state.Service, error) {
	var tokens remote.TokenStore
	if st != nil {
		tokens = st
	}

	switch cfg.API.Protocol {
	case config.ProtocolConnect:
		httpClient := &http.Client{Timeout: cfg.Timeout()}
		if cfg.API.H2C {
			httpClient = remote.NewH2CClient(cfg.Timeout())
		}
		c := remote.NewConnectClient(httpClient, cfg.API.URL, tokens)
		if err := c.RestoreToken(ctx); err != nil {
			log.Warn().Err(err).Msg("could not restore auth token")
		}
		return c, nil
	default:
		c := remote.NewClient(cfg.API.URL, tokens)
		c.SetTimeout(cfg.Timeout())
		if err := c.RestoreToken(ctx); err != nil {
			log.Warn().Err(err).Msg("could not restore auth token")
		}
		return c, nil
	}
}

func setupTransport(cfg *config.Config) (channel.Transport, error) {
	switch cfg.Channel.Transport {
	case config.TransportNATS:
		natsCfg := channel.DefaultNATSConfig()
		natsCfg.URL = cfg.Channel.NATSURL
		natsCfg.Name = "estimate-" + uuid.NewString()[:8]
		natsCfg.ReconnectWait = 2 * time.Second
		n, err := channel.NewNATS(natsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect event channel: %w", err)
		}
		return n, nil
	case config.TransportMemory:
		log.Warn().Msg("memory transport only carries events published in this process")
		return channel.NewMemory(), nil
	default:
		wsCfg := channel.DefaultWebSocketConfig()
		wsCfg.URL = cfg.Channel.WebSocketURL
		return channel.NewWebSocket(wsCfg), nil
	}
}

// Close stops the signal handlers and the transport.
func (s *Services) Close() {
	if s.signals != nil {
		s.signals.Stop()
	}
	if s.Transport != nil {
		if err := s.Transport.Close(); err != nil {
			log.Debug().Err(err).Msg("transport close")
		}
	}
}
