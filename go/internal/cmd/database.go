package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/estimate/go/internal/config"
	"github.com/mcdev12/estimate/go/internal/session/store"
)

func setupStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	dsn := cfg.Store.DSN
	if store.IsPostgresDSN(dsn) {
		dsn = "postgres"
	}
	log.Debug().Str("driver", st.Driver()).Str("store", dsn).Msg("connected to local store")
	return st, nil
}
