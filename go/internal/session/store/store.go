// Package store persists the client's durable local data: the rejoin
// pointer, the auth token and the user's profile. SQLite is the default;
// a postgres:// DSN selects Postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/sqlutil"
)

// the store holds a single row per table
const slot = 1

var timeNow = time.Now

var schema = []string{
	`CREATE TABLE IF NOT EXISTS session_pointer (
    slot INTEGER PRIMARY KEY,
    code TEXT NOT NULL,
    participant_id BIGINT NOT NULL,
    is_facilitator BOOLEAN NOT NULL,
    saved_at_ms BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS auth_token (
    slot INTEGER PRIMARY KEY,
    token TEXT,
    saved_at_ms BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS user_profile (
    slot INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    emoji TEXT NOT NULL
)`,
}

// Store implements state.PointerStore and remote.TokenStore.
type Store struct {
	db     *sql.DB
	driver string
}

// IsPostgresDSN reports whether dsn points at Postgres rather than a SQLite file.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("empty store dsn")
	}

	var (
		db     *sql.DB
		driver string
		err    error
	)
	if IsPostgresDSN(dsn) {
		driver = "postgres"
		db, err = sql.Open(driver, dsn)
	} else {
		driver = "sqlite"
		db, err = openSQLite(ctx, dsn)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("driver", driver).Msg("store opened")
	return s, nil
}

func openSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		parent := filepath.Dir(path)
		if parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{`PRAGMA busy_timeout = 5000;`, `PRAGMA journal_mode = WAL;`} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	return db, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}
	return nil
}

// Driver returns "sqlite" or "postgres".
func (s *Store) Driver() string { return s.driver }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) queries(db sqlutil.DBTX) *queries {
	return &queries{db: db, sqlite: s.driver == "sqlite"}
}

// SavePointer records the session to rejoin after a restart.
func (s *Store) SavePointer(ctx context.Context, p state.Pointer) error {
	if p.SavedAt.IsZero() {
		p.SavedAt = timeNow()
	}
	if err := s.queries(s.db).upsertPointer(ctx, p); err != nil {
		return fmt.Errorf("store.SavePointer: %w", err)
	}
	return nil
}

// LoadPointer returns the saved pointer, or nil when there is none.
func (s *Store) LoadPointer(ctx context.Context) (*state.Pointer, error) {
	p, err := s.queries(s.db).getPointer(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store.LoadPointer: %w", err)
	}
	return p, nil
}

func (s *Store) ClearPointer(ctx context.Context) error {
	if err := s.queries(s.db).deletePointer(ctx); err != nil {
		return fmt.Errorf("store.ClearPointer: %w", err)
	}
	return nil
}

func (s *Store) SaveToken(ctx context.Context, token string) error {
	if err := s.queries(s.db).upsertToken(ctx, token); err != nil {
		return fmt.Errorf("store.SaveToken: %w", err)
	}
	return nil
}

// LoadToken returns the saved token, or "" when there is none.
func (s *Store) LoadToken(ctx context.Context) (string, error) {
	token, err := s.queries(s.db).getToken(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store.LoadToken: %w", err)
	}
	return token, nil
}

func (s *Store) ClearToken(ctx context.Context) error {
	if err := s.queries(s.db).deleteToken(ctx); err != nil {
		return fmt.Errorf("store.ClearToken: %w", err)
	}
	return nil
}

// Forget drops the pointer and token together, used when a saved session
// turns out to be stale.
func (s *Store) Forget(ctx context.Context) error {
	err := sqlutil.Run(ctx, s.db, s.queries, func(q *queries) error {
		if err := q.deletePointer(ctx); err != nil {
			return err
		}
		return q.deleteToken(ctx)
	})
	if err != nil {
		return fmt.Errorf("store.Forget: %w", err)
	}
	return nil
}

// SaveProfile stores the user's display identity.
func (s *Store) SaveProfile(ctx context.Context, p events.Profile) error {
	if err := s.queries(s.db).upsertProfile(ctx, p); err != nil {
		return fmt.Errorf("store.SaveProfile: %w", err)
	}
	return nil
}

// LoadProfile returns the saved profile, falling back to the defaults.
func (s *Store) LoadProfile(ctx context.Context) (events.Profile, error) {
	p, err := s.queries(s.db).getProfile(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return state.DefaultProfile(), nil
	}
	if err != nil {
		return state.DefaultProfile(), fmt.Errorf("store.LoadProfile: %w", err)
	}
	if p.Name == "" {
		p.Name = state.DefaultName
	}
	if p.Emoji == "" {
		p.Emoji = state.DefaultEmoji
	}
	return p, nil
}
