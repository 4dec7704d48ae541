package store

import (
	"context"
	"database/sql"

	"github.com/mcdev12/estimate/go/internal/session/events"
	"github.com/mcdev12/estimate/go/internal/session/state"
	"github.com/mcdev12/estimate/go/internal/sqlutil"
)

// queries are written with $N placeholders and rebound for SQLite.
type queries struct {
	db     sqlutil.DBTX
	sqlite bool
}

func (q *queries) exec(ctx context.Context, query string, args ...any) error {
	if q.sqlite {
		query = sqlutil.Rebind(query)
	}
	_, err := q.db.ExecContext(ctx, query, args...)
	return err
}

func (q *queries) row(ctx context.Context, query string, args ...any) *sql.Row {
	if q.sqlite {
		query = sqlutil.Rebind(query)
	}
	return q.db.QueryRowContext(ctx, query, args...)
}

const upsertPointer = `
INSERT INTO session_pointer (slot, code, participant_id, is_facilitator, saved_at_ms)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (slot) DO UPDATE SET
    code = excluded.code,
    participant_id = excluded.participant_id,
    is_facilitator = excluded.is_facilitator,
    saved_at_ms = excluded.saved_at_ms`

func (q *queries) upsertPointer(ctx context.Context, p state.Pointer) error {
	return q.exec(ctx, upsertPointer, slot, p.Code, p.ParticipantID, p.IsFacilitator, sqlutil.ToUnixMillis(p.SavedAt))
}

const getPointer = `
SELECT code, participant_id, is_facilitator, saved_at_ms
FROM session_pointer
WHERE slot = $1`

func (q *queries) getPointer(ctx context.Context) (*state.Pointer, error) {
	var (
		p       state.Pointer
		savedAt int64
	)
	if err := q.row(ctx, getPointer, slot).Scan(&p.Code, &p.ParticipantID, &p.IsFacilitator, &savedAt); err != nil {
		return nil, err
	}
	p.SavedAt = sqlutil.FromUnixMillis(savedAt)
	return &p, nil
}

func (q *queries) deletePointer(ctx context.Context) error {
	return q.exec(ctx, `DELETE FROM session_pointer WHERE slot = $1`, slot)
}

const upsertToken = `
INSERT INTO auth_token (slot, token, saved_at_ms)
VALUES ($1, $2, $3)
ON CONFLICT (slot) DO UPDATE SET
    token = excluded.token,
    saved_at_ms = excluded.saved_at_ms`

func (q *queries) upsertToken(ctx context.Context, token string) error {
	return q.exec(ctx, upsertToken, slot, sqlutil.ToSqlString(token), sqlutil.ToUnixMillis(timeNow()))
}

func (q *queries) getToken(ctx context.Context) (string, error) {
	var token sql.NullString
	if err := q.row(ctx, `SELECT token FROM auth_token WHERE slot = $1`, slot).Scan(&token); err != nil {
		return "", err
	}
	return sqlutil.FromSqlString(token, ""), nil
}

func (q *queries) deleteToken(ctx context.Context) error {
	return q.exec(ctx, `DELETE FROM auth_token WHERE slot = $1`, slot)
}

const upsertProfile = `
INSERT INTO user_profile (slot, name, emoji)
VALUES ($1, $2, $3)
ON CONFLICT (slot) DO UPDATE SET
    name = excluded.name,
    emoji = excluded.emoji`

func (q *queries) upsertProfile(ctx context.Context, p events.Profile) error {
	return q.exec(ctx, upsertProfile, slot, p.Name, p.Emoji)
}

func (q *queries) getProfile(ctx context.Context) (events.Profile, error) {
	var p events.Profile
	err := q.row(ctx, `SELECT name, emoji FROM user_profile WHERE slot = $1`, slot).Scan(&p.Name, &p.Emoji)
	return p, err
}
