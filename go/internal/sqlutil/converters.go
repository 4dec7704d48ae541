package sqlutil

import (
	"database/sql"
	"regexp"
	"time"
)

// ToSqlString converts an empty Go string to a NULL
func ToSqlString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: val, Valid: true}
}

// FromSqlString converts sql.NullString to Go string with default
func FromSqlString(val sql.NullString, defaultVal string) string {
	if !val.Valid {
		return defaultVal
	}
	return val.String
}

// ToUnixMillis stores a time as integer milliseconds, which both SQLite
// and Postgres round-trip exactly.
func ToUnixMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromUnixMillis is the inverse of ToUnixMillis
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var numberedParam = regexp.MustCompile(`\$\d+`)

// Rebind rewrites $1-style placeholders to ? for drivers that want them.
// Arguments must appear in the query in numeric order.
func Rebind(query string) string {
	return numberedParam.ReplaceAllString(query, "?")
}
