package database

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DatabaseType is the kind of database a connection string points at.
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypeLibSQL   DatabaseType = "libsql"
)

// Postgres database/sql driver names.
const (
	PostgresDriverPQ  = "pq"
	PostgresDriverPGX = "pgx"
)

// ConnectionConfig describes how to reach the target database.
type ConnectionConfig struct {
	URL  string
	Type DatabaseType
	// PostgresDriver picks the database/sql driver for Postgres: "pq" (default) or "pgx".
	PostgresDriver  string
	PingTimeout     time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MinOpenConns is the smallest pool a run can finish with. Every run holds
// its transaction and one standalone connection at a time; Postgres also
// keeps the advisory lock on a connection of its own. Notifications go out
// on the raising step's handle and need none.
func MinOpenConns(dbType DatabaseType) int {
	if dbType == DatabaseTypePostgres {
		return 3
	}
	return 2
}

// DefaultConnectionConfig fills in pool settings for url.
func DefaultConnectionConfig(url string) ConnectionConfig {
	return ConnectionConfig{
		URL:             url,
		Type:            DetectDatabaseType(url),
		PostgresDriver:  PostgresDriverPQ,
		PingTimeout:     5 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

func (c ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("database url is required")
	}
	switch c.Type {
	case DatabaseTypePostgres, DatabaseTypeSQLite, DatabaseTypeLibSQL:
	default:
		return fmt.Errorf("unsupported database type %q", c.Type)
	}
	if c.Type == DatabaseTypePostgres {
		switch c.PostgresDriver {
		case "", PostgresDriverPQ, PostgresDriverPGX:
		default:
			return fmt.Errorf("unsupported postgres driver %q (use %q or %q)", c.PostgresDriver, PostgresDriverPQ, PostgresDriverPGX)
		}
	}
	if c.PingTimeout <= 0 {
		return errors.New("ping timeout must be positive")
	}
	if least := MinOpenConns(c.Type); c.MaxOpenConns < least {
		return fmt.Errorf("max open connections must be >= %d for %s", least, c.Type)
	}
	if c.MaxIdleConns < 0 {
		return errors.New("max idle connections must be >= 0")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max idle connections must be <= max open connections")
	}
	if c.ConnMaxLifetime < 0 {
		return errors.New("connection max lifetime must be >= 0")
	}
	return nil
}

// DetectDatabaseType guesses the database type from a connection string.
// Anything that is not a postgres or libsql URL is treated as SQLite.
func DetectDatabaseType(connStr string) DatabaseType {
	lower := strings.ToLower(strings.TrimSpace(connStr))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DatabaseTypePostgres
	case strings.HasPrefix(lower, "libsql://"), strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "wss://"):
		return DatabaseTypeLibSQL
	default:
		return DatabaseTypeSQLite
	}
}

// SQLDriverName returns the database/sql driver registered for dbType.
func SQLDriverName(dbType DatabaseType, postgresDriver string) string {
	switch dbType {
	case DatabaseTypePostgres:
		if postgresDriver == PostgresDriverPGX {
			return "pgx"
		}
		return "postgres"
	case DatabaseTypeLibSQL:
		return "libsql"
	default:
		return "sqlite"
	}
}

// SQLiteFilePath extracts the file path from a SQLite connection string.
// It returns "" for in-memory databases.
func SQLiteFilePath(connStr string) string {
	path := connStr
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = strings.TrimPrefix(path, "sqlite://")
	case strings.HasPrefix(path, "file:"):
		path = strings.TrimPrefix(path, "file:")
	}
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}
	if path == ":memory:" || path == "" {
		return ""
	}
	return path
}

// RedactURL hides the password in a connection string for display.
func RedactURL(connStr string) string {
	schemeEnd := strings.Index(connStr, "://")
	at := strings.LastIndex(connStr, "@")
	if schemeEnd < 0 || at < schemeEnd {
		return redactToken(connStr)
	}
	userinfo := connStr[schemeEnd+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		userinfo = userinfo[:colon] + ":****"
	}
	return redactToken(connStr[:schemeEnd+3] + userinfo + connStr[at:])
}

func redactToken(connStr string) string {
	idx := strings.Index(connStr, "authToken=")
	if idx < 0 {
		return connStr
	}
	end := strings.IndexAny(connStr[idx:], "&#")
	if end < 0 {
		return connStr[:idx] + "authToken=****"
	}
	return connStr[:idx] + "authToken=****" + connStr[idx+end:]
}
