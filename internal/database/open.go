package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// sqlitePragmas are applied to every pooled SQLite connection. A busy
// timeout lets the standalone connection wait for the run's transaction
// instead of failing at once with SQLITE_BUSY.
var sqlitePragmas = []string{
	"_pragma=busy_timeout(5000)",
	"_pragma=foreign_keys(1)",
}

// Open opens a pool for cfg and pings it.
func Open(ctx context.Context, cfg ConnectionConfig) (*sql.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := cfg.URL
	if cfg.Type == DatabaseTypeSQLite {
		dsn = sqliteDSN(cfg.URL)
	}

	db, err := sql.Open(SQLDriverName(cfg.Type, cfg.PostgresDriver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// sqliteDSN turns a SQLite connection string into a modernc.org/sqlite DSN
// carrying the pool pragmas. In-memory databases are passed through as is.
func sqliteDSN(connStr string) string {
	path := SQLiteFilePath(connStr)
	if path == "" {
		return connStr
	}
	var params []string
	if idx := strings.Index(connStr, "?"); idx >= 0 {
		params = append(params, strings.Split(connStr[idx+1:], "&")...)
	}
	for _, pragma := range sqlitePragmas {
		name := pragma[:strings.Index(pragma, "(")]
		if !strings.Contains(connStr, name+"(") {
			params = append(params, pragma)
		}
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}
