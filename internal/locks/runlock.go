// Package locks keeps two migration runs from touching the same database at
// once, and describes the table locks a step's statements take.
package locks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lockplane/lockstep/internal/database"
)

// ErrLocked is returned when another run holds the lock.
var ErrLocked = errors.New("another migration run holds the lock")

// Target is the database a run lock protects.
type Target struct {
	DB   *sql.DB
	Type database.DatabaseType
	URL  string
}

// Lock is a held run lock.
type Lock struct {
	key     string
	release func(ctx context.Context) error
	once    sync.Once
	err     error
}

// Key returns the name the lock was taken under.
func (l *Lock) Key() string {
	return l.key
}

// Release gives the lock up. Calling it again returns the first result.
func (l *Lock) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.release(ctx)
	})
	return l.err
}

// Acquire takes the run lock for key without waiting. Postgres uses a
// session advisory lock on a dedicated connection, SQLite a lock file next
// to the database. libSQL has neither, so the lock only logs a warning.
func Acquire(ctx context.Context, target Target, key string, logger *slog.Logger) (*Lock, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	switch target.Type {
	case database.DatabaseTypePostgres:
		return acquireAdvisory(ctx, target.DB, key)
	case database.DatabaseTypeSQLite:
		path := database.SQLiteFilePath(target.URL)
		if path == "" {
			return noopLock(key), nil
		}
		return acquireFile(path+".lockstep.lock", key)
	default:
		logger.Warn("run lock not supported, concurrent runs are not prevented", "database", target.Type)
		return noopLock(key), nil
	}
}

func noopLock(key string) *Lock {
	return &Lock{key: key, release: func(context.Context) error { return nil }}
}

func acquireAdvisory(ctx context.Context, db *sql.DB, key string) (*Lock, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", key).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !locked {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: advisory lock %q", ErrLocked, key)
	}

	return &Lock{key: key, release: func(ctx context.Context) error {
		defer func() { _ = conn.Close() }()
		var released bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", key).Scan(&released); err != nil {
			return fmt.Errorf("failed to release advisory lock: %w", err)
		}
		if !released {
			return fmt.Errorf("advisory lock %q was not held", key)
		}
		return nil
	}}, nil
}

// Holder is written into a lock file to say who holds it.
type Holder struct {
	Key        string    `json:"key"`
	PID        int       `json:"pid"`
	Host       string    `json:"host,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

func acquireFile(path, key string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		if holder, readErr := ReadHolder(path); readErr == nil {
			return nil, fmt.Errorf("%w: %s held by pid %d since %s (delete the file if that run is gone)",
				ErrLocked, path, holder.PID, holder.AcquiredAt.Format(time.RFC3339))
		}
		return nil, fmt.Errorf("%w: %s exists", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	host, _ := os.Hostname()
	holder := Holder{Key: key, PID: os.Getpid(), Host: host, AcquiredAt: time.Now().UTC()}
	if err := json.NewEncoder(f).Encode(holder); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &Lock{key: key, release: func(context.Context) error {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove lock file: %w", err)
		}
		return nil
	}}, nil
}

// ReadHolder reads the holder recorded in a lock file.
func ReadHolder(path string) (*Holder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("failed to parse lock file %s: %w", path, err)
	}
	return &h, nil
}
