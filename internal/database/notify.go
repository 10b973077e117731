package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lockplane/lockstep/internal/migrate"
)

// PGNotifyPublisher delivers notifications with pg_notify on the raising
// step's own handle. An unscoped step's connection is in autocommit, so
// listeners hear the notification as soon as the statement returns, and the
// run never needs a pooled connection beyond the ones it already holds.
type PGNotifyPublisher struct{}

func NewPGNotifyPublisher() *PGNotifyPublisher {
	return &PGNotifyPublisher{}
}

func (p *PGNotifyPublisher) Publish(ctx context.Context, db migrate.Queryer, n migrate.Notification) error {
	if db == nil {
		return fmt.Errorf("failed to notify channel %s: no database handle", n.Channel)
	}
	if _, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", n.Channel, n.Payload); err != nil {
		return fmt.Errorf("failed to notify channel %s: %w", n.Channel, err)
	}
	return nil
}

// LogPublisher writes notifications to a logger. It stands in for
// pg_notify on databases without a notification channel.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, _ migrate.Queryer, n migrate.Notification) error {
	p.logger.Info("store changed", "channel", n.Channel, "payload", n.Payload)
	return nil
}

// PublisherFor picks the publisher matching dbType.
func PublisherFor(dbType DatabaseType, logger *slog.Logger) migrate.Publisher {
	if dbType == DatabaseTypePostgres {
		return NewPGNotifyPublisher()
	}
	return NewLogPublisher(logger)
}
