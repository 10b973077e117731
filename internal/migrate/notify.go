package migrate

import (
	"context"
	"log/slog"
	"sync"
)

// Notification is a store-level change event, such as "table users altered".
type Notification struct {
	Channel string
	Payload string
}

// Publisher delivers notifications to whoever listens for store changes.
// db is the handle of the step that raised n. Publishers that talk to the
// database must use it rather than borrow another pooled connection.
type Publisher interface {
	Publish(ctx context.Context, db Queryer, n Notification) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, db Queryer, n Notification) error

func (f PublisherFunc) Publish(ctx context.Context, db Queryer, n Notification) error {
	return f(ctx, db, n)
}

// Notifications gates a Publisher. While suppressed, notifications are
// dropped and counted so listeners never see a half-migrated store.
type Notifications struct {
	mu         sync.Mutex
	publisher  Publisher
	suppressed int
	dropped    int
	logger     *slog.Logger
}

// NewNotifications wraps publisher. A nil publisher drops everything.
func NewNotifications(publisher Publisher, logger *slog.Logger) *Notifications {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifications{publisher: publisher, logger: logger}
}

// Suppress stops delivery until the returned restore func is called.
// Calls nest; restore is safe to call more than once.
func (n *Notifications) Suppress() (restore func()) {
	n.mu.Lock()
	n.suppressed++
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			n.suppressed--
			n.mu.Unlock()
		})
	}
}

// Suppressed reports whether delivery is currently suppressed.
func (n *Notifications) Suppressed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.suppressed > 0
}

// Dropped returns how many notifications were discarded while suppressed.
func (n *Notifications) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Publish delivers note on db, or drops it while suppressed.
func (n *Notifications) Publish(ctx context.Context, db Queryer, note Notification) error {
	n.mu.Lock()
	if n.suppressed > 0 {
		n.dropped++
		n.mu.Unlock()
		n.logger.Debug("notification suppressed", "channel", note.Channel)
		return nil
	}
	publisher := n.publisher
	n.mu.Unlock()

	if publisher == nil {
		return nil
	}
	return publisher.Publish(ctx, db, note)
}
