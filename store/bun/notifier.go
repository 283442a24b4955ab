package bunstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/courier/queue"
)

// notifyChannel matches the channel used by the pgx store, so processes
// on either store wake each other.
const notifyChannel = "courier_jobs"

var _ queue.Notifier = (*Notifier)(nil)

// Notifier carries queue wake-ups with LISTEN/NOTIFY through pgdriver.
type Notifier struct {
	db     *bun.DB
	local  *queue.LocalNotifier
	logger *slog.Logger

	mu       sync.Mutex
	listener *pgdriver.Listener
	done     chan struct{}
}

// Notifier returns a Notifier on the store's database.
func (s *Store) Notifier() *Notifier {
	return &Notifier{
		db:     s.db,
		local:  queue.NewLocalNotifier(),
		logger: s.logger,
	}
}

// Start begins listening for wake-ups.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener != nil {
		return nil
	}

	ln := pgdriver.NewListener(n.db)
	if err := ln.Listen(ctx, notifyChannel); err != nil {
		_ = ln.Close()
		return fmt.Errorf("courier/bun: listen: %w", err)
	}

	n.listener = ln
	n.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		for msg := range ln.CreateChannel() {
			n.local.Broadcast(msg.Payload)
		}
	}(n.done)
	return nil
}

// Notify sends a wake-up for topic to every listening process.
func (n *Notifier) Notify(ctx context.Context, topic string) error {
	if err := pgdriver.Notify(ctx, n.db, notifyChannel, topic); err != nil {
		return fmt.Errorf("courier/bun: notify: %w", err)
	}
	return nil
}

// Subscribe registers a local subscriber for topic.
func (n *Notifier) Subscribe(topic string) (<-chan struct{}, func()) {
	return n.local.Subscribe(topic)
}

// Close stops listening.
func (n *Notifier) Close() error {
	n.mu.Lock()
	ln, done := n.listener, n.done
	n.listener = nil
	n.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	<-done
	if err != nil {
		n.logger.Warn("bun notifier close", slog.String("error", err.Error()))
	}
	return err
}
