package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/courier/queue"
)

// notifyChannel is the LISTEN/NOTIFY channel; the payload is the topic.
const notifyChannel = "courier_jobs"

// reconnectDelay is the pause before re-establishing a lost LISTEN
// connection.
const reconnectDelay = time.Second

var _ queue.Notifier = (*Notifier)(nil)

// Notifier carries queue wake-ups between processes with LISTEN/NOTIFY.
// One pooled connection is held for LISTEN while the notifier runs.
type Notifier struct {
	pool   *pgxpool.Pool
	local  *queue.LocalNotifier
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Notifier returns a Notifier sharing the store's pool.
func (s *Store) Notifier() *Notifier {
	return NewNotifier(s.pool, s.logger)
}

// NewNotifier creates a Notifier on pool. Call Start to begin listening.
func NewNotifier(pool *pgxpool.Pool, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		pool:   pool,
		local:  queue.NewLocalNotifier(),
		logger: logger,
	}
}

// Start acquires the LISTEN connection and returns once it is listening.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancel != nil {
		return nil
	}

	conn, err := n.listen(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.done = make(chan struct{})
	go n.run(runCtx, conn, n.done)
	return nil
}

func (n *Notifier) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("courier/postgres: acquire listen conn: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("courier/postgres: listen: %w", err)
	}
	return conn, nil
}

// run forwards notifications to local subscribers, reconnecting when the
// LISTEN connection fails.
func (n *Notifier) run(ctx context.Context, conn *pgxpool.Conn, done chan struct{}) {
	defer close(done)

	for {
		for {
			msg, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				break
			}
			n.local.Broadcast(msg.Payload)
		}

		if ctx.Err() != nil {
			// The connection was interrupted mid-wait; do not reuse it.
			_ = conn.Conn().Close(context.Background())
			conn.Release()
			return
		}

		n.logger.Warn("postgres notifier: listen connection lost, reconnecting")
		conn.Release()

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			var err error
			conn, err = n.listen(ctx)
			if err == nil {
				break
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			n.logger.Warn("postgres notifier: reconnect failed", slog.String("error", err.Error()))
		}
	}
}

// Notify sends a wake-up for topic to every listening process.
func (n *Notifier) Notify(ctx context.Context, topic string) error {
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, topic); err != nil {
		return fmt.Errorf("courier/postgres: notify: %w", err)
	}
	return nil
}

// Subscribe registers a local subscriber for topic.
func (n *Notifier) Subscribe(topic string) (<-chan struct{}, func()) {
	return n.local.Subscribe(topic)
}

// Close stops listening and releases the connection.
func (n *Notifier) Close() error {
	n.mu.Lock()
	cancel, done := n.cancel, n.done
	n.cancel = nil
	n.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
