package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier/queue"
)

var _ queue.Notifier = (*Notifier)(nil)

// Notifier carries queue wake-ups between processes over Redis Pub/Sub.
// Notify publishes on the topic's channel; a background subscription fans
// received messages out to local subscribers.
type Notifier struct {
	client goredis.UniversalClient
	local  *queue.LocalNotifier
	logger *slog.Logger

	mu     sync.Mutex
	pubsub *goredis.PubSub
	done   chan struct{}
}

// NewNotifier creates a Notifier on client. Call Start to begin receiving.
func NewNotifier(client goredis.UniversalClient, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		client: client,
		local:  queue.NewLocalNotifier(),
		logger: logger,
	}
}

// Start subscribes to every topic channel and returns once the
// subscription is confirmed.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.pubsub != nil {
		return nil
	}

	ps := n.client.PSubscribe(ctx, notifyPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("courier/redis: subscribe: %w", err)
	}

	n.pubsub = ps
	n.done = make(chan struct{})
	go n.receive(ps, n.done)
	return nil
}

func (n *Notifier) receive(ps *goredis.PubSub, done chan struct{}) {
	defer close(done)
	for msg := range ps.Channel() {
		n.local.Broadcast(strings.TrimPrefix(msg.Channel, notifyPrefix))
	}
}

// Notify publishes a wake-up for topic.
func (n *Notifier) Notify(ctx context.Context, topic string) error {
	if err := n.client.Publish(ctx, notifyChannel(topic), "").Err(); err != nil {
		return fmt.Errorf("courier/redis: notify: %w", err)
	}
	return nil
}

// Subscribe registers a local subscriber for topic.
func (n *Notifier) Subscribe(topic string) (<-chan struct{}, func()) {
	return n.local.Subscribe(topic)
}

// Close ends the subscription and waits for the receive loop to exit.
func (n *Notifier) Close() error {
	n.mu.Lock()
	ps, done := n.pubsub, n.done
	n.pubsub = nil
	n.mu.Unlock()

	if ps == nil {
		return nil
	}
	err := ps.Close()
	<-done
	if err != nil && !errors.Is(err, goredis.ErrClosed) {
		n.logger.Warn("redis notifier close", slog.String("error", err.Error()))
		return err
	}
	return nil
}
