package queue

import (
	"context"
	"sync"
)

// Notifier wakes workers blocked in Pop when a topic may have become
// claimable. Signals are hints: a woken worker re-checks the store, and a
// missed signal only delays a claim until the next poll.
type Notifier interface {
	// Notify signals every subscriber of topic.
	Notify(ctx context.Context, topic string) error

	// Subscribe returns a channel that receives a value after each Notify
	// of topic, and a function that ends the subscription. Signals are
	// coalesced: the channel holds at most one pending value.
	Subscribe(topic string) (<-chan struct{}, func())
}

// LocalNotifier is an in-process Notifier. It is used with the memory
// store, and as the fan-out half of the Redis and Postgres notifiers.
type LocalNotifier struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan struct{}
}

// NewLocalNotifier creates an empty LocalNotifier.
func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[string]map[uint64]chan struct{})}
}

// Notify signals every current subscriber of topic. It never blocks.
func (n *LocalNotifier) Notify(_ context.Context, topic string) error {
	n.Broadcast(topic)
	return nil
}

// Broadcast is Notify without a context, for bridges that receive
// signals from a backend.
func (n *LocalNotifier) Broadcast(topic string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe registers a subscriber for topic.
func (n *LocalNotifier) Subscribe(topic string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	n.mu.Lock()
	n.nextID++
	key := n.nextID
	if n.subs[topic] == nil {
		n.subs[topic] = make(map[uint64]chan struct{})
	}
	n.subs[topic][key] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			delete(n.subs[topic], key)
			if len(n.subs[topic]) == 0 {
				delete(n.subs, topic)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions to topic.
func (n *LocalNotifier) Subscribers(topic string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[topic])
}
