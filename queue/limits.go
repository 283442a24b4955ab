package queue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// LimitConfig defines per-topic rate limiting and concurrency.
type LimitConfig struct {
	// Topic is the topic this limit applies to.
	Topic string

	// MaxConcurrency limits how many jobs of this topic may run
	// simultaneously in the local worker pool. Zero means no
	// topic-specific limit (pool concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second that may be
	// claimed from this topic. Zero disables rate limiting. Useful to stay
	// under an SMTP relay's sending quota.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// topicState tracks runtime state for a single topic.
type topicState struct {
	config  LimitConfig
	limiter *rate.Limiter
	active  int
	// released is closed and replaced whenever a slot frees up.
	released chan struct{}
}

// Manager gates claims per topic. Workers call Acquire before popping a
// job and Release once the job has been acked or nacked, so a limited
// topic never has more jobs leased locally than it may run.
// It is safe for concurrent use.
type Manager struct {
	mu     sync.Mutex
	topics map[string]*topicState
}

// NewManager creates a Manager with the given limits.
// Topics not listed here have no limits.
func NewManager(configs ...LimitConfig) *Manager {
	m := &Manager{topics: make(map[string]*topicState, len(configs))}
	for _, cfg := range configs {
		m.topics[cfg.Topic] = newTopicState(cfg)
	}
	return m
}

func newTopicState(cfg LimitConfig) *topicState {
	ts := &topicState{config: cfg, released: make(chan struct{})}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// TryAcquire takes a slot for topic without blocking. It returns false if
// the topic is at its concurrency cap or out of rate tokens.
func (m *Manager) TryAcquire(topic string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.topics[topic]
	if ts == nil {
		return true
	}
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	ts.active++
	return true
}

// Acquire blocks until a slot for topic is free and a rate token is
// available, or ctx is done. On success the caller MUST call Release.
func (m *Manager) Acquire(ctx context.Context, topic string) error {
	for {
		m.mu.Lock()
		ts := m.topics[topic]
		if ts == nil {
			m.mu.Unlock()
			return nil
		}
		if ts.config.MaxConcurrency <= 0 || ts.active < ts.config.MaxConcurrency {
			ts.active++
			limiter := ts.limiter
			m.mu.Unlock()

			if limiter == nil {
				return nil
			}
			if err := limiter.Wait(ctx); err != nil {
				m.Release(topic)
				return err
			}
			return nil
		}
		released := ts.released
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-released:
		}
	}
}

// Release returns a slot taken by Acquire or TryAcquire.
func (m *Manager) Release(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.topics[topic]
	if ts == nil || ts.active == 0 {
		return
	}
	ts.active--
	close(ts.released)
	ts.released = make(chan struct{})
}

// SetLimit dynamically updates (or creates) a topic limit.
func (m *Manager) SetLimit(cfg LimitConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.topics[cfg.Topic]
	ts := newTopicState(cfg)

	// Preserve current active count and wake waiters so they re-check
	// against the new cap.
	if existing != nil {
		ts.active = existing.active
		close(existing.released)
	}
	m.topics[cfg.Topic] = ts
}

// ActiveCount returns the current number of active jobs for a topic.
func (m *Manager) ActiveCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.topics[topic]; ts != nil {
		return ts.active
	}
	return 0
}
