// Package inbox suppresses duplicate deliveries. The engine guarantees
// at-least-once delivery, so a message may arrive more than once after a
// lease handoff; the guard records every message ID whose handling finished
// and reports repeats so handlers are only invoked once per ID within the
// TTL window.
//
// Checking and marking are separate operations: a record is marked only
// after it has been handled. A record abandoned mid-handling (shutdown) is
// never marked, so its redelivery is dispatched again rather than
// suppressed.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "conveyor:inbox:"
	defaultTTL    = 24 * time.Hour
)

// Store is the slice of *redis.Client the guard relies on.
type Store interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Guard is a redis-backed seen-message filter keyed on envelope message IDs.
type Guard struct {
	store  Store
	prefix string
	ttl    time.Duration
}

// Option customizes a Guard.
type Option func(*Guard)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(g *Guard) { g.prefix = prefix }
}

// WithTTL overrides how long a message ID stays marked as seen.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// New creates a guard backed by store.
func New(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:  store,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Seen reports whether messageID was already marked as handled. The check
// does not mark: an unhandled message stays unseen until Mark is called.
func (g *Guard) Seen(ctx context.Context, messageID string) (bool, error) {
	n, err := g.store.Exists(ctx, g.prefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("inbox check for %s: %w", messageID, err)
	}
	return n > 0, nil
}

// Mark records messageID as handled for the TTL window.
func (g *Guard) Mark(ctx context.Context, messageID string) error {
	if err := g.store.Set(ctx, g.prefix+messageID, 1, g.ttl).Err(); err != nil {
		return fmt.Errorf("inbox mark for %s: %w", messageID, err)
	}
	return nil
}
