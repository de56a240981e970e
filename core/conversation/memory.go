package conversation

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/m3rciful/betbot/core/logger"
	"github.com/m3rciful/betbot/core/metrics"
)

const (
	defaultMaxUsers = 10000
	defaultTTL      = 30 * time.Minute
)

type memoryTracker struct {
	cache *expirable.LRU[string, Builder]
}

// NewMemoryTracker keeps builders in process memory. At most maxUsers entries are held;
// the least recently used one is evicted beyond that, and entries untouched for ttl expire.
func NewMemoryTracker(maxUsers int, ttl time.Duration) Tracker {
	if maxUsers <= 0 {
		maxUsers = defaultMaxUsers
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	onEvict := func(userID string, b Builder) {
		logger.Conv.Debug("conversation evicted",
			slog.String("event", "conv.evict"),
			slog.String("user_id", userID),
			slog.String("stage", b.Stage.String()),
		)
	}
	m := &memoryTracker{cache: expirable.NewLRU[string, Builder](maxUsers, onEvict, ttl)}
	metrics.TrackConversations(m.Len)
	return m
}

func (m *memoryTracker) Begin(ctx context.Context, userID string) (Builder, error) {
	b := fresh()
	return b, m.Set(ctx, userID, b)
}

func (m *memoryTracker) Get(_ context.Context, userID string) (Builder, error) {
	b, ok := m.cache.Get(userID)
	if !ok {
		return Builder{}, ErrNotFound
	}
	return b, nil
}

// Set stores b and restarts its TTL.
func (m *memoryTracker) Set(_ context.Context, userID string, b Builder) error {
	m.cache.Add(userID, b)
	return nil
}

func (m *memoryTracker) Clear(_ context.Context, userID string) error {
	m.cache.Remove(userID)
	return nil
}

func (m *memoryTracker) Len() int { return m.cache.Len() }

func (m *memoryTracker) Close() error {
	m.cache.Purge()
	return nil
}
