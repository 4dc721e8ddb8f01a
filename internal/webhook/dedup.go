package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/llm-key-proxy/internal/ring"
)

// DedupStore guarantees at-most-one delivery per (eventType, dedupeKey)
// within a window (spec.md §5: "Webhook dedup window guarantees
// at-most-one delivery per (eventType, dedupeKey) within the window").
// SeenRecently atomically checks-and-marks: a false result also records
// the key as seen from now.
type DedupStore interface {
	SeenRecently(ctx context.Context, compositeKey string, window time.Duration, now time.Time) (bool, error)
}

// memDedupStore is the Lite-profile, single-process dedup window: a
// capacity-bounded recency map holding each key's last-seen timestamp,
// reusing internal/ring.LRUMap instead of a bespoke map+mutex (the same
// collection the policy engine's glob cache already uses).
type memDedupStore struct {
	mu   sync.Mutex
	seen *ring.LRUMap[string, time.Time]
}

// NewMemDedupStore creates an in-process dedup window bounded to
// capacity distinct keys.
func NewMemDedupStore(capacity int) DedupStore {
	return &memDedupStore{seen: ring.NewLRUMap[string, time.Time](capacity, nil)}
}

func (m *memDedupStore) SeenRecently(_ context.Context, compositeKey string, window time.Duration, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if last, ok := m.seen.Get(compositeKey); ok && now.Sub(last) < window {
		return true, nil
	}
	m.seen.Set(compositeKey, now)
	return false, nil
}

// redisDedupStore is the Standard-profile dedup window: a
// cluster-visible SET NX EX, so the window holds across every proxy
// instance sharing one Redis deployment.
type redisDedupStore struct {
	client *redis.Client
}

// NewRedisDedupStore wraps an existing go-redis client.
func NewRedisDedupStore(client *redis.Client) DedupStore {
	return &redisDedupStore{client: client}
}

func (r *redisDedupStore) SeenRecently(ctx context.Context, compositeKey string, window time.Duration, now time.Time) (bool, error) {
	ok, err := r.client.SetNX(ctx, "webhook:dedup:"+compositeKey, now.UnixNano(), window).Result()
	if err != nil {
		return false, err
	}
	// SetNX succeeding means this call set it for the first time (not
	// seen); failing means a prior call's key is still live (seen).
	return !ok, nil
}
