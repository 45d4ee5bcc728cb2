package webhooks

import (
	"context"
	"time"
)

const (
	guardScope      = "genie-webhook"
	defaultGuardTTL = 30 * 24 * time.Hour
)

type idempotencyStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(ctx context.Context, keys ...string) error
}

// Guard deduplicates webhook deliveries. The gateway retries aggressively and
// offers no delivery id, so the key is the (transaction, state) pair.
type Guard struct {
	store idempotencyStore
	ttl   time.Duration
}

// NewGuard builds a delivery dedup guard. A non-positive TTL falls back to 30
// days, comfortably past the gateway's retry horizon.
func NewGuard(store idempotencyStore, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &Guard{store: store, ttl: ttl}
}

// CheckAndMark claims the delivery. It reports true when this is the first
// time the (transaction, state) pair has been seen.
func (g *Guard) CheckAndMark(ctx context.Context, transactionID, state string) (bool, error) {
	key := g.store.IdempotencyKey(guardScope, transactionID+":"+state)
	return g.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl)
}

// Release frees the claim so a failed handler can be retried by the gateway.
func (g *Guard) Release(ctx context.Context, transactionID, state string) error {
	key := g.store.IdempotencyKey(guardScope, transactionID+":"+state)
	return g.store.Del(ctx, key)
}
