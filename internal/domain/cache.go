package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market lookups for the read API. Cache misses
// fall through to the MarketStore.
type MarketCache interface {
	Set(ctx context.Context, m Market) error
	Get(ctx context.Context, id string) (Market, error)
	Invalidate(ctx context.Context, id string) error
}

// LockManager provides distributed locking. The materializer holds a
// per-market lock across the resolution handler so two instances can never
// resolve the same market concurrently with divergent contract reads.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter applies request throttling for the read API.
type RateLimiter interface {
	// Allow reports whether the key may perform another request within the
	// current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// SignalBus is the pub/sub fan-out from the materializer to live consumers
// (the WebSocket hub). Payloads are JSON.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (<-chan BusMessage, error)
}

// BusMessage is one message delivered by a SignalBus subscription.
type BusMessage struct {
	Channel string
	Payload []byte
}
