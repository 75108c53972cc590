// Package worker runs the resolution trigger: an independent watcher that
// reacts to MarketResolved logs by submitting distribute transactions. It
// shares nothing with the materialized tables; its only coupling to the core
// is consuming the same contract's event stream.
package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// Dedup remembers which logs already triggered a distribute within a TTL
// window, so a rescanned block range does not submit the transaction twice.
// Safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given TTL window.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// logKey identifies a log by transaction hash and index, the same pair the
// indexer uses for idempotency.
func logKey(lg types.Log) string {
	return fmt.Sprintf("%s:%d", lg.TxHash.Hex(), lg.Index)
}

// IsDuplicate reports whether the log was seen within the TTL window. An
// unseen (or expired) log is recorded and reported as new.
func (d *Dedup) IsDuplicate(lg types.Log) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := logKey(lg)
	now := time.Now()
	if lastSeen, ok := d.seen[key]; ok {
		if now.Sub(lastSeen) < d.ttl {
			return true
		}
	}

	d.seen[key] = now
	return false
}

// Cleanup drops expired entries. Call periodically to bound memory.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}
