package eventsub

import (
	"sync"
	"time"
)

// Deduplicator is a bounded-recency set of event fingerprints. Webhook
// transports redeliver on timeout, so at-least-once delivery has to degrade
// to effectively-once side effects; the cache is not durable and a restart
// briefly re-exposes the replay window (accepted tradeoff).
type Deduplicator struct {
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDeduplicator creates a cache retaining fingerprints for the given window,
// with maxEntries as a size backstop.
func NewDeduplicator(window time.Duration, maxEntries int) *Deduplicator {
	if window <= 0 {
		window = 10 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Deduplicator{
		window:     window,
		maxEntries: maxEntries,
		now:        time.Now,
		seen:       make(map[string]time.Time),
	}
}

// Seen reports whether fingerprint was observed within the window and records
// it if not. Check and insert are a single locked operation so two concurrent
// deliveries of the same event cannot both pass.
func (d *Deduplicator) Seen(fingerprint string) bool {
	now := d.now()
	cutoff := now.Add(-d.window)

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[fingerprint]; ok && at.After(cutoff) {
		return true
	}
	// Evict aged entries lazily; sweep before enforcing the size backstop.
	if len(d.seen) >= d.maxEntries {
		for fp, at := range d.seen {
			if !at.After(cutoff) {
				delete(d.seen, fp)
			}
		}
		// Still full: drop the oldest entry so new events keep flowing.
		if len(d.seen) >= d.maxEntries {
			var oldestFP string
			var oldestAt time.Time
			for fp, at := range d.seen {
				if oldestFP == "" || at.Before(oldestAt) {
					oldestFP, oldestAt = fp, at
				}
			}
			delete(d.seen, oldestFP)
		}
	}
	d.seen[fingerprint] = now
	return false
}

// Len returns the current number of retained fingerprints.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
