package ratelimit

import (
	"sync"
	"time"

	"apigate/internal/platform/config"
	"apigate/internal/platform/models"
)

const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Window    string // the window that rejected the request, empty when allowed
}

// Limiter evaluates per-key trailing windows against each key's configured
// ceilings. Counters live in memory; check-and-increment is serialized per
// key so two concurrent requests can never both consume the last slot.
type Limiter struct {
	entries  sync.Map // map[string]*entry, keyed by API key id
	defaults config.RateLimitConfig
	now      func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

type entry struct {
	mu         sync.Mutex
	dead       bool // set by the janitor under mu; counters must not land here
	lastAccess time.Time
	minute     *ring
	hour       *ring
	day        *ring
}

func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{
		defaults: cfg,
		now:      time.Now,
		done:     make(chan struct{}),
	}

	if cfg.CleanupTick > 0 {
		go l.cleanupLoop(cfg.CleanupTick, cfg.IdleKeyTTL)
	}

	return l
}

// Close stops the janitor goroutine. The limiter stays usable; idle entries
// just stop being reclaimed.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *Limiter) cleanupLoop(tick, idleTTL time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		now := l.now()
		l.entries.Range(func(key, value interface{}) bool {
			e := value.(*entry)
			e.mu.Lock()
			if now.Sub(e.lastAccess) > idleTTL {
				// Tombstone before removing from the map. A request that
				// already loaded this entry sees dead under the lock and
				// retries against a fresh one instead of counting into an
				// orphan.
				e.dead = true
				l.entries.Delete(key)
			}
			e.mu.Unlock()
			return true
		})
	}
}

// lockedEntry returns the live entry for keyID with its mutex held. Entries
// tombstoned by the janitor between LoadOrStore and Lock are discarded.
func (l *Limiter) lockedEntry(keyID string) *entry {
	for {
		val, _ := l.entries.LoadOrStore(keyID, &entry{
			minute: newRing(60, time.Second),
			hour:   newRing(60, time.Minute),
			day:    newRing(24, time.Hour),
		})
		e := val.(*entry)
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// Check evaluates minute, hour and day windows in order and reserves a slot
// in all three when the request is allowed. The smallest window goes first so
// rejected callers get the fastest-to-reset feedback.
func (l *Limiter) Check(key *models.APIKey) Decision {
	e := l.lockedEntry(key.ID)
	defer e.mu.Unlock()

	now := l.now()
	e.lastAccess = now

	windows := []struct {
		name  string
		r     *ring
		limit int
	}{
		{WindowMinute, e.minute, orDefault(key.RateLimitPerMinute, l.defaults.PerMinute)},
		{WindowHour, e.hour, orDefault(key.RateLimitPerHour, l.defaults.PerHour)},
		{WindowDay, e.day, orDefault(key.RateLimitPerDay, l.defaults.PerDay)},
	}

	remaining := -1
	for _, w := range windows {
		count := w.r.count(now)
		if count >= w.limit {
			return Decision{Allowed: false, Remaining: 0, ResetAt: w.r.resetAt(now), Window: w.name}
		}
		if rem := w.limit - count - 1; remaining < 0 || rem < remaining {
			remaining = rem
		}
	}

	for _, w := range windows {
		w.r.add(now)
	}

	return Decision{Allowed: true, Remaining: remaining, ResetAt: e.minute.resetAt(now)}
}

func orDefault(limit, fallback int) int {
	if limit > 0 {
		return limit
	}
	return fallback
}
