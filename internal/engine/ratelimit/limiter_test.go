package ratelimit

import (
	"testing"
	"time"

	"apigate/internal/platform/config"
	"apigate/internal/platform/models"
)

func testLimiter(start time.Time) (*Limiter, *time.Time) {
	clock := start
	l := NewLimiter(config.RateLimitConfig{PerMinute: 60, PerHour: 1000, PerDay: 10000})
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestLimiter_MinuteWindow(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l, clock := testLimiter(start)

	key := &models.APIKey{ID: "key_1", RateLimitPerMinute: 3, RateLimitPerHour: 100, RateLimitPerDay: 1000}

	for i := 0; i < 3; i++ {
		d := l.Check(key)
		if !d.Allowed {
			t.Fatalf("Request %d should be allowed", i+1)
		}
	}

	d := l.Check(key)
	if d.Allowed {
		t.Fatal("Fourth request should be rejected")
	}
	if d.Window != WindowMinute {
		t.Errorf("Expected rejection by minute window, got %s", d.Window)
	}
	if d.Remaining != 0 {
		t.Errorf("Expected remaining 0, got %d", d.Remaining)
	}
	if d.ResetAt.Before(start) || d.ResetAt.After(start.Add(61*time.Second)) {
		t.Errorf("Expected reset within the next minute, got %v", d.ResetAt)
	}

	// Once the trailing minute has fully elapsed the key has headroom again.
	*clock = start.Add(61 * time.Second)
	if d := l.Check(key); !d.Allowed {
		t.Error("Request after window elapsed should be allowed")
	}
}

func TestLimiter_Remaining(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l, _ := testLimiter(start)

	key := &models.APIKey{ID: "key_1", RateLimitPerMinute: 5, RateLimitPerHour: 100, RateLimitPerDay: 1000}

	d := l.Check(key)
	if d.Remaining != 4 {
		t.Errorf("Expected remaining 4 after first request, got %d", d.Remaining)
	}
	d = l.Check(key)
	if d.Remaining != 3 {
		t.Errorf("Expected remaining 3 after second request, got %d", d.Remaining)
	}
}

func TestLimiter_HourWindow(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l, clock := testLimiter(start)

	key := &models.APIKey{ID: "key_1", RateLimitPerMinute: 100, RateLimitPerHour: 2, RateLimitPerDay: 1000}

	l.Check(key)
	// Spread the second request into a later minute so only the hour window
	// still sees both.
	*clock = start.Add(2 * time.Minute)
	l.Check(key)

	*clock = start.Add(4 * time.Minute)
	d := l.Check(key)
	if d.Allowed {
		t.Fatal("Third request within the hour should be rejected")
	}
	if d.Window != WindowHour {
		t.Errorf("Expected rejection by hour window, got %s", d.Window)
	}
}

func TestLimiter_DefaultsApplied(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l, _ := testLimiter(start)

	// Limits of zero fall back to the configured defaults (60/minute).
	key := &models.APIKey{ID: "key_1"}

	d := l.Check(key)
	if !d.Allowed {
		t.Fatal("First request should be allowed under defaults")
	}
	if d.Remaining != 59 {
		t.Errorf("Expected remaining 59 under default minute limit, got %d", d.Remaining)
	}
}

func TestLimiter_KeysIsolated(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l, _ := testLimiter(start)

	keyA := &models.APIKey{ID: "key_a", RateLimitPerMinute: 1, RateLimitPerHour: 100, RateLimitPerDay: 1000}
	keyB := &models.APIKey{ID: "key_b", RateLimitPerMinute: 1, RateLimitPerHour: 100, RateLimitPerDay: 1000}

	if d := l.Check(keyA); !d.Allowed {
		t.Fatal("First request for key_a should be allowed")
	}
	if d := l.Check(keyA); d.Allowed {
		t.Fatal("Second request for key_a should be rejected")
	}
	if d := l.Check(keyB); !d.Allowed {
		t.Error("key_b must not be affected by key_a's consumption")
	}
}

func TestLimiter_DeadEntryReplaced(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l, _ := testLimiter(start)

	key := &models.APIKey{ID: "key_1", RateLimitPerMinute: 1, RateLimitPerHour: 100, RateLimitPerDay: 1000}

	if d := l.Check(key); !d.Allowed {
		t.Fatal("First request should be allowed")
	}

	// Simulate the janitor reclaiming the entry between a request's
	// LoadOrStore and Lock: tombstone it and drop it from the map. The next
	// Check must land on a fresh entry instead of the orphan.
	val, ok := l.entries.Load("key_1")
	if !ok {
		t.Fatal("Expected an entry for key_1")
	}
	e := val.(*entry)
	e.mu.Lock()
	e.dead = true
	l.entries.Delete("key_1")
	e.mu.Unlock()

	if d := l.Check(key); !d.Allowed {
		t.Error("Request against a reclaimed entry should start a fresh window")
	}
}

func TestLimiter_IdleReclaim(t *testing.T) {
	start := time.Unix(1700000000, 0)
	l, clock := testLimiter(start)

	key := &models.APIKey{ID: "key_1", RateLimitPerMinute: 1, RateLimitPerHour: 100, RateLimitPerDay: 1000}
	l.Check(key)

	// Run one janitor sweep by hand with the key well past its idle TTL.
	*clock = start.Add(2 * time.Hour)
	now := l.now()
	l.entries.Range(func(k, v interface{}) bool {
		e := v.(*entry)
		e.mu.Lock()
		if now.Sub(e.lastAccess) > time.Hour {
			e.dead = true
			l.entries.Delete(k)
		}
		e.mu.Unlock()
		return true
	})

	if _, ok := l.entries.Load("key_1"); ok {
		t.Error("Expected idle entry to be reclaimed")
	}
}

func TestLimiter_Close(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{
		PerMinute:   60,
		PerHour:     1000,
		PerDay:      10000,
		CleanupTick: time.Millisecond,
		IdleKeyTTL:  time.Hour,
	})

	l.Close()
	l.Close() // idempotent

	key := &models.APIKey{ID: "key_1", RateLimitPerMinute: 1, RateLimitPerHour: 100, RateLimitPerDay: 1000}
	if d := l.Check(key); !d.Allowed {
		t.Error("Limiter should keep working after Close")
	}
}

func TestRing_LapReclaim(t *testing.T) {
	start := time.Unix(1700000000, 0)
	r := newRing(60, time.Second)

	r.add(start)
	if got := r.count(start); got != 1 {
		t.Fatalf("Expected count 1, got %d", got)
	}

	// Same slot index one full lap later must not inherit the stale count.
	later := start.Add(60 * time.Second)
	r.add(later)
	if got := r.count(later); got != 1 {
		t.Errorf("Expected count 1 after lap, got %d", got)
	}
}
