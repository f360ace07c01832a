package ratelimit

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/revittco/toolgate/internal/store"
)

// fakeClock lets tests move wall-clock time across window boundaries.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(start time.Time) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: start}
	l := New()
	l.now = clock.Now
	return l, clock
}

func TestMinuteWindow(t *testing.T) {
	// Start mid-minute so the rollover boundary is not trivially aligned.
	l, clock := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 20, 0, time.UTC))
	cfg := store.RateLimitConfig{RequestsPerMinute: 5}

	for i := 0; i < 5; i++ {
		tk, err := l.Admit("x", cfg)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		tk.Release()
	}

	_, err := l.Admit("x", cfg)
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want LimitError", err)
	}
	if le.Scope != ScopeMinute || le.Limit != 5 {
		t.Fatalf("violated = %s/%d, want minute/5", le.Scope, le.Limit)
	}
	if le.RetryAfter != 40*time.Second {
		t.Fatalf("retry after = %v, want 40s", le.RetryAfter)
	}

	// Window rolls over at the aligned boundary; the 7th request is admitted.
	clock.Advance(40 * time.Second)
	if _, err := l.Admit("x", cfg); err != nil {
		t.Fatalf("admit after rollover: %v", err)
	}
}

func TestWindowCountsNotDoubleCounted(t *testing.T) {
	l, clock := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 59, 0, time.UTC))
	cfg := store.RateLimitConfig{RequestsPerMinute: 2}

	// One request in the old window must not count against the new one.
	if _, err := l.Admit("x", cfg); err != nil {
		t.Fatalf("admit: %v", err)
	}
	clock.Advance(time.Second)
	for i := 0; i < 2; i++ {
		if _, err := l.Admit("x", cfg); err != nil {
			t.Fatalf("admit %d in fresh window: %v", i, err)
		}
	}
	if _, err := l.Admit("x", cfg); err == nil {
		t.Fatal("expected rejection of 3rd request in fresh window")
	}
}

func TestHourAndDayWindows(t *testing.T) {
	l, clock := newTestLimiter(time.Date(2026, 8, 31, 23, 30, 0, 0, time.UTC))
	cfg := store.RateLimitConfig{RequestsPerHour: 2, RequestsPerDay: 3}

	for i := 0; i < 2; i++ {
		if _, err := l.Admit("x", cfg); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}
	_, err := l.Admit("x", cfg)
	var le *LimitError
	if !errors.As(err, &le) || le.Scope != ScopeHour {
		t.Fatalf("err = %v, want hour LimitError", err)
	}

	// Next hour is also the next UTC day: both windows reset, one more
	// admission passes, then the hour window still has room but the day
	// counter does not matter yet (fresh day).
	clock.Advance(30 * time.Minute)
	if _, err := l.Admit("x", cfg); err != nil {
		t.Fatalf("admit after day boundary: %v", err)
	}
}

func TestZeroLimitIsUnbounded(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	cfg := store.RateLimitConfig{} // all zero: nothing configured

	for i := 0; i < 1000; i++ {
		tk, err := l.Admit("x", cfg)
		if err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
		tk.Release()
	}
}

func TestConcurrencyGate(t *testing.T) {
	const n = 4
	l, _ := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	cfg := store.RateLimitConfig{Concurrent: n}

	// Fire n+5 concurrent admissions; exactly n must succeed.
	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted []*Ticket
	var rejected int

	for i := 0; i < n+5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk, err := l.Admit("x", cfg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var le *LimitError
				if !errors.As(err, &le) || le.Scope != ScopeConcurrent {
					t.Errorf("err = %v, want concurrent LimitError", err)
				}
				rejected++
				return
			}
			admitted = append(admitted, tk)
		}()
	}
	wg.Wait()

	if len(admitted) != n || rejected != 5 {
		t.Fatalf("admitted = %d, rejected = %d, want %d, 5", len(admitted), rejected, n)
	}
	if got := l.InFlight("x"); got != n {
		t.Fatalf("in flight = %d, want %d", got, n)
	}

	// Release one slot; one more admission fits.
	admitted[0].Release()
	tk, err := l.Admit("x", cfg)
	if err != nil {
		t.Fatalf("admit after release: %v", err)
	}
	tk.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	cfg := store.RateLimitConfig{Concurrent: 1}

	tk, err := l.Admit("x", cfg)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	tk.Release()
	tk.Release()
	if got := l.InFlight("x"); got != 0 {
		t.Fatalf("in flight = %d, want 0", got)
	}
}

func TestConfigSwapTakesFullEffect(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))

	old := store.RateLimitConfig{RequestsPerMinute: 100}
	for i := 0; i < 10; i++ {
		if _, err := l.Admit("x", old); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}

	// Re-registration tightened the limit below what is already used.
	tight := store.RateLimitConfig{RequestsPerMinute: 5}
	_, err := l.Admit("x", tight)
	var le *LimitError
	if !errors.As(err, &le) || le.Limit != 5 {
		t.Fatalf("err = %v, want LimitError with limit 5", err)
	}
}

func TestIndependentIntegrations(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	cfg := store.RateLimitConfig{RequestsPerMinute: 1}

	if _, err := l.Admit("a", cfg); err != nil {
		t.Fatalf("admit a: %v", err)
	}
	if _, err := l.Admit("b", cfg); err != nil {
		t.Fatalf("admit b: %v", err)
	}
	if _, err := l.Admit("a", cfg); err == nil {
		t.Fatal("expected a to be limited")
	}
}

func TestCheckDoesNotConsume(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	cfg := store.RateLimitConfig{RequestsPerMinute: 1}

	for i := 0; i < 5; i++ {
		if err := l.Check("x", cfg); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
	}
	if _, err := l.Admit("x", cfg); err != nil {
		t.Fatalf("admit after checks: %v", err)
	}
}

func TestRemainingAndRejectedCounter(t *testing.T) {
	l, _ := newTestLimiter(time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	cfg := store.RateLimitConfig{RequestsPerMinute: 2, Concurrent: 10}

	l.Admit("x", cfg) //nolint:errcheck
	l.Admit("x", cfg) //nolint:errcheck
	l.Admit("x", cfg) //nolint:errcheck // rejected

	st := l.Remaining("x", cfg)
	if st.Minute.Used != 2 || st.Minute.Remaining != 0 {
		t.Fatalf("minute = %+v, want used 2 remaining 0", st.Minute)
	}
	if st.Rejected != 1 {
		t.Fatalf("rejected = %d, want 1", st.Rejected)
	}
	if st.InFlight != 2 {
		t.Fatalf("in flight = %d, want 2", st.InFlight)
	}
	if st.Minute.ResetAt == nil || !st.Minute.ResetAt.Equal(time.Date(2026, 8, 31, 10, 1, 0, 0, time.UTC)) {
		t.Fatalf("reset at = %v, want 10:01:00", st.Minute.ResetAt)
	}

	l.Reset("x")
	st = l.Remaining("x", cfg)
	if st.Minute.Used != 0 || st.Rejected != 0 {
		t.Fatalf("after reset: %+v", st)
	}
	// Reset leaves live executions holding their slots.
	if st.InFlight != 2 {
		t.Fatalf("in flight after reset = %d, want 2", st.InFlight)
	}
}
