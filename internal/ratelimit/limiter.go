package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/revittco/toolgate/internal/store"
)

// Window scopes, in checking order.
const (
	ScopeMinute     = "minute"
	ScopeHour       = "hour"
	ScopeDay        = "day"
	ScopeConcurrent = "concurrent"
)

// LimitError reports which constraint rejected an admission and, for
// windowed limits, when the window resets. For the concurrency gate
// RetryAfter is zero: retry when in-flight work completes.
type LimitError struct {
	IntegrationID string
	Scope         string
	Limit         int
	RetryAfter    time.Duration
}

func (e *LimitError) Error() string {
	if e.Scope == ScopeConcurrent {
		return fmt.Sprintf("rate limit exceeded for %s: %d concurrent executions in flight; retry when in-flight work completes",
			e.IntegrationID, e.Limit)
	}
	return fmt.Sprintf("rate limit exceeded for %s: %d requests per %s; retry after %s",
		e.IntegrationID, e.Limit, e.Scope, e.RetryAfter.Round(time.Millisecond))
}

// Ticket is one granted admission. Release returns the concurrency slot;
// it is safe to call more than once.
type Ticket struct {
	id   string
	l    *Limiter
	once sync.Once
}

// Release decrements the in-flight gauge. Window counters are not
// decremented: they count requests attempted, not requests completed.
func (t *Ticket) Release() {
	t.once.Do(func() { t.l.release(t.id) })
}

// window is a fixed bucket aligned to a UTC wall-clock boundary.
type window struct {
	start time.Time
	count int
}

// roll resets the bucket if now has crossed into a new aligned period,
// so a request counted in one window is never carried into the next.
func (w *window) roll(now time.Time, d time.Duration) {
	aligned := now.UTC().Truncate(d)
	if !w.start.Equal(aligned) {
		w.start = aligned
		w.count = 0
	}
}

type bucket struct {
	mu       sync.Mutex
	minute   window
	hour     window
	day      window
	inFlight int
	rejected int64
}

// Limiter enforces per-integration multi-window quotas and a concurrency
// cap. Admission is an atomic, non-blocking check-and-increment: a caller
// that cannot be admitted is rejected immediately, never queued.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *Limiter) bucket(id string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{}
		l.buckets[id] = b
	}
	return b
}

// Admit checks all four constraints against cfg and, if every check
// passes, increments the three window counters and the in-flight gauge.
// The config is taken per call, so a re-registered integration's new
// limits take full effect on the next admission with no stale merge.
// A limit of 0 disables that check entirely.
func (l *Limiter) Admit(id string, cfg store.RateLimitConfig) (*Ticket, error) {
	b := l.bucket(id)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.minute.roll(now, time.Minute)
	b.hour.roll(now, time.Hour)
	b.day.roll(now, 24*time.Hour)

	if err := b.check(id, cfg, now); err != nil {
		b.rejected++
		return nil, err
	}

	b.minute.count++
	b.hour.count++
	b.day.count++
	b.inFlight++
	return &Ticket{id: id, l: l}, nil
}

// check verifies all constraints without mutating. Caller holds b.mu.
func (b *bucket) check(id string, cfg store.RateLimitConfig, now time.Time) error {
	windows := []struct {
		scope string
		w     *window
		limit int
		d     time.Duration
	}{
		{ScopeMinute, &b.minute, cfg.RequestsPerMinute, time.Minute},
		{ScopeHour, &b.hour, cfg.RequestsPerHour, time.Hour},
		{ScopeDay, &b.day, cfg.RequestsPerDay, 24 * time.Hour},
	}
	for _, c := range windows {
		if c.limit <= 0 {
			continue
		}
		if c.w.count+1 > c.limit {
			return &LimitError{
				IntegrationID: id,
				Scope:         c.scope,
				Limit:         c.limit,
				RetryAfter:    c.w.start.Add(c.d).Sub(now),
			}
		}
	}
	if cfg.Concurrent > 0 && b.inFlight+1 > cfg.Concurrent {
		return &LimitError{IntegrationID: id, Scope: ScopeConcurrent, Limit: cfg.Concurrent}
	}
	return nil
}

// Check reports whether an admission would currently succeed, without
// consuming quota. Used by the dry-run command and the status API.
func (l *Limiter) Check(id string, cfg store.RateLimitConfig) error {
	b := l.bucket(id)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.minute.roll(now, time.Minute)
	b.hour.roll(now, time.Hour)
	b.day.roll(now, 24*time.Hour)
	return b.check(id, cfg, now)
}

func (l *Limiter) release(id string) {
	b := l.bucket(id)
	b.mu.Lock()
	if b.inFlight > 0 {
		b.inFlight--
	}
	b.mu.Unlock()
}

// InFlight returns the current in-flight gauge for an integration.
func (l *Limiter) InFlight(id string) int {
	b := l.bucket(id)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

// WindowStatus describes one window for the status API.
type WindowStatus struct {
	Limit     int        `json:"limit"`
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"resetAt,omitempty"`
}

// Status is a point-in-time snapshot of one integration's limiter state.
type Status struct {
	Minute   WindowStatus `json:"minute"`
	Hour     WindowStatus `json:"hour"`
	Day      WindowStatus `json:"day"`
	InFlight int          `json:"inFlight"`
	Rejected int64        `json:"rejected"`
}

// Remaining returns a snapshot of window usage, the in-flight gauge, and
// the rejection counter for one integration.
func (l *Limiter) Remaining(id string, cfg store.RateLimitConfig) Status {
	b := l.bucket(id)
	now := l.now()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.minute.roll(now, time.Minute)
	b.hour.roll(now, time.Hour)
	b.day.roll(now, 24*time.Hour)

	return Status{
		Minute:   windowStatus(&b.minute, cfg.RequestsPerMinute, time.Minute),
		Hour:     windowStatus(&b.hour, cfg.RequestsPerHour, time.Hour),
		Day:      windowStatus(&b.day, cfg.RequestsPerDay, 24*time.Hour),
		InFlight: b.inFlight,
		Rejected: b.rejected,
	}
}

func windowStatus(w *window, limit int, d time.Duration) WindowStatus {
	s := WindowStatus{Limit: limit, Used: w.count}
	if limit > 0 {
		s.Remaining = limit - w.count
		if s.Remaining < 0 {
			s.Remaining = 0
		}
		reset := w.start.Add(d)
		s.ResetAt = &reset
	}
	return s
}

// Reset clears the window counters and the rejection counter for one
// integration. The in-flight gauge is left alone: live executions still
// hold their slots.
func (l *Limiter) Reset(id string) {
	b := l.bucket(id)
	b.mu.Lock()
	b.minute = window{}
	b.hour = window{}
	b.day = window{}
	b.rejected = 0
	b.mu.Unlock()
}

// Forget drops all limiter state for a removed integration.
func (l *Limiter) Forget(id string) {
	l.mu.Lock()
	delete(l.buckets, id)
	l.mu.Unlock()
}
