package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/store"
)

// Accumulator keeps the authoritative running usage counters for every
// integration. Updates happen exactly once per completed execution under a
// per-integration lock; the new snapshot is written through to the store so
// counters survive restarts. Rate-limiter rejections never reach here.
type Accumulator struct {
	mu    sync.Mutex
	perID map[string]*entry
	store store.UsageStore
}

type entry struct {
	mu    sync.Mutex
	stats store.UsageStats
}

func NewAccumulator(s store.UsageStore) *Accumulator {
	return &Accumulator{
		perID: make(map[string]*entry),
		store: s,
	}
}

// Hydrate loads persisted counters so the in-memory state continues where
// the previous process left off.
func (a *Accumulator) Hydrate(ctx context.Context) error {
	all, err := a.store.ListUsageStats(ctx)
	if err != nil {
		return fmt.Errorf("list usage stats: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, s := range all {
		a.perID[id] = &entry{stats: s}
	}
	return nil
}

func (a *Accumulator) entry(id string) *entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.perID[id]
	if !ok {
		e = &entry{}
		a.perID[id] = e
	}
	return e
}

// Record applies one completed execution: total++, success or failure++,
// incremental mean latency, cost added. Returns the resulting snapshot.
// The write-through to the store is best effort; a persistence failure is
// logged but never fails the execution that already happened. The write
// happens under the entry lock so snapshots reach the store in counter
// order and a restart never hydrates a counter that later went backwards.
func (a *Accumulator) Record(
	ctx context.Context, id string, success bool, responseTimeMs int64, c cost.Amount,
) store.UsageStats {
	e := a.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &e.stats
	s.TotalRequests++
	if success {
		s.SuccessfulRequests++
	} else {
		s.FailedRequests++
	}
	s.AverageResponseTimeMs += (float64(responseTimeMs) - s.AverageResponseTimeMs) / float64(s.TotalRequests)
	s.TotalCost += c

	snap := *s
	if err := a.store.PutUsageStats(ctx, id, &snap); err != nil {
		slog.Error("persist usage stats", "integration", id, "error", err)
	}
	return snap
}

// Snapshot returns a consistent copy of one integration's counters.
func (a *Accumulator) Snapshot(id string) store.UsageStats {
	e := a.entry(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Forget drops in-memory counters for a removed integration.
func (a *Accumulator) Forget(id string) {
	a.mu.Lock()
	delete(a.perID, id)
	a.mu.Unlock()
}
