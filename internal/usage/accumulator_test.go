package usage

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/store"
)

// memUsageStore is an in-memory store.UsageStore for tests.
type memUsageStore struct {
	mu   sync.Mutex
	data map[string]store.UsageStats
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{data: make(map[string]store.UsageStats)}
}

func (m *memUsageStore) GetUsageStats(_ context.Context, id string) (*store.UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *memUsageStore) PutUsageStats(_ context.Context, id string, s *store.UsageStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[id] = *s
	return nil
}

func (m *memUsageStore) ListUsageStats(_ context.Context) (map[string]store.UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.UsageStats, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memUsageStore) DeleteUsageStats(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func TestRecordCountsAndMean(t *testing.T) {
	a := NewAccumulator(newMemUsageStore())
	ctx := context.Background()

	a.Record(ctx, "x", true, 100, cost.FromFloat(0.01))
	a.Record(ctx, "x", false, 300, 0)
	s := a.Record(ctx, "x", true, 200, cost.FromFloat(0.01))

	if s.TotalRequests != 3 || s.SuccessfulRequests != 2 || s.FailedRequests != 1 {
		t.Fatalf("counters = %+v", s)
	}
	if s.AverageResponseTimeMs != 200 {
		t.Fatalf("avg = %v, want 200", s.AverageResponseTimeMs)
	}
	if s.TotalCost != cost.FromFloat(0.02) {
		t.Fatalf("total cost = %v, want 0.02", s.TotalCost)
	}
}

func TestTotalCostExactness(t *testing.T) {
	a := NewAccumulator(newMemUsageStore())
	ctx := context.Background()

	const k = 300
	for i := 0; i < k; i++ {
		a.Record(ctx, "x", true, 10, cost.FromFloat(0.01))
	}
	s := a.Snapshot("x")
	if got := s.TotalCost.Float64(); got != 0.01*k {
		t.Fatalf("total cost = %v, want %v exactly", got, 0.01*k)
	}
}

func TestCounterInvariantUnderConcurrency(t *testing.T) {
	ms := newMemUsageStore()
	a := NewAccumulator(ms)
	ctx := context.Background()

	const workers = 16
	const each = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				a.Record(ctx, "x", (w+i)%3 != 0, int64(50+i), cost.FromFloat(0.001))
			}
		}(w)
	}
	wg.Wait()

	s := a.Snapshot("x")
	if s.TotalRequests != workers*each {
		t.Fatalf("total = %d, want %d", s.TotalRequests, workers*each)
	}
	if s.SuccessfulRequests+s.FailedRequests != s.TotalRequests {
		t.Fatalf("invariant violated: %d + %d != %d",
			s.SuccessfulRequests, s.FailedRequests, s.TotalRequests)
	}
	if s.TotalCost != cost.FromFloat(0.001)*cost.Amount(workers*each) {
		t.Fatalf("total cost = %v", s.TotalCost)
	}
	// Mean stays within the latency range regardless of interleaving.
	if s.AverageResponseTimeMs < 50 || s.AverageResponseTimeMs > 100 {
		t.Fatalf("avg = %v, want within [50, 100]", s.AverageResponseTimeMs)
	}

	// Write-through persisted the final snapshot.
	persisted, err := ms.GetUsageStats(ctx, "x")
	if err != nil {
		t.Fatalf("get persisted: %v", err)
	}
	if persisted.TotalRequests != s.TotalRequests {
		t.Fatalf("persisted total = %d, want %d", persisted.TotalRequests, s.TotalRequests)
	}
}

// orderCheckStore fails the test if a write-through ever moves a counter
// backwards, which would let a restart hydrate stale stats.
type orderCheckStore struct {
	*memUsageStore
	t    *testing.T
	mu   sync.Mutex
	last map[string]int64
}

func (o *orderCheckStore) PutUsageStats(ctx context.Context, id string, s *store.UsageStats) error {
	o.mu.Lock()
	if s.TotalRequests <= o.last[id] {
		o.t.Errorf("persisted total went from %d to %d", o.last[id], s.TotalRequests)
	}
	o.last[id] = s.TotalRequests
	o.mu.Unlock()
	return o.memUsageStore.PutUsageStats(ctx, id, s)
}

func TestWriteThroughIsOrdered(t *testing.T) {
	os := &orderCheckStore{
		memUsageStore: newMemUsageStore(),
		t:             t,
		last:          make(map[string]int64),
	}
	a := NewAccumulator(os)
	ctx := context.Background()

	const workers = 8
	const each = 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				a.Record(ctx, "x", true, 10, 0)
			}
		}()
	}
	wg.Wait()

	persisted, err := os.GetUsageStats(ctx, "x")
	if err != nil {
		t.Fatalf("get persisted: %v", err)
	}
	if persisted.TotalRequests != workers*each {
		t.Fatalf("persisted total = %d, want %d", persisted.TotalRequests, workers*each)
	}
}

func TestHydrateContinuesCounters(t *testing.T) {
	ms := newMemUsageStore()
	ctx := context.Background()
	ms.PutUsageStats(ctx, "x", &store.UsageStats{ //nolint:errcheck
		TotalRequests:         5,
		SuccessfulRequests:    5,
		AverageResponseTimeMs: 100,
		TotalCost:             cost.FromFloat(0.05),
	})

	a := NewAccumulator(ms)
	if err := a.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	s := a.Record(ctx, "x", false, 700, cost.FromFloat(0.01))
	if s.TotalRequests != 6 || s.FailedRequests != 1 {
		t.Fatalf("counters = %+v", s)
	}
	if math.Abs(s.AverageResponseTimeMs-200) > 1e-9 {
		t.Fatalf("avg = %v, want 200", s.AverageResponseTimeMs)
	}
}

func TestForget(t *testing.T) {
	a := NewAccumulator(newMemUsageStore())
	a.Record(context.Background(), "x", true, 10, 0)
	a.Forget("x")
	if s := a.Snapshot("x"); s.TotalRequests != 0 {
		t.Fatalf("snapshot after forget = %+v", s)
	}
}
