package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/invoke"
	"github.com/revittco/toolgate/internal/ratelimit"
	"github.com/revittco/toolgate/internal/store"
	"github.com/revittco/toolgate/internal/usage"
)

// memSource is an in-memory IntegrationSource.
type memSource struct {
	mu   sync.Mutex
	byID map[string]*store.Integration
}

func newMemSource(integs ...*store.Integration) *memSource {
	s := &memSource{byID: make(map[string]*store.Integration)}
	for _, i := range integs {
		s.byID[i.ID] = i
	}
	return s
}

func (s *memSource) GetIntegration(_ context.Context, id string) (*store.Integration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return i.Clone(), nil
}

// memSecrets maps integration -> key -> value.
type memSecrets map[string]map[string]string

func (m memSecrets) Get(_ context.Context, integrationID, key string) ([]byte, error) {
	v, ok := m[integrationID][key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return []byte(v), nil
}

// memUsageStore satisfies store.UsageStore for the accumulator.
type memUsageStore struct {
	mu   sync.Mutex
	byID map[string]store.UsageStats
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{byID: make(map[string]store.UsageStats)}
}

func (m *memUsageStore) GetUsageStats(_ context.Context, id string) (*store.UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &s, nil
}

func (m *memUsageStore) PutUsageStats(_ context.Context, id string, s *store.UsageStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id] = *s
	return nil
}

func (m *memUsageStore) ListUsageStats(_ context.Context) (map[string]store.UsageStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]store.UsageStats, len(m.byID))
	for k, v := range m.byID {
		out[k] = v
	}
	return out, nil
}

func (m *memUsageStore) DeleteUsageStats(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

// memExecStore satisfies store.ExecutionStore for the audit logger.
type memExecStore struct {
	mu   sync.Mutex
	recs []store.ExecutionRecord
}

func (m *memExecStore) InsertExecutionRecord(_ context.Context, r *store.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, *r)
	return nil
}

func (m *memExecStore) QueryExecutionRecords(_ context.Context, f store.ExecutionFilter) ([]store.ExecutionRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]store.ExecutionRecord(nil), m.recs...)
	return out, len(out), nil
}

func (m *memExecStore) GetExecutionStats(_ context.Context, _ string, _, _ time.Time) (*store.ExecutionStats, error) {
	return &store.ExecutionStats{}, nil
}

func (m *memExecStore) last(t *testing.T) store.ExecutionRecord {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.recs) == 0 {
		t.Fatal("no execution records")
	}
	return m.recs[len(m.recs)-1]
}

// stubInvoker returns queued outcomes in order, then repeats the last one.
type stubInvoker struct {
	mu       sync.Mutex
	outcomes []stubOutcome
	calls    int
	block    chan struct{} // when set, each call waits until closed
}

type stubOutcome struct {
	res *invoke.Result
	err error
}

func (s *stubInvoker) Invoke(ctx context.Context, _ invoke.Request) (*invoke.Result, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	o := s.outcomes[i]
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.res, o.err
}

func (s *stubInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func okOutcome(output string) stubOutcome {
	return stubOutcome{res: &invoke.Result{Output: json.RawMessage(output)}}
}

type fixture struct {
	engine  *Engine
	source  *memSource
	limiter *ratelimit.Limiter
	usage   *usage.Accumulator
	exec    *memExecStore
	invoker *stubInvoker
	secrets memSecrets
}

func newFixture(t *testing.T, inv *stubInvoker, integs ...*store.Integration) *fixture {
	t.Helper()
	f := &fixture{
		source:  newMemSource(integs...),
		limiter: ratelimit.New(),
		usage:   usage.NewAccumulator(newMemUsageStore()),
		exec:    &memExecStore{},
		invoker: inv,
		secrets: memSecrets{},
	}
	f.engine = New(f.source, f.limiter, f.secrets,
		f.usage, audit.NewLogger(f.exec, nil, nil), inv, nil)
	// make retries instantaneous and deterministic
	f.engine.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	f.engine.randf = func() float64 { return 0.5 }
	return f
}

func testIntegration(id string) *store.Integration {
	return &store.Integration{
		ID:           id,
		Name:         id,
		Type:         store.TypeDevelopment,
		Config:       map[string]any{"baseUrl": "http://unused.invalid"},
		Capabilities: []string{"search"},
		Cost:         cost.Model{Type: cost.TypePerRequest, Amount: 0.01, Currency: "USD"},
		IsActive:     true,
	}
}

func TestExecuteSuccess(t *testing.T) {
	inv := &stubInvoker{outcomes: []stubOutcome{okOutcome(`{"hits":1}`)}}
	f := newFixture(t, inv, testIntegration("svc"))

	res, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(res.Output) != `{"hits":1}` {
		t.Errorf("output = %s", res.Output)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", res.Attempts)
	}
	if res.Cost != cost.FromFloat(0.01) {
		t.Errorf("cost = %v", res.Cost)
	}

	stats := f.usage.Snapshot("svc")
	if stats.TotalRequests != 1 || stats.SuccessfulRequests != 1 || stats.FailedRequests != 0 {
		t.Errorf("stats = %+v", stats)
	}
	rec := f.exec.last(t)
	if rec.Status != store.StatusSuccess || rec.IntegrationID != "svc" {
		t.Errorf("record = %+v", rec)
	}
}

func TestExecuteUnknownIntegration(t *testing.T) {
	f := newFixture(t, &stubInvoker{outcomes: []stubOutcome{okOutcome(`{}`)}})
	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "ghost", Tool: "search"})
	assertCode(t, err, CodeNotFound)
}

func TestExecuteInactiveIntegration(t *testing.T) {
	integ := testIntegration("svc")
	integ.IsActive = false
	f := newFixture(t, &stubInvoker{outcomes: []stubOutcome{okOutcome(`{}`)}}, integ)

	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	assertCode(t, err, CodeValidation)
	if f.invoker.callCount() != 0 {
		t.Error("inactive integration must not be invoked")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	f := newFixture(t, &stubInvoker{outcomes: []stubOutcome{okOutcome(`{}`)}}, testIntegration("svc"))
	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "translate"})
	assertCode(t, err, CodeValidation)
}

func TestExecuteSchemaValidation(t *testing.T) {
	integ := testIntegration("svc")
	integ.Config["paramSchemas"] = map[string]any{
		"search": map[string]any{
			"type":     "object",
			"required": []any{"q"},
			"properties": map[string]any{
				"q": map[string]any{"type": "string"},
			},
		},
	}
	f := newFixture(t, &stubInvoker{outcomes: []stubOutcome{okOutcome(`{}`)}}, integ)

	_, err := f.engine.Execute(context.Background(), Call{
		IntegrationID: "svc", Tool: "search", Params: json.RawMessage(`{"q":42}`),
	})
	assertCode(t, err, CodeValidation)
	if f.invoker.callCount() != 0 {
		t.Error("invalid params must not reach the invoker")
	}

	if _, err := f.engine.Execute(context.Background(), Call{
		IntegrationID: "svc", Tool: "search", Params: json.RawMessage(`{"q":"go"}`),
	}); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
}

func TestExecuteRetriesTransient(t *testing.T) {
	inv := &stubInvoker{outcomes: []stubOutcome{
		{err: &invoke.Error{Message: "503", Retryable: true}},
		{err: &invoke.Error{Message: "503", Retryable: true}},
		okOutcome(`{"ok":true}`),
	}}
	f := newFixture(t, inv, testIntegration("svc"))

	retries := 3
	res, err := f.engine.Execute(context.Background(), Call{
		IntegrationID: "svc", Tool: "search", MaxRetries: &retries,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", res.Attempts)
	}
	// one execution, one usage event, regardless of attempts
	stats := f.usage.Snapshot("svc")
	if stats.TotalRequests != 1 {
		t.Errorf("total = %d, want 1", stats.TotalRequests)
	}
}

func TestExecuteTerminalErrorNotRetried(t *testing.T) {
	inv := &stubInvoker{outcomes: []stubOutcome{
		{err: &invoke.Error{Message: "bad request"}},
	}}
	f := newFixture(t, inv, testIntegration("svc"))

	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	assertCode(t, err, CodeExecution)
	if inv.callCount() != 1 {
		t.Errorf("calls = %d, want 1", inv.callCount())
	}
	stats := f.usage.Snapshot("svc")
	if stats.FailedRequests != 1 || stats.TotalRequests != 1 {
		t.Errorf("stats = %+v", stats)
	}
	rec := f.exec.last(t)
	if rec.Status != store.StatusError || rec.ErrorCode != CodeExecution {
		t.Errorf("record = %+v", rec)
	}
}

func TestFailureCarriesExecutionMetadata(t *testing.T) {
	inv := &stubInvoker{outcomes: []stubOutcome{
		{err: &invoke.Error{Message: "business failure"}},
	}}
	f := newFixture(t, inv, testIntegration("svc"))

	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	var ee *Error
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ee.ExecutionID == "" {
		t.Error("failed execution has no execution id")
	}
	if ee.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", ee.Attempts)
	}
	if ee.LatencyMs < 0 {
		t.Errorf("latency = %d", ee.LatencyMs)
	}
	if rec := f.exec.last(t); rec.ID != ee.ExecutionID {
		t.Errorf("error execution id %s, log has %s", ee.ExecutionID, rec.ID)
	}
}

func TestFailureWithReportedUsageIsCharged(t *testing.T) {
	integ := testIntegration("svc")
	integ.Cost = cost.Model{Type: cost.TypePerToken, Amount: 0.001, Currency: "USD"}
	inv := &stubInvoker{outcomes: []stubOutcome{
		{err: &invoke.Error{Message: "quota exceeded mid-call", Usage: &cost.Usage{Tokens: 50}}},
	}}
	f := newFixture(t, inv, integ)

	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	var ee *Error
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v", err)
	}
	want := cost.FromFloat(0.05)
	if ee.Cost != want {
		t.Errorf("cost = %v, want %v", ee.Cost, want)
	}
	stats := f.usage.Snapshot("svc")
	if stats.TotalCost != want {
		t.Errorf("total cost = %v, want %v", stats.TotalCost, want)
	}
	if rec := f.exec.last(t); rec.Cost != want {
		t.Errorf("record cost = %v, want %v", rec.Cost, want)
	}
}

func TestFailureWithoutUsageCostsNothing(t *testing.T) {
	integ := testIntegration("svc") // per_request pricing
	inv := &stubInvoker{outcomes: []stubOutcome{
		{err: &invoke.Error{Message: "bad request"}},
	}}
	f := newFixture(t, inv, integ)

	f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"}) //nolint:errcheck
	if stats := f.usage.Snapshot("svc"); stats.TotalCost != 0 {
		t.Errorf("total cost = %v, want 0 for per_request failure", stats.TotalCost)
	}
}

func TestExecuteRetriesExhausted(t *testing.T) {
	inv := &stubInvoker{outcomes: []stubOutcome{
		{err: &invoke.Error{Message: "503", Retryable: true}},
	}}
	f := newFixture(t, inv, testIntegration("svc"))

	retries := 2
	_, err := f.engine.Execute(context.Background(), Call{
		IntegrationID: "svc", Tool: "search", MaxRetries: &retries,
	})
	assertCode(t, err, CodeExecution)
	if inv.callCount() != 3 { // initial + 2 retries
		t.Errorf("calls = %d, want 3", inv.callCount())
	}
}

func TestExecuteRateLimited(t *testing.T) {
	integ := testIntegration("svc")
	integ.RateLimit.RequestsPerMinute = 1
	inv := &stubInvoker{outcomes: []stubOutcome{okOutcome(`{}`)}}
	f := newFixture(t, inv, integ)

	if _, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	var ee *Error
	if !errors.As(err, &ee) || ee.Code != CodeRateLimited {
		t.Fatalf("err = %v, want rate_limited", err)
	}
	if ee.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", ee.RetryAfter)
	}

	// rejection is logged but is not an execution
	stats := f.usage.Snapshot("svc")
	if stats.TotalRequests != 1 {
		t.Errorf("total = %d, want 1", stats.TotalRequests)
	}
	rec := f.exec.last(t)
	if rec.Status != store.StatusRateLimited {
		t.Errorf("record status = %s", rec.Status)
	}
}

func TestExecuteAuthFailureCountsAsFailed(t *testing.T) {
	integ := testIntegration("svc")
	integ.Authentication = store.AuthConfig{Type: store.AuthAPIKey}
	inv := &stubInvoker{outcomes: []stubOutcome{okOutcome(`{}`)}}
	f := newFixture(t, inv, integ) // no secrets configured

	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	assertCode(t, err, CodeAuth)
	if inv.callCount() != 0 {
		t.Error("auth failure must not reach the invoker")
	}
	stats := f.usage.Snapshot("svc")
	if stats.FailedRequests != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExecuteTimeout(t *testing.T) {
	inv := &stubInvoker{
		outcomes: []stubOutcome{okOutcome(`{}`)},
		block:    make(chan struct{}),
	}
	f := newFixture(t, inv, testIntegration("svc"))

	retries := 0
	_, err := f.engine.Execute(context.Background(), Call{
		IntegrationID: "svc", Tool: "search", TimeoutMs: 20, MaxRetries: &retries,
	})
	assertCode(t, err, CodeTimeout)
	rec := f.exec.last(t)
	if rec.ErrorCode != CodeTimeout {
		t.Errorf("record error code = %s", rec.ErrorCode)
	}
}

func TestExecuteReleasesConcurrencySlot(t *testing.T) {
	integ := testIntegration("svc")
	integ.RateLimit.Concurrent = 1
	inv := &stubInvoker{outcomes: []stubOutcome{okOutcome(`{}`)}}
	f := newFixture(t, inv, integ)

	for i := 0; i < 3; i++ {
		if _, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := f.limiter.InFlight("svc"); n != 0 {
		t.Errorf("in-flight = %d after completion, want 0", n)
	}
}

func TestDeactivateMidFlightCompletes(t *testing.T) {
	integ := testIntegration("svc")
	inv := &stubInvoker{
		outcomes: []stubOutcome{okOutcome(`{"done":true}`)},
		block:    make(chan struct{}),
	}
	f := newFixture(t, inv, integ)

	errc := make(chan error, 1)
	resc := make(chan *Result, 1)
	go func() {
		res, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
		resc <- res
		errc <- err
	}()

	// wait for the call to be in flight, then deactivate the record
	deadline := time.Now().Add(2 * time.Second)
	for f.invoker.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("invoker never called")
		}
		time.Sleep(time.Millisecond)
	}
	f.source.mu.Lock()
	f.source.byID["svc"].IsActive = false
	f.source.mu.Unlock()
	close(inv.block)

	if err := <-errc; err != nil {
		t.Fatalf("in-flight execution failed after deactivation: %v", err)
	}
	if res := <-resc; string(res.Output) != `{"done":true}` {
		t.Errorf("output = %s", res.Output)
	}

	// but a new call is refused
	_, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	assertCode(t, err, CodeValidation)
}

func TestProbeUsesProbeDefaults(t *testing.T) {
	integ := testIntegration("svc")
	integ.RateLimit.RequestsPerMinute = 1
	inv := &stubInvoker{outcomes: []stubOutcome{okOutcome(`{"status":"ok"}`)}}
	f := newFixture(t, inv, integ)

	res, err := f.engine.Probe(context.Background(), "svc")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Attempts != 1 {
		t.Errorf("attempts = %d", res.Attempts)
	}

	// the probe consumed real quota
	_, err = f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	assertCode(t, err, CodeRateLimited)

	rec := f.exec.recs[0]
	if rec.ToolName != invoke.ProbeTool || rec.Priority != PriorityLow {
		t.Errorf("probe record = %+v", rec)
	}
	stats := f.usage.Snapshot("svc")
	if stats.TotalRequests != 1 {
		t.Errorf("probe not accounted: %+v", stats)
	}
}

func TestProbeRetriesOnce(t *testing.T) {
	inv := &stubInvoker{outcomes: []stubOutcome{
		{err: &invoke.Error{Message: "502", Retryable: true}},
	}}
	f := newFixture(t, inv, testIntegration("svc"))

	_, err := f.engine.Probe(context.Background(), "svc")
	assertCode(t, err, CodeExecution)
	if inv.callCount() != 2 { // initial + 1 retry
		t.Errorf("calls = %d, want 2", inv.callCount())
	}
}

func TestBackoffCapAndJitter(t *testing.T) {
	e := New(nil, nil, nil, nil, nil, nil, nil)
	e.randf = func() float64 { return 0.5 } // jitter factor 1.0

	if got := e.backoff(1); got != 200*time.Millisecond {
		t.Errorf("backoff(1) = %v", got)
	}
	if got := e.backoff(2); got != 400*time.Millisecond {
		t.Errorf("backoff(2) = %v", got)
	}
	if got := e.backoff(10); got != 5*time.Second {
		t.Errorf("backoff(10) = %v, want cap", got)
	}

	e.randf = func() float64 { return 1.0 } // +20%
	if got := e.backoff(1); got != 240*time.Millisecond {
		t.Errorf("backoff(1) with max jitter = %v", got)
	}
	e.randf = func() float64 { return 0.0 } // -20%
	if got := e.backoff(1); got != 160*time.Millisecond {
		t.Errorf("backoff(1) with min jitter = %v", got)
	}
}

func TestExecuteEstimatedCost(t *testing.T) {
	integ := testIntegration("svc")
	integ.Cost = cost.Model{Type: cost.TypePerToken, Amount: 0.001, Currency: "USD"}
	// the stub reports no usage metadata, so the meter must flag an estimate
	inv := &stubInvoker{outcomes: []stubOutcome{okOutcome(`{}`)}}
	f := newFixture(t, inv, integ)

	res, err := f.engine.Execute(context.Background(), Call{IntegrationID: "svc", Tool: "search"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.CostEstimated {
		t.Error("expected estimated cost flag")
	}
	if res.Cost != cost.FromFloat(0.001) {
		t.Errorf("cost = %v", res.Cost)
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var ee *Error
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want *engine.Error", err)
	}
	if ee.Code != code {
		t.Fatalf("code = %s, want %s", ee.Code, code)
	}
}
