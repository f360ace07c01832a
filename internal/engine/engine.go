package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/invoke"
	"github.com/revittco/toolgate/internal/ratelimit"
	"github.com/revittco/toolgate/internal/store"
	"github.com/revittco/toolgate/internal/usage"
)

// Execution defaults. Probes get a short leash and a single retry so a
// health check can never monopolize an integration's quota for long.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 0
	ProbeTimeout      = 5 * time.Second
	ProbeMaxRetries   = 1

	backoffBase = 200 * time.Millisecond
	backoffCap  = 5 * time.Second
	jitterFrac  = 0.2
)

// Priorities accepted on a call. Advisory: they are recorded in the
// execution log but do not change admission order, which is strictly
// first-come first-served.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// IntegrationSource resolves integration records for execution.
// Satisfied by the registry's cached reader and by store.IntegrationStore.
type IntegrationSource interface {
	GetIntegration(ctx context.Context, id string) (*store.Integration, error)
}

// Call is one execution request.
type Call struct {
	IntegrationID string          `json:"integrationId"`
	Tool          string          `json:"tool"`
	Params        json.RawMessage `json:"params,omitempty"`
	CallerID      string          `json:"callerId,omitempty"`
	Priority      string          `json:"priority,omitempty"`
	TimeoutMs     int64           `json:"timeoutMs,omitempty"`
	MaxRetries    *int            `json:"maxRetries,omitempty"`
}

// Result is the outcome of a successful execution.
type Result struct {
	ExecutionID   string          `json:"executionId"`
	Output        json.RawMessage `json:"output"`
	Attempts      int             `json:"attempts"`
	LatencyMs     int64           `json:"latencyMs"`
	Cost          cost.Amount     `json:"cost"`
	CostEstimated bool            `json:"costEstimated,omitempty"`
}

// Engine runs the execution pipeline: resolve the integration, check the
// capability and parameters, pass the rate limiter, attach credentials,
// invoke with per-attempt timeouts and retry backoff, then settle cost,
// usage counters, and the execution log.
type Engine struct {
	integrations IntegrationSource
	limiter      *ratelimit.Limiter
	secrets      SecretSource
	usage        *usage.Accumulator
	audit        *audit.Logger
	invoker      invoke.Invoker
	logger       *slog.Logger

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randf func() float64
}

func New(
	integrations IntegrationSource,
	limiter *ratelimit.Limiter,
	secrets SecretSource,
	acc *usage.Accumulator,
	auditLog *audit.Logger,
	invoker invoke.Invoker,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		integrations: integrations,
		limiter:      limiter,
		secrets:      secrets,
		usage:        acc,
		audit:        auditLog,
		invoker:      invoker,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepCtx,
		randf:        rand.Float64,
	}
}

// Execute runs one tool call through the full pipeline. Every terminal
// outcome that passed admission is settled exactly once against usage
// counters and the execution log; limiter rejections are logged but never
// counted as executions.
func (e *Engine) Execute(ctx context.Context, call Call) (*Result, error) {
	if call.IntegrationID == "" {
		return nil, validationError("integrationId is required")
	}
	if call.Tool == "" {
		return nil, validationError("tool is required")
	}
	switch call.Priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		return nil, validationError("invalid priority %q", call.Priority)
	}

	integ, err := e.integrations.GetIntegration(ctx, call.IntegrationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &Error{Code: CodeNotFound,
				Message: fmt.Sprintf("integration %s not found", call.IntegrationID), Err: err}
		}
		return nil, &Error{Code: CodeExecution,
			Message: fmt.Sprintf("load integration %s", call.IntegrationID), Err: err}
	}
	if !integ.IsActive {
		return nil, validationError("integration %s is not active", integ.ID)
	}
	if call.Tool != invoke.ProbeTool && !integ.HasCapability(call.Tool) {
		return nil, validationError("integration %s does not provide tool %q", integ.ID, call.Tool)
	}
	if err := e.validateParams(integ, call.Tool, call.Params); err != nil {
		return nil, err
	}

	// Admission is the accounting boundary: a rejection here is visible in
	// the execution log but consumes nothing and reaches no usage counter.
	ticket, err := e.limiter.Admit(integ.ID, integ.RateLimit)
	if err != nil {
		var le *ratelimit.LimitError
		if errors.As(err, &le) {
			e.logRejection(ctx, integ.ID, call, le)
			return nil, &Error{Code: CodeRateLimited, Message: le.Error(),
				RetryAfter: le.RetryAfter, Err: le}
		}
		return nil, &Error{Code: CodeExecution, Message: "admission failed", Err: err}
	}
	defer ticket.Release()

	start := e.now()
	res, attempts, execErr := e.run(ctx, integ, call)
	latency := e.now().Sub(start).Milliseconds()

	return e.settle(ctx, integ, call, res, attempts, latency, execErr)
}

// Probe runs the synthetic connectivity check through the same pipeline as
// a real execution: it is admitted, metered, and logged like any call.
func (e *Engine) Probe(ctx context.Context, integrationID string) (*Result, error) {
	retries := ProbeMaxRetries
	return e.Execute(ctx, Call{
		IntegrationID: integrationID,
		Tool:          invoke.ProbeTool,
		Priority:      PriorityLow,
		TimeoutMs:     ProbeTimeout.Milliseconds(),
		MaxRetries:    &retries,
	})
}

// Usage returns the integration's running usage counters.
func (e *Engine) Usage(id string) store.UsageStats {
	return e.usage.Snapshot(id)
}

// run performs the attempt loop: per-attempt timeout, retry on transient
// faults with capped exponential backoff and jitter.
func (e *Engine) run(ctx context.Context, integ *store.Integration, call Call) (*invoke.Result, int, error) {
	auth, err := buildAuth(ctx, integ, e.secrets)
	if err != nil {
		return nil, 0, err
	}

	timeout := DefaultTimeout
	if call.TimeoutMs > 0 {
		timeout = time.Duration(call.TimeoutMs) * time.Millisecond
	}
	maxRetries := DefaultMaxRetries
	if call.MaxRetries != nil && *call.MaxRetries >= 0 {
		maxRetries = *call.MaxRetries
	}

	req := invoke.Request{Integration: integ, Tool: call.Tool, Params: call.Params, Auth: auth}

	var lastErr error
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := e.invoker.Invoke(attemptCtx, req)
		cancel()
		if err == nil {
			return res, attempt, nil
		}
		lastErr = err

		retryable, timedOut := classify(err)
		if timedOut && ctx.Err() != nil {
			// The caller's own context is gone; retrying would just burn
			// quota against a listener that already hung up.
			return nil, attempt, &Error{Code: CodeTimeout, Message: "execution canceled", Err: err}
		}
		if !retryable || attempt > maxRetries {
			return nil, attempt, e.terminal(integ.ID, call.Tool, err, timedOut)
		}

		delay := e.backoff(attempt)
		e.logger.Debug("retrying tool call",
			"integration", integ.ID, "tool", call.Tool,
			"attempt", attempt, "delay", delay, "error", err)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, attempt, &Error{Code: CodeTimeout, Message: "execution canceled", Err: lastErr}
		}
	}
}

// classify reports whether an attempt error is worth retrying and whether
// it was a deadline.
func classify(err error) (retryable, timedOut bool) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true, true
	}
	var ie *invoke.Error
	if errors.As(err, &ie) {
		return ie.Retryable, false
	}
	return false, false
}

func (e *Engine) terminal(integrationID, tool string, err error, timedOut bool) *Error {
	if timedOut {
		return &Error{Code: CodeTimeout,
			Message: fmt.Sprintf("tool %q on %s timed out", tool, integrationID), Err: err}
	}
	return &Error{Code: CodeExecution,
		Message: fmt.Sprintf("tool %q on %s failed: %v", tool, integrationID, err), Err: err}
}

// backoff computes the delay before the next attempt: base doubled per
// attempt, capped, with a ±20% jitter so synchronized retries fan out.
func (e *Engine) backoff(attempt int) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := 1 + jitterFrac*(2*e.randf()-1)
	return time.Duration(float64(d) * jitter)
}

// settle meters cost, applies usage counters, and writes the execution
// record for one admitted call.
func (e *Engine) settle(
	ctx context.Context,
	integ *store.Integration,
	call Call,
	res *invoke.Result,
	attempts int,
	latencyMs int64,
	execErr error,
) (*Result, error) {
	rec := &store.ExecutionRecord{
		ID:             uuid.NewString(),
		Timestamp:      e.now().UTC(),
		IntegrationID:  integ.ID,
		ToolName:       call.Tool,
		ParamsRedacted: call.Params,
		CallerID:       call.CallerID,
		Priority:       call.Priority,
		Attempts:       attempts,
		LatencyMs:      latencyMs,
	}

	var out *Result
	if execErr == nil {
		var usageMeta *cost.Usage
		if res != nil {
			usageMeta = res.Usage
		}
		amount, estimated := cost.Meter(integ.Cost, usageMeta)
		rec.Status = store.StatusSuccess
		rec.Cost = amount
		rec.CostEstimated = estimated
		e.usage.Record(ctx, integ.ID, true, latencyMs, amount)

		out = &Result{
			ExecutionID:   rec.ID,
			Attempts:      attempts,
			LatencyMs:     latencyMs,
			Cost:          amount,
			CostEstimated: estimated,
		}
		if res != nil {
			out.Output = res.Output
		}
	} else {
		// A failure can still report real consumption (tokens burned on a
		// rejected completion); charge exactly what was reported.
		var failUsage *cost.Usage
		var ie *invoke.Error
		if errors.As(execErr, &ie) {
			failUsage = ie.Usage
		}
		amount := cost.MeterFailure(integ.Cost, failUsage)

		var ee *Error
		if !errors.As(execErr, &ee) {
			ee = &Error{Code: CodeExecution, Message: execErr.Error(), Err: execErr}
		}
		ee.ExecutionID = rec.ID
		ee.Attempts = attempts
		ee.LatencyMs = latencyMs
		ee.Cost = amount
		execErr = ee

		rec.Status = store.StatusError
		rec.ErrorCode = ee.Code
		rec.ErrorMessage = ee.Message
		rec.Cost = amount
		e.usage.Record(ctx, integ.ID, false, latencyMs, amount)
	}

	if err := e.audit.Record(ctx, rec); err != nil {
		e.logger.Error("record execution", "integration", integ.ID, "error", err)
	}
	return out, execErr
}

// logRejection writes a rate_limited row to the execution log. Rejections
// are visible in history but are not executions: no usage counter moves.
func (e *Engine) logRejection(ctx context.Context, id string, call Call, le *ratelimit.LimitError) {
	rec := &store.ExecutionRecord{
		ID:             uuid.NewString(),
		Timestamp:      e.now().UTC(),
		IntegrationID:  id,
		ToolName:       call.Tool,
		ParamsRedacted: call.Params,
		CallerID:       call.CallerID,
		Priority:       call.Priority,
		Status:         store.StatusRateLimited,
		ErrorCode:      CodeRateLimited,
		ErrorMessage:   le.Error(),
	}
	if err := e.audit.Record(ctx, rec); err != nil {
		e.logger.Error("record rejection", "integration", id, "error", err)
	}
}

// validateParams checks call parameters against the integration's per-tool
// JSON schema, when one is configured under config.paramSchemas.<tool>.
func (e *Engine) validateParams(integ *store.Integration, tool string, params json.RawMessage) error {
	schemas, ok := integ.Config["paramSchemas"].(map[string]any)
	if !ok {
		return nil
	}
	schema, ok := schemas[tool]
	if !ok {
		return nil
	}

	doc := params
	if len(doc) == 0 {
		doc = json.RawMessage(`{}`)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return validationError("validate params for %q: %v", tool, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return validationError("invalid params for %q: %s", tool, strings.Join(msgs, "; "))
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
