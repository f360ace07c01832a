package invoke

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/store"
)

// ProbeTool is the synthetic tool name used by the connection prober.
// Every invoker must answer it with a side-effect-light check.
const ProbeTool = "test_connection"

// Auth is the resolved credential material for one call.
type Auth struct {
	Type     string // store.Auth* constant
	Header   string // header name for api_key/oauth
	Value    string // header value, prefix already applied
	Username string // basic auth
	Password string // basic auth
}

// Request is one tool call handed to an invoker.
type Request struct {
	Integration *store.Integration
	Tool        string
	Params      json.RawMessage
	Auth        Auth
}

// Result is the successful outcome of one attempt. Usage is the optional
// consumption metadata channel the cost meter depends on; nil when the
// provider reports none.
type Result struct {
	Output json.RawMessage
	Usage  *cost.Usage
}

// Error is a tool-call failure. Retryable marks transient conditions the
// engine may retry (network faults, throttling, server errors). Usage is
// set when the provider reported consumption metadata alongside the
// failure; tokens burned by a failed call are still real spend.
type Error struct {
	Message   string
	Retryable bool
	Usage     *cost.Usage
}

func (e *Error) Error() string { return e.Message }

// Invoker performs the underlying tool-specific call. What the call does
// is opaque to the gateway; the invoker only owns transport and decoding.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
}

// Dispatcher selects an invoker from the integration's config: a "script"
// entry runs in-process, a "baseUrl" entry goes over HTTP.
type Dispatcher struct {
	http   *HTTPInvoker
	script *ScriptInvoker
}

func NewDispatcher(http *HTTPInvoker, script *ScriptInvoker) *Dispatcher {
	return &Dispatcher{http: http, script: script}
}

func (d *Dispatcher) Invoke(ctx context.Context, req Request) (*Result, error) {
	cfg := req.Integration.Config
	if _, ok := cfg["script"].(string); ok && d.script != nil {
		return d.script.Invoke(ctx, req)
	}
	if _, ok := cfg["baseUrl"].(string); ok && d.http != nil {
		return d.http.Invoke(ctx, req)
	}
	return nil, &Error{
		Message: fmt.Sprintf("integration %s has no invocable config (need baseUrl or script)",
			req.Integration.ID),
	}
}
