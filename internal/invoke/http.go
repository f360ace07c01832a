package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/store"
)

// HTTPInvoker calls providers that expose tools over HTTP. Tool calls are
// POSTed to {baseUrl}/tools/{name}; the probe is a GET against the base
// URL (or a configured healthPath) so it stays side-effect free.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates an HTTP invoker. Per-call deadlines come from the
// request context, so the client itself carries no timeout.
func NewHTTPInvoker(client *http.Client) *HTTPInvoker {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPInvoker{client: client}
}

// callEnvelope is the response shape expected from HTTP providers. Output
// is the tool result; Usage is the optional consumption metadata channel.
type callEnvelope struct {
	Output json.RawMessage `json:"output"`
	Usage  *usageEnvelope  `json:"usage,omitempty"`
}

type usageEnvelope struct {
	Tokens     int64 `json:"tokens,omitempty"`
	DurationMs int64 `json:"durationMs,omitempty"`
}

func (h *HTTPInvoker) Invoke(ctx context.Context, req Request) (*Result, error) {
	baseURL, _ := req.Integration.Config["baseUrl"].(string)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return nil, &Error{Message: "integration has no baseUrl configured"}
	}

	var httpReq *http.Request
	var err error
	if req.Tool == ProbeTool {
		url := baseURL
		if hp, ok := req.Integration.Config["healthPath"].(string); ok && hp != "" {
			url = baseURL + "/" + strings.TrimLeft(hp, "/")
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		body := req.Params
		if len(body) == 0 {
			body = json.RawMessage(`{}`)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost,
			baseURL+"/tools/"+req.Tool, bytes.NewReader(body))
		if httpReq != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("build request: %v", err)}
	}
	applyAuth(httpReq, req.Auth)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		// Deadline/cancellation surfaces from the context; everything else
		// is a transport fault worth retrying.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Message: fmt.Sprintf("call %s: %v", req.Tool, err), Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Message: fmt.Sprintf("read response: %v", err), Retryable: true}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodeEnvelope(data), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &Error{
			Message:   fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(data, 200)),
			Retryable: true,
			Usage:     decodeFailureUsage(data),
		}
	default:
		return nil, &Error{
			Message: fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncate(data, 200)),
			Usage:   decodeFailureUsage(data),
		}
	}
}

// decodeEnvelope extracts output and usage metadata. Providers that don't
// speak the envelope get their whole body passed through as output.
func decodeEnvelope(data []byte) *Result {
	var env callEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Output != nil {
		res := &Result{Output: env.Output}
		if env.Usage != nil {
			res.Usage = &cost.Usage{Tokens: env.Usage.Tokens, DurationMs: env.Usage.DurationMs}
		}
		return res
	}
	if json.Valid(data) {
		return &Result{Output: data}
	}
	quoted, _ := json.Marshal(string(data))
	return &Result{Output: quoted}
}

// decodeFailureUsage pulls consumption metadata out of an error body when
// the provider still speaks the envelope there. Most error bodies don't;
// nil means "nothing reported".
func decodeFailureUsage(data []byte) *cost.Usage {
	var env callEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Usage == nil {
		return nil
	}
	return &cost.Usage{Tokens: env.Usage.Tokens, DurationMs: env.Usage.DurationMs}
}

func applyAuth(req *http.Request, a Auth) {
	switch a.Type {
	case store.AuthAPIKey, store.AuthOAuth:
		if a.Header != "" && a.Value != "" {
			req.Header.Set(a.Header, a.Value)
		}
	case store.AuthBasic:
		req.SetBasicAuth(a.Username, a.Password)
	}
}

func truncate(data []byte, n int) string {
	s := string(data)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
