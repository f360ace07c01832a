package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/revittco/toolgate/internal/engine"
	"github.com/revittco/toolgate/internal/ratelimit"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/store"
)

type executeHandler struct {
	engine   *engine.Engine
	registry *registry.Service
	limiter  *ratelimit.Limiter
}

// executeRequest is the POST body for one tool call. The integration ID
// comes from the path.
type executeRequest struct {
	Tool       string          `json:"tool"`
	Params     json.RawMessage `json:"params,omitempty"`
	CallerID   string          `json:"callerId,omitempty"`
	Priority   string          `json:"priority,omitempty"`
	TimeoutMs  int64           `json:"timeoutMs,omitempty"`
	MaxRetries *int            `json:"maxRetries,omitempty"`
}

func (h *executeHandler) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := h.engine.Execute(r.Context(), engine.Call{
		IntegrationID: r.PathValue("id"),
		Tool:          req.Tool,
		Params:        req.Params,
		CallerID:      req.CallerID,
		Priority:      req.Priority,
		TimeoutMs:     req.TimeoutMs,
		MaxRetries:    req.MaxRetries,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *executeHandler) probe(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Probe(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"connected":   true,
		"latencyMs":   res.LatencyMs,
		"attempts":    res.Attempts,
		"executionId": res.ExecutionID,
	})
}

func (h *executeHandler) usage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.registry.Get(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "integration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load integration")
		return
	}
	stats := h.engine.Usage(id)
	writeJSON(w, http.StatusOK, stats)
}

func (h *executeHandler) rateLimit(w http.ResponseWriter, r *http.Request) {
	integ, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "integration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load integration")
		return
	}
	writeJSON(w, http.StatusOK, h.limiter.Remaining(integ.ID, integ.RateLimit))
}

func (h *executeHandler) resetRateLimit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.ResetLimits(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "integration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to reset limits")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dryRunRequest asks whether a call would currently be admitted, without
// consuming any quota.
type dryRunRequest struct {
	IntegrationID string `json:"integrationId"`
	Tool          string `json:"tool,omitempty"`
}

func (h *executeHandler) dryRun(w http.ResponseWriter, r *http.Request) {
	var req dryRunRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	integ, err := h.registry.Get(r.Context(), req.IntegrationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "integration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load integration")
		return
	}

	resp := map[string]any{"admitted": true}
	if !integ.IsActive {
		resp["admitted"] = false
		resp["reason"] = "integration is not active"
	} else if req.Tool != "" && !integ.HasCapability(req.Tool) {
		resp["admitted"] = false
		resp["reason"] = "integration does not provide this tool"
	} else if err := h.limiter.Check(integ.ID, integ.RateLimit); err != nil {
		resp["admitted"] = false
		resp["reason"] = err.Error()
		var le *ratelimit.LimitError
		if errors.As(err, &le) {
			resp["scope"] = le.Scope
			resp["retryAfterMs"] = le.RetryAfter.Milliseconds()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var ee *engine.Error
	if !errors.As(err, &ee) {
		writeError(w, http.StatusInternalServerError, "execution failed")
		return
	}

	status := http.StatusInternalServerError
	switch ee.Code {
	case engine.CodeValidation:
		status = http.StatusBadRequest
	case engine.CodeNotFound:
		status = http.StatusNotFound
	case engine.CodeRateLimited:
		status = http.StatusTooManyRequests
	case engine.CodeAuth:
		status = http.StatusBadGateway
	case engine.CodeTimeout:
		status = http.StatusGatewayTimeout
	case engine.CodeExecution:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{
		Error:          ee.Message,
		Code:           ee.Code,
		RetryAfter:     ee.RetryAfter.Milliseconds(),
		ExecutionID:    ee.ExecutionID,
		Attempts:       ee.Attempts,
		ResponseTimeMs: ee.LatencyMs,
		Cost:           ee.Cost,
	})
}
