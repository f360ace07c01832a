package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/revittco/toolgate/internal/cost"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// errorResponse is the standard error response body. The execution fields
// are present when the failure settled as a real execution, so callers see
// response time and attempts for failed calls too.
type errorResponse struct {
	Error          string      `json:"error"`
	Code           string      `json:"code,omitempty"`
	RetryAfter     int64       `json:"retryAfterMs,omitempty"`
	ExecutionID    string      `json:"executionId,omitempty"`
	Attempts       int         `json:"attempts,omitempty"`
	ResponseTimeMs int64       `json:"responseTimeMs,omitempty"`
	Cost           cost.Amount `json:"cost,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads and decodes a JSON request body into v. Unknown fields
// and trailing values are rejected so malformed clients fail loudly.
func decodeJSON(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}
