package engine

import (
	"fmt"
	"time"

	"github.com/revittco/toolgate/internal/cost"
)

// Error codes, mirrored into the execution log's error_code column.
const (
	CodeValidation  = "validation_error"
	CodeNotFound    = "not_found"
	CodeRateLimited = "rate_limited"
	CodeAuth        = "auth_error"
	CodeTimeout     = "timeout"
	CodeExecution   = "execution_error"
)

// Error is the terminal failure of one execution. RetryAfter is set only
// for rate-limited rejections with a windowed cause. Failures that passed
// admission settle like any execution, so they also carry the settled
// metadata — execution id, attempts, latency, metered cost; all zero for
// pre-admission rejections, which never become executions.
type Error struct {
	Code       string
	Message    string
	RetryAfter time.Duration

	ExecutionID string
	Attempts    int
	LatencyMs   int64
	Cost        cost.Amount

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}
