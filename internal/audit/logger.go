package audit

import (
	"context"
	"fmt"

	"github.com/revittco/toolgate/internal/store"
)

// SecretKeyLister exposes an integration's secret key names, which double
// as extra redaction hints for that integration's parameters.
type SecretKeyLister interface {
	List(ctx context.Context, integrationID string) ([]string, error)
}

// Logger writes execution records with parameter redaction.
type Logger struct {
	store   store.ExecutionStore
	secrets SecretKeyLister // optional
	bus     *Bus            // optional
}

// NewLogger creates an execution-log Logger. secrets and bus are optional.
func NewLogger(s store.ExecutionStore, secrets SecretKeyLister, bus *Bus) *Logger {
	return &Logger{store: s, secrets: secrets, bus: bus}
}

// Record redacts sensitive parameters and inserts the execution record.
func (l *Logger) Record(ctx context.Context, rec *store.ExecutionRecord) error {
	if len(rec.ParamsRedacted) > 0 {
		rec.ParamsRedacted = Redact(rec.ParamsRedacted, l.loadHints(ctx, rec.IntegrationID))
	}

	if err := l.store.InsertExecutionRecord(ctx, rec); err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	if l.bus != nil {
		l.bus.Publish(rec)
	}
	return nil
}

// loadHints fetches per-integration redaction hints (its secret key names).
// Any failure is non-fatal: the global patterns still apply.
func (l *Logger) loadHints(ctx context.Context, integrationID string) []string {
	if l.secrets == nil || integrationID == "" {
		return nil
	}
	hints, err := l.secrets.List(ctx, integrationID)
	if err != nil {
		return nil
	}
	return hints
}
