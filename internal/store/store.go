package store

import (
	"context"
	"time"
)

// Store is the composite interface for all data access.
type Store interface {
	IntegrationStore
	UsageStore
	ExecutionStore
	Tx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// IntegrationStore manages integration records.
type IntegrationStore interface {
	// PutIntegration is an idempotent full-replace upsert keyed by ID.
	// CreatedAt is preserved across replacements.
	PutIntegration(ctx context.Context, i *Integration) error
	GetIntegration(ctx context.Context, id string) (*Integration, error)
	// ListIntegrations returns records ordered by registration time.
	ListIntegrations(ctx context.Context) ([]Integration, error)
	SetIntegrationActive(ctx context.Context, id string, active bool) error
	DeleteIntegration(ctx context.Context, id string) error
	UpdateEncryptedSecrets(ctx context.Context, id string, blob []byte) error
}

// UsageStore persists per-integration usage counters.
type UsageStore interface {
	GetUsageStats(ctx context.Context, integrationID string) (*UsageStats, error)
	PutUsageStats(ctx context.Context, integrationID string, s *UsageStats) error
	ListUsageStats(ctx context.Context) (map[string]UsageStats, error)
	DeleteUsageStats(ctx context.Context, integrationID string) error
}

// ExecutionStore manages the execution log.
type ExecutionStore interface {
	InsertExecutionRecord(ctx context.Context, r *ExecutionRecord) error
	QueryExecutionRecords(ctx context.Context, f ExecutionFilter) ([]ExecutionRecord, int, error)
	GetExecutionStats(ctx context.Context, integrationID string, after, before time.Time) (*ExecutionStats, error)
}
