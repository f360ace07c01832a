package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/store"
)

func (d *DB) GetUsageStats(ctx context.Context, integrationID string) (*store.UsageStats, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT total_requests, successful_requests, failed_requests,
		       avg_response_time_ms, total_cost_micros
		FROM usage_stats WHERE integration_id = ?`, integrationID)

	var s store.UsageStats
	var micros int64
	err := row.Scan(&s.TotalRequests, &s.SuccessfulRequests, &s.FailedRequests,
		&s.AverageResponseTimeMs, &micros)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.TotalCost = cost.Amount(micros)
	return &s, nil
}

func (d *DB) PutUsageStats(ctx context.Context, integrationID string, s *store.UsageStats) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO usage_stats
			(integration_id, total_requests, successful_requests, failed_requests,
			 avg_response_time_ms, total_cost_micros, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(integration_id) DO UPDATE SET
			total_requests = excluded.total_requests,
			successful_requests = excluded.successful_requests,
			failed_requests = excluded.failed_requests,
			avg_response_time_ms = excluded.avg_response_time_ms,
			total_cost_micros = excluded.total_cost_micros,
			updated_at = excluded.updated_at`,
		integrationID, s.TotalRequests, s.SuccessfulRequests, s.FailedRequests,
		s.AverageResponseTimeMs, int64(s.TotalCost),
		formatTime(time.Now().UTC()),
	)
	return err
}

func (d *DB) ListUsageStats(ctx context.Context) (map[string]store.UsageStats, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT integration_id, total_requests, successful_requests,
		       failed_requests, avg_response_time_ms, total_cost_micros
		FROM usage_stats`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]store.UsageStats)
	for rows.Next() {
		var id string
		var s store.UsageStats
		var micros int64
		if err := rows.Scan(&id, &s.TotalRequests, &s.SuccessfulRequests,
			&s.FailedRequests, &s.AverageResponseTimeMs, &micros); err != nil {
			return nil, err
		}
		s.TotalCost = cost.Amount(micros)
		out[id] = s
	}
	return out, rows.Err()
}

func (d *DB) DeleteUsageStats(ctx context.Context, integrationID string) error {
	_, err := d.q.ExecContext(ctx,
		`DELETE FROM usage_stats WHERE integration_id = ?`, integrationID)
	return err
}
