package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/revittco/toolgate/internal/cost"
	"github.com/revittco/toolgate/internal/store"
)

func (d *DB) InsertExecutionRecord(ctx context.Context, r *store.ExecutionRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	params := "{}"
	if len(r.ParamsRedacted) > 0 {
		params = string(r.ParamsRedacted)
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO execution_log
			(id, ts, integration_id, tool_name, params_redacted, caller_id,
			 priority, status, error_code, error_message, attempts,
			 latency_ms, cost_micros, cost_estimated, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.Timestamp), r.IntegrationID, r.ToolName, params,
		r.CallerID, r.Priority, r.Status, r.ErrorCode, r.ErrorMessage,
		r.Attempts, r.LatencyMs, int64(r.Cost), r.CostEstimated,
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return mapConstraintError(err)
	}
	return nil
}

func (d *DB) QueryExecutionRecords(
	ctx context.Context, f store.ExecutionFilter,
) ([]store.ExecutionRecord, int, error) {
	where := " WHERE 1=1"
	var args []any
	if f.IntegrationID != nil {
		where += " AND integration_id = ?"
		args = append(args, *f.IntegrationID)
	}
	if f.ToolName != nil {
		where += " AND tool_name = ?"
		args = append(args, *f.ToolName)
	}
	if f.Status != nil {
		where += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.After != nil {
		where += " AND ts >= ?"
		args = append(args, formatTime(*f.After))
	}
	if f.Before != nil {
		where += " AND ts < ?"
		args = append(args, formatTime(*f.Before))
	}

	var total int
	err := d.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM execution_log"+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := "SELECT id, ts, integration_id, tool_name, params_redacted, " +
		"caller_id, priority, status, error_code, error_message, attempts, " +
		"latency_ms, cost_micros, cost_estimated, created_at " +
		"FROM execution_log" + where + " ORDER BY ts DESC LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []store.ExecutionRecord
	for rows.Next() {
		var r store.ExecutionRecord
		var ts, params, createdAt string
		var micros int64
		if err := rows.Scan(&r.ID, &ts, &r.IntegrationID, &r.ToolName,
			&params, &r.CallerID, &r.Priority, &r.Status, &r.ErrorCode,
			&r.ErrorMessage, &r.Attempts, &r.LatencyMs, &micros,
			&r.CostEstimated, &createdAt); err != nil {
			return nil, 0, err
		}
		r.Timestamp = parseTime(ts)
		r.ParamsRedacted = json.RawMessage(params)
		r.Cost = cost.Amount(micros)
		r.CreatedAt = parseTime(createdAt)
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (d *DB) GetExecutionStats(
	ctx context.Context, integrationID string, after, before time.Time,
) (*store.ExecutionStats, error) {
	where := " WHERE ts >= ? AND ts < ?"
	args := []any{formatTime(after), formatTime(before)}
	if integrationID != "" {
		where += " AND integration_id = ?"
		args = append(args, integrationID)
	}

	var s store.ExecutionStats
	err := d.q.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'rate_limited' THEN 1 ELSE 0 END), 0),
		       COALESCE(AVG(CASE WHEN status != 'rate_limited' THEN latency_ms END), 0)
		FROM execution_log`+where, args...,
	).Scan(&s.TotalRequests, &s.SuccessCount, &s.ErrorCount,
		&s.RateLimited, &s.AvgLatencyMs)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
