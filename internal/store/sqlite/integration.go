package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/revittco/toolgate/internal/store"
)

const integrationColumns = `id, name, description, provider, type, version,
	config, encrypted_secrets, auth_type, auth_config, capabilities,
	rpm, rph, rpd, concurrent,
	cost_type, cost_amount, cost_currency, cost_unit,
	is_active, source, created_at, updated_at`

// PutIntegration performs an idempotent full-replace upsert keyed by ID.
// CreatedAt of an existing row is preserved; everything else is replaced.
func (d *DB) PutIntegration(ctx context.Context, i *store.Integration) error {
	now := time.Now().UTC()
	i.UpdatedAt = now
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.Source == "" {
		i.Source = "api"
	}

	config := marshalJSON(i.Config, "{}")
	authCfg := marshalJSON(i.Authentication.Config, "{}")
	caps := marshalJSON(i.Capabilities, "[]")

	return d.withTx(ctx, func(q queryable) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO integrations (`+integrationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				provider = excluded.provider,
				type = excluded.type,
				version = excluded.version,
				config = excluded.config,
				encrypted_secrets = excluded.encrypted_secrets,
				auth_type = excluded.auth_type,
				auth_config = excluded.auth_config,
				capabilities = excluded.capabilities,
				rpm = excluded.rpm,
				rph = excluded.rph,
				rpd = excluded.rpd,
				concurrent = excluded.concurrent,
				cost_type = excluded.cost_type,
				cost_amount = excluded.cost_amount,
				cost_currency = excluded.cost_currency,
				cost_unit = excluded.cost_unit,
				is_active = excluded.is_active,
				source = excluded.source,
				updated_at = excluded.updated_at`,
			i.ID, i.Name, i.Description, i.Provider, i.Type, i.Version,
			config, i.EncryptedSecrets, i.Authentication.Type, authCfg, caps,
			i.RateLimit.RequestsPerMinute, i.RateLimit.RequestsPerHour,
			i.RateLimit.RequestsPerDay, i.RateLimit.Concurrent,
			i.Cost.Type, i.Cost.Amount, i.Cost.Currency, i.Cost.Unit,
			i.IsActive, i.Source, formatTime(i.CreatedAt), formatTime(i.UpdatedAt),
		)
		if err != nil {
			return mapConstraintError(err)
		}
		// Ensure a usage row exists so counters survive re-registration.
		_, err = q.ExecContext(ctx, `
			INSERT INTO usage_stats (integration_id, updated_at)
			VALUES (?, ?)
			ON CONFLICT(integration_id) DO NOTHING`,
			i.ID, formatTime(now),
		)
		return err
	})
}

func (d *DB) GetIntegration(ctx context.Context, id string) (*store.Integration, error) {
	row := d.q.QueryRowContext(ctx, `
		SELECT `+integrationColumns+` FROM integrations WHERE id = ?`, id)
	return scanIntegration(row)
}

func (d *DB) ListIntegrations(ctx context.Context) ([]store.Integration, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

func (d *DB) SetIntegrationActive(ctx context.Context, id string, active bool) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE integrations SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (d *DB) DeleteIntegration(ctx context.Context, id string) error {
	return d.withTx(ctx, func(q queryable) error {
		if _, err := q.ExecContext(ctx,
			`DELETE FROM usage_stats WHERE integration_id = ?`, id); err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM integrations WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return checkRowsAffected(res)
	})
}

func (d *DB) UpdateEncryptedSecrets(ctx context.Context, id string, blob []byte) error {
	res, err := d.q.ExecContext(ctx, `
		UPDATE integrations SET encrypted_secrets = ?, updated_at = ? WHERE id = ?`,
		blob, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func scanIntegration(row rowScanner) (*store.Integration, error) {
	var i store.Integration
	var config, authCfg, caps, createdAt, updatedAt string
	var secrets []byte
	err := row.Scan(
		&i.ID, &i.Name, &i.Description, &i.Provider, &i.Type, &i.Version,
		&config, &secrets, &i.Authentication.Type, &authCfg, &caps,
		&i.RateLimit.RequestsPerMinute, &i.RateLimit.RequestsPerHour,
		&i.RateLimit.RequestsPerDay, &i.RateLimit.Concurrent,
		&i.Cost.Type, &i.Cost.Amount, &i.Cost.Currency, &i.Cost.Unit,
		&i.IsActive, &i.Source, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(config), &i.Config)
	_ = json.Unmarshal([]byte(authCfg), &i.Authentication.Config)
	_ = json.Unmarshal([]byte(caps), &i.Capabilities)
	i.EncryptedSecrets = secrets
	i.CreatedAt = parseTime(createdAt)
	i.UpdatedAt = parseTime(updatedAt)
	return &i, nil
}
