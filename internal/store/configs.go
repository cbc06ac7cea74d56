package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/swfm/riverml/internal/models"
)

// SeedDefaultConfigs inserts the given per-method configs for any method ID
// not already present, leaving operator-edited rows untouched.
func (s *Store) SeedDefaultConfigs(ctx context.Context, defaults map[string]json.RawMessage) error {
	for methodID, cfg := range defaults {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO preprocessing_configs (method_id, enabled, config, updated_at)
			VALUES (?, TRUE, ?, ?)
			ON CONFLICT(method_id) DO NOTHING
		`, methodID, string(cfg), time.Now().UTC()); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetConfigs(ctx context.Context) ([]models.FeatureConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT method_id, enabled, config, updated_at FROM preprocessing_configs ORDER BY method_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.FeatureConfig
	for rows.Next() {
		var c models.FeatureConfig
		var raw string
		if err := rows.Scan(&c.MethodID, &c.Enabled, &raw, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.Config = json.RawMessage(raw)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetConfig(ctx context.Context, methodID string) (*models.FeatureConfig, error) {
	row := s.db.QueryRowContext(ctx, `SELECT method_id, enabled, config, updated_at FROM preprocessing_configs WHERE method_id = ?`, methodID)
	var c models.FeatureConfig
	var raw string
	err := row.Scan(&c.MethodID, &c.Enabled, &raw, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Config = json.RawMessage(raw)
	return &c, nil
}

func (s *Store) UpsertConfig(ctx context.Context, c models.FeatureConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO preprocessing_configs (method_id, enabled, config, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(method_id) DO UPDATE SET
			enabled = excluded.enabled,
			config = excluded.config,
			updated_at = excluded.updated_at
	`, c.MethodID, c.Enabled, string(c.Config), time.Now().UTC())
	return err
}

// EnabledConfigs satisfies the feature pipeline's config source: raw JSON
// blobs keyed by method ID, enabled rows only.
func (s *Store) EnabledConfigs(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT method_id, config FROM preprocessing_configs WHERE enabled = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var methodID, raw string
		if err := rows.Scan(&methodID, &raw); err != nil {
			return nil, err
		}
		out[methodID] = json.RawMessage(raw)
	}
	return out, rows.Err()
}
