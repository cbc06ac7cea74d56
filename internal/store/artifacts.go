package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swfm/riverml/internal/models"
)

// SaveModelArtifact persists a fitted model under the next version number
// for its name and returns the stored version. Versioning is append-only so
// a retrain never clobbers the artifact a running forecast might be using.
func (s *Store) SaveModelArtifact(ctx context.Context, art *models.ModelArtifact) (int, error) {
	featureNames, err := json.Marshal(art.FeatureNames)
	if err != nil {
		return 0, fmt.Errorf("marshal feature names: %w", err)
	}
	coefs, err := json.Marshal(art.Coefficients)
	if err != nil {
		return 0, fmt.Errorf("marshal coefficients: %w", err)
	}
	means, err := json.Marshal(art.ScalerMeans)
	if err != nil {
		return 0, fmt.Errorf("marshal scaler means: %w", err)
	}
	scales, err := json.Marshal(art.ScalerScales)
	if err != nil {
		return 0, fmt.Errorf("marshal scaler scales: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM model_artifacts WHERE name = ?`, art.Name,
	).Scan(&maxVersion); err != nil {
		return 0, err
	}
	version := 1
	if maxVersion.Valid {
		version = int(maxVersion.Int64) + 1
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_artifacts (
			name, family, station_scope, horizon_minutes, version,
			feature_names, coefficients, intercept, scaler_means, scaler_scales,
			rmse, mae, r2
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, art.Name, art.Family, art.StationScope, art.HorizonMinutes, version,
		string(featureNames), string(coefs), art.Intercept, string(means), string(scales),
		art.RMSE, art.MAE, art.R2); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	art.Version = version
	return version, nil
}

// GetLatestModelArtifact returns the highest-version artifact matching the
// family/scope/horizon triple, or nil when none exists.
func (s *Store) GetLatestModelArtifact(ctx context.Context, family, scope string, horizonMinutes int) (*models.ModelArtifact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, family, station_scope, horizon_minutes, version,
		       feature_names, coefficients, intercept, scaler_means, scaler_scales,
		       rmse, mae, r2, created_at
		FROM model_artifacts
		WHERE family = ? AND station_scope = ? AND horizon_minutes = ?
		ORDER BY version DESC
		LIMIT 1
	`, family, scope, horizonMinutes)
	return scanArtifact(row)
}

func scanArtifact(row *sql.Row) (*models.ModelArtifact, error) {
	var art models.ModelArtifact
	var featureNames, coefs, means, scales string
	err := row.Scan(&art.ID, &art.Name, &art.Family, &art.StationScope, &art.HorizonMinutes, &art.Version,
		&featureNames, &coefs, &art.Intercept, &means, &scales,
		&art.RMSE, &art.MAE, &art.R2, &art.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(featureNames), &art.FeatureNames); err != nil {
		return nil, fmt.Errorf("model %s v%d: decode feature names: %w", art.Name, art.Version, err)
	}
	if err := json.Unmarshal([]byte(coefs), &art.Coefficients); err != nil {
		return nil, fmt.Errorf("model %s v%d: decode coefficients: %w", art.Name, art.Version, err)
	}
	if err := json.Unmarshal([]byte(means), &art.ScalerMeans); err != nil {
		return nil, fmt.Errorf("model %s v%d: decode scaler means: %w", art.Name, art.Version, err)
	}
	if err := json.Unmarshal([]byte(scales), &art.ScalerScales); err != nil {
		return nil, fmt.Errorf("model %s v%d: decode scaler scales: %w", art.Name, art.Version, err)
	}
	return &art, nil
}

// ListModelArtifacts returns the newest version of every stored model.
func (s *Store) ListModelArtifacts(ctx context.Context) ([]models.ModelArtifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.family, a.station_scope, a.horizon_minutes, a.version,
		       a.feature_names, a.coefficients, a.intercept, a.scaler_means, a.scaler_scales,
		       a.rmse, a.mae, a.r2, a.created_at
		FROM model_artifacts a
		JOIN (
			SELECT name, MAX(version) AS latest FROM model_artifacts GROUP BY name
		) l ON a.name = l.name AND a.version = l.latest
		ORDER BY a.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ModelArtifact
	for rows.Next() {
		var art models.ModelArtifact
		var featureNames, coefs, means, scales string
		if err := rows.Scan(&art.ID, &art.Name, &art.Family, &art.StationScope, &art.HorizonMinutes, &art.Version,
			&featureNames, &coefs, &art.Intercept, &means, &scales,
			&art.RMSE, &art.MAE, &art.R2, &art.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(featureNames), &art.FeatureNames); err != nil {
			return nil, fmt.Errorf("model %s v%d: decode feature names: %w", art.Name, art.Version, err)
		}
		if err := json.Unmarshal([]byte(coefs), &art.Coefficients); err != nil {
			return nil, fmt.Errorf("model %s v%d: decode coefficients: %w", art.Name, art.Version, err)
		}
		if err := json.Unmarshal([]byte(means), &art.ScalerMeans); err != nil {
			return nil, fmt.Errorf("model %s v%d: decode scaler means: %w", art.Name, art.Version, err)
		}
		if err := json.Unmarshal([]byte(scales), &art.ScalerScales); err != nil {
			return nil, fmt.Errorf("model %s v%d: decode scaler scales: %w", art.Name, art.Version, err)
		}
		out = append(out, art)
	}
	return out, rows.Err()
}

func (s *Store) InsertModelPerformance(ctx context.Context, p models.ModelPerformance) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO model_performance (id, station_id, model_type, rmse, mae, r2, mape, accuracy, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.StationID, p.ModelType, p.RMSE, p.MAE, p.R2, p.MAPE, p.Accuracy, time.Now().UTC())
	return err
}

func (s *Store) GetModelPerformance(ctx context.Context, limit int) ([]models.ModelPerformance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, station_id, model_type, rmse, mae, r2, mape, accuracy, created_at
		FROM model_performance
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ModelPerformance
	for rows.Next() {
		var p models.ModelPerformance
		if err := rows.Scan(&p.ID, &p.StationID, &p.ModelType, &p.RMSE, &p.MAE, &p.R2, &p.MAPE, &p.Accuracy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
