package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    id INTEGER PRIMARY KEY,
    name TEXT,
    latitude REAL,
    longitude REAL,
    alarm_level REAL,
    excluded BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS station_measurements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_id INTEGER NOT NULL,
    measured_at DATETIME NOT NULL,
    water_level REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(station_id, measured_at)
);

CREATE TABLE IF NOT EXISTS weather_measurements (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    measured_at DATETIME NOT NULL UNIQUE,
    temperature REAL,
    humidity REAL,
    pressure REAL,
    wind_speed REAL,
    wind_direction REAL,
    cloud_cover REAL,
    rainfall_1h REAL,
    rainfall_3h REAL,
    rainfall_6h REAL,
    rainfall_12h REAL,
    rainfall_24h REAL
);

CREATE TABLE IF NOT EXISTS preprocessing_configs (
    method_id TEXT PRIMARY KEY,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    config TEXT NOT NULL DEFAULT '{}',
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS forecasts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station_id INTEGER,
    forecast_date DATETIME NOT NULL,
    target_date DATETIME NOT NULL,
    water_level REAL NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_meas_station_time ON station_measurements(station_id, measured_at);
CREATE INDEX IF NOT EXISTS idx_meas_time ON station_measurements(measured_at);
CREATE INDEX IF NOT EXISTS idx_weather_time ON weather_measurements(measured_at);
CREATE INDEX IF NOT EXISTS idx_forecasts_target ON forecasts(target_date);
`,
	},
	{
		Version:     2,
		Description: "Add model_artifacts table with versioning",
		SQL: `
CREATE TABLE IF NOT EXISTS model_artifacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    family TEXT NOT NULL,
    station_scope TEXT NOT NULL,
    horizon_minutes INTEGER NOT NULL,
    version INTEGER NOT NULL,
    feature_names TEXT NOT NULL,
    coefficients TEXT NOT NULL,
    intercept REAL NOT NULL,
    scaler_means TEXT NOT NULL,
    scaler_scales TEXT NOT NULL,
    rmse REAL,
    mae REAL,
    r2 REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(name, version)
);

CREATE INDEX IF NOT EXISTS idx_artifacts_lookup ON model_artifacts(family, station_scope, horizon_minutes, version);
`,
	},
	{
		Version:     3,
		Description: "Add model_performance table for training history",
		SQL: `
CREATE TABLE IF NOT EXISTS model_performance (
    id TEXT PRIMARY KEY,
    station_id INTEGER NOT NULL DEFAULT 0,
    model_type TEXT NOT NULL,
    rmse REAL,
    mae REAL,
    r2 REAL,
    mape REAL,
    accuracy REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`,
	},
	{
		Version:     4,
		Description: "Add forecast run index for cleanup queries",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_forecasts_run ON forecasts(forecast_date);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
