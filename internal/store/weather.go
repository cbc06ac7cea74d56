package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/swfm/riverml/internal/models"
)

func (s *Store) InsertWeatherMeasurement(ctx context.Context, w models.WeatherMeasurement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO weather_measurements (
			measured_at, temperature, humidity, pressure, wind_speed, wind_direction, cloud_cover,
			rainfall_1h, rainfall_3h, rainfall_6h, rainfall_12h, rainfall_24h
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(measured_at) DO UPDATE SET
			temperature = excluded.temperature,
			humidity = excluded.humidity,
			pressure = excluded.pressure,
			wind_speed = excluded.wind_speed,
			wind_direction = excluded.wind_direction,
			cloud_cover = excluded.cloud_cover,
			rainfall_1h = excluded.rainfall_1h,
			rainfall_3h = excluded.rainfall_3h,
			rainfall_6h = excluded.rainfall_6h,
			rainfall_12h = excluded.rainfall_12h,
			rainfall_24h = excluded.rainfall_24h
	`, w.MeasuredAt.UTC(), w.Temperature, w.Humidity, w.Pressure, w.WindSpeed, w.WindDirection, w.CloudCover,
		w.Rainfall1h, w.Rainfall3h, w.Rainfall6h, w.Rainfall12h, w.Rainfall24h)
	return err
}

// GetWeatherMeasurements returns weather rows ordered by time ascending,
// with open-ended nil bounds.
func (s *Store) GetWeatherMeasurements(ctx context.Context, start, end *time.Time) ([]models.WeatherMeasurement, error) {
	query := `
		SELECT id, measured_at, temperature, humidity, pressure, wind_speed, wind_direction, cloud_cover,
		       rainfall_1h, rainfall_3h, rainfall_6h, rainfall_12h, rainfall_24h
		FROM weather_measurements
		WHERE 1=1`
	var args []any
	if start != nil {
		query += ` AND measured_at >= ?`
		args = append(args, start.UTC())
	}
	if end != nil {
		query += ` AND measured_at <= ?`
		args = append(args, end.UTC())
	}
	query += ` ORDER BY measured_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WeatherMeasurement
	for rows.Next() {
		var w models.WeatherMeasurement
		if err := rows.Scan(&w.ID, &w.MeasuredAt, &w.Temperature, &w.Humidity, &w.Pressure, &w.WindSpeed,
			&w.WindDirection, &w.CloudCover, &w.Rainfall1h, &w.Rainfall3h, &w.Rainfall6h, &w.Rainfall12h, &w.Rainfall24h); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) GetLatestWeatherMeasurement(ctx context.Context) (*models.WeatherMeasurement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, measured_at, temperature, humidity, pressure, wind_speed, wind_direction, cloud_cover,
		       rainfall_1h, rainfall_3h, rainfall_6h, rainfall_12h, rainfall_24h
		FROM weather_measurements
		ORDER BY measured_at DESC
		LIMIT 1
	`)

	var w models.WeatherMeasurement
	err := row.Scan(&w.ID, &w.MeasuredAt, &w.Temperature, &w.Humidity, &w.Pressure, &w.WindSpeed,
		&w.WindDirection, &w.CloudCover, &w.Rainfall1h, &w.Rainfall3h, &w.Rainfall6h, &w.Rainfall12h, &w.Rainfall24h)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
