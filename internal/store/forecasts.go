package store

import (
	"context"
	"time"

	"github.com/swfm/riverml/internal/models"
)

func (s *Store) InsertForecast(ctx context.Context, f models.Forecast) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forecasts (station_id, forecast_date, target_date, water_level)
		VALUES (?, ?, ?, ?)
	`, f.StationID, f.ForecastDate.UTC(), f.TargetDate.UTC(), f.WaterLevel)
	return err
}

// GetForecasts returns forecasts newest-first. A nil stationID spans all
// stations; date bounds are inclusive on target_date.
func (s *Store) GetForecasts(ctx context.Context, stationID *int64, start, end *time.Time, limit int) ([]models.Forecast, error) {
	query := `
		SELECT id, station_id, forecast_date, target_date, water_level, created_at
		FROM forecasts
		WHERE 1=1`
	var args []any
	if stationID != nil {
		query += ` AND station_id = ?`
		args = append(args, *stationID)
	}
	if start != nil {
		query += ` AND target_date >= ?`
		args = append(args, start.UTC())
	}
	if end != nil {
		query += ` AND target_date <= ?`
		args = append(args, end.UTC())
	}
	query += ` ORDER BY forecast_date DESC, target_date ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Forecast
	for rows.Next() {
		var f models.Forecast
		if err := rows.Scan(&f.ID, &f.StationID, &f.ForecastDate, &f.TargetDate, &f.WaterLevel, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteForecastsBefore prunes forecast rows whose forecast run predates
// the cutoff. Returns the number of rows removed.
func (s *Store) DeleteForecastsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM forecasts WHERE forecast_date < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
