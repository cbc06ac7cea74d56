package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/swfm/riverml/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) UpsertStation(ctx context.Context, st models.Station) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations (id, name, latitude, longitude, alarm_level, excluded)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			alarm_level = excluded.alarm_level,
			excluded = excluded.excluded
	`, st.ID, st.Name, st.Latitude, st.Longitude, st.AlarmLevel, st.Excluded)
	return err
}

func (s *Store) GetStations(ctx context.Context) ([]models.Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, latitude, longitude, alarm_level, excluded FROM stations ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		var st models.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Latitude, &st.Longitude, &st.AlarmLevel, &st.Excluded); err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

func (s *Store) GetStation(ctx context.Context, id int64) (*models.Station, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, latitude, longitude, alarm_level, excluded FROM stations WHERE id = ?`, id)
	var st models.Station
	err := row.Scan(&st.ID, &st.Name, &st.Latitude, &st.Longitude, &st.AlarmLevel, &st.Excluded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ExcludedStationIDs returns the IDs of stations flagged excluded. Operators
// flag stations with bad sensors here; the pipeline merges this set with its
// built-in exclusion list at startup.
func (s *Store) ExcludedStationIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM stations WHERE excluded = TRUE ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) InsertMeasurement(ctx context.Context, m models.Measurement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO station_measurements (station_id, measured_at, water_level)
		VALUES (?, ?, ?)
		ON CONFLICT(station_id, measured_at) DO NOTHING
	`, m.StationID, m.MeasuredAt.UTC(), m.WaterLevel)
	return err
}

// GetMeasurements returns water-level readings ordered by time ascending.
// A nil stationID spans all stations; nil bounds are open-ended.
func (s *Store) GetMeasurements(ctx context.Context, stationID *int64, start, end *time.Time) ([]models.Measurement, error) {
	query := `
		SELECT id, station_id, measured_at, water_level, created_at
		FROM station_measurements
		WHERE 1=1`
	var args []any
	if stationID != nil {
		query += ` AND station_id = ?`
		args = append(args, *stationID)
	}
	if start != nil {
		query += ` AND measured_at >= ?`
		args = append(args, start.UTC())
	}
	if end != nil {
		query += ` AND measured_at <= ?`
		args = append(args, end.UTC())
	}
	query += ` ORDER BY measured_at ASC, station_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Measurement
	for rows.Next() {
		var m models.Measurement
		if err := rows.Scan(&m.ID, &m.StationID, &m.MeasuredAt, &m.WaterLevel, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) GetLatestMeasurement(ctx context.Context, stationID int64) (*models.Measurement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, station_id, measured_at, water_level, created_at
		FROM station_measurements
		WHERE station_id = ?
		ORDER BY measured_at DESC
		LIMIT 1
	`, stationID)

	var m models.Measurement
	err := row.Scan(&m.ID, &m.StationID, &m.MeasuredAt, &m.WaterLevel, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) CountMeasurements(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM station_measurements`).Scan(&n)
	return n, err
}
