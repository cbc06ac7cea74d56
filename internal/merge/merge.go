// Package merge joins station water-level measurements with the closest
// weather observation in time, producing the frame the feature pipeline
// consumes.
package merge

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"time"

	"github.com/swfm/riverml/internal/features"
	"github.com/swfm/riverml/internal/models"
	"github.com/swfm/riverml/internal/store"
)

// Merger implements features.MergedSource over the sqlite store. Weather is
// site-wide (one shared series), so every station measurement at time t
// gets the weather row nearest to t.
type Merger struct {
	store *store.Store
}

func New(st *store.Store) *Merger {
	return &Merger{store: st}
}

// Merged loads all station measurements in [start, end] and attaches the
// nearest weather row within toleranceHours to each. Measurements with no
// weather inside the tolerance keep NaN weather columns; the pipeline's
// cleaner deals with those later.
func (m *Merger) Merged(ctx context.Context, start, end *time.Time, toleranceHours int) (*features.Frame, features.MergeStats, error) {
	measurements, err := m.store.GetMeasurements(ctx, nil, start, end)
	if err != nil {
		return nil, features.MergeStats{}, err
	}
	if len(measurements) == 0 {
		return nil, features.MergeStats{}, features.ErrNoData
	}

	// Widen the weather query by the tolerance so measurements at the range
	// edges can still match.
	tolerance := time.Duration(toleranceHours) * time.Hour
	var wStart, wEnd *time.Time
	if start != nil {
		t := start.Add(-tolerance)
		wStart = &t
	}
	if end != nil {
		t := end.Add(tolerance)
		wEnd = &t
	}
	weather, err := m.store.GetWeatherMeasurements(ctx, wStart, wEnd)
	if err != nil {
		return nil, features.MergeStats{}, err
	}

	frame := features.NewFrame(len(measurements))
	n := len(measurements)
	waterCol := make([]float64, n)
	weatherCols := map[string][]float64{
		features.ColTemperature:   nanSlice(n),
		features.ColHumidity:      nanSlice(n),
		features.ColPressure:      nanSlice(n),
		features.ColWindSpeed:     nanSlice(n),
		features.ColWindDirection: nanSlice(n),
		features.ColCloudCover:    nanSlice(n),
		features.ColRainfall1h:    nanSlice(n),
	}

	stats := features.MergeStats{TotalRecords: n}
	stationSeen := make(map[int64]struct{})

	for i, meas := range measurements {
		frame.AppendRow(meas.MeasuredAt.UTC(), meas.StationID)
		waterCol[i] = meas.WaterLevel
		stationSeen[meas.StationID] = struct{}{}

		w := nearestWeather(weather, meas.MeasuredAt, tolerance)
		if w == nil {
			stats.RecordsMissing++
			continue
		}
		stats.RecordsWithWeather++
		setNullable(weatherCols[features.ColTemperature], i, w.Temperature)
		setNullable(weatherCols[features.ColHumidity], i, w.Humidity)
		setNullable(weatherCols[features.ColPressure], i, w.Pressure)
		setNullable(weatherCols[features.ColWindSpeed], i, w.WindSpeed)
		setNullable(weatherCols[features.ColWindDirection], i, w.WindDirection)
		setNullable(weatherCols[features.ColCloudCover], i, w.CloudCover)
		setNullable(weatherCols[features.ColRainfall1h], i, w.Rainfall1h)
	}

	frame.SetCol(features.ColWaterLevel, waterCol)
	for _, name := range []string{
		features.ColTemperature, features.ColHumidity, features.ColPressure,
		features.ColWindSpeed, features.ColWindDirection, features.ColCloudCover,
		features.ColRainfall1h,
	} {
		frame.SetCol(name, weatherCols[name])
	}

	stats.StationCount = len(stationSeen)
	if stats.TotalRecords > 0 {
		stats.CoveragePercent = 100 * float64(stats.RecordsWithWeather) / float64(stats.TotalRecords)
	}
	return frame, stats, nil
}

// nearestWeather finds the weather row closest in time to t, or nil when
// the closest candidate is further than the tolerance. The weather slice is
// time-ascending (store contract), so a binary search narrows it to the two
// neighbours around t.
func nearestWeather(weather []models.WeatherMeasurement, t time.Time, tolerance time.Duration) *models.WeatherMeasurement {
	if len(weather) == 0 {
		return nil
	}
	i := sort.Search(len(weather), func(j int) bool {
		return !weather[j].MeasuredAt.Before(t)
	})

	best := -1
	bestDiff := time.Duration(math.MaxInt64)
	for _, j := range []int{i - 1, i} {
		if j < 0 || j >= len(weather) {
			continue
		}
		diff := weather[j].MeasuredAt.Sub(t)
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best = j
			bestDiff = diff
		}
	}
	if best < 0 || bestDiff > tolerance {
		return nil
	}
	return &weather[best]
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}

func setNullable(col []float64, i int, v sql.NullFloat64) {
	if v.Valid {
		col[i] = v.Float64
	}
}
