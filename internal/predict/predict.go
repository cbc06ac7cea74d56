// Package predict turns the latest feature rows into stored water-level
// forecasts using the registered regression artifacts.
package predict

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/swfm/riverml/internal/features"
	"github.com/swfm/riverml/internal/metrics"
	"github.com/swfm/riverml/internal/models"
	"github.com/swfm/riverml/internal/registry"
	"github.com/swfm/riverml/internal/regress"
	"github.com/swfm/riverml/internal/store"
)

// ErrNoForecasts means every requested horizon failed to produce a value.
// Partial failure (some horizons missing a model) is not an error.
var ErrNoForecasts = errors.New("no forecasts could be generated")

// DefaultHorizons are the horizons forecast when the caller does not
// specify any.
var DefaultHorizons = []int{15, 30, 60, 120}

type Predictor struct {
	pipeline *features.Pipeline
	registry *registry.Registry
	store    *store.Store
}

func New(pipeline *features.Pipeline, reg *registry.Registry, st *store.Store) *Predictor {
	return &Predictor{pipeline: pipeline, registry: reg, store: st}
}

// StationForecast is one predicted water level for one station/horizon.
type StationForecast struct {
	StationID      int64     `json:"station_id"`
	HorizonMinutes int       `json:"horizon_minutes"`
	TargetDate     time.Time `json:"target_date"`
	WaterLevel     float64   `json:"water_level"`
	ModelName      string    `json:"model_name"`
	ModelVersion   int       `json:"model_version"`
}

type Result struct {
	ForecastDate time.Time         `json:"forecast_date"`
	Forecasts    []StationForecast `json:"forecasts"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Generate produces and stores forecasts for each requested horizon, per
// station. Horizons are walked shortest-first and each prediction is fed
// back into the feature vector before the next horizon, so longer horizons
// build on the model's own short-horizon view rather than on stale
// observations.
func (p *Predictor) Generate(ctx context.Context, stationID *int64, horizons []int, now time.Time) (*Result, error) {
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}
	horizons = append([]int(nil), horizons...)
	sort.Ints(horizons)

	latest, err := p.pipeline.PrepareLatest(ctx, stationID, now)
	if err != nil {
		return nil, err
	}

	result := &Result{ForecastDate: now.UTC()}
	for _, lf := range latest {
		forecasts, warnings := p.forecastStation(ctx, lf, horizons, now)
		result.Forecasts = append(result.Forecasts, forecasts...)
		result.Warnings = append(result.Warnings, warnings...)
		if len(forecasts) > 0 {
			metrics.ForecastsGenerated.WithLabelValues(fmt.Sprintf("%d", lf.StationID)).Add(float64(len(forecasts)))
		}
	}

	if len(result.Forecasts) == 0 {
		return nil, ErrNoForecasts
	}
	return result, nil
}

func (p *Predictor) forecastStation(ctx context.Context, lf *features.LatestFeatures, horizons []int, now time.Time) ([]StationForecast, []string) {
	// Work on a copy: the recursion mutates the vector per station.
	values := make(map[string]float64, len(lf.Values))
	for k, v := range lf.Values {
		values[k] = v
	}

	var out []StationForecast
	var warnings []string
	for _, horizon := range horizons {
		art, err := p.registry.ResolveBest(ctx, registry.ScopeUnified, horizon)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("station %d horizon %dmin: %v", lf.StationID, horizon, err))
			continue
		}

		aligned, err := alignWithStation(values, lf.StationID, art)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("station %d horizon %dmin: %v", lf.StationID, horizon, err))
			continue
		}
		if len(aligned.Synthesized) > 0 {
			metrics.AlignmentWarningsTotal.WithLabelValues("synthesized").Add(float64(len(aligned.Synthesized)))
			log.Printf("predict: station %d model %s v%d: synthesized %d missing features",
				lf.StationID, art.Name, art.Version, len(aligned.Synthesized))
		}
		if len(aligned.Extreme) > 0 {
			metrics.AlignmentWarningsTotal.WithLabelValues("extreme").Add(float64(len(aligned.Extreme)))
			log.Printf("predict: station %d model %s v%d: extreme feature values: %v",
				lf.StationID, art.Name, art.Version, aligned.Extreme)
		}

		model := regress.LinearModel{
			Family:       art.Family,
			Coefficients: art.Coefficients,
			Intercept:    art.Intercept,
		}
		predicted := model.Predict(aligned.Vector)

		f := models.Forecast{
			StationID:    sql.NullInt64{Int64: lf.StationID, Valid: true},
			ForecastDate: now.UTC(),
			TargetDate:   lf.MeasuredAt.Add(time.Duration(horizon) * time.Minute),
			WaterLevel:   predicted,
		}
		if err := p.store.InsertForecast(ctx, f); err != nil {
			warnings = append(warnings, fmt.Sprintf("station %d horizon %dmin: store forecast: %v", lf.StationID, horizon, err))
			continue
		}

		out = append(out, StationForecast{
			StationID:      lf.StationID,
			HorizonMinutes: horizon,
			TargetDate:     f.TargetDate,
			WaterLevel:     predicted,
			ModelName:      art.Name,
			ModelVersion:   art.Version,
		})

		// Feed the prediction forward: the next horizon sees this level as
		// the current observation and as its freshest lag.
		values[features.ColWaterLevel] = predicted
		values["water_level_lag_1h"] = predicted
	}
	return out, warnings
}

// alignWithStation injects station identity before alignment so unified
// models that trained on a station_id feature receive it.
func alignWithStation(values map[string]float64, stationID int64, art *models.ModelArtifact) (*features.Alignment, error) {
	withID := make(map[string]float64, len(values)+1)
	for k, v := range values {
		withID[k] = v
	}
	withID["station_id"] = float64(stationID)
	return features.AlignToModel(withID, art)
}
