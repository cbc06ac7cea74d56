package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/swfm/riverml/internal/models"
)

// latestWindowDays is how much history PrepareLatest pulls. 30 days gives
// the 12h lags and 24h rolling windows ample burn-in and keeps the
// station statistics stable.
const latestWindowDays = 30

// extremeZ flags aligned feature values suspiciously far from their
// training-time distribution.
const extremeZ = 10.0

// LatestFeatures is the most recent fully-featured row for one station,
// ready to be aligned against a model artifact.
type LatestFeatures struct {
	StationID  int64
	MeasuredAt time.Time
	Values     map[string]float64

	// Filled lists columns whose latest value was null and was replaced
	// with the column's historical mean (or 0 when the whole column was
	// null). Surfaced as a diagnostic; a long list usually means a weather
	// outage.
	Filled []string
}

// PrepareLatest runs the feature pipeline over the trailing 30-day window
// and returns the newest row per requested station. With a nil stationID
// every non-excluded station gets a row. Target columns are excluded; any
// remaining null in the newest row is filled with the historical mean of
// its column over the window so the caller always receives a complete
// vector.
func (p *Pipeline) PrepareLatest(ctx context.Context, stationID *int64, now time.Time) ([]*LatestFeatures, error) {
	start := now.Add(-latestWindowDays * 24 * time.Hour)

	// The shortest horizon keeps the target stage exercised without
	// sacrificing recent rows: only the last window-end row per station
	// lacks a 15-minute target, and targets are never imputed anyway.
	res, err := p.Preprocess(ctx, Request{
		StationID: stationID,
		Start:     &start,
		End:       &now,
		Horizons:  []int{15},
	})
	if err != nil {
		return nil, err
	}
	frame := res.FeatureTable
	if frame.Len() == 0 {
		return nil, ErrNoData
	}

	// Historical per-column means over the full window, used as the
	// fallback for nulls in the newest row.
	histMeans := make(map[string]float64, len(frame.Columns()))
	for _, name := range frame.Columns() {
		if IsTargetColumn(name) {
			continue
		}
		histMeans[name] = columnMean(frame.Col(name))
	}

	var out []*LatestFeatures
	for _, group := range frame.stationGroups() {
		// Rows are time-sorted, so the group's last index is the newest.
		row := group[len(group)-1]
		lf := &LatestFeatures{
			StationID:  frame.Stations[row],
			MeasuredAt: frame.Times[row],
			Values:     make(map[string]float64, len(histMeans)),
		}
		for _, name := range frame.Columns() {
			if IsTargetColumn(name) {
				continue
			}
			v := frame.Col(name)[row]
			if math.IsNaN(v) {
				fill := histMeans[name]
				if math.IsNaN(fill) {
					fill = 0
				}
				v = fill
				lf.Filled = append(lf.Filled, name)
			}
			lf.Values[name] = v
		}
		out = append(out, lf)
	}
	return out, nil
}

// Alignment describes how a feature row was reconciled with a model
// artifact's training-time contract.
type Alignment struct {
	// Vector holds the standardized feature values in the artifact's
	// feature order, ready for the dot product.
	Vector []float64

	// Synthesized lists artifact features absent from the row. They are
	// set to the scaler mean, which standardizes to exactly 0 so they
	// contribute nothing beyond the intercept.
	Synthesized []string

	// Extreme lists features whose standardized value exceeded ±10,
	// usually a unit mismatch or a sensor spike.
	Extreme []string
}

// AlignToModel maps a raw feature row onto an artifact's expected feature
// vector: reorders to the training-time feature list, synthesizes missing
// features at the scaler mean, drops extras, and standardizes with the
// artifact's scaler. Never fails on a feature mismatch; the mismatches are
// reported in the Alignment instead.
func AlignToModel(values map[string]float64, art *models.ModelArtifact) (*Alignment, error) {
	if len(art.FeatureNames) != len(art.ScalerMeans) || len(art.FeatureNames) != len(art.ScalerScales) {
		return nil, fmt.Errorf("model %s v%d: scaler parameter length mismatch", art.Name, art.Version)
	}

	al := &Alignment{Vector: make([]float64, len(art.FeatureNames))}
	for i, name := range art.FeatureNames {
		mean := art.ScalerMeans[i]
		scale := art.ScalerScales[i]
		if scale == 0 {
			scale = 1
		}

		raw, ok := values[name]
		if !ok || math.IsNaN(raw) {
			raw = mean
			al.Synthesized = append(al.Synthesized, name)
		}

		z := (raw - mean) / scale
		if math.Abs(z) > extremeZ {
			al.Extreme = append(al.Extreme, name)
		}
		al.Vector[i] = z
	}
	return al, nil
}
