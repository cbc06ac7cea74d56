package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNoData means the requested scope/date range matched no
	// measurements. Recoverable by the caller (widen the range); the
	// pipeline never fabricates an empty feature table.
	ErrNoData = errors.New("no measurement data for requested scope")

	// ErrExcludedStation means the request named a station on the
	// exclusion list. Rejected before any computation.
	ErrExcludedStation = errors.New("station is excluded from training and prediction")

	// ErrInvalidHorizon means a requested prediction horizon is below the
	// 15-minute target grid. Horizons arrive from API callers, so they are
	// validated up front like the stored method configs.
	ErrInvalidHorizon = errors.New("prediction horizon must be at least 15 minutes")
)

// DefaultExcludedStations lists station IDs with known data-quality
// problems. They never appear in training or serving data.
var DefaultExcludedStations = []int64{1, 7}

const (
	// DefaultToleranceHours bounds the station/weather nearest-timestamp
	// match.
	DefaultToleranceHours = 2

	sampleRows = 10
)

// MergeStats summarizes how well weather records covered the station
// measurements during the merge.
type MergeStats struct {
	TotalRecords       int     `json:"total_records"`
	RecordsWithWeather int     `json:"records_with_weather"`
	RecordsMissing     int     `json:"records_missing_weather"`
	CoveragePercent    float64 `json:"coverage_percentage"`
	StationCount       int     `json:"stations_count"`
}

// MergedSource supplies station measurements merged with weather
// observations by nearest timestamp within a tolerance. Implemented by the
// merge collaborator; unmatched weather fields are NaN and flow through
// feature construction until cleaning.
type MergedSource interface {
	Merged(ctx context.Context, start, end *time.Time, toleranceHours int) (*Frame, MergeStats, error)
}

// ConfigSource supplies the enabled per-method configuration blobs.
type ConfigSource interface {
	EnabledConfigs(ctx context.Context) (map[string]json.RawMessage, error)
}

// Request scopes one preprocessing run. A nil StationID means all
// (non-excluded) stations; Configs, when set, overrides the config source
// wholesale for this call.
type Request struct {
	StationID *int64
	Start     *time.Time
	End       *time.Time
	Horizons  []int
	Configs   *PipelineConfig
}

// Result is the bundle returned by a preprocessing run.
type Result struct {
	FeatureTable   *Frame
	InitialRecords int
	FinalRecords   int
	FeatureCount   int
	TargetCount    int
	MissingValues  int
	ConfigsUsed    []string
	Skipped        []string // steps skipped for missing input columns
	MergeStats     MergeStats
	Sample         []map[string]any
	ExecutionTime  time.Duration
}

// Pipeline sequences interval estimation, feature transforms, target
// construction and cleaning over a merged station+weather frame. A
// Pipeline is safe for concurrent use; each run is independent and touches
// no shared state.
type Pipeline struct {
	source   MergedSource
	configs  ConfigSource
	excluded map[int64]bool

	toleranceHours int
}

func NewPipeline(source MergedSource, configs ConfigSource) *Pipeline {
	excluded := make(map[int64]bool, len(DefaultExcludedStations))
	for _, id := range DefaultExcludedStations {
		excluded[id] = true
	}
	return &Pipeline{
		source:         source,
		configs:        configs,
		excluded:       excluded,
		toleranceHours: DefaultToleranceHours,
	}
}

// SetExcludedStations replaces the exclusion list.
func (p *Pipeline) SetExcludedStations(ids []int64) {
	p.excluded = make(map[int64]bool, len(ids))
	for _, id := range ids {
		p.excluded[id] = true
	}
}

// IsExcluded reports whether a station is on the exclusion list.
func (p *Pipeline) IsExcluded(stationID int64) bool {
	return p.excluded[stationID]
}

// Preprocess runs the full pipeline for one request. The mandated stage
// order is fixed here regardless of how configs were supplied: time → lag →
// rolling → rate of change → rainfall → weather interactions → station
// statistics → targets → cleaning.
func (p *Pipeline) Preprocess(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if req.StationID != nil && p.excluded[*req.StationID] {
		return nil, fmt.Errorf("station %d: %w", *req.StationID, ErrExcludedStation)
	}
	for _, h := range req.Horizons {
		if h < baseIntervalMinutes {
			return nil, fmt.Errorf("horizon %dmin: %w", h, ErrInvalidHorizon)
		}
	}

	cfg := req.Configs
	if cfg == nil {
		raw, err := p.configs.EnabledConfigs(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch preprocessing configs: %w", err)
		}
		cfg, err = ParseConfig(raw)
		if err != nil {
			return nil, err
		}
	}

	frame, mergeStats, err := p.source.Merged(ctx, req.Start, req.End, p.toleranceHours)
	if err != nil {
		return nil, err
	}

	// Station exclusion comes before any feature computation so excluded
	// data can never influence statistics for the remaining stations.
	keep := make([]bool, frame.Len())
	for i, id := range frame.Stations {
		keep[i] = !p.excluded[id] && (req.StationID == nil || id == *req.StationID)
	}
	frame.Filter(keep)
	if frame.Len() == 0 {
		return nil, ErrNoData
	}
	frame.SortByTime()

	initial := frame.Len()

	result := &Result{
		ConfigsUsed: cfg.MethodIDs(),
		MergeStats:  mergeStats,
	}

	type step struct {
		name     string
		enabled  bool
		requires []string
		apply    func()
	}
	steps := []step{
		{MethodTimeFeatures, cfg.Time != nil, nil, func() { applyTimeFeatures(frame, *cfg.Time) }},
		{MethodLagFeatures, cfg.Lag != nil, []string{ColWaterLevel}, func() { applyLagFeatures(frame, *cfg.Lag) }},
		{MethodRollingStatistics, cfg.Rolling != nil, []string{ColWaterLevel}, func() { applyRollingStatistics(frame, *cfg.Rolling) }},
		{MethodRateOfChange, cfg.Rate != nil, []string{ColWaterLevel}, func() { applyRateOfChange(frame, *cfg.Rate) }},
		{MethodRainfallFeatures, cfg.Rainfall != nil, []string{ColRainfall1h}, func() { applyRainfallFeatures(frame, *cfg.Rainfall) }},
		{MethodWeatherInteractions, cfg.Interactions != nil, nil, func() { applyWeatherInteractions(frame, *cfg.Interactions) }},
		{MethodStationStatistics, cfg.StationStats != nil, []string{ColWaterLevel}, func() { applyStationStatistics(frame, *cfg.StationStats) }},
	}

	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if missing := missingColumns(frame, s.requires); len(missing) > 0 {
			result.Skipped = append(result.Skipped, fmt.Sprintf("%s: missing column %s", s.name, missing[0]))
			continue
		}
		s.apply()
	}

	// The request's horizons always win over whatever the stored target
	// config says; training and prediction must agree on them.
	if cfg.Targets != nil && len(req.Horizons) > 0 {
		if frame.Has(ColWaterLevel) {
			applyTargets(frame, req.Horizons)
		} else {
			result.Skipped = append(result.Skipped, MethodTargetCreation+": missing column "+ColWaterLevel)
		}
	}

	if cfg.Cleaning != nil {
		applyCleaning(frame, *cfg.Cleaning)
	}

	result.FeatureTable = frame
	result.InitialRecords = initial
	result.FinalRecords = frame.Len()
	for _, name := range frame.Columns() {
		if IsTargetColumn(name) {
			result.TargetCount++
			continue
		}
		result.FeatureCount++
		for _, v := range frame.Col(name) {
			if math.IsNaN(v) {
				result.MissingValues++
			}
		}
	}
	result.Sample = sampleFrame(frame, sampleRows)
	result.ExecutionTime = time.Since(start)

	return result, nil
}

func missingColumns(f *Frame, required []string) []string {
	var missing []string
	for _, name := range required {
		if !f.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// sampleFrame renders the first n rows as JSON-friendly records: RFC3339
// timestamps, nil for NaN, floats rounded to 4 decimals.
func sampleFrame(f *Frame, n int) []map[string]any {
	if n > f.Len() {
		n = f.Len()
	}
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rec := map[string]any{
			"measured_at": f.Times[i].UTC().Format(time.RFC3339),
			"station_id":  f.Stations[i],
		}
		for _, name := range f.Columns() {
			v := f.Col(name)[i]
			if math.IsNaN(v) {
				rec[name] = nil
			} else {
				rec[name] = math.Round(v*10000) / 10000
			}
		}
		out = append(out, rec)
	}
	return out
}
