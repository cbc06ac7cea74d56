package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

type Station struct {
	ID         int64
	Name       string
	Latitude   float64
	Longitude  float64
	AlarmLevel sql.NullFloat64
	Excluded   bool
}

// Measurement is a single water-level reading from a monitoring station.
type Measurement struct {
	ID         int64
	StationID  int64
	MeasuredAt time.Time
	WaterLevel float64
	CreatedAt  time.Time
}

// WeatherMeasurement holds one timestamped weather record. Rainfall columns
// are cumulative sums over the trailing window named in the field.
type WeatherMeasurement struct {
	ID            int64
	MeasuredAt    time.Time
	Temperature   sql.NullFloat64
	Humidity      sql.NullFloat64
	Pressure      sql.NullFloat64
	WindSpeed     sql.NullFloat64
	WindDirection sql.NullFloat64
	CloudCover    sql.NullFloat64
	Rainfall1h    sql.NullFloat64
	Rainfall3h    sql.NullFloat64
	Rainfall6h    sql.NullFloat64
	Rainfall12h   sql.NullFloat64
	Rainfall24h   sql.NullFloat64
}

// FeatureConfig is one per-method preprocessing configuration row. Config is
// a JSON object whose shape depends on MethodID; it is decoded and validated
// by the features package at pipeline start.
type FeatureConfig struct {
	MethodID  string
	Enabled   bool
	Config    json.RawMessage
	UpdatedAt time.Time
}

type Forecast struct {
	ID           int64
	StationID    sql.NullInt64
	ForecastDate time.Time
	TargetDate   time.Time
	WaterLevel   float64
	CreatedAt    time.Time
}

// ModelArtifact is a fitted regression together with everything inference
// needs to reproduce the training-time feature contract: the exact ordered
// feature-name list and the companion scaler parameters.
type ModelArtifact struct {
	ID             int64
	Name           string
	Family         string // "linear" or "ridge"
	StationScope   string // "unified" or "stationN"
	HorizonMinutes int
	Version        int
	FeatureNames   []string
	Coefficients   []float64
	Intercept      float64
	ScalerMeans    []float64
	ScalerScales   []float64
	RMSE           float64
	MAE            float64
	R2             float64
	CreatedAt      time.Time
}

// ModelPerformance mirrors the metrics row written when a horizon's best
// model is persisted.
type ModelPerformance struct {
	ID        string
	StationID int64 // 0 for unified models
	ModelType string // e.g. "ridge_30min"
	RMSE      float64
	MAE       float64
	R2        float64
	MAPE      float64
	Accuracy  float64
	CreatedAt time.Time
}
