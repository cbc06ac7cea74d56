package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/swfm/riverml/internal/features"
	"github.com/swfm/riverml/internal/metrics"
	"github.com/swfm/riverml/internal/models"
	"github.com/swfm/riverml/internal/predict"
	"github.com/swfm/riverml/internal/registry"
	"github.com/swfm/riverml/internal/train"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, features.ErrExcludedStation),
		errors.Is(err, features.ErrInvalidHorizon):
		status = http.StatusBadRequest
	case errors.Is(err, features.ErrNoData),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, predict.ErrNoForecasts):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// dayBounds expands a "2006-01-02" date pair into inclusive UTC bounds
// spanning the whole days. Empty strings leave the bound open.
func dayBounds(startDate, endDate string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if startDate != "" {
		t, err := time.ParseInLocation("2006-01-02", startDate, time.UTC)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid start_date %q", startDate)
		}
		start = &t
	}
	if endDate != "" {
		t, err := time.ParseInLocation("2006-01-02", endDate, time.UTC)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid end_date %q", endDate)
		}
		t = t.Add(24*time.Hour - time.Second)
		end = &t
	}
	return start, end, nil
}

type preprocessRequest struct {
	StationID *int64 `json:"station_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Horizons  []int  `json:"prediction_horizons"`
}

func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	var req preprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	start, end, err := dayBounds(req.StartDate, req.EndDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	horizons := req.Horizons
	if len(horizons) == 0 {
		horizons = train.DefaultHorizons
	}

	res, err := s.pipeline.Preprocess(r.Context(), features.Request{
		StationID: req.StationID,
		Start:     start,
		End:       end,
		Horizons:  horizons,
	})
	if err != nil {
		metrics.PreprocessRunsTotal.WithLabelValues("error").Inc()
		writeError(w, err)
		return
	}
	metrics.PreprocessRunsTotal.WithLabelValues("ok").Inc()
	metrics.PreprocessDuration.Observe(res.ExecutionTime.Seconds())

	writeJSON(w, http.StatusOK, map[string]any{
		"initial_records":   res.InitialRecords,
		"final_records":     res.FinalRecords,
		"feature_count":     res.FeatureCount,
		"target_count":      res.TargetCount,
		"missing_values":    res.MissingValues,
		"configs_used":      res.ConfigsUsed,
		"skipped_steps":     res.Skipped,
		"merge_stats":       res.MergeStats,
		"sample":            res.Sample,
		"execution_time_ms": res.ExecutionTime.Milliseconds(),
	})
}

type trainRequest struct {
	StationID *int64 `json:"station_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Horizons  []int  `json:"prediction_horizons"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	start, end, err := dayBounds(req.StartDate, req.EndDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res, err := s.trainer.Train(r.Context(), train.Request{
		StationID: req.StationID,
		Start:     start,
		End:       end,
		Horizons:  req.Horizons,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type generateRequest struct {
	StationID *int64 `json:"station_id"`
	Horizons  []int  `json:"prediction_horizons"`
}

func (s *Server) handleGenerateForecasts(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	res, err := s.predictor.Generate(r.Context(), req.StationID, req.Horizons, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var stationID *int64
	if raw := q.Get("station_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid station_id"})
			return
		}
		stationID = &id
	}
	start, end, err := dayBounds(q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	limit := 500
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	forecasts, err := s.store.GetForecasts(r.Context(), stationID, start, end, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	type forecastJSON struct {
		ID           int64     `json:"id"`
		StationID    *int64    `json:"station_id"`
		ForecastDate time.Time `json:"forecast_date"`
		TargetDate   time.Time `json:"target_date"`
		WaterLevel   float64   `json:"water_level"`
	}
	out := make([]forecastJSON, 0, len(forecasts))
	for _, f := range forecasts {
		fj := forecastJSON{
			ID:           f.ID,
			ForecastDate: f.ForecastDate,
			TargetDate:   f.TargetDate,
			WaterLevel:   f.WaterLevel,
		}
		if f.StationID.Valid {
			id := f.StationID.Int64
			fj.StationID = &id
		}
		out = append(out, fj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.GetStations(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	type stationJSON struct {
		ID         int64    `json:"id"`
		Name       string   `json:"name"`
		Latitude   float64  `json:"latitude"`
		Longitude  float64  `json:"longitude"`
		AlarmLevel *float64 `json:"alarm_level"`
		Excluded   bool     `json:"excluded"`
	}
	out := make([]stationJSON, 0, len(stations))
	for _, st := range stations {
		sj := stationJSON{
			ID:        st.ID,
			Name:      st.Name,
			Latitude:  st.Latitude,
			Longitude: st.Longitude,
			Excluded:  st.Excluded,
		}
		if st.AlarmLevel.Valid {
			v := st.AlarmLevel.Float64
			sj.AlarmLevel = &v
		}
		out = append(out, sj)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	artifacts, err := s.store.ListModelArtifacts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	type modelJSON struct {
		Name           string    `json:"name"`
		Family         string    `json:"family"`
		StationScope   string    `json:"station_scope"`
		HorizonMinutes int       `json:"horizon_minutes"`
		Version        int       `json:"version"`
		FeatureCount   int       `json:"feature_count"`
		RMSE           float64   `json:"rmse"`
		MAE            float64   `json:"mae"`
		R2             float64   `json:"r2"`
		CreatedAt      time.Time `json:"created_at"`
	}
	out := make([]modelJSON, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, modelJSON{
			Name:           a.Name,
			Family:         a.Family,
			StationScope:   a.StationScope,
			HorizonMinutes: a.HorizonMinutes,
			Version:        a.Version,
			FeatureCount:   len(a.FeatureNames),
			RMSE:           a.RMSE,
			MAE:            a.MAE,
			R2:             a.R2,
			CreatedAt:      a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	perf, err := s.store.GetModelPerformance(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	type perfJSON struct {
		ID        string    `json:"id"`
		ModelType string    `json:"model_type"`
		RMSE      float64   `json:"rmse"`
		MAE       float64   `json:"mae"`
		R2        float64   `json:"r2"`
		MAPE      float64   `json:"mape"`
		Accuracy  float64   `json:"accuracy"`
		CreatedAt time.Time `json:"created_at"`
	}
	out := make([]perfJSON, 0, len(perf))
	for _, p := range perf {
		out = append(out, perfJSON{
			ID:        p.ID,
			ModelType: p.ModelType,
			RMSE:      p.RMSE,
			MAE:       p.MAE,
			R2:        p.R2,
			MAPE:      p.MAPE,
			Accuracy:  p.Accuracy,
			CreatedAt: p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type configJSON struct {
	MethodID  string          `json:"method_id"`
	Enabled   bool            `json:"enabled"`
	Config    json.RawMessage `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.GetConfigs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]configJSON, 0, len(configs))
	for _, c := range configs {
		out = append(out, configJSON{MethodID: c.MethodID, Enabled: c.Enabled, Config: c.Config, UpdatedAt: c.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	methodID := r.PathValue("method_id")
	c, err := s.store.GetConfig(r.Context(), methodID)
	if err != nil {
		writeError(w, err)
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown method " + methodID})
		return
	}
	writeJSON(w, http.StatusOK, configJSON{MethodID: c.MethodID, Enabled: c.Enabled, Config: c.Config, UpdatedAt: c.UpdatedAt})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	methodID := r.PathValue("method_id")

	var body struct {
		Enabled *bool           `json:"enabled"`
		Config  json.RawMessage `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	existing, err := s.store.GetConfig(r.Context(), methodID)
	if err != nil {
		writeError(w, err)
		return
	}
	if existing == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown method " + methodID})
		return
	}

	updated := *existing
	if body.Enabled != nil {
		updated.Enabled = *body.Enabled
	}
	if len(body.Config) > 0 {
		updated.Config = body.Config
	}

	// Validate the full enabled set with the edit applied before saving, so
	// a bad blob can never wedge the pipeline.
	if err := s.validateConfigEdit(r, updated); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := s.store.UpsertConfig(r.Context(), updated); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.store.GetConfig(r.Context(), methodID)
	if err != nil || c == nil {
		writeError(w, fmt.Errorf("reload config %s: %v", methodID, err))
		return
	}
	writeJSON(w, http.StatusOK, configJSON{MethodID: c.MethodID, Enabled: c.Enabled, Config: c.Config, UpdatedAt: c.UpdatedAt})
}

func (s *Server) validateConfigEdit(r *http.Request, edited models.FeatureConfig) error {
	raw, err := s.store.EnabledConfigs(r.Context())
	if err != nil {
		return err
	}
	if edited.Enabled {
		raw[edited.MethodID] = edited.Config
	} else {
		delete(raw, edited.MethodID)
	}
	_, err = features.ParseConfig(raw)
	return err
}

func (s *Server) handleWeatherCurrent(w http.ResponseWriter, r *http.Request) {
	latest, err := s.store.GetLatestWeatherMeasurement(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if latest == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no weather data stored"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"measured_at":    latest.MeasuredAt.UTC().Format(time.RFC3339),
		"temperature":    nullFloat(latest.Temperature),
		"humidity":       nullFloat(latest.Humidity),
		"pressure":       nullFloat(latest.Pressure),
		"wind_speed":     nullFloat(latest.WindSpeed),
		"wind_direction": nullFloat(latest.WindDirection),
		"cloud_cover":    nullFloat(latest.CloudCover),
		"rainfall_1h":    nullFloat(latest.Rainfall1h),
		"rainfall_3h":    nullFloat(latest.Rainfall3h),
		"rainfall_6h":    nullFloat(latest.Rainfall6h),
		"rainfall_12h":   nullFloat(latest.Rainfall12h),
		"rainfall_24h":   nullFloat(latest.Rainfall24h),
	})
}

func (s *Server) handleWeatherRefresh(w http.ResponseWriter, r *http.Request) {
	current, err := s.weather.FetchCurrent()
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.InsertWeatherMeasurement(r.Context(), *current); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"measured_at": current.MeasuredAt.UTC().Format(time.RFC3339),
		"stored":      true,
	})
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.CountMeasurements(r.Context())
	status := "ok"
	if err != nil {
		status = "degraded: " + err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"measurements": count,
		"time":         time.Now().UTC().Format(time.RFC3339),
	})
}
