package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/swfm/riverml/internal/features"
	"github.com/swfm/riverml/internal/merge"
	"github.com/swfm/riverml/internal/models"
	"github.com/swfm/riverml/internal/predict"
	"github.com/swfm/riverml/internal/registry"
	"github.com/swfm/riverml/internal/store"
	"github.com/swfm/riverml/internal/train"
	"github.com/swfm/riverml/internal/weather"
)

// newTestServer stands up the full API over an in-memory database seeded
// with two days of 15-minute measurements ending now, so training and
// forecasting both see the data inside their windows.
func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	if err := st.SeedDefaultConfigs(ctx, features.DefaultConfigJSON()); err != nil {
		t.Fatalf("seed configs: %v", err)
	}

	if err := st.UpsertStation(ctx, models.Station{ID: 3, Name: "Moste", Latitude: 46.08, Longitude: 14.55}); err != nil {
		t.Fatalf("seed station: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Hour).Add(-48 * time.Hour)
	for i := 0; i < 48*4; i++ {
		at := base.Add(time.Duration(i) * 15 * time.Minute)
		for _, stationID := range []int64{3, 5} {
			m := models.Measurement{
				StationID:  stationID,
				MeasuredAt: at,
				WaterLevel: 100 + float64(stationID)*10 + 0.05*float64(i),
			}
			if err := st.InsertMeasurement(ctx, m); err != nil {
				t.Fatalf("seed measurement: %v", err)
			}
		}
		if i%4 == 0 {
			w := models.WeatherMeasurement{
				MeasuredAt:  at,
				Temperature: sql.NullFloat64{Float64: 12 + 0.1*float64(i), Valid: true},
				Humidity:    sql.NullFloat64{Float64: 65, Valid: true},
			}
			if err := st.InsertWeatherMeasurement(ctx, w); err != nil {
				t.Fatalf("seed weather: %v", err)
			}
		}
	}

	pipeline := features.NewPipeline(merge.New(st), st)
	reg := registry.New(st)
	trainer := train.New(pipeline, st)
	predictor := predict.New(pipeline, reg, st)

	srv := NewServer(st, pipeline, trainer, predictor, nil, "0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, ts.URL+"/health", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["measurements"].(float64) == 0 {
		t.Error("measurement count = 0, want seeded data")
	}
}

func TestPreprocessEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/preprocess", map[string]any{
		"prediction_horizons": []int{15},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["final_records"].(float64) == 0 {
		t.Error("final_records = 0, want surviving rows")
	}
	if body["target_count"].(float64) != 1 {
		t.Errorf("target_count = %v, want 1", body["target_count"])
	}
	if len(body["sample"].([]any)) == 0 {
		t.Error("sample rows missing")
	}
}

func TestPreprocessExcludedStation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/preprocess", map[string]any{"station_id": 7})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for excluded station", resp.StatusCode)
	}
}

func TestPreprocessNoDataStation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/preprocess", map[string]any{"station_id": 42})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for station without data", resp.StatusCode)
	}
}

func TestPreprocessRejectsBadHorizon(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, horizons := range [][]int{{-15}, {0}, {15, 5}} {
		resp := postJSON(t, ts.URL+"/api/preprocess", map[string]any{
			"prediction_horizons": horizons,
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("horizons %v: status = %d, want 400", horizons, resp.StatusCode)
		}
	}

	resp := postJSON(t, ts.URL+"/api/train", map[string]any{
		"prediction_horizons": []int{-15},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("train with negative horizon: status = %d, want 400", resp.StatusCode)
	}
}

func TestPreprocessBadDate(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/preprocess", map[string]any{"start_date": "03/04/2024"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed date", resp.StatusCode)
	}
}

func TestTrainThenForecastFlow(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/train", map[string]any{
		"prediction_horizons": []int{15, 30},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("train status = %d", resp.StatusCode)
	}
	var trained map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&trained); err != nil {
		t.Fatalf("decode train: %v", err)
	}
	if trained["scope"] != "unified" {
		t.Errorf("scope = %v, want unified", trained["scope"])
	}
	if len(trained["horizons"].([]any)) != 2 {
		t.Fatalf("trained horizons = %v, want 2", trained["horizons"])
	}

	var modelList []map[string]any
	getJSON(t, ts.URL+"/api/models", &modelList)
	if len(modelList) != 2 {
		t.Errorf("models listed = %d, want 2", len(modelList))
	}

	resp = postJSON(t, ts.URL+"/api/forecasts/generate", map[string]any{
		"prediction_horizons": []int{15, 30},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate status = %d", resp.StatusCode)
	}
	var gen map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		t.Fatalf("decode generate: %v", err)
	}
	// Two stations, two horizons.
	if got := len(gen["forecasts"].([]any)); got != 4 {
		t.Errorf("forecasts = %d, want 4", got)
	}

	var stored []map[string]any
	getJSON(t, ts.URL+"/api/forecasts", &stored)
	if len(stored) != 4 {
		t.Errorf("stored forecasts = %d, want 4", len(stored))
	}

	var perf []map[string]any
	getJSON(t, ts.URL+"/api/performance", &perf)
	if len(perf) != 2 {
		t.Errorf("performance rows = %d, want 2", len(perf))
	}
}

func TestGenerateForecastsWithoutModels(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/forecasts/generate", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when nothing is trained", resp.StatusCode)
	}
}

func TestForecastsBadStationID(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := getJSON(t, ts.URL+"/api/forecasts?station_id=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStationsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var stations []map[string]any
	resp := getJSON(t, ts.URL+"/api/stations", &stations)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(stations) != 1 {
		t.Fatalf("stations = %d, want 1 seeded", len(stations))
	}
	if stations[0]["name"] != "Moste" {
		t.Errorf("name = %v", stations[0]["name"])
	}
	if stations[0]["alarm_level"] != nil {
		t.Errorf("alarm_level = %v, want null", stations[0]["alarm_level"])
	}
}

func TestConfigEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	var configs []map[string]any
	getJSON(t, ts.URL+"/api/configs", &configs)
	if len(configs) != 9 {
		t.Fatalf("configs = %d, want all 9 methods seeded", len(configs))
	}

	var single map[string]any
	resp := getJSON(t, ts.URL+"/api/configs/lag_features", &single)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get one status = %d", resp.StatusCode)
	}
	if single["method_id"] != "lag_features" || single["enabled"] != true {
		t.Errorf("config = %v", single)
	}

	resp = getJSON(t, ts.URL+"/api/configs/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown method status = %d, want 404", resp.StatusCode)
	}
}

func TestPutConfig(t *testing.T) {
	ts, st := newTestServer(t)

	put := func(methodID string, body any) *http.Response {
		t.Helper()
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		req, err := http.NewRequest(http.MethodPut, ts.URL+"/api/configs/"+methodID, bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT: %v", err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	// Disable a method.
	resp := put("rainfall_features", map[string]any{"enabled": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable status = %d", resp.StatusCode)
	}
	enabled, err := st.EnabledConfigs(context.Background())
	if err != nil {
		t.Fatalf("enabled configs: %v", err)
	}
	if _, ok := enabled["rainfall_features"]; ok {
		t.Error("rainfall_features still enabled after PUT")
	}

	// Update a blob.
	resp = put("lag_features", map[string]any{"config": map[string]any{"lag_periods": []int{1, 2}}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	var updated map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var lagCfg struct {
		LagPeriods []int `json:"lag_periods"`
	}
	raw, _ := json.Marshal(updated["config"])
	if err := json.Unmarshal(raw, &lagCfg); err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	if len(lagCfg.LagPeriods) != 2 {
		t.Errorf("lag periods = %v, want [1 2]", lagCfg.LagPeriods)
	}

	// An invalid blob is rejected before it reaches the store.
	resp = put("rolling_statistics", map[string]any{"config": map[string]any{"statistics": []string{"max"}}})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid blob status = %d, want 400", resp.StatusCode)
	}
	c, err := st.GetConfig(context.Background(), "rolling_statistics")
	if err != nil || c == nil {
		t.Fatalf("reload config: %v", err)
	}
	if bytes.Contains(c.Config, []byte("max")) {
		t.Error("rejected blob was persisted")
	}

	// Unknown methods 404.
	resp = put("bogus", map[string]any{"enabled": false})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown method status = %d, want 404", resp.StatusCode)
	}
}

func TestWeatherCurrentEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	var body map[string]any
	resp := getJSON(t, ts.URL+"/api/weather/current", &body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["temperature"] == nil {
		t.Error("temperature missing")
	}
	if body["pressure"] != nil {
		t.Errorf("pressure = %v, want null", body["pressure"])
	}
}

func TestWeatherRefreshEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"current": {"time": "2024-03-04T12:00", "temperature_2m": 9.5}}`)
	}))
	defer upstream.Close()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	wc := weather.NewClientWithBaseURL(upstream.URL, 46.05, 14.5)
	srv := NewServer(st, nil, nil, nil, wc, "0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/api/weather/refresh", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	stored, err := st.GetLatestWeatherMeasurement(context.Background())
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if stored == nil || stored.Temperature.Float64 != 9.5 {
		t.Errorf("stored weather = %+v, want temperature 9.5", stored)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := getJSON(t, ts.URL+"/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
