package features

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

// fakeSource serves a pre-built frame, cloning per call so pipeline runs
// cannot contaminate each other.
type fakeSource struct {
	frame *Frame
	stats MergeStats
	err   error
}

func (s *fakeSource) Merged(_ context.Context, _, _ *time.Time, _ int) (*Frame, MergeStats, error) {
	if s.err != nil {
		return nil, MergeStats{}, s.err
	}
	return s.frame.Clone(), s.stats, nil
}

type fakeConfigs struct {
	raw map[string]json.RawMessage
	err error
}

func (c *fakeConfigs) EnabledConfigs(_ context.Context) (map[string]json.RawMessage, error) {
	return c.raw, c.err
}

// testMergedFrame builds 48 hours of 15-minute data for stations 1 (on the
// exclusion list), 3 and 5, with weather attached.
func testMergedFrame(t *testing.T) *Frame {
	t.Helper()
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	const rows = 48 * 4

	f := NewFrame(3 * rows)
	var water, temp, hum, pressure, rain []float64
	for _, stationID := range []int64{1, 3, 5} {
		for i := 0; i < rows; i++ {
			ts := base.Add(time.Duration(i) * 15 * time.Minute)
			f.AppendRow(ts, stationID)
			level := 100 + float64(stationID)*10 + 2*math.Sin(float64(i)/10)
			water = append(water, level)
			temp = append(temp, 15+5*math.Sin(float64(i)/20))
			hum = append(hum, 60)
			pressure = append(pressure, 1010+math.Cos(float64(i)/30))
			rain = append(rain, 0.1*float64(i%4))
		}
	}
	f.SetCol(ColWaterLevel, water)
	f.SetCol(ColTemperature, temp)
	f.SetCol(ColHumidity, hum)
	f.SetCol(ColPressure, pressure)
	f.SetCol(ColRainfall1h, rain)
	return f
}

func defaultRawConfigs(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	return DefaultConfigJSON()
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return NewPipeline(
		&fakeSource{frame: testMergedFrame(t), stats: MergeStats{TotalRecords: 576, RecordsWithWeather: 576, CoveragePercent: 100, StationCount: 3}},
		&fakeConfigs{raw: defaultRawConfigs(t)},
	)
}

func TestPreprocessEndToEnd(t *testing.T) {
	p := newTestPipeline(t)

	res, err := p.Preprocess(context.Background(), Request{Horizons: []int{15, 60}})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}

	// Station 1 is excluded by default; only 3 and 5 survive.
	for i, id := range res.FeatureTable.Stations {
		if id == 1 {
			t.Fatalf("row %d belongs to excluded station 1", i)
		}
	}
	if got := res.FeatureTable.StationCount(); got != 2 {
		t.Errorf("stations in output = %d, want 2", got)
	}

	for _, col := range []string{
		"hour", "day_of_week", "hour_sin",
		"water_level_lag_1h", "water_level_lag_12h",
		"water_level_rolling_mean_3h", "water_level_rolling_std_24h",
		"water_level_change_6h",
		"rainfall_sum_24h",
		"temp_humidity_interaction", "pressure_diff_3h",
		"station_water_mean", "water_level_deviation",
		"target_15min", "target_60min",
	} {
		if !res.FeatureTable.Has(col) {
			t.Errorf("missing expected column %s", col)
		}
	}

	// The 12h lag burns 48 rows per station; cleaning drops those.
	if res.FinalRecords >= res.InitialRecords {
		t.Errorf("cleaning dropped nothing: initial %d, final %d", res.InitialRecords, res.FinalRecords)
	}

	// Feature columns must be fully imputed; only targets may hold nulls.
	for _, name := range res.FeatureTable.Columns() {
		if IsTargetColumn(name) {
			continue
		}
		for i, v := range res.FeatureTable.Col(name) {
			if math.IsNaN(v) {
				t.Fatalf("feature %s row %d is NaN after cleaning", name, i)
			}
		}
	}

	if res.TargetCount != 2 {
		t.Errorf("target count = %d, want 2", res.TargetCount)
	}
	if len(res.Sample) != 10 {
		t.Errorf("sample rows = %d, want 10", len(res.Sample))
	}
	if len(res.Skipped) != 0 {
		t.Errorf("unexpected skipped steps: %v", res.Skipped)
	}
}

func TestPreprocessDeterministic(t *testing.T) {
	p := newTestPipeline(t)
	req := Request{Horizons: []int{30}}

	first, err := p.Preprocess(context.Background(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Preprocess(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.FinalRecords != second.FinalRecords {
		t.Fatalf("row counts differ: %d vs %d", first.FinalRecords, second.FinalRecords)
	}
	cols1, cols2 := first.FeatureTable.Columns(), second.FeatureTable.Columns()
	if len(cols1) != len(cols2) {
		t.Fatalf("column counts differ: %d vs %d", len(cols1), len(cols2))
	}
	for i, name := range cols1 {
		if cols2[i] != name {
			t.Fatalf("column order differs at %d: %s vs %s", i, name, cols2[i])
		}
		a, b := first.FeatureTable.Col(name), second.FeatureTable.Col(name)
		for j := range a {
			if a[j] != b[j] && !(math.IsNaN(a[j]) && math.IsNaN(b[j])) {
				t.Fatalf("%s row %d differs: %v vs %v", name, j, a[j], b[j])
			}
		}
	}
}

func TestPreprocessExcludedStationRejected(t *testing.T) {
	p := newTestPipeline(t)
	id := int64(1)

	_, err := p.Preprocess(context.Background(), Request{StationID: &id, Horizons: []int{15}})
	if !errors.Is(err, ErrExcludedStation) {
		t.Fatalf("err = %v, want ErrExcludedStation", err)
	}
}

func TestSetExcludedStations(t *testing.T) {
	p := newTestPipeline(t)

	if !p.IsExcluded(1) || p.IsExcluded(3) {
		t.Fatal("default exclusion list not in effect")
	}

	// Operator-flagged stations replace the default list wholesale.
	p.SetExcludedStations([]int64{5, 1})
	if !p.IsExcluded(5) || !p.IsExcluded(1) || p.IsExcluded(7) {
		t.Fatal("replaced exclusion list not in effect")
	}

	id := int64(5)
	if _, err := p.Preprocess(context.Background(), Request{StationID: &id, Horizons: []int{15}}); !errors.Is(err, ErrExcludedStation) {
		t.Fatalf("err = %v, want ErrExcludedStation for newly excluded station", err)
	}

	res, err := p.Preprocess(context.Background(), Request{Horizons: []int{15}})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	for i, got := range res.FeatureTable.Stations {
		if got != 3 {
			t.Fatalf("row %d station = %d, want only station 3 to survive", i, got)
		}
	}
}

func TestPreprocessRejectsShortHorizons(t *testing.T) {
	p := newTestPipeline(t)

	// Horizons come straight from API callers; anything below the
	// 15-minute target grid must be rejected, not index backwards.
	for _, h := range []int{-15, -1, 0, 7, 14} {
		_, err := p.Preprocess(context.Background(), Request{Horizons: []int{15, h}})
		if !errors.Is(err, ErrInvalidHorizon) {
			t.Errorf("horizon %d: err = %v, want ErrInvalidHorizon", h, err)
		}
	}

	if _, err := p.Preprocess(context.Background(), Request{Horizons: []int{15}}); err != nil {
		t.Errorf("horizon 15: unexpected error %v", err)
	}
}

func TestPreprocessSingleStation(t *testing.T) {
	p := newTestPipeline(t)
	id := int64(3)

	res, err := p.Preprocess(context.Background(), Request{StationID: &id, Horizons: []int{15}})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	for i, got := range res.FeatureTable.Stations {
		if got != 3 {
			t.Fatalf("row %d station = %d, want 3", i, got)
		}
	}
}

func TestPreprocessNoData(t *testing.T) {
	p := NewPipeline(
		&fakeSource{err: ErrNoData},
		&fakeConfigs{raw: defaultRawConfigs(t)},
	)
	if _, err := p.Preprocess(context.Background(), Request{Horizons: []int{15}}); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}

	// Also when only excluded stations have data.
	frame := NewFrame(2)
	frame.AppendRow(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), 1)
	frame.AppendRow(time.Date(2024, 3, 4, 0, 15, 0, 0, time.UTC), 1)
	frame.SetCol(ColWaterLevel, []float64{1, 2})
	p = NewPipeline(&fakeSource{frame: frame}, &fakeConfigs{raw: defaultRawConfigs(t)})
	if _, err := p.Preprocess(context.Background(), Request{Horizons: []int{15}}); !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData for excluded-only data", err)
	}
}

func TestPreprocessSkipsStepsMissingColumns(t *testing.T) {
	// No rainfall column: the rainfall step must be skipped, not fatal.
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	frame := NewFrame(8)
	water := make([]float64, 8)
	for i := 0; i < 8; i++ {
		frame.AppendRow(base.Add(time.Duration(i)*15*time.Minute), 3)
		water[i] = float64(i)
	}
	frame.SetCol(ColWaterLevel, water)

	p := NewPipeline(&fakeSource{frame: frame}, &fakeConfigs{raw: defaultRawConfigs(t)})
	res, err := p.Preprocess(context.Background(), Request{Horizons: []int{15}})
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if len(res.Skipped) == 0 {
		t.Fatal("expected rainfall step to be reported as skipped")
	}
	if res.FeatureTable.Has("rainfall_sum_3h") {
		t.Error("rainfall column created without input data")
	}
}

func TestPreprocessUnknownMethodRejected(t *testing.T) {
	raw := defaultRawConfigs(t)
	raw["bogus_method"] = json.RawMessage(`{}`)

	p := NewPipeline(&fakeSource{frame: testMergedFrame(t)}, &fakeConfigs{raw: raw})
	if _, err := p.Preprocess(context.Background(), Request{Horizons: []int{15}}); err == nil {
		t.Fatal("expected error for unknown method id")
	}
}
