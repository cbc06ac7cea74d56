package predict

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/swfm/riverml/internal/features"
	"github.com/swfm/riverml/internal/models"
	"github.com/swfm/riverml/internal/registry"
	"github.com/swfm/riverml/internal/regress"
	"github.com/swfm/riverml/internal/store"
)

// frameSource feeds the pipeline a fixed merged frame, standing in for the
// sqlite-backed merger.
type frameSource struct {
	frame *features.Frame
}

func (s *frameSource) Merged(_ context.Context, _, _ *time.Time, _ int) (*features.Frame, features.MergeStats, error) {
	return s.frame.Clone(), features.MergeStats{}, nil
}

type defaultConfigs struct{}

func (defaultConfigs) EnabledConfigs(_ context.Context) (map[string]json.RawMessage, error) {
	return features.DefaultConfigJSON(), nil
}

// lastLevel is the newest water level in the test frame: 100 + 0.25*191.
const lastLevel = 147.75

func testFrame(t *testing.T) *features.Frame {
	t.Helper()
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	const rows = 48 * 4

	f := features.NewFrame(rows)
	water := make([]float64, rows)
	temp := make([]float64, rows)
	for i := 0; i < rows; i++ {
		f.AppendRow(base.Add(time.Duration(i)*15*time.Minute), 3)
		water[i] = 100 + 0.25*float64(i)
		temp[i] = 10
	}
	f.SetCol(features.ColWaterLevel, water)
	f.SetCol(features.ColTemperature, temp)
	return f
}

func testPredictor(t *testing.T) (*Predictor, *store.Store) {
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

	pipeline := features.NewPipeline(&frameSource{frame: testFrame(t)}, defaultConfigs{})
	return New(pipeline, registry.New(st), st), st
}

// identityArtifact predicts the current water level plus a fixed offset, so
// recursive feed-forward between horizons is directly observable.
func identityArtifact(t *testing.T, st *store.Store, horizon int, offset float64) {
	t.Helper()
	art := &models.ModelArtifact{
		Name:           registry.ModelName(regress.FamilyRidge, registry.ScopeUnified, horizon),
		Family:         regress.FamilyRidge,
		StationScope:   registry.ScopeUnified,
		HorizonMinutes: horizon,
		FeatureNames:   []string{features.ColWaterLevel},
		Coefficients:   []float64{1},
		Intercept:      offset,
		ScalerMeans:    []float64{0},
		ScalerScales:   []float64{1},
	}
	if _, err := st.SaveModelArtifact(context.Background(), art); err != nil {
		t.Fatalf("save artifact: %v", err)
	}
}

func TestGenerateRecursiveFeedForward(t *testing.T) {
	p, st := testPredictor(t)
	now := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

	identityArtifact(t, st, 15, 5)
	identityArtifact(t, st, 30, 5)

	res, err := p.Generate(context.Background(), nil, []int{30, 15}, now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Forecasts) != 2 {
		t.Fatalf("forecasts = %d, want 2", len(res.Forecasts))
	}

	// Horizons run shortest-first regardless of request order.
	if res.Forecasts[0].HorizonMinutes != 15 || res.Forecasts[1].HorizonMinutes != 30 {
		t.Fatalf("horizon order = [%d %d], want [15 30]",
			res.Forecasts[0].HorizonMinutes, res.Forecasts[1].HorizonMinutes)
	}

	// The 15-minute model sees the observed level; the 30-minute model
	// sees the 15-minute prediction fed back in.
	if got := res.Forecasts[0].WaterLevel; math.Abs(got-(lastLevel+5)) > 1e-9 {
		t.Errorf("15min prediction = %v, want %v", got, lastLevel+5)
	}
	if got := res.Forecasts[1].WaterLevel; math.Abs(got-(lastLevel+10)) > 1e-9 {
		t.Errorf("30min prediction = %v, want %v (fed forward)", got, lastLevel+10)
	}

	// Target dates advance from the measurement time, not from now.
	measured := res.Forecasts[0].TargetDate.Add(-15 * time.Minute)
	if want := measured.Add(30 * time.Minute); !res.Forecasts[1].TargetDate.Equal(want) {
		t.Errorf("30min target date = %v, want %v", res.Forecasts[1].TargetDate, want)
	}

	// Each forecast is also persisted.
	stored, err := st.GetForecasts(context.Background(), nil, nil, nil, 0)
	if err != nil {
		t.Fatalf("read stored forecasts: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("stored forecasts = %d, want 2", len(stored))
	}
	for _, f := range stored {
		if !f.StationID.Valid || f.StationID.Int64 != 3 {
			t.Errorf("stored station = %+v, want 3", f.StationID)
		}
		if !f.ForecastDate.Equal(now) {
			t.Errorf("forecast date = %v, want %v", f.ForecastDate, now)
		}
	}
}

func TestGenerateMissingHorizonIsWarning(t *testing.T) {
	p, st := testPredictor(t)
	now := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

	identityArtifact(t, st, 15, 0)

	res, err := p.Generate(context.Background(), nil, []int{15, 45}, now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(res.Forecasts) != 1 {
		t.Fatalf("forecasts = %d, want 1 (45min has no model)", len(res.Forecasts))
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one for the missing model", res.Warnings)
	}
}

func TestGenerateNoModels(t *testing.T) {
	p, _ := testPredictor(t)
	now := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

	if _, err := p.Generate(context.Background(), nil, nil, now); !errors.Is(err, ErrNoForecasts) {
		t.Fatalf("err = %v, want ErrNoForecasts", err)
	}
}

func TestGenerateExcludedStation(t *testing.T) {
	p, st := testPredictor(t)
	now := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

	identityArtifact(t, st, 15, 0)

	id := int64(7)
	if _, err := p.Generate(context.Background(), &id, []int{15}, now); !errors.Is(err, features.ErrExcludedStation) {
		t.Fatalf("err = %v, want ErrExcludedStation", err)
	}
}

func TestAlignWithStationInjectsIdentity(t *testing.T) {
	art := &models.ModelArtifact{
		FeatureNames: []string{"station_id", features.ColWaterLevel},
		ScalerMeans:  []float64{4, 100},
		ScalerScales: []float64{2, 10},
	}

	al, err := alignWithStation(map[string]float64{features.ColWaterLevel: 120}, 6, art)
	if err != nil {
		t.Fatalf("alignWithStation: %v", err)
	}
	if al.Vector[0] != 1 { // (6-4)/2
		t.Errorf("station_id z = %v, want 1", al.Vector[0])
	}
	if al.Vector[1] != 2 { // (120-100)/10
		t.Errorf("water_level z = %v, want 2", al.Vector[1])
	}
	if len(al.Synthesized) != 0 {
		t.Errorf("synthesized = %v, want none", al.Synthesized)
	}
}
