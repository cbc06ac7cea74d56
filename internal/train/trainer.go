// Package train fits per-horizon regression models on the feature table
// and persists the winners as versioned artifacts.
package train

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/swfm/riverml/internal/features"
	"github.com/swfm/riverml/internal/metrics"
	"github.com/swfm/riverml/internal/models"
	"github.com/swfm/riverml/internal/registry"
	"github.com/swfm/riverml/internal/regress"
	"github.com/swfm/riverml/internal/store"
)

// ColStationID is the synthetic feature carrying station identity in
// unified models.
const ColStationID = "station_id"

// DefaultHorizons are the prediction horizons trained when the caller does
// not specify any.
var DefaultHorizons = []int{15, 30, 60, 120}

const (
	testFraction = 0.2
	minSamples   = 50
)

type Trainer struct {
	pipeline *features.Pipeline
	store    *store.Store
}

func New(pipeline *features.Pipeline, st *store.Store) *Trainer {
	return &Trainer{pipeline: pipeline, store: st}
}

// Request scopes one training run. A nil StationID trains a unified model
// over all non-excluded stations with station identity as a feature.
type Request struct {
	StationID *int64
	Start     *time.Time
	End       *time.Time
	Horizons  []int
}

// HorizonResult reports the winning model for one horizon.
type HorizonResult struct {
	HorizonMinutes int     `json:"horizon_minutes"`
	ModelName      string  `json:"model_name"`
	Family         string  `json:"family"`
	Version        int     `json:"version"`
	TrainSamples   int     `json:"train_samples"`
	TestSamples    int     `json:"test_samples"`
	RMSE           float64 `json:"rmse"`
	MAE            float64 `json:"mae"`
	R2             float64 `json:"r2"`
}

type Result struct {
	Scope        string          `json:"scope"`
	Records      int             `json:"records"`
	FeatureCount int             `json:"feature_count"`
	Horizons     []HorizonResult `json:"horizons"`
	Skipped      []string        `json:"skipped,omitempty"`
}

// Train runs preprocessing, then fits a linear and a ridge model per
// horizon on a chronological 80/20 split and keeps whichever has the lower
// held-out RMSE. Horizons with too few usable samples are skipped, not
// fatal; the run fails only when every horizon fails.
func (t *Trainer) Train(ctx context.Context, req Request) (*Result, error) {
	horizons := req.Horizons
	if len(horizons) == 0 {
		horizons = DefaultHorizons
	}

	scope := registry.ScopeUnified
	if req.StationID != nil {
		scope = fmt.Sprintf("station%d", *req.StationID)
	}

	prep, err := t.pipeline.Preprocess(ctx, features.Request{
		StationID: req.StationID,
		Start:     req.Start,
		End:       req.End,
		Horizons:  horizons,
	})
	if err != nil {
		return nil, err
	}
	frame := prep.FeatureTable

	featureNames := t.featureNames(frame, scope)
	if len(featureNames) == 0 {
		return nil, fmt.Errorf("no usable feature columns after preprocessing")
	}

	result := &Result{
		Scope:        scope,
		Records:      frame.Len(),
		FeatureCount: len(featureNames),
	}

	for _, horizon := range horizons {
		hr, err := t.trainHorizon(ctx, frame, featureNames, scope, horizon)
		if err != nil {
			metrics.TrainingsTotal.WithLabelValues(fmt.Sprintf("%d", horizon), "skipped").Inc()
			result.Skipped = append(result.Skipped, fmt.Sprintf("%dmin: %v", horizon, err))
			log.Printf("train: horizon %dmin skipped: %v", horizon, err)
			continue
		}
		metrics.TrainingsTotal.WithLabelValues(fmt.Sprintf("%d", horizon), "ok").Inc()
		result.Horizons = append(result.Horizons, *hr)
	}

	if len(result.Horizons) == 0 {
		return nil, fmt.Errorf("all %d horizons failed to train", len(horizons))
	}
	return result, nil
}

// featureNames picks the model inputs: every non-target column that is not
// entirely null and not constant, plus station identity for unified scope.
func (t *Trainer) featureNames(frame *features.Frame, scope string) []string {
	var names []string
	for _, name := range frame.Columns() {
		if features.IsTargetColumn(name) {
			continue
		}
		if usableColumn(frame.Col(name)) {
			names = append(names, name)
		}
	}
	if scope == registry.ScopeUnified && frame.StationCount() > 1 {
		names = append(names, ColStationID)
	}
	return names
}

func usableColumn(col []float64) bool {
	first := math.NaN()
	varies := false
	any := false
	for _, v := range col {
		if math.IsNaN(v) {
			continue
		}
		if !any {
			first = v
			any = true
			continue
		}
		if v != first {
			varies = true
		}
	}
	return any && varies
}

func (t *Trainer) trainHorizon(ctx context.Context, frame *features.Frame, featureNames []string, scope string, horizon int) (*HorizonResult, error) {
	target := frame.Col(features.TargetColumn(horizon))
	if target == nil {
		return nil, fmt.Errorf("target column missing")
	}

	// Rows whose target fell off the end of the series are unusable.
	var x [][]float64
	var y []float64
	for i := 0; i < frame.Len(); i++ {
		if math.IsNaN(target[i]) {
			continue
		}
		row := make([]float64, len(featureNames))
		for j, name := range featureNames {
			var v float64
			if name == ColStationID {
				v = float64(frame.Stations[i])
			} else {
				v = frame.Col(name)[i]
			}
			if math.IsNaN(v) {
				v = 0
			}
			row[j] = v
		}
		x = append(x, row)
		y = append(y, target[i])
	}
	if len(x) < minSamples {
		return nil, fmt.Errorf("%d usable samples, need %d", len(x), minSamples)
	}

	// Chronological split: the newest fifth is held out, never shuffled, so
	// the test set is strictly in the model's future.
	split := int(float64(len(x)) * (1 - testFraction))
	xTrain, xTest := x[:split], x[split:]
	yTrain, yTest := y[:split], y[split:]

	scaler := regress.FitScaler(xTrain, len(featureNames))
	scaler.Transform(xTrain)
	scaler.Transform(xTest)

	type candidate struct {
		model *regress.LinearModel
		eval  regress.Evaluation
	}
	var candidates []candidate

	if m, err := regress.FitLinear(xTrain, yTrain, len(featureNames)); err != nil {
		log.Printf("train: linear fit failed for %dmin: %v", horizon, err)
	} else {
		candidates = append(candidates, candidate{m, regress.Evaluate(yTest, m.PredictAll(xTest))})
	}
	if m, err := regress.FitRidge(xTrain, yTrain, len(featureNames), regress.DefaultRidgeAlpha); err != nil {
		log.Printf("train: ridge fit failed for %dmin: %v", horizon, err)
	} else {
		candidates = append(candidates, candidate{m, regress.Evaluate(yTest, m.PredictAll(xTest))})
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no model family fitted successfully")
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.eval.RMSE < best.eval.RMSE {
			best = c
		}
	}

	art := &models.ModelArtifact{
		Name:           registry.ModelName(best.model.Family, scope, horizon),
		Family:         best.model.Family,
		StationScope:   scope,
		HorizonMinutes: horizon,
		FeatureNames:   featureNames,
		Coefficients:   best.model.Coefficients,
		Intercept:      best.model.Intercept,
		ScalerMeans:    scaler.Means,
		ScalerScales:   scaler.Scales,
		RMSE:           best.eval.RMSE,
		MAE:            best.eval.MAE,
		R2:             best.eval.R2,
	}
	version, err := t.store.SaveModelArtifact(ctx, art)
	if err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}

	perf := models.ModelPerformance{
		ID:        uuid.NewString(),
		ModelType: fmt.Sprintf("%s_%dmin", best.model.Family, horizon),
		RMSE:      best.eval.RMSE,
		MAE:       best.eval.MAE,
		R2:        best.eval.R2,
		MAPE:      mape(yTest, best.eval.MAE),
		Accuracy:  accuracyScore(best.eval.RMSE),
	}
	if err := t.store.InsertModelPerformance(ctx, perf); err != nil {
		return nil, fmt.Errorf("record performance: %w", err)
	}

	return &HorizonResult{
		HorizonMinutes: horizon,
		ModelName:      art.Name,
		Family:         best.model.Family,
		Version:        version,
		TrainSamples:   len(xTrain),
		TestSamples:    len(xTest),
		RMSE:           best.eval.RMSE,
		MAE:            best.eval.MAE,
		R2:             best.eval.R2,
	}, nil
}

// mape reports MAE relative to the mean observed level, in percent.
func mape(observed []float64, mae float64) float64 {
	if len(observed) == 0 {
		return 0
	}
	var sum float64
	for _, v := range observed {
		sum += math.Abs(v)
	}
	mean := sum / float64(len(observed))
	if mean == 0 {
		return 0
	}
	return 100 * mae / mean
}

// accuracyScore maps RMSE (in metres) onto a 0-100 display score.
func accuracyScore(rmse float64) float64 {
	score := (1 - rmse) * 100
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
