// Package sched runs the periodic background jobs: weather polling,
// forecast generation and forecast pruning.
package sched

import (
	"context"
	"log"
	"time"

	"github.com/swfm/riverml/internal/predict"
	"github.com/swfm/riverml/internal/store"
	"github.com/swfm/riverml/internal/weather"
)

type Scheduler struct {
	store     *store.Store
	weather   *weather.Client
	predictor *predict.Predictor

	weatherInterval  time.Duration
	forecastInterval time.Duration
	retention        time.Duration
}

func New(st *store.Store, wc *weather.Client, predictor *predict.Predictor) *Scheduler {
	return &Scheduler{
		store:     st,
		weather:   wc,
		predictor: predictor,

		weatherInterval:  time.Hour,
		forecastInterval: 15 * time.Minute,
		retention:        30 * 24 * time.Hour,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.fetchWeather(ctx)
	s.generateForecasts(ctx)

	weatherTicker := time.NewTicker(s.weatherInterval)
	forecastTicker := time.NewTicker(s.forecastInterval)
	cleanupTicker := time.NewTicker(24 * time.Hour)
	defer weatherTicker.Stop()
	defer forecastTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-weatherTicker.C:
			s.fetchWeather(ctx)
		case <-forecastTicker.C:
			s.generateForecasts(ctx)
		case <-cleanupTicker.C:
			s.pruneForecasts(ctx)
		}
	}
}

func (s *Scheduler) fetchWeather(ctx context.Context) {
	current, err := s.weather.FetchCurrent()
	if err != nil {
		log.Printf("scheduler: fetch weather: %v", err)
		return
	}
	if err := s.store.InsertWeatherMeasurement(ctx, *current); err != nil {
		log.Printf("scheduler: store weather: %v", err)
		return
	}
	if current.Temperature.Valid {
		log.Printf("scheduler: weather %s: %.1f°C", current.MeasuredAt.Format("15:04"), current.Temperature.Float64)
	}
}

func (s *Scheduler) generateForecasts(ctx context.Context) {
	res, err := s.predictor.Generate(ctx, nil, nil, time.Now().UTC())
	if err != nil {
		// Routine before the first training run; worth a line, not a retry.
		log.Printf("scheduler: generate forecasts: %v", err)
		return
	}
	log.Printf("scheduler: generated %d forecasts (%d warnings)", len(res.Forecasts), len(res.Warnings))
}

func (s *Scheduler) pruneForecasts(ctx context.Context) {
	n, err := s.store.DeleteForecastsBefore(ctx, time.Now().UTC().Add(-s.retention))
	if err != nil {
		log.Printf("scheduler: prune forecasts: %v", err)
		return
	}
	if n > 0 {
		log.Printf("scheduler: pruned %d old forecasts", n)
	}
}
