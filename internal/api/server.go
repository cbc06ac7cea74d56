// Package api exposes the preprocessing, training and forecasting
// operations over a JSON HTTP interface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swfm/riverml/internal/features"
	"github.com/swfm/riverml/internal/predict"
	"github.com/swfm/riverml/internal/store"
	"github.com/swfm/riverml/internal/train"
	"github.com/swfm/riverml/internal/weather"
)

type Server struct {
	store     *store.Store
	pipeline  *features.Pipeline
	trainer   *train.Trainer
	predictor *predict.Predictor
	weather   *weather.Client
	port      string
}

func NewServer(st *store.Store, pipeline *features.Pipeline, trainer *train.Trainer, predictor *predict.Predictor, wc *weather.Client, port string) *Server {
	return &Server{
		store:     st,
		pipeline:  pipeline,
		trainer:   trainer,
		predictor: predictor,
		weather:   wc,
		port:      port,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/preprocess", s.handlePreprocess)
	mux.HandleFunc("POST /api/train", s.handleTrain)
	mux.HandleFunc("POST /api/forecasts/generate", s.handleGenerateForecasts)
	mux.HandleFunc("GET /api/forecasts", s.handleForecasts)
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("GET /api/performance", s.handlePerformance)
	mux.HandleFunc("GET /api/configs", s.handleConfigs)
	mux.HandleFunc("GET /api/configs/{method_id}", s.handleGetConfig)
	mux.HandleFunc("PUT /api/configs/{method_id}", s.handlePutConfig)
	mux.HandleFunc("GET /api/weather/current", s.handleWeatherCurrent)
	mux.HandleFunc("POST /api/weather/refresh", s.handleWeatherRefresh)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
