package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/swfm/riverml/internal/api"
	"github.com/swfm/riverml/internal/features"
	"github.com/swfm/riverml/internal/merge"
	"github.com/swfm/riverml/internal/models"
	"github.com/swfm/riverml/internal/predict"
	"github.com/swfm/riverml/internal/registry"
	"github.com/swfm/riverml/internal/sched"
	"github.com/swfm/riverml/internal/store"
	"github.com/swfm/riverml/internal/train"
	"github.com/swfm/riverml/internal/weather"
)

type Globals struct {
	DB        string  `help:"Path to SQLite database." default:"data/riverml.db" env:"RIVERML_DB"`
	Latitude  float64 `help:"Catchment latitude for weather queries." default:"46.0569" env:"RIVERML_LATITUDE"`
	Longitude float64 `help:"Catchment longitude for weather queries." default:"14.5058" env:"RIVERML_LONGITUDE"`
}

type CLI struct {
	Globals

	Serve        ServeCmd        `cmd:"" help:"Run the HTTP API server."`
	FetchWeather FetchWeatherCmd `cmd:"" name:"fetch-weather" help:"Fetch weather observations into the database."`
	Preprocess   PreprocessCmd   `cmd:"" help:"Run the feature pipeline and print a summary."`
	Train        TrainCmd        `cmd:"" help:"Train per-horizon forecast models."`
	Forecast     ForecastCmd     `cmd:"" help:"Generate water-level forecasts from the latest data."`
	InitConfigs  InitConfigsCmd  `cmd:"" name:"init-configs" help:"Seed default preprocessing configs."`
	Import       ImportCmd       `cmd:"" name:"import-measurements" help:"Import water-level measurements from a CSV file."`
}

// app wires the shared collaborators once per command invocation.
type app struct {
	db        *sql.DB
	store     *store.Store
	pipeline  *features.Pipeline
	trainer   *train.Trainer
	predictor *predict.Predictor
	weather   *weather.Client
}

func (g *Globals) open() (*app, error) {
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	pipeline := features.NewPipeline(merge.New(st), st)
	flagged, err := st.ExcludedStationIDs(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load excluded stations: %w", err)
	}
	if len(flagged) > 0 {
		pipeline.SetExcludedStations(append(flagged, features.DefaultExcludedStations...))
	}

	reg := registry.New(st)
	return &app{
		db:        db,
		store:     st,
		pipeline:  pipeline,
		trainer:   train.New(pipeline, st),
		predictor: predict.New(pipeline, reg, st),
		weather:   weather.NewClient(g.Latitude, g.Longitude),
	}, nil
}

func (a *app) close() {
	a.db.Close()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type ServeCmd struct {
	Port   string `help:"HTTP server port." default:"8080" env:"RIVERML_PORT"`
	NoPoll bool   `help:"Disable background weather polling and forecast generation." default:"false"`
}

func (c *ServeCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if err := a.store.SeedDefaultConfigs(ctx, features.DefaultConfigJSON()); err != nil {
		return fmt.Errorf("seed configs: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if !c.NoPoll {
		go sched.New(a.store, a.weather, a.predictor).Run(ctx)
	}

	server := api.NewServer(a.store, a.pipeline, a.trainer, a.predictor, a.weather, c.Port)
	log.Printf("serving on :%s (db %s)", c.Port, g.DB)
	return server.Run(ctx)
}

type FetchWeatherCmd struct {
	Days    int  `help:"Days of hourly history to backfill." default:"0"`
	Current bool `help:"Fetch only the current observation." default:"false"`
}

func (c *FetchWeatherCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()
	ctx := context.Background()

	if c.Days > 0 {
		rows, err := a.weather.FetchHourly(c.Days)
		if err != nil {
			return err
		}
		for _, w := range rows {
			if err := a.store.InsertWeatherMeasurement(ctx, w); err != nil {
				return fmt.Errorf("store weather row at %s: %w", w.MeasuredAt, err)
			}
		}
		log.Printf("stored %d hourly weather rows (%d days)", len(rows), c.Days)
		if !c.Current {
			return nil
		}
	}

	current, err := a.weather.FetchCurrent()
	if err != nil {
		return err
	}
	if err := a.store.InsertWeatherMeasurement(ctx, *current); err != nil {
		return err
	}
	log.Printf("stored current weather for %s", current.MeasuredAt.Format(time.RFC3339))
	return nil
}

type PreprocessCmd struct {
	Station  *int64 `help:"Limit to one station ID."`
	Start    string `help:"Start date (YYYY-MM-DD)."`
	End      string `help:"End date (YYYY-MM-DD)."`
	Horizons []int  `help:"Prediction horizons in minutes." default:"15,30,60,120"`
}

func (c *PreprocessCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	start, end, err := parseDates(c.Start, c.End)
	if err != nil {
		return err
	}
	res, err := a.pipeline.Preprocess(context.Background(), features.Request{
		StationID: c.Station,
		Start:     start,
		End:       end,
		Horizons:  c.Horizons,
	})
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"initial_records": res.InitialRecords,
		"final_records":   res.FinalRecords,
		"feature_count":   res.FeatureCount,
		"target_count":    res.TargetCount,
		"missing_values":  res.MissingValues,
		"configs_used":    res.ConfigsUsed,
		"skipped_steps":   res.Skipped,
		"merge_stats":     res.MergeStats,
		"execution_ms":    res.ExecutionTime.Milliseconds(),
	})
}

type TrainCmd struct {
	Station  *int64 `help:"Train a single-station model instead of the unified one."`
	Start    string `help:"Start date (YYYY-MM-DD)."`
	End      string `help:"End date (YYYY-MM-DD)."`
	Horizons []int  `help:"Prediction horizons in minutes." default:"15,30,60,120"`
}

func (c *TrainCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	start, end, err := parseDates(c.Start, c.End)
	if err != nil {
		return err
	}
	res, err := a.trainer.Train(context.Background(), train.Request{
		StationID: c.Station,
		Start:     start,
		End:       end,
		Horizons:  c.Horizons,
	})
	if err != nil {
		return err
	}
	return printJSON(res)
}

type ForecastCmd struct {
	Station  *int64 `help:"Limit to one station ID."`
	Horizons []int  `help:"Prediction horizons in minutes." default:"15,30,60,120"`
}

func (c *ForecastCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.predictor.Generate(context.Background(), c.Station, c.Horizons, time.Now().UTC())
	if err != nil {
		return err
	}
	return printJSON(res)
}

type InitConfigsCmd struct{}

func (c *InitConfigsCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.SeedDefaultConfigs(context.Background(), features.DefaultConfigJSON()); err != nil {
		return err
	}
	log.Println("default preprocessing configs seeded")
	return nil
}

type ImportCmd struct {
	File string `arg:"" help:"CSV file with station_id,measured_at,water_level columns." type:"existingfile"`
}

func (c *ImportCmd) Run(g *Globals) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.close()

	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := readMeasurementsCSV(f)
	if err != nil {
		return fmt.Errorf("%s: %w", c.File, err)
	}

	ctx := context.Background()
	for _, m := range rows {
		if err := a.store.InsertMeasurement(ctx, m); err != nil {
			return fmt.Errorf("store measurement %d@%s: %w", m.StationID, m.MeasuredAt.Format(time.RFC3339), err)
		}
	}
	log.Printf("imported %d measurements from %s", len(rows), c.File)
	return nil
}

// readMeasurementsCSV parses rows of station_id,measured_at,water_level.
// A header row naming those columns is required; timestamps are RFC3339.
func readMeasurementsCSV(r io.Reader) ([]models.Measurement, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	want := []string{"station_id", "measured_at", "water_level"}
	if len(header) != len(want) {
		return nil, fmt.Errorf("header %v: want columns %v", header, want)
	}
	for i, name := range want {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("header column %d is %q, want %q", i, header[i], name)
		}
	}

	var rows []models.Measurement
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		stationID, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: station_id %q", line, rec[0])
		}
		measuredAt, err := time.Parse(time.RFC3339, rec[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: measured_at %q", line, rec[1])
		}
		level, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: water_level %q", line, rec[2])
		}
		rows = append(rows, models.Measurement{
			StationID:  stationID,
			MeasuredAt: measuredAt.UTC(),
			WaterLevel: level,
		})
	}
	return rows, nil
}

func parseDates(startDate, endDate string) (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if startDate != "" {
		t, err := time.ParseInLocation("2006-01-02", startDate, time.UTC)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid start date %q", startDate)
		}
		start = &t
	}
	if endDate != "" {
		t, err := time.ParseInLocation("2006-01-02", endDate, time.UTC)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid end date %q", endDate)
		}
		t = t.Add(24*time.Hour - time.Second)
		end = &t
	}
	return start, end, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("riverml"),
		kong.Description("Water-level forecasting service: feature pipeline, model training and recursive multi-horizon prediction."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		log.Fatal(err)
	}
}
