// Package weather fetches meteorological observations from the Open-Meteo
// API for the river catchment and shapes them into storable rows.
package weather

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/swfm/riverml/internal/metrics"
	"github.com/swfm/riverml/internal/models"
)

const defaultBaseURL = "https://api.open-meteo.com/v1"

const requestTimeout = 30 * time.Second

const hourlyVariables = "temperature_2m,relative_humidity_2m,surface_pressure,wind_speed_10m,wind_direction_10m,cloud_cover,precipitation"

type Client struct {
	baseURL   string
	latitude  float64
	longitude float64
	client    *http.Client
}

func NewClient(latitude, longitude float64) *Client {
	return &Client{
		baseURL:   defaultBaseURL,
		latitude:  latitude,
		longitude: longitude,
		client:    &http.Client{Timeout: requestTimeout},
	}
}

// NewClientWithBaseURL is used by tests to point at a local server.
func NewClientWithBaseURL(baseURL string, latitude, longitude float64) *Client {
	c := NewClient(latitude, longitude)
	c.baseURL = baseURL
	return c
}

type forecastResponse struct {
	Current *struct {
		Time          string   `json:"time"`
		Temperature   *float64 `json:"temperature_2m"`
		Humidity      *float64 `json:"relative_humidity_2m"`
		Pressure      *float64 `json:"surface_pressure"`
		WindSpeed     *float64 `json:"wind_speed_10m"`
		WindDirection *float64 `json:"wind_direction_10m"`
		CloudCover    *float64 `json:"cloud_cover"`
		Precipitation *float64 `json:"precipitation"`
	} `json:"current"`
	Hourly *struct {
		Time          []string   `json:"time"`
		Temperature   []*float64 `json:"temperature_2m"`
		Humidity      []*float64 `json:"relative_humidity_2m"`
		Pressure      []*float64 `json:"surface_pressure"`
		WindSpeed     []*float64 `json:"wind_speed_10m"`
		WindDirection []*float64 `json:"wind_direction_10m"`
		CloudCover    []*float64 `json:"cloud_cover"`
		Precipitation []*float64 `json:"precipitation"`
	} `json:"hourly"`
}

// FetchCurrent returns the latest observation for the catchment. The
// trailing rainfall sums need history, so the call also pulls the last day
// of hourly precipitation.
func (c *Client) FetchCurrent() (*models.WeatherMeasurement, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", c.latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", c.longitude))
	q.Set("current", hourlyVariables)
	q.Set("hourly", "precipitation")
	q.Set("past_days", "1")
	q.Set("forecast_days", "1")
	q.Set("timeformat", "iso8601")
	q.Set("timezone", "UTC")

	data, err := c.get("current", q)
	if err != nil {
		return nil, err
	}
	if data.Current == nil {
		return nil, fmt.Errorf("open-meteo: response has no current block")
	}

	measuredAt, err := parseOpenMeteoTime(data.Current.Time)
	if err != nil {
		return nil, err
	}

	w := &models.WeatherMeasurement{
		MeasuredAt:    measuredAt,
		Temperature:   nullable(data.Current.Temperature),
		Humidity:      nullable(data.Current.Humidity),
		Pressure:      nullable(data.Current.Pressure),
		WindSpeed:     nullable(data.Current.WindSpeed),
		WindDirection: nullable(data.Current.WindDirection),
		CloudCover:    nullable(data.Current.CloudCover),
	}

	// Sum the hourly precipitation history up to the observation time for
	// the trailing-window rainfall fields.
	if data.Hourly != nil {
		times, precip, err := hourlyPrecip(data.Hourly.Time, data.Hourly.Precipitation)
		if err != nil {
			return nil, err
		}
		w.Rainfall1h = nullable(data.Current.Precipitation)
		w.Rainfall3h = trailingSum(times, precip, measuredAt, 3)
		w.Rainfall6h = trailingSum(times, precip, measuredAt, 6)
		w.Rainfall12h = trailingSum(times, precip, measuredAt, 12)
		w.Rainfall24h = trailingSum(times, precip, measuredAt, 24)
	}

	return w, nil
}

// FetchHourly returns one row per hour covering the past pastDays days,
// with the trailing rainfall sums computed over the fetched series.
func (c *Client) FetchHourly(pastDays int) ([]models.WeatherMeasurement, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", c.latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", c.longitude))
	q.Set("hourly", hourlyVariables)
	q.Set("past_days", fmt.Sprintf("%d", pastDays))
	q.Set("forecast_days", "1")
	q.Set("timeformat", "iso8601")
	q.Set("timezone", "UTC")

	data, err := c.get("hourly", q)
	if err != nil {
		return nil, err
	}
	if data.Hourly == nil {
		return nil, fmt.Errorf("open-meteo: response has no hourly block")
	}

	h := data.Hourly
	times, precip, err := hourlyPrecip(h.Time, h.Precipitation)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var out []models.WeatherMeasurement
	for i, t := range times {
		if t.After(now) {
			break
		}
		w := models.WeatherMeasurement{
			MeasuredAt:    t,
			Temperature:   nullableAt(h.Temperature, i),
			Humidity:      nullableAt(h.Humidity, i),
			Pressure:      nullableAt(h.Pressure, i),
			WindSpeed:     nullableAt(h.WindSpeed, i),
			WindDirection: nullableAt(h.WindDirection, i),
			CloudCover:    nullableAt(h.CloudCover, i),
			Rainfall1h:    nullableAt(h.Precipitation, i),
			Rainfall3h:    trailingSum(times, precip, t, 3),
			Rainfall6h:    trailingSum(times, precip, t, 6),
			Rainfall12h:   trailingSum(times, precip, t, 12),
			Rainfall24h:   trailingSum(times, precip, t, 24),
		}
		out = append(out, w)
	}
	return out, nil
}

func (c *Client) get(endpoint string, q url.Values) (*forecastResponse, error) {
	fullURL := fmt.Sprintf("%s/forecast?%s", c.baseURL, q.Encode())

	start := time.Now()
	var body []byte
	operation := func() error {
		resp, err := c.client.Get(fullURL)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("fetch weather: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("weather api unavailable: status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("fetch weather: status %d: %s", resp.StatusCode, string(b)))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	err := backoff.Retry(operation, bo)
	metrics.WeatherAPILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return nil, err
	}
	metrics.WeatherAPICallsTotal.WithLabelValues(endpoint, "ok").Inc()

	var data forecastResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal weather response: %w", err)
	}
	return &data, nil
}

// parseOpenMeteoTime handles the minute-resolution ISO8601 stamps the API
// returns ("2024-05-01T13:00"), with or without seconds.
func parseOpenMeteoTime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04", time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse weather time %q", s)
}

func hourlyPrecip(rawTimes []string, precip []*float64) ([]time.Time, []*float64, error) {
	if len(rawTimes) != len(precip) {
		return nil, nil, fmt.Errorf("open-meteo: %d timestamps vs %d precipitation values", len(rawTimes), len(precip))
	}
	times := make([]time.Time, len(rawTimes))
	for i, s := range rawTimes {
		t, err := parseOpenMeteoTime(s)
		if err != nil {
			return nil, nil, err
		}
		times[i] = t
	}
	return times, precip, nil
}

// trailingSum adds the hourly precipitation in (at-hours, at]. Null when no
// value in the window is present.
func trailingSum(times []time.Time, precip []*float64, at time.Time, hours int) sql.NullFloat64 {
	cutoff := at.Add(-time.Duration(hours) * time.Hour)
	var sum float64
	valid := false
	for i, t := range times {
		if !t.After(cutoff) || t.After(at) {
			continue
		}
		if precip[i] != nil {
			sum += *precip[i]
			valid = true
		}
	}
	return sql.NullFloat64{Float64: sum, Valid: valid}
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullableAt(vs []*float64, i int) sql.NullFloat64 {
	if i >= len(vs) {
		return sql.NullFloat64{}
	}
	return nullable(vs[i])
}
