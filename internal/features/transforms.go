package features

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Column names shared between the merge collaborator and the transforms.
const (
	ColWaterLevel    = "water_level"
	ColTemperature   = "temperature"
	ColHumidity      = "humidity"
	ColPressure      = "pressure"
	ColWindSpeed     = "wind_speed"
	ColWindDirection = "wind_direction"
	ColCloudCover    = "cloud_cover"
	ColRainfall1h    = "rainfall_1h"
)

// applyTimeFeatures adds calendar and cyclical-encoding columns from the
// measurement timestamp (UTC). day_of_week is Monday=0 so is_weekend is a
// simple >= 5 check.
func applyTimeFeatures(f *Frame, cfg TimeConfig) {
	n := f.Len()
	hour := make([]float64, n)
	dayOfWeek := make([]float64, n)
	dayOfMonth := make([]float64, n)
	month := make([]float64, n)
	isWeekend := make([]float64, n)
	hourSin := make([]float64, n)
	hourCos := make([]float64, n)
	monthSin := make([]float64, n)
	monthCos := make([]float64, n)

	for i, t := range f.Times {
		t = t.UTC()
		h := float64(t.Hour())
		dow := float64((int(t.Weekday()) + 6) % 7)
		m := float64(int(t.Month()))

		hour[i] = h
		dayOfWeek[i] = dow
		dayOfMonth[i] = float64(t.Day())
		month[i] = m
		if dow >= 5 {
			isWeekend[i] = 1
		}
		hourSin[i] = math.Sin(2 * math.Pi * h / float64(cfg.HourCycle))
		hourCos[i] = math.Cos(2 * math.Pi * h / float64(cfg.HourCycle))
		monthSin[i] = math.Sin(2 * math.Pi * (m - 1) / float64(cfg.MonthCycle))
		monthCos[i] = math.Cos(2 * math.Pi * (m - 1) / float64(cfg.MonthCycle))
	}

	f.SetCol("hour", hour)
	f.SetCol("day_of_week", dayOfWeek)
	f.SetCol("day_of_month", dayOfMonth)
	f.SetCol("month", month)
	f.SetCol("is_weekend", isWeekend)
	f.SetCol("hour_sin", hourSin)
	f.SetCol("hour_cos", hourCos)
	f.SetCol("month_sin", monthSin)
	f.SetCol("month_cos", monthCos)
}

// applyLagFeatures adds water_level_lag_<h>h columns, shifting each
// station's own series back by round(hours * periodsPerHour) rows. The
// first shift rows of each station group stay NaN.
func applyLagFeatures(f *Frame, cfg LagConfig) {
	water := f.Col(ColWaterLevel)

	cols := make(map[int][]float64, len(cfg.LagHours))
	for _, lag := range cfg.LagHours {
		cols[lag] = f.NewNaNCol()
	}

	for _, group := range f.stationGroups() {
		pph := periodsPerHour(f.groupTimes(group))
		for _, lag := range cfg.LagHours {
			shift := int(math.Round(float64(lag) * pph))
			col := cols[lag]
			for gi, row := range group {
				if gi-shift >= 0 {
					col[row] = water[group[gi-shift]]
				}
			}
		}
	}

	for _, lag := range cfg.LagHours {
		f.SetCol(fmt.Sprintf("water_level_lag_%dh", lag), cols[lag])
	}
}

// applyRollingStatistics adds trailing rolling mean/std columns over
// interval-adjusted windows. With min_periods=1 the partial windows at a
// series start still produce values, so rolling columns never cause row
// loss during cleaning. A single-sample std is 0, not null.
func applyRollingStatistics(f *Frame, cfg RollingConfig) {
	water := f.Col(ColWaterLevel)

	wantMean := false
	wantStd := false
	for _, s := range cfg.Statistics {
		switch s {
		case "mean":
			wantMean = true
		case "std":
			wantStd = true
		}
	}

	meanCols := make(map[int][]float64)
	stdCols := make(map[int][]float64)
	for _, w := range cfg.WindowHours {
		if wantMean {
			meanCols[w] = f.NewNaNCol()
		}
		if wantStd {
			stdCols[w] = f.NewNaNCol()
		}
	}

	for _, group := range f.stationGroups() {
		pph := periodsPerHour(f.groupTimes(group))
		for _, w := range cfg.WindowHours {
			window := int(math.Round(float64(w) * pph))
			if window < 1 {
				window = 1
			}
			for gi, row := range group {
				lo := gi - window + 1
				if lo < 0 {
					lo = 0
				}
				mean, std, count := windowStats(water, group[lo:gi+1])
				if count < cfg.MinPeriods {
					continue
				}
				if wantMean {
					meanCols[w][row] = mean
				}
				if wantStd {
					stdCols[w][row] = std
				}
			}
		}
	}

	for _, w := range cfg.WindowHours {
		if wantMean {
			f.SetCol(fmt.Sprintf("water_level_rolling_mean_%dh", w), meanCols[w])
		}
		if wantStd {
			f.SetCol(fmt.Sprintf("water_level_rolling_std_%dh", w), stdCols[w])
		}
	}
}

// windowStats aggregates the non-NaN values at the given row indices,
// returning the mean, the sample standard deviation (0 for a single
// sample) and the valid-value count.
func windowStats(col []float64, rows []int) (mean, std float64, count int) {
	var sum float64
	for _, r := range rows {
		v := col[r]
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return math.NaN(), math.NaN(), 0
	}
	mean = sum / float64(count)
	if count == 1 {
		return mean, 0, count
	}
	var ss float64
	for _, r := range rows {
		v := col[r]
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		ss += d * d
	}
	std = math.Sqrt(ss / float64(count-1))
	return mean, std, count
}

// applyRateOfChange adds water_level_change_<h>h columns: the difference
// between the current value and the value round(hours * periodsPerHour)
// rows earlier within the station group.
func applyRateOfChange(f *Frame, cfg RateConfig) {
	water := f.Col(ColWaterLevel)

	cols := make(map[int][]float64, len(cfg.PeriodHours))
	for _, p := range cfg.PeriodHours {
		cols[p] = f.NewNaNCol()
	}

	for _, group := range f.stationGroups() {
		pph := periodsPerHour(f.groupTimes(group))
		for _, p := range cfg.PeriodHours {
			shift := int(math.Round(float64(p) * pph))
			col := cols[p]
			for gi, row := range group {
				if gi-shift >= 0 {
					col[row] = water[row] - water[group[gi-shift]]
				}
			}
		}
	}

	for _, p := range cfg.PeriodHours {
		f.SetCol(fmt.Sprintf("water_level_change_%dh", p), cols[p])
	}
}

// applyRainfallFeatures adds rainfall_sum_<w>h trailing sums over
// rainfall_1h, grouped per station. Windows are raw row counts (the source
// column is already hourly-cumulative), not interval-adjusted.
func applyRainfallFeatures(f *Frame, cfg RainfallConfig) {
	rain := f.Col(ColRainfall1h)

	for _, w := range cfg.Windows {
		col := f.NewNaNCol()
		for _, group := range f.stationGroups() {
			for gi, row := range group {
				lo := gi - w + 1
				if lo < 0 {
					lo = 0
				}
				var sum float64
				count := 0
				for _, r := range group[lo : gi+1] {
					v := rain[r]
					if math.IsNaN(v) {
						continue
					}
					sum += v
					count++
				}
				if count >= 1 {
					col[row] = sum
				}
			}
		}
		f.SetCol(fmt.Sprintf("rainfall_sum_%dh", w), col)
	}
}

// applyWeatherInteractions adds temp_humidity_interaction and the 3-row
// pressure difference. The pressure diff is row-count based like the
// rainfall windows; see RainfallConfig for why the convention stays.
func applyWeatherInteractions(f *Frame, _ InteractionConfig) {
	if f.Has(ColTemperature) && f.Has(ColHumidity) {
		temp := f.Col(ColTemperature)
		hum := f.Col(ColHumidity)
		col := make([]float64, f.Len())
		for i := range col {
			col[i] = temp[i] * hum[i] / 100
		}
		f.SetCol("temp_humidity_interaction", col)
	}

	if f.Has(ColPressure) {
		pressure := f.Col(ColPressure)
		col := f.NewNaNCol()
		for _, group := range f.stationGroups() {
			for gi, row := range group {
				if gi >= 3 {
					col[row] = pressure[row] - pressure[group[gi-3]]
				}
			}
		}
		f.SetCol("pressure_diff_3h", col)
	}
}

// applyStationStatistics adds the per-station global mean/std of
// water_level over the available window, plus the deviation of each
// reading from its station's mean. These are whole-window statistics, not
// rolling ones; they encode station identity for the unified model.
func applyStationStatistics(f *Frame, _ StationStatsConfig) {
	water := f.Col(ColWaterLevel)

	meanCol := f.NewNaNCol()
	stdCol := f.NewNaNCol()
	devCol := f.NewNaNCol()

	for _, group := range f.stationGroups() {
		values := make([]float64, 0, len(group))
		for _, row := range group {
			if !math.IsNaN(water[row]) {
				values = append(values, water[row])
			}
		}
		if len(values) == 0 {
			continue
		}
		mean, std := stat.MeanStdDev(values, nil)
		if len(values) == 1 {
			std = math.NaN()
		}
		for _, row := range group {
			meanCol[row] = mean
			stdCol[row] = std
			if !math.IsNaN(water[row]) {
				devCol[row] = water[row] - mean
			}
		}
	}

	f.SetCol("station_water_mean", meanCol)
	f.SetCol("station_water_std", stdCol)
	f.SetCol("water_level_deviation", devCol)
}
