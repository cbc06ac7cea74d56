package features

import (
	"math"
	"sort"
	"strings"
)

// applyCleaning removes burn-in rows and imputes what remains.
//
// Step one drops any row with a null in any lag column — those are the rows
// at a station's series start that lack enough history. It looks only at
// lag columns: a row whose sole gap is a long-horizon target survives.
//
// Step two imputes remaining nulls in every feature column with the
// column's median (or mean), computed over the whole cleaned frame at this
// point, not per station. Target columns are left alone so the "target is
// the true future value or null" invariant holds through cleaning.
func applyCleaning(f *Frame, cfg CleaningConfig) {
	if cfg.dropMissingLags() {
		var lagCols [][]float64
		for _, name := range f.Columns() {
			if strings.Contains(name, "lag_") {
				lagCols = append(lagCols, f.Col(name))
			}
		}
		if len(lagCols) > 0 {
			keep := make([]bool, f.Len())
			for i := range keep {
				keep[i] = true
				for _, col := range lagCols {
					if math.IsNaN(col[i]) {
						keep[i] = false
						break
					}
				}
			}
			f.Filter(keep)
		}
	}

	for _, name := range f.Columns() {
		if IsTargetColumn(name) {
			continue
		}
		col := f.Col(name)
		hasNaN := false
		for _, v := range col {
			if math.IsNaN(v) {
				hasNaN = true
				break
			}
		}
		if !hasNaN {
			continue
		}

		var fill float64
		switch cfg.Strategy {
		case "mean":
			fill = columnMean(col)
		default:
			fill = columnMedian(col)
		}
		if math.IsNaN(fill) {
			continue // column is entirely null, nothing to impute from
		}
		for i, v := range col {
			if math.IsNaN(v) {
				col[i] = fill
			}
		}
	}
}

func columnMean(col []float64) float64 {
	var sum float64
	count := 0
	for _, v := range col {
		if !math.IsNaN(v) {
			sum += v
			count++
		}
	}
	if count == 0 {
		return math.NaN()
	}
	return sum / float64(count)
}

func columnMedian(col []float64) float64 {
	values := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return math.NaN()
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}
