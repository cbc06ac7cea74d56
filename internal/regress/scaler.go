package regress

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes features to zero mean and unit variance using
// parameters learned from the training split only. The same parameters are
// stored with the model artifact so inference reproduces the exact
// training-time transform.
type Scaler struct {
	Means  []float64
	Scales []float64
}

// FitScaler learns per-column means and standard deviations from X, given
// row-major samples over p features. A zero-variance column gets scale 1 so
// standardizing maps it to a constant 0 instead of dividing by zero.
func FitScaler(x [][]float64, p int) *Scaler {
	s := &Scaler{
		Means:  make([]float64, p),
		Scales: make([]float64, p),
	}
	col := make([]float64, len(x))
	for j := 0; j < p; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if math.IsNaN(std) || std == 0 {
			std = 1
		}
		s.Means[j] = mean
		s.Scales[j] = std
	}
	return s
}

// Transform standardizes rows in place.
func (s *Scaler) Transform(x [][]float64) {
	for _, row := range x {
		for j := range row {
			row[j] = (row[j] - s.Means[j]) / s.Scales[j]
		}
	}
}

// TransformRow standardizes a single row, returning a new slice.
func (s *Scaler) TransformRow(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Means[j]) / s.Scales[j]
	}
	return out
}
