package regress

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Evaluation holds held-out error metrics for one fitted model.
type Evaluation struct {
	RMSE float64
	MAE  float64
	R2   float64
}

// Evaluate computes RMSE, MAE and R² of predictions against observed
// values. R² follows the coefficient-of-determination convention and can go
// negative for models worse than predicting the mean.
func Evaluate(observed, predicted []float64) Evaluation {
	n := len(observed)
	if n == 0 {
		return Evaluation{RMSE: math.NaN(), MAE: math.NaN(), R2: math.NaN()}
	}

	var se, ae float64
	for i, o := range observed {
		d := o - predicted[i]
		se += d * d
		ae += math.Abs(d)
	}
	return Evaluation{
		RMSE: math.Sqrt(se / float64(n)),
		MAE:  ae / float64(n),
		R2:   stat.RSquaredFrom(predicted, observed, nil),
	}
}
