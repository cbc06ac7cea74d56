package regress

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Model families understood by the trainer and the registry.
const (
	FamilyLinear = "linear"
	FamilyRidge  = "ridge"
)

// DefaultRidgeAlpha is the L2 penalty used when training ridge models.
const DefaultRidgeAlpha = 1.0

// LinearModel is a fitted linear regression over standardized features.
type LinearModel struct {
	Family       string
	Coefficients []float64
	Intercept    float64
}

// Predict evaluates the model on one standardized feature vector.
func (m *LinearModel) Predict(x []float64) float64 {
	return floats.Dot(m.Coefficients, x) + m.Intercept
}

// PredictAll evaluates the model over row-major samples.
func (m *LinearModel) PredictAll(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = m.Predict(row)
	}
	return out
}

// FitLinear fits ordinary least squares via QR on the intercept-augmented
// design matrix. x is row-major with p features per row; rows must already
// be standardized.
func FitLinear(x [][]float64, y []float64, p int) (*LinearModel, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("linear fit: %d samples vs %d targets", n, len(y))
	}
	if n < p+1 {
		return nil, fmt.Errorf("linear fit: %d samples for %d features", n, p)
	}

	a := mat.NewDense(n, p+1, nil)
	for i, row := range x {
		a.Set(i, 0, 1)
		for j, v := range row {
			a.Set(i, j+1, v)
		}
	}

	var w mat.VecDense
	if err := w.SolveVec(a, mat.NewVecDense(n, y)); err != nil {
		return nil, fmt.Errorf("linear fit: %w", err)
	}

	coefs := make([]float64, p)
	for j := 0; j < p; j++ {
		coefs[j] = w.AtVec(j + 1)
	}
	return &LinearModel{
		Family:       FamilyLinear,
		Coefficients: coefs,
		Intercept:    w.AtVec(0),
	}, nil
}

// FitRidge fits an L2-penalized regression by solving the centered normal
// equations (XᵀX + αI)w = Xᵀy. Centering keeps the intercept unpenalized,
// matching the usual ridge convention.
func FitRidge(x [][]float64, y []float64, p int, alpha float64) (*LinearModel, error) {
	n := len(x)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("ridge fit: %d samples vs %d targets", n, len(y))
	}

	xMeans := make([]float64, p)
	for _, row := range x {
		floats.Add(xMeans, row)
	}
	floats.Scale(1/float64(n), xMeans)
	yMean := floats.Sum(y) / float64(n)

	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range x {
		for j, v := range row {
			xc.Set(i, j, v-xMeans[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	// Gram matrix plus the ridge penalty on the diagonal.
	var gram mat.Dense
	gram.Mul(xc.T(), xc)
	for j := 0; j < p; j++ {
		gram.Set(j, j, gram.At(j, j)+alpha)
	}

	var xty mat.VecDense
	xty.MulVec(xc.T(), yc)

	var w mat.VecDense
	if err := w.SolveVec(&gram, &xty); err != nil {
		return nil, fmt.Errorf("ridge fit: %w", err)
	}

	coefs := make([]float64, p)
	intercept := yMean
	for j := 0; j < p; j++ {
		coefs[j] = w.AtVec(j)
		intercept -= coefs[j] * xMeans[j]
	}
	return &LinearModel{
		Family:       FamilyRidge,
		Coefficients: coefs,
		Intercept:    intercept,
	}, nil
}
