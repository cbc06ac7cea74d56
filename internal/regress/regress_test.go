package regress

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) < eps
}

// noisyPlane generates y = 2*x1 - 3*x2 + 5 exactly, over a deterministic
// grid of inputs.
func noisyPlane(n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x1 := math.Sin(float64(i)) * 3
		x2 := math.Cos(float64(i)*0.7) * 2
		x[i] = []float64{x1, x2}
		y[i] = 2*x1 - 3*x2 + 5
	}
	return x, y
}

func TestFitLinearRecoversCoefficients(t *testing.T) {
	x, y := noisyPlane(40)

	m, err := FitLinear(x, y, 2)
	if err != nil {
		t.Fatalf("FitLinear: %v", err)
	}
	if m.Family != FamilyLinear {
		t.Errorf("family = %q, want %q", m.Family, FamilyLinear)
	}
	if !almostEqual(m.Coefficients[0], 2, 1e-8) || !almostEqual(m.Coefficients[1], -3, 1e-8) {
		t.Errorf("coefficients = %v, want [2 -3]", m.Coefficients)
	}
	if !almostEqual(m.Intercept, 5, 1e-8) {
		t.Errorf("intercept = %v, want 5", m.Intercept)
	}

	if got := m.Predict([]float64{1, 1}); !almostEqual(got, 4, 1e-8) {
		t.Errorf("Predict(1,1) = %v, want 4", got)
	}
}

func TestFitLinearRejectsUnderdetermined(t *testing.T) {
	x := [][]float64{{1, 2}, {3, 4}}
	y := []float64{1, 2}
	if _, err := FitLinear(x, y, 2); err == nil {
		t.Fatal("expected error with fewer samples than parameters")
	}
	if _, err := FitLinear(nil, nil, 2); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestFitRidgeShrinksTowardOLS(t *testing.T) {
	x, y := noisyPlane(40)

	// Tiny alpha: ridge should land very close to the exact solution.
	small, err := FitRidge(x, y, 2, 1e-9)
	if err != nil {
		t.Fatalf("FitRidge: %v", err)
	}
	if small.Family != FamilyRidge {
		t.Errorf("family = %q, want %q", small.Family, FamilyRidge)
	}
	if !almostEqual(small.Coefficients[0], 2, 1e-5) || !almostEqual(small.Coefficients[1], -3, 1e-5) {
		t.Errorf("small-alpha coefficients = %v, want ~[2 -3]", small.Coefficients)
	}
	if !almostEqual(small.Intercept, 5, 1e-5) {
		t.Errorf("small-alpha intercept = %v, want ~5", small.Intercept)
	}

	// Large alpha shrinks coefficients toward zero but leaves the
	// intercept tracking the target mean.
	big, err := FitRidge(x, y, 2, 1e6)
	if err != nil {
		t.Fatalf("FitRidge: %v", err)
	}
	if math.Abs(big.Coefficients[0]) >= math.Abs(small.Coefficients[0]) ||
		math.Abs(big.Coefficients[1]) >= math.Abs(small.Coefficients[1]) {
		t.Errorf("large alpha did not shrink: %v vs %v", big.Coefficients, small.Coefficients)
	}
}

func TestFitRidgeHandlesCollinearFeatures(t *testing.T) {
	// Duplicate columns make OLS singular; ridge must still solve.
	x := make([][]float64, 20)
	y := make([]float64, 20)
	for i := range x {
		v := float64(i)
		x[i] = []float64{v, v}
		y[i] = 3 * v
	}

	m, err := FitRidge(x, y, 2, DefaultRidgeAlpha)
	if err != nil {
		t.Fatalf("FitRidge on collinear input: %v", err)
	}
	// The weight splits across the identical columns.
	if got := m.Coefficients[0] + m.Coefficients[1]; !almostEqual(got, 3, 0.05) {
		t.Errorf("combined coefficient = %v, want ~3", got)
	}
}

func TestFitScaler(t *testing.T) {
	x := [][]float64{
		{10, 5},
		{20, 5},
		{30, 5},
	}
	s := FitScaler(x, 2)

	if s.Means[0] != 20 {
		t.Errorf("mean[0] = %v, want 20", s.Means[0])
	}
	if s.Scales[0] != 10 {
		t.Errorf("scale[0] = %v, want 10 (sample std)", s.Scales[0])
	}
	// Constant column: scale falls back to 1, values standardize to 0.
	if s.Scales[1] != 1 {
		t.Errorf("scale[1] = %v, want 1 for zero variance", s.Scales[1])
	}

	row := s.TransformRow([]float64{30, 5})
	if row[0] != 1 || row[1] != 0 {
		t.Errorf("TransformRow = %v, want [1 0]", row)
	}

	s.Transform(x)
	if x[0][0] != -1 || x[1][0] != 0 || x[2][0] != 1 {
		t.Errorf("Transform first column = [%v %v %v], want [-1 0 1]",
			x[0][0], x[1][0], x[2][0])
	}
}

func TestEvaluate(t *testing.T) {
	observed := []float64{1, 2, 3, 4}

	perfect := Evaluate(observed, []float64{1, 2, 3, 4})
	if perfect.RMSE != 0 || perfect.MAE != 0 {
		t.Errorf("perfect fit errors = %+v, want zero", perfect)
	}
	if !almostEqual(perfect.R2, 1, 1e-12) {
		t.Errorf("perfect fit R2 = %v, want 1", perfect.R2)
	}

	off := Evaluate(observed, []float64{2, 3, 4, 5})
	if !almostEqual(off.RMSE, 1, 1e-12) || !almostEqual(off.MAE, 1, 1e-12) {
		t.Errorf("constant-offset errors = %+v, want RMSE=MAE=1", off)
	}
	if off.R2 >= 1 {
		t.Errorf("offset R2 = %v, want < 1", off.R2)
	}

	empty := Evaluate(nil, nil)
	if !math.IsNaN(empty.RMSE) || !math.IsNaN(empty.R2) {
		t.Errorf("empty evaluation = %+v, want NaNs", empty)
	}
}
