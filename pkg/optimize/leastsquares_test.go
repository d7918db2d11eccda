package optimize

import (
	"errors"
	"math"
	"testing"
)

func TestLeastSquaresLinear(t *testing.T) {
	f := func(x []float64) ([]float64, error) {
		return []float64{x[0] - 3, x[1] - 5}, nil
	}
	res, err := LeastSquares(f, []float64{0, 0}, []float64{0, 0}, []float64{10, 10}, DefaultLSQOptions())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if math.Abs(res.X[0]-3) > 1e-6 || math.Abs(res.X[1]-5) > 1e-6 {
		t.Fatalf("minimizer = %v, want [3 5]", res.X)
	}
	if res.Cost > 1e-12 {
		t.Fatalf("cost = %g, want ~0", res.Cost)
	}
}

func TestLeastSquaresRespectsBounds(t *testing.T) {
	f := func(x []float64) ([]float64, error) {
		return []float64{x[0] - 20}, nil
	}
	res, err := LeastSquares(f, []float64{1}, []float64{0}, []float64{10}, DefaultLSQOptions())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if math.Abs(res.X[0]-10) > 1e-6 {
		t.Fatalf("bounded minimizer = %v, want 10", res.X)
	}
}

// TestLeastSquaresFlatObjective: a zero Jacobian means the start point is
// already the answer; the solver must return it rather than wander.
func TestLeastSquaresFlatObjective(t *testing.T) {
	f := func(x []float64) ([]float64, error) {
		return []float64{-0.25, -0.5}, nil
	}
	res, err := LeastSquares(f, []float64{0, 0}, []float64{0, 0}, []float64{1, 1}, DefaultLSQOptions())
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if res.X[0] != 0 || res.X[1] != 0 {
		t.Fatalf("flat objective moved the iterate: %v", res.X)
	}
	if res.Residuals[0] != -0.25 || res.Residuals[1] != -0.5 {
		t.Fatalf("residuals = %v", res.Residuals)
	}
}

func TestLeastSquaresNonlinear(t *testing.T) {
	// Rosenbrock residual form; minimum at (1, 1).
	f := func(x []float64) ([]float64, error) {
		return []float64{10 * (x[1] - x[0]*x[0]), 1 - x[0]}, nil
	}
	res, err := LeastSquares(f, []float64{-1.2, 1}, []float64{-5, -5}, []float64{5, 5}, LSQOptions{
		GTol: 1e-12, XTol: 1e-12, MaxIterations: 500,
	})
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if math.Abs(res.X[0]-1) > 1e-4 || math.Abs(res.X[1]-1) > 1e-4 {
		t.Fatalf("minimizer = %v, want [1 1]", res.X)
	}
}

func TestLeastSquaresObjectiveError(t *testing.T) {
	boom := errors.New("boom")
	f := func(x []float64) ([]float64, error) { return nil, boom }
	if _, err := LeastSquares(f, []float64{0}, []float64{0}, []float64{1}, DefaultLSQOptions()); !errors.Is(err, ErrSolverFailure) {
		t.Fatalf("expected ErrSolverFailure, got %v", err)
	}
}
