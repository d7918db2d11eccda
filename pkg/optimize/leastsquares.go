package optimize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ResidualFunc evaluates the residual vector at x. An error aborts the
// solve and surfaces as ErrSolverFailure.
type ResidualFunc func(x []float64) ([]float64, error)

// LSQOptions tune the bounded least-squares solve.
type LSQOptions struct {
	// GTol terminates when the infinity norm of the gradient J'r drops
	// below it.
	GTol float64
	// XTol terminates when the step becomes smaller than
	// XTol·(XTol + ‖x‖).
	XTol float64
	// MaxIterations bounds the outer Levenberg-Marquardt loop.
	MaxIterations int
}

// DefaultLSQOptions mirror the tolerances the arbitrage layer requires.
func DefaultLSQOptions() LSQOptions {
	return LSQOptions{GTol: 1e-15, XTol: 1e-15, MaxIterations: 100}
}

// LSQResult is the outcome of a LeastSquares solve.
type LSQResult struct {
	// X is the (clamped) minimizer found.
	X []float64
	// Residuals holds f(X).
	Residuals []float64
	// Cost is 0.5·‖f(X)‖².
	Cost float64
	// Iterations counts accepted outer steps.
	Iterations int
}

// LeastSquares minimizes 0.5·‖f(x)‖² over the box lo ≤ x ≤ hi with a
// projected Levenberg-Marquardt iteration: forward-difference Jacobian,
// damped normal equations (solved via gonum's QR), steps clamped onto the
// box. The arbitrage layer depends on the gtol/xtol semantics and on
// getting a best-effort result back even when progress stalls.
func LeastSquares(f ResidualFunc, x0, lo, hi []float64, opts LSQOptions) (*LSQResult, error) {
	n := len(x0)
	if len(lo) != n || len(hi) != n {
		return nil, fmt.Errorf("%w: bounds dimension mismatch", ErrSolverFailure)
	}
	if opts.MaxIterations <= 0 {
		opts = DefaultLSQOptions()
	}

	x := make([]float64, n)
	copy(x, x0)
	clampInto(x, lo, hi)

	r, err := f(x)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSolverFailure, err)
	}
	m := len(r)
	cost := 0.5 * floats.Dot(r, r)

	lambda := 1e-3
	result := &LSQResult{X: x, Residuals: r, Cost: cost}

	for iter := 0; iter < opts.MaxIterations; iter++ {
		jac, err := jacobian(f, x, r, lo, hi)
		if err != nil {
			return nil, err
		}

		// Gradient g = J'r; a flat objective is already optimal.
		g := mat.NewVecDense(n, nil)
		g.MulVec(jac.T(), mat.NewVecDense(m, r))
		if normInf(g.RawVector().Data) < opts.GTol {
			return result, nil
		}

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)

		accepted := false
		for try := 0; try < 16; try++ {
			// (J'J + λ·(diag(J'J)+I)) p = −g
			a := mat.DenseCopyOf(&jtj)
			for k := 0; k < n; k++ {
				a.Set(k, k, a.At(k, k)+lambda*(jtj.At(k, k)+1))
			}
			negG := mat.NewVecDense(n, nil)
			negG.ScaleVec(-1, g)

			step := mat.NewVecDense(n, nil)
			if err := step.SolveVec(a, negG); err != nil {
				lambda *= 10
				continue
			}

			xNew := make([]float64, n)
			floats.AddTo(xNew, x, step.RawVector().Data)
			clampInto(xNew, lo, hi)

			moved := make([]float64, n)
			floats.SubTo(moved, xNew, x)
			if floats.Norm(moved, 2) <= opts.XTol*(opts.XTol+floats.Norm(x, 2)) {
				return result, nil
			}

			rNew, err := f(xNew)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", ErrSolverFailure, err)
			}
			costNew := 0.5 * floats.Dot(rNew, rNew)
			if costNew < cost {
				x, r, cost = xNew, rNew, costNew
				result = &LSQResult{X: x, Residuals: r, Cost: cost, Iterations: iter + 1}
				lambda = math.Max(lambda/3, 1e-12)
				accepted = true
				break
			}
			lambda *= 10
		}
		if !accepted {
			// Damping exhausted without a downhill step; the current
			// iterate is the best available.
			return result, nil
		}
	}
	return result, nil
}

// jacobian builds the m×n forward-difference Jacobian, stepping backward
// when a forward step would leave the box.
func jacobian(f ResidualFunc, x, r, lo, hi []float64) (*mat.Dense, error) {
	n := len(x)
	m := len(r)
	jac := mat.NewDense(m, n, nil)

	xs := make([]float64, n)
	for k := 0; k < n; k++ {
		copy(xs, x)
		h := math.Sqrt(machEps) * math.Max(math.Abs(x[k]), 1)
		xk := x[k] + h
		if xk > hi[k] {
			xk = x[k] - h
		}
		if xk < lo[k] {
			xk = lo[k]
		}
		delta := xk - x[k]
		if delta == 0 {
			// Zero-width box slot; leave the column flat.
			continue
		}
		xs[k] = xk
		rk, err := f(xs)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrSolverFailure, err)
		}
		for row := 0; row < m; row++ {
			jac.Set(row, k, (rk[row]-r[row])/delta)
		}
	}
	return jac, nil
}

const machEps = 2.220446049250313e-16

func clampInto(x, lo, hi []float64) {
	for i := range x {
		if x[i] < lo[i] {
			x[i] = lo[i]
		}
		if x[i] > hi[i] {
			x[i] = hi[i]
		}
	}
}

func normInf(v []float64) float64 {
	out := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > out {
			out = a
		}
	}
	return out
}
