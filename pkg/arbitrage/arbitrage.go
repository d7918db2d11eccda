// Package arbitrage finds the trades that drive a pool's marginal prices
// toward external market prices. One pair is solved with a Brent root
// finder; the joint problem across all pairs is a bounded least squares
// over the per-pair price errors, evaluated by actually stepping the pool
// and rolling it back.
//
// Trades compose non-commutatively, so every objective evaluation must
// restore the pool exactly, including the base pool's LP supply.
package arbitrage

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/optimize"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/pool"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// MinTrade is the smallest trade the solvers consider, in virtual units.
const MinTrade = 1e12

// Trade is a directed swap of Dx units of coin I into coin J.
type Trade struct {
	I  int
	J  int
	Dx *big.Int
}

// Done records an executed trade with its realized output.
type Done struct {
	I  int
	J  int
	Dx *big.Int
	Dy *big.Int
}

// Error measures the price gap that remains after trading dx of coin i
// into coin j: pool marginal price (with fee) minus the external target.
// Positive means the pool still overprices j in units of i. The trade is
// rolled back before returning.
func Error(p *pool.Pool, dx float64, i, j int, target float64) (float64, error) {
	snap := p.Snapshot()
	defer p.Restore(snap)

	if _, _, err := p.Exchange(i, j, primitives.FloatBig(dx)); err != nil {
		return 0, err
	}
	price, err := p.DyDxFee(i, j)
	if err != nil {
		return 0, err
	}
	return price - target, nil
}

// Optimal sizes the single trade i -> j that brings the pool's marginal
// price down to the external price. The bracket runs from MinTrade up to
// the size that would leave 1% of the counter-coin.
func Optimal(p *pool.Pool, i, j int, price float64) (Trade, float64, error) {
	hi, err := bracketHigh(p, i, j)
	if err != nil {
		return Trade{}, 0, err
	}

	root, err := optimize.Brent(func(dx float64) (float64, error) {
		return Error(p, dx, i, j, price)
	}, MinTrade, hi)
	if err != nil {
		return Trade{}, 0, err
	}

	residual, err := Error(p, root, i, j, price)
	if err != nil {
		return Trade{}, 0, err
	}
	return Trade{I: i, J: j, Dx: primitives.FloatBig(root)}, residual, nil
}

// bracketHigh returns the dx that would leave only 1% of the counter-coin,
// computed on the base pool when both legs live there and on the top level
// otherwise.
func bracketHigh(p *pool.Pool, i, j int) (float64, error) {
	if !p.IsMeta() {
		xp := p.XP()
		edge := primitives.FloatBig(primitives.BigFloat64(xp[j]) * 0.01)
		y, err := p.Y(j, i, edge, nil)
		if err != nil {
			return 0, err
		}
		return primitives.BigFloat64(new(big.Int).Sub(y, xp[i])), nil
	}

	baseI := i - p.MaxCoin()
	baseJ := j - p.MaxCoin()
	if baseI >= 0 && baseJ >= 0 {
		bp := p.Base()
		xp := bp.XP()
		edge := primitives.FloatBig(primitives.BigFloat64(xp[baseJ]) * 0.01)
		y, err := bp.Y(baseJ, baseI, edge, nil)
		if err != nil {
			return 0, err
		}
		return primitives.BigFloat64(new(big.Int).Sub(y, xp[baseI])), nil
	}

	rates, err := p.CurrentRates()
	if err != nil {
		return 0, err
	}
	xp := p.XPWith(rates)

	metaI, metaJ := p.MaxCoin(), p.MaxCoin()
	if baseI < 0 {
		metaI = i
	}
	if baseJ < 0 {
		metaJ = j
	}
	edge := primitives.FloatBig(primitives.BigFloat64(xp[metaJ]) * 0.01)
	y, err := p.Y(metaJ, metaI, edge, xp)
	if err != nil {
		return 0, err
	}
	return primitives.BigFloat64(new(big.Int).Sub(y, p.XP()[metaI])), nil
}

// OptimalAll jointly sizes trades across every coin pair, subject to
// per-pair caps (limits, in natural units; scaled by 10^18 internally).
//
// Per pair, the profitable direction is picked by probing a MinTrade-sized
// trade both ways; the single-pair optimum seeds the joint solve, capped
// at the pair's limit. Seeds are ordered largest first: the joint
// objective sees the combined effect of the ordered sequence, and the
// composition is path-dependent. If the joint solve fails the fallback is
// a zero-trade vector with the untraded residuals recorded.
func OptimalAll(p *pool.Pool, prices, limits []float64) ([]Trade, []float64, error) {
	combos := pool.Pairs(p.NTotal())
	if len(prices) != len(combos) || len(limits) != len(combos) {
		return nil, nil, fmt.Errorf("%w: %d pairs, %d prices, %d limits",
			optimize.ErrSolverFailure, len(combos), len(prices), len(limits))
	}

	n := len(combos)
	x0 := make([]float64, n)
	lo := make([]float64, n)
	hi := make([]float64, n)
	coins := make([][2]int, n)
	targets := make([]float64, n)

	for k, pair := range combos {
		i, j := pair[0], pair[1]
		coins[k] = pair
		targets[k] = prices[k]
		hi[k] = limits[k]*1e18 + 1

		fwd, errF := Error(p, MinTrade, i, j, prices[k])
		switch {
		case errF == nil && fwd > 0:
			x0[k] = seedTrade(p, i, j, prices[k], limits[k])
		default:
			rev, errR := Error(p, MinTrade, j, i, 1/prices[k])
			if errR == nil && rev > 0 {
				coins[k] = [2]int{j, i}
				targets[k] = 1 / prices[k]
				x0[k] = seedTrade(p, j, i, 1/prices[k], limits[k])
			}
		}
	}

	// Largest expected trades first; the sequence the objective applies
	// them in is part of the answer.
	order := make([]int, n)
	for k := range order {
		order[k] = k
	}
	sort.SliceStable(order, func(a, b int) bool { return x0[order[a]] > x0[order[b]] })
	x0 = permuteF(x0, order)
	lo = permuteF(lo, order)
	hi = permuteF(hi, order)
	coins = permuteP(coins, order)
	targets = permuteF(targets, order)

	objective := func(dxs []float64) ([]float64, error) {
		snap := p.Snapshot()
		defer p.Restore(snap)

		for k, pair := range coins {
			// NaN slots read as zero; only truncated-positive sizes trade.
			dx := primitives.FloatBig(dxs[k])
			if dx.Sign() <= 0 {
				continue
			}
			if _, _, err := p.Exchange(pair[0], pair[1], dx); err != nil {
				return nil, err
			}
		}
		res := make([]float64, len(coins))
		for k, pair := range coins {
			price, err := p.DyDxFee(pair[0], pair[1])
			if err != nil {
				return nil, err
			}
			res[k] = price - targets[k]
		}
		return res, nil
	}

	result, err := optimize.LeastSquares(objective, x0, lo, hi, optimize.DefaultLSQOptions())
	if err != nil {
		// The documented fallback: no trades, residuals of the untouched
		// pool. Callers rely on getting a result here.
		residuals, rerr := objective(make([]float64, n))
		if rerr != nil {
			return nil, nil, rerr
		}
		return nil, residuals, nil
	}

	trades := make([]Trade, 0, n)
	for k, dx := range result.X {
		if math.IsNaN(dx) {
			continue
		}
		v := primitives.FloatBig(dx)
		if v.Sign() > 0 {
			trades = append(trades, Trade{I: coins[k][0], J: coins[k][1], Dx: v})
		}
	}
	return trades, result.Residuals, nil
}

// seedTrade seeds the joint solve with the single-pair optimum, capped at
// the pair's volume limit. Solver failures seed zero.
func seedTrade(p *pool.Pool, i, j int, price, limit float64) float64 {
	trade, _, err := Optimal(p, i, j, price)
	if err != nil {
		return 0
	}
	return math.Min(primitives.BigFloat64(trade.Dx), limit*1e18)
}

// Execute applies trades in order. Trades that hit insufficient liquidity
// are dropped; deeper faults (non-convergence) abort the step. The second
// return is the realized volume in 10^18 units; for metapools only trades
// touching the meta asset are counted.
func Execute(p *pool.Pool, trades []Trade) ([]Done, *big.Int, error) {
	var rates []*big.Int
	if p.IsMeta() {
		outer := p.Rates()
		rates = append(rates, outer[:p.MaxCoin()]...)
		rates = append(rates, p.Base().Rates()...)
	} else {
		rates = p.Rates()
	}

	done := make([]Done, 0, len(trades))
	volume := new(big.Int)
	for _, t := range trades {
		dy, _, err := p.Exchange(t.I, t.J, t.Dx)
		if err != nil {
			if errors.Is(err, pool.ErrInsufficientLiquidity) {
				continue
			}
			return done, volume, err
		}
		done = append(done, Done{I: t.I, J: t.J, Dx: t.Dx, Dy: dy})

		if !p.IsMeta() || t.I < p.MaxCoin() || t.J < p.MaxCoin() {
			v := new(big.Int).Mul(t.Dx, rates[t.I])
			v.Quo(v, primitives.Pow10(18))
			volume.Add(volume, v)
		}
	}
	return done, volume, nil
}

// Depth estimates, per coin pair and direction, the share of pool holdings
// needed to move the marginal price by size (default caller value 0.001).
// Metapools are measured on their flattened view against the base LP.
func Depth(p *pool.Pool, size float64) ([]float64, error) {
	work, err := p.FlattenedView()
	if err != nil {
		return nil, err
	}

	sumXP := primitives.BigFloat64(primitives.SumBigs(work.XP()))
	combos := pool.Pairs(work.N())
	out := make([]float64, 0, 2*len(combos))

	for _, pair := range combos {
		for _, dir := range [2][2]int{pair, {pair[1], pair[0]}} {
			i, j := dir[0], dir[1]
			price, err := work.DyDxFee(i, j)
			if err != nil {
				return nil, err
			}
			trade, _, err := Optimal(work, i, j, price*(1-size))
			if err != nil {
				// Price cannot move that far within the bracket; no
				// measurable depth in this direction.
				out = append(out, 0)
				continue
			}
			out = append(out, primitives.BigFloat64(trade.Dx)/sumXP)
		}
	}
	return out, nil
}

func permuteF(v []float64, order []int) []float64 {
	out := make([]float64, len(v))
	for k, idx := range order {
		out[k] = v[idx]
	}
	return out
}

func permuteP(v [][2]int, order []int) [][2]int {
	out := make([][2]int, len(v))
	for k, idx := range order {
		out[k] = v[idx]
	}
	return out
}
