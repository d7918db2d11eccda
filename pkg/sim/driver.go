// Package sim drives a pool forward through a historical price/volume
// series, one arbitrage round per timestep, and aggregates the recorded
// series into grid-level metrics.
//
// A single run is strictly synchronous: the pool mutates in place and the
// solvers rely on exact snapshot/restore. Parallelism only exists across
// grid points (see grid.go), where every worker owns a private clone.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/arbitrage"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/marketdata"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/pool"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// DefaultDepthSize is the relative price move the depth metric probes.
const DefaultDepthSize = 0.001

// Config tunes a Driver.
type Config struct {
	// VolMult caps per-pair trade sizes: limit = volume·VolMult. Nil
	// leaves volumes unscaled.
	VolMult []float64

	// DepthSize overrides DefaultDepthSize when positive.
	DepthSize float64

	// Log receives per-run progress and per-step faults.
	Log zerolog.Logger
}

// Driver executes one simulation run.
type Driver struct {
	cfg Config
}

// NewDriver builds a driver from cfg.
func NewDriver(cfg Config) *Driver {
	if cfg.DepthSize <= 0 {
		cfg.DepthSize = DefaultDepthSize
	}
	return &Driver{cfg: cfg}
}

// RunSeries holds the per-step observables of one run. Slices are indexed
// by timestep; a step whose math faulted carries NaN in the float series.
type RunSeries struct {
	Index []primitives.Time

	// PriceErr is the summed absolute price error across pairs after the
	// step's trades.
	PriceErr []float64

	// Balance is 1 at perfect balance, 0 with all holdings in one coin.
	Balance []float64

	// Value is the invariant D in natural units (redemption rate frozen
	// to its initial value so the unit stays stable).
	Value []float64

	// Depth is the mean 0.1% price depth across pairs.
	Depth []float64

	// Volume is the realized arbitrage volume of the step.
	Volume []float64

	// Holdings and Rates snapshot raw balances and live rates per step.
	Holdings [][]*big.Int
	Rates    [][]*big.Int

	// Pool is the final pool state.
	Pool *pool.Pool
}

// Run steps the pool through every frame. Single-step faults are recorded
// as NaN and the run continues; only context cancellation or malformed
// inputs abort.
func (d *Driver) Run(ctx context.Context, p *pool.Pool, frames *marketdata.Frames) (*RunSeries, error) {
	if frames.Len() == 0 {
		return nil, fmt.Errorf("%w: empty frame series", marketdata.ErrConfig)
	}
	nPairs := len(frames.Pairs)
	volMult := d.cfg.VolMult
	if volMult == nil {
		volMult = make([]float64, nPairs)
		for k := range volMult {
			volMult[k] = 1
		}
	}
	if len(volMult) != nPairs {
		return nil, fmt.Errorf("%w: %d volume multipliers for %d pairs", marketdata.ErrConfig, len(volMult), nPairs)
	}

	var r0 *big.Int
	if frames.Redemption != nil {
		r0 = primitives.CloneBig(frames.Redemption[0])
	}

	steps := frames.Len()
	out := &RunSeries{
		Index:    frames.Index,
		PriceErr: make([]float64, steps),
		Balance:  make([]float64, steps),
		Value:    make([]float64, steps),
		Depth:    make([]float64, steps),
		Volume:   make([]float64, steps),
		Holdings: make([][]*big.Int, steps),
		Rates:    make([][]*big.Int, steps),
		Pool:     p,
	}

	limits := make([]float64, nPairs)
	for t := 0; t < steps; t++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("simulation cancelled: %w", ctx.Err())
		default:
		}

		if frames.Redemption != nil {
			p.SetRedemption(frames.Redemption[t])
		}
		for k := range limits {
			limits[k] = frames.Volumes[t][k] * volMult[k]
		}

		trades, residuals, err := arbitrage.OptimalAll(p, frames.Prices[t], limits)
		if err != nil {
			d.faultStep(out, t, p, err)
			continue
		}

		if len(trades) > 0 {
			_, vol, err := arbitrage.Execute(p, trades)
			if err != nil {
				d.faultStep(out, t, p, err)
				continue
			}
			out.Volume[t] = primitives.BigFloat64(vol) / 1e18
		}

		sumErr := 0.0
		for _, e := range residuals {
			sumErr += math.Abs(e)
		}
		out.PriceErr[t] = sumErr

		if depths, err := arbitrage.Depth(p, d.cfg.DepthSize); err == nil {
			out.Depth[t] = mean(depths)
		} else {
			out.Depth[t] = math.NaN()
		}

		if err := d.recordState(out, t, p, r0); err != nil {
			d.faultStep(out, t, p, err)
		}
	}

	return out, nil
}

// recordState captures value, balance, holdings, and rates for step t.
// Metapool value is measured over rates with the LP slot at the live
// virtual price and the redemption slot frozen to its initial value.
func (d *Driver) recordState(out *RunSeries, t int, p *pool.Pool, r0 *big.Int) error {
	var (
		xp    []*big.Int
		rates []*big.Int
		value *big.Int
		err   error
	)

	if p.IsMeta() {
		rates, err = p.CurrentRates()
		if err != nil {
			return err
		}
		valueRates := primitives.CloneBigs(rates)
		if r0 != nil {
			valueRates[p.MaxCoin()-1] = primitives.CloneBig(r0)
		}
		value, err = p.DOf(p.XPWith(valueRates))
		if err != nil {
			return err
		}
		xp = p.XPWith(rates)
	} else {
		rates = p.Rates()
		xp = p.XP()
		value, err = p.DOf(xp)
		if err != nil {
			return err
		}
	}

	out.Value[t] = primitives.BigFloat64(value) / 1e18
	out.Balance[t] = balanceIndex(xp, p.N())
	out.Holdings[t] = p.Balances()
	out.Rates[t] = rates
	return nil
}

// balanceIndex is 1 − Σ|xp_i/Σxp − 1/n| / (2·(n−1)/n).
func balanceIndex(xp []*big.Int, n int) float64 {
	total := primitives.BigFloat64(primitives.SumBigs(xp))
	if total == 0 {
		return 0
	}
	dev := 0.0
	for _, x := range xp {
		dev += math.Abs(primitives.BigFloat64(x)/total - 1/float64(n))
	}
	return 1 - dev/(2*float64(n-1)/float64(n))
}

// faultStep records a step whose math failed: NaN metrics, current
// holdings, and a warning. The run carries on; robustness here is part of
// the driver's contract.
func (d *Driver) faultStep(out *RunSeries, t int, p *pool.Pool, err error) {
	d.cfg.Log.Warn().Err(err).Int("step", t).Msg("step faulted; recording NaN")
	out.PriceErr[t] = math.NaN()
	out.Balance[t] = math.NaN()
	out.Value[t] = math.NaN()
	out.Depth[t] = math.NaN()
	out.Holdings[t] = p.Balances()
	out.Rates[t] = p.Rates()
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return math.NaN()
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
