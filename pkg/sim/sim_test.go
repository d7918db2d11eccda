package sim_test

import (
	"context"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/marketdata"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/pool"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/sim"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad integer literal %q", s)
	return v
}

func mainnet3Pool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.New(pool.Config{
		A: 2000,
		Balances: []*big.Int{
			mustBig(t, "295949605740077243186725223"),
			mustBig(t, "284320067518878"),
			mustBig(t, "288200854907854"),
		},
		N: 3,
		Rates: []*big.Int{
			primitives.Pow10(18),
			primitives.Pow10(30),
			primitives.Pow10(30),
		},
		LPSupply: mustBig(t, "849743149250065202008212976"),
		Fee:      4_000_000,
	})
	require.NoError(t, err)
	return p
}

// flatFrames builds a synthetic series: every pair at parity, constant
// volume, 30-minute sampling.
func flatFrames(t *testing.T, steps int, volume float64) *marketdata.Frames {
	t.Helper()
	start := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	index := make([]primitives.Time, steps)
	prices := make([][]float64, steps)
	volumes := make([][]float64, steps)
	for ts := 0; ts < steps; ts++ {
		index[ts] = primitives.NewTime(start.Add(time.Duration(ts) * 30 * time.Minute))
		prices[ts] = []float64{1, 1, 1}
		volumes[ts] = []float64{volume, volume, volume}
	}
	f, err := marketdata.NewFrames(3, index, prices, volumes)
	require.NoError(t, err)
	return f
}

// TestGridQuiescent: parity prices with zero volume caps must produce no
// trades anywhere on the grid: constant pool value, constant balance, and
// a zero annualized return at every point.
func TestGridQuiescent(t *testing.T) {
	frames := flatFrames(t, 8, 0)

	result, err := sim.RunGrid(context.Background(), sim.GridConfig{
		Template: mainnet3Pool(t),
		AList:    []int64{100, 1000},
		FeeList:  []int64{3_000_000, 4_000_000},
		Frames:   frames,
		VolMult:  []float64{0, 0, 0},
		Workers:  1,
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	require.Len(t, result.Points, 4)

	// Result ordering follows AList × FeeList.
	wantOrder := []sim.GridPoint{
		{A: 100, Fee: 3_000_000}, {A: 100, Fee: 4_000_000},
		{A: 1000, Fee: 3_000_000}, {A: 1000, Fee: 4_000_000},
	}
	for idx, pt := range result.Points {
		require.Equal(t, wantOrder[idx], pt.Point)
		require.NoError(t, pt.Err)

		s := pt.Series
		for ts := range s.Volume {
			require.Zero(t, s.Volume[ts], "step %d traded", ts)
			require.Equal(t, s.Value[0], s.Value[ts], "pool value moved at step %d", ts)
			require.Equal(t, s.Balance[0], s.Balance[ts], "balance moved at step %d", ts)
		}
		require.Greater(t, s.Balance[0], 0.95)
		require.Zero(t, pt.Metrics.AnnualizedReturn)
		require.Zero(t, pt.Metrics.TotalVolume)
	}
}

// TestGridDeterminism: identical inputs on a single worker reproduce the
// value series and final pool state bit for bit.
func TestGridDeterminism(t *testing.T) {
	run := func() *sim.GridResult {
		frames := flatFrames(t, 6, 5e6)
		// A standing mispricing so every step actually trades.
		for ts := range frames.Prices {
			frames.Prices[ts] = []float64{0.999, 0.9995, 1.0005}
		}
		result, err := sim.RunGrid(context.Background(), sim.GridConfig{
			Template: mainnet3Pool(t),
			AList:    []int64{100, 1000},
			FeeList:  []int64{4_000_000},
			Frames:   frames,
			VolMult:  []float64{1, 1, 1},
			Workers:  1,
			Log:      zerolog.Nop(),
		})
		require.NoError(t, err)
		return result
	}

	a, b := run(), run()
	require.Equal(t, len(a.Points), len(b.Points))
	for idx := range a.Points {
		require.NoError(t, a.Points[idx].Err)
		require.NoError(t, b.Points[idx].Err)
		require.Equal(t, a.Points[idx].Series.Value, b.Points[idx].Series.Value)
		require.Equal(t, a.Points[idx].Series.Volume, b.Points[idx].Series.Volume)

		fa := a.Points[idx].Series.Pool.Balances()
		fb := b.Points[idx].Series.Pool.Balances()
		for i := range fa {
			require.Zero(t, fa[i].Cmp(fb[i]), "balances[%d] diverged", i)
		}
		require.Zero(t, a.Points[idx].Series.Pool.LPSupply().Cmp(b.Points[idx].Series.Pool.LPSupply()))
	}
}

// TestDriverCancellation: a cancelled context aborts the run.
func TestDriverCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver := sim.NewDriver(sim.Config{Log: zerolog.Nop()})
	_, err := driver.Run(ctx, mainnet3Pool(t), flatFrames(t, 4, 0))
	require.ErrorIs(t, err, context.Canceled)
}

// TestDriverRedemptionApplied: the redemption series writes through to
// the pool's first rate slot each step.
func TestDriverRedemptionApplied(t *testing.T) {
	frames := flatFrames(t, 3, 0)
	r := mustBig(t, "1013000000000000000")
	frames.Redemption = []*big.Int{r, r, r}

	p := mainnet3Pool(t)
	driver := sim.NewDriver(sim.Config{VolMult: []float64{0, 0, 0}, Log: zerolog.Nop()})
	series, err := driver.Run(context.Background(), p, frames)
	require.NoError(t, err)
	require.Zero(t, p.Rates()[0].Cmp(r))
	require.True(t, p.IsRedemptionPriced())
	require.Len(t, series.Value, 3)
}

// TestComputeMetrics pins the annualization formula on a hand-built
// series.
func TestComputeMetrics(t *testing.T) {
	s := &sim.RunSeries{
		Value:    []float64{100, 100, 100, 100},
		Volume:   []float64{1, 2, 3, 4},
		Balance:  []float64{0.9, 0.8, 0.95, 0.85},
		Depth:    []float64{0.01, 0.02, 0.03, 0.04},
		PriceErr: []float64{0.001, 0.002, 0.003, 0.004},
	}
	m := s.ComputeMetrics(30)

	require.Zero(t, m.AnnualizedReturn)
	require.Len(t, m.LogReturns, 3)
	require.InDelta(t, 10.0, m.TotalVolume, 1e-12)
	require.InDelta(t, 0.875, m.MedianBalance, 1e-12)
	require.InDelta(t, 0.8, m.MinBalance, 1e-12)
	require.InDelta(t, 0.01, m.MinDepth, 1e-12)

	// A steady per-step growth rate g annualizes to exp(g·Y)−1.
	growth := &sim.RunSeries{Value: []float64{1, 1.000001, 1.000002000001}}
	mg := growth.ComputeMetrics(30)
	wantY := float64(60*24*365) / 30
	require.InDelta(t, math.Exp(1e-6*wantY)-1, mg.AnnualizedReturn, 1e-9)
}

// TestStepMinutesInference: hourly data annualizes on a 60-minute step.
func TestStepMinutesInference(t *testing.T) {
	start := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	index := []primitives.Time{
		primitives.NewTime(start),
		primitives.NewTime(start.Add(time.Hour)),
		primitives.NewTime(start.Add(2 * time.Hour)),
	}
	prices := [][]float64{{1}, {1}, {1}}
	volumes := [][]float64{{0}, {0}, {0}}
	f, err := marketdata.NewFrames(2, index, prices, volumes)
	require.NoError(t, err)
	require.InDelta(t, 60.0, f.StepMinutes(), 1e-12)

	short := &marketdata.Frames{Index: index[:1]}
	require.InDelta(t, 30.0, short.StepMinutes(), 1e-12)
}
