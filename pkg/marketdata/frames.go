// Package marketdata ingests and shapes the external feeds a simulation
// consumes: pairwise price and volume series, the pool registry, historic
// pool volume and redemption prices from subgraphs, and the per-pair
// volume-multiplier calibration.
//
// All feeds are read once, before the grid fans out; workers only ever see
// immutable Frames.
package marketdata

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/pool"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// Frames is the aligned table of external observations driving a run.
// Prices[t][k] is the mid-price of pair k's first coin denominated in its
// second; Volumes[t][k] an aggregate traded size in natural units. Pairs
// follow pool.Pairs ordering over the flattened coin set.
type Frames struct {
	Index   []primitives.Time
	Pairs   [][2]int
	Prices  [][]float64
	Volumes [][]float64

	// Redemption, when non-nil, holds one 10^18-scaled redemption price
	// per step (RAI-like pools).
	Redemption []*big.Int

	// PZero records, per pair, the fraction of samples that had to be
	// forward-filled for lack of data. Used for availability reporting.
	PZero []float64
}

// NewFrames validates the table shape for n flattened coins.
func NewFrames(n int, index []primitives.Time, prices, volumes [][]float64) (*Frames, error) {
	pairs := pool.Pairs(n)
	if len(prices) != len(index) || len(volumes) != len(index) {
		return nil, fmt.Errorf("%w: %d rows of prices, %d of volumes for %d timestamps",
			ErrConfig, len(prices), len(volumes), len(index))
	}
	for t := range prices {
		if len(prices[t]) != len(pairs) || len(volumes[t]) != len(pairs) {
			return nil, fmt.Errorf("%w: row %d has %d prices, %d volumes; want %d pairs",
				ErrConfig, t, len(prices[t]), len(volumes[t]), len(pairs))
		}
	}
	return &Frames{Index: index, Pairs: pairs, Prices: prices, Volumes: volumes}, nil
}

// Len returns the number of timesteps.
func (f *Frames) Len() int { return len(f.Index) }

// Truncate narrows the table to [start, end) in place.
func (f *Frames) Truncate(start, end int) error {
	if start < 0 || end > f.Len() || start >= end {
		return fmt.Errorf("%w: truncation [%d:%d) of %d rows", ErrConfig, start, end, f.Len())
	}
	f.Index = f.Index[start:end]
	f.Prices = f.Prices[start:end]
	f.Volumes = f.Volumes[start:end]
	if f.Redemption != nil {
		f.Redemption = f.Redemption[start:end]
	}
	return nil
}

// StepMinutes infers the sampling interval from the index, defaulting to
// 30 when it cannot be determined.
func (f *Frames) StepMinutes() float64 {
	if len(f.Index) < 2 {
		return 30
	}
	diffs := make([]float64, 0, len(f.Index)-1)
	for t := 1; t < len(f.Index); t++ {
		diffs = append(diffs, f.Index[t].Sub(f.Index[t-1]).MinutesOf())
	}
	sort.Float64s(diffs)
	step := diffs[len(diffs)/2]
	if step <= 0 {
		return 30
	}
	return step
}

// RedemptionSample is one observation from the redemption-price feed.
type RedemptionSample struct {
	Time  primitives.Time
	Price *big.Int
}

// AttachRedemption forward-fills redemption samples onto the price index.
// Samples must be sorted ascending by time; steps before the first sample
// take its value.
func (f *Frames) AttachRedemption(samples []RedemptionSample) error {
	if len(samples) == 0 {
		return fmt.Errorf("%w: empty redemption series", ErrDataUnavailable)
	}
	out := make([]*big.Int, f.Len())
	k := 0
	for t, ts := range f.Index {
		for k+1 < len(samples) && !samples[k+1].Time.After(ts) {
			k++
		}
		out[t] = primitives.CloneBig(samples[k].Price)
	}
	f.Redemption = out
	return nil
}
