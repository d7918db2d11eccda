package marketdata

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

func hourlyIndex(n int) []primitives.Time {
	start := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]primitives.Time, n)
	for i := range out {
		out[i] = primitives.NewTime(start.Add(time.Duration(i) * time.Hour))
	}
	return out
}

func TestNewFramesShape(t *testing.T) {
	index := hourlyIndex(2)
	_, err := NewFrames(3, index, [][]float64{{1, 1, 1}}, [][]float64{{0, 0, 0}})
	require.ErrorIs(t, err, ErrConfig)

	_, err = NewFrames(3, index, [][]float64{{1, 1}, {1, 1}}, [][]float64{{0, 0, 0}, {0, 0, 0}})
	require.ErrorIs(t, err, ErrConfig)

	f, err := NewFrames(3, index, [][]float64{{1, 1, 1}, {1, 1, 1}}, [][]float64{{0, 0, 0}, {0, 0, 0}})
	require.NoError(t, err)
	require.Equal(t, [][2]int{{0, 1}, {0, 2}, {1, 2}}, f.Pairs)
}

func TestTruncate(t *testing.T) {
	index := hourlyIndex(5)
	prices := make([][]float64, 5)
	volumes := make([][]float64, 5)
	for i := range prices {
		prices[i] = []float64{float64(i)}
		volumes[i] = []float64{float64(i) * 10}
	}
	f, err := NewFrames(2, index, prices, volumes)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(1, 4))
	require.Equal(t, 3, f.Len())
	require.Equal(t, 1.0, f.Prices[0][0])
	require.Equal(t, 3.0, f.Prices[2][0])

	require.ErrorIs(t, f.Truncate(2, 2), ErrConfig)
	require.ErrorIs(t, f.Truncate(-1, 2), ErrConfig)
}

func TestAttachRedemptionForwardFill(t *testing.T) {
	index := hourlyIndex(4)
	f, err := NewFrames(2,
		index,
		[][]float64{{1}, {1}, {1}, {1}},
		[][]float64{{0}, {0}, {0}, {0}},
	)
	require.NoError(t, err)

	samples := []RedemptionSample{
		{Time: index[1], Price: big.NewInt(100)},
		{Time: index[2], Price: big.NewInt(200)},
	}
	require.NoError(t, f.AttachRedemption(samples))

	// Steps before the first sample take its value; later steps hold the
	// last seen price.
	want := []int64{100, 100, 200, 200}
	for i, w := range want {
		require.Zero(t, f.Redemption[i].Cmp(big.NewInt(w)), "step %d", i)
	}

	require.ErrorIs(t, f.AttachRedemption(nil), ErrDataUnavailable)
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC).Unix()

	prices := "timestamp,a/b,a/c,b/c\n"
	volumes := "timestamp,a/b,a/c,b/c\n"
	for i := 0; i < 4; i++ {
		ts := base + int64(i)*1800
		price := 1.0
		if i == 2 {
			price = 0 // gap: must forward-fill from step 1
		}
		prices += fmt.Sprintf("%d,%g,1.001,0.999\n", ts, price)
		volumes += fmt.Sprintf("%d,100,200,300\n", ts)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prices.csv"), []byte(prices), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "volumes.csv"), []byte(volumes), 0o644))

	f, err := LoadCSV(dir, 3)
	require.NoError(t, err)
	require.Equal(t, 4, f.Len())
	require.Equal(t, 1.0, f.Prices[2][0], "gap should forward-fill")
	require.Equal(t, 200.0, f.Volumes[1][1])
	require.InDelta(t, 0.25, f.PZero[0], 1e-12)
	require.Zero(t, f.PZero[1])
	require.InDelta(t, 30.0, f.StepMinutes(), 1e-12)
}

func TestLoadCSVMissing(t *testing.T) {
	_, err := LoadCSV(t.TempDir(), 3)
	require.ErrorIs(t, err, ErrDataUnavailable)
}

func TestVolMultFlat(t *testing.T) {
	f, err := NewFrames(3, hourlyIndex(2),
		[][]float64{{1, 1, 1}, {1, 1, 1}},
		[][]float64{{100, 200, 300}, {100, 200, 300}},
	)
	require.NoError(t, err)

	// Mode 1: one shared multiplier, historic / total external.
	m1, err := VolMult([]float64{1200}, f, VolModeProportional, 0, zerolog.Nop())
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{1, 1, 1}, m1, 1e-12)

	// Mode 2: per-pair equal split of the historic volume.
	m2, err := VolMult([]float64{1200}, f, VolModeEqual, 0, zerolog.Nop())
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{2, 1, 2.0 / 3}, m2, 1e-12)

	// Mode 3 downgrades to mode 1 on flat pools.
	m3, err := VolMult([]float64{1200}, f, VolModeHybrid, 0, zerolog.Nop())
	require.NoError(t, err)
	require.InDeltaSlice(t, m1, m3, 1e-12)

	_, err = VolMult([]float64{1, 2}, f, VolModeProportional, 0, zerolog.Nop())
	require.ErrorIs(t, err, ErrConfig)
	_, err = VolMult([]float64{1}, f, 7, 0, zerolog.Nop())
	require.ErrorIs(t, err, ErrConfig)
}

func TestVolMultMeta(t *testing.T) {
	// One primary coin over a 3-coin base: 4 flattened coins, 6 pairs.
	// Pairs 0-2 touch the meta asset, pairs 3-5 are base-only.
	f, err := NewFrames(4, hourlyIndex(2),
		[][]float64{{1, 1, 1, 1, 1, 1}, {1, 1, 1, 1, 1, 1}},
		[][]float64{{10, 20, 30, 40, 50, 60}, {10, 20, 30, 40, 50, 60}},
	)
	require.NoError(t, err)

	hist := []float64{600, 1500}

	m1, err := VolMult(hist, f, VolModeProportional, 1, zerolog.Nop())
	require.NoError(t, err)
	// Meta group: 600 / (2·(10+20+30)) = 5; base group: 1500 / (2·(40+50+60)) = 5.
	require.InDeltaSlice(t, []float64{5, 5, 5, 5, 5, 5}, m1, 1e-12)

	m2, err := VolMult(hist, f, VolModeEqual, 1, zerolog.Nop())
	require.NoError(t, err)
	// Meta pair k: 600/3 / colsum_k; base pair k: 1500/3 / colsum_k.
	require.InDeltaSlice(t, []float64{10, 5, 10.0 / 3, 6.25, 5, 500.0 / 120}, m2, 1e-12)

	m3, err := VolMult(hist, f, VolModeHybrid, 1, zerolog.Nop())
	require.NoError(t, err)
	require.InDeltaSlice(t, []float64{m2[0], m2[1], m2[2], m1[3], m1[4], m1[5]}, m3, 1e-12)

	_, err = VolMult([]float64{600}, f, VolModeProportional, 1, zerolog.Nop())
	require.ErrorIs(t, err, ErrConfig)
}
