// Command stableswap-sim runs a parameter sweep over a live pool: it
// fetches the pool's on-chain state and two months of market data, then
// simulates every (A, fee) combination against the historical series and
// writes per-point metric tables.
package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/marketdata"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/onchain"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/pool"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/sim"
)

type options struct {
	test     bool
	ampList  []int64
	feeList  []int64
	volMult  float64
	volMode  int
	src      string
	ncpu     int
	trunc    [2]int
	hasTrunc bool
	days     int

	registry  string
	dataDir   string
	outputDir string
	rpcURL    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	var ampRaw, feeRaw, truncRaw string

	cmd := &cobra.Command{
		Use:   "stableswap-sim <pool>",
		Short: "Sweep stableswap pool parameters against historical market data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.finish(ampRaw, feeRaw, truncRaw); err != nil {
				return err
			}
			return run(cmd.Context(), args[0], opts)
		},
		SilenceUsage: true,
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.test, "test", false, "use a reduced 2x2 parameter grid")
	flags.StringVar(&ampRaw, "amp", "", "comma-separated A values (default: 2^(k/2), k=12..27)")
	flags.StringVar(&feeRaw, "fee", "", "comma-separated fees as decimal fractions, e.g. 0.0004")
	flags.Float64Var(&opts.volMult, "vol-mult", 0, "explicit volume multiplier (overrides calibration)")
	flags.IntVar(&opts.volMode, "vol-mode", marketdata.VolModeProportional, "volume limiting mode: 1 proportional, 2 equal, 3 hybrid (metapools)")
	flags.StringVar(&opts.src, "src", "external", "price/volume source: external or local")
	flags.IntVar(&opts.ncpu, "ncpu", sim.DefaultWorkers, "parallel grid workers")
	flags.StringVar(&truncRaw, "trunc", "", "truncate the series to start,end row indices")
	flags.IntVar(&opts.days, "days", 60, "lookback window in days for external data")
	flags.StringVar(&opts.registry, "registry", "pools.csv", "pool registry CSV")
	flags.StringVar(&opts.dataDir, "data-dir", "data", "directory holding local prices.csv/volumes.csv")
	flags.StringVar(&opts.outputDir, "output-dir", "pools", "directory results are written under")
	flags.StringVar(&opts.rpcURL, "rpc-url", os.Getenv("ETH_RPC_URL"), "Ethereum RPC endpoint")

	return cmd
}

func (o *options) finish(ampRaw, feeRaw, truncRaw string) error {
	if o.src != "external" && o.src != "local" {
		return fmt.Errorf("%w: --src must be external or local", marketdata.ErrConfig)
	}
	if ampRaw != "" {
		for _, part := range strings.Split(ampRaw, ",") {
			v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: --amp %q: %s", marketdata.ErrConfig, part, err)
			}
			o.ampList = append(o.ampList, v)
		}
	}
	if feeRaw != "" {
		for _, part := range strings.Split(feeRaw, ",") {
			d, err := primitives.NewDecimalFromString(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("%w: --fee %q: %s", marketdata.ErrConfig, part, err)
			}
			o.feeList = append(o.feeList, d.ScaledInt(10).Int64())
		}
	}
	if truncRaw != "" {
		parts := strings.Split(truncRaw, ",")
		if len(parts) != 2 {
			return fmt.Errorf("%w: --trunc wants start,end", marketdata.ErrConfig)
		}
		for i, part := range parts {
			v, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return fmt.Errorf("%w: --trunc %q: %s", marketdata.ErrConfig, part, err)
			}
			o.trunc[i] = v
		}
		o.hasTrunc = true
	}

	// Default sweep ranges; --test shrinks them for smoke runs.
	switch {
	case o.test:
		o.ampList = []int64{100, 1000}
		o.feeList = []int64{3_000_000, 4_000_000}
	default:
		if o.ampList == nil {
			for k := 12; k < 28; k++ {
				o.ampList = append(o.ampList, int64(math.Round(math.Pow(2, float64(k)/2))))
			}
		}
		if o.feeList == nil {
			for i := 0; i < 5; i++ {
				o.feeList = append(o.feeList, int64(math.Round((0.0002+0.0001*float64(i))*1e10)))
			}
		}
	}
	return nil
}

func run(ctx context.Context, poolName string, opts *options) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().
		Timestamp().Str("pool", poolName).Logger()

	registry, err := marketdata.LoadRegistry(opts.registry)
	if err != nil {
		return err
	}
	row, err := registry.Get(poolName)
	if err != nil {
		return err
	}
	var baseRow *marketdata.PoolRow
	if row.BasePool != "" {
		base, err := registry.Get(row.BasePool)
		if err != nil {
			return err
		}
		baseRow = &base
	}

	// Redemption-priced pools need the live redemption series before the
	// template can be assembled.
	var redemption []marketdata.RedemptionSample
	if row.RedemptionPriced {
		log.Info().Msg("fetching redemption prices")
		redemption, err = marketdata.NewSubgraph(marketdata.DefaultRedemptionSubgraphURL).RedemptionPrices(ctx, 1000)
		if err != nil {
			return err
		}
	}

	log.Info().Msg("fetching pool data")
	client, err := onchain.Dial(ctx, opts.rpcURL)
	if err != nil {
		return err
	}
	snap, err := onchain.Snapshot(ctx, client, row, baseRow, latestRedemptionPrice(redemption), true)
	if err != nil {
		return err
	}

	template, err := buildTemplate(snap)
	if err != nil {
		return err
	}

	volumeGraph := marketdata.NewSubgraph(marketdata.DefaultVolumeSubgraphURL)
	histVolume := make([]float64, 0, len(snap.Addresses))
	for _, addr := range snap.Addresses {
		v, err := volumeGraph.SwapVolume(ctx, strings.ToLower(addr.Hex()))
		if err != nil {
			return err
		}
		histVolume = append(histVolume, v)
	}

	coins := append([]string(nil), row.Coins...)
	if baseRow != nil {
		coins = append(coins, baseRow.Coins...)
	}

	var frames *marketdata.Frames
	if opts.src == "local" {
		log.Info().Str("dir", opts.dataDir).Msg("loading local price data")
		frames, err = marketdata.LoadCSV(opts.dataDir, len(coins))
	} else {
		log.Info().Int("days", opts.days).Msg("fetching external price data")
		frames, err = marketdata.NewCoinGecko(log).PoolPrices(ctx, coins, "usd", opts.days)
	}
	if err != nil {
		return err
	}
	if opts.hasTrunc {
		if err := frames.Truncate(opts.trunc[0], opts.trunc[1]); err != nil {
			return err
		}
	}
	if row.RedemptionPriced {
		if err := frames.AttachRedemption(redemption); err != nil {
			return err
		}
	}

	var volMult []float64
	if opts.volMult > 0 {
		volMult = make([]float64, len(frames.Pairs))
		for k := range volMult {
			volMult[k] = opts.volMult
		}
	} else {
		nPrimary := 0
		if baseRow != nil {
			nPrimary = len(row.Coins)
		}
		volMult, err = marketdata.VolMult(histVolume, frames, opts.volMode, nPrimary, log)
		if err != nil {
			return err
		}
	}
	log.Info().Floats64("vol_mult", volMult).Msg("volume multipliers")

	result, err := sim.RunGrid(ctx, sim.GridConfig{
		Template: template,
		AList:    opts.ampList,
		FeeList:  opts.feeList,
		Frames:   frames,
		VolMult:  volMult,
		Workers:  opts.ncpu,
		Log:      log,
	})
	if err != nil {
		return err
	}

	outDir := filepath.Join(opts.outputDir, poolName)
	if err := writeResults(outDir, coins, frames, result); err != nil {
		return err
	}
	log.Info().Str("dir", outDir).Msg("results written")
	return nil
}

func buildTemplate(snap *onchain.PoolSnapshot) (*pool.Pool, error) {
	if snap.Base != nil {
		return pool.NewMeta(snap.Outer, *snap.Base)
	}
	return pool.New(snap.Outer)
}

func latestRedemptionPrice(samples []marketdata.RedemptionSample) *big.Int {
	if len(samples) == 0 {
		return nil
	}
	return samples[len(samples)-1].Price
}

// writeResults persists the sweep: a summary table plus one wide CSV per
// metric series, and a data-availability note.
func writeResults(dir string, coins []string, frames *marketdata.Frames, result *sim.GridResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	summary := [][]string{{
		"A", "fee", "annualized_return", "median_depth", "min_depth",
		"median_balance", "min_balance", "median_price_err", "volume",
	}}
	for _, pt := range result.Points {
		if pt.Err != nil {
			summary = append(summary, []string{
				formatInt(pt.Point.A), formatInt(pt.Point.Fee),
				"", "", "", "", "", "", fmt.Sprintf("error: %s", pt.Err),
			})
			continue
		}
		m := pt.Metrics
		summary = append(summary, []string{
			formatInt(pt.Point.A), formatInt(pt.Point.Fee),
			formatFloat(m.AnnualizedReturn), formatFloat(m.MedianDepth), formatFloat(m.MinDepth),
			formatFloat(m.MedianBalance), formatFloat(m.MinBalance),
			formatFloat(m.MedianPriceErr), formatFloat(m.TotalVolume),
		})
	}
	if err := writeCSV(filepath.Join(dir, "summary.csv"), summary); err != nil {
		return err
	}

	series := map[string]func(*sim.RunSeries) []float64{
		"pool_value": func(s *sim.RunSeries) []float64 { return s.Value },
		"balance":    func(s *sim.RunSeries) []float64 { return s.Balance },
		"depth":      func(s *sim.RunSeries) []float64 { return s.Depth },
		"volume":     func(s *sim.RunSeries) []float64 { return s.Volume },
		"price_err":  func(s *sim.RunSeries) []float64 { return s.PriceErr },
	}
	for name, pick := range series {
		rows := [][]string{append([]string{"A", "fee"}, timestamps(frames)...)}
		for _, pt := range result.Points {
			row := []string{formatInt(pt.Point.A), formatInt(pt.Point.Fee)}
			if pt.Err == nil {
				for _, v := range pick(pt.Series) {
					row = append(row, formatFloat(v))
				}
			}
			rows = append(rows, row)
		}
		if err := writeCSV(filepath.Join(dir, name+".csv"), rows); err != nil {
			return err
		}
	}

	return writeAvailability(filepath.Join(dir, "pooltext.txt"), coins, frames)
}

// writeAvailability reports the simulated period and, per pair, how much
// of the price series was real rather than forward-filled.
func writeAvailability(path string, coins []string, frames *marketdata.Frames) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Simulation period: %s to %s\n",
		frames.Index[0].Format("01/02/06"),
		frames.Index[len(frames.Index)-1].Format("01/02/06"))

	if frames.PZero != nil {
		b.WriteString("Data Availability:\n")
		limited := false
		for k, pair := range frames.Pairs {
			fmt.Fprintf(&b, "%s/%s: %.1f%%\n", coins[pair[0]], coins[pair[1]], (1-frames.PZero[k])*100)
			if frames.PZero[k] > 0.3 {
				limited = true
			}
		}
		if limited {
			b.WriteString("CAUTION: Limited price data used in simulation\n")
		}
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func timestamps(frames *marketdata.Frames) []string {
	out := make([]string, frames.Len())
	for t, ts := range frames.Index {
		out[t] = strconv.FormatInt(ts.Unix(), 10)
	}
	return out
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 12, 64)
}
