package sim

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/marketdata"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/pool"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// DefaultWorkers is the grid fan-out width when none is configured.
const DefaultWorkers = 4

// GridPoint is one (A, fee) combination of the sweep.
type GridPoint struct {
	A   int64
	Fee int64
}

// GridConfig describes a parameter sweep.
type GridConfig struct {
	// Template is the pool every point derives from; workers clone it
	// and never share mutable state.
	Template *pool.Pool

	// AList and FeeList span the sweep; results follow AList × FeeList
	// order.
	AList   []int64
	FeeList []int64

	// Frames drive every run. Read-only across workers.
	Frames *marketdata.Frames

	// VolMult caps per-pair trade sizes (see Driver Config).
	VolMult []float64

	// Workers bounds concurrent runs; DefaultWorkers when zero.
	Workers int

	// Log receives sweep progress.
	Log zerolog.Logger
}

// PointResult pairs a grid point with its run. A point whose worker
// failed carries the error and a nil series; the rest of the grid is
// unaffected.
type PointResult struct {
	Point   GridPoint
	Series  *RunSeries
	Metrics *Metrics
	Err     error
}

// GridResult collects the sweep in AList × FeeList order.
type GridResult struct {
	Points      []PointResult
	StepMinutes float64
}

// RunGrid fans the simulation out across the parameter grid. Each worker
// receives a private clone of the template; frames and multipliers are
// consumed read-only. A failing point records its error and the sweep
// continues; only context cancellation aborts the grid.
func RunGrid(ctx context.Context, cfg GridConfig) (*GridResult, error) {
	if cfg.Template == nil {
		return nil, fmt.Errorf("%w: nil pool template", marketdata.ErrConfig)
	}
	if len(cfg.AList) == 0 || len(cfg.FeeList) == 0 {
		return nil, fmt.Errorf("%w: empty parameter grid", marketdata.ErrConfig)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	points := make([]GridPoint, 0, len(cfg.AList)*len(cfg.FeeList))
	for _, a := range cfg.AList {
		for _, fee := range cfg.FeeList {
			points = append(points, GridPoint{A: a, Fee: fee})
		}
	}

	stepMinutes := cfg.Frames.StepMinutes()
	results := make([]PointResult, len(points))

	g, runCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx, pt := range points {
		idx, pt := idx, pt
		g.Go(func() error {
			results[idx] = runPoint(runCtx, cfg, pt, stepMinutes)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("grid cancelled: %w", err)
	}
	return &GridResult{Points: results, StepMinutes: stepMinutes}, nil
}

// runPoint executes one grid point, converting panics into recorded
// errors so a bad point cannot take the sweep down.
func runPoint(ctx context.Context, cfg GridConfig, pt GridPoint, stepMinutes float64) (out PointResult) {
	out.Point = pt
	defer func() {
		if r := recover(); r != nil {
			out.Series = nil
			out.Metrics = nil
			out.Err = fmt.Errorf("grid point A=%d fee=%d panicked: %v\n%s", pt.A, pt.Fee, r, debug.Stack())
		}
	}()

	log := cfg.Log.With().Int64("A", pt.A).Str("fee", feePercent(pt.Fee)).Logger()
	log.Info().Msg("simulating")

	driver := NewDriver(Config{VolMult: cfg.VolMult, Log: log})
	series, err := driver.Run(ctx, cfg.Template.WithParams(pt.A, pt.Fee), cfg.Frames)
	if err != nil {
		out.Err = err
		return out
	}
	out.Series = series
	out.Metrics = series.ComputeMetrics(stepMinutes)
	return out
}

func feePercent(fee int64) string {
	return primitives.FromScaledInt(primitives.Big(fee), 8).String() + "%"
}
