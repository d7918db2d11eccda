package marketdata

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Volume-multiplier modes: how the pool's historic volume is split across
// coin pairs to cap per-step trade sizes.
const (
	// VolModeProportional splits in proportion to each pair's external
	// market volume.
	VolModeProportional = 1
	// VolModeEqual splits the historic volume equally across pairs.
	VolModeEqual = 2
	// VolModeHybrid applies the equal split to pairs touching the meta
	// asset and the proportional split to base-only pairs. Metapools
	// only; flat pools fall back to proportional.
	VolModeHybrid = 3
)

// VolMult calibrates the per-pair multiplier limit_k = volume[t][k]·mult_k.
//
// histVolume holds the pool's 2-month traded volume: one entry for flat
// pools, [meta, base] for metapools. nPrimary is the count of outer
// primary coins (0 for flat pools); a pair touches the meta asset when
// either leg indexes a primary coin.
func VolMult(histVolume []float64, f *Frames, mode, nPrimary int, log zerolog.Logger) ([]float64, error) {
	if mode < VolModeProportional || mode > VolModeHybrid {
		return nil, fmt.Errorf("%w: vol_mode %d", ErrConfig, mode)
	}
	meta := nPrimary > 0
	if meta && len(histVolume) != 2 {
		return nil, fmt.Errorf("%w: metapool needs [meta, base] historic volume", ErrConfig)
	}
	if !meta && len(histVolume) != 1 {
		return nil, fmt.Errorf("%w: flat pool needs one historic volume", ErrConfig)
	}

	colSums := make([]float64, len(f.Pairs))
	for t := range f.Volumes {
		for k, v := range f.Volumes[t] {
			colSums[k] += v
		}
	}

	if !meta {
		if mode == VolModeHybrid {
			log.Warn().Msg("vol_mode=3 only applies to metapools; reverting to vol_mode=1")
			mode = VolModeProportional
		}
		return splitGroup(histVolume[0], colSums, allIndices(len(colSums)), mode), nil
	}

	metaIdx := make([]int, 0, len(f.Pairs))
	baseIdx := make([]int, 0, len(f.Pairs))
	for k, pair := range f.Pairs {
		if pair[0] < nPrimary || pair[1] < nPrimary {
			metaIdx = append(metaIdx, k)
		} else {
			baseIdx = append(baseIdx, k)
		}
	}

	out := make([]float64, len(f.Pairs))
	metaMode, baseMode := mode, mode
	if mode == VolModeHybrid {
		metaMode, baseMode = VolModeEqual, VolModeProportional
	}
	assign(out, metaIdx, splitGroup(histVolume[0], colSums, metaIdx, metaMode))
	assign(out, baseIdx, splitGroup(histVolume[1], colSums, baseIdx, baseMode))
	return out, nil
}

// splitGroup distributes hist across the pair group under the given mode.
// Pairs that saw no external volume get a zero multiplier: there is no
// flow to scale.
func splitGroup(hist float64, colSums []float64, group []int, mode int) []float64 {
	out := make([]float64, len(group))
	switch mode {
	case VolModeEqual:
		for gi, k := range group {
			if colSums[k] > 0 {
				out[gi] = hist / float64(len(group)) / colSums[k]
			}
		}
	default:
		total := 0.0
		for _, k := range group {
			total += colSums[k]
		}
		if total > 0 {
			for gi := range group {
				out[gi] = hist / total
			}
		}
	}
	return out
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func assign(dst []float64, idx []int, vals []float64) {
	for gi, k := range idx {
		dst[k] = vals[gi]
	}
}
