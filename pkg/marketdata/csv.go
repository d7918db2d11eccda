package marketdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// LoadCSV reads pre-computed per-pair series from dir: prices.csv and
// volumes.csv, each with a unix-seconds timestamp column followed by one
// column per pair in canonical order. Zero or missing prices are forward
// filled and counted into PZero.
func LoadCSV(dir string, n int) (*Frames, error) {
	pTimes, prices, err := readTable(filepath.Join(dir, "prices.csv"))
	if err != nil {
		return nil, err
	}
	vTimes, volumes, err := readTable(filepath.Join(dir, "volumes.csv"))
	if err != nil {
		return nil, err
	}
	if len(pTimes) != len(vTimes) {
		return nil, fmt.Errorf("%w: %d price rows vs %d volume rows", ErrConfig, len(pTimes), len(vTimes))
	}

	f, err := NewFrames(n, pTimes, prices, volumes)
	if err != nil {
		return nil, err
	}
	f.PZero = fillForward(f.Prices)
	fillForward(f.Volumes)
	return f, nil
}

func readTable(path string) ([]primitives.Time, [][]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrDataUnavailable, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %s", ErrConfig, path, err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: %s holds no samples", ErrDataUnavailable, path)
	}

	// First row is the header.
	index := make([]primitives.Time, 0, len(rows)-1)
	data := make([][]float64, 0, len(rows)-1)
	width := len(rows[0]) - 1
	for rowNum, row := range rows[1:] {
		if len(row) != width+1 {
			return nil, nil, fmt.Errorf("%w: %s row %d has %d columns, want %d",
				ErrConfig, path, rowNum+2, len(row), width+1)
		}
		sec, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s row %d timestamp: %s", ErrConfig, path, rowNum+2, err)
		}
		index = append(index, primitives.Unix(sec))

		vals := make([]float64, width)
		for c := 1; c <= width; c++ {
			if row[c] == "" {
				vals[c-1] = 0
				continue
			}
			v, err := strconv.ParseFloat(row[c], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: %s row %d col %d: %s", ErrConfig, path, rowNum+2, c, err)
			}
			vals[c-1] = v
		}
		data = append(data, vals)
	}
	return index, data, nil
}

// fillForward replaces non-positive samples with the last seen value per
// column and returns the per-column fraction replaced. Leading gaps take
// the first available value.
func fillForward(table [][]float64) []float64 {
	if len(table) == 0 {
		return nil
	}
	width := len(table[0])
	missing := make([]int, width)

	for c := 0; c < width; c++ {
		// Seed leading gaps from the first live sample.
		first := 0.0
		for t := range table {
			if table[t][c] > 0 {
				first = table[t][c]
				break
			}
		}
		last := first
		for t := range table {
			if table[t][c] > 0 {
				last = table[t][c]
				continue
			}
			missing[c]++
			table[t][c] = last
		}
	}

	out := make([]float64, width)
	for c := range out {
		out[c] = float64(missing[c]) / float64(len(table))
	}
	return out
}
