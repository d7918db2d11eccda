package marketdata

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// PoolRow is one registry entry describing a live pool.
type PoolRow struct {
	Name    string
	Address common.Address

	// Coins holds the coin identifiers (market-data ids / symbols).
	Coins []string

	// PrecMul are per-coin precision multipliers in natural units
	// (scaled by 10^18 on chain). For redemption-priced pools the first
	// entry is the literal "r" in the registry and RedemptionPriced is
	// set; PrecMul[0] is then filled from the redemption feed.
	PrecMul []primitives.Decimal

	// RedemptionPriced marks RAI-like pools.
	RedemptionPriced bool

	// TokenType flags rebasing coins: "" plain, "c" compound-style,
	// "y" yearn-style. Empty when no coin rebases.
	TokenType []string

	// BasePool names the nested pool's registry row, or is empty.
	BasePool string

	// FeeMul is the dynamic-fee multiplier, 0 when absent.
	FeeMul int64
}

// Registry is the pool registry keyed by pool name.
type Registry map[string]PoolRow

// registry CSV columns, ';'-separated
var registryHeader = []string{"name", "address", "coins", "precmul", "tokentype", "basepool", "feemul"}

// LoadRegistry parses the ';'-separated pool registry CSV.
func LoadRegistry(path string) (Registry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrConfig, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = ';'
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrConfig, path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: %s holds no pools", ErrConfig, path)
	}
	if len(rows[0]) != len(registryHeader) {
		return nil, fmt.Errorf("%w: %s has %d columns, want %d", ErrConfig, path, len(rows[0]), len(registryHeader))
	}

	out := make(Registry, len(rows)-1)
	for rowNum, row := range rows[1:] {
		entry, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: %s row %d: %s", ErrConfig, path, rowNum+2, err)
		}
		out[entry.Name] = entry
	}
	return out, nil
}

// Get looks a pool up by name.
func (r Registry) Get(name string) (PoolRow, error) {
	row, ok := r[name]
	if !ok {
		return PoolRow{}, fmt.Errorf("%w: unknown pool %q", ErrConfig, name)
	}
	return row, nil
}

func parseRow(row []string) (PoolRow, error) {
	if len(row) != len(registryHeader) {
		return PoolRow{}, fmt.Errorf("%d columns, want %d", len(row), len(registryHeader))
	}

	entry := PoolRow{
		Name:    strings.TrimSpace(row[0]),
		Address: common.HexToAddress(strings.TrimSpace(row[1])),
		Coins:   parseList(row[2]),
	}
	if entry.Name == "" {
		return PoolRow{}, fmt.Errorf("empty pool name")
	}
	if len(entry.Coins) == 0 {
		return PoolRow{}, fmt.Errorf("empty coin list")
	}

	prec := parseList(row[3])
	if len(prec) != len(entry.Coins) {
		return PoolRow{}, fmt.Errorf("%d precision multipliers for %d coins", len(prec), len(entry.Coins))
	}
	entry.PrecMul = make([]primitives.Decimal, len(prec))
	for i, raw := range prec {
		if i == 0 && raw == "r" {
			entry.RedemptionPriced = true
			entry.PrecMul[0] = primitives.One()
			continue
		}
		d, err := primitives.NewDecimalFromString(raw)
		if err != nil {
			return PoolRow{}, fmt.Errorf("precmul[%d]: %s", i, err)
		}
		entry.PrecMul[i] = d
	}

	entry.TokenType = parseList(row[4])
	if len(entry.TokenType) != 0 && len(entry.TokenType) != len(entry.Coins) {
		return PoolRow{}, fmt.Errorf("%d token types for %d coins", len(entry.TokenType), len(entry.Coins))
	}
	for _, tt := range entry.TokenType {
		if tt != "" && tt != "c" && tt != "y" {
			return PoolRow{}, fmt.Errorf("unknown token type %q", tt)
		}
	}

	if base := strings.TrimSpace(row[5]); base != "" && !strings.EqualFold(base, "none") {
		entry.BasePool = base
	}

	if feemul := strings.TrimSpace(row[6]); feemul != "" && !strings.EqualFold(feemul, "none") {
		v, err := strconv.ParseInt(feemul, 10, 64)
		if err != nil {
			return PoolRow{}, fmt.Errorf("feemul: %s", err)
		}
		entry.FeeMul = v
	}

	return entry, nil
}

// parseList accepts python-literal style lists the registry has always
// carried: ['dai', 'usdc', ''] — brackets optional, quotes optional.
func parseList(raw string) []string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		p = strings.Trim(p, `'"`)
		out[i] = p
	}
	return out
}
