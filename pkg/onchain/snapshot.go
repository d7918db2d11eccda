package onchain

import (
	"context"
	"fmt"
	"math"
	"math/big"

	core "github.com/daoleno/uniswap-sdk-core/entities"
	"github.com/ethereum/go-ethereum/common"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/marketdata"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/pool"
	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// PoolSnapshot is everything the simulator needs from the chain to seed a
// template pool: normalized balances, live parameters, coin descriptors,
// and the addresses whose subgraph volume calibrates trade limits.
type PoolSnapshot struct {
	// Outer is the template config; for metapools the top level.
	Outer pool.Config

	// Base is the nested pool config, nil for flat pools.
	Base *pool.Config

	// Tokens describe the flattened coin set (mainnet descriptors).
	Tokens []*core.Token

	// Addresses lists the pool (and base pool) contracts.
	Addresses []common.Address
}

// Snapshot assembles a live pool template from its registry row. Balances
// are normalized onto the 10^18 scale by each coin's precision multiplier
// and, for rebasing tokens, its live rate. When balanced is true the
// template is re-seeded as an even split of the balanced invariant, which
// is how parameter sweeps are normally run.
func Snapshot(ctx context.Context, client *Client, row marketdata.PoolRow, baseRow *marketdata.PoolRow, redemption *big.Int, balanced bool) (*PoolSnapshot, error) {
	reader, err := NewPoolReader(ctx, client, row.Address)
	if err != nil {
		return nil, err
	}

	aVal, err := reader.A(ctx)
	if err != nil {
		return nil, err
	}
	feeVal, err := reader.Fee(ctx)
	if err != nil {
		return nil, err
	}

	precMul := append([]primitives.Decimal(nil), row.PrecMul...)
	if row.RedemptionPriced {
		if redemption == nil {
			return nil, fmt.Errorf("%w: %s is redemption-priced but no redemption rate was supplied", marketdata.ErrConfig, row.Name)
		}
		precMul[0] = primitives.FromScaledInt(redemption, 18)
	}

	snap := &PoolSnapshot{Addresses: []common.Address{row.Address}}

	if baseRow == nil {
		balances, tokens, err := normalizedBalances(ctx, client, reader, row, precMul)
		if err != nil {
			return nil, err
		}
		snap.Tokens = tokens
		snap.Outer = pool.Config{
			A:        aVal.Int64(),
			Balances: balances,
			N:        len(row.Coins),
			Fee:      feeVal.Int64(),
			FeeMul:   row.FeeMul,
		}
		if row.RedemptionPriced {
			snap.Outer.Redemption = primitives.CloneBig(redemption)
		}
		vp, err := reader.VirtualPrice(ctx)
		if err != nil {
			return nil, err
		}
		tmp, err := pool.New(snap.Outer)
		if err != nil {
			return nil, err
		}
		d, err := tmp.D()
		if err != nil {
			return nil, err
		}
		lpSupply := new(big.Int).Mul(d, primitives.Pow10(18))
		snap.Outer.LPSupply = lpSupply.Quo(lpSupply, vp)
		if balanced {
			snap.Outer.Balances = nil
			snap.Outer.D = d
		}
		return snap, nil
	}

	// Metapool: read both levels, valuing the LP slot at the base pool's
	// live virtual price.
	baseReader, err := NewPoolReader(ctx, client, baseRow.Address)
	if err != nil {
		return nil, err
	}
	baseA, err := baseReader.A(ctx)
	if err != nil {
		return nil, err
	}
	baseFee, err := baseReader.Fee(ctx)
	if err != nil {
		return nil, err
	}
	baseVP, err := baseReader.VirtualPrice(ctx)
	if err != nil {
		return nil, err
	}

	outerPrec := append(precMul, primitives.FromScaledInt(baseVP, 18))
	outerBalances, outerTokens, err := normalizedBalances(ctx, client, reader, row, outerPrec)
	if err != nil {
		return nil, err
	}
	baseBalances, baseTokens, err := normalizedBalances(ctx, client, baseReader, *baseRow, baseRow.PrecMul)
	if err != nil {
		return nil, err
	}

	// The outer token list covers primaries only; the flattened coin set
	// appends the base coins behind them.
	snap.Tokens = append(outerTokens[:len(row.Coins)], baseTokens...)
	snap.Addresses = append(snap.Addresses, baseRow.Address)

	baseCfg := pool.Config{
		A:        baseA.Int64(),
		Balances: baseBalances,
		N:        len(baseRow.Coins),
		Fee:      baseFee.Int64(),
	}
	basePool, err := pool.New(baseCfg)
	if err != nil {
		return nil, err
	}
	baseD, err := basePool.D()
	if err != nil {
		return nil, err
	}
	lpSupply := new(big.Int).Mul(baseD, primitives.Pow10(18))
	lpSupply.Quo(lpSupply, baseVP)
	baseCfg.LPSupply = lpSupply

	snap.Outer = pool.Config{
		A:        aVal.Int64(),
		Balances: outerBalances,
		N:        len(row.Coins) + 1,
		Fee:      feeVal.Int64(),
		FeeMul:   row.FeeMul,
	}
	if row.RedemptionPriced {
		snap.Outer.Redemption = primitives.CloneBig(redemption)
	}
	snap.Base = &baseCfg

	if balanced {
		baseCfg.Balances = nil
		baseCfg.D = baseD
		tmp, err := pool.NewMeta(snap.Outer, baseCfg)
		if err != nil {
			return nil, err
		}
		rates, err := tmp.CurrentRates()
		if err != nil {
			return nil, err
		}
		d, err := tmp.DOf(tmp.XPWith(rates))
		if err != nil {
			return nil, err
		}
		snap.Outer.Balances = nil
		snap.Outer.D = d
		snap.Base = &baseCfg
	}
	return snap, nil
}

// normalizedBalances reads and normalizes every coin balance of one pool
// level, building mainnet token descriptors along the way. The precMul
// slice may carry one extra trailing entry (the metapool LP slot), which
// has no backing coin.
func normalizedBalances(ctx context.Context, client *Client, reader *PoolReader, row marketdata.PoolRow, precMul []primitives.Decimal) ([]*big.Int, []*core.Token, error) {
	balances := make([]*big.Int, len(precMul))
	tokens := make([]*core.Token, 0, len(row.Coins))

	for i := range precMul {
		raw, err := reader.Balances(ctx, i)
		if err != nil {
			return nil, nil, err
		}

		rate := primitives.Pow10(18)
		if i < len(row.TokenType) && row.TokenType[i] != "" {
			addr, err := reader.Coins(ctx, i)
			if err != nil {
				return nil, nil, err
			}
			rate, err = client.TokenRate(ctx, row.TokenType[i], addr)
			if err != nil {
				return nil, nil, err
			}
		}

		// balance · precmul · rate / 10^18, all on the integer scale.
		v := primitives.FromScaledInt(raw, 0).Mul(precMul[i]).ScaledInt(0)
		v.Mul(v, rate)
		balances[i] = v.Quo(v, primitives.Pow10(18))

		if i < len(row.Coins) {
			addr, err := reader.Coins(ctx, i)
			if err != nil {
				return nil, nil, err
			}
			tokens = append(tokens, core.NewToken(1, addr, decimalsOf(precMul[i]), row.Coins[i], ""))
		}
	}
	return balances, tokens, nil
}

// decimalsOf recovers a coin's decimals from its natural precision
// multiplier: 1 -> 18, 10^12 -> 6.
func decimalsOf(precMul primitives.Decimal) uint {
	f := precMul.Float64()
	if f <= 0 {
		return 18
	}
	shift := int(math.Round(math.Log10(f)))
	if shift < 0 || shift > 18 {
		return 18
	}
	return uint(18 - shift)
}
