package pool

import (
	"fmt"
	"math/big"
)

// Exchange trades dx of coin i for coin j, mutating balances and crediting
// the fee back to the pool. For flat pools dx and the returned amounts are
// on the common 10^18-normalized scale the simulation trades in; metapool
// trades take dx in the source coin's raw units and return the
// destination coin's raw units.
//
// For metapools the indices range over the flattened coin set; trades
// crossing the pool boundary transit through one-sided deposit/withdraw on
// the base pool.
func (p *Pool) Exchange(i, j int, dx *big.Int) (*big.Int, *big.Int, error) {
	if p.base != nil {
		return p.exchangeUnderlying(i, j, dx)
	}
	return p.exchangeFlat(i, j, dx)
}

func (p *Pool) exchangeFlat(i, j int, dx *big.Int) (*big.Int, *big.Int, error) {
	xp := p.XP()
	x := new(big.Int).Add(xp[i], dx)
	y, err := p.Y(i, j, x, nil)
	if err != nil {
		return nil, nil, err
	}
	dy := new(big.Int).Sub(xp[j], y)

	var fee *big.Int
	if p.feeMul == nil {
		fee = new(big.Int).Mul(dy, p.fee)
		fee.Quo(fee, feeDenom)
	} else {
		mi := new(big.Int).Add(xp[i], x)
		mi.Quo(mi, big.NewInt(2))
		mj := new(big.Int).Add(xp[j], y)
		mj.Quo(mj, big.NewInt(2))
		fee = new(big.Int).Mul(dy, p.DynamicFee(mi, mj))
		fee.Quo(fee, feeDenom)
	}

	if dy.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: zero output for %d -> %d", ErrInsufficientLiquidity, i, j)
	}

	bi := new(big.Int).Mul(x, rateDenom)
	p.balances[i] = bi.Quo(bi, p.rates[i])
	bj := new(big.Int).Add(y, fee)
	bj.Mul(bj, rateDenom)
	p.balances[j] = bj.Quo(bj, p.rates[j])

	return new(big.Int).Sub(dy, fee), fee, nil
}

// exchangeUnderlying composes an outer-level swap with base-pool liquidity
// operations depending on which side of the boundary each index falls.
func (p *Pool) exchangeUnderlying(i, j int, dx *big.Int) (*big.Int, *big.Int, error) {
	baseI := i - p.maxCoin()
	baseJ := j - p.maxCoin()

	if baseI >= 0 && baseJ >= 0 {
		// Both legs live in the base pool; the outer level is untouched.
		return p.base.Exchange(baseI, baseJ, dx)
	}

	rates, err := p.CurrentRates()
	if err != nil {
		return nil, nil, err
	}
	xp := xpWith(p.balances, rates)

	metaI, metaJ := p.maxCoin(), p.maxCoin()
	if baseI < 0 {
		metaI = i
	}
	if baseJ < 0 {
		metaJ = j
	}

	snap := p.Snapshot()

	var x *big.Int
	if baseI < 0 {
		x = new(big.Int).Mul(dx, rates[i])
		x.Quo(x, rateDenom)
		x.Add(x, xp[i])
		p.balances[i] = new(big.Int).Add(p.balances[i], dx)
	} else {
		// Deposit into the base pool and credit the outer level with the
		// minted LP tokens.
		baseInputs := make([]*big.Int, p.base.n)
		for k := range baseInputs {
			baseInputs[k] = new(big.Int)
		}
		baseInputs[baseI] = new(big.Int).Set(dx)
		dxLP, err := p.base.AddLiquidity(baseInputs)
		if err != nil {
			p.Restore(snap)
			return nil, nil, err
		}
		p.balances[p.maxCoin()] = new(big.Int).Add(p.balances[p.maxCoin()], dxLP)
		x = new(big.Int).Mul(dxLP, rates[p.maxCoin()])
		x.Quo(x, rateDenom)
		x.Add(x, xp[p.maxCoin()])
	}

	y, err := p.Y(metaI, metaJ, x, xp)
	if err != nil {
		p.Restore(snap)
		return nil, nil, err
	}
	dy := new(big.Int).Sub(xp[metaJ], y)
	dy.Sub(dy, oneBig)
	if dy.Sign() <= 0 {
		p.Restore(snap)
		return nil, nil, fmt.Errorf("%w: zero output for %d -> %d", ErrInsufficientLiquidity, i, j)
	}
	dyFee := new(big.Int).Mul(dy, p.fee)
	dyFee.Quo(dyFee, feeDenom)

	dyNoFee := new(big.Int).Mul(dy, rateDenom)
	dyNoFee.Quo(dyNoFee, rates[metaJ])
	dyOut := new(big.Int).Sub(dy, dyFee)
	dyOut.Mul(dyOut, rateDenom)
	dyOut.Quo(dyOut, rates[metaJ])

	nb := new(big.Int).Sub(p.balances[metaJ], dyOut)
	if nb.Sign() < 0 {
		p.Restore(snap)
		return nil, nil, fmt.Errorf("%w: balance %d exhausted", ErrInsufficientLiquidity, metaJ)
	}
	p.balances[metaJ] = nb

	if baseJ >= 0 {
		// The outer swap produced base LP tokens; unwrap them into the
		// requested base coin. The fee reported is the gap to the no-fee
		// withdrawal.
		out, err := p.base.RemoveLiquidityOneCoin(dyOut, baseJ)
		if err != nil {
			p.Restore(snap)
			return nil, nil, err
		}
		noFee, err := p.base.CalcWithdrawOneCoin(dyNoFee, baseJ, false)
		if err != nil {
			p.Restore(snap)
			return nil, nil, err
		}
		dyOut = out
		dyFee = new(big.Int).Sub(noFee, out)
	}

	return dyOut, dyFee, nil
}

// Dy quotes the net output of Exchange(i, j, dx) without mutating state.
func (p *Pool) Dy(i, j int, dx *big.Int) (*big.Int, error) {
	if p.base != nil {
		return p.dyUnderlying(i, j, dx)
	}
	xp := p.XP()
	x := new(big.Int).Add(xp[i], dx)
	y, err := p.Y(i, j, x, nil)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(xp[j], y), nil
}

func (p *Pool) dyUnderlying(i, j int, dx *big.Int) (*big.Int, error) {
	baseI := i - p.maxCoin()
	baseJ := j - p.maxCoin()

	if baseI >= 0 && baseJ >= 0 {
		dy, err := p.base.Dy(baseI, baseJ, dx)
		if err != nil {
			return nil, err
		}
		fee := new(big.Int).Mul(dy, p.fee)
		fee.Quo(fee, feeDenom)
		return dy.Sub(dy, fee), nil
	}

	rates, err := p.CurrentRates()
	if err != nil {
		return nil, err
	}
	xp := xpWith(p.balances, rates)

	metaI, metaJ := p.maxCoin(), p.maxCoin()
	if baseI < 0 {
		metaI = i
	}
	if baseJ < 0 {
		metaJ = j
	}

	var x *big.Int
	if baseI < 0 {
		x = new(big.Int).Mul(dx, rates[i])
		x.Quo(x, rateDenom)
		x.Add(x, xp[i])
	} else {
		baseInputs := make([]*big.Int, p.base.n)
		for k := range baseInputs {
			baseInputs[k] = new(big.Int)
		}
		baseInputs[baseI] = new(big.Int).Set(dx)
		dw, err := p.base.CalcTokenAmount(baseInputs)
		if err != nil {
			return nil, err
		}
		x = dw.Mul(dw, rates[p.maxCoin()])
		x.Quo(x, rateDenom)
		x.Add(x, xp[p.maxCoin()])
	}

	y, err := p.Y(metaI, metaJ, x, xp)
	if err != nil {
		return nil, err
	}
	dy := new(big.Int).Sub(xp[metaJ], y)
	dy.Sub(dy, oneBig)
	dyFee := new(big.Int).Mul(dy, p.fee)
	dyFee.Quo(dyFee, feeDenom)
	dy.Sub(dy, dyFee)
	dy.Mul(dy, rateDenom)
	dy.Quo(dy, rates[metaJ])

	if baseJ >= 0 {
		return p.base.CalcWithdrawOneCoin(dy, baseJ, true)
	}
	return dy, nil
}
