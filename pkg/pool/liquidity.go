package pool

import (
	"fmt"
	"math/big"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// imbalanceFee is the per-slot fee numerator for uneven deposits and
// withdrawals: fee·n/(4·(n−1)).
func (p *Pool) imbalanceFee() *big.Int {
	f := new(big.Int).Mul(p.fee, big.NewInt(int64(p.n)))
	return f.Quo(f, big.NewInt(int64(4*(p.n-1))))
}

// mintForDeposit runs the imbalanced-deposit accounting shared by
// AddLiquidity and CalcTokenAmount: D before, D after, per-slot fees on the
// gap to the ideal balance, and the LP amount implied by the fee-deducted
// invariant move.
func (p *Pool) mintForDeposit(amounts []*big.Int, sign int) (*big.Int, []*big.Int, error) {
	if len(amounts) != p.n {
		return nil, nil, fmt.Errorf("%w: %d amounts for %d coins", ErrInvalidConfig, len(amounts), p.n)
	}
	fee := p.imbalanceFee()

	old := p.balances
	newBalances := make([]*big.Int, p.n)
	for i := range newBalances {
		if sign >= 0 {
			newBalances[i] = new(big.Int).Add(old[i], amounts[i])
		} else {
			newBalances[i] = new(big.Int).Sub(old[i], amounts[i])
		}
		if newBalances[i].Sign() < 0 {
			return nil, nil, fmt.Errorf("%w: balance %d exhausted", ErrInsufficientLiquidity, i)
		}
	}

	d0, err := p.D()
	if err != nil {
		return nil, nil, err
	}
	d1, err := p.DOf(xpWith(newBalances, p.rates))
	if err != nil {
		return nil, nil, err
	}

	feeBalances := make([]*big.Int, p.n)
	diff := new(big.Int)
	for i := range feeBalances {
		ideal := new(big.Int).Mul(d1, old[i])
		ideal.Quo(ideal, d0)
		diff.Sub(ideal, newBalances[i])
		slotFee := new(big.Int).Mul(fee, diff.Abs(diff))
		slotFee.Quo(slotFee, feeDenom)
		feeBalances[i] = new(big.Int).Sub(newBalances[i], slotFee)
	}
	d2, err := p.DOf(xpWith(feeBalances, p.rates))
	if err != nil {
		return nil, nil, err
	}

	delta := new(big.Int).Sub(d2, d0)
	delta.Mul(delta, p.lpSupply)
	delta.Quo(delta, d0)
	return delta, newBalances, nil
}

// AddLiquidity deposits an (arbitrarily imbalanced) vector of raw amounts,
// commits the new balances, mints LP tokens against the fee-deducted
// invariant move, and returns the mint amount.
func (p *Pool) AddLiquidity(amounts []*big.Int) (*big.Int, error) {
	mint, newBalances, err := p.mintForDeposit(amounts, +1)
	if err != nil {
		return nil, err
	}
	p.balances = newBalances
	p.lpSupply = new(big.Int).Add(p.lpSupply, mint)
	return mint, nil
}

// CalcTokenAmount quotes AddLiquidity without committing. It mirrors the
// deposit accounting rather than the coarser on-chain estimator.
func (p *Pool) CalcTokenAmount(amounts []*big.Int) (*big.Int, error) {
	mint, _, err := p.mintForDeposit(amounts, +1)
	return mint, err
}

// RemoveLiquidityImbalance withdraws an uneven vector of raw amounts,
// commits the reduced balances, and burns the implied LP tokens. The
// virtual price may drop by at most the imbalance-fee share.
func (p *Pool) RemoveLiquidityImbalance(amounts []*big.Int) (*big.Int, error) {
	delta, newBalances, err := p.mintForDeposit(amounts, -1)
	if err != nil {
		return nil, err
	}
	burn := new(big.Int).Neg(delta)
	if burn.Cmp(p.lpSupply) > 0 {
		return nil, fmt.Errorf("%w: burn exceeds LP supply", ErrInsufficientLiquidity)
	}
	p.balances = newBalances
	p.lpSupply = new(big.Int).Sub(p.lpSupply, burn)
	return burn, nil
}

// CalcWithdrawOneCoin quotes a one-sided withdrawal of tokenAmount LP into
// coin i. The rebalance-aware fee charges more when the pool is short of
// coin i; the 5·10^5 offset reproduces the contract's rounding convention
// and must not be simplified away.
func (p *Pool) CalcWithdrawOneCoin(tokenAmount *big.Int, i int, applyFee bool) (*big.Int, error) {
	xp := p.XP()

	fee := new(big.Int)
	if p.fee.Sign() != 0 && applyFee {
		fee.Mul(p.fee, xp[i])
		fee.Quo(fee, primitives.SumBigs(xp))
		fee.Sub(p.fee, fee)
		fee.Add(fee, big.NewInt(5*1e5))
	}

	d0, err := p.D()
	if err != nil {
		return nil, err
	}
	d1 := new(big.Int).Mul(tokenAmount, d0)
	d1.Quo(d1, p.lpSupply)
	d1.Sub(d0, d1)

	y, err := p.YD(i, d1)
	if err != nil {
		return nil, err
	}
	dy := new(big.Int).Sub(xp[i], y)

	cut := new(big.Int).Mul(dy, fee)
	cut.Quo(cut, feeDenom)
	dy.Sub(dy, cut)

	// Back into the coin's own units.
	dy.Mul(dy, rateDenom)
	return dy.Quo(dy, p.rates[i]), nil
}

// RemoveLiquidityOneCoin burns tokenAmount LP for a one-sided payout of
// coin i, committing both sides.
func (p *Pool) RemoveLiquidityOneCoin(tokenAmount *big.Int, i int) (*big.Int, error) {
	dy, err := p.CalcWithdrawOneCoin(tokenAmount, i, true)
	if err != nil {
		return nil, err
	}
	nb := new(big.Int).Sub(p.balances[i], dy)
	if nb.Sign() < 0 {
		return nil, fmt.Errorf("%w: balance %d exhausted", ErrInsufficientLiquidity, i)
	}
	supply := new(big.Int).Sub(p.lpSupply, tokenAmount)
	if supply.Sign() < 0 {
		return nil, fmt.Errorf("%w: burn exceeds LP supply", ErrInsufficientLiquidity)
	}
	p.balances[i] = nb
	p.lpSupply = supply
	return dy, nil
}
