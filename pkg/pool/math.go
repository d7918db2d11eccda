package pool

import (
	"fmt"
	"math/big"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// maxIter bounds every fixed-point iteration; exceeding it is a
// ErrConvergence for the current operation.
const maxIter = 256

var oneBig = big.NewInt(1)

// D returns the stableswap invariant over the pool's virtual balances.
func (p *Pool) D() (*big.Int, error) {
	return p.DOf(p.XP())
}

// DOf solves
//
//	A·n^n·S + D = A·n^n·D + D^(n+1) / (n^n · Π xp_i)
//
// for D by damped iteration seeded at S = Σ xp_i. The D_P product is
// evaluated left to right with floor division at each step; the order
// affects the floored result and is load-bearing.
func (p *Pool) DOf(xp []*big.Int) (*big.Int, error) {
	s := primitives.SumBigs(xp)
	if s.Sign() == 0 {
		return new(big.Int), nil
	}
	for _, x := range xp {
		if x.Sign() <= 0 {
			return nil, fmt.Errorf("%w: invariant undefined with empty coin balance", ErrConvergence)
		}
	}

	nBig := big.NewInt(int64(p.n))
	ann := new(big.Int).Mul(p.amp, nBig)
	d := new(big.Int).Set(s)
	prev := new(big.Int)
	diff := new(big.Int)

	for iter := 0; iter < maxIter; iter++ {
		dp := new(big.Int).Set(d)
		den := new(big.Int)
		for _, x := range xp {
			dp.Mul(dp, d)
			dp.Quo(dp, den.Mul(nBig, x))
		}
		prev.Set(d)

		// D = (Ann·S + D_P·n) · D / ((Ann−1)·D + (n+1)·D_P)
		num := new(big.Int).Mul(ann, s)
		num.Add(num, new(big.Int).Mul(dp, nBig))
		num.Mul(num, d)
		divisor := new(big.Int).Sub(ann, oneBig)
		divisor.Mul(divisor, d)
		divisor.Add(divisor, new(big.Int).Mul(big.NewInt(int64(p.n+1)), dp))
		d = new(big.Int).Quo(num, divisor)

		if diff.Sub(d, prev); diff.CmpAbs(oneBig) <= 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: D after %d iterations", ErrConvergence, maxIter)
}

// Y solves for the new balance of coin j after setting coin i's virtual
// balance to x while preserving D. The quadratic fixed point
//
//	y_{k+1} = (y_k² + c) / (2·y_k + b)
//
// is seeded at D and floored at every step.
func (p *Pool) Y(i, j int, x *big.Int, xp []*big.Int) (*big.Int, error) {
	var xx []*big.Int
	if xp == nil {
		xx = p.XP()
	} else {
		xx = primitives.CloneBigs(xp)
	}
	d, err := p.DOf(xx)
	if err != nil {
		return nil, err
	}
	xx[i] = x

	reduced := make([]*big.Int, 0, p.n-1)
	for k := 0; k < p.n; k++ {
		if k != j {
			reduced = append(reduced, xx[k])
		}
	}

	nBig := big.NewInt(int64(p.n))
	ann := new(big.Int).Mul(p.amp, nBig)

	c := new(big.Int).Set(d)
	den := new(big.Int)
	for _, v := range reduced {
		c.Mul(c, d)
		c.Quo(c, den.Mul(v, nBig))
	}
	c.Mul(c, d)
	c.Quo(c, den.Mul(nBig, ann))

	b := primitives.SumBigs(reduced)
	b.Add(b, new(big.Int).Quo(d, ann))
	b.Sub(b, d)

	return quadratic(d, b, c)
}

// YD solves the same quadratic against a target invariant instead of the
// current one, excluding coin i. Used by one-sided withdrawals.
func (p *Pool) YD(i int, dTarget *big.Int) (*big.Int, error) {
	xx := p.XP()
	reduced := make([]*big.Int, 0, p.n-1)
	for k := 0; k < p.n; k++ {
		if k != i {
			reduced = append(reduced, xx[k])
		}
	}

	nBig := big.NewInt(int64(p.n))
	ann := new(big.Int).Mul(p.amp, nBig)

	c := new(big.Int).Set(dTarget)
	den := new(big.Int)
	for _, v := range reduced {
		c.Mul(c, dTarget)
		c.Quo(c, den.Mul(v, nBig))
	}
	c.Mul(c, dTarget)
	c.Quo(c, den.Mul(nBig, ann))

	// The −D term folds into the iteration denominator here.
	b := primitives.SumBigs(reduced)
	b.Add(b, new(big.Int).Quo(dTarget, ann))
	b.Sub(b, dTarget)

	return quadratic(dTarget, b, c)
}

func quadratic(seed, b, c *big.Int) (*big.Int, error) {
	y := new(big.Int).Set(seed)
	prev := new(big.Int)
	diff := new(big.Int)
	num := new(big.Int)
	den := new(big.Int)

	for iter := 0; iter < maxIter; iter++ {
		prev.Set(y)
		num.Mul(y, y)
		num.Add(num, c)
		den.Lsh(y, 1)
		den.Add(den, b)
		if den.Sign() <= 0 {
			return nil, fmt.Errorf("%w: quadratic denominator collapsed", ErrConvergence)
		}
		y = new(big.Int).Quo(num, den)
		if diff.Sub(y, prev); diff.CmpAbs(oneBig) <= 0 {
			return y, nil
		}
	}
	return nil, fmt.Errorf("%w: y after %d iterations", ErrConvergence, maxIter)
}

// DynamicFee computes the imbalance-scaled fee around a trade midpoint:
//
//	fee_mul·fee / ((fee_mul − 10^10)·4·xpi·xpj/(xpi+xpj)² + 10^10)
//
// The squared sum is materialized first to avoid overflow in fixed-width
// renditions; here it also pins the evaluation order.
func (p *Pool) DynamicFee(xpi, xpj *big.Int) *big.Int {
	xps2 := new(big.Int).Add(xpi, xpj)
	xps2.Mul(xps2, xps2)

	t := new(big.Int).Sub(p.feeMul, feeDenom)
	t.Mul(t, big.NewInt(4))
	t.Mul(t, xpi)
	t.Mul(t, xpj)
	t.Quo(t, xps2)
	t.Add(t, feeDenom)

	out := new(big.Int).Mul(p.feeMul, p.fee)
	return out.Quo(out, t)
}

// DyDxFee returns the marginal fee-adjusted price dy[j]/dx[i] as a float.
// For metapools the indices range over the flattened coin set.
func (p *Pool) DyDxFee(i, j int) (float64, error) {
	if p.base != nil {
		return p.metaDyDxFee(i, j)
	}
	return p.flatDyDxFee(i, j, nil)
}

// flatDyDxFee is the closed-form marginal price at the top pool level:
//
//	dydx = xp_j·(xp_i·A_pow·Πxp + D^(n+1)) / (xp_i·(xp_j·A_pow·Πxp + D^(n+1)))
//
// with A_pow = A·n^(n+1), multiplied by (1 − fee factor). Dynamic-fee pools
// estimate the factor at the midpoint of a probe trade.
func (p *Pool) flatDyDxFee(i, j int, xp []*big.Int) (float64, error) {
	if xp == nil {
		xp = p.XP()
	}
	d, err := p.DOf(xp)
	if err != nil {
		return 0, err
	}

	xi, xj := xp[i], xp[j]
	dPow := new(big.Int).Exp(d, big.NewInt(int64(p.n+1)), nil)
	xProd := prodBigs(xp)
	aPow := new(big.Int).Exp(big.NewInt(int64(p.n)), big.NewInt(int64(p.n+1)), nil)
	aPow.Mul(aPow, p.amp)

	common := new(big.Int).Mul(aPow, xProd)
	num := new(big.Int).Mul(xi, common)
	num.Add(num, dPow)
	num.Mul(num, xj)
	den := new(big.Int).Mul(xj, common)
	den.Add(den, dPow)
	den.Mul(den, xi)
	dydx := ratFloat(num, den)

	var feeFactor float64
	if p.feeMul == nil {
		feeFactor = primitives.BigFloat64(p.fee) / 1e10
	} else {
		dx := p.feeProbe
		di := primitives.FloatBig(dydx * primitives.BigFloat64(dx))
		lhs := new(big.Int).Quo(dx, big.NewInt(2))
		lhs.Add(lhs, xi)
		rhs := new(big.Int).Quo(di, big.NewInt(2))
		rhs.Sub(xj, rhs)
		feeFactor = primitives.BigFloat64(p.DynamicFee(lhs, rhs)) / 1e10
	}

	return dydx * (1 - feeFactor), nil
}

// metaDyDxFee prices a flattened metapool pair. With z the primary balance
// and w the base LP virtual balance, dz/dx_i = dz/dw · dD_base/dx_i, where
// the base invariant's derivative has the closed form used below.
func (p *Pool) metaDyDxFee(i, j int) (float64, error) {
	rates, err := p.CurrentRates()
	if err != nil {
		return 0, err
	}
	xp := xpWith(p.balances, rates)

	baseI := i - p.maxCoin()
	baseJ := j - p.maxCoin()

	switch {
	case baseI >= 0 && baseJ >= 0:
		return p.base.DyDxFee(baseI, baseJ)

	case baseI < 0 && baseJ < 0:
		return p.flatDyDxFee(i, j, xp)

	case baseI < 0:
		// Primary coin into a base coin.
		bp := p.base
		baseXP := bp.XP()
		db, err := bp.DOf(baseXP)
		if err != nil {
			return 0, err
		}
		nb := int64(bp.n)
		xj := baseXP[baseJ]
		xProd := prodBigs(baseXP)
		aPow := new(big.Int).Exp(big.NewInt(nb), big.NewInt(nb+1), nil)
		aPow.Mul(aPow, bp.amp)
		dPow := new(big.Int).Exp(db, big.NewInt(nb+1), nil)

		ax := new(big.Float).SetPrec(floatPrec).SetInt(new(big.Int).Mul(aPow, xProd))
		num := new(big.Float).SetPrec(floatPrec).Quo(
			new(big.Float).SetPrec(floatPrec).SetInt(dPow),
			new(big.Float).SetPrec(floatPrec).SetInt(xj),
		)
		num.Add(num, ax)

		nPow := new(big.Int).Exp(big.NewInt(nb), big.NewInt(nb), nil)
		nPow.Mul(nPow, xProd)
		dnTerm := new(big.Int).Exp(db, big.NewInt(nb), nil)
		dnTerm.Mul(dnTerm, big.NewInt(nb+1))
		den := new(big.Float).SetPrec(floatPrec).SetInt(nPow)
		den.Sub(den, ax)
		den.Sub(den, new(big.Float).SetPrec(floatPrec).SetInt(dnTerm))

		dPrimeF := new(big.Float).SetPrec(floatPrec).Quo(num, den)
		dPrimeF.Neg(dPrimeF)
		dPrime, _ := dPrimeF.Float64()

		dwdz, err := p.flatDyDxFee(0, p.maxCoin(), xp)
		if err != nil {
			return 0, err
		}

		var feeF float64
		if bp.fee.Sign() != 0 {
			f := new(big.Int).Mul(bp.fee, xj)
			f.Quo(f, primitives.SumBigs(baseXP))
			f.Sub(bp.fee, f)
			f.Add(f, big.NewInt(5*1e5))
			feeF = primitives.BigFloat64(f)
		}
		return dwdz / dPrime * (1 - feeF/1e10), nil

	default:
		// Base coin into the primary coin: probe through a one-sided
		// deposit and an outer-level swap.
		bp := p.base
		dx := p.feeProbe
		baseInputs := make([]*big.Int, bp.n)
		for k := range baseInputs {
			baseInputs[k] = new(big.Int)
		}
		baseInputs[baseI] = new(big.Int).Set(dx)
		dw, err := bp.CalcTokenAmount(baseInputs)
		if err != nil {
			return 0, err
		}
		dw.Mul(dw, rates[p.maxCoin()])
		dw.Quo(dw, rateDenom)
		x := new(big.Int).Add(xp[p.maxCoin()], dw)

		y, err := p.Y(p.maxCoin(), j, x, xp)
		if err != nil {
			return 0, err
		}
		dy := new(big.Int).Sub(xp[j], y)
		dy.Sub(dy, oneBig)
		dyFee := new(big.Int).Mul(dy, p.fee)
		dyFee.Quo(dyFee, feeDenom)
		dy.Sub(dy, dyFee)
		dy.Mul(dy, rateDenom)
		dy.Quo(dy, rates[j])

		return ratFloat(dy, dx), nil
	}
}

const floatPrec = 256

func ratFloat(num, den *big.Int) float64 {
	q := new(big.Float).SetPrec(floatPrec).Quo(
		new(big.Float).SetPrec(floatPrec).SetInt(num),
		new(big.Float).SetPrec(floatPrec).SetInt(den),
	)
	f, _ := q.Float64()
	return f
}

func prodBigs(vs []*big.Int) *big.Int {
	out := big.NewInt(1)
	for _, v := range vs {
		out.Mul(out, v)
	}
	return out
}
