// Package pool models the amplified constant-sum ("stableswap") invariant
// over N coins, in the exact integer arithmetic of the on-chain contracts.
// A Pool is either flat or a metapool whose last slot holds the LP share of
// a nested base pool (nesting depth is one).
//
// All balances are kept in each coin's own raw units; a per-coin rate
// multiplier (10^18 denominator) maps them onto the common "virtual" scale
// the invariant is defined over. Products inside the invariant iterations
// reach D**(n+1), far past 256 bits, so everything runs on math/big.
//
// Thread Safety: a Pool is not safe for concurrent use. The arbitrage
// solvers mutate it freely and roll back via Snapshot/Restore; run each
// simulation on its own Pool.
package pool

import (
	"fmt"
	"math/big"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

// feeDenom is the contracts' fee denominator (10^10); rateDenom the rate
// multiplier denominator (10^18).
var (
	feeDenom  = primitives.Pow10(10)
	rateDenom = primitives.Pow10(18)
)

// DefaultFeeProbe is the trade size used when probing marginal prices and
// dynamic fees. The probe scale biases fee estimates for pools with much
// larger balances, so it is carried as a parameter rather than a constant.
const DefaultFeeProbe = int64(1e12)

// Config describes one (flat) pool level.
//
// Exactly one of D and Balances must be set: D seeds an even split across
// coins, Balances fixes raw per-coin holdings. A is the amplification
// coefficient in contract form, i.e. already multiplied by n^(n-1).
type Config struct {
	// A is the amplification coefficient, contract-scaled (A·n^(n-1)).
	A int64

	// D seeds an even-split deposit of the given total (10^18 scale).
	D *big.Int

	// Balances fixes raw per-coin balances instead of an even split.
	Balances []*big.Int

	// N is the number of coins (2..8 typical).
	N int

	// Rates holds per-coin rate multipliers with denominator 10^18.
	// Nil defaults every coin to 10^18.
	Rates []*big.Int

	// LPSupply fixes the outstanding LP tokens; nil defaults to D().
	LPSupply *big.Int

	// Fee is the swap fee numerator with denominator 10^10.
	Fee int64

	// FeeMul is the dynamic-fee multiplier; zero selects the static fee.
	FeeMul int64

	// Redemption, when set, is written into Rates[0] and marks the pool as
	// redemption-priced (RAI-like). The driver refreshes it each step.
	Redemption *big.Int

	// FeeProbe overrides DefaultFeeProbe when positive.
	FeeProbe int64
}

// Pool is the mutable simulation state of one stableswap pool.
type Pool struct {
	amp      *big.Int
	n        int
	fee      *big.Int
	feeMul   *big.Int // nil for static-fee pools
	rates    []*big.Int
	balances []*big.Int
	lpSupply *big.Int
	base     *Pool
	redempt  bool
	feeProbe *big.Int
}

// New constructs a flat pool from cfg.
func New(cfg Config) (*Pool, error) {
	p, err := newLevel(cfg)
	if err != nil {
		return nil, err
	}
	if p.lpSupply == nil {
		d, err := p.D()
		if err != nil {
			return nil, err
		}
		p.lpSupply = d
	}
	return p, nil
}

// NewMeta constructs a metapool: the outer level's final slot holds the LP
// share of the base level. The outer LP supply is derived from the seeded
// deposit; base LP supply follows the base config.
func NewMeta(outer, base Config) (*Pool, error) {
	bp, err := New(base)
	if err != nil {
		return nil, fmt.Errorf("base pool: %w", err)
	}

	vp, err := bp.VirtualPrice()
	if err != nil {
		return nil, fmt.Errorf("base pool: %w", err)
	}

	p, err := newLevel(outer)
	if err != nil {
		return nil, err
	}
	p.base = bp

	if outer.D != nil {
		// Re-seed the even split valuing the LP slot at the base pool's
		// virtual price instead of face value.
		rates := primitives.CloneBigs(p.rates)
		rates[p.maxCoin()] = vp
		p.balances = evenSplit(outer.D, p.n, rates)
	}

	// The outer LP supply is seeded from the invariant over the static
	// rates, i.e. with the LP slot at face value.
	d, err := p.D()
	if err != nil {
		return nil, err
	}
	p.lpSupply = d

	return p, nil
}

func newLevel(cfg Config) (*Pool, error) {
	if cfg.N < 2 {
		return nil, fmt.Errorf("%w: need at least 2 coins, got %d", ErrInvalidConfig, cfg.N)
	}
	if cfg.A <= 0 {
		return nil, fmt.Errorf("%w: amplification must be positive", ErrInvalidConfig)
	}
	if cfg.Fee < 0 {
		return nil, fmt.Errorf("%w: negative fee", ErrInvalidConfig)
	}
	if cfg.D == nil && cfg.Balances == nil {
		return nil, fmt.Errorf("%w: either D or Balances is required", ErrInvalidConfig)
	}
	if cfg.D != nil && cfg.Balances != nil {
		return nil, fmt.Errorf("%w: D and Balances are mutually exclusive", ErrInvalidConfig)
	}
	if cfg.Balances != nil && len(cfg.Balances) != cfg.N {
		return nil, fmt.Errorf("%w: %d balances for %d coins", ErrInvalidConfig, len(cfg.Balances), cfg.N)
	}
	if cfg.Rates != nil && len(cfg.Rates) != cfg.N {
		return nil, fmt.Errorf("%w: %d rates for %d coins", ErrInvalidConfig, len(cfg.Rates), cfg.N)
	}

	rates := primitives.CloneBigs(cfg.Rates)
	if rates == nil {
		rates = make([]*big.Int, cfg.N)
		for i := range rates {
			rates[i] = primitives.Pow10(18)
		}
	}

	p := &Pool{
		amp:      primitives.Big(cfg.A),
		n:        cfg.N,
		fee:      primitives.Big(cfg.Fee),
		rates:    rates,
		lpSupply: primitives.CloneBig(cfg.LPSupply),
		feeProbe: primitives.Big(DefaultFeeProbe),
	}
	if cfg.FeeMul > 0 {
		p.feeMul = primitives.Big(cfg.FeeMul)
	}
	if cfg.FeeProbe > 0 {
		p.feeProbe = primitives.Big(cfg.FeeProbe)
	}
	if cfg.Redemption != nil {
		p.rates[0] = primitives.CloneBig(cfg.Redemption)
		p.redempt = true
	}
	if cfg.Balances != nil {
		p.balances = primitives.CloneBigs(cfg.Balances)
	} else {
		p.balances = evenSplit(cfg.D, cfg.N, p.rates)
	}
	return p, nil
}

func evenSplit(d *big.Int, n int, rates []*big.Int) []*big.Int {
	out := make([]*big.Int, n)
	share := new(big.Int).Quo(d, big.NewInt(int64(n)))
	for i := range out {
		b := new(big.Int).Mul(share, rateDenom)
		out[i] = b.Quo(b, rates[i])
	}
	return out
}

// N returns the number of coins at this pool level.
func (p *Pool) N() int { return p.n }

// NTotal returns the flattened coin count: for metapools the outer primary
// coins plus the base coins, with the LP slot collapsed.
func (p *Pool) NTotal() int {
	if p.base == nil {
		return p.n
	}
	return p.n + p.base.n - 1
}

// IsMeta reports whether the pool nests a base pool.
func (p *Pool) IsMeta() bool { return p.base != nil }

// Base returns the nested base pool, or nil.
func (p *Pool) Base() *Pool { return p.base }

// maxCoin is the index of the base-LP slot in the outer level.
func (p *Pool) maxCoin() int { return p.n - 1 }

// MaxCoin exposes the base-LP slot index.
func (p *Pool) MaxCoin() int { return p.maxCoin() }

// Amp returns the contract-scaled amplification coefficient.
func (p *Pool) Amp() *big.Int { return primitives.CloneBig(p.amp) }

// Fee returns the swap fee numerator (denominator 10^10).
func (p *Pool) Fee() *big.Int { return primitives.CloneBig(p.fee) }

// Balances returns a copy of the raw per-coin balances.
func (p *Pool) Balances() []*big.Int { return primitives.CloneBigs(p.balances) }

// LPSupply returns the outstanding LP token supply.
func (p *Pool) LPSupply() *big.Int { return primitives.CloneBig(p.lpSupply) }

// Rates returns a copy of the static rate multipliers. For metapools the
// LP slot holds its face value; see CurrentRates for the live view.
func (p *Pool) Rates() []*big.Int { return primitives.CloneBigs(p.rates) }

// IsRedemptionPriced reports whether rates[0] tracks a redemption price.
func (p *Pool) IsRedemptionPriced() bool { return p.redempt }

// SetRedemption writes a redemption price into rates[0].
func (p *Pool) SetRedemption(r *big.Int) {
	p.rates[0] = primitives.CloneBig(r)
	p.redempt = true
}

// FeeProbe returns the marginal-price probe size.
func (p *Pool) FeeProbe() *big.Int { return primitives.CloneBig(p.feeProbe) }

// CurrentRates returns the rate multipliers with the LP slot marked to the
// base pool's virtual price. Every cross-pool operation evaluates against
// these.
func (p *Pool) CurrentRates() ([]*big.Int, error) {
	rates := primitives.CloneBigs(p.rates)
	if p.base != nil {
		vp, err := p.base.VirtualPrice()
		if err != nil {
			return nil, err
		}
		rates[p.maxCoin()] = vp
	}
	return rates, nil
}

// XP returns the virtual balances over the static rates:
// balances[i]·rates[i]/10^18.
func (p *Pool) XP() []*big.Int {
	return xpWith(p.balances, p.rates)
}

func xpWith(balances, rates []*big.Int) []*big.Int {
	out := make([]*big.Int, len(balances))
	for i, b := range balances {
		v := new(big.Int).Mul(b, rates[i])
		out[i] = v.Quo(v, rateDenom)
	}
	return out
}

// VirtualPrice returns D·10^18 / lp_supply, the normalized value of one LP
// token. It never decreases across exchanges (fees accrue to LPs).
func (p *Pool) VirtualPrice() (*big.Int, error) {
	d, err := p.D()
	if err != nil {
		return nil, err
	}
	v := new(big.Int).Mul(d, rateDenom)
	return v.Quo(v, p.lpSupply), nil
}

// Snapshot is a by-value copy of everything the arbitrage solvers mutate:
// balances, LP supply, and the base pool's balances and LP supply.
type Snapshot struct {
	balances     []*big.Int
	lpSupply     *big.Int
	baseBalances []*big.Int
	baseLPSupply *big.Int
}

// Snapshot captures the pool state for exact rollback.
func (p *Pool) Snapshot() Snapshot {
	s := Snapshot{
		balances: primitives.CloneBigs(p.balances),
		lpSupply: primitives.CloneBig(p.lpSupply),
	}
	if p.base != nil {
		s.baseBalances = primitives.CloneBigs(p.base.balances)
		s.baseLPSupply = primitives.CloneBig(p.base.lpSupply)
	}
	return s
}

// Restore rolls the pool back to a snapshot taken on the same pool.
func (p *Pool) Restore(s Snapshot) {
	p.balances = primitives.CloneBigs(s.balances)
	p.lpSupply = primitives.CloneBig(s.lpSupply)
	if p.base != nil && s.baseBalances != nil {
		p.base.balances = primitives.CloneBigs(s.baseBalances)
		p.base.lpSupply = primitives.CloneBig(s.baseLPSupply)
	}
}

// XPWith returns the virtual balances over an explicit rate vector, e.g.
// rates frozen to an initial redemption price for value accounting.
func (p *Pool) XPWith(rates []*big.Int) []*big.Int {
	return xpWith(p.balances, rates)
}

// WithParams clones the pool with the top-level amplification and fee
// replaced. Grid workers derive their per-point pools from a shared
// template this way; the base pool's parameters are untouched.
func (p *Pool) WithParams(a, fee int64) *Pool {
	out := p.Clone()
	out.amp = primitives.Big(a)
	out.fee = primitives.Big(fee)
	return out
}

// Pairs enumerates the unordered coin pairs (i, j), i < j, over a coin set
// of size n, in the canonical order shared by price tables, volume tables,
// and the arbitrage solvers.
func Pairs(n int) [][2]int {
	out := make([][2]int, 0, n*(n-1)/2)
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, [2]int{i, j})
		}
	}
	return out
}

// FlattenedView returns a flat copy of a metapool whose LP slot is priced
// at the base pool's virtual price. Depth is measured against the base LP
// on this view; mutations to it never touch the original.
func (p *Pool) FlattenedView() (*Pool, error) {
	if p.base == nil {
		return p.Clone(), nil
	}
	rates, err := p.CurrentRates()
	if err != nil {
		return nil, err
	}
	v := p.Clone()
	v.base = nil
	v.rates = rates
	return v, nil
}

// Clone returns an independent deep copy of the pool (and its base pool).
// Grid workers simulate on clones of a shared template.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		amp:      primitives.CloneBig(p.amp),
		n:        p.n,
		fee:      primitives.CloneBig(p.fee),
		feeMul:   primitives.CloneBig(p.feeMul),
		rates:    primitives.CloneBigs(p.rates),
		balances: primitives.CloneBigs(p.balances),
		lpSupply: primitives.CloneBig(p.lpSupply),
		base:     p.base.Clone(),
		redempt:  p.redempt,
		feeProbe: primitives.CloneBig(p.feeProbe),
	}
}
