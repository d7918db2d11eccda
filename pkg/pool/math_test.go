package pool

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad integer literal %q", s)
	}
	return v
}

// mainnet3Pool rebuilds the mainnet 3Pool snapshot used across the suite:
// DAI at 18 decimals, USDC and USDT at 6.
func mainnet3Pool(t *testing.T) *Pool {
	t.Helper()
	p, err := New(Config{
		A: 2000,
		Balances: []*big.Int{
			mustBig(t, "295949605740077243186725223"),
			mustBig(t, "284320067518878"),
			mustBig(t, "288200854907854"),
		},
		N: 3,
		Rates: []*big.Int{
			primitives.Pow10(18),
			primitives.Pow10(30),
			primitives.Pow10(30),
		},
		LPSupply: mustBig(t, "849743149250065202008212976"),
		Fee:      4_000_000,
	})
	if err != nil {
		t.Fatalf("building 3pool: %v", err)
	}
	return p
}

// TestVirtualPriceMainnet3Pool pins the invariant solver against the
// mainnet snapshot: D over the live balances must reproduce the pool's
// recorded virtual price to within one unit.
func TestVirtualPriceMainnet3Pool(t *testing.T) {
	p := mainnet3Pool(t)

	vp, err := p.VirtualPrice()
	if err != nil {
		t.Fatalf("virtual price: %v", err)
	}

	want := mustBig(t, "1022038799187029697")
	diff := new(big.Int).Sub(vp, want)
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Fatalf("virtual price = %s, want %s ± 1", vp, want)
	}
}

// TestYPreservesInvariant checks the defining property of the swap-output
// solver: replacing balances i and j with (x+dx, y) leaves D unchanged up
// to iteration tolerance.
func TestYPreservesInvariant(t *testing.T) {
	p := mainnet3Pool(t)
	xp := p.XP()

	d0, err := p.DOf(xp)
	if err != nil {
		t.Fatalf("D before: %v", err)
	}

	dx := primitives.Pow10(24)
	x := new(big.Int).Add(xp[0], dx)
	y, err := p.Y(0, 1, x, nil)
	if err != nil {
		t.Fatalf("Y: %v", err)
	}

	dy := new(big.Int).Sub(xp[1], y)
	if dy.Sign() <= 0 {
		t.Fatalf("expected positive output, got %s", dy)
	}

	moved := primitives.CloneBigs(xp)
	moved[0] = x
	moved[1] = y
	d1, err := p.DOf(moved)
	if err != nil {
		t.Fatalf("D after: %v", err)
	}

	diff := new(big.Int).Sub(d1, d0)
	if diff.CmpAbs(big.NewInt(1_000_000)) > 0 {
		t.Fatalf("invariant moved by %s across Y", diff)
	}
}

// TestDRejectsEmptyBalance covers the convergence guard: a zero balance
// next to live ones leaves the invariant undefined.
func TestDRejectsEmptyBalance(t *testing.T) {
	p := mainnet3Pool(t)
	xp := p.XP()
	xp[1] = new(big.Int)

	if _, err := p.DOf(xp); !errors.Is(err, ErrConvergence) {
		t.Fatalf("expected ErrConvergence, got %v", err)
	}
}

// TestDZeroBalances: the all-empty pool has D = 0 without error.
func TestDZeroBalances(t *testing.T) {
	p := mainnet3Pool(t)
	zero := []*big.Int{new(big.Int), new(big.Int), new(big.Int)}
	d, err := p.DOf(zero)
	if err != nil {
		t.Fatalf("DOf: %v", err)
	}
	if d.Sign() != 0 {
		t.Fatalf("D = %s, want 0", d)
	}
}

// TestDynamicFee verifies the imbalance scaling: at a balanced midpoint
// the dynamic fee equals the static fee exactly; imbalance raises it.
func TestDynamicFee(t *testing.T) {
	p, err := New(Config{
		A:      600,
		D:      mustBig(t, "1000000000000000000000000"),
		N:      2,
		Fee:    4_000_000,
		FeeMul: 2 * 10_000_000_000,
	})
	if err != nil {
		t.Fatalf("building pool: %v", err)
	}

	x := primitives.Pow10(23)
	balanced := p.DynamicFee(x, x)
	if balanced.Cmp(big.NewInt(4_000_000)) != 0 {
		t.Fatalf("balanced dynamic fee = %s, want 4000000", balanced)
	}

	skewed := p.DynamicFee(new(big.Int).Lsh(x, 3), x)
	if skewed.Cmp(balanced) <= 0 {
		t.Fatalf("imbalanced fee %s not above balanced %s", skewed, balanced)
	}
}

// TestDyDxFeeReciprocal: at a perfectly balanced state the two directed
// marginal prices multiply to (1 − fee)² within float tolerance.
func TestDyDxFeeReciprocal(t *testing.T) {
	p, err := New(Config{
		A:   2000,
		D:   mustBig(t, "300000000000000000000000000"),
		N:   3,
		Fee: 4_000_000,
	})
	if err != nil {
		t.Fatalf("building pool: %v", err)
	}

	fwd, err := p.DyDxFee(0, 1)
	if err != nil {
		t.Fatalf("DyDxFee(0,1): %v", err)
	}
	rev, err := p.DyDxFee(1, 0)
	if err != nil {
		t.Fatalf("DyDxFee(1,0): %v", err)
	}

	want := (1 - 4e-4) * (1 - 4e-4)
	got := fwd * rev
	if got > want+1e-12 || got < want-1e-12 {
		t.Fatalf("price product = %.18f, want %.18f ± 1e-12", got, want)
	}
}

// TestDyDxFeeDirection: the pair holding more of coin i prices i below
// parity against j.
func TestDyDxFeeDirection(t *testing.T) {
	p := mainnet3Pool(t)

	// More DAI than USDC: DAI is the cheap side.
	price, err := p.DyDxFee(0, 1)
	if err != nil {
		t.Fatalf("DyDxFee: %v", err)
	}
	if price >= 1 {
		t.Fatalf("expected discount on the long side, got %.12f", price)
	}
	if price < 0.99 {
		t.Fatalf("amplified curve should hold near parity, got %.12f", price)
	}
}

// TestWithParams: grid overrides replace outer A/fee only and never alias
// the template.
func TestWithParams(t *testing.T) {
	p := mainnet3Pool(t)
	q := p.WithParams(100, 3_000_000)

	if q.Amp().Cmp(big.NewInt(100)) != 0 || q.Fee().Cmp(big.NewInt(3_000_000)) != 0 {
		t.Fatalf("override not applied: A=%s fee=%s", q.Amp(), q.Fee())
	}
	if p.Amp().Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("template mutated: A=%s", p.Amp())
	}

	// Mutating the derived pool must not touch the template.
	if _, _, err := q.Exchange(0, 1, primitives.Pow10(24)); err != nil {
		t.Fatalf("exchange on derived pool: %v", err)
	}
	if p.Balances()[0].Cmp(mustBig(t, "295949605740077243186725223")) != 0 {
		t.Fatal("template balances mutated through derived pool")
	}
}

func TestNewValidation(t *testing.T) {
	d := mustBig(t, "1000000000000000000000000")
	tests := []struct {
		name string
		cfg  Config
	}{
		{"too few coins", Config{A: 100, D: d, N: 1, Fee: 4_000_000}},
		{"zero amplification", Config{A: 0, D: d, N: 2, Fee: 4_000_000}},
		{"no deposit", Config{A: 100, N: 2, Fee: 4_000_000}},
		{"both deposits", Config{A: 100, D: d, Balances: []*big.Int{d, d}, N: 2}},
		{"balance length", Config{A: 100, Balances: []*big.Int{d}, N: 2}},
		{"rate length", Config{A: 100, D: d, N: 2, Rates: []*big.Int{d}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

// TestEvenSplitSeed: a scalar deposit spreads evenly over virtual scales.
func TestEvenSplitSeed(t *testing.T) {
	p, err := New(Config{
		A:   2000,
		D:   mustBig(t, "300000000000000000000000000"),
		N:   3,
		Fee: 4_000_000,
	})
	if err != nil {
		t.Fatalf("building pool: %v", err)
	}

	xp := p.XP()
	for i := 1; i < len(xp); i++ {
		if xp[i].Cmp(xp[0]) != 0 {
			t.Fatalf("uneven seed: xp[%d]=%s vs xp[0]=%s", i, xp[i], xp[0])
		}
	}

	bal := p.Balances()
	vp, err := p.VirtualPrice()
	if err != nil {
		t.Fatalf("virtual price: %v", err)
	}
	if bal[0].Sign() <= 0 || math.Abs(primitives.BigFloat64(vp)/1e18-1) > 1e-9 {
		t.Fatalf("even seed should start at unit virtual price, got %s", vp)
	}
}
