package onchain

import (
	"testing"

	"github.com/stableswap-labs/go-stableswap-sim/pkg/primitives"
)

func TestDecimalsOf(t *testing.T) {
	tests := []struct {
		precmul string
		want    uint
	}{
		{"1", 18},
		{"1000000000000", 6},
		{"10000000000000000", 2},
		{"0", 18}, // degenerate multipliers fall back to 18
	}
	for _, tt := range tests {
		d := primitives.MustDecimalFromString(tt.precmul)
		if got := decimalsOf(d); got != tt.want {
			t.Errorf("decimalsOf(%s) = %d, want %d", tt.precmul, got, tt.want)
		}
	}
}
