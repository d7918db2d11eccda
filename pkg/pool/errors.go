package pool

import "errors"

var (
	// ErrInvalidConfig is returned when pool parameters are invalid
	ErrInvalidConfig = errors.New("invalid pool parameters")

	// ErrConvergence is returned when an invariant iteration exceeds its
	// iteration budget without settling
	ErrConvergence = errors.New("invariant iteration did not converge")

	// ErrInsufficientLiquidity is returned when an exchange would produce a
	// non-positive output or drain a balance below zero
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)
