package marketdata

import "errors"

var (
	// ErrDataUnavailable is returned when an external feed cannot be
	// fetched or is empty. It is fatal before fan-out and never raised
	// during stepping.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrConfig is returned for malformed registry rows, CSV shapes, or
	// CLI-provided parameters.
	ErrConfig = errors.New("invalid configuration")
)
