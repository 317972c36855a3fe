/*
config.go - Explicit engine configuration

PURPOSE:
  The legacy system read operational limits and default prices from
  process-wide environment state. Here they live in an explicit struct
  passed into constructors, so behavior is visible at the wiring site
  and overridable in tests.
*/
package core

// Config holds operational limits and defaults for the engine.
type Config struct {
	// MaxRedemptionsPerUserPerDay caps gift redemptions per end user per
	// calendar day (UTC). Zero disables the limit.
	MaxRedemptionsPerUserPerDay int

	// DefaultGiftCostPoints is used when a redemption request omits the
	// gift cost. Zero means the cost must always be supplied.
	DefaultGiftCostPoints int64
}

// DefaultConfig returns the limits the dashboard ships with.
func DefaultConfig() Config {
	return Config{
		MaxRedemptionsPerUserPerDay: 50,
		DefaultGiftCostPoints:       0,
	}
}
