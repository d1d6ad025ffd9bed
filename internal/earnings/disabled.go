package earnings

import "time"

// Disabled is the earnings source used when no calendar provider is
// configured: every symbol reports the far-future sentinel, so earnings
// countdowns never flag.
type Disabled struct{}

// FetchNextEarningsDate always returns the far-future sentinel.
func (Disabled) FetchNextEarningsDate(string) (time.Time, error) {
	return FarFuture, nil
}
