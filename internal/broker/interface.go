// Package broker provides brokerage and market-data clients plus the
// contracts the enrichment and rollover pipeline consumes them through.
package broker

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"optroll/internal/models"
)

// Session carries already-valid credentials for one brokerage, constructed
// once per run from externally supplied tokens. Clients never acquire or
// refresh tokens themselves.
type Session struct {
	AccessToken string
	AccountID   string // used by brokers that address one configured account
}

// PositionSource fetches positions from one brokerage, already normalized to
// CASH/STOCK/OPTION with unified option symbols where applicable.
type PositionSource interface {
	Name() string
	FetchPositions() ([]*models.Position, error)
}

// ChainProvider supplies option chain snapshots for enrichment and rollover
// search.
type ChainProvider interface {
	// FetchExactChain returns the chain restricted to one strike and
	// expiration, or nil when the API has no contract there.
	FetchExactChain(underlying string, optType models.OptionType, strike float64, expiration time.Time) (*ChainSnapshot, error)
	// FetchFullChain returns every contract of the given type expiring in
	// [from, to], or nil when the API has none.
	FetchFullChain(underlying string, optType models.OptionType, from, to time.Time) (*ChainSnapshot, error)
}

// HistoricalSource supplies daily closing prices for volatility estimation.
type HistoricalSource interface {
	FetchDailyCloses(underlying string, lookbackDays int) ([]DailyClose, error)
}

// EarningsSource supplies the next earnings date for a symbol, or a
// far-future sentinel when none is known.
type EarningsSource interface {
	FetchNextEarningsDate(symbol string) (time.Time, error)
}

// DailyClose is one day of closing-price history, oldest first in the
// sequences HistoricalSource returns.
type DailyClose struct {
	Date  time.Time
	Close float64
}

// ChainOption is a single contract entry inside a chain snapshot.
type ChainOption struct {
	Bid              float64 `json:"bid"`
	Ask              float64 `json:"ask"`
	Delta            float64 `json:"delta"`
	Gamma            float64 `json:"gamma"`
	Theta            float64 `json:"theta"`
	Vega             float64 `json:"vega"`
	Volatility       float64 `json:"volatility"`
	OpenInterest     int64   `json:"openInterest"`
	DaysToExpiration int     `json:"daysToExpiration"`
	StrikePrice      float64 `json:"strikePrice"`
	InTheMoney       bool    `json:"inTheMoney"`
	ExpirationDate   string  `json:"expirationDate"`
}

// ChainSnapshot is one chain response: contracts grouped by expiration date
// then strike, plus the underlying's spot price. The map keys mirror the
// upstream API ("YYYY-MM-DD:DTE" and the stringified strike).
type ChainSnapshot struct {
	Symbol          string                              `json:"symbol"`
	UnderlyingPrice float64                             `json:"underlyingPrice"`
	CallExpDateMap  map[string]map[string][]ChainOption `json:"callExpDateMap"`
	PutExpDateMap   map[string]map[string][]ChainOption `json:"putExpDateMap"`
}

// ExpDateMap returns the per-expiration map for the requested option type.
func (c *ChainSnapshot) ExpDateMap(optType models.OptionType) map[string]map[string][]ChainOption {
	if optType == models.Put {
		return c.PutExpDateMap
	}
	return c.CallExpDateMap
}

// FirstEntry returns the first contract in the snapshot for the given type.
// Exact-chain responses carry a single expiration and strike, so this is the
// requested contract.
func (c *ChainSnapshot) FirstEntry(optType models.OptionType) (*ChainOption, error) {
	for _, strikes := range c.ExpDateMap(optType) {
		for _, contracts := range strikes {
			if len(contracts) > 0 {
				entry := contracts[0]
				return &entry, nil
			}
		}
	}
	return nil, fmt.Errorf("chain snapshot for %s has no %s entries", c.Symbol, optType)
}

// APIError represents a non-2xx API response with its status and body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// ParseExpirationDate parses a chain entry's expiration, tolerating both
// plain dates and RFC3339-ish timestamps.
func ParseExpirationDate(s string) (time.Time, error) {
	if date, _, found := strings.Cut(s, "T"); found {
		s = date
	}
	return time.Parse("2006-01-02", s)
}

// CircuitBreakerChainProvider wraps a ChainProvider with a gobreaker circuit
// breaker. An open breaker surfaces as a fetch error, which the rollover
// engine already treats as "zero candidates for this attempt".
type CircuitBreakerChainProvider struct {
	provider ChainProvider
	breaker  *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // max requests when half-open
	Interval     time.Duration // reset counts interval
	Timeout      time.Duration // open circuit duration
	MinRequests  uint32        // min requests before tripping
	FailureRatio float64       // failure ratio threshold
}

// NewCircuitBreakerChainProvider wraps provider with sensible defaults.
func NewCircuitBreakerChainProvider(provider ChainProvider) *CircuitBreakerChainProvider {
	return NewCircuitBreakerChainProviderWithSettings(provider, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerChainProviderWithSettings wraps provider with custom settings.
func NewCircuitBreakerChainProviderWithSettings(provider ChainProvider, settings CircuitBreakerSettings) *CircuitBreakerChainProvider {
	gbSettings := gobreaker.Settings{
		Name:        "ChainProviderCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}
	return &CircuitBreakerChainProvider{
		provider: provider,
		breaker:  gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// FetchExactChain wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerChainProvider) FetchExactChain(underlying string, optType models.OptionType, strike float64, expiration time.Time) (*ChainSnapshot, error) {
	return execBreaker(c.breaker, func() (*ChainSnapshot, error) {
		return c.provider.FetchExactChain(underlying, optType, strike, expiration)
	})
}

// FetchFullChain wraps the underlying call with the circuit breaker.
func (c *CircuitBreakerChainProvider) FetchFullChain(underlying string, optType models.OptionType, from, to time.Time) (*ChainSnapshot, error) {
	return execBreaker(c.breaker, func() (*ChainSnapshot, error) {
		return c.provider.FetchFullChain(underlying, optType, from, to)
	})
}

// Ensure the decorator satisfies the contract at compile time.
var _ ChainProvider = (*CircuitBreakerChainProvider)(nil)
