// Package enrich attaches market data and derived analytics to option
// positions: intrinsic/extrinsic value, moneyness, the action flag, greeks,
// and earnings/volatility context.
package enrich

import (
	"fmt"
	"log"
	"math"
	"time"

	"optroll/internal/broker"
	"optroll/internal/models"
	"optroll/internal/util"
)

// Config holds the enrichment thresholds. The action criteria are fixed
// magic numbers in spirit but configurable in practice.
type Config struct {
	// ActionExtrinsicPct flags a position when extrinsic value falls below
	// this fraction of the strike (time value exhausted). Default 0.01.
	ActionExtrinsicPct float64
	// NearExpiryDays flags an ITM position within this many days of
	// expiration (assignment risk). Default 5.
	NearExpiryDays int
	// VolLookbackDays is the calendar window for historical volatility.
	// Default 365.
	VolLookbackDays int
}

// DefaultConfig returns the thresholds the original report ran with.
func DefaultConfig() Config {
	return Config{
		ActionExtrinsicPct: 0.01,
		NearExpiryDays:     5,
		VolLookbackDays:    365,
	}
}

// Enricher computes OptionAnalytics for option positions, one at a time.
type Enricher struct {
	chains   broker.ChainProvider
	history  broker.HistoricalSource
	earnings broker.EarningsSource
	cfg      Config
	logger   *log.Logger
	now      func() time.Time
}

// NewEnricher wires an enricher over the given market-data collaborators.
func NewEnricher(chains broker.ChainProvider, history broker.HistoricalSource,
	earnings broker.EarningsSource, cfg Config, logger *log.Logger) *Enricher {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.ActionExtrinsicPct <= 0 {
		cfg.ActionExtrinsicPct = 0.01
	}
	if cfg.NearExpiryDays <= 0 {
		cfg.NearExpiryDays = 5
	}
	if cfg.VolLookbackDays <= 0 {
		cfg.VolLookbackDays = 365
	}
	return &Enricher{
		chains:   chains,
		history:  history,
		earnings: earnings,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source (tests).
func (e *Enricher) WithClock(now func() time.Time) *Enricher {
	if now != nil {
		e.now = now
	}
	return e
}

// Enrich attaches analytics to an OPTION position. Non-option positions are
// returned unchanged. An expired option returns (nil, nil): the position is
// dropped from further processing. Any fetch failure returns an error that
// affects this position only; callers continue with the rest of the
// portfolio.
func (e *Enricher) Enrich(pos *models.Position) (*models.Position, error) {
	if pos.Instrument != models.InstrumentOption {
		return pos, nil
	}

	sym, err := models.ParseOptionSymbol(pos.Symbol)
	if err != nil {
		return nil, fmt.Errorf("enriching %s: %w", pos.Symbol, err)
	}
	if sym.IsExpired(e.now()) {
		e.logger.Printf("%s expired %s, dropping", pos.Symbol, sym.Expiration.Format("2006-01-02"))
		return nil, nil
	}

	snapshot, err := e.chains.FetchExactChain(sym.Underlying, sym.Type, sym.StrikeFloat(), sym.Expiration)
	if err != nil {
		return nil, fmt.Errorf("fetching chain for %s: %w", pos.Symbol, err)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("no chain data for %s", pos.Symbol)
	}
	entry, err := snapshot.FirstEntry(sym.Type)
	if err != nil {
		return nil, fmt.Errorf("enriching %s: %w", pos.Symbol, err)
	}

	analytics := e.computeAnalytics(sym, snapshot.UnderlyingPrice, entry)

	analytics.DaysToEarnings = e.daysToEarnings(sym.Underlying)
	analytics.UnderlyingVol, analytics.StrikeDistanceStd = e.volatilityContext(analytics)

	pos.Analytics = analytics
	return pos, nil
}

// computeAnalytics derives the per-contract metrics from a chain entry.
func (e *Enricher) computeAnalytics(sym models.OptionSymbol, underlyingPrice float64, entry *broker.ChainOption) *models.OptionAnalytics {
	strike := sym.StrikeFloat()
	mid := util.RoundCents((entry.Bid + entry.Ask) / 2)

	var intrinsic float64
	if sym.Type == models.Call {
		intrinsic = math.Max(underlyingPrice-strike, 0)
	} else {
		intrinsic = math.Max(strike-underlyingPrice, 0)
	}
	extrinsic := mid - intrinsic

	itm := entry.InTheMoney
	actionNeeded := (itm && entry.DaysToExpiration <= e.cfg.NearExpiryDays) ||
		extrinsic <= strike*e.cfg.ActionExtrinsicPct

	return &models.OptionAnalytics{
		Option:           sym,
		UnderlyingPrice:  underlyingPrice,
		MidPrice:         mid,
		DaysToExpiration: entry.DaysToExpiration,
		Intrinsic:        intrinsic,
		Extrinsic:        extrinsic,
		InTheMoney:       itm,
		ActionNeeded:     actionNeeded,
		Delta:            entry.Delta,
		Gamma:            entry.Gamma,
		Theta:            entry.Theta,
		Vega:             entry.Vega,
		OpenInterest:     entry.OpenInterest,
		ImpliedVol:       entry.Volatility,
	}
}

// daysToEarnings converts the next earnings date into whole days from today.
func (e *Enricher) daysToEarnings(underlying string) int {
	next, err := e.earnings.FetchNextEarningsDate(underlying)
	if err != nil {
		e.logger.Printf("earnings date unavailable for %s: %v", underlying, err)
		next = earningsFarFuture
	}
	today := e.now().UTC().Truncate(24 * time.Hour)
	return int(next.UTC().Truncate(24 * time.Hour).Sub(today).Hours() / 24)
}

// earningsFarFuture mirrors the earnings source sentinel without importing it.
var earningsFarFuture = time.Date(2099, time.December, 31, 0, 0, 0, 0, time.UTC)

// volatilityContext computes the trailing-year close volatility and the
// strike distance expressed in those volatility units. The distance is
// reported negative for ITM contracts (display convention).
func (e *Enricher) volatilityContext(a *models.OptionAnalytics) (vol, distanceStd float64) {
	closes, err := e.history.FetchDailyCloses(a.Option.Underlying, e.cfg.VolLookbackDays)
	if err != nil {
		e.logger.Printf("historical closes unavailable for %s: %v", a.Option.Underlying, err)
		return 0, 0
	}
	values := make([]float64, 0, len(closes))
	for _, c := range closes {
		values = append(values, c.Close)
	}
	vol = util.RoundCents(util.SampleStdDev(values))
	if vol == 0 {
		return 0, 0
	}
	distanceStd = math.Abs(util.RoundCents((a.Option.StrikeFloat() - a.UnderlyingPrice) / vol))
	if a.InTheMoney {
		distanceStd = -distanceStd
	}
	return vol, distanceStd
}
