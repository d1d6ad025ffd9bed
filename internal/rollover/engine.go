// Package rollover searches an option chain for the best later-dated
// replacement contract for a flagged short option position.
package rollover

import (
	"log"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"optroll/internal/broker"
	"optroll/internal/models"
)

// Tier is one search pass: a date window plus the distance and debit
// constraints applied within it.
type Tier struct {
	WindowDays     int     `yaml:"window_days"`
	MinDistancePct float64 `yaml:"min_distance_pct"` // minimum % out of the money
	MaxDebitPct    float64 `yaml:"max_debit_pct"`    // allowed debit as fraction of current extrinsic
}

// DefaultTiers are the strict-then-relaxed passes the original report ran
// with. The relaxed tier runs only when the strict tier finds nothing.
func DefaultTiers() []Tier {
	return []Tier{
		{WindowDays: 45, MinDistancePct: 2.0, MaxDebitPct: 0.2},
		{WindowDays: 90, MinDistancePct: 1.0, MaxDebitPct: 0.3},
	}
}

// maxSpreadPct rejects candidates whose bid/ask spread exceeds this
// percentage of the mid price.
const maxSpreadPct = 20.0

// Quality score normalization references.
const (
	refExtrinsicPerDayPct = 0.10  // $/day per $100 of strike for full marks
	refThetaPerDay        = 1.0   // theta decay for full marks
	refOpenInterest       = 100.0 // contracts for full marks
)

// Engine scans full chains, filters and scores candidates tier by tier.
type Engine struct {
	chains broker.ChainProvider
	tiers  []Tier
	logger *log.Logger
	now    func() time.Time
}

// NewEngine builds an engine over the given chain provider. A nil or empty
// tier list falls back to the defaults.
func NewEngine(chains broker.ChainProvider, tiers []Tier, logger *log.Logger) *Engine {
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{chains: chains, tiers: tiers, logger: logger, now: time.Now}
}

// WithClock overrides the time source (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// FindBestRollover returns the highest-quality replacement contract for a
// flagged short option, or nil when no tier yields a survivor. A nil result
// means "no actionable rollover", never an error. Chain-fetch failures in
// one tier are logged and treated as zero candidates for that tier.
func (e *Engine) FindBestRollover(current *models.OptionAnalytics, quantity decimal.Decimal, actionNeeded bool) *models.RolloverCandidate {
	// Rollover only applies to short positions needing action.
	if !quantity.IsNegative() || !actionNeeded {
		return nil
	}

	e.logger.Printf("evaluating rollover for %s: DTE=%d strike=%.2f extrinsic=%.2f",
		current.Option, current.DaysToExpiration, current.Option.StrikeFloat(), current.Extrinsic)

	for i, tier := range e.tiers {
		if i > 0 {
			e.logger.Printf("no candidates under tier %d; retrying with window=%dd minDistance=%.1f%% maxDebit=%.0f%% of extrinsic",
				i, tier.WindowDays, tier.MinDistancePct, tier.MaxDebitPct*100)
		}
		candidates := e.scanTier(current, tier)
		if len(candidates) == 0 {
			continue
		}
		rank(candidates)
		e.logTop(candidates)
		return candidates[0]
	}

	e.logger.Printf("no viable rollover candidates for %s after all tiers", current.Option)
	return nil
}

// scanTier fetches the tier's chain window and returns every surviving,
// scored candidate.
func (e *Engine) scanTier(current *models.OptionAnalytics, tier Tier) []*models.RolloverCandidate {
	from := e.now()
	to := from.AddDate(0, 0, tier.WindowDays)

	snapshot, err := e.chains.FetchFullChain(current.Option.Underlying, current.Option.Type, from, to)
	if err != nil {
		e.logger.Printf("chain fetch failed for %s (window %dd): %v; treating as zero candidates",
			current.Option.Underlying, tier.WindowDays, err)
		return nil
	}
	if snapshot == nil {
		e.logger.Printf("no chain data for %s (window %dd)", current.Option.Underlying, tier.WindowDays)
		return nil
	}

	underlyingPrice := snapshot.UnderlyingPrice
	var candidates []*models.RolloverCandidate
	var checked, byExpiration, byPricing, bySpread, byITM, byDistance, byDebit int

	for _, strikes := range snapshot.ExpDateMap(current.Option.Type) {
		for _, contracts := range strikes {
			for _, entry := range contracts {
				checked++
				cand, reason := e.evaluate(current, tier, underlyingPrice, entry)
				switch reason {
				case rejectExpiration:
					byExpiration++
				case rejectPricing:
					byPricing++
				case rejectSpread:
					bySpread++
				case rejectITM:
					byITM++
				case rejectDistance:
					byDistance++
				case rejectDebit:
					byDebit++
				case accepted:
					candidates = append(candidates, cand)
				}
			}
		}
	}

	e.logger.Printf("checked=%d filtered: expiration=%d pricing=%d spread=%d itm=%d distance=%d debit=%d viable=%d",
		checked, byExpiration, byPricing, bySpread, byITM, byDistance, byDebit, len(candidates))
	return candidates
}

type rejectReason int

const (
	accepted rejectReason = iota
	rejectExpiration
	rejectPricing
	rejectSpread
	rejectITM
	rejectDistance
	rejectDebit
)

// evaluate applies the filters in order and scores a surviving contract.
func (e *Engine) evaluate(current *models.OptionAnalytics, tier Tier, underlyingPrice float64, entry broker.ChainOption) (*models.RolloverCandidate, rejectReason) {
	// A rollover must extend time.
	if entry.DaysToExpiration <= current.DaysToExpiration {
		return nil, rejectExpiration
	}

	// Tradable quote required on both sides.
	if entry.Bid <= 0 || entry.Ask <= 0 {
		return nil, rejectPricing
	}
	mid := (entry.Bid + entry.Ask) / 2
	spreadPct := (entry.Ask - entry.Bid) / mid * 100
	if spreadPct > maxSpreadPct {
		return nil, rejectSpread
	}

	var intrinsic float64
	if current.Option.Type == models.Call {
		intrinsic = math.Max(underlyingPrice-entry.StrikePrice, 0)
	} else {
		intrinsic = math.Max(entry.StrikePrice-underlyingPrice, 0)
	}
	extrinsic := mid - intrinsic

	// Never roll into assignment risk: the candidate must be strictly OTM.
	if intrinsic > 0 {
		return nil, rejectITM
	}

	// Distance from spot, signed so more negative = further OTM = safer.
	var distancePct float64
	if current.Option.Type == models.Call {
		distancePct = (underlyingPrice - entry.StrikePrice) / underlyingPrice * 100
	} else {
		distancePct = (entry.StrikePrice - underlyingPrice) / underlyingPrice * 100
	}
	if distancePct > -tier.MinDistancePct {
		return nil, rejectDistance
	}

	// Buy back the current contract at its mid, sell the candidate at its mid.
	netCredit := mid - current.MidPrice
	if netCredit < 0 && math.Abs(netCredit) > extrinsic*tier.MaxDebitPct {
		return nil, rejectDebit
	}

	extrinsicPerDay := extrinsic / float64(entry.DaysToExpiration)
	apr := extrinsicPerDay * 365 / entry.StrikePrice * 100

	expiration, err := broker.ParseExpirationDate(entry.ExpirationDate)
	if err != nil {
		e.logger.Printf("bad expiration date %q on candidate, skipping", entry.ExpirationDate)
		return nil, rejectPricing
	}

	sym := models.OptionSymbol{
		Underlying: current.Option.Underlying,
		Expiration: expiration,
		Type:       current.Option.Type,
		Strike:     decimal.NewFromFloat(entry.StrikePrice),
	}

	return &models.RolloverCandidate{
		Symbol:           sym.String(),
		Strike:           entry.StrikePrice,
		Expiration:       expiration,
		DaysToExpiration: entry.DaysToExpiration,
		Bid:              entry.Bid,
		Ask:              entry.Ask,
		MidPrice:         mid,
		BidAskSpreadPct:  spreadPct,
		NetCredit:        netCredit,
		Intrinsic:        intrinsic,
		Extrinsic:        extrinsic,
		ExtrinsicPerDay:  extrinsicPerDay,
		Theta:            entry.Theta,
		Delta:            entry.Delta,
		ImpliedVol:       entry.Volatility,
		OpenInterest:     entry.OpenInterest,
		APR:              apr,
		QualityScore:     qualityScore(current, entry, extrinsicPerDay, distancePct, spreadPct),
		DaysGained:       entry.DaysToExpiration - current.DaysToExpiration,
		DistancePct:      distancePct,
	}, accepted
}

// qualityScore is the weighted composite used to rank survivors:
// extrinsic-per-day 30, safety distance 25, spread tightness 20, theta 15,
// IV similarity 5, open-interest liquidity 5.
func qualityScore(current *models.OptionAnalytics, entry broker.ChainOption,
	extrinsicPerDay, distancePct, spreadPct float64) float64 {

	// Extrinsic efficiency against $0.10/day per $100 of strike.
	extrinsicPerDayPct := extrinsicPerDay / (entry.StrikePrice / 100)
	extrinsicScore := math.Min(extrinsicPerDayPct/refExtrinsicPerDayPct, 1.0) * 30

	// Full marks 5-15% OTM, linear penalty outside the band.
	absDistance := math.Abs(distancePct)
	var distanceScore float64
	switch {
	case absDistance >= 5 && absDistance <= 15:
		distanceScore = 25
	case absDistance > 15:
		distanceScore = math.Max(0, 25-(absDistance-15))
	default:
		distanceScore = (absDistance - 2) / 3 * 25
	}

	// Tight spreads score full marks; decay is steeper past 10%.
	var spreadScore float64
	switch {
	case spreadPct <= 5:
		spreadScore = 20
	case spreadPct <= 10:
		spreadScore = 20 - (spreadPct - 5)
	default:
		spreadScore = math.Max(0, 15-(spreadPct-10))
	}

	thetaScore := math.Min(math.Abs(entry.Theta)/refThetaPerDay, 1.0) * 15

	ivDiff := math.Abs(entry.Volatility-current.ImpliedVol) / math.Max(current.ImpliedVol, 0.01)
	ivScore := (1 - math.Min(ivDiff, 1.0)) * 5

	liquidityScore := math.Min(float64(entry.OpenInterest)/refOpenInterest, 1.0) * 5

	return extrinsicScore + distanceScore + spreadScore + thetaScore + ivScore + liquidityScore
}

// rank orders candidates best-first: quality score descending, then a
// deterministic tie-break of higher open interest, fewer days to
// expiration, and lower strike. Chain iteration order never decides.
func rank(candidates []*models.RolloverCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		if a.OpenInterest != b.OpenInterest {
			return a.OpenInterest > b.OpenInterest
		}
		if a.DaysToExpiration != b.DaysToExpiration {
			return a.DaysToExpiration < b.DaysToExpiration
		}
		return a.Strike < b.Strike
	})
}

// logTop prints up to five ranked candidates for operator review.
func (e *Engine) logTop(candidates []*models.RolloverCandidate) {
	limit := 5
	if len(candidates) < limit {
		limit = len(candidates)
	}
	for i := 0; i < limit; i++ {
		c := candidates[i]
		e.logger.Printf("  %d. DTE=%d strike=%.2f extrinsic=%.2f (%.3f/day) distance=%.1f%% spread=%.1f%% quality=%.1f",
			i+1, c.DaysToExpiration, c.Strike, c.Extrinsic, c.ExtrinsicPerDay, c.DistancePct, c.BidAskSpreadPct, c.QualityScore)
	}
}
