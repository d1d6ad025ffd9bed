package models

import "time"

// OptionAnalytics holds the market data and derived metrics attached to an
// OPTION position by enrichment.
type OptionAnalytics struct {
	Option          OptionSymbol
	UnderlyingPrice float64
	MidPrice        float64 // (bid+ask)/2, rounded to cents
	DaysToExpiration int
	Intrinsic       float64
	Extrinsic       float64 // MidPrice - Intrinsic
	InTheMoney      bool
	ActionNeeded    bool
	DaysToEarnings  int
	Delta           float64
	Gamma           float64
	Theta           float64
	Vega            float64
	OpenInterest    int64
	ImpliedVol      float64
	UnderlyingVol   float64 // std-dev of trailing 1y daily closes
	// StrikeDistanceStd is |strike - spot| / UnderlyingVol, negated when the
	// contract is in the money (display/weighting convention only).
	StrikeDistanceStd float64
}

// RolloverCandidate is one later-dated contract that survived the rollover
// filters, scored and ranked within a single search call. Candidates are
// never persisted.
type RolloverCandidate struct {
	Symbol           string // unified format for the replacement contract
	Strike           float64
	Expiration       time.Time
	DaysToExpiration int
	Bid              float64
	Ask              float64
	MidPrice         float64
	BidAskSpreadPct  float64
	NetCredit        float64 // candidate mid - current option mid; negative = debit
	Intrinsic        float64
	Extrinsic        float64
	ExtrinsicPerDay  float64
	Theta            float64
	Delta            float64
	ImpliedVol       float64
	OpenInterest     int64
	APR              float64
	QualityScore     float64
	DaysGained       int
	DistancePct      float64 // more negative = further out of the money
}
