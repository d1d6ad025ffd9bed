package models

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Instrument classifies what a position holds.
type Instrument string

const (
	// InstrumentCash represents a money-market or cash balance row.
	InstrumentCash Instrument = "CASH"
	// InstrumentStock represents an equity position.
	InstrumentStock Instrument = "STOCK"
	// InstrumentOption represents an option contract position.
	InstrumentOption Instrument = "OPTION"
)

// Valid returns true if the Instrument is one of the defined constants.
func (i Instrument) Valid() bool {
	switch i {
	case InstrumentCash, InstrumentStock, InstrumentOption:
		return true
	default:
		return false
	}
}

// Position is one holding as reported by a brokerage source. Option symbols
// are already normalized to the unified format before a Position is built.
// Quantity sign: positive = long, negative = short.
type Position struct {
	Symbol     string
	Instrument Instrument
	Quantity   decimal.Decimal
	Analytics  *OptionAnalytics // attached by enrichment, OPTION only
}

// NewPosition builds a position for the given symbol and instrument class.
func NewPosition(symbol string, instrument Instrument, quantity decimal.Decimal) *Position {
	return &Position{Symbol: symbol, Instrument: instrument, Quantity: quantity}
}

// IsShort reports a negative (short) quantity.
func (p *Position) IsShort() bool {
	return p.Quantity.IsNegative()
}

// Portfolio is the run-scoped collection of positions, unique by
// (symbol, instrument). It is rebuilt on every invocation and never persisted.
type Portfolio struct {
	positions []*Position
}

// NewPortfolio returns an empty portfolio.
func NewPortfolio() *Portfolio {
	return &Portfolio{}
}

// Add merges pos into the portfolio: an existing entry with the same
// (symbol, instrument) has its quantity incremented, otherwise pos is
// appended. Zero-quantity entries are kept; the linear scan is fine for the
// tens-to-low-hundreds of positions a personal portfolio holds.
func (pf *Portfolio) Add(pos *Position) {
	for _, existing := range pf.positions {
		if existing.Symbol == pos.Symbol && existing.Instrument == pos.Instrument {
			existing.Quantity = existing.Quantity.Add(pos.Quantity)
			return
		}
	}
	pf.positions = append(pf.positions, pos)
}

// Positions returns the backing slice. No ordering is guaranteed; callers
// that need a stable view sort explicitly (see SortedOptions).
func (pf *Portfolio) Positions() []*Position {
	return pf.positions
}

// Len returns the number of distinct (symbol, instrument) entries.
func (pf *Portfolio) Len() int {
	return len(pf.positions)
}

// Options returns the enriched option positions.
func (pf *Portfolio) Options() []*Position {
	var out []*Position
	for _, pos := range pf.positions {
		if pos.Instrument == InstrumentOption && pos.Analytics != nil {
			out = append(out, pos)
		}
	}
	return out
}

// SortedOptions returns the enriched option positions ordered by expiration
// then symbol, the order the report displays them in.
func (pf *Portfolio) SortedOptions() []*Position {
	out := pf.Options()
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Analytics, out[j].Analytics
		if !a.Option.Expiration.Equal(b.Option.Expiration) {
			return a.Option.Expiration.Before(b.Option.Expiration)
		}
		return a.Option.Underlying < b.Option.Underlying
	})
	return out
}
