// Package report assembles the enriched portfolio into the option, stock,
// cash and exposure tables of the portfolio report.
package report

import (
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"optroll/internal/broker"
	"optroll/internal/models"
)

// sharesPerContract is the option contract multiplier.
const sharesPerContract = 100

// RolloverFinder searches for the best replacement contract for a flagged
// short option. Satisfied by rollover.Engine.
type RolloverFinder interface {
	FindBestRollover(current *models.OptionAnalytics, quantity decimal.Decimal, actionNeeded bool) *models.RolloverCandidate
}

// OptionRow is one option position in the report, including the rollover
// recommendation columns when one was found.
type OptionRow struct {
	Symbol       string
	ITM          int
	RollTo       string // replacement contract without the underlying prefix
	Action       int
	Price        float64
	DaysToExp    int
	DaysToER     int
	Quantity     float64
	Extrinsic    float64
	APR          float64
	APRxXstd     float64
	CallPut      models.OptionType
	Strike       float64
	Underlying   float64
	Xstd         float64
	Exp          time.Time
	Delta        float64
	Gamma        float64
	Theta        float64
	Vega         float64
	OpenInterest int64
	Volatility   float64
	Unit         int

	Rollover *models.RolloverCandidate
}

// StockRow is one equity position in the report.
type StockRow struct {
	Symbol   string
	Quantity float64
	DaysToER int
}

// CashRow is one cash balance in the report.
type CashRow struct {
	Symbol   string
	Quantity decimal.Decimal
}

// ExposureRow is the per-underlying greek exposure summary.
type ExposureRow struct {
	Symbol string
	Delta  int
	Gamma  int
	Vega   int
	Theta  int
	// CovercallCapability counts how many calls the symbol's holdings could
	// cover: call contracts held plus one per round lot of stock.
	CovercallCapability int
}

// Builder turns an enriched portfolio into report rows, invoking the
// rollover search for each flagged short option position.
type Builder struct {
	finder   RolloverFinder
	earnings broker.EarningsSource
	logger   *log.Logger
	now      func() time.Time
}

// NewBuilder wires a report builder.
func NewBuilder(finder RolloverFinder, earnings broker.EarningsSource, logger *log.Logger) *Builder {
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{finder: finder, earnings: earnings, logger: logger, now: time.Now}
}

// WithClock overrides the time source (tests).
func (b *Builder) WithClock(now func() time.Time) *Builder {
	if now != nil {
		b.now = now
	}
	return b
}

// OptionRows builds the option table, ordered by expiration then symbol.
func (b *Builder) OptionRows(pf *models.Portfolio) []OptionRow {
	var rows []OptionRow
	for _, pos := range pf.SortedOptions() {
		a := pos.Analytics
		qty := pos.Quantity.InexactFloat64()

		apr := displayAPR(a, qty)
		action := 0
		if a.ActionNeeded {
			action = 1
		}
		itm := 0
		if a.InTheMoney {
			itm = 1
		}

		row := OptionRow{
			Symbol:       a.Option.Underlying,
			ITM:          itm,
			Action:       action,
			Price:        a.MidPrice,
			DaysToExp:    a.DaysToExpiration,
			DaysToER:     a.DaysToEarnings,
			Quantity:     qty,
			Extrinsic:    a.Extrinsic,
			APR:          apr,
			APRxXstd:     apr * a.StrikeDistanceStd,
			CallPut:      a.Option.Type,
			Strike:       a.Option.StrikeFloat(),
			Underlying:   a.UnderlyingPrice,
			Xstd:         a.StrikeDistanceStd,
			Exp:          a.Option.Expiration,
			Delta:        a.Delta,
			Gamma:        a.Gamma,
			Theta:        a.Theta,
			Vega:         a.Vega,
			OpenInterest: a.OpenInterest,
			Volatility:   a.ImpliedVol,
			Unit:         sharesPerContract,
		}

		if a.ActionNeeded && pos.IsShort() {
			b.logger.Printf("checking rollover for %s (action needed)", a.Option)
			if best := b.finder.FindBestRollover(a, pos.Quantity, a.ActionNeeded); best != nil {
				row.Rollover = best
				row.RollTo = trimUnderlying(best.Symbol)
				b.logger.Printf("  -> roll to %s credit=%.2f apr=%.1f%%", best.Symbol, best.NetCredit, best.APR)
			} else {
				b.logger.Printf("  -> no suitable rollover found")
			}
		}

		rows = append(rows, row)
	}
	return rows
}

// displayAPR annualizes the extrinsic yield on strike; short positions earn
// it (positive), long positions pay it (negative). Rounded to a whole
// percentage for the table.
func displayAPR(a *models.OptionAnalytics, qty float64) float64 {
	apr := (a.Extrinsic * sharesPerContract / (a.Option.StrikeFloat() * sharesPerContract)) *
		(365 / float64(a.DaysToExpiration+1)) * 100
	if qty > 0 {
		apr = -apr
	}
	return math.Round(apr)
}

// trimUnderlying drops the ticker prefix from a unified option symbol so
// the roll-to column stays narrow (BIDU_251219C131 -> 251219C131).
func trimUnderlying(symbol string) string {
	if _, rest, found := strings.Cut(symbol, "_"); found {
		return rest
	}
	return symbol
}

// StockRows builds the stock table with the earnings countdown per symbol.
func (b *Builder) StockRows(pf *models.Portfolio) []StockRow {
	today := b.now().UTC().Truncate(24 * time.Hour)
	var rows []StockRow
	for _, pos := range pf.Positions() {
		if pos.Instrument != models.InstrumentStock {
			continue
		}
		daysToER := 0
		if next, err := b.earnings.FetchNextEarningsDate(pos.Symbol); err == nil {
			daysToER = int(next.UTC().Truncate(24 * time.Hour).Sub(today).Hours() / 24)
		}
		rows = append(rows, StockRow{
			Symbol:   pos.Symbol,
			Quantity: pos.Quantity.InexactFloat64(),
			DaysToER: daysToER,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows
}

// CashRows builds the cash table with a trailing Total row.
func (b *Builder) CashRows(pf *models.Portfolio) []CashRow {
	var rows []CashRow
	total := decimal.Zero
	for _, pos := range pf.Positions() {
		if pos.Instrument != models.InstrumentCash {
			continue
		}
		rows = append(rows, CashRow{Symbol: pos.Symbol, Quantity: pos.Quantity})
		total = total.Add(pos.Quantity)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	rows = append(rows, CashRow{Symbol: "Total", Quantity: total})
	return rows
}

// Exposure aggregates per-underlying greek exposure across the option and
// stock tables: greek x unit x quantity, with stock counting as delta 1 per
// share. Values are truncated to whole units like the original summary.
func Exposure(options []OptionRow, stocks []StockRow) []ExposureRow {
	type accum struct {
		delta, gamma, vega, theta float64
		callQty, stockQty         float64
	}
	bySymbol := map[string]*accum{}
	get := func(symbol string) *accum {
		a, ok := bySymbol[symbol]
		if !ok {
			a = &accum{}
			bySymbol[symbol] = a
		}
		return a
	}

	for _, row := range options {
		a := get(row.Symbol)
		unit := float64(row.Unit)
		a.delta += row.Delta * unit * row.Quantity
		a.gamma += row.Gamma * unit * row.Quantity
		a.vega += row.Vega * unit * row.Quantity
		a.theta += row.Theta * unit * row.Quantity
		if row.CallPut == models.Call {
			a.callQty += row.Quantity
		}
	}
	for _, row := range stocks {
		a := get(row.Symbol)
		a.delta += row.Quantity // delta 1, unit 1
		a.stockQty += row.Quantity
	}

	symbols := make([]string, 0, len(bySymbol))
	for symbol := range bySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	rows := make([]ExposureRow, 0, len(symbols))
	for _, symbol := range symbols {
		a := bySymbol[symbol]
		rows = append(rows, ExposureRow{
			Symbol:              symbol,
			Delta:               int(a.delta),
			Gamma:               int(a.gamma),
			Vega:                int(a.vega),
			Theta:               int(a.theta),
			CovercallCapability: int(a.callQty + math.Floor(a.stockQty/sharesPerContract)),
		})
	}
	return rows
}
