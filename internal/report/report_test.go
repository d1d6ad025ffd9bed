package report

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optroll/internal/models"
)

func testClock() time.Time {
	return time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
}

type fakeFinder struct {
	candidate *models.RolloverCandidate
	calls     int
}

func (f *fakeFinder) FindBestRollover(*models.OptionAnalytics, decimal.Decimal, bool) *models.RolloverCandidate {
	f.calls++
	return f.candidate
}

type fakeEarnings struct {
	dates map[string]time.Time
}

func (f *fakeEarnings) FetchNextEarningsDate(symbol string) (time.Time, error) {
	if date, ok := f.dates[symbol]; ok {
		return date, nil
	}
	return time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC), nil
}

func newTestBuilder(finder RolloverFinder, earnings *fakeEarnings) *Builder {
	if earnings == nil {
		earnings = &fakeEarnings{}
	}
	return NewBuilder(finder, earnings, log.New(io.Discard, "", 0)).WithClock(testClock)
}

func optionPosition(t *testing.T, symbol string, qty int64, analytics models.OptionAnalytics) *models.Position {
	t.Helper()
	sym, err := models.ParseOptionSymbol(symbol)
	require.NoError(t, err)
	analytics.Option = sym
	pos := models.NewPosition(symbol, models.InstrumentOption, decimal.NewFromInt(qty))
	pos.Analytics = &analytics
	return pos
}

func TestOptionRows_APRAndOrdering(t *testing.T) {
	pf := models.NewPortfolio()
	pf.Add(optionPosition(t, "TSM_250117P85.5", -1, models.OptionAnalytics{
		UnderlyingPrice: 150, MidPrice: 1.0, Extrinsic: 1.0, DaysToExpiration: 200,
	}))
	pf.Add(optionPosition(t, "BIDU_240621C110", -2, models.OptionAnalytics{
		UnderlyingPrice:   104,
		MidPrice:          2.50,
		Extrinsic:         2.50,
		DaysToExpiration:  32,
		DaysToEarnings:    8,
		Delta:             0.30,
		OpenInterest:      420,
		ImpliedVol:        35.5,
		StrikeDistanceStd: 1.5,
	}))

	builder := newTestBuilder(&fakeFinder{}, nil)
	rows := builder.OptionRows(pf)
	require.Len(t, rows, 2)

	// Ordered by expiration.
	assert.Equal(t, "BIDU", rows[0].Symbol)
	assert.Equal(t, "TSM", rows[1].Symbol)

	row := rows[0]
	// (2.50*100 / (110*100)) * (365/33) * 100, rounded to a whole percent.
	assert.InDelta(t, 25.0, row.APR, 1e-9)
	assert.InDelta(t, 25.0*1.5, row.APRxXstd, 1e-9)
	assert.Equal(t, models.Call, row.CallPut)
	assert.InDelta(t, 110.0, row.Strike, 1e-9)
	assert.Equal(t, float64(-2), row.Quantity)
	assert.Equal(t, 100, row.Unit)
	assert.Equal(t, 0, row.Action)
	assert.Empty(t, row.RollTo)
	assert.Nil(t, row.Rollover)
}

func TestOptionRows_LongPositionAPRNegated(t *testing.T) {
	pf := models.NewPortfolio()
	pf.Add(optionPosition(t, "BIDU_240621C110", 2, models.OptionAnalytics{
		UnderlyingPrice: 104, MidPrice: 2.50, Extrinsic: 2.50, DaysToExpiration: 32,
	}))

	rows := newTestBuilder(&fakeFinder{}, nil).OptionRows(pf)
	require.Len(t, rows, 1)
	assert.InDelta(t, -25.0, rows[0].APR, 1e-9)
}

func TestOptionRows_RolloverOnlyForFlaggedShorts(t *testing.T) {
	candidate := &models.RolloverCandidate{
		Symbol:           "BIDU_240621C115",
		Strike:           115,
		DaysToExpiration: 31,
		NetCredit:        0.15,
		APR:              12.5,
	}
	finder := &fakeFinder{candidate: candidate}

	pf := models.NewPortfolio()
	pf.Add(optionPosition(t, "BIDU_240524C110", -2, models.OptionAnalytics{
		UnderlyingPrice: 112, MidPrice: 2.2, Extrinsic: 0.2,
		DaysToExpiration: 3, InTheMoney: true, ActionNeeded: true,
	}))
	pf.Add(optionPosition(t, "BIDU_240621C130", -1, models.OptionAnalytics{
		UnderlyingPrice: 112, MidPrice: 1.5, Extrinsic: 1.5, DaysToExpiration: 31,
	}))
	// Long position never triggers the search even when flagged.
	pf.Add(optionPosition(t, "TSM_240621C160", 1, models.OptionAnalytics{
		UnderlyingPrice: 150, MidPrice: 0.5, Extrinsic: 0.5,
		DaysToExpiration: 31, ActionNeeded: true,
	}))

	rows := newTestBuilder(finder, nil).OptionRows(pf)
	require.Len(t, rows, 3)
	assert.Equal(t, 1, finder.calls)

	flagged := rows[0]
	assert.Equal(t, 1, flagged.Action)
	require.NotNil(t, flagged.Rollover)
	assert.Equal(t, "240621C115", flagged.RollTo, "roll-to column drops the ticker prefix")

	assert.Nil(t, rows[1].Rollover)
	assert.Nil(t, rows[2].Rollover)
}

func TestStockRows_EarningsCountdown(t *testing.T) {
	earnings := &fakeEarnings{dates: map[string]time.Time{
		"BIDU": time.Date(2024, 5, 28, 0, 0, 0, 0, time.UTC),
	}}

	pf := models.NewPortfolio()
	pf.Add(models.NewPosition("TSM", models.InstrumentStock, decimal.NewFromInt(100)))
	pf.Add(models.NewPosition("BIDU", models.InstrumentStock, decimal.NewFromInt(200)))
	pf.Add(models.NewPosition("Schwab0", models.InstrumentCash, decimal.NewFromInt(1000)))

	rows := newTestBuilder(&fakeFinder{}, earnings).StockRows(pf)
	require.Len(t, rows, 2)

	assert.Equal(t, "BIDU", rows[0].Symbol)
	assert.Equal(t, 8, rows[0].DaysToER)
	assert.Equal(t, "TSM", rows[1].Symbol)
	assert.Greater(t, rows[1].DaysToER, 10000, "sentinel date reads as far-future")
}

func TestCashRows_TotalAppended(t *testing.T) {
	pf := models.NewPortfolio()
	pf.Add(models.NewPosition("Schwab0", models.InstrumentCash, decimal.NewFromFloat(2500.75)))
	pf.Add(models.NewPosition("IB", models.InstrumentCash, decimal.NewFromInt(12346)))
	pf.Add(models.NewPosition("BIDU", models.InstrumentStock, decimal.NewFromInt(100)))

	rows := newTestBuilder(&fakeFinder{}, nil).CashRows(pf)
	require.Len(t, rows, 3)
	assert.Equal(t, "IB", rows[0].Symbol)
	assert.Equal(t, "Schwab0", rows[1].Symbol)
	assert.Equal(t, "Total", rows[2].Symbol)
	assert.Equal(t, "14846.75", rows[2].Quantity.String())
}

func TestExposure_AggregatesPerUnderlying(t *testing.T) {
	options := []OptionRow{
		{Symbol: "BIDU", CallPut: models.Call, Quantity: -2, Unit: 100,
			Delta: 0.30, Gamma: 0.02, Theta: -0.05, Vega: 0.12},
		{Symbol: "BIDU", CallPut: models.Put, Quantity: -1, Unit: 100,
			Delta: -0.20, Gamma: 0.01, Theta: -0.03, Vega: 0.10},
		{Symbol: "TSM", CallPut: models.Call, Quantity: 1, Unit: 100, Delta: 0.50},
	}
	stocks := []StockRow{
		{Symbol: "BIDU", Quantity: 250},
	}

	rows := Exposure(options, stocks)
	require.Len(t, rows, 2)

	bidu := rows[0]
	assert.Equal(t, "BIDU", bidu.Symbol)
	// -2*100*0.30 + -1*100*(-0.20) + 250 shares = -60 + 20 + 250.
	assert.Equal(t, 210, bidu.Delta)
	// Calls held -2, plus 250/100 = 2 round lots.
	assert.Equal(t, 0, bidu.CovercallCapability)

	tsm := rows[1]
	assert.Equal(t, "TSM", tsm.Symbol)
	assert.Equal(t, 50, tsm.Delta)
	assert.Equal(t, 1, tsm.CovercallCapability)
}

func TestRenderHTML(t *testing.T) {
	data := Data{
		RunID:       "run-1",
		GeneratedAt: testClock(),
		Options: []OptionRow{{
			Symbol: "BIDU", ITM: 1, Action: 1, RollTo: "240621C115",
			Price: 2.2, DaysToExp: 3, DaysToER: 8, Quantity: -2,
			Extrinsic: 0.2, APR: 25, APRxXstd: 37.5,
			CallPut: models.Call, Strike: 110, Underlying: 112, Xstd: -1.5,
			Exp:   time.Date(2024, 5, 24, 0, 0, 0, 0, time.UTC),
			Delta: 0.8, OpenInterest: 420, Volatility: 35.5, Unit: 100,
			Rollover: &models.RolloverCandidate{
				Symbol: "BIDU_240621C115", Strike: 115, DaysToExpiration: 31,
				NetCredit: 0.15, Extrinsic: 1.25, ExtrinsicPerDay: 0.04,
				DistancePct: -5.8, APR: 13.3, BidAskSpreadPct: 8.0,
				QualityScore: 78.5, OpenInterest: 500,
			},
		}},
		Exposure: []ExposureRow{{Symbol: "BIDU", Delta: 210}},
		Stocks:   []StockRow{{Symbol: "BIDU", Quantity: 250, DaysToER: 8}},
		Cash: []CashRow{
			{Symbol: "Schwab0", Quantity: decimal.NewFromFloat(2500.75)},
			{Symbol: "Total", Quantity: decimal.NewFromFloat(2500.75)},
		},
	}

	html, err := RenderHTML(data)
	require.NoError(t, err)

	assert.Contains(t, html, "run-1")
	assert.Contains(t, html, "2024-05-20")
	assert.Contains(t, html, "240621C115")
	assert.Contains(t, html, `class="itm"`)
	assert.Contains(t, html, `class="near"`)
	assert.Contains(t, html, "Covercall_capability")
	assert.Contains(t, html, "2500.75")
	assert.Contains(t, html, ">0.15<", "rollover net credit cell")
}

func TestRenderHTML_EmptyPortfolio(t *testing.T) {
	html, err := RenderHTML(Data{RunID: "empty", GeneratedAt: testClock()})
	require.NoError(t, err)
	assert.Contains(t, html, "Option Positions")
	assert.Contains(t, html, "Cash")
}
