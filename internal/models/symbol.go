// Package models defines the canonical position and option data model shared
// by every brokerage source, the enricher, and the rollover engine.
package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionType identifies the side of an option contract.
type OptionType string

const (
	// Call represents a call option contract.
	Call OptionType = "CALL"
	// Put represents a put option contract.
	Put OptionType = "PUT"
)

// Marker returns the single-letter marker used in the unified symbol format.
func (t OptionType) Marker() string {
	if t == Put {
		return "P"
	}
	return "C"
}

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == Call || t == Put
}

// expLayout is the 6-digit expiration encoding used by the unified format.
const expLayout = "060102"

// ParseError reports a source symbol that did not match its expected pattern.
// Callers keep the row as STOCK/unparseable or skip recognized non-security
// rows; a ParseError never aborts the run.
type ParseError struct {
	Source string // which encoding was expected (unified, brokerage, ib, fidelity)
	Input  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s symbol %q does not match expected pattern", e.Source, e.Input)
}

// OptionSymbol is the canonical representation of an option contract.
// It round-trips losslessly through the unified string format
// UNDERLYING[DIGITS]_YYMMDD{C|P}STRIKE.
type OptionSymbol struct {
	Underlying    string
	Disambiguator string // optional numeric suffix for multi-class tickers
	Expiration    time.Time
	Type          OptionType
	Strike        decimal.Decimal
}

var (
	unifiedPattern = regexp.MustCompile(`^([A-Za-z]+)(\d*)_(\d{6})([CP])(\d+\.?\d*)$`)

	// brokeragePattern covers the Schwab and TradeStation position feeds:
	// underlying, optional class digit, whitespace, YYMMDD, C/P, strike x1000.
	brokeragePattern = regexp.MustCompile(`([A-Za-z]+)(\d*)\s+(\d{6})([CP])(\d+\.?\d*)`)

	// ibPattern matches the bracketed contract suffix of an IB instrument
	// description, e.g. "JD JUN21'24 32 CALL [JD 240621C00032000 100]".
	// The bracket ticker must echo the leading ticker; Go's RE2 engine has
	// no backreferences, so ParseIBSymbol compares the two groups instead.
	ibPattern = regexp.MustCompile(`^([A-Z]+).*\[([A-Z]+)\s+(\d{6})([CP])(\d{8})\s+(\d+)\]$`)

	// fidelityPattern matches Fidelity CSV option symbols such as
	// " -SPX240621C5300"; the strike is already a plain decimal.
	fidelityPattern = regexp.MustCompile(`[^A-Za-z]*([A-Za-z]*)(\d{6})([CP])(\d+\.?\d*)`)
)

// thousand scales integer-encoded strikes back to dollars.
var thousand = decimal.NewFromInt(1000)

// ParseOptionSymbol parses the unified format UNDERLYING[DIGITS]_YYMMDD{C|P}STRIKE.
func ParseOptionSymbol(s string) (OptionSymbol, error) {
	m := unifiedPattern.FindStringSubmatch(s)
	if m == nil {
		return OptionSymbol{}, &ParseError{Source: "unified", Input: s}
	}
	return newSymbol("unified", s, m[1], m[2], m[3], m[4], m[5], false)
}

// ParseBrokerageSymbol parses the Schwab/TradeStation position feed encoding
// (whitespace-separated with the strike scaled x1000).
func ParseBrokerageSymbol(s string) (OptionSymbol, error) {
	m := brokeragePattern.FindStringSubmatch(s)
	if m == nil {
		return OptionSymbol{}, &ParseError{Source: "brokerage", Input: s}
	}
	return newSymbol("brokerage", s, m[1], m[2], m[3], m[4], m[5], true)
}

// ParseIBSymbol parses an IB instrument description with its bracketed
// contract block (8-digit strike scaled x1000).
func ParseIBSymbol(s string) (OptionSymbol, error) {
	m := ibPattern.FindStringSubmatch(s)
	if m == nil || m[2] != m[1] {
		return OptionSymbol{}, &ParseError{Source: "ib", Input: s}
	}
	return newSymbol("ib", s, m[1], "", m[3], m[4], m[5], true)
}

// ParseFidelitySymbol parses a Fidelity CSV option symbol (plain decimal strike).
func ParseFidelitySymbol(s string) (OptionSymbol, error) {
	m := fidelityPattern.FindStringSubmatch(s)
	if m == nil {
		return OptionSymbol{}, &ParseError{Source: "fidelity", Input: s}
	}
	return newSymbol("fidelity", s, m[1], "", m[2], m[3], m[4], false)
}

func newSymbol(source, input, underlying, disambiguator, exp, marker, strike string, scaled bool) (OptionSymbol, error) {
	expDate, err := time.Parse(expLayout, exp)
	if err != nil {
		return OptionSymbol{}, &ParseError{Source: source, Input: input}
	}
	d, err := decimal.NewFromString(strike)
	if err != nil {
		return OptionSymbol{}, &ParseError{Source: source, Input: input}
	}
	if scaled {
		// Integer-encoded strikes carry thousandths of a dollar.
		d = d.Div(thousand).Round(2)
	}
	optType := Call
	if marker == "P" {
		optType = Put
	}
	return OptionSymbol{
		Underlying:    strings.ToUpper(underlying),
		Disambiguator: disambiguator,
		Expiration:    expDate,
		Type:          optType,
		Strike:        d,
	}, nil
}

// String renders the unified format. Strike precision is preserved to at
// least two decimal places by the decimal representation; trailing zeros are
// trimmed so the output round-trips through ParseOptionSymbol.
func (o OptionSymbol) String() string {
	return o.Underlying + o.Disambiguator + "_" + o.Expiration.Format(expLayout) +
		o.Type.Marker() + o.Strike.String()
}

// StrikeFloat returns the strike as a float64 for market-data comparisons.
func (o OptionSymbol) StrikeFloat() float64 {
	return o.Strike.InexactFloat64()
}

// IsExpired reports whether the contract's expiration day has fully passed.
// The expiration date itself still counts as live until the following day.
func (o OptionSymbol) IsExpired(now time.Time) bool {
	return o.Expiration.Add(24 * time.Hour).Before(now)
}

// SchwabQuoteSymbol renders the fixed-width encoding required by the Schwab
// quote endpoint: underlying padded to 6, YYMMDD, C/P, strike x1000 as an
// 8-digit integer (e.g. "JD    240524C00032000").
func (o OptionSymbol) SchwabQuoteSymbol() string {
	strikeMils := o.Strike.Mul(thousand).Round(0).IntPart()
	return fmt.Sprintf("%-6s%s%s%08d", o.Underlying, o.Expiration.Format(expLayout), o.Type.Marker(), strikeMils)
}
