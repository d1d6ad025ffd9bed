package report

import (
	"fmt"
	"html/template"
	"strings"
	"time"
)

// Data is everything the rendered report contains.
type Data struct {
	RunID       string
	GeneratedAt time.Time
	Options     []OptionRow
	Exposure    []ExposureRow
	Stocks      []StockRow
	Cash        []CashRow
}

var reportFuncs = template.FuncMap{
	"f2": func(v float64) string { return fmt.Sprintf("%.2f", v) },
	"f1": func(v float64) string { return fmt.Sprintf("%.1f", v) },
	"f3": func(v float64) string { return fmt.Sprintf("%.3f", v) },
	"f0": func(v float64) string { return fmt.Sprintf("%.0f", v) },
	"date": func(t time.Time) string {
		return t.Format("2006-01-02")
	},
}

// Cells with these values get the highlight classes the original styled
// tables used: yellow for ITM, light blue for near dates.
var reportTemplate = template.Must(template.New("report").Funcs(reportFuncs).Parse(`<html>
<head><style>
table { border-collapse: collapse; width: auto; }
th, td { max-width: fit-content; padding: 2px 4px; white-space: nowrap; font-size: 11px; border: 1px solid #ccc; text-align: left; }
.itm { background: #FFFF00; }
.near { background: #a1eafb; }
h3 { font-family: sans-serif; font-size: 13px; }
</style></head>
<body>
<h3>Option Positions (run {{.RunID}}, {{date .GeneratedAt}})</h3>
<table>
<tr><th>Symbol</th><th>ITM</th><th>Roll_To</th><th>Action</th><th>Price</th><th>DaysToExp</th><th>DaysToER</th><th>Quantity</th><th>Extrinsic</th><th>APR(%)</th><th>APR*Xstd</th><th>CallPut</th><th>Strike</th><th>Underlying</th><th>Xstd</th><th>Exp</th><th>Delta</th><th>Gamma</th><th>Theta</th><th>Vega</th><th>OpenInterest</th><th>Volatility</th><th>Roll_Strike</th><th>Roll_DTE</th><th>Roll_Credit</th><th>Roll_Extrinsic</th><th>Roll_Ext/Day</th><th>Roll_Distance(%)</th><th>Roll_APR(%)</th><th>Roll_BidAskSpread(%)</th><th>Roll_Theta</th><th>Roll_IV</th><th>Roll_OI</th><th>Roll_Quality</th></tr>
{{range .Options}}<tr>
<td>{{.Symbol}}</td>
<td{{if eq .ITM 1}} class="itm"{{end}}>{{.ITM}}</td>
<td>{{.RollTo}}</td>
<td>{{.Action}}</td>
<td>{{f2 .Price}}</td>
<td{{if le .DaysToExp 5}} class="near"{{end}}>{{.DaysToExp}}</td>
<td{{if and (ge .DaysToER 0) (le .DaysToER 5)}} class="near"{{end}}>{{.DaysToER}}</td>
<td>{{f0 .Quantity}}</td>
<td>{{f2 .Extrinsic}}</td>
<td>{{f0 .APR}}</td>
<td>{{f1 .APRxXstd}}</td>
<td>{{.CallPut}}</td>
<td>{{f2 .Strike}}</td>
<td>{{f2 .Underlying}}</td>
<td>{{f2 .Xstd}}</td>
<td>{{date .Exp}}</td>
<td>{{f2 .Delta}}</td>
<td>{{f2 .Gamma}}</td>
<td>{{f2 .Theta}}</td>
<td>{{f2 .Vega}}</td>
<td>{{.OpenInterest}}</td>
<td>{{f2 .Volatility}}</td>
{{if .Rollover}}<td>{{f2 .Rollover.Strike}}</td>
<td>{{.Rollover.DaysToExpiration}}</td>
<td>{{f2 .Rollover.NetCredit}}</td>
<td>{{f2 .Rollover.Extrinsic}}</td>
<td>{{f3 .Rollover.ExtrinsicPerDay}}</td>
<td>{{f1 .Rollover.DistancePct}}</td>
<td>{{f1 .Rollover.APR}}</td>
<td>{{f1 .Rollover.BidAskSpreadPct}}</td>
<td>{{f2 .Rollover.Theta}}</td>
<td>{{f2 .Rollover.ImpliedVol}}</td>
<td>{{.Rollover.OpenInterest}}</td>
<td>{{f1 .Rollover.QualityScore}}</td>
{{else}}<td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td><td></td>{{end}}
</tr>
{{end}}</table>

<h3>Greek Exposure</h3>
<table>
<tr><th>Symbol</th><th>Delta</th><th>Gamma</th><th>Vega</th><th>Theta</th><th>Covercall_capability</th></tr>
{{range .Exposure}}<tr><td>{{.Symbol}}</td><td>{{.Delta}}</td><td>{{.Gamma}}</td><td>{{.Vega}}</td><td>{{.Theta}}</td><td>{{.CovercallCapability}}</td></tr>
{{end}}</table>

<h3>Stocks</h3>
<table>
<tr><th>Symbol</th><th>Quantity</th><th>DaysToER</th></tr>
{{range .Stocks}}<tr><td>{{.Symbol}}</td><td>{{f0 .Quantity}}</td><td{{if and (ge .DaysToER 0) (le .DaysToER 5)}} class="near"{{end}}>{{.DaysToER}}</td></tr>
{{end}}</table>

<h3>Cash</h3>
<table>
<tr><th>Symbol</th><th>Quantity</th></tr>
{{range .Cash}}<tr><td>{{.Symbol}}</td><td>{{.Quantity}}</td></tr>
{{end}}</table>
</body>
</html>
`))

// RenderHTML renders the full report document.
func RenderHTML(data Data) (string, error) {
	var sb strings.Builder
	if err := reportTemplate.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering report: %w", err)
	}
	return sb.String(), nil
}
