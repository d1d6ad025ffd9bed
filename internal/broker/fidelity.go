package broker

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"optroll/internal/models"
)

// fidelityMoneyPattern recognizes the money-market sweep funds Fidelity
// reports cash balances through.
var fidelityMoneyPattern = regexp.MustCompile(`^FDRXX.*|^SPAXX.*`)

// FidelityCSV reads positions from one or more exported Fidelity account
// CSV files. Stock rows are only accepted from the retirement accounts the
// export mixes in; everything else on those files is noise.
type FidelityCSV struct {
	paths  []string
	logger *log.Logger
}

// NewFidelityCSV creates a source over the given export files.
func NewFidelityCSV(paths []string, logger *log.Logger) *FidelityCSV {
	if logger == nil {
		logger = log.Default()
	}
	return &FidelityCSV{paths: paths, logger: logger}
}

// Name identifies this source in logs and reports.
func (f *FidelityCSV) Name() string { return "fidelity" }

// FetchPositions parses every configured export file.
func (f *FidelityCSV) FetchPositions() ([]*models.Position, error) {
	var out []*models.Position
	for _, path := range f.paths {
		positions, err := f.parseFile(path)
		if err != nil {
			return nil, fmt.Errorf("parsing fidelity export %s: %w", path, err)
		}
		out = append(out, positions...)
	}
	return out, nil
}

func (f *FidelityCSV) parseFile(path string) ([]*models.Position, error) {
	file, err := os.Open(path) // #nosec G304 -- path comes from the user's config file
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			f.logger.Printf("Failed to close %s: %v", path, err)
		}
	}()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // exports carry trailing disclaimer rows

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := columnIndex(header)
	symbolIdx, ok := col["Symbol"]
	if !ok {
		return nil, fmt.Errorf("export has no Symbol column")
	}

	var out []*models.Position
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if symbolIdx >= len(record) {
			continue
		}
		symbol := strings.TrimSpace(record[symbolIdx])
		if symbol == "" || symbol == "Pending Activity" {
			continue
		}

		if fidelityMoneyPattern.MatchString(symbol) {
			value := cellValue(record, col, "Current Value")
			cash, err := decimal.NewFromString(strings.TrimPrefix(value, "$"))
			if err != nil {
				f.logger.Printf("fidelity: bad current value %q for %s, skipping", value, symbol)
				continue
			}
			out = append(out, models.NewPosition(symbol, models.InstrumentCash, cash.Round(0)))
			continue
		}

		if sym, err := models.ParseFidelitySymbol(symbol); err == nil {
			qty, err := decimal.NewFromString(cellValue(record, col, "Quantity"))
			if err != nil {
				f.logger.Printf("fidelity: bad quantity for %s, skipping", symbol)
				continue
			}
			out = append(out, models.NewPosition(sym.String(), models.InstrumentOption, qty))
			continue
		}

		account := strings.ToUpper(cellValue(record, col, "Account Name"))
		if account == "ROTH IRA" || account == "TRADITIONAL IRA" {
			qty, err := decimal.NewFromString(cellValue(record, col, "Quantity"))
			if err != nil {
				f.logger.Printf("fidelity: bad quantity for %s, skipping", symbol)
				continue
			}
			out = append(out, models.NewPosition(symbol, models.InstrumentStock, qty))
		}
	}
	return out, nil
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	return col
}

func cellValue(record []string, col map[string]int, name string) string {
	idx, ok := col[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

var _ PositionSource = (*FidelityCSV)(nil)
