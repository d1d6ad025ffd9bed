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

// ibMoneyPattern recognizes the USD cash row of an IB portfolio export.
var ibMoneyPattern = regexp.MustCompile(`^USD`)

// ibSkipRows are summary rows the export mixes into the instrument column.
var ibSkipRows = map[string]bool{
	"Cash Balances":  true,
	"CNH":            true,
	"Total (in USD)": true,
}

// ibStockExchanges are the listing exchanges whose rows count as equity
// positions; anything else in the description column is ignored.
var ibStockExchanges = map[string]bool{
	"pink":   true,
	"nyse":   true,
	"nasdaq": true,
}

// IBCSV reads positions from an Interactive Brokers portfolio export. The
// export carries a banner line before the real header.
type IBCSV struct {
	path   string
	logger *log.Logger
}

// NewIBCSV creates a source over the given export file.
func NewIBCSV(path string, logger *log.Logger) *IBCSV {
	if logger == nil {
		logger = log.Default()
	}
	return &IBCSV{path: path, logger: logger}
}

// Name identifies this source in logs and reports.
func (b *IBCSV) Name() string { return "ib" }

// FetchPositions parses the configured export file.
func (b *IBCSV) FetchPositions() ([]*models.Position, error) {
	file, err := os.Open(b.path) // #nosec G304 -- path comes from the user's config file
	if err != nil {
		return nil, fmt.Errorf("opening ib export: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			b.logger.Printf("Failed to close %s: %v", b.path, err)
		}
	}()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	// Skip the banner line above the header.
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading banner line: %w", err)
	}
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	col := columnIndex(header)
	descIdx, ok := col["Financial Instrument Description"]
	if !ok {
		return nil, fmt.Errorf("export has no Financial Instrument Description column")
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
		if descIdx >= len(record) {
			continue
		}
		desc := strings.TrimSpace(record[descIdx])
		if desc == "" || ibSkipRows[desc] {
			continue
		}

		if ibMoneyPattern.MatchString(desc) {
			qty, err := decimal.NewFromString(cellValue(record, col, "Position"))
			if err != nil {
				b.logger.Printf("ib: bad cash position for %s, skipping", desc)
				continue
			}
			out = append(out, models.NewPosition("IB", models.InstrumentCash, qty.Round(0)))
			continue
		}

		if sym, err := models.ParseIBSymbol(desc); err == nil {
			qty, err := decimal.NewFromString(cellValue(record, col, "Position"))
			if err != nil {
				b.logger.Printf("ib: bad position for %s, skipping", desc)
				continue
			}
			out = append(out, models.NewPosition(sym.String(), models.InstrumentOption, qty))
			continue
		}

		if ibStockExchanges[strings.ToLower(cellValue(record, col, "Exchange"))] {
			qty, err := decimal.NewFromString(cellValue(record, col, "Position"))
			if err != nil {
				b.logger.Printf("ib: bad position for %s, skipping", desc)
				continue
			}
			out = append(out, models.NewPosition(desc, models.InstrumentStock, qty))
		}
	}
	return out, nil
}

var _ PositionSource = (*IBCSV)(nil)
