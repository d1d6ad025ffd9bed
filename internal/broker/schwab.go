package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"optroll/internal/models"
)

const schwabDateLayout = "2006-01-02"

// SchwabAPI is the Schwab trader/marketdata client. It implements
// PositionSource, ChainProvider and HistoricalSource for the pipeline.
type SchwabAPI struct {
	client   *http.Client
	baseURL  string
	session  Session
	logger   *log.Logger
	timeout  time.Duration
	accounts []string // encrypted account hashes, fetched lazily
}

// NewSchwabAPI creates a Schwab client from an already-valid session.
func NewSchwabAPI(session Session, logger *log.Logger) *SchwabAPI {
	const defaultTimeout = 10 * time.Second
	if logger == nil {
		logger = log.Default()
	}
	return &SchwabAPI{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: "https://api.schwabapi.com",
		session: session,
		logger:  logger,
		timeout: defaultTimeout,
	}
}

// WithBaseURL overrides the API base URL (tests, proxies).
func (s *SchwabAPI) WithBaseURL(baseURL string) *SchwabAPI {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (s *SchwabAPI) WithHTTPClient(c *http.Client) *SchwabAPI {
	if c != nil {
		s.client = c
	}
	return s
}

// WithTimeout sets the HTTP client timeout duration.
func (s *SchwabAPI) WithTimeout(timeout time.Duration) *SchwabAPI {
	s.timeout = timeout
	if s.client != nil {
		s.client.Timeout = timeout
	}
	return s
}

// Name identifies this source in logs and reports.
func (s *SchwabAPI) Name() string { return "schwab" }

// ============ API response structures ============

type accountNumbersResponse []struct {
	AccountNumber string `json:"accountNumber"`
	HashValue     string `json:"hashValue"`
}

type accountResponse struct {
	SecuritiesAccount struct {
		Positions []schwabPosition `json:"positions"`

		InitialBalances struct {
			CashBalance float64 `json:"cashBalance"`
		} `json:"initialBalances"`
	} `json:"securitiesAccount"`
}

type schwabPosition struct {
	LongQuantity  float64 `json:"longQuantity"`
	ShortQuantity float64 `json:"shortQuantity"`
	Instrument    struct {
		AssetType string `json:"assetType"`
		Symbol    string `json:"symbol"`
	} `json:"instrument"`
}

type priceHistoryResponse struct {
	Symbol  string `json:"symbol"`
	Candles []struct {
		Datetime int64   `json:"datetime"` // epoch millis
		Close    float64 `json:"close"`
	} `json:"candles"`
	Empty bool `json:"empty"`
}

type quoteEntry struct {
	Quote map[string]float64 `json:"quote"`
}

// ============ API methods ============

// fetchAccountNumbers resolves the encrypted account hashes for the session.
func (s *SchwabAPI) fetchAccountNumbers() ([]string, error) {
	if len(s.accounts) > 0 {
		return s.accounts, nil
	}
	endpoint := s.baseURL + "/trader/v1/accounts/accountNumbers"

	var response accountNumbersResponse
	if err := s.makeRequest(context.Background(), endpoint, &response); err != nil {
		return nil, fmt.Errorf("fetching account numbers: %w", err)
	}
	for _, acct := range response {
		s.accounts = append(s.accounts, acct.HashValue)
	}
	return s.accounts, nil
}

// FetchPositions returns every position across the session's accounts plus
// one CASH row per account. Option symbols that fail to parse are kept as
// STOCK rows with the raw symbol rather than silently dropped.
func (s *SchwabAPI) FetchPositions() ([]*models.Position, error) {
	accounts, err := s.fetchAccountNumbers()
	if err != nil {
		return nil, err
	}

	var out []*models.Position
	for i, acct := range accounts {
		endpoint := fmt.Sprintf("%s/trader/v1/accounts/%s?fields=positions", s.baseURL, acct)

		var response accountResponse
		if err := s.makeRequest(context.Background(), endpoint, &response); err != nil {
			return nil, fmt.Errorf("fetching positions for account %d: %w", i, err)
		}

		for _, raw := range response.SecuritiesAccount.Positions {
			qty := decimal.NewFromFloat(raw.LongQuantity - raw.ShortQuantity)
			switch raw.Instrument.AssetType {
			case "OPTION":
				sym, err := models.ParseBrokerageSymbol(raw.Instrument.Symbol)
				if err != nil {
					s.logger.Printf("schwab: %v; keeping as unparseable stock row", err)
					out = append(out, models.NewPosition(raw.Instrument.Symbol, models.InstrumentStock, qty))
					continue
				}
				out = append(out, models.NewPosition(sym.String(), models.InstrumentOption, qty))
			case "EQUITY", "COLLECTIVE_INVESTMENT":
				out = append(out, models.NewPosition(raw.Instrument.Symbol, models.InstrumentStock, qty))
			}
		}

		cash := decimal.NewFromFloat(response.SecuritiesAccount.InitialBalances.CashBalance)
		out = append(out, models.NewPosition(fmt.Sprintf("Schwab%d", i), models.InstrumentCash, cash))
	}
	return out, nil
}

// FetchExactChain returns the chain restricted to one strike and expiration.
func (s *SchwabAPI) FetchExactChain(underlying string, optType models.OptionType, strike float64, expiration time.Time) (*ChainSnapshot, error) {
	exp := expiration.Format(schwabDateLayout)
	params := url.Values{}
	params.Set("symbol", underlying)
	params.Set("contractType", string(optType))
	params.Set("strike", strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", strike), "0"), "."))
	params.Set("fromDate", exp)
	params.Set("toDate", exp)

	return s.fetchChain(params)
}

// FetchFullChain returns every contract of the given type expiring within
// [from, to], without a strike filter.
func (s *SchwabAPI) FetchFullChain(underlying string, optType models.OptionType, from, to time.Time) (*ChainSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", underlying)
	params.Set("contractType", string(optType))
	params.Set("fromDate", from.Format(schwabDateLayout))
	params.Set("toDate", to.Format(schwabDateLayout))

	return s.fetchChain(params)
}

func (s *SchwabAPI) fetchChain(params url.Values) (*ChainSnapshot, error) {
	endpoint := s.baseURL + "/marketdata/v1/chains?" + params.Encode()

	var snapshot ChainSnapshot
	if err := s.makeRequest(context.Background(), endpoint, &snapshot); err != nil {
		return nil, err
	}
	if len(snapshot.CallExpDateMap) == 0 && len(snapshot.PutExpDateMap) == 0 {
		return nil, nil
	}
	return &snapshot, nil
}

// FetchDailyCloses returns up to lookbackDays calendar days of daily closes,
// oldest first.
func (s *SchwabAPI) FetchDailyCloses(underlying string, lookbackDays int) ([]DailyClose, error) {
	end := time.Now()
	start := end.AddDate(0, 0, -lookbackDays)

	params := url.Values{}
	params.Set("symbol", underlying)
	params.Set("periodType", "year")
	params.Set("frequencyType", "daily")
	params.Set("startDate", fmt.Sprintf("%d", start.UnixMilli()))
	params.Set("endDate", fmt.Sprintf("%d", end.UnixMilli()))
	endpoint := s.baseURL + "/marketdata/v1/pricehistory?" + params.Encode()

	var response priceHistoryResponse
	if err := s.makeRequest(context.Background(), endpoint, &response); err != nil {
		return nil, fmt.Errorf("fetching price history for %s: %w", underlying, err)
	}

	closes := make([]DailyClose, 0, len(response.Candles))
	for _, candle := range response.Candles {
		closes = append(closes, DailyClose{
			Date:  time.UnixMilli(candle.Datetime).UTC(),
			Close: candle.Close,
		})
	}
	return closes, nil
}

// GetOptionQuote fetches the raw quote fields for one option contract using
// the fixed-width Schwab option symbol encoding.
func (s *SchwabAPI) GetOptionQuote(sym models.OptionSymbol) (map[string]float64, error) {
	encoded := sym.SchwabQuoteSymbol()
	endpoint := fmt.Sprintf("%s/marketdata/v1/%s/quotes?fields=quote", s.baseURL, url.PathEscape(encoded))

	response := map[string]quoteEntry{}
	if err := s.makeRequest(context.Background(), endpoint, &response); err != nil {
		return nil, err
	}
	entry, ok := response[encoded]
	if !ok {
		return nil, fmt.Errorf("no quote found for option symbol %q", encoded)
	}
	return entry.Quote, nil
}

// makeRequest performs an authenticated GET and decodes the JSON response.
func (s *SchwabAPI) makeRequest(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+s.session.AccessToken)
	req.Header.Add("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> failed to read error body", endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s", endpoint, string(body))}
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil {
		return fmt.Errorf("decoding response from %s: %w", endpoint, err)
	}
	return nil
}

// Compile-time checks that SchwabAPI satisfies the pipeline contracts.
var (
	_ PositionSource   = (*SchwabAPI)(nil)
	_ ChainProvider    = (*SchwabAPI)(nil)
	_ HistoricalSource = (*SchwabAPI)(nil)
)
