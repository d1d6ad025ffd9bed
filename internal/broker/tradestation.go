package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"optroll/internal/models"
)

// TradeStationAPI fetches positions and the cash balance for one configured
// TradeStation account.
type TradeStationAPI struct {
	client  *http.Client
	baseURL string
	session Session
	logger  *log.Logger
}

// NewTradeStationAPI creates a TradeStation client from an already-valid
// session. The session's AccountID selects the brokerage account.
func NewTradeStationAPI(session Session, logger *log.Logger) *TradeStationAPI {
	if logger == nil {
		logger = log.Default()
	}
	return &TradeStationAPI{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: "https://api.tradestation.com",
		session: session,
		logger:  logger,
	}
}

// WithBaseURL overrides the API base URL (tests, proxies).
func (t *TradeStationAPI) WithBaseURL(baseURL string) *TradeStationAPI {
	if baseURL != "" {
		t.baseURL = strings.TrimRight(baseURL, "/")
	}
	return t
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (t *TradeStationAPI) WithHTTPClient(c *http.Client) *TradeStationAPI {
	if c != nil {
		t.client = c
	}
	return t
}

// Name identifies this source in logs and reports.
func (t *TradeStationAPI) Name() string { return "tradestation" }

type tsPositionsResponse struct {
	Positions []struct {
		AssetType string `json:"AssetType"`
		Symbol    string `json:"Symbol"`
		Quantity  string `json:"Quantity"`
	} `json:"Positions"`
}

type tsBalancesResponse struct {
	Balances []struct {
		CashBalance string `json:"CashBalance"`
	} `json:"Balances"`
}

// FetchPositions returns the account's positions plus one CASH row carrying
// the cash balance. Option symbols that fail to parse are kept as STOCK rows
// with the raw symbol rather than silently dropped.
func (t *TradeStationAPI) FetchPositions() ([]*models.Position, error) {
	endpoint := fmt.Sprintf("%s/v3/brokerage/accounts/%s/positions", t.baseURL, t.session.AccountID)

	var response tsPositionsResponse
	if err := t.makeRequest(context.Background(), endpoint, &response); err != nil {
		return nil, fmt.Errorf("fetching tradestation positions: %w", err)
	}

	var out []*models.Position
	for _, raw := range response.Positions {
		qty, err := decimal.NewFromString(raw.Quantity)
		if err != nil {
			t.logger.Printf("tradestation: bad quantity %q for %s, skipping", raw.Quantity, raw.Symbol)
			continue
		}
		switch raw.AssetType {
		case "STOCKOPTION", "OPTION":
			sym, err := models.ParseBrokerageSymbol(raw.Symbol)
			if err != nil {
				t.logger.Printf("tradestation: %v; keeping as unparseable stock row", err)
				out = append(out, models.NewPosition(raw.Symbol, models.InstrumentStock, qty))
				continue
			}
			out = append(out, models.NewPosition(sym.String(), models.InstrumentOption, qty))
		case "STOCK":
			out = append(out, models.NewPosition(raw.Symbol, models.InstrumentStock, qty))
		}
	}

	endpoint = fmt.Sprintf("%s/v3/brokerage/accounts/%s/balances", t.baseURL, t.session.AccountID)
	var balances tsBalancesResponse
	if err := t.makeRequest(context.Background(), endpoint, &balances); err != nil {
		return nil, fmt.Errorf("fetching tradestation balances: %w", err)
	}
	if len(balances.Balances) > 0 {
		cash, err := decimal.NewFromString(balances.Balances[0].CashBalance)
		if err != nil {
			t.logger.Printf("tradestation: bad cash balance %q, skipping cash row", balances.Balances[0].CashBalance)
		} else {
			out = append(out, models.NewPosition("TradeStation", models.InstrumentCash, cash))
		}
	}
	return out, nil
}

func (t *TradeStationAPI) makeRequest(ctx context.Context, endpoint string, response interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Add("Authorization", "Bearer "+t.session.AccessToken)
	req.Header.Add("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			t.logger.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> failed to read error body", endpoint)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("GET %s -> %s", endpoint, string(body))}
	}

	return json.NewDecoder(resp.Body).Decode(response)
}

var _ PositionSource = (*TradeStationAPI)(nil)
