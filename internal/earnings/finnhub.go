// Package earnings provides the earnings-calendar client used to flag
// near-term earnings risk on positions.
package earnings

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

	"golang.org/x/time/rate"
)

// FarFuture is the sentinel returned when no upcoming earnings date is
// known; downstream it reads as "no near-term earnings risk".
var FarFuture = time.Date(2099, time.December, 31, 0, 0, 0, 0, time.UTC)

// DefaultLookaheadDays bounds how far out the calendar is queried.
const DefaultLookaheadDays = 100

// FinnhubClient queries the Finnhub earnings calendar. Calls are paced
// through a rate limiter to stay inside the free-tier quota.
type FinnhubClient struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	limiter       *rate.Limiter
	logger        *log.Logger
	lookaheadDays int
	now           func() time.Time
}

// NewFinnhubClient creates a calendar client with a 1 req/s limiter.
func NewFinnhubClient(apiKey string, logger *log.Logger) *FinnhubClient {
	if logger == nil {
		logger = log.Default()
	}
	return &FinnhubClient{
		client:        &http.Client{Timeout: 10 * time.Second},
		baseURL:       "https://finnhub.io",
		apiKey:        apiKey,
		limiter:       rate.NewLimiter(rate.Every(time.Second), 1),
		logger:        logger,
		lookaheadDays: DefaultLookaheadDays,
		now:           time.Now,
	}
}

// WithBaseURL overrides the API base URL (tests, proxies).
func (c *FinnhubClient) WithBaseURL(baseURL string) *FinnhubClient {
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	return c
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (c *FinnhubClient) WithHTTPClient(hc *http.Client) *FinnhubClient {
	if hc != nil {
		c.client = hc
	}
	return c
}

// WithLookahead sets how many days forward the calendar is queried.
func (c *FinnhubClient) WithLookahead(days int) *FinnhubClient {
	if days > 0 {
		c.lookaheadDays = days
	}
	return c
}

type calendarResponse struct {
	EarningsCalendar []struct {
		Date   string `json:"date"`
		Symbol string `json:"symbol"`
	} `json:"earningsCalendar"`
}

// FetchNextEarningsDate returns the last scheduled earnings date between
// yesterday and the lookahead horizon. Missing data and transport failures
// both degrade to the FarFuture sentinel; earnings risk is advisory and must
// never fail a run.
func (c *FinnhubClient) FetchNextEarningsDate(symbol string) (time.Time, error) {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return FarFuture, nil
	}

	today := c.now()
	params := url.Values{}
	params.Set("from", today.AddDate(0, 0, -1).Format("2006-01-02"))
	params.Set("to", today.AddDate(0, 0, c.lookaheadDays).Format("2006-01-02"))
	params.Set("symbol", symbol)
	params.Set("token", c.apiKey)
	endpoint := c.baseURL + "/api/v1/calendar/earnings?" + params.Encode()

	response, err := c.fetch(endpoint)
	if err != nil {
		c.logger.Printf("earnings lookup failed for %s: %v; using far-future sentinel", symbol, err)
		return FarFuture, nil
	}
	if len(response.EarningsCalendar) == 0 {
		return FarFuture, nil
	}

	last := response.EarningsCalendar[len(response.EarningsCalendar)-1]
	date, err := time.Parse("2006-01-02", last.Date)
	if err != nil {
		c.logger.Printf("earnings lookup for %s returned bad date %q; using far-future sentinel", symbol, last.Date)
		return FarFuture, nil
	}
	return date, nil
}

func (c *FinnhubClient) fetch(endpoint string) (*calendarResponse, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Printf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("earnings calendar returned %d: %s", resp.StatusCode, string(body))
	}

	var response calendarResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, err
	}
	return &response, nil
}
