// Package yahoo provides a Yahoo Finance API client for historical and
// current price data.
package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Typed errors so callers can distinguish transient failures from missing data.
var (
	// ErrNotFound means Yahoo has no data for the symbol (or none in range).
	ErrNotFound = errors.New("yahoo: no data for symbol")
	// ErrRateLimited means Yahoo returned HTTP 429.
	ErrRateLimited = errors.New("yahoo: rate limited")
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Client is a Yahoo Finance API client
type Client struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	log        zerolog.Logger
}

// NewClient creates a new Yahoo Finance client
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: 3,
		log:        log.With().Str("client", "yahoo").Logger(),
	}
}

// SetBaseURL overrides the API endpoint. Used in tests.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// chartQuote holds the OHLCV arrays of a chart result
type chartQuote struct {
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []int64   `json:"volume"`
}

// chartResult is a single entry of the v8 chart API payload
type chartResult struct {
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote    []chartQuote `json:"quote"`
		AdjClose []struct {
			AdjClose []float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
	Meta struct {
		Symbol             string  `json:"symbol"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
	} `json:"meta"`
}

// chartResponse mirrors the v8 chart API envelope
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetDailyHistory fetches daily OHLCV data for a symbol between start and end
// (end exclusive). Transient failures are retried with exponential backoff.
func (c *Client) GetDailyHistory(ctx context.Context, symbol string, start, end time.Time) ([]HistoricalPrice, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("period1", fmt.Sprintf("%d", start.Unix()))
	params.Add("period2", fmt.Sprintf("%d", end.Unix()))
	params.Add("events", "div,splits")

	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?" + params.Encode()

	result, err := c.fetchChart(ctx, symbol, reqURL)
	if err != nil {
		return nil, err
	}

	timestamps := result.Timestamp
	if len(result.Indicators.Quote) == 0 || len(timestamps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	quote := result.Indicators.Quote[0]

	var adjCloseData []float64
	if len(result.Indicators.AdjClose) > 0 {
		adjCloseData = result.Indicators.AdjClose[0].AdjClose
	}

	var prices []HistoricalPrice
	for i := range timestamps {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			continue
		}

		// Yahoo sometimes returns null values for holidays and halts
		if quote.Open[i] == 0 && quote.High[i] == 0 && quote.Low[i] == 0 && quote.Close[i] == 0 {
			continue
		}

		adjClose := quote.Close[i]
		if i < len(adjCloseData) && adjCloseData[i] != 0 {
			adjClose = adjCloseData[i]
		}

		volume := int64(0)
		if i < len(quote.Volume) {
			volume = quote.Volume[i]
		}

		prices = append(prices, HistoricalPrice{
			Date:     time.Unix(timestamps[i], 0).UTC(),
			Open:     quote.Open[i],
			High:     quote.High[i],
			Low:      quote.Low[i],
			Close:    quote.Close[i],
			Volume:   volume,
			AdjClose: adjClose,
		})
	}

	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: %s has no rows in range", ErrNotFound, symbol)
	}

	c.log.Info().
		Str("symbol", symbol).
		Time("start", start).
		Time("end", end).
		Int("count", len(prices)).
		Msg("Fetched historical prices")

	return prices, nil
}

// GetCurrentPrice gets the latest market price for a symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Add("interval", "1d")
	params.Add("range", "1d")

	reqURL := c.baseURL + "/v8/finance/chart/" + url.PathEscape(symbol) + "?" + params.Encode()

	result, err := c.fetchChart(ctx, symbol, reqURL)
	if err != nil {
		return 0, err
	}

	if result.Meta.RegularMarketPrice > 0 {
		return result.Meta.RegularMarketPrice, nil
	}

	// Fall back to the last close in the chart data
	if len(result.Indicators.Quote) > 0 {
		closes := result.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] > 0 {
				return closes[i], nil
			}
		}
	}

	return 0, fmt.Errorf("%w: %s has no current price", ErrNotFound, symbol)
}

// fetchChart performs the HTTP call with retry-with-backoff on transient errors.
func (c *Client) fetchChart(ctx context.Context, symbol, reqURL string) (*chartResult, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := time.Duration(1<<uint(attempt-1)) * time.Second // exponential backoff
			c.log.Warn().Err(lastErr).
				Str("symbol", symbol).
				Int("attempt", attempt+1).
				Dur("wait", waitTime).
				Msg("Retrying Yahoo request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(waitTime):
			}
		}

		result, retryable, err := c.fetchChartOnce(ctx, symbol, reqURL)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) fetchChartOnce(ctx context.Context, symbol, reqURL string) (*chartResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers to mimic browser
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to fetch chart data: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, true, fmt.Errorf("%w: %s", ErrRateLimited, symbol)
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("Yahoo Finance API returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("Yahoo Finance API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to parse response: %w", err)
	}

	if parsed.Chart.Error != nil {
		if parsed.Chart.Error.Code == "Not Found" {
			return nil, false, fmt.Errorf("%w: %s (%s)", ErrNotFound, symbol, parsed.Chart.Error.Description)
		}
		return nil, false, fmt.Errorf("Yahoo Finance API error: %s: %s", parsed.Chart.Error.Code, parsed.Chart.Error.Description)
	}

	if len(parsed.Chart.Result) == 0 {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	return &parsed.Chart.Result[0], false, nil
}
