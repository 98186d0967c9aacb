package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(zerolog.Nop())
	client.SetBaseURL(server.URL)
	return client
}

func chartJSON(timestamps []int64, closes []float64, marketPrice float64) string {
	ts, cl := "", ""
	for i := range timestamps {
		if i > 0 {
			ts += ","
			cl += ","
		}
		ts += fmt.Sprintf("%d", timestamps[i])
		cl += fmt.Sprintf("%g", closes[i])
	}
	return fmt.Sprintf(`{
		"chart": {
			"result": [{
				"meta": {"symbol": "AAPL", "regularMarketPrice": %g},
				"timestamp": [%s],
				"indicators": {
					"quote": [{"open": [%s], "high": [%s], "low": [%s], "close": [%s], "volume": [1000, 2000]}],
					"adjclose": [{"adjclose": [%s]}]
				}
			}],
			"error": null
		}
	}`, marketPrice, ts, cl, cl, cl, cl, cl)
}

func TestGetDailyHistory(t *testing.T) {
	day1 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/AAPL")
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		fmt.Fprint(w, chartJSON([]int64{day1.Unix(), day2.Unix()}, []float64{181.5, 183.25}, 183.25))
	})

	prices, err := client.GetDailyHistory(context.Background(), "AAPL", day1, day2.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, prices, 2)
	assert.Equal(t, day1, prices[0].Date)
	assert.Equal(t, 181.5, prices[0].Close)
	assert.Equal(t, 181.5, prices[0].AdjClose)
	assert.Equal(t, int64(1000), prices[0].Volume)
}

func TestGetDailyHistory_SkipsNullRows(t *testing.T) {
	day1 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	// Day 2 is a zeroed row the way Yahoo encodes halts and holidays.
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON([]int64{day1.Unix(), day2.Unix()}, []float64{181.5, 0}, 0))
	})

	prices, err := client.GetDailyHistory(context.Background(), "AAPL", day1, day2.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, prices, 1)
	assert.Equal(t, 181.5, prices[0].Close)
}

func TestGetDailyHistory_NotFound(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.GetDailyHistory(context.Background(), "NOPE", time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetDailyHistory_APIErrorPayload(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chart": {"result": null, "error": {"code": "Not Found", "description": "No data found"}}}`)
	})

	_, err := client.GetDailyHistory(context.Background(), "NOPE", time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetDailyHistory_RateLimited(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.GetDailyHistory(context.Background(), "AAPL", time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, int32(3), calls.Load(), "429 responses are retried")
}

func TestGetDailyHistory_RetriesServerErrors(t *testing.T) {
	day1 := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	var calls atomic.Int32
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, chartJSON([]int64{day1.Unix(), day2.Unix()}, []float64{181.5, 183.25}, 0))
	})

	prices, err := client.GetDailyHistory(context.Background(), "AAPL", day1, day2.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Len(t, prices, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetCurrentPrice(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON([]int64{time.Now().Unix()}, []float64{180}, 183.25))
	})

	price, err := client.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 183.25, price)
}

func TestGetCurrentPrice_FallsBackToLastClose(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, chartJSON([]int64{time.Now().Unix()}, []float64{180.5}, 0))
	})

	price, err := client.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 180.5, price)
}

func TestGetDailyHistory_ContextCancelled(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway) // always retryable
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetDailyHistory(ctx, "AAPL", time.Now().AddDate(0, 0, -5), time.Now())
	require.Error(t, err)
}
