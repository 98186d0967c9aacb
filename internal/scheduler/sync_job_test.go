package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tksohan/starline-optimizer/internal/clients/yahoo"
	"github.com/tksohan/starline-optimizer/internal/database"
	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
)

func syncTestRepo(t *testing.T) *marketdata.HistoryRepository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := marketdata.NewHistoryRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, err)
	return repo
}

func syncTestClient(t *testing.T, requests *atomic.Int32, closes map[string][]float64) *yahoo.Client {
	t.Helper()
	now := time.Now().UTC().Truncate(24 * time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests != nil {
			requests.Add(1)
		}
		parts := strings.Split(r.URL.Path, "/")
		symbol := parts[len(parts)-1]
		series, ok := closes[symbol]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		ts := make([]string, len(series))
		cl := make([]string, len(series))
		for i := range series {
			ts[i] = fmt.Sprintf("%d", now.AddDate(0, 0, i-len(series)).Unix())
			cl[i] = fmt.Sprintf("%g", series[i])
		}
		tsJoined := strings.Join(ts, ",")
		clJoined := strings.Join(cl, ",")
		fmt.Fprintf(w, `{
			"chart": {
				"result": [{
					"meta": {"symbol": %q, "regularMarketPrice": %g},
					"timestamp": [%s],
					"indicators": {"quote": [{"open": [%s], "high": [%s], "low": [%s], "close": [%s], "volume": [100, 100, 100]}]}
				}],
				"error": null
			}
		}`, symbol, series[len(series)-1], tsJoined, clJoined, clJoined, clJoined, clJoined)
	}))
	t.Cleanup(server.Close)

	client := yahoo.NewClient(zerolog.Nop())
	client.SetBaseURL(server.URL)
	return client
}

func TestPriceSyncJob_BackfillsConfiguredSymbols(t *testing.T) {
	repo := syncTestRepo(t)
	client := syncTestClient(t, nil, map[string][]float64{
		"AAPL": {100, 110, 121},
		"MSFT": {400, 404, 408},
	})

	job := NewPriceSyncJob(client, repo, []string{"AAPL", "MSFT"}, 30, zerolog.Nop())
	require.NoError(t, job.Run())

	symbols, err := repo.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)

	series, err := repo.GetSeries(context.Background(), "AAPL",
		time.Now().UTC().AddDate(0, 0, -30), time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, series, 3)
}

func TestPriceSyncJob_SkipsCurrentSymbols(t *testing.T) {
	repo := syncTestRepo(t)

	// Today's row is already stored, the job should not hit the API at all.
	today := time.Now().UTC().Truncate(24 * time.Hour)
	require.NoError(t, repo.Upsert(context.Background(), "AAPL",
		[]marketdata.SeriesPoint{{Date: today, Price: 100, Volume: 10}}))

	var requests atomic.Int32
	client := syncTestClient(t, &requests, map[string][]float64{"AAPL": {100}})

	job := NewPriceSyncJob(client, repo, nil, 30, zerolog.Nop())
	require.NoError(t, job.Run())
	assert.Equal(t, int32(0), requests.Load())
}

func TestPriceSyncJob_ToleratesUnknownSymbols(t *testing.T) {
	repo := syncTestRepo(t)
	client := syncTestClient(t, nil, map[string][]float64{"AAPL": {100, 110}})

	job := NewPriceSyncJob(client, repo, []string{"AAPL", "DELISTED"}, 30, zerolog.Nop())
	require.NoError(t, job.Run(), "missing upstream data must not fail the sync")

	symbols, err := repo.Symbols(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, symbols)
}

func TestPriceSyncJob_NothingToSync(t *testing.T) {
	repo := syncTestRepo(t)
	client := syncTestClient(t, nil, nil)

	job := NewPriceSyncJob(client, repo, nil, 30, zerolog.Nop())
	require.NoError(t, job.Run())
}
