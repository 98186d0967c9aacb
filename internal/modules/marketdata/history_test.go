package marketdata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tksohan/starline-optimizer/internal/database"
)

func testHistoryRepo(t *testing.T) *HistoryRepository {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "history.db"),
		Profile: database.ProfileStandard,
		Name:    "history",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo, err := NewHistoryRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, err)
	return repo
}

func TestHistoryRepository_UpsertAndGet(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	points := []SeriesPoint{pt(0, 100), pt(1, 110), pt(2, 99)}
	require.NoError(t, repo.Upsert(ctx, "aapl", points))

	got, err := repo.GetSeries(ctx, "AAPL", day(0), day(2))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 100.0, got[0].Price)
	assert.Equal(t, 99.0, got[2].Price)
	assert.True(t, got[0].Date.Before(got[1].Date), "series must be ascending")
}

func TestHistoryRepository_UpsertOverwrites(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "AAPL", []SeriesPoint{pt(0, 100)}))
	require.NoError(t, repo.Upsert(ctx, "AAPL", []SeriesPoint{pt(0, 105)}))

	got, err := repo.GetSeries(ctx, "AAPL", day(0), day(0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 105.0, got[0].Price, "newer sync wins on the same date")
}

func TestHistoryRepository_DateRangeFilter(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "AAPL", []SeriesPoint{pt(0, 100), pt(5, 110), pt(10, 120)}))

	got, err := repo.GetSeries(ctx, "AAPL", day(1), day(9))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 110.0, got[0].Price)
}

func TestHistoryRepository_LatestDate(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	_, ok, err := repo.LatestDate(ctx, "AAPL")
	require.NoError(t, err)
	assert.False(t, ok, "no rows means no latest date")

	require.NoError(t, repo.Upsert(ctx, "AAPL", []SeriesPoint{pt(0, 100), pt(3, 110)}))

	latest, ok, err := repo.LatestDate(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day(3).Format(dateLayout), latest.Format(dateLayout))
}

func TestHistoryRepository_Symbols(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "MSFT", []SeriesPoint{pt(0, 400)}))
	require.NoError(t, repo.Upsert(ctx, "AAPL", []SeriesPoint{pt(0, 180)}))

	symbols, err := repo.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)
}

func TestHistoryProvider_GetPanel(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	// Recent dates so the lookback window covers them.
	now := time.Now().UTC()
	recent := func(daysAgo int, price float64) SeriesPoint {
		return SeriesPoint{Date: now.AddDate(0, 0, -daysAgo), Price: price, Volume: 100}
	}
	require.NoError(t, repo.Upsert(ctx, "AAPL", []SeriesPoint{recent(3, 100), recent(2, 110), recent(1, 120)}))
	require.NoError(t, repo.Upsert(ctx, "MSFT", []SeriesPoint{recent(3, 400), recent(2, 410), recent(1, 420)}))

	provider := NewHistoryProvider(repo, zerolog.Nop())
	panel, err := provider.GetPanel(ctx, []string{"AAPL", "MSFT", "FAKE"}, 30)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, panel.Symbols())
	assert.Contains(t, panel.Failed(), "FAKE")
	assert.Equal(t, 3, panel.Len())
}

func TestHistoryProvider_CurrentPrices(t *testing.T) {
	repo := testHistoryRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, "AAPL", []SeriesPoint{pt(0, 100), pt(1, 115)}))

	provider := NewHistoryProvider(repo, zerolog.Nop())
	prices, err := provider.CurrentPrices(ctx, []string{"AAPL", "FAKE"})
	require.NoError(t, err)

	assert.Equal(t, map[string]float64{"AAPL": 115}, prices)
}

func TestHistoryProvider_NoData(t *testing.T) {
	repo := testHistoryRepo(t)

	provider := NewHistoryProvider(repo, zerolog.Nop())
	_, err := provider.GetPanel(context.Background(), []string{"AAPL"}, 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}
