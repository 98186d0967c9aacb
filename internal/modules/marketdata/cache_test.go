package marketdata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tksohan/starline-optimizer/internal/database"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache, err := NewCache(db.Conn())
	require.NoError(t, err)
	return cache
}

func TestCache_StoreAndGet(t *testing.T) {
	cache := testCache(t)

	stored := map[string]float64{"AAPL": 181.5, "MSFT": 402.25}
	require.NoError(t, cache.Store(NamespaceCurrentPrice, "AAPL,MSFT", stored, TTLCurrentPrice))

	var got map[string]float64
	fresh, err := cache.GetIfFresh(NamespaceCurrentPrice, "AAPL,MSFT", &got)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.Equal(t, stored, got)
}

func TestCache_MissingKey(t *testing.T) {
	cache := testCache(t)

	var got map[string]float64
	fresh, err := cache.GetIfFresh(NamespaceCurrentPrice, "nope", &got)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func TestCache_ExpiredEntryIsStale(t *testing.T) {
	cache := testCache(t)

	require.NoError(t, cache.Store(NamespaceCurrentPrice, "AAPL", 181.5, -time.Second))

	var got float64
	fresh, err := cache.GetIfFresh(NamespaceCurrentPrice, "AAPL", &got)
	require.NoError(t, err)
	assert.False(t, fresh, "expired entries must not be served")
}

func TestCache_NamespacesDoNotCollide(t *testing.T) {
	cache := testCache(t)

	require.NoError(t, cache.Store(NamespaceCurrentPrice, "key", 1.0, time.Minute))
	require.NoError(t, cache.Store(NamespaceCovariance, "key", 2.0, time.Minute))

	var price, cov float64
	_, err := cache.GetIfFresh(NamespaceCurrentPrice, "key", &price)
	require.NoError(t, err)
	_, err = cache.GetIfFresh(NamespaceCovariance, "key", &cov)
	require.NoError(t, err)

	assert.Equal(t, 1.0, price)
	assert.Equal(t, 2.0, cov)
}

func TestCache_Cleanup(t *testing.T) {
	cache := testCache(t)

	require.NoError(t, cache.Store(NamespaceCurrentPrice, "stale", 1.0, -time.Second))
	require.NoError(t, cache.Store(NamespaceCurrentPrice, "fresh", 2.0, time.Minute))

	removed, err := cache.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	var got float64
	fresh, err := cache.GetIfFresh(NamespaceCurrentPrice, "fresh", &got)
	require.NoError(t, err)
	assert.True(t, fresh)
}
