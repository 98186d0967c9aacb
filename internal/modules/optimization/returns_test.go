package optimization

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
)

func estimatorPanel(t *testing.T, days int) *marketdata.Panel {
	t.Helper()
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	panel, err := marketdata.NewPanel(
		[]string{"AAPL", "MSFT"},
		map[string][]marketdata.SeriesPoint{
			"AAPL": syntheticSeries(start, days, 180, 0.002, 0.005, 0),
			"MSFT": syntheticSeries(start, days, 400, 0.0002, 0.003, 1.1),
		},
		0,
	)
	require.NoError(t, err)
	return panel
}

func TestEstimateExpectedReturns(t *testing.T) {
	panel := estimatorPanel(t, 80)

	mu, err := estimateExpectedReturns(panel)
	require.NoError(t, err)
	require.Len(t, mu, 2)

	// The generator drifts both series upward, so smoothed daily returns
	// should be positive and ordered by drift.
	assert.Greater(t, mu[0], 0.0)
	assert.Greater(t, mu[1], 0.0)
	assert.Greater(t, mu[0], mu[1])
}

func TestEstimateCovariance(t *testing.T) {
	panel := estimatorPanel(t, 80)

	cov, err := estimateCovariance(panel)
	require.NoError(t, err)
	require.Len(t, cov, 2)

	for i := range cov {
		require.Len(t, cov[i], 2)
		assert.Greater(t, cov[i][i], 0.0, "variances must be positive")
	}
	assert.InDelta(t, cov[0][1], cov[1][0], 1e-15, "covariance must be symmetric")
}

func TestEstimators_TooFewObservations(t *testing.T) {
	panel := estimatorPanel(t, 5)

	_, err := estimateExpectedReturns(panel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, marketdata.ErrDataUnavailable))

	_, err = estimateCovariance(panel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, marketdata.ErrDataUnavailable))
}
