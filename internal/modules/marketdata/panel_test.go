package marketdata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func pt(d int, price float64) SeriesPoint {
	return SeriesPoint{Date: day(d), Price: price, Volume: 100}
}

func TestNewPanel_AlignsAndComputesReturns(t *testing.T) {
	panel, err := NewPanel(
		[]string{"AAPL", "MSFT"},
		map[string][]SeriesPoint{
			"AAPL": {pt(0, 100), pt(1, 110), pt(2, 99)},
			"MSFT": {pt(0, 200), pt(1, 210), pt(2, 220)},
		},
		0,
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL", "MSFT"}, panel.Symbols())
	assert.Equal(t, 3, panel.Len())
	assert.Empty(t, panel.Failed())

	returns := panel.ReturnSeries("AAPL")
	require.Len(t, returns, 3)
	assert.Zero(t, returns[0], "first return row is zero by construction")
	assert.InDelta(t, 0.10, returns[1], 1e-12)
	assert.InDelta(t, -0.10, returns[2], 1e-12)
}

func TestNewPanel_ForwardFillsGaps(t *testing.T) {
	panel, err := NewPanel(
		[]string{"AAPL", "MSFT"},
		map[string][]SeriesPoint{
			"AAPL": {pt(0, 100), pt(2, 120)}, // missing day 1
			"MSFT": {pt(0, 200), pt(1, 210), pt(2, 220)},
		},
		0,
	)
	require.NoError(t, err)
	require.Equal(t, 3, panel.Len())

	prices := panel.PriceSeries("AAPL")
	assert.Equal(t, []float64{100, 100, 120}, prices, "gap should carry the previous price")

	returns := panel.ReturnSeries("AAPL")
	assert.Zero(t, returns[1], "forward-filled day has zero return")
	assert.InDelta(t, 0.20, returns[2], 1e-12)
}

func TestNewPanel_LeadingGapTakesFirstKnownPrice(t *testing.T) {
	panel, err := NewPanel(
		[]string{"AAPL", "MSFT"},
		map[string][]SeriesPoint{
			"AAPL": {pt(1, 150), pt(2, 160)}, // listed later
			"MSFT": {pt(0, 200), pt(1, 210), pt(2, 220)},
		},
		0,
	)
	require.NoError(t, err)

	prices := panel.PriceSeries("AAPL")
	assert.Equal(t, []float64{150, 150, 160}, prices)
	assert.Zero(t, panel.ReturnSeries("AAPL")[1])
}

func TestNewPanel_RecordsEmptySeriesAsFailed(t *testing.T) {
	panel, err := NewPanel(
		[]string{"AAPL", "FAKE"},
		map[string][]SeriesPoint{
			"AAPL": {pt(0, 100), pt(1, 110)},
		},
		0,
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL"}, panel.Symbols())
	require.Contains(t, panel.Failed(), "FAKE")
	assert.True(t, errors.Is(panel.Failed()["FAKE"], ErrDataUnavailable))
}

func TestNewPanel_AllSeriesEmpty(t *testing.T) {
	_, err := NewPanel([]string{"A", "B"}, map[string][]SeriesPoint{}, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
}

func TestNewPanel_NeedsTwoObservations(t *testing.T) {
	_, err := NewPanel(
		[]string{"AAPL"},
		map[string][]SeriesPoint{"AAPL": {pt(0, 100)}},
		0,
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataUnavailable))
}

func TestPanel_RiskFreePerPeriod(t *testing.T) {
	panel, err := NewPanel(
		[]string{"AAPL"},
		map[string][]SeriesPoint{"AAPL": {pt(0, 100), pt(1, 101)}},
		0.04,
	)
	require.NoError(t, err)

	assert.InDelta(t, 0.04, panel.RiskFreeRate(), 1e-12)
	assert.InDelta(t, 0.04/PeriodsPerYear, panel.RiskFreePerPeriod(), 1e-12)
}

func TestPanel_ReturnsMatrixShape(t *testing.T) {
	panel, err := NewPanel(
		[]string{"AAPL", "MSFT"},
		map[string][]SeriesPoint{
			"AAPL": {pt(0, 100), pt(1, 110), pt(2, 120)},
			"MSFT": {pt(0, 200), pt(1, 210), pt(2, 220)},
		},
		0,
	)
	require.NoError(t, err)

	matrix := panel.ReturnsMatrix()
	require.Len(t, matrix, 3)
	for _, row := range matrix {
		assert.Len(t, row, 2)
	}
}

func TestPanel_PricesAt(t *testing.T) {
	panel, err := NewPanel(
		[]string{"AAPL", "MSFT"},
		map[string][]SeriesPoint{
			"AAPL": {pt(0, 100), pt(1, 110)},
			"MSFT": {pt(0, 200), pt(1, 210)},
		},
		0,
	)
	require.NoError(t, err)

	prices := panel.PricesAt(panel.Len() - 1)
	assert.Equal(t, map[string]float64{"AAPL": 110, "MSFT": 210}, prices)
}
