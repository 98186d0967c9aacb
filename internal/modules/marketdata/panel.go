// Package marketdata fetches and normalizes historical price series for the
// optimization engine. It is the Go counterpart of a market-data provider:
// per-symbol series go in, a time-aligned price/return panel comes out.
package marketdata

import (
	"fmt"
	"sort"
	"time"
)

// PeriodsPerYear is the number of trading periods per year for daily data.
const PeriodsPerYear = 252

// DefaultRiskFreeRate is the annualized risk-free rate applied to the cash
// account when no other rate is configured.
const DefaultRiskFreeRate = 0.04

// SeriesPoint is a single (date, price, volume) observation for one symbol.
type SeriesPoint struct {
	Date   time.Time
	Price  float64
	Volume float64
}

// Panel is a time-indexed table of prices, volumes and derived simple
// returns over an aligned trading calendar. It is immutable once built.
type Panel struct {
	symbols  []string    // column order, risky assets only
	dates    []time.Time // ascending
	prices   [][]float64 // [dateIdx][symIdx]
	volumes  [][]float64
	returns  [][]float64 // simple returns, first row is zero
	failed   map[string]error
	riskFree float64 // annualized
}

// NewPanel aligns per-symbol series on the union of their trading dates.
// Gaps inside a series are forward-filled; leading gaps take the first known
// price, so their derived return is zero. Symbols with an empty series are
// recorded in Failed and excluded from the panel. The symbol order of the
// panel follows the order given, not map iteration.
func NewPanel(order []string, series map[string][]SeriesPoint, riskFree float64) (*Panel, error) {
	if riskFree == 0 {
		riskFree = DefaultRiskFreeRate
	}

	failed := make(map[string]error)
	var symbols []string
	for _, sym := range order {
		if len(series[sym]) == 0 {
			failed[sym] = fmt.Errorf("%w: no rows for %s", ErrDataUnavailable, sym)
			continue
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbol has any data", ErrDataUnavailable)
	}

	// Union of all trading dates, truncated to day precision
	dateSet := make(map[time.Time]struct{})
	for _, sym := range symbols {
		for _, pt := range series[sym] {
			dateSet[pt.Date.UTC().Truncate(24*time.Hour)] = struct{}{}
		}
	}
	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	if len(dates) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 trading days, got %d", ErrDataUnavailable, len(dates))
	}

	dateIdx := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		dateIdx[d] = i
	}

	n := len(symbols)
	prices := make([][]float64, len(dates))
	volumes := make([][]float64, len(dates))
	for i := range dates {
		prices[i] = make([]float64, n)
		volumes[i] = make([]float64, n)
	}

	for j, sym := range symbols {
		for _, pt := range series[sym] {
			i := dateIdx[pt.Date.UTC().Truncate(24*time.Hour)]
			prices[i][j] = pt.Price
			volumes[i][j] = pt.Volume
		}
	}

	// Forward-fill gaps; leading gaps take the first known price
	for j := 0; j < n; j++ {
		first := 0.0
		for i := range dates {
			if prices[i][j] > 0 {
				first = prices[i][j]
				break
			}
		}
		last := first
		for i := range dates {
			if prices[i][j] > 0 {
				last = prices[i][j]
			} else {
				prices[i][j] = last
			}
		}
	}

	// Simple returns, first row zero so row counts match the calendar
	returns := make([][]float64, len(dates))
	returns[0] = make([]float64, n)
	for i := 1; i < len(dates); i++ {
		returns[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			prev := prices[i-1][j]
			if prev > 0 {
				returns[i][j] = prices[i][j]/prev - 1
			}
		}
	}

	return &Panel{
		symbols:  symbols,
		dates:    dates,
		prices:   prices,
		volumes:  volumes,
		returns:  returns,
		failed:   failed,
		riskFree: riskFree,
	}, nil
}

// Symbols returns the panel's column order (risky assets only).
func (p *Panel) Symbols() []string {
	return p.symbols
}

// Failed returns the symbols that were requested but had no data, with the
// reason each was excluded.
func (p *Panel) Failed() map[string]error {
	return p.failed
}

// Len returns the number of trading periods in the panel.
func (p *Panel) Len() int {
	return len(p.dates)
}

// TradingCalendar returns the panel's trading dates in ascending order.
func (p *Panel) TradingCalendar() []time.Time {
	return p.dates
}

// PricesAt returns a symbol-keyed map of prices at period index i.
func (p *Panel) PricesAt(i int) map[string]float64 {
	out := make(map[string]float64, len(p.symbols))
	for j, sym := range p.symbols {
		out[sym] = p.prices[i][j]
	}
	return out
}

// PriceSeries returns the full price series for one symbol, or nil if the
// symbol is not in the panel.
func (p *Panel) PriceSeries(symbol string) []float64 {
	for j, sym := range p.symbols {
		if sym == symbol {
			out := make([]float64, len(p.dates))
			for i := range p.dates {
				out[i] = p.prices[i][j]
			}
			return out
		}
	}
	return nil
}

// ReturnSeries returns the simple-return series for one symbol, or nil if
// the symbol is not in the panel.
func (p *Panel) ReturnSeries(symbol string) []float64 {
	for j, sym := range p.symbols {
		if sym == symbol {
			out := make([]float64, len(p.dates))
			for i := range p.dates {
				out[i] = p.returns[i][j]
			}
			return out
		}
	}
	return nil
}

// ReturnsMatrix returns the [period][asset] simple-return matrix for the
// risky assets. The slice is shared; callers must not mutate it.
func (p *Panel) ReturnsMatrix() [][]float64 {
	return p.returns
}

// RiskFreeRate returns the annualized risk-free rate for the cash account.
func (p *Panel) RiskFreeRate() float64 {
	return p.riskFree
}

// RiskFreePerPeriod returns the de-annualized per-period risk-free return.
func (p *Panel) RiskFreePerPeriod() float64 {
	return p.riskFree / PeriodsPerYear
}
