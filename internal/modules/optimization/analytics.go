package optimization

import (
	"fmt"
	"math"

	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
)

// PortfolioReturn is the annualized expected return of the weighted
// portfolio, from per-period expected returns.
func PortfolioReturn(weights, mu []float64) (float64, error) {
	if len(weights) != len(mu) {
		return 0, fmt.Errorf("%w: %d weights vs %d return estimates", ErrInvalidUniverse, len(weights), len(mu))
	}
	perPeriod := 0.0
	for i, w := range weights {
		perPeriod += w * mu[i]
	}
	return math.Pow(1+perPeriod, marketdata.PeriodsPerYear) - 1, nil
}

// PortfolioRisk is the annualized volatility of the weighted portfolio.
func PortfolioRisk(weights []float64, cov [][]float64) (float64, error) {
	if len(weights) != len(cov) {
		return 0, fmt.Errorf("%w: weights do not match covariance dimensions", ErrInvalidUniverse)
	}
	variance := 0.0
	for i, wi := range weights {
		if len(cov[i]) != len(weights) {
			return 0, fmt.Errorf("%w: covariance matrix is not square", ErrInvalidUniverse)
		}
		for j, wj := range weights {
			variance += wi * wj * cov[i][j]
		}
	}
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance * marketdata.PeriodsPerYear), nil
}

// SharpeRatio is the annualized excess return per unit of annualized risk.
// Zero-risk portfolios have an undefined ratio and return 0.
func SharpeRatio(weights, mu []float64, cov [][]float64, riskFreeRate float64) (float64, error) {
	ret, err := PortfolioReturn(weights, mu)
	if err != nil {
		return 0, err
	}
	risk, err := PortfolioRisk(weights, cov)
	if err != nil {
		return 0, err
	}
	if risk == 0 {
		return 0, nil
	}
	return (ret - riskFreeRate) / risk, nil
}
