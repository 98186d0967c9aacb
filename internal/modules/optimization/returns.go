package optimization

import (
	"fmt"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/tksohan/starline-optimizer/internal/modules/marketdata"
)

// Estimator settings.
const (
	// emaSmoothingPeriod is the window for smoothing daily returns before
	// averaging. Recent observations get more weight than a flat mean
	// without whipsawing on single-day moves.
	emaSmoothingPeriod = 20

	// minObservations is the minimum number of return observations needed
	// for a usable estimate.
	minObservations = 20
)

// estimateExpectedReturns computes per-period (daily) expected returns per
// symbol from the panel's historical returns: an EMA over the return series
// is taken first, then the smoothed series is averaged. The first row of the
// panel's returns is a synthetic zero and is skipped.
func estimateExpectedReturns(panel *marketdata.Panel) ([]float64, error) {
	symbols := panel.Symbols()
	if panel.Len()-1 < minObservations {
		return nil, fmt.Errorf("%w: %d return observations, need at least %d",
			marketdata.ErrDataUnavailable, panel.Len()-1, minObservations)
	}

	mu := make([]float64, len(symbols))
	for j, sym := range symbols {
		series := panel.ReturnSeries(sym)[1:] // drop synthetic first-row zero

		smoothed := talib.Ema(series, emaSmoothingPeriod)
		// talib leaves the warm-up prefix at zero; average the valid tail
		valid := smoothed[emaSmoothingPeriod-1:]
		mu[j] = stat.Mean(valid, nil)
	}
	return mu, nil
}

// estimateCovariance computes the sample covariance matrix of the panel's
// daily returns, in the panel's symbol order.
func estimateCovariance(panel *marketdata.Panel) ([][]float64, error) {
	symbols := panel.Symbols()
	n := len(symbols)
	periods := panel.Len() - 1 // skip synthetic first-row zero
	if periods < minObservations {
		return nil, fmt.Errorf("%w: %d return observations, need at least %d",
			marketdata.ErrDataUnavailable, periods, minObservations)
	}

	returns := panel.ReturnsMatrix()
	data := mat.NewDense(periods, n, nil)
	for i := 0; i < periods; i++ {
		for j := 0; j < n; j++ {
			data.Set(i, j, returns[i+1][j])
		}
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)

	out := make([][]float64, n)
	for i := 0; i < n; i++ {
		out[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			out[i][j] = cov.At(i, j)
		}
	}
	return out, nil
}
